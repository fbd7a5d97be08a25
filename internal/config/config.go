package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/sells-group/merchant-enrich/internal/cost"
	"github.com/sells-group/merchant-enrich/internal/fetcher"
	"github.com/sells-group/merchant-enrich/internal/model"
	"github.com/sells-group/merchant-enrich/internal/resilience"
	"github.com/sells-group/merchant-enrich/internal/store"
)

// AI providers.
const (
	AIProviderNone       = "none"
	AIProviderAnthropic  = "anthropic"
	AIProviderPerplexity = "perplexity"
)

// Config holds the full application configuration.
type Config struct {
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Places     PlacesConfig     `yaml:"places" mapstructure:"places"`
	AI         AIConfig         `yaml:"ai" mapstructure:"ai"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Pricing    cost.Rates       `yaml:"pricing" mapstructure:"pricing"`
	Job        JobConfig        `yaml:"job" mapstructure:"job"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Store      store.Config     `yaml:"store" mapstructure:"store"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Logo       LogoConfig       `yaml:"logo" mapstructure:"logo"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Rules      RulesConfig      `yaml:"rules" mapstructure:"rules"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// SearchConfig holds Jina Search settings.
type SearchConfig struct {
	Key        string  `yaml:"key" mapstructure:"key"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst      int     `yaml:"burst" mapstructure:"burst"`
}

// PlacesConfig holds Google Places settings. Only enhanced mode uses them.
type PlacesConfig struct {
	Key        string  `yaml:"key" mapstructure:"key"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	PageSize   int     `yaml:"page_size" mapstructure:"page_size"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst      int     `yaml:"burst" mapstructure:"burst"`
}

// AIConfig selects the advisory name normalizer.
type AIConfig struct {
	Provider   string  `yaml:"provider" mapstructure:"provider"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst      int     `yaml:"burst" mapstructure:"burst"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// JobConfig holds defaults for enrichment jobs. Command flags override them.
type JobConfig struct {
	Mode               string  `yaml:"mode" mapstructure:"mode"`
	Workers            int     `yaml:"workers" mapstructure:"workers"`
	CheckpointInterval int     `yaml:"checkpoint_interval" mapstructure:"checkpoint_interval"`
	KeepCheckpoint     bool    `yaml:"keep_checkpoint" mapstructure:"keep_checkpoint"`
	BudgetPerRow       float64 `yaml:"budget_per_row" mapstructure:"budget_per_row"`
	StrictMatch        bool    `yaml:"strict_match" mapstructure:"strict_match"`
	MappingDir         string  `yaml:"mapping_dir" mapstructure:"mapping_dir"`
}

// RetryConfig holds the per-call retry policy for billable provider calls.
type RetryConfig struct {
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs   int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs       int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	AttemptTimeoutSecs int     `yaml:"attempt_timeout_secs" mapstructure:"attempt_timeout_secs"`
	Multiplier         float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction     float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// Resilience converts the section into a resilience.RetryConfig.
func (r RetryConfig) Resilience() resilience.RetryConfig {
	return resilience.FromRetryConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs,
		r.AttemptTimeoutSecs, r.Multiplier, r.JitterFraction)
}

// CircuitConfig holds per-provider circuit breaker settings.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Resilience converts the section into a resilience.CircuitBreakerConfig.
func (c CircuitConfig) Resilience() resilience.CircuitBreakerConfig {
	return resilience.FromCircuitConfig(c.FailureThreshold, c.ResetTimeoutSecs)
}

// FetchConfig configures the redirect resolver and page fetcher.
type FetchConfig struct {
	UserAgent    string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries   int     `yaml:"max_retries" mapstructure:"max_retries"`
	MaxRedirects int     `yaml:"max_redirects" mapstructure:"max_redirects"`
	HostRate     float64 `yaml:"host_rate" mapstructure:"host_rate"`
	HostBurst    int     `yaml:"host_burst" mapstructure:"host_burst"`
}

// Options converts the section into fetcher options.
func (f FetchConfig) Options() fetcher.HTTPOptions {
	return fetcher.HTTPOptions{
		UserAgent:    f.UserAgent,
		Timeout:      time.Duration(f.TimeoutSecs) * time.Second,
		MaxRetries:   f.MaxRetries,
		MaxRedirects: f.MaxRedirects,
		HostRate:     rate.Limit(f.HostRate),
		HostBurst:    f.HostBurst,
	}
}

// LogoConfig configures the logo scraper.
type LogoConfig struct {
	Dir      string `yaml:"dir" mapstructure:"dir"`
	Fallback string `yaml:"fallback" mapstructure:"fallback"`
	Workers  int    `yaml:"workers" mapstructure:"workers"`
}

// ServerConfig configures the HTTP status server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RulesConfig points at the evidence rule overrides.
type RulesConfig struct {
	// Path is a YAML file layered over the built-in rule tables.
	Path        string   `yaml:"path" mapstructure:"path"`
	Aggregators []string `yaml:"aggregators" mapstructure:"aggregators"`
}

// MonitoringConfig configures job health alerts.
type MonitoringConfig struct {
	WebhookURL        string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	StaleAfterMins    int     `yaml:"stale_after_mins" mapstructure:"stale_after_mins"`
	CostThresholdUSD  float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MERCHANT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Secrets get empty defaults so AutomaticEnv sees the keys.
	for _, key := range []string{"search.key", "places.key", "anthropic.key", "anthropic.base_url", "perplexity.key", "store.dsn", "logo.fallback", "rules.path", "monitoring.webhook_url"} {
		v.SetDefault(key, "")
	}
	v.SetDefault("search.base_url", "https://s.jina.ai")
	v.SetDefault("search.rate_per_sec", 5)
	v.SetDefault("search.burst", 5)
	v.SetDefault("places.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("places.page_size", 5)
	v.SetDefault("places.rate_per_sec", 5)
	v.SetDefault("places.burst", 5)
	v.SetDefault("ai.provider", AIProviderNone)
	v.SetDefault("ai.rate_per_sec", 2)
	v.SetDefault("ai.burst", 2)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 64)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar")
	v.SetDefault("job.mode", string(model.ModeBasic))
	v.SetDefault("job.workers", 1)
	v.SetDefault("job.checkpoint_interval", 50)
	v.SetDefault("job.keep_checkpoint", false)
	v.SetDefault("job.budget_per_row", 0.05)
	v.SetDefault("job.mapping_dir", ".mappings")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 2000)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.attempt_timeout_secs", 20)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("store.backend", store.BackendFile)
	v.SetDefault("store.dir", ".checkpoints")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("fetch.user_agent", "merchant-enrich/1.0")
	v.SetDefault("fetch.timeout_secs", 15)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.max_redirects", 10)
	v.SetDefault("fetch.host_rate", 5)
	v.SetDefault("fetch.host_burst", 5)
	v.SetDefault("logo.dir", "logos")
	v.SetDefault("logo.workers", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.stale_after_mins", 60)
	v.SetDefault("monitoring.cost_threshold_usd", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.Pricing = withDefaultRates(cfg.Pricing)

	return &cfg, nil
}

// withDefaultRates fills unset prices from cost.DefaultRates. Configured
// models are added to the default model table.
func withDefaultRates(r cost.Rates) cost.Rates {
	def := cost.DefaultRates()
	if r.SearchPerQuery == 0 {
		r.SearchPerQuery = def.SearchPerQuery
	}
	if r.PlacesPerLookup == 0 {
		r.PlacesPerLookup = def.PlacesPerLookup
	}
	if r.DefaultModel == "" {
		r.DefaultModel = def.DefaultModel
	}
	for name, rate := range r.Models {
		def.Models[name] = rate
	}
	r.Models = def.Models
	return r
}

// AIModel returns the model name of the configured AI provider, or "" when
// AI normalization is disabled.
func (c *Config) AIModel() string {
	switch c.AI.Provider {
	case AIProviderAnthropic:
		return c.Anthropic.Model
	case AIProviderPerplexity:
		return c.Perplexity.Model
	default:
		return ""
	}
}

// ValidateEnrich checks that the credentials an enrichment run needs in the
// given mode are present.
func (c *Config) ValidateEnrich(mode model.Mode) error {
	var missing []string
	if c.Search.Key == "" {
		missing = append(missing, "search.key")
	}
	if mode == model.ModeEnhanced && c.Places.Key == "" {
		missing = append(missing, "places.key")
	}
	switch c.AI.Provider {
	case AIProviderNone, "":
	case AIProviderAnthropic:
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key")
		}
	case AIProviderPerplexity:
		if c.Perplexity.Key == "" {
			missing = append(missing, "perplexity.key")
		}
	default:
		return eris.Errorf("config: unknown ai.provider %q", c.AI.Provider)
	}
	if len(missing) > 0 {
		return eris.Errorf("config: missing required keys: %s", strings.Join(missing, ", "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
