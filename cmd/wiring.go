package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/merchant-enrich/internal/cascade"
	"github.com/sells-group/merchant-enrich/internal/config"
	"github.com/sells-group/merchant-enrich/internal/cost"
	"github.com/sells-group/merchant-enrich/internal/evidence"
	"github.com/sells-group/merchant-enrich/internal/fetcher"
	"github.com/sells-group/merchant-enrich/internal/model"
	"github.com/sells-group/merchant-enrich/internal/resilience"
	"github.com/sells-group/merchant-enrich/internal/store"
	anthropicpkg "github.com/sells-group/merchant-enrich/pkg/anthropic"
	"github.com/sells-group/merchant-enrich/pkg/google"
	"github.com/sells-group/merchant-enrich/pkg/jina"
	"github.com/sells-group/merchant-enrich/pkg/perplexity"
)

// enrichEnv holds the store, cascade, and pricing needed by the enrich
// command.
type enrichEnv struct {
	Store    store.CheckpointStore
	Cascade  *cascade.Controller
	Breakers *resilience.ServiceBreakers
	Costs    cost.Table
}

// Close releases resources held by the environment.
func (e *enrichEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.CheckpointStore, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open checkpoint store")
	}
	return st, nil
}

// initEnrich validates credentials for mode, opens the checkpoint store, and
// builds the cascade. Callers should defer env.Close().
func initEnrich(ctx context.Context, mode model.Mode) (*enrichEnv, error) {
	if err := cfg.ValidateEnrich(mode); err != nil {
		return nil, err
	}

	breakerCfg := cfg.Circuit.Resilience()
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("provider circuit state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	breakers := resilience.NewServiceBreakers(breakerCfg)

	ctrl, err := buildCascade(cfg, mode, breakers)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	return &enrichEnv{
		Store:    st,
		Cascade:  ctrl,
		Breakers: breakers,
		Costs:    cfg.Pricing.Table(mode, cfg.AIModel()),
	}, nil
}

// buildCascade wires the provider clients selected by c into a cascade
// controller.
func buildCascade(c *config.Config, mode model.Mode, breakers *resilience.ServiceBreakers) (*cascade.Controller, error) {
	rules, err := evidence.LoadRules(c.Rules.Path)
	if err != nil {
		return nil, err
	}

	searcher := cascade.JinaSearcher{
		Client: jina.NewClient(c.Search.Key, jina.WithBaseURL(c.Search.BaseURL)),
	}
	opts := []cascade.Option{
		cascade.WithRetry(c.Retry.Resilience()),
		cascade.WithBreakers(breakers),
		cascade.WithResolver(fetcher.NewHTTPFetcher(c.Fetch.Options())),
		cascade.WithRateLimit(cascade.ProviderSearch, c.Search.RatePerSec, c.Search.Burst),
	}
	if len(c.Rules.Aggregators) > 0 {
		opts = append(opts, cascade.WithAggregators(c.Rules.Aggregators))
	}

	if mode == model.ModeEnhanced {
		var gopts []google.Option
		if c.Places.BaseURL != "" {
			gopts = append(gopts, google.WithBaseURL(c.Places.BaseURL))
		}
		opts = append(opts,
			cascade.WithPlaces(cascade.GooglePlaces{
				Client:   google.NewClient(c.Places.Key, gopts...),
				PageSize: c.Places.PageSize,
			}),
			cascade.WithRateLimit(cascade.ProviderPlaces, c.Places.RatePerSec, c.Places.Burst),
		)
		zap.L().Info("google places enabled")
	}

	switch c.AI.Provider {
	case config.AIProviderAnthropic:
		var aopts []anthropicpkg.Option
		if c.Anthropic.BaseURL != "" {
			aopts = append(aopts, anthropicpkg.WithBaseURL(c.Anthropic.BaseURL))
		}
		opts = append(opts, cascade.WithNormalizer(cascade.AnthropicNormalizer{
			Client:    anthropicpkg.NewClient(c.Anthropic.Key, aopts...),
			Model:     c.Anthropic.Model,
			MaxTokens: c.Anthropic.MaxTokens,
		}))
	case config.AIProviderPerplexity:
		opts = append(opts, cascade.WithNormalizer(cascade.PerplexityNormalizer{
			Client: perplexity.NewClient(c.Perplexity.Key,
				perplexity.WithBaseURL(c.Perplexity.BaseURL),
				perplexity.WithModel(c.Perplexity.Model),
			),
			Exclude: rules.DirectoryHosts,
		}))
	}
	if c.AIModel() != "" {
		opts = append(opts, cascade.WithRateLimit(cascade.ProviderAI, c.AI.RatePerSec, c.AI.Burst))
		zap.L().Info("ai name suggestion enabled", zap.String("provider", c.AI.Provider), zap.String("model", c.AIModel()))
	}

	return cascade.New(evidence.NewValidator(rules), searcher, opts...), nil
}
