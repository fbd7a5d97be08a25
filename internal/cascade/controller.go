// Package cascade runs the ordered search fallback for one record: it
// preprocesses the merchant string, issues query variants to the search and
// places capabilities, and stops as soon as the evidence validator is
// satisfied.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/merchant-enrich/internal/evidence"
	"github.com/sells-group/merchant-enrich/internal/model"
	"github.com/sells-group/merchant-enrich/internal/resilience"
)

// Provider names used for breakers and rate limiters.
const (
	ProviderSearch = "search"
	ProviderPlaces = "places"
	ProviderAI     = "ai"
)

// Result is the outcome of running the cascade for one record.
type Result struct {
	Outcome   evidence.Outcome
	Calls     model.CallCounts
	Exhausted bool // every variant was tried without satisfying the validator
	Skipped   bool // blank row, no calls issued
}

// Controller drives the cascade. It is safe for concurrent use across rows.
type Controller struct {
	validator  *evidence.Validator
	search     Searcher
	places     PlaceFinder
	normalizer Normalizer
	resolver   Resolver
	pre        *Preprocessor
	retry      resilience.RetryConfig
	breakers   *resilience.ServiceBreakers
	limiters   map[string]*rate.Limiter
}

// Option configures a Controller.
type Option func(*Controller)

// WithPlaces enables the places capability for enhanced mode.
func WithPlaces(p PlaceFinder) Option {
	return func(c *Controller) { c.places = p }
}

// WithNormalizer enables the advisory AI name suggestion.
func WithNormalizer(n Normalizer) Option {
	return func(c *Controller) { c.normalizer = n }
}

// WithResolver resolves search result redirects before validation.
func WithResolver(r Resolver) Option {
	return func(c *Controller) { c.resolver = r }
}

// WithRetry sets the per-call retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Controller) { c.retry = cfg }
}

// WithBreakers sets the per-provider circuit breakers.
func WithBreakers(sb *resilience.ServiceBreakers) Option {
	return func(c *Controller) { c.breakers = sb }
}

// WithRateLimit caps calls per second to a provider.
func WithRateLimit(provider string, perSecond float64, burst int) Option {
	return func(c *Controller) {
		if perSecond <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiters[provider] = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithAggregators replaces the aggregator token list.
func WithAggregators(tokens []string) Option {
	return func(c *Controller) { c.pre = NewPreprocessor(tokens) }
}

// New creates a Controller.
func New(v *evidence.Validator, s Searcher, opts ...Option) *Controller {
	c := &Controller{
		validator: v,
		search:    s,
		pre:       NewPreprocessor(DefaultAggregators),
		retry:     resilience.DefaultRetryConfig(),
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes the cascade for rec. Provider failures never surface as an
// error; they are recorded in the outcome's evidence.
func (c *Controller) Run(ctx context.Context, rec model.MerchantRecord, mode model.Mode, strict bool) Result {
	calls := model.CallCounts{}
	if rec.Blank() {
		return Result{Calls: calls, Skipped: true}
	}

	log := zap.L().With(zap.Int("row", rec.Row))
	merchant, notes := c.pre.Clean(rec.Merchant)
	q := evidence.QueryFor(rec, merchant)
	q.Strict = strict
	q.Notes = notes

	if merchant == "" {
		q.Notes = append(q.Notes, "Merchant string is blank")
		return Result{Outcome: c.validator.Validate(q, nil), Calls: calls, Exhausted: true}
	}

	if c.normalizer != nil {
		adv, err := invoke(ctx, c, ProviderAI, model.CallAI, calls, merchant, func(ctx context.Context) (string, error) {
			return c.normalizer.Suggest(ctx, merchant)
		})
		switch {
		case err != nil:
			q.Notes = append(q.Notes, failureNote("AI normalization", merchant, err))
		case adv != "":
			q.Advisory = adv
		}
	}

	var (
		cands  []model.CandidateResult
		issued = make(map[string]bool)
		seen   = make(map[string]bool)
		out    evidence.Outcome
	)
	for _, v := range Variants {
		if ctx.Err() != nil {
			break
		}
		text, ok := v.Build(merchant, rec)
		if !ok || issued[strings.ToLower(text)] {
			continue
		}
		issued[strings.ToLower(text)] = true
		log.Debug("cascade: issuing variant", zap.String("variant", v.Name), zap.String("query", text))

		for _, cand := range c.query(ctx, text, mode, rec, calls, &q) {
			key := cand.URL
			if key == "" {
				key = string(cand.Kind) + ":" + strings.ToLower(cand.Title)
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			cands = append(cands, c.resolve(ctx, c.validator.Classify(cand)))
		}

		out = c.validator.Validate(q, cands)
		if out.Satisfied() {
			log.Debug("cascade: satisfied", zap.String("variant", v.Name), zap.Int("calls", calls.Total()))
			return Result{Outcome: out, Calls: calls}
		}
	}
	if len(issued) == 0 {
		out = c.validator.Validate(q, cands)
	}
	return Result{Outcome: out, Calls: calls, Exhausted: true}
}

// query issues one variant to search and, in enhanced mode, to places.
// Failures are appended to the query notes.
func (c *Controller) query(ctx context.Context, text string, mode model.Mode, rec model.MerchantRecord, calls model.CallCounts, q *evidence.Query) []model.CandidateResult {
	var found []model.CandidateResult

	res, err := invoke(ctx, c, ProviderSearch, model.CallSearch, calls, text, func(ctx context.Context) ([]model.CandidateResult, error) {
		return c.search.Search(ctx, text)
	})
	if err != nil {
		q.Notes = append(q.Notes, failureNote("Search", text, err))
	}
	found = append(found, res...)

	if mode == model.ModeEnhanced && c.places != nil {
		hints := Hints{Country: evidence.CountryCode(rec.Country)}
		res, err := invoke(ctx, c, ProviderPlaces, model.CallPlaces, calls, text, func(ctx context.Context) ([]model.CandidateResult, error) {
			return c.places.Lookup(ctx, text, hints)
		})
		if err != nil {
			q.Notes = append(q.Notes, failureNote("Places lookup", text, err))
		}
		found = append(found, res...)
	}
	return found
}

// resolve follows redirects for plain search results. Resolution failures
// keep the original URL.
func (c *Controller) resolve(ctx context.Context, cand model.CandidateResult) model.CandidateResult {
	if c.resolver == nil || cand.Kind != model.SourceSearch || cand.URL == "" {
		return cand
	}
	final, err := c.resolver.Resolve(ctx, cand.URL)
	if err != nil {
		zap.L().Debug("cascade: redirect resolution failed", zap.String("url", cand.URL), zap.Error(err))
		return cand
	}
	if final != "" && final != cand.URL {
		cand.FinalURL = final
	}
	return cand
}

// invoke runs fn under the provider's breaker, limiter and retry policy.
// Every attempt that reaches the provider is counted.
func invoke[T any](ctx context.Context, c *Controller, provider string, kind model.CallKind, calls model.CallCounts, query string, fn func(context.Context) (T, error)) (T, error) {
	cfg := c.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(provider, query)
	}
	lim := c.limiters[provider]
	return resilience.Call(ctx, c.breakers.Get(provider), cfg, func(ctx context.Context) (T, error) {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				var zero T
				return zero, eris.Wrap(err, "cascade: rate limit wait")
			}
		}
		calls.Add(kind, 1)
		return fn(ctx)
	})
}

func failureNote(what, query string, err error) string {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Sprintf("%s skipped for %q: provider circuit open", what, query)
	}
	msg := resilience.Truncate(err.Error(), 120)
	return fmt.Sprintf("%s failed for %q: %s", what, query, msg)
}
