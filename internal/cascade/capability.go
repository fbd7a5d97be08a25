package cascade

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/merchant-enrich/internal/model"
	"github.com/sells-group/merchant-enrich/pkg/anthropic"
	"github.com/sells-group/merchant-enrich/pkg/google"
	"github.com/sells-group/merchant-enrich/pkg/jina"
	"github.com/sells-group/merchant-enrich/pkg/perplexity"
)

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string) ([]model.CandidateResult, error)
}

// Hints narrow a places lookup.
type Hints struct {
	Country string
}

// PlaceFinder looks up business listings.
type PlaceFinder interface {
	Lookup(ctx context.Context, query string, hints Hints) ([]model.CandidateResult, error)
}

// Normalizer suggests a clean business name for a raw merchant string. The
// suggestion is advisory only.
type Normalizer interface {
	Suggest(ctx context.Context, raw string) (string, error)
}

// Resolver follows redirects and returns the final URL.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (string, error)
}

// JinaSearcher adapts a Jina client to Searcher.
type JinaSearcher struct {
	Client jina.Client
}

// Search implements Searcher.
func (s JinaSearcher) Search(ctx context.Context, query string) ([]model.CandidateResult, error) {
	resp, err := s.Client.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]model.CandidateResult, 0, len(resp.Data))
	for _, r := range resp.Data {
		if r.URL == "" && r.Title == "" {
			continue
		}
		out = append(out, model.CandidateResult{
			Title:   r.Title,
			Snippet: r.Snippet(),
			URL:     r.URL,
			Kind:    model.SourceSearch,
			Query:   query,
		})
	}
	return out, nil
}

// GooglePlaces adapts a Google Places client to PlaceFinder.
type GooglePlaces struct {
	Client   google.Client
	PageSize int
}

// Lookup implements PlaceFinder.
func (g GooglePlaces) Lookup(ctx context.Context, query string, hints Hints) ([]model.CandidateResult, error) {
	req := google.TextSearchRequest{TextQuery: query, PageSize: g.PageSize}
	if code := strings.TrimSpace(hints.Country); len(code) == 2 {
		req.RegionCode = strings.ToUpper(code)
	}
	resp, err := g.Client.TextSearch(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make([]model.CandidateResult, 0, len(resp.Places))
	for _, p := range resp.Places {
		u := p.WebsiteURI
		if u == "" {
			u = p.GoogleMapsURI
		}
		out = append(out, model.CandidateResult{
			Title:          p.DisplayName.Text,
			URL:            u,
			Kind:           model.SourcePlaces,
			Query:          query,
			Address:        p.FormattedAddress,
			Verified:       p.BusinessStatus == google.StatusOperational,
			BusinessStatus: p.BusinessStatus,
		})
	}
	return out, nil
}

const normalizePrompt = "You clean card-transaction merchant descriptors. " +
	"Reply with only the business or brand name the descriptor refers to, without location, " +
	"store numbers or payment processor prefixes. Reply UNKNOWN if you cannot tell."

// parseSuggestion trims a model reply to a single-line name.
func parseSuggestion(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	line = strings.Trim(strings.TrimSpace(line), `"'.`)
	if strings.EqualFold(line, "unknown") {
		return ""
	}
	return line
}

// AnthropicNormalizer adapts an Anthropic client to Normalizer.
type AnthropicNormalizer struct {
	Client    anthropic.Client
	Model     string
	MaxTokens int64
}

// Suggest implements Normalizer.
func (a AnthropicNormalizer) Suggest(ctx context.Context, raw string) (string, error) {
	maxTokens := a.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 64
	}
	temp := 0.0
	resp, err := a.Client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.Model,
		MaxTokens:   maxTokens,
		System:      normalizePrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: raw}},
		Temperature: &temp,
	})
	if err != nil {
		return "", eris.Wrap(err, "cascade: anthropic suggest")
	}
	return parseSuggestion(resp.Text()), nil
}

// PerplexityNormalizer adapts a Perplexity client to Normalizer. Exclude
// lists hosts kept out of the model's web search grounding.
type PerplexityNormalizer struct {
	Client  perplexity.Client
	Exclude []string
}

// Suggest implements Normalizer.
func (p PerplexityNormalizer) Suggest(ctx context.Context, raw string) (string, error) {
	temp := 0.0
	resp, err := p.Client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: normalizePrompt},
			{Role: "user", Content: raw},
		},
		Temperature:  &temp,
		DomainFilter: perplexity.ExcludeDomains(p.Exclude),
	})
	if err != nil {
		return "", eris.Wrap(err, "cascade: perplexity suggest")
	}
	name := parseSuggestion(resp.Text())
	if name != "" {
		zap.L().Debug("perplexity suggestion",
			zap.String("raw", raw),
			zap.String("name", name),
			zap.Strings("citations", resp.Citations),
		)
	}
	return name, nil
}
