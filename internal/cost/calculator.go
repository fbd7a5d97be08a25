// Package cost prices external calls and tracks spend against a per-row budget.
package cost

import (
	"github.com/sells-group/merchant-enrich/internal/model"
)

// Rates holds per-capability pricing configuration.
type Rates struct {
	SearchPerQuery  float64              `yaml:"search_per_query" mapstructure:"search_per_query"`
	PlacesPerLookup float64              `yaml:"places_per_lookup" mapstructure:"places_per_lookup"`
	Models          map[string]ModelRate `yaml:"models" mapstructure:"models"`
	DefaultModel    string               `yaml:"default_model" mapstructure:"default_model"`
}

// ModelRate is the flat price of one AI normalization call for a model.
type ModelRate struct {
	PerCall float64 `yaml:"per_call" mapstructure:"per_call"`
}

// Table maps each billable call kind to its unit cost for one job.
type Table map[model.CallKind]float64

// Table resolves the unit costs for a mode and AI model. Places lookups are
// free of charge in basic mode because they are never issued there. An
// unknown model falls back to DefaultModel.
func (r Rates) Table(mode model.Mode, modelName string) Table {
	t := Table{
		model.CallSearch: r.SearchPerQuery,
		model.CallAI:     r.modelRate(modelName).PerCall,
	}
	if mode == model.ModeEnhanced {
		t[model.CallPlaces] = r.PlacesPerLookup
	}
	return t
}

func (r Rates) modelRate(name string) ModelRate {
	if rate, ok := r.Models[name]; ok {
		return rate
	}
	return r.Models[r.DefaultModel]
}

// Price returns the cost of the given call counts. Kinds are summed in a
// fixed order so equal counts always produce bit-identical totals.
func (t Table) Price(counts model.CallCounts) float64 {
	var total float64
	for _, kind := range model.CallKinds {
		if n := counts[kind]; n > 0 {
			total += float64(n) * t[kind]
		}
	}
	return total
}

// Estimate projects the cost of a job before it runs, assuming one search
// per row, one AI call when modelName is set, and one places lookup in
// enhanced mode.
func (r Rates) Estimate(rows int, mode model.Mode, modelName string) float64 {
	if rows <= 0 {
		return 0
	}
	counts := model.CallCounts{model.CallSearch: 1, model.CallPlaces: 1}
	if modelName != "" {
		counts[model.CallAI] = 1
	}
	perRow := r.Table(mode, modelName).Price(counts)
	return float64(rows) * perRow
}

// WithinBudget reports whether an estimated total stays within the per-row
// budget for the given number of rows.
func WithinBudget(estimated float64, rows int, budgetPerRow float64) bool {
	if rows <= 0 {
		return true
	}
	return estimated/float64(rows) <= budgetPerRow
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		SearchPerQuery:  0.005,
		PlacesPerLookup: 0.032,
		DefaultModel:    "claude-haiku-4-5-20251001",
		Models: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {PerCall: 0.0006},
			"claude-sonnet-4-5-20250929": {PerCall: 0.0024},
			"claude-opus-4-6":            {PerCall: 0.012},
			"sonar":                      {PerCall: 0.005},
			"sonar-pro":                  {PerCall: 0.009},
		},
	}
}
