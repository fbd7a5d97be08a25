package main

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/merchant-enrich/internal/config"
	"github.com/sells-group/merchant-enrich/internal/model"
	"github.com/sells-group/merchant-enrich/internal/resilience"
	"github.com/sells-group/merchant-enrich/internal/sheet"
)

func writeInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "txns.csv")
	content := "Txn ID,Merchant Name,City,Country\n" +
		"T1,PAYPAL*UBER EATS,San Francisco,US\n" +
		"T2,KFC CONNAUGHT PLACE,New Delhi,IN\n" +
		"T3,,,\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newFlagCmd() *cobra.Command {
	c := &cobra.Command{}
	c.Flags().Float64("budget", 0, "")
	return c
}

func TestBuildSettings_Defaults(t *testing.T) {
	testConfig(t)
	input := writeInput(t)
	table, err := sheet.ReadTable(input, sheet.Options{})
	require.NoError(t, err)

	s, err := buildSettings(newFlagCmd(), table, enrichFlags{input: input})
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(s.InputPath))
	assert.NotEmpty(t, s.InputFingerprint)
	assert.Equal(t, 1, s.StartRow)
	assert.Equal(t, 3, s.EndRow)
	assert.Equal(t, model.ModeBasic, s.Mode)
	assert.InDelta(t, 0.05, s.BudgetPerRow, 0.0001)
	assert.Equal(t, "Merchant Name", s.Mapping.Merchant)
	assert.Equal(t, "City", s.Mapping.City)
	assert.Equal(t, "Country", s.Mapping.Country)
	assert.Equal(t, strings.TrimSuffix(s.InputPath, ".csv")+"_enriched.csv", s.OutputPath)
}

func TestBuildSettings_FlagsOverride(t *testing.T) {
	testConfig(t)
	input := writeInput(t)
	table, err := sheet.ReadTable(input, sheet.Options{})
	require.NoError(t, err)

	cmd := newFlagCmd()
	require.NoError(t, cmd.Flags().Set("budget", "0.2"))
	s, err := buildSettings(cmd, table, enrichFlags{
		input:      input,
		output:     "out.xlsx",
		start:      2,
		end:        2,
		mode:       "Enhanced",
		budget:     0.2,
		strict:     true,
		merchant:   "Txn ID",
		savePreset: "bank-a",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, s.StartRow)
	assert.Equal(t, 2, s.EndRow)
	assert.Equal(t, model.ModeEnhanced, s.Mode)
	assert.InDelta(t, 0.2, s.BudgetPerRow, 0.0001)
	assert.True(t, s.StrictMatch)
	assert.Equal(t, "out.xlsx", s.OutputPath)
	assert.Equal(t, "Txn ID", s.Mapping.Merchant)

	saved, err := sheet.LoadMapping(cfg.Job.MappingDir, "bank-a")
	require.NoError(t, err)
	assert.Equal(t, s.Mapping, saved)
}

func TestBuildSettings_Errors(t *testing.T) {
	testConfig(t)
	input := writeInput(t)
	table, err := sheet.ReadTable(input, sheet.Options{})
	require.NoError(t, err)

	_, err = buildSettings(newFlagCmd(), table, enrichFlags{input: input, mode: "turbo"})
	assert.Error(t, err)

	_, err = buildSettings(newFlagCmd(), table, enrichFlags{input: input, start: 3, end: 2})
	assert.Error(t, err)

	_, err = buildSettings(newFlagCmd(), table, enrichFlags{input: input, preset: "missing"})
	assert.Error(t, err)

	_, err = buildSettings(newFlagCmd(), table, enrichFlags{input: filepath.Join(t.TempDir(), "nope.csv")})
	assert.Error(t, err)
}

func TestResolveMapping(t *testing.T) {
	testConfig(t)
	require.NoError(t, sheet.SaveMapping(cfg.Job.MappingDir, "preset", model.ColumnMapping{Merchant: "Payee"}))

	m, err := resolveMapping(sheet.Table{Header: []string{"Payee"}}, enrichFlags{preset: "preset"})
	require.NoError(t, err)
	assert.Equal(t, "Payee", m.Merchant)

	_, err = resolveMapping(sheet.Table{Header: []string{"Amount", "Date"}}, enrichFlags{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--merchant-col")

	m, err = resolveMapping(sheet.Table{Header: []string{"Amount", "Date"}}, enrichFlags{merchant: "Amount", state: "Date"})
	require.NoError(t, err)
	assert.Equal(t, "Amount", m.Merchant)
	assert.Equal(t, "Date", m.State)
}

func TestBudgetControl_Ask(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		b := &budgetControl{in: bufio.NewReader(strings.NewReader(tt.in)), out: &out}
		assert.Equal(t, tt.want, b.ask(), "input %q", tt.in)
		assert.Contains(t, out.String(), "Continue anyway?")
	}
}

func TestBudgetControl_IgnoresManualPause(t *testing.T) {
	var out bytes.Buffer
	b := &budgetControl{in: bufio.NewReader(strings.NewReader("")), out: &out}
	assert.NotPanics(t, func() { b.Emit(model.Event{Kind: model.EventPaused}) })
	assert.Empty(t, out.String())

	b.Emit(model.Event{Kind: model.EventBudgetWarning, TotalCost: 1.5, Remaining: 3})
	assert.Contains(t, out.String(), "$1.5000")
	assert.True(t, b.overspent)
}

func TestRangeRows(t *testing.T) {
	assert.Equal(t, 10, rangeRows(10, 1, 0))
	assert.Equal(t, 5, rangeRows(10, 6, 0))
	assert.Equal(t, 3, rangeRows(10, 2, 4))
	assert.Equal(t, 10, rangeRows(10, 0, 50))
	assert.Equal(t, 0, rangeRows(10, 8, 3))
}

func TestBuildCascade(t *testing.T) {
	c := &config.Config{
		Search:     config.SearchConfig{Key: "k", BaseURL: "http://127.0.0.1:1", RatePerSec: 5, Burst: 5},
		Places:     config.PlacesConfig{Key: "p", PageSize: 3},
		AI:         config.AIConfig{Provider: config.AIProviderPerplexity, RatePerSec: 1},
		Perplexity: config.PerplexityConfig{Key: "pk", Model: "sonar"},
		Rules:      config.RulesConfig{Aggregators: []string{"PAYPAL"}},
	}
	ctrl, err := buildCascade(c, model.ModeEnhanced, resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig()))
	require.NoError(t, err)
	assert.NotNil(t, ctrl)

	c.Rules.Path = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = buildCascade(c, model.ModeBasic, nil)
	assert.Error(t, err)
}

func TestInitEnrich_ValidatesKeys(t *testing.T) {
	testConfig(t)
	env, err := initEnrich(context.Background(), model.ModeBasic)
	assert.Nil(t, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search.key")

	cfg.Search.Key = "k"
	env, err = initEnrich(context.Background(), model.ModeBasic)
	require.NoError(t, err)
	defer env.Close()
	assert.NotNil(t, env.Cascade)
	assert.NotNil(t, env.Store)
	assert.Contains(t, env.Costs, model.CallSearch)
}

func TestStatusCommand(t *testing.T) {
	testConfig(t)
	seedStore(t, sampleCheckpoint("job-1", "/data/a.csv"), sampleCheckpoint("job-2", "/data/b.csv"))

	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		statusCmd.SetOut(&out)
		statusCmd.SetContext(context.Background())
		err := statusCmd.RunE(statusCmd, args)
		return out.String(), err
	}

	out, err := run()
	require.NoError(t, err)
	assert.Contains(t, out, "JOB ID")
	assert.Contains(t, out, "job-1")
	assert.Contains(t, out, "b.csv")
	assert.Contains(t, out, "2/4")

	out, err = run("job-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Range:      1-4 (4 rows)")
	assert.Contains(t, out, "Completed:  2 (found 1, not found 1)")
	assert.Contains(t, out, "$0.0100 per row")

	_, err = run("nope")
	assert.Error(t, err)

	statusDelete = true
	t.Cleanup(func() { statusDelete = false })
	out, err = run("job-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted checkpoint")

	statusDelete = false
	_, err = run("job-1")
	assert.Error(t, err)
}

func TestDefaultOutputPath(t *testing.T) {
	assert.Equal(t, "/d/txns_enriched.xlsx", defaultOutputPath("/d/txns.xlsx"))
	assert.Equal(t, "/d/txns_enriched.csv", defaultOutputPath("/d/txns.csv"))
}
