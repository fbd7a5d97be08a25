package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/merchant-enrich/internal/config"
	"github.com/sells-group/merchant-enrich/internal/cost"
	"github.com/sells-group/merchant-enrich/internal/model"
	"github.com/sells-group/merchant-enrich/internal/store"
)

// testConfig installs a config with a file checkpoint store under a temp
// dir and returns it.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg = &config.Config{
		Store: store.Config{Backend: store.BackendFile, Dir: dir + "/checkpoints"},
		Job: config.JobConfig{
			Mode:               "basic",
			Workers:            1,
			CheckpointInterval: 50,
			BudgetPerRow:       0.05,
			MappingDir:         dir + "/mappings",
		},
		Pricing: cost.DefaultRates(),
		Server:  config.ServerConfig{Port: 8080, AllowedOrigins: []string{"*"}},
		Log:     config.LogConfig{Level: "info", Format: "json"},
	}
	return cfg
}

func sampleCheckpoint(jobID, input string) *model.Checkpoint {
	return &model.Checkpoint{
		JobID: jobID,
		Settings: model.JobSettings{
			InputPath:    input,
			StartRow:     1,
			EndRow:       4,
			Mode:         model.ModeBasic,
			Mapping:      model.ColumnMapping{Merchant: "Merchant"},
			BudgetPerRow: 0.05,
		},
		Signature:      "sig",
		LastRow:        2,
		CumulativeCost: 0.02,
		Statuses:       map[int]model.RowStatus{1: model.StatusCompleted, 2: model.StatusNotFound},
		Records: []model.MerchantRecord{
			{Row: 1, Merchant: "KFC", CleanedName: "KFC", Website: "https://www.kfc.co.in", CostPerRow: 0.01, Status: model.StatusCompleted},
			{Row: 2, Merchant: "ZZZ", Remarks: "NA", CostPerRow: 0.01, Status: model.StatusNotFound},
		},
		UpdatedAt: time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC),
	}
}

func seedStore(t *testing.T, cps ...*model.Checkpoint) store.CheckpointStore {
	t.Helper()
	st, err := store.Open(context.Background(), cfg.Store)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	for _, cp := range cps {
		require.NoError(t, st.Save(context.Background(), cp.Settings.Key(), cp))
	}
	return st
}
