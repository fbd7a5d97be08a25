package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/merchant-enrich/internal/config"
	"github.com/sells-group/merchant-enrich/internal/model"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{CostThresholdUSD: 100})
	alerts := a.Evaluate(&Snapshot{Jobs: 3, TotalCostUSD: 12})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_StaleJob(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	snap := &Snapshot{
		StaleAfter: time.Hour,
		Stale: []JobHealth{{
			JobID: "j1", Input: "tx.xlsx", LastRow: 40, EndRow: 100,
			UpdatedAt: testNow.Add(-2 * time.Hour),
		}},
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStaleJob, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "row 40 of 100")
	assert.Equal(t, "1h0m0s", alerts[0].Details["stale_after"])
}

func TestAlerter_Evaluate_OverBudget(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	snap := &Snapshot{OverBudget: []JobHealth{{JobID: "j2", AvgCost: 0.2, Budget: 0.05, Completed: 4}}}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertBudgetExceeded, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "$0.2000 per row")
	assert.Contains(t, alerts[0].Message, "$0.0500 budget")
}

func TestAlerter_Evaluate_CostOverrun(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{CostThresholdUSD: 100})
	alerts := a.Evaluate(&Snapshot{Jobs: 7, TotalCostUSD: 250})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCostOverrun, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "$250.00")
}

func TestAlerter_Evaluate_ZeroThresholdDisablesCostAlert(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Empty(t, a.Evaluate(&Snapshot{TotalCostUSD: 1e6}))
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{CostThresholdUSD: 1})
	snap := &Snapshot{
		TotalCostUSD: 5,
		Stale:        []JobHealth{{JobID: "a"}},
		OverBudget:   []JobHealth{{JobID: "b", AvgCost: 1, Budget: 0.1}},
	}

	types := make(map[AlertType]bool)
	for _, al := range a.Evaluate(snap) {
		types[al.Type] = true
	}
	assert.True(t, types[AlertStaleJob])
	assert.True(t, types[AlertBudgetExceeded])
	assert.True(t, types[AlertCostOverrun])
}

func TestFromEvent(t *testing.T) {
	at := testNow
	tests := []struct {
		name string
		ev   model.Event
		want AlertType
		ok   bool
	}{
		{"failed", model.Event{Kind: model.EventFailed, JobID: "j", Err: "store down", At: at}, AlertJobFailed, true},
		{"budget", model.Event{Kind: model.EventBudgetWarning, JobID: "j", TotalCost: 1.5, At: at}, AlertBudgetExceeded, true},
		{"row", model.Event{Kind: model.EventRowCompleted, JobID: "j", At: at}, "", false},
		{"completed", model.Event{Kind: model.EventCompleted, JobID: "j", At: at}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert, ok := FromEvent(tt.ev)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, alert.Type)
			if ok {
				assert.Equal(t, at, alert.Timestamp)
				assert.Equal(t, "j", alert.Details["job_id"])
			}
		})
	}

	alert, _ := FromEvent(tests[0].ev)
	assert.Contains(t, alert.Message, "store down")
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertStaleJob, Severity: "medium", Message: "a"},
		{Type: AlertCostOverrun, Severity: "high", Message: "b"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertStaleJob}}))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertJobFailed}}))
}

func TestAlerter_Emit(t *testing.T) {
	got := make(chan Alert, 4)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		if err := json.NewDecoder(r.Body).Decode(&alert); err == nil {
			got <- alert
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	a.Emit(model.Event{Kind: model.EventRowCompleted, JobID: "j"})
	a.Emit(model.Event{Kind: model.EventFailed, JobID: "j", Err: "boom", At: testNow})

	require.Len(t, got, 1)
	alert := <-got
	assert.Equal(t, AlertJobFailed, alert.Type)
	assert.Contains(t, alert.Message, "boom")
}
