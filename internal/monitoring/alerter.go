package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/merchant-enrich/internal/config"
	"github.com/sells-group/merchant-enrich/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertJobFailed      AlertType = "job_failed"
	AlertBudgetExceeded AlertType = "budget_exceeded"
	AlertStaleJob       AlertType = "stale_job"
	AlertCostOverrun    AlertType = "cost_overrun"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates snapshots and job events and sends alerts via webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	for _, h := range snap.Stale {
		alerts = append(alerts, Alert{
			Type:     AlertStaleJob,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Job %s (%s) stopped at row %d of %d and has not progressed since %s",
				h.JobID, h.Input, h.LastRow, h.EndRow, h.UpdatedAt.Format(time.RFC3339),
			),
			Details: map[string]any{
				"job_id":      h.JobID,
				"last_row":    h.LastRow,
				"end_row":     h.EndRow,
				"stale_after": snap.StaleAfter.String(),
			},
			Timestamp: now,
		})
	}

	for _, h := range snap.OverBudget {
		alerts = append(alerts, Alert{
			Type:     AlertBudgetExceeded,
			Severity: "high",
			Message: fmt.Sprintf(
				"Job %s averages $%.4f per row, over its $%.4f budget",
				h.JobID, h.AvgCost, h.Budget,
			),
			Details: map[string]any{
				"job_id":         h.JobID,
				"avg_cost":       h.AvgCost,
				"budget_per_row": h.Budget,
				"completed":      h.Completed,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CostThresholdUSD > 0 && snap.TotalCostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"Stored jobs cost $%.2f, over the $%.2f threshold",
				snap.TotalCostUSD, a.cfg.CostThresholdUSD,
			),
			Details: map[string]any{
				"cost_usd":      snap.TotalCostUSD,
				"threshold_usd": a.cfg.CostThresholdUSD,
				"jobs":          snap.Jobs,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// FromEvent turns a failed or budget-warning job event into an alert.
func FromEvent(ev model.Event) (Alert, bool) {
	details := map[string]any{
		"job_id":     ev.JobID,
		"processed":  ev.Processed,
		"remaining":  ev.Remaining,
		"total_cost": ev.TotalCost,
	}
	switch ev.Kind {
	case model.EventFailed:
		return Alert{
			Type:      AlertJobFailed,
			Severity:  "high",
			Message:   fmt.Sprintf("Job %s failed: %s", ev.JobID, ev.Err),
			Details:   details,
			Timestamp: ev.At.UTC(),
		}, true
	case model.EventBudgetWarning:
		return Alert{
			Type:      AlertBudgetExceeded,
			Severity:  "high",
			Message:   fmt.Sprintf("Job %s paused: average cost per row exceeds the budget ($%.4f so far)", ev.JobID, ev.TotalCost),
			Details:   details,
			Timestamp: ev.At.UTC(),
		}, true
	default:
		return Alert{}, false
	}
}

// Emit sends an alert for failed and over-budget job events. It implements
// the job event sink interface.
func (a *Alerter) Emit(ev model.Event) {
	alert, ok := FromEvent(ev)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.SendAlerts(ctx, []Alert{alert})
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
