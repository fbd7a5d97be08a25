// Package metrics exposes enrichment job progress to Prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sells-group/merchant-enrich/internal/model"
	"github.com/sells-group/merchant-enrich/internal/resilience"
)

const namespace = "merchant_enrich"

// Recorder turns job events into Prometheus metrics. It implements the
// job event sink interface.
type Recorder struct {
	rows      *prometheus.CounterVec
	events    *prometheus.CounterVec
	cost      prometheus.Counter
	rowCost   prometheus.Histogram
	processed *prometheus.GaugeVec
	remaining *prometheus.GaugeVec
	total     *prometheus.GaugeVec
}

// NewRecorder creates a Recorder and registers its metrics with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Rows committed by status.",
		}, []string{"status"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_events_total",
			Help:      "Job lifecycle events by kind.",
		}, []string{"kind"}),
		cost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Metered provider cost of committed rows.",
		}),
		rowCost: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "row_cost_usd",
			Help:      "Metered provider cost per committed row.",
			Buckets:   []float64{0, 0.005, 0.01, 0.02, 0.05, 0.1, 0.25},
		}),
		processed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_processed_rows",
			Help:      "Rows processed by the current run of a job.",
		}, []string{"job_id"}),
		remaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_remaining_rows",
			Help:      "Rows left in a job's range.",
		}, []string{"job_id"}),
		total: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_cost_usd",
			Help:      "Cumulative metered cost of a job, including resumed runs.",
		}, []string{"job_id"}),
	}
	reg.MustRegister(r.rows, r.events, r.cost, r.rowCost, r.processed, r.remaining, r.total)
	return r
}

// Emit records one job event.
func (r *Recorder) Emit(ev model.Event) {
	r.events.WithLabelValues(string(ev.Kind)).Inc()

	if ev.Kind == model.EventRowCompleted && ev.Record != nil {
		r.rows.WithLabelValues(string(ev.Record.Status)).Inc()
		r.cost.Add(ev.RowCost)
		r.rowCost.Observe(ev.RowCost)
	}
	if ev.JobID == "" {
		return
	}
	r.processed.WithLabelValues(ev.JobID).Set(float64(ev.Processed))
	r.remaining.WithLabelValues(ev.JobID).Set(float64(ev.Remaining))
	r.total.WithLabelValues(ev.JobID).Set(ev.TotalCost)
}

var (
	checkpointRowsDesc = prometheus.NewDesc(
		namespace+"_checkpoint_rows",
		"Rows recorded in stored checkpoints by status.",
		[]string{"job_id", "status"},
		nil,
	)
	checkpointCostDesc = prometheus.NewDesc(
		namespace+"_checkpoint_cost_usd",
		"Cumulative cost recorded in stored checkpoints.",
		[]string{"job_id"},
		nil,
	)
	breakerStateDesc = prometheus.NewDesc(
		namespace+"_circuit_state",
		"Provider circuit breaker state (0 closed, 1 open, 2 half-open).",
		[]string{"provider"},
		nil,
	)
)

// CheckpointLister lists stored checkpoints.
type CheckpointLister interface {
	List(ctx context.Context) ([]*model.Checkpoint, error)
}

// BreakerStates reports provider circuit breaker states.
type BreakerStates interface {
	States() map[string]resilience.CircuitState
}

// Collector reads stored checkpoints, and optionally breaker states, on
// each scrape.
type Collector struct {
	store    CheckpointLister
	breakers BreakerStates
	timeout  time.Duration
}

// NewCollector creates a Collector. breakers may be nil.
func NewCollector(store CheckpointLister, breakers BreakerStates) *Collector {
	return &Collector{store: store, breakers: breakers, timeout: 5 * time.Second}
}

// Describe sends the metric descriptors to the channel.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- checkpointRowsDesc
	ch <- checkpointCostDesc
	ch <- breakerStateDesc
}

// Collect emits checkpoint progress and breaker states.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.breakers != nil {
		for provider, state := range c.breakers.States() {
			ch <- prometheus.MustNewConstMetric(breakerStateDesc, prometheus.GaugeValue, float64(state), provider)
		}
	}
	if c.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	cps, err := c.store.List(ctx)
	if err != nil {
		zap.L().Error("metrics: list checkpoints", zap.Error(err))
		return
	}
	for _, cp := range cps {
		counts := make(map[model.RowStatus]int)
		for _, s := range cp.Statuses {
			counts[s]++
		}
		for status, n := range counts {
			ch <- prometheus.MustNewConstMetric(checkpointRowsDesc, prometheus.GaugeValue, float64(n), cp.JobID, string(status))
		}
		ch <- prometheus.MustNewConstMetric(checkpointCostDesc, prometheus.GaugeValue, cp.CumulativeCost, cp.JobID)
	}
}
