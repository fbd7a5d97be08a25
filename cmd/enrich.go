package main

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/merchant-enrich/internal/compose"
	"github.com/sells-group/merchant-enrich/internal/job"
	"github.com/sells-group/merchant-enrich/internal/metrics"
	"github.com/sells-group/merchant-enrich/internal/model"
	"github.com/sells-group/merchant-enrich/internal/monitoring"
	"github.com/sells-group/merchant-enrich/internal/sheet"
)

// enrichFlags holds the enrich command's flag values.
type enrichFlags struct {
	input       string
	output      string
	sheetName   string
	start       int
	end         int
	mode        string
	budget      float64
	strict      bool
	workers     int
	yes         bool
	preset      string
	savePreset  string
	merchant    string
	address     string
	city        string
	country     string
	state       string
	metricsAddr string
}

var enrichOpts enrichFlags

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich a range of merchant rows from a spreadsheet",
	Long: "Reads an XLSX or CSV file, runs the search cascade for each row in the range, and writes the enriched artifact. " +
		"Progress is checkpointed; rerunning the same command resumes where it stopped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		table, err := sheet.ReadTable(enrichOpts.input, sheet.Options{SheetName: enrichOpts.sheetName})
		if err != nil {
			return err
		}
		settings, err := buildSettings(cmd, table, enrichOpts)
		if err != nil {
			return err
		}
		input, err := sheet.Records(table, settings)
		if err != nil {
			return err
		}

		env, err := initEnrich(ctx, settings.Mode)
		if err != nil {
			return err
		}
		defer env.Close()

		composer := compose.New(sheet.PassThroughHeader(table, settings.Mapping))
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewCollector(env.Store, env.Breakers))
		recorder := metrics.NewRecorder(reg)
		if enrichOpts.metricsAddr != "" {
			srv := serveMetrics(enrichOpts.metricsAddr, reg)
			defer srv.Close() //nolint:errcheck
		}

		ctl := &budgetControl{in: bufio.NewReader(cmd.InOrStdin()), out: cmd.ErrOrStderr(), autoConfirm: enrichOpts.yes}
		workers := enrichOpts.workers
		if workers == 0 {
			workers = cfg.Job.Workers
		}
		sinks := job.Sinks{recorder, progressSink(cmd.ErrOrStderr()), ctl}
		if cfg.Monitoring.WebhookURL != "" {
			sinks = append(sinks, monitoring.NewAlerter(cfg.Monitoring))
		}
		j, err := job.New(settings, input, job.Env{
			Cascade:            env.Cascade,
			Store:              env.Store,
			Costs:              env.Costs,
			Composer:           composer,
			Sink:               sinks,
			Workers:            workers,
			CheckpointInterval: cfg.Job.CheckpointInterval,
			KeepCheckpoint:     cfg.Job.KeepCheckpoint,
		})
		if err != nil {
			return err
		}
		ctl.attach(j)

		summary, runErr := j.Run(ctx)

		// Partial runs still produce an artifact for the rows done so far.
		if err := sheet.WriteTable(settings.OutputPath, composer.Artifact(summary.Records)); err != nil {
			if runErr != nil {
				zap.L().Error("write artifact failed", zap.Error(err))
				return runErr
			}
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Job %s: %s\n", summary.JobID, summary.State)
		fmt.Fprintf(out, "  rows %d-%d, processed this run: %d (resumed: %v)\n", settings.StartRow, settings.EndRow, summary.Processed, summary.Resumed)
		fmt.Fprintf(out, "  found: %d, not found: %d, last row: %d\n", summary.Completed, summary.NotFound, summary.LastRow)
		fmt.Fprintf(out, "  total cost: $%s\n", compose.FormatCost(summary.TotalCost))
		fmt.Fprintf(out, "  output: %s\n", settings.OutputPath)
		return runErr
	},
}

// buildSettings resolves the job settings from flags, config defaults, and
// the input table.
func buildSettings(cmd *cobra.Command, table sheet.Table, f enrichFlags) (model.JobSettings, error) {
	abs, err := filepath.Abs(f.input)
	if err != nil {
		return model.JobSettings{}, eris.Wrap(err, "resolve input path")
	}
	fingerprint, err := sheet.Fingerprint(abs)
	if err != nil {
		return model.JobSettings{}, err
	}

	modeName := f.mode
	if modeName == "" {
		modeName = cfg.Job.Mode
	}
	mode, err := model.ParseMode(modeName)
	if err != nil {
		return model.JobSettings{}, err
	}

	mapping, err := resolveMapping(table, f)
	if err != nil {
		return model.JobSettings{}, err
	}
	if f.savePreset != "" {
		if err := sheet.SaveMapping(cfg.Job.MappingDir, f.savePreset, mapping); err != nil {
			return model.JobSettings{}, err
		}
	}

	start, end := f.start, f.end
	if start == 0 {
		start = 1
	}
	if end == 0 {
		end = len(table.Rows)
	}

	budget := cfg.Job.BudgetPerRow
	if cmd.Flags().Changed("budget") {
		budget = f.budget
	}

	output := f.output
	if output == "" {
		output = defaultOutputPath(abs)
	}

	s := model.JobSettings{
		InputPath:        abs,
		OutputPath:       output,
		InputFingerprint: fingerprint,
		StartRow:         start,
		EndRow:           end,
		Mapping:          mapping,
		Mode:             mode,
		BudgetPerRow:     budget,
		Model:            cfg.AIModel(),
		StrictMatch:      f.strict || cfg.Job.StrictMatch,
	}
	return s, s.Validate()
}

// resolveMapping picks a saved preset, or guesses from the header and
// applies explicit column flags on top.
func resolveMapping(table sheet.Table, f enrichFlags) (model.ColumnMapping, error) {
	if f.preset != "" {
		return sheet.LoadMapping(cfg.Job.MappingDir, f.preset)
	}
	m := sheet.GuessMapping(table.Header)
	for _, o := range []struct {
		dst *string
		val string
	}{
		{&m.Merchant, f.merchant},
		{&m.Address, f.address},
		{&m.City, f.city},
		{&m.Country, f.country},
		{&m.State, f.state},
	} {
		if o.val != "" {
			*o.dst = o.val
		}
	}
	if m.Merchant == "" {
		return m, eris.New("no merchant column found; pass --merchant-col")
	}
	return m, nil
}

func defaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_enriched" + ext
}

// progressSink logs row progress and lifecycle events.
func progressSink(w io.Writer) job.SinkFunc {
	return func(ev model.Event) {
		switch ev.Kind {
		case model.EventRowCompleted:
			name := ""
			if ev.Record != nil {
				name = ev.Record.Merchant
			}
			zap.L().Info("row completed",
				zap.String("job_id", ev.JobID),
				zap.Int("row", ev.Row),
				zap.String("merchant", name),
				zap.Float64("row_cost", ev.RowCost),
				zap.Int("remaining", ev.Remaining),
			)
		case model.EventFailed:
			fmt.Fprintf(w, "job failed: %s\n", ev.Err)
		default:
			zap.L().Info("job event",
				zap.String("job_id", ev.JobID),
				zap.String("kind", string(ev.Kind)),
				zap.String("state", ev.State),
				zap.Float64("total_cost", ev.TotalCost),
			)
		}
	}
}

// budgetControl asks the operator to confirm continuing once the average
// cost per row exceeds the budget.
type budgetControl struct {
	in          *bufio.Reader
	out         io.Writer
	autoConfirm bool

	mu        sync.Mutex
	job       *job.Job
	overspent bool
}

func (b *budgetControl) attach(j *job.Job) {
	b.mu.Lock()
	b.job = j
	b.mu.Unlock()
}

// Emit implements job.EventSink.
func (b *budgetControl) Emit(ev model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch ev.Kind {
	case model.EventBudgetWarning:
		b.overspent = true
		fmt.Fprintf(b.out, "Average cost per row exceeds the budget (total so far $%s, %d rows left).\n",
			compose.FormatCost(ev.TotalCost), ev.Remaining)
	case model.EventPaused:
		if !b.overspent || b.job == nil {
			return
		}
		b.overspent = false
		if b.autoConfirm || b.ask() {
			if err := b.job.Resume(true); err != nil {
				zap.L().Error("resume after budget confirmation", zap.Error(err))
			}
			return
		}
		if err := b.job.Stop(); err != nil {
			zap.L().Error("stop after budget refusal", zap.Error(err))
		}
	}
}

func (b *budgetControl) ask() bool {
	fmt.Fprint(b.out, "Continue anyway? [y/N] ")
	line, err := b.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// serveMetrics exposes reg on addr in the background.
func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Error("metrics server", zap.Error(err))
		}
	}()
	return srv
}

func init() {
	f := enrichCmd.Flags()
	f.StringVar(&enrichOpts.input, "input", "", "input XLSX or CSV file")
	f.StringVar(&enrichOpts.output, "output", "", "output artifact path (default <input>_enriched.<ext>)")
	f.StringVar(&enrichOpts.sheetName, "sheet", "", "XLSX sheet name (default first sheet)")
	f.IntVar(&enrichOpts.start, "start", 1, "first data row to process (1-based, header excluded)")
	f.IntVar(&enrichOpts.end, "end", 0, "last data row to process (default last row)")
	f.StringVar(&enrichOpts.mode, "mode", "", "basic or enhanced (default from config)")
	f.Float64Var(&enrichOpts.budget, "budget", 0, "budget per row in USD (default from config)")
	f.BoolVar(&enrichOpts.strict, "strict", false, "reject evidence from aggregator and review sites")
	f.IntVar(&enrichOpts.workers, "workers", 0, "concurrent rows (default from config)")
	f.BoolVarP(&enrichOpts.yes, "yes", "y", false, "continue without asking when the budget is exceeded")
	f.StringVar(&enrichOpts.preset, "preset", "", "saved column mapping preset")
	f.StringVar(&enrichOpts.savePreset, "save-preset", "", "save the resolved column mapping under this name")
	f.StringVar(&enrichOpts.merchant, "merchant-col", "", "merchant descriptor column")
	f.StringVar(&enrichOpts.address, "address-col", "", "address column")
	f.StringVar(&enrichOpts.city, "city-col", "", "city column")
	f.StringVar(&enrichOpts.country, "country-col", "", "country column")
	f.StringVar(&enrichOpts.state, "state-col", "", "state column")
	f.StringVar(&enrichOpts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	_ = enrichCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(enrichCmd)
}
