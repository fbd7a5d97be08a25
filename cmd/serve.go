package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/merchant-enrich/internal/metrics"
	"github.com/sells-group/merchant-enrich/internal/model"
	"github.com/sells-group/merchant-enrich/internal/monitoring"
	"github.com/sells-group/merchant-enrich/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve health, metrics, and checkpoint status over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			metrics.NewCollector(st, nil),
		)

		if cfg.Monitoring.WebhookURL != "" {
			mon := cfg.Monitoring
			collector := monitoring.NewCollector(st, time.Duration(mon.StaleAfterMins)*time.Minute)
			go monitoring.NewChecker(collector, monitoring.NewAlerter(mon), mon).Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(st, reg, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// checkpointView is the JSON form of a stored checkpoint.
type checkpointView struct {
	JobID          string    `json:"job_id"`
	Input          string    `json:"input"`
	Mode           string    `json:"mode"`
	StartRow       int       `json:"start_row"`
	EndRow         int       `json:"end_row"`
	LastRow        int       `json:"last_row"`
	Completed      int       `json:"completed"`
	Remaining      int       `json:"remaining"`
	CumulativeCost float64   `json:"cumulative_cost"`
	BudgetPerRow   float64   `json:"budget_per_row"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func viewOf(cp *model.Checkpoint) checkpointView {
	return checkpointView{
		JobID:          cp.JobID,
		Input:          filepath.Base(cp.Settings.InputPath),
		Mode:           string(cp.Settings.Mode),
		StartRow:       cp.Settings.StartRow,
		EndRow:         cp.Settings.EndRow,
		LastRow:        cp.LastRow,
		Completed:      cp.Completed(),
		Remaining:      cp.Remaining(),
		CumulativeCost: cp.CumulativeCost,
		BudgetPerRow:   cp.Settings.BudgetPerRow,
		UpdatedAt:      cp.UpdatedAt,
	}
}

// buildRouter wires the HTTP routes. It is split out for testing.
func buildRouter(st store.CheckpointStore, reg *prometheus.Registry, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/checkpoints", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			cps, err := st.List(r.Context())
			if err != nil {
				zap.L().Error("list checkpoints", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list checkpoints failed"})
				return
			}
			views := make([]checkpointView, 0, len(cps))
			for _, cp := range cps {
				views = append(views, viewOf(cp))
			}
			writeJSON(w, http.StatusOK, views)
		})
		r.Get("/{job}", func(w http.ResponseWriter, r *http.Request) {
			jobID := chi.URLParam(r, "job")
			cp, err := store.FindJob(r.Context(), st, jobID)
			if err != nil {
				zap.L().Error("find checkpoint", zap.String("job_id", jobID), zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
				return
			}
			if cp == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
				return
			}
			writeJSON(w, http.StatusOK, viewOf(cp))
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
