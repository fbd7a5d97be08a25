package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/merchant-enrich/internal/fetcher"
	"github.com/sells-group/merchant-enrich/internal/logo"
	"github.com/sells-group/merchant-enrich/internal/sheet"
)

var (
	logosInput    string
	logosSheet    string
	logosDir      string
	logosFallback string
	logosWorkers  int
)

var logosCmd = &cobra.Command{
	Use:   "logos",
	Short: "Download logos for an enriched artifact",
	Long:  "Reads an enriched XLSX or CSV file and saves one logo per distinct Logo Filename, scraped from the row's website or social page, with a placeholder fallback.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		table, err := sheet.ReadTable(logosInput, sheet.Options{SheetName: logosSheet})
		if err != nil {
			return err
		}
		targets, err := logo.TargetsFromTable(table)
		if err != nil {
			return err
		}

		opts := logo.Options{Dir: cfg.Logo.Dir, Fallback: cfg.Logo.Fallback, Workers: cfg.Logo.Workers}
		if logosDir != "" {
			opts.Dir = logosDir
		}
		if logosFallback != "" {
			opts.Fallback = logosFallback
		}
		if logosWorkers > 0 {
			opts.Workers = logosWorkers
		}

		scraper := logo.New(fetcher.NewHTTPFetcher(cfg.Fetch.Options()), opts)
		results, err := scraper.Run(ctx, targets, func(done, total int, name string) {
			zap.L().Info("logo done", zap.Int("done", done), zap.Int("total", total), zap.String("name", name))
		})
		if err != nil {
			return err
		}

		scraped := 0
		for _, r := range results {
			if r.Status == logo.StatusScraped {
				scraped++
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logos: %d scraped, %d fallback, report %s\n",
			scraped, len(results)-scraped, filepath.Join(opts.Dir, logo.ReportName))
		return nil
	},
}

func init() {
	f := logosCmd.Flags()
	f.StringVar(&logosInput, "input", "", "enriched XLSX or CSV file")
	f.StringVar(&logosSheet, "sheet", "", "XLSX sheet name")
	f.StringVar(&logosDir, "dir", "", "output directory (default from config)")
	f.StringVar(&logosFallback, "fallback", "", "fallback image file (default generated placeholder)")
	f.IntVar(&logosWorkers, "workers", 0, "concurrent downloads (default from config)")
	_ = logosCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(logosCmd)
}
