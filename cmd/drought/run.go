package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/drought-severity-etl/internal/adapter/localstore"
	"github.com/couchcryptid/drought-severity-etl/internal/config"
	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	"github.com/couchcryptid/drought-severity-etl/internal/observability"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type runOptions struct {
	req            domain.RunRequest
	csvPath        string
	skipIncomplete bool
	reductions     string
	zonesDir       string
	zonesFile      string
	noProgress     bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compute the multi-year drought layer of one block",
		Example: "  drought run --state maharashtra --district pune --block haveli --start-year 2019 --end-year 2022\n" +
			"  drought run --district pune --block haveli --start-year 2022 --end-year 2022 --csv haveli.csv",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if opts.reductions != "" {
				cfg.ReductionsFile = opts.reductions
			}
			if opts.zonesDir != "" {
				cfg.ZonesDir = opts.zonesDir
			}
			if err := opts.req.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.req.State, "state", "", "state name")
	f.StringVar(&opts.req.District, "district", "", "district name")
	f.StringVar(&opts.req.Block, "block", "", "block name")
	f.IntVar(&opts.req.StartYear, "start-year", 0, "first season year")
	f.IntVar(&opts.req.EndYear, "end-year", 0, "last season year")
	f.StringVar(&opts.csvPath, "csv", "", "also write a per-zone, per-year summary CSV to this path")
	f.BoolVar(&opts.skipIncomplete, "skip-incomplete", false, "drop zones missing from any year instead of failing the merge")
	f.StringVar(&opts.reductions, "reductions", "", "reduction fixtures CSV (local backend, overrides REDUCTIONS_FILE)")
	f.StringVar(&opts.zonesDir, "zones-dir", "", "zone boundaries directory (local backend, overrides ZONES_DIR)")
	f.StringVar(&opts.zonesFile, "zones", "", "single zone GeoJSON file used instead of the directory layout")
	f.BoolVar(&opts.noProgress, "no-progress", false, "disable the progress bar")
	for _, name := range []string{"district", "block", "start-year", "end-year"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func run(parent context.Context, cfg *config.Config, opts runOptions) error {
	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	b, err := newBackend(cfg, opts.zonesFile, logger, metrics)
	if err != nil {
		return err
	}
	eng, err := newEngine(cfg, b, mergePolicy(opts.skipIncomplete), logger, metrics)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !opts.noProgress {
		zones, err := eng.zones.LoadZones(ctx, opts.req)
		if err != nil {
			return fmt.Errorf("load zones: %w", err)
		}
		years := opts.req.EndYear - opts.req.StartYear + 1
		bar := progressbar.Default(int64(len(zones)*years), "Computing zones")
		eng.season.OnZoneDone(func() { _ = bar.Add(1) })
		defer func() { _ = bar.Finish() }()
	}

	res, err := eng.runner.Run(ctx, opts.req)
	if err != nil {
		return err
	}

	records := res.Records
	if res.Existing {
		fmt.Fprintf(os.Stderr, "\n%s already exists, nothing recomputed\n", res.Dest)
	} else {
		fmt.Fprintf(os.Stderr, "\nwrote %s: %d zones, %d exports\n", res.Dest, len(records), res.Exports)
	}

	if opts.csvPath != "" {
		if err := localstore.WriteSummaryCSVFile(opts.csvPath, records); err != nil {
			return fmt.Errorf("write summary csv: %w", err)
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", opts.csvPath)
	}
	return nil
}
