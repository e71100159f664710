package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/robert-malhotra/reservoir-area/internal/api"
	"github.com/robert-malhotra/reservoir-area/internal/journal"
	"github.com/robert-malhotra/reservoir-area/internal/metrics"
	"github.com/robert-malhotra/reservoir-area/internal/pipeline"
)

const shutdownTimeout = 10 * time.Second

func runCmd(a *app) *cobra.Command {
	var (
		startOffset  int
		resume       bool
		showProgress bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process partitions and export one table per partition",
		Long: `Run processes the partitions of the reservoir collection in order, starting
at the configured offset. After an interruption, rerun with --start-offset set
to the reported next offset, or with --resume to read it from the journal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			offset := a.cfg.Run.StartOffset
			if cmd.Flags().Changed("start-offset") {
				offset = startOffset
			}
			return a.run(cmd.Context(), offset, resume, showProgress)
		},
	}
	cmd.Flags().IntVar(&startOffset, "start-offset", 0, "first partition to process (overrides RUN_START_OFFSET)")
	cmd.Flags().BoolVar(&resume, "resume", false, "start at the first partition the journal has not exported")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "show a partition progress bar")
	return cmd
}

func (a *app) run(ctx context.Context, offset int, resume, showProgress bool) error {
	cfg, logger := a.cfg, a.logger

	feats, err := loadFeatures(ctx, cfg, logger)
	if err != nil {
		return err
	}
	plan, err := cfg.Run.Plan(len(feats))
	if err != nil {
		return err
	}

	var jrnl *journal.Journal
	if cfg.JournalPath != "" {
		jrnl, err = journal.Open(cfg.JournalPath, cfg.Run.OutputFolder, cfg.Run.OutputLabel)
		if err != nil {
			return err
		}
		defer jrnl.Close()
	}

	if resume {
		if jrnl == nil {
			return fmt.Errorf("--resume requires JOURNAL_PATH")
		}
		next, err := jrnl.ResumeOffset(ctx)
		switch {
		case errors.Is(err, journal.ErrNoRuns):
			logger.Info("journal is empty, starting from the configured offset", slog.Int("offset", offset))
		case err != nil:
			return err
		default:
			offset = next
		}
	}

	sink, err := openSink(ctx, cfg, logger)
	if err != nil {
		return err
	}

	m := metrics.New()
	assembler, err := newAssembler(cfg, m, logger)
	if err != nil {
		return err
	}

	driver, err := pipeline.NewDriver(assembler, sink, pipeline.DriverOptions{
		Label:              cfg.Run.OutputLabel,
		Folder:             cfg.Run.OutputFolder,
		FeatureConcurrency: cfg.Exec.FeatureConcurrency,
	})
	if err != nil {
		return err
	}
	driver = driver.WithLogger(logger).WithObserver(m)
	if jrnl != nil {
		driver = driver.WithRecorder(jrnl)
	}

	if showProgress && offset < plan.FileNumbers {
		bar := progressbar.NewOptions(plan.FileNumbers-offset,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("partitions"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetWidth(40),
		)
		driver = driver.WithProgress(func(pipeline.PartitionReport) {
			_ = bar.Add(1)
		})
	}

	if cfg.StatusAddr != "" {
		var history api.History
		if jrnl != nil {
			history = jrnl
		}
		srv := api.NewServer(cfg.StatusAddr, api.NewHandlers(driver, history, m.Handler(), logger), logger)
		serverErr, err := srv.Start()
		if err != nil {
			return err
		}
		go func() {
			for err := range serverErr {
				logger.Error("status server error", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("status server shutdown failed", slog.String("error", err.Error()))
			}
		}()
	}

	logger.Info("exporting tables", slog.String("folder", cfg.Run.OutputFolder), slog.String("label", cfg.Run.OutputLabel))

	report, err := driver.Run(ctx, feats, plan, offset)
	if report != nil {
		logger.Info("run summary",
			slog.String("run_id", report.RunID),
			slog.Any("completed", report.Completed),
			slog.Any("incomplete", report.Incomplete),
			slog.Int("next_offset", report.NextOffset),
		)
	}
	if err != nil {
		if report != nil {
			return fmt.Errorf("run stopped, resume with --start-offset %d: %w", report.NextOffset, err)
		}
		return err
	}
	return nil
}
