package main

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/robert-malhotra/reservoir-area/internal/asf"
	"github.com/robert-malhotra/reservoir-area/internal/catalog"
	"github.com/robert-malhotra/reservoir-area/internal/config"
	"github.com/robert-malhotra/reservoir-area/internal/export"
	"github.com/robert-malhotra/reservoir-area/internal/features"
	"github.com/robert-malhotra/reservoir-area/internal/fetch"
	"github.com/robert-malhotra/reservoir-area/internal/pipeline"
	"github.com/robert-malhotra/reservoir-area/internal/reduce"
	"github.com/robert-malhotra/reservoir-area/internal/sdwi"
	"github.com/robert-malhotra/reservoir-area/internal/tiles"
)

// loadFeatures reads the reservoir collection from the configured source.
func loadFeatures(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]features.Feature, error) {
	fc := cfg.Features
	ids := features.IDRange{Min: cfg.Run.IDMin, Max: cfg.Run.IDMax}

	var (
		feats []features.Feature
		err   error
	)
	switch fc.Type {
	case config.FeaturesSQLite:
		src, openErr := features.OpenSQLite(fc.Path, fc.Table, fc.IDField, fc.GeomField)
		if openErr != nil {
			return nil, openErr
		}
		defer src.Close()
		feats, err = src.Load(ctx, ids)
	case config.FeaturesPostGIS:
		src, openErr := features.OpenPostGIS(ctx, fc.DSN, fc.Table, fc.IDField, fc.GeomField)
		if openErr != nil {
			return nil, openErr
		}
		defer src.Close()
		feats, err = src.Load(ctx, ids)
	default:
		feats, err = features.NewFileSource(fc.Path, fc.IDField).Load(ctx, ids)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load features: %w", err)
	}

	logger.Info("loaded features",
		slog.String("source", fc.Type),
		slog.Int("count", len(feats)),
		slog.Int64("id_min", ids.Min),
		slog.Int64("id_max", ids.Max),
	)
	return feats, nil
}

// openSink returns the configured export sink.
func openSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (export.Sink, error) {
	ec := cfg.Export
	if ec.Type == config.ExportMinio {
		sink, err := export.DialMinio(ctx, export.MinioConfig{
			Endpoint:  ec.Endpoint,
			AccessKey: ec.AccessKey,
			SecretKey: ec.SecretKey,
			Bucket:    ec.Bucket,
			UseSSL:    ec.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("exporting to object store", slog.String("endpoint", ec.Endpoint), slog.String("bucket", ec.Bucket))
		return sink, nil
	}
	logger.Info("exporting to directory", slog.String("dir", ec.Dir))
	return export.NewDirSink(ec.Dir), nil
}

// newAssembler wires catalog search, raster reads, classification and
// reduction into one per-feature assembler.
func newAssembler(cfg *config.Config, obs pipeline.Observer, logger *slog.Logger) (*pipeline.Assembler, error) {
	asfClient := asf.NewClient(cfg.ASF.BaseURL, cfg.ASF.Timeout).WithLogger(logger)
	cat := catalog.New(asfClient).WithLogger(logger)
	reader := tiles.NewClient(cfg.Raster.BaseURL, cfg.Raster.Timeout).WithLogger(logger)

	fetcher, err := fetch.New(cat, reader, fetch.Options{
		Bands:           cfg.Proc.Polarizations,
		Dataset:         cfg.ASF.Dataset,
		ProcessingLevel: cfg.ASF.ProcessingLevel,
		BeamMode:        cfg.Proc.Mode,
		ReadScale:       cfg.Proc.ReadScale,
		MaxCloudPercent: cfg.Proc.MaxCloud,
		MinBands:        cfg.Proc.MinBands,
		MaxResults:      cfg.ASF.MaxResults,
	})
	if err != nil {
		return nil, err
	}
	fetcher = fetcher.WithLogger(logger)

	classifier, err := sdwi.NewClassifier(sdwi.Options{
		BandA:          cfg.Proc.Polarizations[0],
		BandB:          cfg.Proc.Polarizations[1],
		SmoothRadius:   cfg.Proc.SmoothRadius,
		WaterThreshold: cfg.Proc.WaterThreshold,
		FloorThreshold: cfg.Proc.FloorThreshold,
	})
	if err != nil {
		return nil, err
	}

	reducer, err := reduce.NewReducer(cfg.Proc.ReduceScale, cfg.Proc.MaxPixels)
	if err != nil {
		return nil, err
	}

	grid, err := cfg.Run.Grid()
	if err != nil {
		return nil, err
	}
	logger.Info("built temporal grid",
		slog.String("start", cfg.Run.Start.String()),
		slog.String("end", cfg.Run.End.String()),
		slog.Int("steps", grid.Len()),
	)

	a, err := pipeline.NewAssembler(fetcher, classifier, reducer, grid,
		semaphore.NewWeighted(cfg.Exec.MaxRequests),
		pipeline.AssemblerOptions{
			BufferRadius:    cfg.Proc.BufferRadius,
			ContextBuffer:   cfg.Proc.ContextBuffer,
			StepConcurrency: cfg.Exec.StepConcurrency,
			MaxAttempts:     cfg.Exec.MaxAttempts,
			FetchTimeout:    cfg.Exec.FetchTimeout,
			RetryBackoff:    cfg.Exec.RetryBackoff,
		})
	if err != nil {
		return nil, err
	}
	return a.WithLogger(logger).WithObserver(obs), nil
}
