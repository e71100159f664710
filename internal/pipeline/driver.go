package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/robert-malhotra/reservoir-area/internal/export"
	"github.com/robert-malhotra/reservoir-area/internal/features"
)

// FeatureAssembler computes one feature's series.
type FeatureAssembler interface {
	Assemble(ctx context.Context, feature features.Feature) (*FeatureResult, error)
}

// DriverOptions name the exported tables and bound feature concurrency.
type DriverOptions struct {
	Label              string
	Folder             string
	FeatureConcurrency int
}

// Status is a point-in-time view of a run.
type Status struct {
	RunID      string            `json:"run_id,omitempty"`
	Running    bool              `json:"running"`
	StartedAt  time.Time         `json:"started_at,omitempty"`
	Plan       Plan              `json:"plan"`
	Current    int               `json:"current"`
	NextOffset int               `json:"next_offset"`
	Partitions []PartitionReport `json:"partitions"`
}

// Driver runs partitions in order, exporting one table per partition.
type Driver struct {
	assembler FeatureAssembler
	sink      export.Sink
	opts      DriverOptions
	recorder  Recorder
	observer  Observer
	progress  func(PartitionReport)
	logger    *slog.Logger

	mu     sync.RWMutex
	status Status
}

// NewDriver validates opts.
func NewDriver(assembler FeatureAssembler, sink export.Sink, opts DriverOptions) (*Driver, error) {
	if assembler == nil || sink == nil {
		return nil, fmt.Errorf("assembler and sink are required")
	}
	if opts.Label == "" {
		return nil, fmt.Errorf("output label is required")
	}
	if opts.FeatureConcurrency < 1 {
		opts.FeatureConcurrency = 1
	}
	return &Driver{
		assembler: assembler,
		sink:      sink,
		opts:      opts,
		observer:  nopObserver{},
		logger:    slog.Default(),
	}, nil
}

// WithLogger sets a custom logger for the driver
func (d *Driver) WithLogger(logger *slog.Logger) *Driver {
	d.logger = logger
	return d
}

// WithRecorder persists each partition outcome.
func (d *Driver) WithRecorder(r Recorder) *Driver {
	d.recorder = r
	return d
}

// WithObserver attaches an instrumentation observer.
func (d *Driver) WithObserver(o Observer) *Driver {
	if o != nil {
		d.observer = o
	}
	return d
}

// WithProgress registers a callback invoked after each partition.
func (d *Driver) WithProgress(fn func(PartitionReport)) *Driver {
	d.progress = fn
	return d
}

// Snapshot returns the current run status.
func (d *Driver) Snapshot() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s := d.status
	s.Partitions = append([]PartitionReport(nil), d.status.Partitions...)
	return s
}

// Run processes partitions startOffset through plan.FileNumbers-1. It stops
// at the first export failure or on cancellation; in both cases the report's
// NextOffset names the partition to resume from.
func (d *Driver) Run(ctx context.Context, feats []features.Feature, plan Plan, startOffset int) (*RunReport, error) {
	if plan.Size != len(feats) {
		return nil, fmt.Errorf("%w: plan covers %d features, got %d", ErrInvalidPlan, plan.Size, len(feats))
	}
	if startOffset < 0 || startOffset > plan.FileNumbers {
		return nil, fmt.Errorf("%w: start offset %d outside [0, %d]", ErrInvalidPlan, startOffset, plan.FileNumbers)
	}

	report := &RunReport{
		RunID:       uuid.NewString(),
		Plan:        plan,
		StartOffset: startOffset,
		Partitions:  []PartitionReport{},
		Completed:   []int{},
		Incomplete:  []int{},
		NextOffset:  startOffset,
	}
	d.begin(report)
	defer d.end()

	logger := d.logger.With(slog.String("run_id", report.RunID))
	logger.InfoContext(ctx, "run started",
		slog.Int("features", plan.Size),
		slog.Int("partition_size", plan.PartitionSize),
		slog.Int("file_numbers", plan.FileNumbers),
		slog.Int("start_offset", startOffset),
	)

	for sign := startOffset; sign < plan.FileNumbers; sign++ {
		d.setCurrent(sign)
		lo, hi := plan.Partition(sign)

		part, err := d.runPartition(ctx, report.RunID, sign, feats[lo:hi])
		if err != nil {
			report.NextOffset = sign
			if errors.Is(err, ErrPartitionExport) {
				report.Partitions = append(report.Partitions, part)
				report.Incomplete = append(report.Incomplete, sign)
				d.finishPartition(ctx, report.RunID, part, sign)
			}
			logger.ErrorContext(ctx, "run stopped",
				slog.Int("partition", sign),
				slog.String("error", err.Error()),
			)
			return report, err
		}

		report.Partitions = append(report.Partitions, part)
		if part.Complete() {
			report.Completed = append(report.Completed, sign)
		} else {
			report.Incomplete = append(report.Incomplete, sign)
		}
		report.NextOffset = sign + 1
		d.finishPartition(ctx, report.RunID, part, sign+1)
	}

	logger.InfoContext(ctx, "run finished",
		slog.Int("completed", len(report.Completed)),
		slog.Int("incomplete", len(report.Incomplete)),
	)
	return report, nil
}

// runPartition assembles every feature and exports the successes. A failed
// feature does not stop its siblings; cancellation exports nothing.
func (d *Driver) runPartition(ctx context.Context, runID string, sign int, feats []features.Feature) (PartitionReport, error) {
	begin := time.Now()
	part := PartitionReport{Index: sign, Table: TableName(sign, d.opts.Label), Features: len(feats)}

	results := make([]*FeatureResult, len(feats))
	errs := make([]error, len(feats))

	var g errgroup.Group
	g.SetLimit(d.opts.FeatureConcurrency)
	for i, f := range feats {
		g.Go(func() error {
			if ctx.Err() != nil {
				errs[i] = ctx.Err()
				return nil
			}
			featureBegin := time.Now()
			results[i], errs[i] = d.assembler.Assemble(ctx, f)
			d.observer.FeatureDone(time.Since(featureBegin), errs[i])
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return part, err
	}

	rows := make([]export.Row, 0, len(feats))
	for i, f := range feats {
		if errs[i] != nil {
			part.Failed++
			part.FailedIDs = append(part.FailedIDs, f.ID)
			d.logger.WarnContext(ctx, "feature failed",
				slog.String("run_id", runID),
				slog.Int("partition", sign),
				slog.Int64("feature_id", f.ID),
				slog.String("error", errs[i].Error()),
			)
			continue
		}
		part.Succeeded++
		rows = append(rows, results[i].Row())
	}

	table := export.Table{Name: part.Table, Folder: d.opts.Folder, Rows: rows}
	if err := d.sink.Export(ctx, table); err != nil {
		part.Error = err.Error()
		part.Duration = time.Since(begin)
		return part, fmt.Errorf("%w: partition %d: %w", ErrPartitionExport, sign, err)
	}
	part.Exported = true
	part.Duration = time.Since(begin)

	d.logger.InfoContext(ctx, "partition exported",
		slog.String("run_id", runID),
		slog.Int("partition", sign),
		slog.String("table", part.Table),
		slog.Int("succeeded", part.Succeeded),
		slog.Int("failed", part.Failed),
		slog.Duration("duration", part.Duration),
	)
	return part, nil
}

func (d *Driver) finishPartition(ctx context.Context, runID string, part PartitionReport, next int) {
	d.mu.Lock()
	d.status.Partitions = append(d.status.Partitions, part)
	d.status.NextOffset = next
	d.mu.Unlock()

	d.observer.PartitionDone(part)
	if d.recorder != nil {
		if err := d.recorder.RecordPartition(ctx, runID, part); err != nil {
			d.logger.ErrorContext(ctx, "failed to record partition",
				slog.Int("partition", part.Index),
				slog.String("error", err.Error()),
			)
		}
	}
	if d.progress != nil {
		d.progress(part)
	}
}

func (d *Driver) begin(report *RunReport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = Status{
		RunID:      report.RunID,
		Running:    true,
		StartedAt:  time.Now().UTC(),
		Plan:       report.Plan,
		Current:    report.StartOffset,
		NextOffset: report.StartOffset,
	}
}

func (d *Driver) setCurrent(sign int) {
	d.mu.Lock()
	d.status.Current = sign
	d.mu.Unlock()
}

func (d *Driver) end() {
	d.mu.Lock()
	d.status.Running = false
	d.mu.Unlock()
}
