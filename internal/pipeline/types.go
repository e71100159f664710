// Package pipeline assembles per-reservoir water-area time series and drives
// them through partitioned, resumable export runs.
package pipeline

import (
	"context"
	"time"

	"github.com/robert-malhotra/reservoir-area/internal/export"
)

// AreaSample is the water and valid-observation area of one feature at one step.
type AreaSample struct {
	Time      time.Time
	WaterArea float64
	ValidArea float64
}

// FeatureResult is one feature's time series as parallel sequences in
// ascending date order.
type FeatureResult struct {
	ID        int64
	Dates     []time.Time
	WaterArea []float64
	ValidArea []float64
}

// Row converts the result into an export row.
func (r *FeatureResult) Row() export.Row {
	return export.Row{ID: r.ID, Dates: r.Dates, WaterArea: r.WaterArea, ValidArea: r.ValidArea}
}

// PartitionReport records the outcome of one partition.
type PartitionReport struct {
	Index     int           `json:"index"`
	Table     string        `json:"table"`
	Features  int           `json:"features"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	FailedIDs []int64       `json:"failed_ids,omitempty"`
	Exported  bool          `json:"exported"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Complete reports whether every feature succeeded and the table was written.
func (r PartitionReport) Complete() bool {
	return r.Exported && r.Failed == 0
}

// RunReport summarizes a driver run. NextOffset is the partition a
// follow-up run should start at.
type RunReport struct {
	RunID       string            `json:"run_id"`
	Plan        Plan              `json:"plan"`
	StartOffset int               `json:"start_offset"`
	Partitions  []PartitionReport `json:"partitions"`
	Completed   []int             `json:"completed"`
	Incomplete  []int             `json:"incomplete"`
	NextOffset  int               `json:"next_offset"`
}

// Recorder persists partition outcomes, for example to a run journal.
type Recorder interface {
	RecordPartition(ctx context.Context, runID string, report PartitionReport) error
}

// Observer receives pipeline events for instrumentation.
type Observer interface {
	FetchDone(duration time.Duration, err error)
	FetchRetried()
	StepDropped()
	FeatureDone(duration time.Duration, err error)
	PartitionDone(report PartitionReport)
}

type nopObserver struct{}

func (nopObserver) FetchDone(time.Duration, error)   {}
func (nopObserver) FetchRetried()                    {}
func (nopObserver) StepDropped()                     {}
func (nopObserver) FeatureDone(time.Duration, error) {}
func (nopObserver) PartitionDone(PartitionReport)    {}
