package pipeline

import (
	"fmt"
	"time"
)

// Plan splits a feature collection of Size into FileNumbers contiguous
// partitions of PartitionSize features. Trailing partitions may be short or
// empty.
type Plan struct {
	Size          int `json:"size"`
	Parts         int `json:"parts"`
	PartitionSize int `json:"partition_size"`
	FileNumbers   int `json:"file_numbers"`
}

// PlanByParts derives the partition size from a requested part count, as
// size/parts rounded down and never below one.
func PlanByParts(size, parts int) (Plan, error) {
	if size < 0 {
		return Plan{}, fmt.Errorf("%w: negative size %d", ErrInvalidPlan, size)
	}
	if parts < 1 {
		return Plan{}, fmt.Errorf("%w: parts must be positive, got %d", ErrInvalidPlan, parts)
	}
	ps := max(size/parts, 1)
	return Plan{Size: size, Parts: parts, PartitionSize: ps, FileNumbers: fileNumbers(size, parts, ps)}, nil
}

// PlanBySize uses an explicit partition size; parts is ceil(size/partitionSize).
func PlanBySize(size, partitionSize int) (Plan, error) {
	if size < 0 {
		return Plan{}, fmt.Errorf("%w: negative size %d", ErrInvalidPlan, size)
	}
	if partitionSize < 1 {
		return Plan{}, fmt.Errorf("%w: partition size must be positive, got %d", ErrInvalidPlan, partitionSize)
	}
	parts := (size + partitionSize - 1) / partitionSize
	return Plan{Size: size, Parts: parts, PartitionSize: partitionSize, FileNumbers: fileNumbers(size, parts, partitionSize)}, nil
}

// fileNumbers keeps one spare partition past the last full one, so the
// final partition can be empty.
func fileNumbers(size, parts, ps int) int {
	return parts + (size-ps*parts)/ps + 1
}

// Partition returns the half-open feature index range [lo, hi) of partition i.
// Ranges past the end of the collection are empty.
func (p Plan) Partition(i int) (lo, hi int) {
	lo = min(i*p.PartitionSize, p.Size)
	hi = min((i+1)*p.PartitionSize, p.Size)
	return lo, hi
}

// TableName is the export name of partition i.
func TableName(i int, label string) string {
	return fmt.Sprintf("%d_%s", i, label)
}

// DefaultFolder is the export folder for a run over [start, end].
func DefaultFolder(start, end time.Time) string {
	return fmt.Sprintf("update_reservoir_%s-to-%s", start.Format(time.DateOnly), end.Format(time.DateOnly))
}
