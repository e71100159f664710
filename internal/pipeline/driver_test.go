package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/reservoir-area/internal/export"
	"github.com/robert-malhotra/reservoir-area/internal/features"
)

// stubAssembler derives a deterministic series from the feature ID.
type stubAssembler struct {
	fail   map[int64]error
	onCall func(features.Feature)
}

func (s *stubAssembler) Assemble(ctx context.Context, f features.Feature) (*FeatureResult, error) {
	if s.onCall != nil {
		s.onCall(f)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.fail[f.ID]; err != nil {
		return nil, err
	}
	n := int(f.ID % 3)
	res := &FeatureResult{ID: f.ID, Dates: []time.Time{}, WaterArea: []float64{}, ValidArea: []float64{}}
	for i := 0; i < n; i++ {
		res.Dates = append(res.Dates, testStart.AddDate(0, 0, 30*i))
		res.WaterArea = append(res.WaterArea, float64(f.ID*10+int64(i)))
		res.ValidArea = append(res.ValidArea, float64(f.ID*100))
	}
	return res, nil
}

type memorySink struct {
	mu     sync.Mutex
	tables map[string]export.Table
	order  []string
	failOn string
}

func newMemorySink() *memorySink {
	return &memorySink{tables: make(map[string]export.Table)}
}

func (m *memorySink) Export(_ context.Context, t export.Table) error {
	if t.Name == m.failOn {
		return errors.New("disk full")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[t.Name] = t
	m.order = append(m.order, t.Name)
	return nil
}

type memoryRecorder struct {
	mu      sync.Mutex
	reports []PartitionReport
}

func (m *memoryRecorder) RecordPartition(_ context.Context, _ string, r PartitionReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return nil
}

func makeFeatures(n int) []features.Feature {
	out := make([]features.Feature, n)
	for i := range out {
		out[i] = features.Feature{ID: int64(i + 1)}
	}
	return out
}

func newTestDriver(t *testing.T, a FeatureAssembler, sink export.Sink) *Driver {
	t.Helper()
	d, err := NewDriver(a, sink, DriverOptions{Label: "ID_1000", Folder: "out", FeatureConcurrency: 3})
	require.NoError(t, err)
	return d
}

func TestRun_TwentyThreeFeaturesByTen(t *testing.T) {
	feats := makeFeatures(23)
	plan, err := PlanBySize(len(feats), 10)
	require.NoError(t, err)

	sink := newMemorySink()
	rec := &memoryRecorder{}
	var progressed []int
	d := newTestDriver(t, &stubAssembler{}, sink).
		WithRecorder(rec).
		WithProgress(func(r PartitionReport) { progressed = append(progressed, r.Index) })

	report, err := d.Run(context.Background(), feats, plan, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"0_ID_1000", "1_ID_1000", "2_ID_1000", "3_ID_1000"}, sink.order)
	assert.Len(t, sink.tables["0_ID_1000"].Rows, 10)
	assert.Len(t, sink.tables["1_ID_1000"].Rows, 10)
	assert.Len(t, sink.tables["2_ID_1000"].Rows, 3)
	assert.Empty(t, sink.tables["3_ID_1000"].Rows)
	assert.Equal(t, "out", sink.tables["0_ID_1000"].Folder)

	assert.Equal(t, []int{0, 1, 2, 3}, report.Completed)
	assert.Empty(t, report.Incomplete)
	assert.Equal(t, 4, report.NextOffset)
	assert.NotEmpty(t, report.RunID)
	assert.Len(t, rec.reports, 4)
	assert.Equal(t, []int{0, 1, 2, 3}, progressed)

	// Rows keep feature order within the partition.
	for i, row := range sink.tables["2_ID_1000"].Rows {
		assert.Equal(t, int64(21+i), row.ID)
	}
}

func TestRun_ResumeMatchesFullRun(t *testing.T) {
	feats := makeFeatures(37)
	plan, err := PlanByParts(len(feats), 5)
	require.NoError(t, err)

	full := newMemorySink()
	_, err = newTestDriver(t, &stubAssembler{}, full).Run(context.Background(), feats, plan, 0)
	require.NoError(t, err)

	for k := 0; k <= plan.FileNumbers; k++ {
		resumed := newMemorySink()
		report, err := newTestDriver(t, &stubAssembler{}, resumed).Run(context.Background(), feats, plan, k)
		require.NoError(t, err)
		assert.Equal(t, plan.FileNumbers, report.NextOffset)

		for i := 0; i < plan.FileNumbers; i++ {
			name := TableName(i, "ID_1000")
			got, ok := resumed.tables[name]
			if i < k {
				assert.False(t, ok, "partition %d must not be re-exported from offset %d", i, k)
				continue
			}
			require.True(t, ok)
			if diff := cmp.Diff(full.tables[name], got); diff != "" {
				t.Errorf("offset %d partition %d mismatch (-full +resumed):\n%s", k, i, diff)
			}
		}
	}
}

func TestRun_FailedFeatureMarksPartitionIncomplete(t *testing.T) {
	feats := makeFeatures(6)
	plan, err := PlanBySize(len(feats), 3)
	require.NoError(t, err)

	sink := newMemorySink()
	a := &stubAssembler{fail: map[int64]error{2: fmt.Errorf("%w: boom", ErrExternalService)}}
	report, err := newTestDriver(t, a, sink).Run(context.Background(), feats, plan, 0)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, report.Completed)
	assert.Equal(t, []int{0}, report.Incomplete)
	assert.Equal(t, 3, report.NextOffset)

	part := report.Partitions[0]
	assert.True(t, part.Exported)
	assert.Equal(t, 2, part.Succeeded)
	assert.Equal(t, 1, part.Failed)
	assert.Equal(t, []int64{2}, part.FailedIDs)

	rows := sink.tables["0_ID_1000"].Rows
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].ID)
	assert.Equal(t, int64(3), rows[1].ID)
}

func TestRun_ExportFailureStops(t *testing.T) {
	feats := makeFeatures(9)
	plan, err := PlanBySize(len(feats), 3)
	require.NoError(t, err)

	sink := newMemorySink()
	sink.failOn = "1_ID_1000"
	rec := &memoryRecorder{}
	report, err := newTestDriver(t, &stubAssembler{}, sink).WithRecorder(rec).Run(context.Background(), feats, plan, 0)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPartitionExport)
	assert.Equal(t, 1, report.NextOffset)
	assert.Equal(t, []int{0}, report.Completed)
	assert.Equal(t, []int{1}, report.Incomplete)
	assert.Equal(t, []string{"0_ID_1000"}, sink.order)

	require.Len(t, rec.reports, 2)
	assert.False(t, rec.reports[1].Exported)
	assert.Contains(t, rec.reports[1].Error, "disk full")
}

func TestRun_CancelExportsNothingForCurrentPartition(t *testing.T) {
	feats := makeFeatures(9)
	plan, err := PlanBySize(len(feats), 3)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := &stubAssembler{onCall: func(f features.Feature) {
		if f.ID == 5 {
			cancel()
		}
	}}
	sink := newMemorySink()
	report, err := newTestDriver(t, a, sink).Run(ctx, feats, plan, 0)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.NextOffset)
	assert.Equal(t, []string{"0_ID_1000"}, sink.order)
	assert.Equal(t, []int{0}, report.Completed)
}

func TestRun_Snapshot(t *testing.T) {
	feats := makeFeatures(4)
	plan, err := PlanBySize(len(feats), 2)
	require.NoError(t, err)

	d := newTestDriver(t, &stubAssembler{}, newMemorySink())
	assert.False(t, d.Snapshot().Running)

	report, err := d.Run(context.Background(), feats, plan, 1)
	require.NoError(t, err)

	s := d.Snapshot()
	assert.False(t, s.Running)
	assert.Equal(t, report.RunID, s.RunID)
	assert.Equal(t, plan.FileNumbers, s.NextOffset)
	assert.Len(t, s.Partitions, plan.FileNumbers-1)
}

func TestRun_InvalidArguments(t *testing.T) {
	feats := makeFeatures(4)
	plan, err := PlanBySize(len(feats), 2)
	require.NoError(t, err)
	d := newTestDriver(t, &stubAssembler{}, newMemorySink())

	_, err = d.Run(context.Background(), feats[:3], plan, 0)
	assert.ErrorIs(t, err, ErrInvalidPlan)
	_, err = d.Run(context.Background(), feats, plan, -1)
	assert.ErrorIs(t, err, ErrInvalidPlan)
	_, err = d.Run(context.Background(), feats, plan, plan.FileNumbers+1)
	assert.ErrorIs(t, err, ErrInvalidPlan)

	_, err = NewDriver(&stubAssembler{}, newMemorySink(), DriverOptions{})
	assert.Error(t, err)
}
