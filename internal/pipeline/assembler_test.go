package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/robert-malhotra/reservoir-area/internal/features"
	"github.com/robert-malhotra/reservoir-area/internal/fetch"
	"github.com/robert-malhotra/reservoir-area/internal/raster"
	"github.com/robert-malhotra/reservoir-area/internal/reduce"
	"github.com/robert-malhotra/reservoir-area/internal/sdwi"
	"github.com/robert-malhotra/reservoir-area/internal/timegrid"
	"github.com/robert-malhotra/reservoir-area/pkg/geojson"
)

var testStart = time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC)

func testGrid(t *testing.T, steps int) *timegrid.Grid {
	t.Helper()
	g, err := timegrid.Build(testStart, testStart.AddDate(0, 0, 30*(steps-1)), 30, timegrid.Day)
	require.NoError(t, err)
	require.Equal(t, steps, g.Len())
	return g
}

func testFeature(t *testing.T, id int64) features.Feature {
	t.Helper()
	g, err := geojson.NewPolygonFromBBox([]float64{0, 0, 0.01, 0.01})
	require.NoError(t, err)
	return features.Feature{ID: id, Geometry: g}
}

// pixelGrid is a 1xN strip; the fake classifier marks pixels with VV > 0.5
// as water and the fake reducer reports set-pixel counts as area.
func pixelComposite(start time.Time, vv ...float64) *raster.Composite {
	grid := raster.Grid{OriginX: 0, OriginY: 1, PixelWidth: 1, PixelHeight: 1, Width: len(vv), Height: 1}
	img := &raster.Image{Grid: grid, Time: start, Bands: map[string][]float64{"VV": vv}}
	return &raster.Composite{Image: img, Valid: true}
}

type fakeFetcher struct {
	fn    func(ctx context.Context, req fetch.Request) (*raster.Composite, error)
	calls atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, req fetch.Request) (*raster.Composite, error) {
	f.calls.Add(1)
	return f.fn(ctx, req)
}

type thresholdClassifier struct{}

func (thresholdClassifier) Classify(img *raster.Image) (*sdwi.Masks, error) {
	vv, err := img.Band("VV")
	if err != nil {
		return nil, err
	}
	m := &sdwi.Masks{Water: raster.NewMask(img.Grid), Valid: raster.NewMask(img.Grid)}
	for i, v := range vv {
		m.Water.Bits[i] = v > 0.5
		m.Valid.Bits[i] = true
	}
	return m, nil
}

type countReducer struct {
	err error
}

func (r countReducer) Area(mask *raster.Mask, _ *geojson.Region) (float64, error) {
	if r.err != nil {
		return 0, r.err
	}
	return float64(mask.Count()), nil
}

func newTestAssembler(t *testing.T, f Fetcher, r Reducer, steps int, opts AssemblerOptions) *Assembler {
	t.Helper()
	if opts.StepConcurrency == 0 {
		opts.StepConcurrency = 3
	}
	a, err := NewAssembler(f, thresholdClassifier{}, r, testGrid(t, steps), semaphore.NewWeighted(2), opts)
	require.NoError(t, err)
	return a
}

func TestAssemble_SeriesInDateOrder(t *testing.T) {
	f := &fakeFetcher{fn: func(_ context.Context, req fetch.Request) (*raster.Composite, error) {
		// Later steps finish first to exercise ordering.
		step := int(req.Start.Sub(testStart).Hours() / 24 / 30)
		time.Sleep(time.Duration(4-step) * 2 * time.Millisecond)
		vv := make([]float64, 4)
		for i := 0; i < step; i++ {
			vv[i] = 1
		}
		return pixelComposite(req.Start, vv...), nil
	}}
	a := newTestAssembler(t, f, countReducer{}, 4, AssemblerOptions{})

	res, err := a.Assemble(context.Background(), testFeature(t, 7))
	require.NoError(t, err)

	assert.Equal(t, int64(7), res.ID)
	require.Len(t, res.Dates, 4)
	for i := 1; i < len(res.Dates); i++ {
		assert.True(t, res.Dates[i].After(res.Dates[i-1]))
	}
	assert.Equal(t, []float64{0, 1, 2, 3}, res.WaterArea)
	assert.Equal(t, []float64{4, 4, 4, 4}, res.ValidArea)
}

func TestAssemble_DropsInvalidSteps(t *testing.T) {
	f := &fakeFetcher{fn: func(_ context.Context, req fetch.Request) (*raster.Composite, error) {
		c := pixelComposite(req.Start, 1, 0)
		if req.Start.Equal(testStart.AddDate(0, 0, 30)) {
			c.Valid = false
		}
		return c, nil
	}}
	a := newTestAssembler(t, f, countReducer{}, 3, AssemblerOptions{})

	res, err := a.Assemble(context.Background(), testFeature(t, 1))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{testStart, testStart.AddDate(0, 0, 60)}, res.Dates)
	assert.Equal(t, []float64{1, 1}, res.WaterArea)
}

func TestAssemble_NoScenesGivesEmptySeries(t *testing.T) {
	f := &fakeFetcher{fn: func(_ context.Context, req fetch.Request) (*raster.Composite, error) {
		return &raster.Composite{Image: &raster.Image{Time: req.Start, Bands: map[string][]float64{}}}, nil
	}}
	a := newTestAssembler(t, f, countReducer{}, 5, AssemblerOptions{})

	res, err := a.Assemble(context.Background(), testFeature(t, 1))
	require.NoError(t, err)
	assert.Empty(t, res.Dates)
	assert.Empty(t, res.WaterArea)
	assert.Empty(t, res.ValidArea)
	assert.NotNil(t, res.Dates)
}

func TestAssemble_PassesRegions(t *testing.T) {
	var mu sync.Mutex
	var seen []fetch.Request
	f := &fakeFetcher{fn: func(_ context.Context, req fetch.Request) (*raster.Composite, error) {
		mu.Lock()
		seen = append(seen, req)
		mu.Unlock()
		return pixelComposite(req.Start, 0), nil
	}}
	a := newTestAssembler(t, f, countReducer{}, 2, AssemblerOptions{BufferRadius: 10, ContextBuffer: 100})

	_, err := a.Assemble(context.Background(), testFeature(t, 1))
	require.NoError(t, err)
	require.Len(t, seen, 2)
	for _, req := range seen {
		assert.Equal(t, 100.0, req.Bounds.Buffer())
		assert.Equal(t, 10.0, req.Clip.Buffer())
		assert.Equal(t, testGrid(t, 2).Interval(), req.End.Sub(req.Start).Milliseconds())
	}
}

type tempErr struct{ temporary bool }

func (e tempErr) Error() string   { return fmt.Sprintf("temporary=%v", e.temporary) }
func (e tempErr) Temporary() bool { return e.temporary }

func TestAssemble_RetriesTransientFailures(t *testing.T) {
	var failures atomic.Int32
	f := &fakeFetcher{fn: func(_ context.Context, req fetch.Request) (*raster.Composite, error) {
		if failures.Add(1) <= 2 {
			return nil, tempErr{temporary: true}
		}
		return pixelComposite(req.Start, 1), nil
	}}
	a := newTestAssembler(t, f, countReducer{}, 1, AssemblerOptions{MaxAttempts: 3, RetryBackoff: time.Millisecond})

	res, err := a.Assemble(context.Background(), testFeature(t, 1))
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, res.WaterArea)
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestAssemble_RetriesExhausted(t *testing.T) {
	f := &fakeFetcher{fn: func(context.Context, fetch.Request) (*raster.Composite, error) {
		return nil, tempErr{temporary: true}
	}}
	a := newTestAssembler(t, f, countReducer{}, 1, AssemblerOptions{MaxAttempts: 3, RetryBackoff: time.Millisecond})

	_, err := a.Assemble(context.Background(), testFeature(t, 1))
	assert.ErrorIs(t, err, ErrExternalService)
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestAssemble_PermanentFailureNotRetried(t *testing.T) {
	f := &fakeFetcher{fn: func(context.Context, fetch.Request) (*raster.Composite, error) {
		return nil, tempErr{temporary: false}
	}}
	a := newTestAssembler(t, f, countReducer{}, 1, AssemblerOptions{MaxAttempts: 5, RetryBackoff: time.Millisecond})

	_, err := a.Assemble(context.Background(), testFeature(t, 1))
	assert.ErrorIs(t, err, ErrExternalService)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestAssemble_ProcessingFailureNotRetried(t *testing.T) {
	f := &fakeFetcher{fn: func(context.Context, fetch.Request) (*raster.Composite, error) {
		return nil, fmt.Errorf("failed to composite 2 scenes: %w", raster.ErrGridMismatch)
	}}
	a := newTestAssembler(t, f, countReducer{}, 1, AssemblerOptions{MaxAttempts: 5, RetryBackoff: time.Millisecond})

	_, err := a.Assemble(context.Background(), testFeature(t, 1))
	assert.ErrorIs(t, err, raster.ErrGridMismatch)
	assert.False(t, errors.Is(err, ErrExternalService))
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestAssemble_FetchTimeoutPerAttempt(t *testing.T) {
	f := &fakeFetcher{fn: func(ctx context.Context, req fetch.Request) (*raster.Composite, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	a := newTestAssembler(t, f, countReducer{}, 1, AssemblerOptions{
		MaxAttempts:  2,
		FetchTimeout: 5 * time.Millisecond,
		RetryBackoff: time.Millisecond,
	})

	_, err := a.Assemble(context.Background(), testFeature(t, 1))
	assert.ErrorIs(t, err, ErrExternalService)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestAssemble_ReductionOverflow(t *testing.T) {
	f := &fakeFetcher{fn: func(_ context.Context, req fetch.Request) (*raster.Composite, error) {
		return pixelComposite(req.Start, 1), nil
	}}
	a := newTestAssembler(t, f, countReducer{err: reduce.ErrTooManyPixels}, 2, AssemblerOptions{})

	_, err := a.Assemble(context.Background(), testFeature(t, 1))
	assert.ErrorIs(t, err, ErrReductionOverflow)
}

func TestAssemble_Canceled(t *testing.T) {
	f := &fakeFetcher{fn: func(ctx context.Context, req fetch.Request) (*raster.Composite, error) {
		return pixelComposite(req.Start, 1), nil
	}}
	a := newTestAssembler(t, f, countReducer{}, 3, AssemblerOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Assemble(ctx, testFeature(t, 1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrExternalService))
}

func TestAssemble_RequestCap(t *testing.T) {
	var inFlight, peak atomic.Int32
	f := &fakeFetcher{fn: func(_ context.Context, req fetch.Request) (*raster.Composite, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return pixelComposite(req.Start, 1), nil
	}}
	a, err := NewAssembler(f, thresholdClassifier{}, countReducer{}, testGrid(t, 8), semaphore.NewWeighted(2),
		AssemblerOptions{StepConcurrency: 8})
	require.NoError(t, err)

	_, err = a.Assemble(context.Background(), testFeature(t, 1))
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestAssemble_RealClassifierAndReducer(t *testing.T) {
	g, err := geojson.NewPolygonFromBBox([]float64{0, 0, 0.001, 0.001})
	require.NoError(t, err)
	feature := features.Feature{ID: 42, Geometry: g}

	f := &fakeFetcher{fn: func(_ context.Context, req fetch.Request) (*raster.Composite, error) {
		grid, err := raster.NewGrid(req.Bounds.Bounds(), 10)
		if err != nil {
			return nil, err
		}
		img := raster.NewImage(grid, req.Start, "VV", "VH")
		for i := range img.Bands["VV"] {
			// ln(0.5 * 0.5 * 10) - 8 < 0.3, but ln(60 * 60 * 10) - 8 > 0.3
			img.Bands["VV"][i] = 60
			img.Bands["VH"][i] = 60
		}
		img.Clip(req.Clip)
		return &raster.Composite{Image: img, Valid: true}, nil
	}}

	classifier, err := sdwi.NewClassifier(sdwi.DefaultOptions())
	require.NoError(t, err)
	reducer, err := reduce.NewReducer(10, 0)
	require.NoError(t, err)

	a, err := NewAssembler(f, classifier, reducer, testGrid(t, 2), semaphore.NewWeighted(1),
		AssemblerOptions{BufferRadius: 0, ContextBuffer: 100, StepConcurrency: 2})
	require.NoError(t, err)

	res, err := a.Assemble(context.Background(), feature)
	require.NoError(t, err)
	require.Len(t, res.WaterArea, 2)

	side := 0.001 * geojson.MetersPerDegree
	for i := range res.WaterArea {
		assert.InEpsilon(t, side*side, res.WaterArea[i], 0.25)
		assert.Equal(t, res.WaterArea[i], res.ValidArea[i])
	}
}
