package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/robert-malhotra/reservoir-area/internal/features"
	"github.com/robert-malhotra/reservoir-area/internal/fetch"
	"github.com/robert-malhotra/reservoir-area/internal/raster"
	"github.com/robert-malhotra/reservoir-area/internal/reduce"
	"github.com/robert-malhotra/reservoir-area/internal/sdwi"
	"github.com/robert-malhotra/reservoir-area/internal/timegrid"
	"github.com/robert-malhotra/reservoir-area/pkg/geojson"
)

// Fetcher returns the composite for one window.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (*raster.Composite, error)
}

// Classifier turns a composite into water and valid masks.
type Classifier interface {
	Classify(img *raster.Image) (*sdwi.Masks, error)
}

// Reducer measures the area of a mask inside a region.
type Reducer interface {
	Area(mask *raster.Mask, region *geojson.Region) (float64, error)
}

// AssemblerOptions tune per-feature processing.
type AssemblerOptions struct {
	// BufferRadius grows the feature outline for clipping and reduction.
	BufferRadius float64
	// ContextBuffer grows the feature bounding box for the scene search.
	ContextBuffer float64

	StepConcurrency int
	MaxAttempts     int
	FetchTimeout    time.Duration
	RetryBackoff    time.Duration
}

// Assembler builds the time series of one feature over a shared grid.
type Assembler struct {
	fetcher    Fetcher
	classifier Classifier
	reducer    Reducer
	grid       *timegrid.Grid
	requests   *semaphore.Weighted
	opts       AssemblerOptions
	observer   Observer
	logger     *slog.Logger
}

// NewAssembler validates opts. requests caps concurrent fetches across every
// assembler sharing it.
func NewAssembler(f Fetcher, c Classifier, r Reducer, grid *timegrid.Grid, requests *semaphore.Weighted, opts AssemblerOptions) (*Assembler, error) {
	if grid == nil {
		return nil, fmt.Errorf("time grid is required")
	}
	if requests == nil {
		return nil, fmt.Errorf("request semaphore is required")
	}
	if opts.BufferRadius < 0 || opts.ContextBuffer < 0 {
		return nil, fmt.Errorf("buffers must be non-negative")
	}
	if opts.StepConcurrency < 1 {
		opts.StepConcurrency = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Assembler{
		fetcher:    f,
		classifier: c,
		reducer:    r,
		grid:       grid,
		requests:   requests,
		opts:       opts,
		observer:   nopObserver{},
		logger:     slog.Default(),
	}, nil
}

// WithLogger sets a custom logger for the assembler
func (a *Assembler) WithLogger(logger *slog.Logger) *Assembler {
	a.logger = logger
	return a
}

// WithObserver attaches an instrumentation observer.
func (a *Assembler) WithObserver(o Observer) *Assembler {
	if o != nil {
		a.observer = o
	}
	return a
}

// Assemble computes the feature's series. Steps without a usable composite
// are left out. Any step failure fails the whole feature.
func (a *Assembler) Assemble(ctx context.Context, feature features.Feature) (*FeatureResult, error) {
	bounds, err := geojson.NewBoundsRegion(feature.Geometry, a.opts.ContextBuffer)
	if err != nil {
		return nil, fmt.Errorf("failed to build context bounds for feature %d: %w", feature.ID, err)
	}
	clip, err := geojson.NewRegion(feature.Geometry, a.opts.BufferRadius)
	if err != nil {
		return nil, fmt.Errorf("failed to build region for feature %d: %w", feature.ID, err)
	}

	samples := make([]*AreaSample, a.grid.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.StepConcurrency)
	for i := 0; i < a.grid.Len(); i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start, end := a.grid.Window(i)
			sample, err := a.step(gctx, fetch.Request{Bounds: bounds, Clip: clip, Start: start, End: end}, clip)
			if err != nil {
				return fmt.Errorf("step %s: %w", start.Format(time.DateOnly), err)
			}
			samples[i] = sample
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("feature %d: %w", feature.ID, err)
	}

	kept := make([]AreaSample, 0, len(samples))
	for _, s := range samples {
		if s != nil {
			kept = append(kept, *s)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Time.Before(kept[j].Time) })

	result := &FeatureResult{
		ID:        feature.ID,
		Dates:     make([]time.Time, len(kept)),
		WaterArea: make([]float64, len(kept)),
		ValidArea: make([]float64, len(kept)),
	}
	for i, s := range kept {
		result.Dates[i] = s.Time
		result.WaterArea[i] = s.WaterArea
		result.ValidArea[i] = s.ValidArea
	}
	return result, nil
}

// step returns nil, nil when the window has no usable composite.
func (a *Assembler) step(ctx context.Context, req fetch.Request, region *geojson.Region) (*AreaSample, error) {
	composite, err := a.fetchWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	if !composite.Valid {
		a.observer.StepDropped()
		return nil, nil
	}

	masks, err := a.classifier.Classify(composite.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to classify composite: %w", err)
	}

	water, err := a.reducer.Area(masks.Water, region)
	if err != nil {
		return nil, reductionError(err)
	}
	valid, err := a.reducer.Area(masks.Valid, region)
	if err != nil {
		return nil, reductionError(err)
	}

	return &AreaSample{Time: composite.Time, WaterArea: water, ValidArea: valid}, nil
}

func reductionError(err error) error {
	if errors.Is(err, reduce.ErrTooManyPixels) {
		return fmt.Errorf("%w: %w", ErrReductionOverflow, err)
	}
	return fmt.Errorf("failed to reduce mask: %w", err)
}

// fetchWithRetry holds one request slot per attempt and backs off linearly
// between retryable failures.
func (a *Assembler) fetchWithRetry(ctx context.Context, req fetch.Request) (*raster.Composite, error) {
	for attempt := 1; ; attempt++ {
		if err := a.requests.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		composite, err := a.fetchOnce(ctx, req)
		a.requests.Release(1)

		if err == nil {
			return composite, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !isServiceError(err) {
			return nil, fmt.Errorf("failed to fetch composite: %w", err)
		}
		if !IsRetryable(err) || attempt >= a.opts.MaxAttempts {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrExternalService, attempt, err)
		}

		delay := a.opts.RetryBackoff * time.Duration(attempt)
		a.observer.FetchRetried()
		a.logger.WarnContext(ctx, "fetch failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", a.opts.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (a *Assembler) fetchOnce(ctx context.Context, req fetch.Request) (*raster.Composite, error) {
	if a.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.FetchTimeout)
		defer cancel()
	}
	begin := time.Now()
	composite, err := a.fetcher.Fetch(ctx, req)
	a.observer.FetchDone(time.Since(begin), err)
	return composite, err
}
