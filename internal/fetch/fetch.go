// Package fetch builds one clipped minimum composite per time window from the
// scene catalog and the raster read service.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/planetlabs/go-stac"

	"github.com/robert-malhotra/reservoir-area/internal/catalog"
	"github.com/robert-malhotra/reservoir-area/internal/raster"
	"github.com/robert-malhotra/reservoir-area/internal/tiles"
	"github.com/robert-malhotra/reservoir-area/pkg/geojson"
)

// Catalog finds scenes for a query.
type Catalog interface {
	Scenes(ctx context.Context, q catalog.Query) ([]*stac.Item, error)
}

// Reader reads scene bands onto a grid.
type Reader interface {
	Read(ctx context.Context, req tiles.ReadRequest) (*raster.Image, error)
}

// Options fixes the scene filter and read parameters for every fetch.
type Options struct {
	Bands           []string
	Dataset         string
	ProcessingLevel []string
	BeamMode        string
	ReadScale       float64
	MaxCloudPercent float64
	MinBands        int
	MaxResults      int
}

// Request is one window over one feature. Bounds is the scene search area;
// Clip is the region outside of which pixels are discarded.
type Request struct {
	Bounds *geojson.Region
	Clip   *geojson.Region
	Start  time.Time
	End    time.Time
}

// Fetcher produces composites.
type Fetcher struct {
	catalog Catalog
	reader  Reader
	opts    Options
	logger  *slog.Logger
}

// New validates opts and returns a Fetcher.
func New(cat Catalog, reader Reader, opts Options) (*Fetcher, error) {
	if len(opts.Bands) == 0 {
		return nil, fmt.Errorf("at least one band is required")
	}
	if opts.ReadScale <= 0 {
		return nil, fmt.Errorf("read scale must be positive, got %v", opts.ReadScale)
	}
	if opts.MinBands < 0 {
		return nil, fmt.Errorf("min bands must be non-negative, got %d", opts.MinBands)
	}
	return &Fetcher{catalog: cat, reader: reader, opts: opts, logger: slog.Default()}, nil
}

// WithLogger sets a custom logger for the fetcher
func (f *Fetcher) WithLogger(logger *slog.Logger) *Fetcher {
	f.logger = logger
	return f
}

// Fetch returns the composite for req, stamped with req.Start. A window with
// no usable scenes yields a composite with Valid false and no error.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*raster.Composite, error) {
	if req.Bounds == nil {
		return nil, fmt.Errorf("fetch request has no bounds")
	}

	items, err := f.catalog.Scenes(ctx, catalog.Query{
		Intersects:      req.Bounds.Envelope(),
		Start:           req.Start,
		End:             req.End,
		Polarizations:   f.opts.Bands,
		BeamMode:        f.opts.BeamMode,
		Dataset:         f.opts.Dataset,
		ProcessingLevel: f.opts.ProcessingLevel,
		MaxResults:      f.opts.MaxResults,
	})
	if err != nil {
		return nil, err
	}

	bbox := req.Bounds.Bounds()
	images := make([]*raster.Image, 0, len(items))
	for _, item := range items {
		img, err := f.reader.Read(ctx, tiles.ReadRequest{
			Item:            item,
			Bands:           f.opts.Bands,
			BBox:            bbox,
			Scale:           f.opts.ReadScale,
			MaxCloudPercent: f.opts.MaxCloudPercent,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read scene %s: %w", item.Id, err)
		}
		if len(img.Bands) == 0 {
			continue
		}
		images = append(images, img)
	}

	composite, err := raster.MinComposite(images, req.Start)
	if err != nil {
		return nil, fmt.Errorf("failed to composite %d scenes: %w", len(images), err)
	}
	composite.Time = req.Start.UTC()

	valid := len(images) > 0 &&
		len(composite.Bands) >= f.opts.MinBands &&
		composite.HasBands(f.opts.Bands...)
	if valid && req.Clip != nil {
		composite.Clip(req.Clip)
	}

	f.logger.DebugContext(ctx, "composite built",
		slog.Time("start", req.Start),
		slog.Int("scenes", len(items)),
		slog.Int("images", len(images)),
		slog.Bool("valid", valid),
	)

	return &raster.Composite{Image: composite, Valid: valid}, nil
}
