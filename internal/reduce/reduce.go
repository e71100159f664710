// Package reduce turns binary masks into area statistics over a region.
package reduce

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/robert-malhotra/reservoir-area/internal/raster"
	"github.com/robert-malhotra/reservoir-area/pkg/geojson"
)

// DefaultMaxPixels matches the 1e13 pixel cap of the batch export.
const DefaultMaxPixels int64 = 1e13

// ErrTooManyPixels is returned when a reduction would sample more cells than
// the configured cap. Results are never truncated.
var ErrTooManyPixels = errors.New("reduction exceeds pixel limit")

// Reducer sums the true area of set mask pixels inside a region.
type Reducer struct {
	scale     float64
	maxPixels int64
}

// NewReducer returns a Reducer sampling at scale meters. A scale of 0 samples
// on the mask's own grid. maxPixels <= 0 selects DefaultMaxPixels.
func NewReducer(scale float64, maxPixels int64) (*Reducer, error) {
	if scale < 0 || math.IsNaN(scale) {
		return nil, fmt.Errorf("scale must be non-negative, got %v", scale)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Reducer{scale: scale, maxPixels: maxPixels}, nil
}

// Area returns the area in square meters of mask pixels that are set and
// whose sample cell center lies inside region.
func (r *Reducer) Area(mask *raster.Mask, region *geojson.Region) (float64, error) {
	bounds := region.Bounds()

	var sampling raster.Grid
	if r.scale > 0 {
		g, err := raster.NewGrid(bounds, r.scale)
		if err != nil {
			return 0, err
		}
		sampling = g
	} else {
		sampling = alignedGrid(mask.Grid, bounds)
	}

	cells := int64(sampling.Width) * int64(sampling.Height)
	if cells > r.maxPixels {
		return 0, fmt.Errorf("%w: %d cells at scale %vm, limit %d", ErrTooManyPixels, cells, r.scale, r.maxPixels)
	}

	rowAreas := make([]float64, 0, sampling.Height)
	for row := 0; row < sampling.Height; row++ {
		_, lat := sampling.Center(0, row)
		cellArea := sampling.PixelArea(lat)
		hits := 0
		for col := 0; col < sampling.Width; col++ {
			lon, _ := sampling.Center(col, row)
			if mask.At(lon, lat) && region.Contains(lon, lat) {
				hits++
			}
		}
		if hits > 0 {
			rowAreas = append(rowAreas, float64(hits)*cellArea)
		}
	}
	return floats.Sum(rowAreas), nil
}

// alignedGrid is the window of native grid covering bounds.
func alignedGrid(native raster.Grid, bounds []float64) raster.Grid {
	col0 := int(math.Floor((bounds[0] - native.OriginX) / native.PixelWidth))
	col1 := int(math.Ceil((bounds[2] - native.OriginX) / native.PixelWidth))
	row0 := int(math.Floor((native.OriginY - bounds[3]) / native.PixelHeight))
	row1 := int(math.Ceil((native.OriginY - bounds[1]) / native.PixelHeight))

	col0, col1 = max(col0, 0), min(col1, native.Width)
	row0, row1 = max(row0, 0), min(row1, native.Height)

	return raster.Grid{
		OriginX:     native.OriginX + float64(col0)*native.PixelWidth,
		OriginY:     native.OriginY - float64(row0)*native.PixelHeight,
		PixelWidth:  native.PixelWidth,
		PixelHeight: native.PixelHeight,
		Width:       max(col1-col0, 0),
		Height:      max(row1-row0, 0),
	}
}
