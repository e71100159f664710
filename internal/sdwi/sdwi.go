// Package sdwi classifies dual-polarization SAR composites into water and
// valid-observation masks using the Sentinel-1 dual-polarized water index
//
//	SDWI = ln(10 × VV × VH) − 8
//
// evaluated on focal-median smoothed bands.
package sdwi

import (
	"fmt"
	"math"

	"github.com/robert-malhotra/reservoir-area/internal/raster"
)

// Default thresholds used by the batch pipeline. Water is index ≥ 0.3; any
// index ≥ -100 counts as a usable observation.
const (
	DefaultWaterThreshold = 0.3
	DefaultFloorThreshold = -100.0
)

// Options configures a Classifier.
type Options struct {
	// BandA and BandB are the two polarization bands multiplied in the index.
	BandA string
	BandB string

	// SmoothRadius is the focal median radius in meters; 0 disables smoothing.
	SmoothRadius float64

	WaterThreshold float64
	FloorThreshold float64
}

// DefaultOptions returns VV/VH with the batch thresholds and a 10 m kernel.
func DefaultOptions() Options {
	return Options{
		BandA:          "VV",
		BandB:          "VH",
		SmoothRadius:   10,
		WaterThreshold: DefaultWaterThreshold,
		FloorThreshold: DefaultFloorThreshold,
	}
}

// Masks are the classifier outputs, both on the composite's grid.
type Masks struct {
	Water *raster.Mask
	Valid *raster.Mask
}

// Classifier computes SDWI masks.
type Classifier struct {
	opts Options
}

// NewClassifier validates opts and returns a Classifier.
func NewClassifier(opts Options) (*Classifier, error) {
	if opts.BandA == "" || opts.BandB == "" {
		return nil, fmt.Errorf("both bands must be named")
	}
	if opts.SmoothRadius < 0 {
		return nil, fmt.Errorf("smooth radius must be non-negative, got %v", opts.SmoothRadius)
	}
	if opts.WaterThreshold < opts.FloorThreshold {
		return nil, fmt.Errorf("water threshold (%v) must be >= floor threshold (%v)", opts.WaterThreshold, opts.FloorThreshold)
	}
	return &Classifier{opts: opts}, nil
}

// Index returns the SDWI value for one pixel, or NaN when the product is not
// positive or either input is NaN.
func Index(a, b float64) float64 {
	product := a * b * 10
	if math.IsNaN(product) || product <= 0 {
		return math.NaN()
	}
	return math.Log(product) - 8
}

// Classify smooths both bands, computes the index and thresholds it. Pixels
// with an undefined index are set in neither mask.
func (c *Classifier) Classify(img *raster.Image) (*Masks, error) {
	a, err := img.Band(c.opts.BandA)
	if err != nil {
		return nil, err
	}
	b, err := img.Band(c.opts.BandB)
	if err != nil {
		return nil, err
	}

	a = raster.FocalMedian(img.Grid, a, c.opts.SmoothRadius)
	b = raster.FocalMedian(img.Grid, b, c.opts.SmoothRadius)

	masks := &Masks{
		Water: raster.NewMask(img.Grid),
		Valid: raster.NewMask(img.Grid),
	}
	for i := range a {
		idx := Index(a[i], b[i])
		if math.IsNaN(idx) {
			continue
		}
		masks.Water.Bits[i] = idx >= c.opts.WaterThreshold
		masks.Valid.Bits[i] = idx >= c.opts.FloorThreshold
	}
	return masks, nil
}
