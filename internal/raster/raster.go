// Package raster holds the in-memory raster model used between the raster
// service and the water classifier: north-up geographic grids, multi-band
// images and boolean masks.
package raster

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/robert-malhotra/reservoir-area/pkg/geojson"
)

var (
	// ErrGridMismatch is returned when rasters on different grids are combined.
	ErrGridMismatch = errors.New("raster grids do not match")

	// ErrMissingBand is returned when a requested band is absent.
	ErrMissingBand = errors.New("band not present")
)

// Grid describes a north-up raster in geographic coordinates (degrees).
// OriginX/OriginY is the north-west corner; rows run south.
type Grid struct {
	OriginX     float64 `json:"origin_x"`
	OriginY     float64 `json:"origin_y"`
	PixelWidth  float64 `json:"pixel_width"`
	PixelHeight float64 `json:"pixel_height"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
}

// Validate checks that the grid has positive dimensions.
func (g Grid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("grid must have positive size, got %dx%d", g.Width, g.Height)
	}
	if g.PixelWidth <= 0 || g.PixelHeight <= 0 {
		return fmt.Errorf("grid must have positive pixel size, got %vx%v", g.PixelWidth, g.PixelHeight)
	}
	return nil
}

// Len returns the number of pixels.
func (g Grid) Len() int {
	return g.Width * g.Height
}

// Center returns the lon/lat of the center of pixel (col, row).
func (g Grid) Center(col, row int) (float64, float64) {
	return g.OriginX + (float64(col)+0.5)*g.PixelWidth, g.OriginY - (float64(row)+0.5)*g.PixelHeight
}

// Index returns the pixel index containing (lon, lat), or -1 when outside.
func (g Grid) Index(lon, lat float64) int {
	col := int(math.Floor((lon - g.OriginX) / g.PixelWidth))
	row := int(math.Floor((g.OriginY - lat) / g.PixelHeight))
	if col < 0 || row < 0 || col >= g.Width || row >= g.Height {
		return -1
	}
	return row*g.Width + col
}

// PixelArea returns the true area in square meters of a pixel of this grid
// whose center is at latitude lat.
func (g Grid) PixelArea(lat float64) float64 {
	return CellArea(lat, g.PixelWidth, g.PixelHeight)
}

// CellArea returns the spherical area in square meters of a cell dLon x dLat
// degrees centered at latitude lat.
func CellArea(lat, dLon, dLat float64) float64 {
	rad := math.Pi / 180
	north := math.Min(90, lat+dLat/2) * rad
	south := math.Max(-90, lat-dLat/2) * rad
	return geojson.EarthRadius * geojson.EarthRadius * dLon * rad * math.Abs(math.Sin(north)-math.Sin(south))
}

// NewGrid returns a grid covering bbox [west, south, east, north] with square
// pixels of about scale meters measured at the bbox's center latitude.
func NewGrid(bbox []float64, scale float64) (Grid, error) {
	if len(bbox) != 4 {
		return Grid{}, fmt.Errorf("bbox must have 4 values, got %d", len(bbox))
	}
	if scale <= 0 {
		return Grid{}, fmt.Errorf("scale must be positive, got %v", scale)
	}
	centerLat := (bbox[1] + bbox[3]) / 2
	dLat := scale / geojson.MetersPerDegree
	dLon := scale / (geojson.MetersPerDegree * math.Max(1e-6, math.Cos(centerLat*math.Pi/180)))

	g := Grid{
		OriginX:     bbox[0],
		OriginY:     bbox[3],
		PixelWidth:  dLon,
		PixelHeight: dLat,
		Width:       cellCount(bbox[2]-bbox[0], dLon),
		Height:      cellCount(bbox[3]-bbox[1], dLat),
	}
	if g.Width == 0 {
		g.Width = 1
	}
	if g.Height == 0 {
		g.Height = 1
	}
	return g, nil
}

// cellCount returns how many cells of size step cover span. The tolerance
// keeps exact multiples from gaining a cell to rounding.
func cellCount(span, step float64) int {
	return int(math.Ceil(span/step - 1e-9))
}

// Image is a multi-band raster. Missing values are NaN.
type Image struct {
	Grid
	Time  time.Time
	Bands map[string][]float64
}

// NewImage allocates an image whose bands are filled with NaN.
func NewImage(grid Grid, t time.Time, bands ...string) *Image {
	img := &Image{Grid: grid, Time: t, Bands: make(map[string][]float64, len(bands))}
	for _, name := range bands {
		data := make([]float64, grid.Len())
		for i := range data {
			data[i] = math.NaN()
		}
		img.Bands[name] = data
	}
	return img
}

// Band returns the named band or ErrMissingBand.
func (img *Image) Band(name string) ([]float64, error) {
	data, ok := img.Bands[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingBand, name)
	}
	return data, nil
}

// BandNames returns the band names in sorted order.
func (img *Image) BandNames() []string {
	names := make([]string, 0, len(img.Bands))
	for name := range img.Bands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasBands reports whether every named band is present.
func (img *Image) HasBands(names ...string) bool {
	for _, name := range names {
		if _, ok := img.Bands[name]; !ok {
			return false
		}
	}
	return true
}

// Clip sets every pixel whose center lies outside region to NaN.
func (img *Image) Clip(region *geojson.Region) {
	for row := 0; row < img.Height; row++ {
		for col := 0; col < img.Width; col++ {
			lon, lat := img.Center(col, row)
			if region.Contains(lon, lat) {
				continue
			}
			i := row*img.Width + col
			for _, data := range img.Bands {
				data[i] = math.NaN()
			}
		}
	}
}

// Composite is a per-step image tagged with whether it carries enough bands
// to be classified.
type Composite struct {
	*Image
	Valid bool
}

// MinComposite takes the per-pixel minimum of every band across images.
// NaN inputs are ignored; a pixel with no finite value stays NaN. The result
// holds the union of all band names. All images must share one grid.
func MinComposite(images []*Image, t time.Time) (*Image, error) {
	if len(images) == 0 {
		return &Image{Time: t, Bands: map[string][]float64{}}, nil
	}

	grid := images[0].Grid
	names := make(map[string]struct{})
	for _, img := range images {
		if img.Grid != grid {
			return nil, fmt.Errorf("%w: %+v vs %+v", ErrGridMismatch, grid, img.Grid)
		}
		for name, data := range img.Bands {
			if len(data) != grid.Len() {
				return nil, fmt.Errorf("band %s has %d values, expected %d", name, len(data), grid.Len())
			}
			names[name] = struct{}{}
		}
	}

	bandList := make([]string, 0, len(names))
	for name := range names {
		bandList = append(bandList, name)
	}
	out := NewImage(grid, t, bandList...)

	for _, img := range images {
		for name, data := range img.Bands {
			dst := out.Bands[name]
			for i, v := range data {
				if math.IsNaN(v) {
					continue
				}
				if math.IsNaN(dst[i]) || v < dst[i] {
					dst[i] = v
				}
			}
		}
	}
	return out, nil
}

// Mask is a boolean raster on a Grid.
type Mask struct {
	Grid
	Bits []bool
}

// NewMask allocates an all-false mask.
func NewMask(grid Grid) *Mask {
	return &Mask{Grid: grid, Bits: make([]bool, grid.Len())}
}

// At returns the mask value at (lon, lat); points off the grid are false.
func (m *Mask) At(lon, lat float64) bool {
	i := m.Index(lon, lat)
	return i >= 0 && m.Bits[i]
}

// Count returns the number of set pixels.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}
