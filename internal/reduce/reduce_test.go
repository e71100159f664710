package reduce

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/reservoir-area/internal/raster"
	"github.com/robert-malhotra/reservoir-area/pkg/geojson"
)

func squareRegion(t *testing.T, size, buffer float64) *geojson.Region {
	t.Helper()
	g, err := geojson.NewPolygonFromBBox([]float64{0, 0, size, size})
	require.NoError(t, err)
	r, err := geojson.NewRegion(g, buffer)
	require.NoError(t, err)
	return r
}

func fullMask(t *testing.T, bbox []float64, scale float64) *raster.Mask {
	t.Helper()
	g, err := raster.NewGrid(bbox, scale)
	require.NoError(t, err)
	m := raster.NewMask(g)
	for i := range m.Bits {
		m.Bits[i] = true
	}
	return m
}

func TestArea_FullSquare(t *testing.T) {
	region := squareRegion(t, 0.01, 0)
	mask := fullMask(t, region.Bounds(), 10)

	r, err := NewReducer(10, 0)
	require.NoError(t, err)

	area, err := r.Area(mask, region)
	require.NoError(t, err)

	side := 0.01 * geojson.MetersPerDegree
	assert.InEpsilon(t, side*side, area, 0.02)
}

func TestArea_EmptyMask(t *testing.T) {
	region := squareRegion(t, 0.01, 0)
	g, err := raster.NewGrid(region.Bounds(), 10)
	require.NoError(t, err)

	r, err := NewReducer(10, 0)
	require.NoError(t, err)
	area, err := r.Area(raster.NewMask(g), region)
	require.NoError(t, err)
	assert.Zero(t, area)
}

func TestArea_OnlyInsideRegion(t *testing.T) {
	// The mask covers a much larger area than the region.
	region := squareRegion(t, 0.005, 0)
	mask := fullMask(t, []float64{-0.01, -0.01, 0.02, 0.02}, 10)

	r, err := NewReducer(10, 0)
	require.NoError(t, err)
	area, err := r.Area(mask, region)
	require.NoError(t, err)

	side := 0.005 * geojson.MetersPerDegree
	assert.InEpsilon(t, side*side, area, 0.03)
}

func TestArea_BufferGrowsArea(t *testing.T) {
	plain := squareRegion(t, 0.01, 0)
	buffered := squareRegion(t, 0.01, 100)
	mask := fullMask(t, buffered.Bounds(), 10)

	r, err := NewReducer(10, 0)
	require.NoError(t, err)

	a, err := r.Area(mask, plain)
	require.NoError(t, err)
	b, err := r.Area(mask, buffered)
	require.NoError(t, err)
	assert.Greater(t, b, a)
}

func TestArea_NativeScale(t *testing.T) {
	region := squareRegion(t, 0.001, 0)
	g, err := raster.NewGrid(region.Bounds(), 10)
	require.NoError(t, err)
	mask := raster.NewMask(g)
	// Three rows of ten pixels, all well inside the square.
	for row := 0; row < 3; row++ {
		for col := 0; col < 10; col++ {
			mask.Bits[row*g.Width+col] = true
		}
	}

	r, err := NewReducer(0, 0)
	require.NoError(t, err)
	area, err := r.Area(mask, region)
	require.NoError(t, err)

	_, lat := g.Center(0, 0)
	assert.InEpsilon(t, 30*g.PixelArea(lat), area, 0.01)
}

func TestArea_TooManyPixels(t *testing.T) {
	region := squareRegion(t, 0.01, 0)
	mask := fullMask(t, region.Bounds(), 10)

	r, err := NewReducer(10, 100)
	require.NoError(t, err)

	_, err = r.Area(mask, region)
	assert.True(t, errors.Is(err, ErrTooManyPixels))
}

func TestNewReducer_RejectsNegativeScale(t *testing.T) {
	_, err := NewReducer(-1, 0)
	assert.Error(t, err)
}
