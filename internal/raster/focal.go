package raster

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/robert-malhotra/reservoir-area/pkg/geojson"
)

// FocalMedian smooths band values with a circular neighborhood of radius
// meters. Neighbors that are NaN are skipped; NaN pixels stay NaN so clip
// masks survive smoothing. Windows with an even count, as at edges, take the
// mean of the two middle values. A radius smaller than a pixel returns a copy.
func FocalMedian(grid Grid, data []float64, radius float64) []float64 {
	out := make([]float64, len(data))
	copy(out, data)
	if radius <= 0 {
		return out
	}

	ry := radius / (grid.PixelHeight * geojson.MetersPerDegree)
	window := make([]float64, 0, 64)

	for row := 0; row < grid.Height; row++ {
		_, lat := grid.Center(0, row)
		rx := radius / (grid.PixelWidth * geojson.MetersPerDegree * math.Max(1e-6, math.Cos(lat*math.Pi/180)))
		nx, ny := int(math.Floor(rx+1e-9)), int(math.Floor(ry+1e-9))
		if nx == 0 && ny == 0 {
			continue
		}

		for col := 0; col < grid.Width; col++ {
			center := data[row*grid.Width+col]
			if math.IsNaN(center) {
				continue
			}

			window = window[:0]
			for dr := -ny; dr <= ny; dr++ {
				r := row + dr
				if r < 0 || r >= grid.Height {
					continue
				}
				for dc := -nx; dc <= nx; dc++ {
					c := col + dc
					if c < 0 || c >= grid.Width {
						continue
					}
					if !inEllipse(dc, dr, rx, ry) {
						continue
					}
					v := data[r*grid.Width+c]
					if !math.IsNaN(v) {
						window = append(window, v)
					}
				}
			}

			sort.Float64s(window)
			med := stat.Quantile(0.5, stat.Empirical, window, nil)
			if n := len(window); n%2 == 0 {
				// Empirical picks the lower of the two middle values.
				med = (med + window[n/2]) / 2
			}
			out[row*grid.Width+col] = med
		}
	}
	return out
}

func inEllipse(dc, dr int, rx, ry float64) bool {
	var x, y float64
	if rx > 0 {
		x = float64(dc) / rx
	} else if dc != 0 {
		return false
	}
	if ry > 0 {
		y = float64(dr) / ry
	} else if dr != 0 {
		return false
	}
	return x*x+y*y <= 1+1e-9
}
