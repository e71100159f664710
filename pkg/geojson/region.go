package geojson

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// EarthRadius is the mean Earth radius in meters used for all distance and
// area approximations in this package.
const EarthRadius = 6371008.8

// MetersPerDegree is the length of one degree of latitude on the sphere.
const MetersPerDegree = EarthRadius * math.Pi / 180

// Region is a polygonal area grown outward by a buffer distance in meters.
// A point belongs to the region when it lies inside one of the polygons or
// within Buffer meters of any ring.
type Region struct {
	polygons orb.MultiPolygon
	buffer   float64
	bbox     []float64
}

// NewRegion builds a buffered region from a Polygon or MultiPolygon.
func NewRegion(g *Geometry, bufferMeters float64) (*Region, error) {
	if bufferMeters < 0 || math.IsNaN(bufferMeters) {
		return nil, fmt.Errorf("buffer must be non-negative, got %v", bufferMeters)
	}
	polygons, err := g.Polygons()
	if err != nil {
		return nil, err
	}
	bbox, err := ComputeBBox(g)
	if err != nil {
		return nil, err
	}
	return &Region{
		polygons: toOrb(polygons),
		buffer:   bufferMeters,
		bbox:     expandBBox(bbox, bufferMeters),
	}, nil
}

// NewBoundsRegion returns the bounding box of g grown by bufferMeters. It is
// the coarse context area used when searching for scenes.
func NewBoundsRegion(g *Geometry, bufferMeters float64) (*Region, error) {
	bbox, err := ComputeBBox(g)
	if err != nil {
		return nil, err
	}
	box, err := NewPolygonFromBBox(bbox)
	if err != nil {
		return nil, err
	}
	return NewRegion(box, bufferMeters)
}

// Buffer returns the buffer distance in meters.
func (r *Region) Buffer() float64 {
	return r.buffer
}

// Bounds returns [west, south, east, north] including the buffer.
func (r *Region) Bounds() []float64 {
	out := make([]float64, 4)
	copy(out, r.bbox)
	return out
}

// Envelope returns the buffered bounds as a Polygon geometry.
func (r *Region) Envelope() *Geometry {
	g, _ := NewPolygonFromBBox(r.bbox)
	return g
}

// Contains reports whether (lon, lat) lies in the buffered region.
func (r *Region) Contains(lon, lat float64) bool {
	if lon < r.bbox[0] || lon > r.bbox[2] || lat < r.bbox[1] || lat > r.bbox[3] {
		return false
	}
	if planar.MultiPolygonContains(r.polygons, orb.Point{lon, lat}) {
		return true
	}
	if r.buffer == 0 {
		return false
	}
	for _, polygon := range r.polygons {
		for _, ring := range polygon {
			if ringDistance(ring, lon, lat) <= r.buffer {
				return true
			}
		}
	}
	return false
}

// ringDistance returns the shortest distance in meters from (lon, lat) to
// the ring's edges, using a local equirectangular projection centered on the
// point.
func ringDistance(ring orb.Ring, lon, lat float64) float64 {
	kx := MetersPerDegree * math.Cos(lat*math.Pi/180)
	ky := MetersPerDegree
	origin := orb.Point{0, 0}
	best := math.Inf(1)
	for i := 1; i < len(ring); i++ {
		a := orb.Point{(ring[i-1][0] - lon) * kx, (ring[i-1][1] - lat) * ky}
		b := orb.Point{(ring[i][0] - lon) * kx, (ring[i][1] - lat) * ky}
		best = math.Min(best, planar.DistanceFromSegment(a, b, origin))
	}
	return best
}

func toOrb(polygons [][][][]float64) orb.MultiPolygon {
	out := make(orb.MultiPolygon, 0, len(polygons))
	for _, rings := range polygons {
		poly := make(orb.Polygon, 0, len(rings))
		for _, ring := range rings {
			r := make(orb.Ring, 0, len(ring))
			for _, p := range ring {
				if len(p) < 2 {
					continue
				}
				r = append(r, orb.Point{p[0], p[1]})
			}
			poly = append(poly, r)
		}
		out = append(out, poly)
	}
	return out
}

func fromOrb(poly orb.Polygon) [][][]float64 {
	rings := make([][][]float64, 0, len(poly))
	for _, ring := range poly {
		points := make([][]float64, len(ring))
		for i, p := range ring {
			points[i] = []float64{p[0], p[1]}
		}
		rings = append(rings, points)
	}
	return rings
}

// expandBBox grows a bbox by meters on every side. Longitude growth uses the
// latitude closest to a pole so the box always contains the buffer.
func expandBBox(bbox []float64, meters float64) []float64 {
	dLat := meters / MetersPerDegree
	maxAbsLat := math.Min(89.9, math.Max(math.Abs(bbox[1]), math.Abs(bbox[3]))+dLat)
	dLon := meters / (MetersPerDegree * math.Cos(maxAbsLat*math.Pi/180))
	return []float64{bbox[0] - dLon, bbox[1] - dLat, bbox[2] + dLon, bbox[3] + dLat}
}
