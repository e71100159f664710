// Package features loads reservoir polygons from the supported stores and
// validates them before they reach the pipeline.
package features

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"

	"github.com/robert-malhotra/reservoir-area/pkg/geojson"
)

var (
	// ErrInvalidFeature is returned for a feature whose geometry cannot be processed.
	ErrInvalidFeature = errors.New("invalid feature")

	// ErrDuplicateID is returned when two features share an ID.
	ErrDuplicateID = errors.New("duplicate feature ID")
)

// Feature is one reservoir polygon.
type Feature struct {
	ID       int64
	Geometry *geojson.Geometry
}

// IDRange selects IDs strictly between Min and Max.
type IDRange struct {
	Min int64
	Max int64
}

// AllIDs matches every ID.
var AllIDs = IDRange{Min: math.MinInt64, Max: math.MaxInt64}

// Contains reports whether id lies strictly inside the range.
func (r IDRange) Contains(id int64) bool {
	return id > r.Min && id < r.Max
}

// Source loads features in ascending ID order.
type Source interface {
	Load(ctx context.Context, ids IDRange) ([]Feature, error)
}

// Validate checks that f has a polygonal geometry with closed-size rings of
// finite coordinates.
func Validate(f Feature) error {
	if f.Geometry == nil {
		return fmt.Errorf("%w: feature %d has no geometry", ErrInvalidFeature, f.ID)
	}
	polys, err := f.Geometry.Polygons()
	if err != nil {
		return fmt.Errorf("%w: feature %d: %v", ErrInvalidFeature, f.ID, err)
	}
	if len(polys) == 0 {
		return fmt.Errorf("%w: feature %d has an empty geometry", ErrInvalidFeature, f.ID)
	}
	for _, rings := range polys {
		if len(rings) == 0 {
			return fmt.Errorf("%w: feature %d has a polygon without rings", ErrInvalidFeature, f.ID)
		}
		for _, ring := range rings {
			if len(ring) < 4 {
				return fmt.Errorf("%w: feature %d has a ring with %d positions", ErrInvalidFeature, f.ID, len(ring))
			}
			for _, pos := range ring {
				if len(pos) < 2 || !finite(pos[0]) || !finite(pos[1]) {
					return fmt.Errorf("%w: feature %d has a bad position %v", ErrInvalidFeature, f.ID, pos)
				}
			}
		}
	}
	return nil
}

// collect filters by ids, validates, sorts by ID and rejects duplicates.
func collect(in []Feature, ids IDRange) ([]Feature, error) {
	out := make([]Feature, 0, len(in))
	for _, f := range in {
		if !ids.Contains(f.ID) {
			continue
		}
		if err := Validate(f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	for i := 1; i < len(out); i++ {
		if out[i].ID == out[i-1].ID {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateID, out[i].ID)
		}
	}
	return out, nil
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// checkIdentifier guards table and column names interpolated into SQL.
func checkIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid SQL identifier %q", name)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
