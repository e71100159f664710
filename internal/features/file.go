package features

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/robert-malhotra/reservoir-area/pkg/geojson"
)

// DefaultIDProperty is the feature property holding the reservoir ID.
const DefaultIDProperty = "ID"

// FileSource reads a GeoJSON FeatureCollection from disk.
type FileSource struct {
	path       string
	idProperty string
}

// NewFileSource returns a source for the collection at path. An empty
// idProperty selects DefaultIDProperty.
func NewFileSource(path, idProperty string) *FileSource {
	if idProperty == "" {
		idProperty = DefaultIDProperty
	}
	return &FileSource{path: path, idProperty: idProperty}
}

// Load implements Source.
func (s *FileSource) Load(ctx context.Context, ids IDRange) ([]Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feature file: %w", err)
	}
	return s.decode(data, ids)
}

func (s *FileSource) decode(data []byte, ids IDRange) ([]Feature, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to decode feature collection: %w", err)
	}

	all := make([]Feature, 0, len(fc.Features))
	for i, f := range fc.Features {
		raw, ok := f.Properties[s.idProperty]
		if !ok {
			return nil, fmt.Errorf("%w: feature %d has no %q property", ErrInvalidFeature, i, s.idProperty)
		}
		id, err := parseID(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: feature %d: %v", ErrInvalidFeature, i, err)
		}
		all = append(all, Feature{ID: id, Geometry: f.Geometry})
	}
	return collect(all, ids)
}

// parseID accepts integral JSON numbers and numeric strings.
func parseID(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("ID %s is not a number", string(raw))
		}
		n = json.Number(s)
	}
	if id, err := n.Int64(); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("ID %s is not an integer", n.String())
	}
	return int64(f), nil
}
