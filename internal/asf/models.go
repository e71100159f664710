package asf

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// GeoJSONResponse represents ASF's GeoJSON FeatureCollection response
type GeoJSONResponse struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature is a single ASF search result.
type Feature struct {
	Type       string     `json:"type"`
	Geometry   *Geometry  `json:"geometry"`
	Properties Properties `json:"properties"`
}

// Geometry represents a GeoJSON geometry
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Properties is the subset of ASF granule metadata the pipeline reads.
type Properties struct {
	SceneName       string `json:"sceneName"`
	FileID          string `json:"fileID"`
	Platform        string `json:"platform"`
	BeamModeType    string `json:"beamModeType"`
	Polarization    string `json:"polarization"`
	FlightDirection string `json:"flightDirection"`
	ProcessingLevel string `json:"processingLevel"`
	StartTime       string `json:"startTime"`
	StopTime        string `json:"stopTime"`
	URL             string `json:"url"`
	FileName        string `json:"fileName"`
	PathNumber      *int   `json:"pathNumber"`
	FrameNumber     *int   `json:"frameNumber"`
}

// ID returns the fileID, falling back to the scene name.
func (p Properties) ID() string {
	if p.FileID != "" {
		return p.FileID
	}
	return p.SceneName
}

// Polarizations splits ASF polarization strings such as "VV+VH" or "HH".
func (p Properties) Polarizations() []string {
	var out []string
	for _, part := range strings.FieldsFunc(p.Polarization, func(r rune) bool { return r == '+' || r == ',' || r == ' ' }) {
		out = append(out, strings.ToUpper(part))
	}
	return out
}

// ASF time formats observed in API responses.
var timeFormats = []string{
	"2006-01-02T15:04:05.000000",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// ParseTime parses an ASF timestamp into UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}
	var lastErr error
	for _, format := range timeFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("failed to parse ASF time %q: %w", s, lastErr)
}
