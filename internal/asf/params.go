package asf

import (
	"net/url"
	"strconv"
	"time"
)

// SearchParams represents parameters for ASF search queries
type SearchParams struct {
	Dataset         []string // e.g. "SENTINEL-1"
	ProcessingLevel []string // e.g. "GRD_HD"
	BeamMode        []string // e.g. "IW"
	Polarization    []string // e.g. "VV+VH"

	// IntersectsWith is a WKT geometry.
	IntersectsWith string

	// Start and End bound the acquisition time; ASF treats both as inclusive.
	Start *time.Time
	End   *time.Time

	MaxResults int
}

// ToURLValues converts SearchParams to url.Values for query string building.
// Multi-valued filters are sent as repeated parameters except processingLevel,
// which ASF expects comma-separated.
func (p *SearchParams) ToURLValues() url.Values {
	values := url.Values{}

	for _, d := range p.Dataset {
		values.Add("dataset", d)
	}
	for _, bm := range p.BeamMode {
		values.Add("beamMode", bm)
	}
	for _, pol := range p.Polarization {
		values.Add("polarization", pol)
	}
	if len(p.ProcessingLevel) > 0 {
		joined := p.ProcessingLevel[0]
		for _, level := range p.ProcessingLevel[1:] {
			joined += "," + level
		}
		values.Set("processingLevel", joined)
	}

	if p.IntersectsWith != "" {
		values.Set("intersectsWith", p.IntersectsWith)
	}
	if p.Start != nil {
		values.Set("start", formatASFTime(*p.Start))
	}
	if p.End != nil {
		values.Set("end", formatASFTime(*p.End))
	}
	if p.MaxResults > 0 {
		values.Set("maxResults", strconv.Itoa(p.MaxResults))
	}

	values.Set("output", "geojson")
	return values
}

// formatASFTime formats a time as ISO 8601 UTC, YYYY-MM-DDTHH:MM:SSZ.
func formatASFTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
