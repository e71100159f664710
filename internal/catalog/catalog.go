// Package catalog discovers Sentinel-1 scenes for a region and time window
// and describes them as STAC items.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/planetlabs/go-stac"

	"github.com/robert-malhotra/reservoir-area/internal/asf"
	"github.com/robert-malhotra/reservoir-area/pkg/geojson"
)

// STACVersion is stamped on every item the catalog produces.
const STACVersion = "1.0.0"

// Item property keys.
const (
	PropStartDatetime  = "start_datetime"
	PropEndDatetime    = "end_datetime"
	PropPolarizations  = "sar:polarizations"
	PropInstrumentMode = "sar:instrument_mode"
	PropProductType    = "sar:product_type"
	PropPlatform       = "platform"
	PropOrbitState     = "sat:orbit_state"

	// DataAsset is the asset key holding the scene's product URL.
	DataAsset = "data"
)

// Searcher is the subset of the ASF client the catalog needs.
type Searcher interface {
	Search(ctx context.Context, params asf.SearchParams) (*asf.GeoJSONResponse, error)
}

// Query selects scenes. Start is inclusive and End exclusive.
type Query struct {
	Intersects      *geojson.Geometry
	Start           time.Time
	End             time.Time
	Polarizations   []string
	BeamMode        string
	Dataset         string
	ProcessingLevel []string
	MaxResults      int
}

// Catalog wraps a Searcher and normalizes its results.
type Catalog struct {
	searcher Searcher
	logger   *slog.Logger
}

// New creates a Catalog over searcher.
func New(searcher Searcher) *Catalog {
	return &Catalog{searcher: searcher, logger: slog.Default()}
}

// WithLogger sets a custom logger for the catalog
func (c *Catalog) WithLogger(logger *slog.Logger) *Catalog {
	c.logger = logger
	return c
}

// Scenes returns the items matching q sorted by acquisition start, then ID.
// Scenes lacking a requested polarization, acquired in another beam mode or
// starting outside [Start, End) are dropped.
func (c *Catalog) Scenes(ctx context.Context, q Query) ([]*stac.Item, error) {
	params, err := q.searchParams()
	if err != nil {
		return nil, err
	}

	resp, err := c.searcher.Search(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to search scenes: %w", err)
	}

	items := make([]*stac.Item, 0, len(resp.Features))
	for i := range resp.Features {
		item, err := ItemFromFeature(&resp.Features[i])
		if err != nil {
			c.logger.WarnContext(ctx, "skipping untranslatable scene",
				slog.String("scene", resp.Features[i].Properties.SceneName),
				slog.String("error", err.Error()),
			)
			continue
		}

		start, ok := StartTime(item)
		if !ok || start.Before(q.Start) || !start.Before(q.End) {
			continue
		}
		if !hasAll(Polarizations(item), q.Polarizations) {
			continue
		}
		if q.BeamMode != "" && !strings.EqualFold(InstrumentMode(item), q.BeamMode) {
			continue
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		ti, _ := StartTime(items[i])
		tj, _ := StartTime(items[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return items[i].Id < items[j].Id
	})

	c.logger.DebugContext(ctx, "scenes resolved",
		slog.Int("returned", len(resp.Features)),
		slog.Int("kept", len(items)),
	)
	return items, nil
}

func (q Query) searchParams() (asf.SearchParams, error) {
	if q.Intersects == nil {
		return asf.SearchParams{}, fmt.Errorf("query geometry is required")
	}
	if !q.End.After(q.Start) {
		return asf.SearchParams{}, fmt.Errorf("query window is empty: %s to %s", q.Start, q.End)
	}

	wkt, err := geojson.ToWKT(q.Intersects)
	if err != nil {
		return asf.SearchParams{}, fmt.Errorf("failed to encode query geometry: %w", err)
	}

	start, end := q.Start.UTC(), q.End.UTC()
	params := asf.SearchParams{
		IntersectsWith:  wkt,
		Start:           &start,
		End:             &end,
		ProcessingLevel: q.ProcessingLevel,
		MaxResults:      q.MaxResults,
	}
	if q.Dataset != "" {
		params.Dataset = []string{q.Dataset}
	}
	if q.BeamMode != "" {
		params.BeamMode = []string{q.BeamMode}
	}
	if len(q.Polarizations) > 0 {
		params.Polarization = []string{strings.Join(q.Polarizations, "+")}
	}
	return params, nil
}

// ItemFromFeature converts an ASF search result into a STAC item.
func ItemFromFeature(feature *asf.Feature) (*stac.Item, error) {
	if feature == nil {
		return nil, fmt.Errorf("feature is nil")
	}
	props := feature.Properties

	itemID := props.ID()
	if itemID == "" {
		return nil, fmt.Errorf("feature has no fileID or sceneName")
	}
	if props.StartTime == "" {
		return nil, fmt.Errorf("feature %s has no start time", itemID)
	}

	item := &stac.Item{
		Version:    STACVersion,
		Id:         itemID,
		Properties: make(map[string]any),
		Assets:     make(map[string]*stac.Asset),
		Links:      make([]*stac.Link, 0),
	}

	if feature.Geometry != nil {
		geom := &geojson.Geometry{Type: feature.Geometry.Type, Coordinates: feature.Geometry.Coordinates}
		item.Geometry = geom
		if bbox, err := geojson.ComputeBBox(geom); err == nil {
			item.Bbox = bbox
		}
	}

	start, err := asf.ParseTime(props.StartTime)
	if err != nil {
		return nil, fmt.Errorf("failed to parse start time: %w", err)
	}
	item.Properties[PropStartDatetime] = start
	if props.StopTime != "" {
		stop, err := asf.ParseTime(props.StopTime)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stop time: %w", err)
		}
		item.Properties[PropEndDatetime] = stop
	}
	item.Properties["datetime"] = nil

	if props.Platform != "" {
		item.Properties[PropPlatform] = strings.ToLower(props.Platform)
	}
	if props.BeamModeType != "" {
		item.Properties[PropInstrumentMode] = props.BeamModeType
	}
	if pols := props.Polarizations(); len(pols) > 0 {
		item.Properties[PropPolarizations] = pols
	}
	if props.ProcessingLevel != "" {
		item.Properties[PropProductType] = props.ProcessingLevel
	}
	if props.FlightDirection != "" {
		item.Properties[PropOrbitState] = strings.ToLower(props.FlightDirection)
	}

	if props.URL != "" {
		item.Assets[DataAsset] = &stac.Asset{
			Href:  props.URL,
			Title: props.FileName,
			Type:  "application/zip",
			Roles: []string{"data"},
		}
	}

	return item, nil
}

// StartTime returns the item's acquisition start.
func StartTime(item *stac.Item) (time.Time, bool) {
	switch v := item.Properties[PropStartDatetime].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		return t, err == nil
	default:
		return time.Time{}, false
	}
}

// InstrumentMode returns the item's SAR beam mode, or "" when absent.
func InstrumentMode(item *stac.Item) string {
	mode, _ := item.Properties[PropInstrumentMode].(string)
	return mode
}

// Polarizations returns the item's polarization list.
func Polarizations(item *stac.Item) []string {
	switch v := item.Properties[PropPolarizations].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, p := range v {
			if s, ok := p.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// DataHref returns the href of the item's data asset, if any.
func DataHref(item *stac.Item) string {
	if a, ok := item.Assets[DataAsset]; ok && a != nil {
		return a.Href
	}
	return ""
}

func hasAll(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if strings.EqualFold(h, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
