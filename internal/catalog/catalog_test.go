package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/reservoir-area/internal/asf"
	"github.com/robert-malhotra/reservoir-area/pkg/geojson"
)

type fakeSearcher struct {
	resp   *asf.GeoJSONResponse
	err    error
	params asf.SearchParams
}

func (f *fakeSearcher) Search(_ context.Context, params asf.SearchParams) (*asf.GeoJSONResponse, error) {
	f.params = params
	return f.resp, f.err
}

func scene(name, start, pol string) asf.Feature {
	return asf.Feature{
		Type: "Feature",
		Properties: asf.Properties{
			SceneName:       name,
			FileID:          name + "-GRD_HD",
			Platform:        "Sentinel-1A",
			BeamModeType:    "IW",
			Polarization:    pol,
			ProcessingLevel: "GRD_HD",
			StartTime:       start,
			URL:             "https://example.com/" + name + ".zip",
		},
	}
}

func testQuery(t *testing.T) Query {
	t.Helper()
	g, err := geojson.NewPolygonFromBBox([]float64{100, 10, 100.1, 10.1})
	require.NoError(t, err)
	return Query{
		Intersects:      g,
		Start:           time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC),
		End:             time.Date(2024, 4, 17, 0, 0, 0, 0, time.UTC),
		Polarizations:   []string{"VV", "VH"},
		BeamMode:        "IW",
		Dataset:         "SENTINEL-1",
		ProcessingLevel: []string{"GRD_HD"},
	}
}

func TestScenes_FiltersAndSorts(t *testing.T) {
	searcher := &fakeSearcher{resp: &asf.GeoJSONResponse{Features: []asf.Feature{
		scene("late", "2024-04-01T10:00:00.000000", "VV+VH"),
		scene("early", "2024-03-20T10:00:00.000000", "VV+VH"),
		scene("single-pol", "2024-03-25T10:00:00.000000", "VV"),
		scene("on-end", "2024-04-17T00:00:00.000000", "VV+VH"),
		scene("on-start", "2024-03-18T00:00:00.000000", "VV+VH"),
		{Properties: asf.Properties{SceneName: "broken", StartTime: "not a time"}},
	}}}

	items, err := New(searcher).Scenes(context.Background(), testQuery(t))
	require.NoError(t, err)

	var ids []string
	for _, item := range items {
		ids = append(ids, item.Id)
	}
	assert.Equal(t, []string{"on-start-GRD_HD", "early-GRD_HD", "late-GRD_HD"}, ids)

	assert.Equal(t, []string{"VV+VH"}, searcher.params.Polarization)
	assert.Equal(t, []string{"IW"}, searcher.params.BeamMode)
	assert.Equal(t, []string{"SENTINEL-1"}, searcher.params.Dataset)
	assert.Contains(t, searcher.params.IntersectsWith, "POLYGON")
}

func TestScenes_DropsOtherBeamModes(t *testing.T) {
	ew := scene("extra-wide", "2024-03-21T10:00:00.000000", "VV+VH")
	ew.Properties.BeamModeType = "EW"
	lower := scene("lower-case", "2024-03-22T10:00:00.000000", "VV+VH")
	lower.Properties.BeamModeType = "iw"
	searcher := &fakeSearcher{resp: &asf.GeoJSONResponse{Features: []asf.Feature{
		scene("iw", "2024-03-20T10:00:00.000000", "VV+VH"),
		ew,
		lower,
	}}}

	items, err := New(searcher).Scenes(context.Background(), testQuery(t))
	require.NoError(t, err)

	var ids []string
	for _, item := range items {
		ids = append(ids, item.Id)
	}
	assert.Equal(t, []string{"iw-GRD_HD", "lower-case-GRD_HD"}, ids)
}

func TestScenes_SearchError(t *testing.T) {
	boom := errors.New("boom")
	_, err := New(&fakeSearcher{err: boom}).Scenes(context.Background(), testQuery(t))
	assert.ErrorIs(t, err, boom)
}

func TestScenes_RejectsEmptyWindow(t *testing.T) {
	q := testQuery(t)
	q.End = q.Start
	_, err := New(&fakeSearcher{}).Scenes(context.Background(), q)
	assert.Error(t, err)
}

func TestItemFromFeature(t *testing.T) {
	f := scene("S1A_X", "2024-03-20T10:00:00.000000", "VV+VH")
	f.Properties.FlightDirection = "ASCENDING"
	f.Geometry = &asf.Geometry{
		Type:        "Polygon",
		Coordinates: []byte(`[[[0,0],[1,0],[1,1],[0,1],[0,0]]]`),
	}

	item, err := ItemFromFeature(&f)
	require.NoError(t, err)

	assert.Equal(t, "S1A_X-GRD_HD", item.Id)
	assert.Equal(t, []float64{0, 0, 1, 1}, item.Bbox)
	assert.Equal(t, []string{"VV", "VH"}, Polarizations(item))
	assert.Equal(t, "IW", item.Properties[PropInstrumentMode])
	assert.Equal(t, "ascending", item.Properties[PropOrbitState])
	assert.Equal(t, "https://example.com/S1A_X.zip", DataHref(item))

	start, ok := StartTime(item)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC), start)
}

func TestItemFromFeature_Errors(t *testing.T) {
	_, err := ItemFromFeature(nil)
	assert.Error(t, err)

	_, err = ItemFromFeature(&asf.Feature{})
	assert.Error(t, err)

	_, err = ItemFromFeature(&asf.Feature{Properties: asf.Properties{SceneName: "x"}})
	assert.Error(t, err)
}
