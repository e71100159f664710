package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/reservoir-area/internal/pipeline"
)

func TestMetrics_Observer(t *testing.T) {
	m := New()

	m.FetchDone(time.Second, nil)
	m.FetchDone(time.Second, errors.New("boom"))
	m.FetchRetried()
	m.StepDropped()
	m.StepDropped()
	m.FeatureDone(3*time.Second, nil)
	m.PartitionDone(pipeline.PartitionReport{Index: 4, Exported: true})
	m.PartitionDone(pipeline.PartitionReport{Index: 5, Exported: true, Failed: 1})
	m.PartitionDone(pipeline.PartitionReport{Index: 6})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchRetries))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.stepsDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.features.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.partitions.WithLabelValues("complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.partitions.WithLabelValues("incomplete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.partitions.WithLabelValues("export_failed")))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.lastPartition))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.StepDropped()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "reservoir_area_steps_dropped_total 1"))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.FetchDone(time.Second, nil)
	m.FetchRetried()
	m.StepDropped()
	m.FeatureDone(time.Second, nil)
	m.PartitionDone(pipeline.PartitionReport{})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
