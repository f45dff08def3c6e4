package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	c := New()

	c.RecordPublish("ok")
	c.RecordPublish("ok")
	c.RecordPublish("already_exists")
	c.RecordFetch("not_found")
	c.RecordInconsistency(MissingArtifact)
	c.RecordSwept(3)
	c.RecordSwept(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Publishes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Publishes.WithLabelValues("already_exists")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Fetches.WithLabelValues("not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Inconsistencies.WithLabelValues(MissingArtifact)))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.StagingSwept))
}

func TestCollector_NilIsNoOp(t *testing.T) {
	var c *Collector
	c.RecordPublish("ok")
	c.RecordFetch("ok")
	c.RecordInconsistency(ChecksumMismatch)
	c.RecordSwept(1)
	c.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.RecordInconsistency(MissingArtifact)
	c.RecordHTTPRequest("POST", "/cfg", 201, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "cfghost_catalog_inconsistencies_total")
	assert.Contains(t, string(body), `cfghost_http_requests_total{method="POST",route="/cfg",status_code="201"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
