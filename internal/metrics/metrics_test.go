package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lawdata-collector/internal/apiclient"
)

func TestRecorderRunCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	rec, err := NewRecorder(reg)
	require.NoError(t, err)
	rec.now = func() time.Time { return time.Unix(1700000000, 0) }

	rec.RecordRunStart("laws")
	rec.RecordRunEnd("laws", 4, 2, 1)
	rec.RecordRunEnd("laws", 1, 0, 0)

	require.Equal(t, 5.0, testutil.ToFloat64(rec.collected.WithLabelValues("laws")))
	require.Equal(t, 2.0, testutil.ToFloat64(rec.duplicates.WithLabelValues("laws")))
	require.Equal(t, 1.0, testutil.ToFloat64(rec.failures.WithLabelValues("laws")))
	require.Equal(t, 1700000000.0, testutil.ToFloat64(rec.lastStarted.WithLabelValues("laws")))
	require.Equal(t, 1700000000.0, testutil.ToFloat64(rec.lastFinished.WithLabelValues("laws")))
	require.Equal(t, 0.0, testutil.ToFloat64(rec.collected.WithLabelValues("precedents")))
}

func TestRecorderAPIObservations(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	rec, err := NewRecorder(reg)
	require.NoError(t, err)

	var _ apiclient.Observer = rec
	rec.ObserveRequest("lawSearch.do", 200, 30*time.Millisecond)
	rec.ObserveRequest("lawSearch.do", 503, 10*time.Millisecond)
	rec.ObserveRetry("lawSearch.do", apiclient.KindServer)
	rec.ObserveRateLimitWait(200 * time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(rec.apiRequests.WithLabelValues("lawSearch.do", "503")))
	require.Equal(t, 1.0, testutil.ToFloat64(rec.apiRetries.WithLabelValues("lawSearch.do", "server")))
	require.Equal(t, 1, testutil.CollectAndCount(rec.rateLimitWait))
}

func TestNewRecorderRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewRecorder(reg)
	require.NoError(t, err)
	_, err = NewRecorder(reg)
	require.Error(t, err)
}

func TestHandlerServesRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	rec, err := NewRecorder(reg)
	require.NoError(t, err)
	rec.RecordRunEnd("precedents", 3, 0, 0)

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.Contains(rr.Body.String(), `collector_records_collected_total{job="precedents"} 3`))
}
