package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/supportd/internal/telemetry"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	m := NewHTTPMetrics(tel.Telemetry, nil)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.DELETE("/api/chat/:conversation_id", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	for _, r := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/health", nil),
		httptest.NewRequest(http.MethodDelete, "/api/chat/abc", nil),
		httptest.NewRequest(http.MethodDelete, "/api/chat/def", nil),
	} {
		e.ServeHTTP(httptest.NewRecorder(), r)
	}

	rm, err := tel.Collect(context.Background())
	require.NoError(t, err)

	requests, ok := telemetry.FindMetric(rm, "supportd.http.requests_total")
	require.True(t, ok, "requests counter not found")
	sum, ok := requests.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	endpoints := map[string]int64{}
	for _, dp := range sum.DataPoints {
		total += dp.Value
		v, _ := dp.Attributes.Value("endpoint")
		endpoints[v.AsString()] += dp.Value
	}
	assert.Equal(t, int64(3), total)
	assert.Equal(t, int64(2), endpoints["/api/chat/:conversation_id"], "path parameters are folded into the route")

	dur, ok := telemetry.FindMetric(rm, "supportd.http.request_duration_seconds")
	require.True(t, ok, "duration histogram not found")
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)

	_, ok = telemetry.FindMetric(rm, "supportd.http.response_size_bytes")
	assert.True(t, ok, "response size histogram not found")
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "unmatched"},
		{"/health", "/health"},
		{"/api/chat/:conversation_id", "/api/chat/:conversation_id"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizePath(tt.input), tt.input)
	}
}
