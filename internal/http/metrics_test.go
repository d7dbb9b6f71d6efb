package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: zap.NewNop(),
	}
	m.init()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/api/v1/messages/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Param("id"))
	})

	for _, path := range []string{"/api/v1/messages/1", "/api/v1/messages/2", "/nope"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			found[md.Name] = true
			if md.Name != "recalld.http.requests_total" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			byRoute := map[string]int64{}
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(attribute.Key("endpoint"))
				byRoute[v.AsString()] += dp.Value
			}
			assert.Equal(t, int64(2), byRoute["/api/v1/messages/:id"], "ids collapse to the route pattern")
			assert.Len(t, byRoute, 2)
		}
	}
	assert.True(t, found["recalld.http.requests_total"])
	assert.True(t, found["recalld.http.request_duration_seconds"])
	assert.True(t, found["recalld.http.response_size_bytes"])
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "unmatched", routeLabel(""))
	assert.Equal(t, "/health", routeLabel("/health"))
	assert.Equal(t, "/api/v1/users/:id", routeLabel("/api/v1/users/:id"))
}
