package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsIndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.IncDropped()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.DroppedResponses))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.DroppedResponses))
}

func TestRecordCommand(t *testing.T) {
	m := NewMetrics()

	m.RecordCommand("openTab", "", 10*time.Millisecond)
	m.RecordCommand("openTab", "TIMEOUT", time.Second)
	m.IncTimeout("openTab")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("openTab", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("openTab", "TIMEOUT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Timeouts.WithLabelValues("openTab")))

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.CommandsTotal)
	assert.Equal(t, int64(1), snap.CommandErrors)
	assert.Equal(t, int64(1), snap.Timeouts)
}

func TestGauges(t *testing.T) {
	m := NewMetrics()

	m.SetSessions(3, 1)
	m.SetPending(7)
	m.SetInjections(2)
	m.SetLinkUp(true)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Sessions.WithLabelValues("active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions.WithLabelValues("suspended")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.PendingRequests))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Injections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinkUp))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinkConnections))

	m.SetLinkUp(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LinkUp))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinkConnections))
}

func TestWSConnections(t *testing.T) {
	m := NewMetrics()

	m.IncWSConnections(RoleController)
	m.IncWSConnections(RoleController)
	m.IncWSConnections(RoleExtension)
	m.DecWSConnections(RoleController)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSConnections.WithLabelValues(RoleController)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSConnections.WithLabelValues(RoleExtension)))
	assert.Equal(t, int64(1), m.Snapshot().ActiveWSClient)
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/ping", "200")))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.True(t, strings.Contains(body, "chromelink_http_requests_total"))
	assert.True(t, strings.Contains(body, "chromelink_uptime_seconds"))
}

func TestTimer(t *testing.T) {
	m := NewMetrics()
	timer := NewTimer(m, "click")
	d := timer.Stop("TAB_NOT_FOUND")

	assert.GreaterOrEqual(t, d, time.Duration(0))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("click", "TAB_NOT_FOUND")))
}
