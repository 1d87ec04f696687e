package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// route template keeps label cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Timer measures a command round trip
type Timer struct {
	start   time.Time
	metrics *Metrics
	action  string
}

// NewTimer starts timing an action
func NewTimer(metrics *Metrics, action string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		action:  action,
	}
}

// Stop records the command with its outcome code, "" for success
func (t *Timer) Stop(outcome string) time.Duration {
	duration := time.Since(t.start)
	if t.metrics != nil {
		t.metrics.RecordCommand(t.action, outcome, duration)
	}
	return duration
}
