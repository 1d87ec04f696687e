package tracing

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// HTTPMiddleware traces every HTTP request. WebSocket upgrades are traced
// for the handshake only; the session itself is traced per command.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID, parentID := ExtractTraceContext(map[string]string{
			"X-Trace-ID": c.GetHeader("X-Trace-ID"),
			"X-Span-ID":  c.GetHeader("X-Span-ID"),
		})
		ctx := WithTrace(c.Request.Context(), traceID, parentID)

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := tracer.StartSpan(ctx, "http "+name)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.url", c.Request.URL.Path)

		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Trace-ID", span.TraceID.String())
		c.Header("X-Span-ID", span.SpanID.String())

		c.Next()

		status := c.Writer.Status()
		span.SetTag("http.status", strconv.Itoa(status))
		span.SetStatus(strconv.Itoa(status))
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}
		tracer.Submit(span)
	}
}
