/*
Package tracing provides lightweight span tracing logged through zap.

Each HTTP request and each command forwarded to the extension gets a span.
Trace context travels in X-Trace-ID / X-Span-ID headers so a controller can
stitch its own logs to the broker's.

# Usage

	tracer := tracing.New("chromelink", logger)
	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "command.click")
	span.SetTag("session_id", sessionID)
	// ...
	tracer.Submit(span)
*/
package tracing
