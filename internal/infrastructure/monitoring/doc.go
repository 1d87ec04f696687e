/*
Package monitoring provides Prometheus metrics for the broker.

Metrics live on a private registry so several brokers can coexist in one
process (tests do this). The registry is exposed through Handler.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "openTab")
	// ... await the extension reply ...
	timer.Stop("") // or an error code such as "TIMEOUT"
*/
package monitoring
