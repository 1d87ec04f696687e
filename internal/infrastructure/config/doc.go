// Package config provides 12-factor configuration for the broker.
//
// Values come from, in increasing precedence: built-in defaults, an optional
// YAML or TOML file named by CHROMELINK_CONFIG, and environment variables.
// cmd/server flags override the result.
//
// Configuration Sections:
//   - Server: listen address, connection cap, shutdown timeout, CORS origins
//   - Session: grace period and its clamp range
//   - Request: command deadline, waitForElement slack, sweep interval
//   - Extension: link keepalive, buffering, breaker
//   - Controller: socket limits and per-connection command rate
//   - Injection: script validation toggle
//   - Logging: level and output format
//   - RateLimit: per-IP HTTP rate limit
//
// Example Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println("listening on", cfg.Addr())
package config
