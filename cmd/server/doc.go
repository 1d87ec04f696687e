// Package main runs the ChromeLink broker.
//
// The broker accepts controller sessions on / and /session, relays their
// commands to the single browser extension attached on /extension, and
// routes each reply back to the session that asked.
//
// Configuration:
//   - Optional YAML or TOML file named by CHROMELINK_CONFIG
//   - Environment variables (12-factor)
//   - CLI flags (override both)
//
// Usage:
//
//	# Production mode
//	./server -port 9000
//
//	# Development mode with a simulated extension attached
//	./server -dev -simulate
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
