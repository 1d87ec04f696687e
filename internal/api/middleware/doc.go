// Package middleware provides the gin middleware stack for the broker's
// HTTP surface: CORS, per-IP rate limiting and request logging.
package middleware
