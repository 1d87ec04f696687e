// Package http exposes the broker's read-only operational endpoints and the
// extension's WebSocket upgrade.
//
//	GET /health         link state, session and pending counts
//	GET /sessions       live sessions
//	GET /sessions/:id   one session with injections and owned tabs
//	GET /extension      extension link upgrade (409 when already attached)
package http
