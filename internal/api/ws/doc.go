// Package ws serves controller WebSocket connections.
//
// Each connection gets a read loop that validates envelopes and hands them
// to the broker, and a write pump that serialises everything sent back.
// Connections are throttled per socket; a controller that stops reading is
// dropped once its send buffer fills.
package ws
