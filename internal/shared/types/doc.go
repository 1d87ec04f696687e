// Package types provides the wire protocol shared by the broker, the
// extension link and the Go controller client.
//
// Controller Protocol:
//   - Envelope: inbound {action, params, requestId}
//   - Response: outbound {requestId, result} or {requestId, error}
//   - Event: unsolicited {type, sessionId} (sessionCreated, sessionResumed)
//
// Extension Protocol:
//   - LinkCommand: broker to extension, tagged with session context
//   - LinkReply: extension to broker, correlated by the tagged requestId
//
// Errors:
//   - CommandError carries one of the closed error codes and implements error
//   - AsCommandError normalizes any error into the wire shape
package types
