package types

import "encoding/json"

// Event types pushed to controllers outside the request/response cycle
const (
	EventSessionCreated = "sessionCreated"
	EventSessionResumed = "sessionResumed"
)

// Envelope is a controller command
type Envelope struct {
	Action    string          `json:"action"`
	Params    json.RawMessage `json:"params,omitempty"`
	RequestID string          `json:"requestId"`
}

// Response is the terminal answer to one Envelope.
// Exactly one of Result and Error is set.
type Response struct {
	RequestID string          `json:"requestId"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ErrorPayload   `json:"error,omitempty"`
}

// Event is an unsolicited session notification
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// ServerMessage is the union of everything a controller can receive.
// Controllers decode into it and branch on Type.
type ServerMessage struct {
	Type      string          `json:"type,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ErrorPayload   `json:"error,omitempty"`
}

// IsEvent reports whether the message is a session event rather than a response
func (m *ServerMessage) IsEvent() bool {
	return m.Type != ""
}

// LinkCommand is a command forwarded to the extension.
// RequestID is the broker-scoped correlation key; an empty RequestID marks a
// notification the extension must not answer.
type LinkCommand struct {
	RequestID       string            `json:"requestId,omitempty"`
	SessionID       string            `json:"sessionId"`
	ClientRequestID string            `json:"clientRequestId,omitempty"`
	Action          string            `json:"action"`
	Params          json.RawMessage   `json:"params,omitempty"`
	Trace           map[string]string `json:"trace,omitempty"`
}

// IsNotification reports whether no reply is expected
func (c *LinkCommand) IsNotification() bool {
	return c.RequestID == ""
}

// LinkReply is the extension's answer to a LinkCommand
type LinkReply struct {
	RequestID string          `json:"requestId"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ErrorPayload   `json:"error,omitempty"`
}

// SuccessResponse builds a result response, marshaling v
func SuccessResponse(requestID string, v interface{}) (*Response, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Response{RequestID: requestID, Result: raw}, nil
}

// ErrorResponse builds an error response from any error
func ErrorResponse(requestID string, err error) *Response {
	ce := AsCommandError(err)
	return &Response{
		RequestID: requestID,
		Error:     &ErrorPayload{Code: ce.Code, Message: ce.Message},
	}
}
