package logging

import "go.uber.org/zap"

// Standard field keys shared by every component.
const (
	KeySession = "session_id"
	KeyRequest = "request_id"
	KeyAction  = "action"
	KeyConn    = "conn_id"
)

func SessionID(id string) zap.Field { return zap.String(KeySession, id) }
func RequestID(id string) zap.Field { return zap.String(KeyRequest, id) }
func Action(a string) zap.Field     { return zap.String(KeyAction, a) }
func ConnID(id string) zap.Field    { return zap.String(KeyConn, id) }
