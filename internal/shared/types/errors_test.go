package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsCommandError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode ErrorCode
		wantMsg  string
	}{
		{"command error", NewCommandError(CodeTabNotFound, "Tab %d not found", 7), CodeTabNotFound, "Tab 7 not found"},
		{"wrapped", fmt.Errorf("forward: %w", NewCommandError(CodeTimeout, "Request timed out: click")), CodeTimeout, "Request timed out: click"},
		{"plain error", errors.New("boom"), CodeExecutionError, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := AsCommandError(tt.err)
			require.NotNil(t, ce)
			assert.Equal(t, tt.wantCode, ce.Code)
			assert.Equal(t, tt.wantMsg, ce.Message)
		})
	}

	assert.Nil(t, AsCommandError(nil))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestCommandErrorIs(t *testing.T) {
	err := fmt.Errorf("x: %w", NewCommandError(CodeLinkUnavailable, "down"))
	assert.ErrorIs(t, err, &CommandError{Code: CodeLinkUnavailable})
	assert.NotErrorIs(t, err, &CommandError{Code: CodeTimeout})
}

func TestFromPayload(t *testing.T) {
	assert.Nil(t, FromPayload(nil))

	ce := FromPayload(&ErrorPayload{Message: "script threw"})
	assert.Equal(t, CodeExecutionError, ce.Code)

	ce = FromPayload(&ErrorPayload{Code: CodeTabNotFound, Message: "Tab 3 not found"})
	assert.Equal(t, CodeTabNotFound, ce.Code)
}

func TestResponseShapes(t *testing.T) {
	ok, err := SuccessResponse("r1", map[string]bool{"success": true})
	require.NoError(t, err)
	raw, err := json.Marshal(ok)
	require.NoError(t, err)
	assert.JSONEq(t, `{"requestId":"r1","result":{"success":true}}`, string(raw))

	raw, err = json.Marshal(ErrorResponse("r2", NewCommandError(CodeMissingParams, "Unknown action: fly")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"requestId":"r2","error":{"code":"MISSING_PARAMS","message":"Unknown action: fly"}}`, string(raw))
}

func TestServerMessageIsEvent(t *testing.T) {
	var msg ServerMessage
	require.NoError(t, json.Unmarshal([]byte(`{"type":"sessionCreated","sessionId":"sess_1"}`), &msg))
	assert.True(t, msg.IsEvent())

	msg = ServerMessage{}
	require.NoError(t, json.Unmarshal([]byte(`{"requestId":"a","result":{}}`), &msg))
	assert.False(t, msg.IsEvent())
}
