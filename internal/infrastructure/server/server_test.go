package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/chromelink/internal/infrastructure/config"
	"github.com/GriffinCanCode/chromelink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/chromelink/internal/shared/types"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Logging.Development = true

	srv, err := NewServer(cfg, logging.Nop())
	require.NoError(t, err)

	addr, err := srv.Listen()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Close(ctx)
	})
	return srv, addr.String()
}

func dialWS(t *testing.T, addr, path string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s%s", addr, path), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func getJSON(t *testing.T, url string) map[string]interface{} {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func waitForExtension(t *testing.T, addr string) {
	t.Helper()
	require.Eventually(t, func() bool {
		body := getJSON(t, "http://"+addr+"/health")
		return body["extensionConnected"] == true
	}, 2*time.Second, 10*time.Millisecond)
}

func readLink(t *testing.T, ext *websocket.Conn) types.LinkCommand {
	t.Helper()
	ext.SetReadDeadline(time.Now().Add(2 * time.Second))
	var cmd types.LinkCommand
	require.NoError(t, ext.ReadJSON(&cmd))
	return cmd
}

func readController(t *testing.T, ctl *websocket.Conn) types.ServerMessage {
	t.Helper()
	ctl.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg types.ServerMessage
	require.NoError(t, ctl.ReadJSON(&msg))
	return msg
}

func TestServerRoundTrip(t *testing.T) {
	_, addr := startServer(t)

	ext := dialWS(t, addr, "/extension")
	waitForExtension(t, addr)

	ctl := dialWS(t, addr, "/")
	ev := readController(t, ctl)
	require.Equal(t, types.EventSessionCreated, ev.Type)

	require.NoError(t, ctl.WriteJSON(types.Envelope{Action: "listTabs", RequestID: "r1"}))

	cmd := readLink(t, ext)
	assert.Equal(t, "listTabs", cmd.Action)
	assert.Equal(t, ev.SessionID, cmd.SessionID)
	assert.Equal(t, "r1", cmd.ClientRequestID)
	require.False(t, cmd.IsNotification())

	require.NoError(t, ext.WriteJSON(types.LinkReply{
		RequestID: cmd.RequestID,
		Result:    json.RawMessage(`[{"id":1,"url":"about:blank"}]`),
	}))

	resp := readController(t, ctl)
	assert.Equal(t, "r1", resp.RequestID)
	assert.Nil(t, resp.Error)
	assert.JSONEq(t, `[{"id":1,"url":"about:blank"}]`, string(resp.Result))

	res, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `chromelink_commands_total{action="listTabs",outcome="ok"} 1`)
	assert.Contains(t, string(body), "chromelink_extension_link_up 1")
}

func TestServerWithoutExtension(t *testing.T) {
	_, addr := startServer(t)

	body := getJSON(t, "http://"+addr+"/health")
	assert.Equal(t, "degraded", body["status"])

	ctl := dialWS(t, addr, "/session")
	readController(t, ctl)

	require.NoError(t, ctl.WriteJSON(types.Envelope{Action: "listTabs", RequestID: "r1"}))
	resp := readController(t, ctl)
	require.NotNil(t, resp.Error)
	assert.Equal(t, types.CodeLinkUnavailable, resp.Error.Code)
}

func TestCloseUnregistersInjections(t *testing.T) {
	srv, addr := startServer(t)

	ext := dialWS(t, addr, "/extension")
	waitForExtension(t, addr)

	ctl := dialWS(t, addr, "/")
	ev := readController(t, ctl)

	params := json.RawMessage(`{"id":"inj-1","code":"window.x = 1","matches":["https://example.com/*"]}`)
	require.NoError(t, ctl.WriteJSON(types.Envelope{Action: "registerInjection", Params: params, RequestID: "r1"}))

	cmd := readLink(t, ext)
	require.Equal(t, "registerInjection", cmd.Action)
	require.NoError(t, ext.WriteJSON(types.LinkReply{RequestID: cmd.RequestID, Result: json.RawMessage(`{}`)}))

	resp := readController(t, ctl)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `{"registered":true,"id":"inj-1"}`, string(resp.Result))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Close(ctx))

	note := readLink(t, ext)
	assert.Equal(t, "unregisterInjection", note.Action)
	assert.Equal(t, ev.SessionID, note.SessionID)
	assert.True(t, note.IsNotification())
	assert.JSONEq(t, `{"id":"inj-1"}`, string(note.Params))

	// controller socket is closed by shutdown
	ctl.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ctl.ReadMessage()
	assert.Error(t, err)
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Request.Timeout = 0
	_, err := NewServer(cfg, logging.Nop())
	assert.Error(t, err)
}
