package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/chromelink/internal/domain/broker"
	"github.com/GriffinCanCode/chromelink/internal/extension"
	"github.com/GriffinCanCode/chromelink/internal/shared/id"
)

type fakeController struct{ id string }

func (f *fakeController) ID() string            { return f.id }
func (f *fakeController) Send(interface{}) bool { return true }
func (f *fakeController) Close()                {}

func setup(t *testing.T) (*httptest.Server, *broker.Broker, *extension.Link) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	link := extension.NewLink(extension.DefaultConfig(), zap.NewNop())
	b := broker.New(broker.DefaultConfig(), link, nil, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	router := gin.New()
	NewHandlers(b, link, zap.NewNop()).Register(router)
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		link.Close()
		srv.Close()
		cancel()
	})
	return srv, b, link
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv, _, _ := setup(t)

	var body map[string]interface{}
	code := getJSON(t, srv.URL+"/health", &body)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, false, body["extensionConnected"])
	assert.Equal(t, "closed", body["extensionBreaker"])
	assert.Contains(t, body, "sessions")
	assert.Contains(t, body, "pendingRequests")
}

func TestSessions(t *testing.T) {
	srv, b, _ := setup(t)

	info, _ := b.Connect(&fakeController{id: "c1"}, "", 0)

	var list struct {
		Sessions []map[string]interface{} `json:"sessions"`
		Count    int                      `json:"count"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/sessions", &list))
	assert.Equal(t, 1, list.Count)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, info.ID, list.Sessions[0]["sessionId"])
	assert.Equal(t, "ACTIVE", list.Sessions[0]["state"])

	var one map[string]interface{}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/sessions/"+info.ID, &one))
	assert.Equal(t, info.ID, one["sessionId"])
	assert.Equal(t, []interface{}{}, one["injections"])
	assert.Equal(t, []interface{}{}, one["ownedTabIds"])
	assert.Equal(t, float64(60000), one["gracePeriodMs"])

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/sessions/"+id.NewSessionID().String(), nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/sessions/sess_missing", nil))
}

func TestExtensionSingleLink(t *testing.T) {
	srv, _, link := setup(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/extension"

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()

	require.Eventually(t, link.Connected, 2*time.Second, 10*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var body map[string]interface{}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/health", &body))
	assert.Equal(t, true, body["extensionConnected"])

	first.Close()
	require.Eventually(t, func() bool { return !link.Connected() }, 2*time.Second, 10*time.Millisecond)
}
