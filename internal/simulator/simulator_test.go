package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/chromelink/internal/shared/types"
)

const formURL = "https://example.test/form"

const formPage = `<html><head><title>Web form</title></head><body>
<h1 class="display-6">Web form</h1>
<input id="my-text-id" name="my-text" type="text">
<p id="secret" style="display: none">hidden</p>
<a id="next" href="/next">Next</a>
<ul><li>one</li><li>two</li><li>three</li></ul>
</body></html>`

func newExtension(t *testing.T) *Extension {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Pages = map[string]string{formURL: formPage}
	ext := New(cfg, nil)
	t.Cleanup(ext.Close)
	return ext
}

var seq int

func call(t *testing.T, ext *Extension, action string, params interface{}) *types.LinkReply {
	t.Helper()
	seq++
	cmd := &types.LinkCommand{
		RequestID: fmt.Sprintf("s1:r%d", seq),
		SessionID: "s1",
		Action:    action,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		require.NoError(t, err)
		cmd.Params = raw
	}
	reply := ext.Handle(context.Background(), cmd)
	require.NotNil(t, reply)
	assert.Equal(t, cmd.RequestID, reply.RequestID)
	return reply
}

func result(t *testing.T, reply *types.LinkReply) map[string]interface{} {
	t.Helper()
	require.Nil(t, reply.Error, "unexpected error: %+v", reply.Error)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(reply.Result, &out))
	return out
}

func failure(t *testing.T, reply *types.LinkReply) *types.ErrorPayload {
	t.Helper()
	require.NotNil(t, reply.Error)
	require.Empty(t, reply.Result)
	return reply.Error
}

func openForm(t *testing.T, ext *Extension) int64 {
	t.Helper()
	out := result(t, call(t, ext, "openTab", map[string]interface{}{"url": formURL}))
	tab := out["tab"].(map[string]interface{})
	assert.Equal(t, "Web form", tab["title"])
	assert.Equal(t, true, tab["active"])
	return int64(tab["id"].(float64))
}

func TestTabLifecycle(t *testing.T) {
	ext := newExtension(t)

	first := openForm(t, ext)
	out := result(t, call(t, ext, "openTab", map[string]interface{}{"url": "https://other.test/", "focus": false}))
	second := int64(out["tab"].(map[string]interface{})["id"].(float64))
	assert.NotEqual(t, first, second)

	list := result(t, call(t, ext, "listTabs", nil))
	tabs := list["tabs"].([]interface{})
	require.Len(t, tabs, 2)
	assert.Equal(t, float64(1), list["windowId"])
	assert.Equal(t, true, tabs[0].(map[string]interface{})["active"])
	assert.Equal(t, false, tabs[1].(map[string]interface{})["active"])

	active := result(t, call(t, ext, "getActiveTab", nil))
	assert.Equal(t, float64(first), active["id"])

	sw := result(t, call(t, ext, "switchTab", map[string]interface{}{"tabId": second}))
	assert.Equal(t, true, sw["success"])
	active = result(t, call(t, ext, "getActiveTab", nil))
	assert.Equal(t, float64(second), active["id"])

	result(t, call(t, ext, "closeTab", map[string]interface{}{"tabId": second}))
	active = result(t, call(t, ext, "getActiveTab", nil))
	assert.Equal(t, float64(first), active["id"])

	e := failure(t, call(t, ext, "switchTab", map[string]interface{}{"tabId": 999}))
	assert.Equal(t, types.CodeTabNotFound, e.Code)
	assert.Equal(t, "Tab not found: 999", e.Message)
}

func TestHistory(t *testing.T) {
	ext := newExtension(t)
	tab := openForm(t, ext)

	back := result(t, call(t, ext, "goBack", map[string]interface{}{"tabId": tab}))
	assert.Equal(t, false, back["success"])
	assert.NotEmpty(t, back["message"])

	nav := result(t, call(t, ext, "navigateTab", map[string]interface{}{"tabId": tab, "url": "https://example.test/two"}))
	assert.Equal(t, true, nav["success"])

	back = result(t, call(t, ext, "goBack", map[string]interface{}{"tabId": tab}))
	assert.Equal(t, true, back["success"])
	assert.Equal(t, formURL, back["url"])

	fwd := result(t, call(t, ext, "goForward", map[string]interface{}{"tabId": tab}))
	assert.Equal(t, "https://example.test/two", fwd["url"])

	fwd = result(t, call(t, ext, "goForward", map[string]interface{}{"tabId": tab}))
	assert.Equal(t, false, fwd["success"])
}

func TestPageCommands(t *testing.T) {
	ext := newExtension(t)
	openForm(t, ext)

	text := result(t, call(t, ext, "getText", map[string]interface{}{"selector": "h1.display-6"}))
	assert.Equal(t, "Web form", text["value"])

	typed := result(t, call(t, ext, "type", map[string]interface{}{"selector": "#my-text-id", "text": "hello"}))
	assert.Equal(t, true, typed["value"])

	js := result(t, call(t, ext, "executeJS", map[string]interface{}{"code": "document.querySelector('#my-text-id').value"}))
	assert.Equal(t, "hello", js["value"])
	assert.Equal(t, "string", js["type"])

	count := result(t, call(t, ext, "callHelper", map[string]interface{}{"functionName": "countElements", "args": []interface{}{"li"}}))
	assert.Equal(t, float64(3), count["value"])
	assert.Equal(t, "number", count["type"])

	visible := result(t, call(t, ext, "callHelper", map[string]interface{}{"functionName": "isVisible", "args": []interface{}{"#secret"}}))
	assert.Equal(t, false, visible["value"])

	e := failure(t, call(t, ext, "callHelper", map[string]interface{}{"functionName": "nope"}))
	assert.Equal(t, types.CodeExecutionError, e.Code)
	assert.Equal(t, "Unknown helper function: nope", e.Message)

	e = failure(t, call(t, ext, "getText", map[string]interface{}{"selector": "#missing"}))
	assert.Equal(t, "Element not found: #missing", e.Message)

	e = failure(t, call(t, ext, "executeJS", map[string]interface{}{"code": "throw new Error('boom')"}))
	assert.Equal(t, types.CodeExecutionError, e.Code)
	assert.Contains(t, e.Message, "boom")
}

func TestClickFollowsLinks(t *testing.T) {
	ext := newExtension(t)
	tab := openForm(t, ext)

	result(t, call(t, ext, "click", map[string]interface{}{"selector": "#next"}))

	active := result(t, call(t, ext, "getActiveTab", nil))
	assert.Equal(t, "https://example.test/next", active["url"])

	back := result(t, call(t, ext, "goBack", map[string]interface{}{"tabId": tab}))
	assert.Equal(t, formURL, back["url"])
}

func TestWaitForElement(t *testing.T) {
	ext := newExtension(t)
	openForm(t, ext)

	found := result(t, call(t, ext, "waitForElement", map[string]interface{}{"selector": "//ul/li[2]"}))
	assert.Equal(t, true, found["found"])

	go func() {
		time.Sleep(80 * time.Millisecond)
		ext.Handle(context.Background(), &types.LinkCommand{
			RequestID: "s1:late",
			SessionID: "s1",
			Action:    "executeJS",
			Params:    json.RawMessage(`{"code":"document.body.innerHTML = '<div id=late></div>'"}`),
		})
	}()
	found = result(t, call(t, ext, "waitForElement", map[string]interface{}{"selector": "#late", "timeout": 2000}))
	assert.Equal(t, true, found["found"])

	start := time.Now()
	e := failure(t, call(t, ext, "waitForElement", map[string]interface{}{"selector": "#never", "timeout": 100}))
	assert.Equal(t, types.CodeExecutionError, e.Code)
	assert.Contains(t, e.Message, "Element not found: #never")
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestCaptureScreenshot(t *testing.T) {
	ext := newExtension(t)
	openForm(t, ext)

	tests := []struct {
		format string
		prefix string
	}{
		{"png", "data:image/png;base64,"},
		{"jpeg", "data:image/jpeg;base64,"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			out := result(t, call(t, ext, "captureScreenshot", map[string]interface{}{"format": tt.format}))
			assert.True(t, strings.HasPrefix(out["dataUrl"].(string), tt.prefix))
			assert.Equal(t, tt.format, out["format"])
		})
	}
}

func TestNoActiveTab(t *testing.T) {
	ext := newExtension(t)

	e := failure(t, call(t, ext, "getText", map[string]interface{}{"selector": "h1"}))
	assert.Equal(t, types.CodeTabNotFound, e.Code)

	e = failure(t, call(t, ext, "bogus", nil))
	assert.Equal(t, "Unknown action: bogus", e.Message)
}

func TestInjections(t *testing.T) {
	ext := newExtension(t)

	out := result(t, call(t, ext, "registerInjection", map[string]interface{}{
		"id":      "marker",
		"code":    "document.title = 'injected'; window.helperAnswer = function() { return 42; };",
		"matches": []string{"https://example.test/*"},
	}))
	assert.Equal(t, "marker", out["id"])

	opened := result(t, call(t, ext, "openTab", map[string]interface{}{"url": formURL}))
	assert.Equal(t, "injected", opened["tab"].(map[string]interface{})["title"])

	helper := result(t, call(t, ext, "callHelper", map[string]interface{}{"functionName": "helperAnswer"}))
	assert.Equal(t, float64(42), helper["value"])

	result(t, call(t, ext, "openTab", map[string]interface{}{"url": "https://unmatched.test/"}))
	execs := ext.Executions()
	require.Len(t, execs, 1)
	assert.Equal(t, formURL, execs[0].URL)
	assert.Equal(t, "s1", execs[0].SessionID)

	e := failure(t, call(t, ext, "registerInjection", map[string]interface{}{"id": "bad", "code": "function ("}))
	assert.Equal(t, types.CodeInjectionError, e.Code)

	result(t, call(t, ext, "unregisterInjection", map[string]interface{}{"id": "marker"}))
	assert.Empty(t, ext.Injections())

	e = failure(t, call(t, ext, "unregisterInjection", map[string]interface{}{"id": "marker"}))
	assert.Equal(t, types.CodeInjectionError, e.Code)
}

func TestNotificationsAreNotAnswered(t *testing.T) {
	ext := newExtension(t)
	raw, err := json.Marshal(map[string]interface{}{"id": "n1", "code": "1"})
	require.NoError(t, err)

	reply := ext.Handle(context.Background(), &types.LinkCommand{
		SessionID: "s1",
		Action:    "registerInjection",
		Params:    raw,
	})
	assert.Nil(t, reply)
	assert.Equal(t, []string{"n1"}, ext.Injections())
}

func TestResolveLink(t *testing.T) {
	tests := []struct {
		base, href, want string
	}{
		{"https://a.test/x/y", "/z", "https://a.test/z"},
		{"https://a.test/x/y", "z", "https://a.test/x/z"},
		{"https://a.test/", "https://b.test/", "https://b.test/"},
		{"https://a.test/", "#top", ""},
		{"https://a.test/", "javascript:void(0)", ""},
		{"https://a.test/", "", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveLink(tt.base, tt.href), tt.href)
	}
}

func TestPagesServedByPattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pages = map[string]string{
		"https://docs.test/**":         `<html><head><title>Docs</title></head><body></body></html>`,
		"https://docs.test/api/*":      `<html><head><title>API</title></head><body></body></html>`,
		"https://docs.test/api/client": `<html><head><title>Client</title></head><body></body></html>`,
	}
	ext := New(cfg, nil)
	t.Cleanup(ext.Close)

	title := func(u string) string {
		out := result(t, call(t, ext, "openTab", map[string]interface{}{"url": u}))
		return out["tab"].(map[string]interface{})["title"].(string)
	}

	assert.Equal(t, "Client", title("https://docs.test/api/client"))
	assert.Equal(t, "API", title("https://docs.test/api/server"))
	assert.Equal(t, "Docs", title("https://docs.test/guide/intro/setup"))
}
