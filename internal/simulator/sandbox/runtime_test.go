package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const formPage = `<html><head><title>Web form</title></head><body>
<h1 class="display-6">Web form</h1>
<form><input id="my-text-id" name="my-text"><button type="submit">Submit</button></form>
<p id="hidden" style="display: none">secret</p>
<ul><li>one</li><li>two</li><li>three</li></ul>
</body></html>`

func newPageRuntime(t *testing.T, cfg Config) (*Runtime, *DOM) {
	t.Helper()
	dom, err := NewDOM(formPage)
	require.NoError(t, err)
	rt, err := New(cfg, dom, "https://example.com/form?x=1")
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt, dom
}

func TestRuntimeExecution(t *testing.T) {
	rt, _ := newPageRuntime(t, DefaultConfig())

	tests := []struct {
		name      string
		script    string
		wantValue interface{}
		wantType  string
	}{
		{"number", "2 + 2", int64(4), "number"},
		{"float", "Math.sqrt(2) > 1.4", true, "boolean"},
		{"string", "'hello'.toUpperCase()", "HELLO", "string"},
		{"object", "({foo: 'bar', num: 42})", map[string]interface{}{"foo": "bar", "num": int64(42)}, "object"},
		{"array", "[1, 2, 3]", []interface{}{int64(1), int64(2), int64(3)}, "object"},
		{"undefined", "undefined", nil, "undefined"},
		{"null", "null", nil, "object"},
		{"function", "(function(){})", nil, "function"},
		{"document title", "document.title", "Web form", "string"},
		{"location", "location.hostname + location.pathname", "example.com/form", "string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := rt.Execute(context.Background(), tt.script)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValue, result.Value)
			assert.Equal(t, tt.wantType, result.Type)
		})
	}
}

func TestRuntimeGlobalsPersist(t *testing.T) {
	rt, _ := newPageRuntime(t, DefaultConfig())
	ctx := context.Background()

	_, err := rt.Execute(ctx, "window.counter = (window.counter || 0) + 1; function greet(n) { return 'hi ' + n }")
	require.NoError(t, err)
	_, err = rt.Execute(ctx, "window.counter += 1")
	require.NoError(t, err)

	result, err := rt.Execute(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Value)

	assert.True(t, rt.HasFunction("greet"))
	assert.False(t, rt.HasFunction("counter"))

	called, err := rt.Call(ctx, "greet", "bob")
	require.NoError(t, err)
	assert.Equal(t, "hi bob", called.Value)

	_, err = rt.Call(ctx, "counter")
	assert.ErrorIs(t, err, ErrNotFunction)
}

func TestRuntimeDOM(t *testing.T) {
	rt, dom := newPageRuntime(t, DefaultConfig())
	ctx := context.Background()

	result, err := rt.Execute(ctx, `document.querySelector("h1.display-6").textContent`)
	require.NoError(t, err)
	assert.Equal(t, "Web form", result.Value)

	result, err = rt.Execute(ctx, `var el = document.querySelector("#my-text-id"); el.value = "Hello World"; el.value`)
	require.NoError(t, err)
	assert.Equal(t, "Hello World", result.Value)
	require.Len(t, result.DOMChanges, 1)
	assert.Equal(t, "set_value", result.DOMChanges[0].Type)
	assert.Equal(t, "input#my-text-id", result.DOMChanges[0].Selector)

	input, err := dom.Query("#my-text-id")
	require.NoError(t, err)
	assert.Equal(t, "Hello World", dom.Value(input))

	result, err = rt.Execute(ctx, `document.querySelectorAll("li").length`)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Value)

	result, err = rt.Execute(ctx, `document.querySelector(".missing")`)
	require.NoError(t, err)
	assert.Nil(t, result.Value)

	result, err = rt.Execute(ctx, `document.querySelector("//ul/li[2]").textContent`)
	require.NoError(t, err)
	assert.Equal(t, "two", result.Value)

	_, err = rt.Execute(ctx, `document.title = "Changed"`)
	require.NoError(t, err)
	assert.Equal(t, "Changed", dom.Title())
}

func TestRuntimeConsole(t *testing.T) {
	rt, _ := newPageRuntime(t, DefaultConfig())

	result, err := rt.Execute(context.Background(), "console.log('hello', 1); console.error('bad'); 'done'")
	require.NoError(t, err)
	require.Len(t, result.Console, 2)
	assert.Equal(t, "log", result.Console[0].Level)
	assert.Equal(t, "hello 1", result.Console[0].Message)
	assert.Equal(t, "error", result.Console[1].Level)
}

func TestRuntimeErrors(t *testing.T) {
	rt, _ := newPageRuntime(t, DefaultConfig())
	ctx := context.Background()

	_, err := rt.Execute(ctx, "throw new Error('boom')")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	_, err = rt.Execute(ctx, "this is not javascript")
	require.Error(t, err)

	_, err = rt.Execute(ctx, `document.querySelector("div[")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid selector")

	// still usable after a failure
	result, err := rt.Execute(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Value)
}

func TestRuntimeSecurity(t *testing.T) {
	rt, _ := newPageRuntime(t, DefaultConfig())

	for _, script := range []string{"require('fs')", "process.exit(1)", "module.exports = {}"} {
		t.Run(script, func(t *testing.T) {
			_, err := rt.Execute(context.Background(), script)
			assert.Error(t, err)
		})
	}
}

func TestRuntimeTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 100 * time.Millisecond
	rt, _ := newPageRuntime(t, cfg)

	start := time.Now()
	_, err := rt.Execute(context.Background(), "while(true) {}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interrupted")
	assert.Less(t, time.Since(start), 2*time.Second)

	result, err := rt.Execute(context.Background(), "'alive'")
	require.NoError(t, err)
	assert.Equal(t, "alive", result.Value)
}

func TestRuntimeContextCancel(t *testing.T) {
	rt, _ := newPageRuntime(t, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := rt.Execute(ctx, "while(true) {}")
	require.Error(t, err)
}

func TestRuntimeClosed(t *testing.T) {
	rt, _ := newPageRuntime(t, DefaultConfig())
	require.NoError(t, rt.Close())

	_, err := rt.Execute(context.Background(), "1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDOMVisibility(t *testing.T) {
	dom, err := NewDOM(formPage)
	require.NoError(t, err)

	tests := []struct {
		selector string
		want     bool
	}{
		{"h1", true},
		{"#hidden", false},
		{"title", false},
		{".missing", false},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			sel, err := dom.Query(tt.selector)
			require.NoError(t, err)
			assert.Equal(t, tt.want, dom.Visible(sel))
		})
	}
}

func TestIsXPath(t *testing.T) {
	assert.True(t, IsXPath("//h1"))
	assert.True(t, IsXPath("./div"))
	assert.True(t, IsXPath("(//li)[1]"))
	assert.False(t, IsXPath("h1.title"))
	assert.False(t, IsXPath("#id"))
}
