package sandbox

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
)

// Runtime is one page's script context. Globals set by one script are
// visible to the next, the way content scripts share a page.
type Runtime struct {
	vm     *goja.Runtime
	config Config
	dom    *DOM
	href   string
	mu     sync.Mutex

	console   []LogEntry
	consoleMu sync.Mutex
}

// New creates a runtime bound to a page. dom may be nil when EnableDOM is off.
func New(config Config, dom *DOM, href string) (*Runtime, error) {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	r := &Runtime{
		config: config,
		dom:    dom,
		href:   href,
	}
	if err := r.reset(); err != nil {
		return nil, err
	}
	return r, nil
}

// Execute runs a script and returns its completion value
func (r *Runtime) Execute(ctx context.Context, script string) (*Result, error) {
	return r.run(ctx, func(vm *goja.Runtime) (goja.Value, error) {
		return vm.RunString(script)
	})
}

// Call invokes a global function by name
func (r *Runtime) Call(ctx context.Context, name string, args ...interface{}) (*Result, error) {
	return r.run(ctx, func(vm *goja.Runtime) (goja.Value, error) {
		fn, ok := goja.AssertFunction(vm.Get(name))
		if !ok {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFunction)
		}
		values := make([]goja.Value, len(args))
		for i, arg := range args {
			values[i] = vm.ToValue(arg)
		}
		return fn(goja.Undefined(), values...)
	})
}

// HasFunction reports whether a global of that name is callable
func (r *Runtime) HasFunction(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vm == nil {
		return false
	}
	_, ok := goja.AssertFunction(r.vm.Get(name))
	return ok
}

func (r *Runtime) run(ctx context.Context, body func(vm *goja.Runtime) (goja.Value, error)) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vm == nil {
		return nil, ErrClosed
	}

	start := time.Now()
	vm := r.vm

	timer := time.NewTimer(r.config.Timeout)
	defer timer.Stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-timer.C:
			vm.Interrupt("execution timeout exceeded")
		case <-ctx.Done():
			vm.Interrupt("context cancelled")
		case <-done:
		}
	}()

	r.consoleMu.Lock()
	r.console = []LogEntry{}
	r.consoleMu.Unlock()

	mark := 0
	if r.dom != nil {
		mark = r.dom.changeCount()
	}

	val, err := body(vm)
	vm.ClearInterrupt()
	if err != nil {
		return nil, scriptError(err)
	}

	result := &Result{
		Value:    exportValue(val),
		Type:     typeOf(val),
		Duration: time.Since(start),
	}
	r.consoleMu.Lock()
	result.Console = append([]LogEntry{}, r.console...)
	r.consoleMu.Unlock()
	if r.dom != nil {
		result.DOMChanges = r.dom.changesSince(mark)
	}
	return result, nil
}

// reset builds a fresh VM with the page globals
func (r *Runtime) reset() error {
	vm := goja.New()
	if r.config.MaxCallStack > 0 {
		vm.SetMaxCallStackSize(r.config.MaxCallStack)
	}
	r.vm = vm
	r.console = []LogEntry{}
	return r.setupGlobals()
}

// setupGlobals configures global objects and security
func (r *Runtime) setupGlobals() error {
	vm := r.vm
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	if r.config.EnableConsole {
		console := vm.NewObject()
		for _, level := range []string{"log", "warn", "error", "info", "debug"} {
			console.Set(level, r.makeConsoleFunc(level))
		}
		vm.Set("console", console)
	}

	// Timers never fire; page scripts run to completion synchronously
	noop := func(goja.FunctionCall) goja.Value { return vm.ToValue(0) }
	vm.Set("setTimeout", noop)
	vm.Set("setInterval", noop)
	vm.Set("clearTimeout", noop)
	vm.Set("clearInterval", noop)

	if !r.config.EnableDOM || r.dom == nil {
		return nil
	}

	global := vm.GlobalObject()
	vm.Set("window", global)
	vm.Set("self", global)
	vm.Set("location", r.makeLocation())
	vm.Set("document", r.makeDocument())
	return nil
}

// makeConsoleFunc creates a console function
func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}

		r.consoleMu.Lock()
		r.console = append(r.console, LogEntry{
			Level:   level,
			Message: strings.Join(parts, " "),
			Time:    time.Now(),
		})
		r.consoleMu.Unlock()

		return goja.Undefined()
	}
}

func (r *Runtime) makeLocation() *goja.Object {
	loc := r.vm.NewObject()
	loc.Set("href", r.href)
	if u, err := url.Parse(r.href); err == nil {
		loc.Set("protocol", u.Scheme+":")
		loc.Set("host", u.Host)
		loc.Set("hostname", u.Hostname())
		loc.Set("pathname", u.Path)
		loc.Set("search", queryString(u))
		loc.Set("hash", fragment(u))
		loc.Set("origin", u.Scheme+"://"+u.Host)
	}
	loc.Set("toString", func() string { return r.href })
	return loc
}

func (r *Runtime) makeDocument() *goja.Object {
	vm := r.vm
	doc := vm.NewObject()

	doc.Set("querySelector", func(selector string) goja.Value {
		return r.first(r.dom.Query(selector))
	})
	doc.Set("querySelectorAll", func(selector string) goja.Value {
		return r.all(r.dom.Query(selector))
	})
	doc.Set("getElementById", func(id string) goja.Value {
		return r.first(r.dom.Query(fmt.Sprintf("[id=%q]", id)))
	})
	doc.Set("getElementsByClassName", func(class string) goja.Value {
		return r.all(r.dom.Query("." + class))
	})
	doc.Set("getElementsByTagName", func(tag string) goja.Value {
		return r.all(r.dom.Query(tag))
	})
	doc.Set("readyState", "complete")
	doc.Set("URL", r.href)

	doc.DefineAccessorProperty("title",
		vm.ToValue(func() string { return r.dom.Title() }),
		vm.ToValue(func(title string) { r.dom.SetTitle(title) }),
		goja.FLAG_TRUE, goja.FLAG_TRUE)
	doc.DefineAccessorProperty("body",
		vm.ToValue(func() goja.Value { return r.first(r.dom.Query("body")) }),
		nil, goja.FLAG_TRUE, goja.FLAG_TRUE)

	return doc
}

func (r *Runtime) first(sel *goquery.Selection, err error) goja.Value {
	if err != nil {
		panic(r.vm.NewTypeError(err.Error()))
	}
	if sel.Length() == 0 {
		return goja.Null()
	}
	return r.vm.NewDynamicObject(&element{rt: r, sel: sel.First()})
}

func (r *Runtime) all(sel *goquery.Selection, err error) goja.Value {
	if err != nil {
		panic(r.vm.NewTypeError(err.Error()))
	}
	items := make([]interface{}, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		items = append(items, r.vm.NewDynamicObject(&element{rt: r, sel: s}))
	})
	return r.vm.NewArray(items...)
}

// Close releases resources
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.vm = nil
	r.console = nil
	return nil
}

func scriptError(err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return fmt.Errorf("%s", ex.Value().String())
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("script interrupted: %v", interrupted.Value())
	}
	return err
}

// exportValue converts goja value to a JSON-friendly Go value
func exportValue(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	if _, isFn := goja.AssertFunction(val); isFn {
		return nil
	}
	return val.Export()
}

// typeOf mirrors the JavaScript typeof operator
func typeOf(val goja.Value) string {
	if val == nil || goja.IsUndefined(val) {
		return "undefined"
	}
	if goja.IsNull(val) {
		return "object"
	}
	if _, isFn := goja.AssertFunction(val); isFn {
		return "function"
	}
	if _, isObj := val.(*goja.Object); isObj {
		return "object"
	}
	switch val.Export().(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int64, float64:
		return "number"
	case *big.Int:
		return "bigint"
	}
	return "object"
}

func queryString(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}
	return "?" + u.RawQuery
}

func fragment(u *url.URL) string {
	if u.Fragment == "" {
		return ""
	}
	return "#" + u.Fragment
}

// Wrap turns injection code into a self-invoking function so a top-level
// return is legal
func Wrap(code string) string {
	return "(function(){\n" + code + "\n})()"
}

// Compile reports syntax errors in injection code without running it
func Compile(code string) error {
	_, err := goja.Compile("injection", Wrap(code), false)
	return err
}
