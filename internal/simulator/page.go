package simulator

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/chromelink/internal/domain/injection"
	"github.com/GriffinCanCode/chromelink/internal/simulator/sandbox"
)

// page is one loaded document and its script context
type page struct {
	url string
	dom *sandbox.DOM
	rt  *sandbox.Runtime
}

func (p *page) close() {
	if p.rt != nil {
		p.rt.Close()
	}
}

// registration is an injection as the extension stores it
type registration struct {
	ID        string
	SessionID string
	Code      string
	Matches   []string
	RunAt     injection.RunAt
}

func (r *registration) matches(url string) bool {
	if len(r.Matches) == 0 {
		return true
	}
	return injection.Matches(r.Matches, url)
}

var runAtPhase = map[injection.RunAt]int{
	injection.DocumentStart: 0,
	injection.DocumentEnd:   1,
	injection.DocumentIdle:  2,
	"":                      2,
}

// load builds a page for url and runs every matching injection on it
func (e *Extension) load(ctx context.Context, tabID int64, target string) *page {
	markup := e.markup(ctx, target)
	dom, err := sandbox.NewDOM(markup)
	if err != nil {
		e.logger.Warn("unparseable page", zap.String("url", target), zap.Error(err))
		dom, _ = sandbox.NewDOM(errorPage(target, err))
	}

	p := &page{url: target, dom: dom}
	rt, err := sandbox.New(e.cfg.Sandbox, dom, target)
	if err != nil {
		e.logger.Error("page runtime unavailable", zap.String("url", target), zap.Error(err))
	} else {
		p.rt = rt
	}

	e.runInjections(ctx, tabID, p)
	return p
}

func (e *Extension) markup(ctx context.Context, target string) string {
	if m, ok := e.servedPage(target); ok {
		return m
	}
	if target == "" || target == "about:blank" || strings.HasPrefix(target, "chrome://") {
		return sandbox.BlankPage
	}

	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return placeholderPage(target, target)
	}
	if e.fetcher != nil && (u.Scheme == "http" || u.Scheme == "https") {
		doc, err := e.fetcher.Get(ctx, target)
		if err != nil {
			e.logger.Warn("page fetch failed", zap.String("url", target), zap.Error(err))
			return errorPage(target, err)
		}
		return doc.Body
	}
	return placeholderPage(target, u.Host)
}

// servedPage looks target up in Pages by exact URL, then by pattern, longest
// first. Patterns follow doublestar: '*' stays within a path segment and
// '**' spans segments.
func (e *Extension) servedPage(target string) (string, bool) {
	if m, ok := e.cfg.Pages[target]; ok {
		return m, true
	}
	patterns := make([]string, 0, len(e.cfg.Pages))
	for p := range e.cfg.Pages {
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if len(patterns[i]) != len(patterns[j]) {
			return len(patterns[i]) > len(patterns[j])
		}
		return patterns[i] < patterns[j]
	})
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, target); err == nil && ok {
			return e.cfg.Pages[p], true
		}
	}
	return "", false
}

// runInjections executes matching registrations in run-at order, then
// registration order
func (e *Extension) runInjections(ctx context.Context, tabID int64, p *page) {
	e.mu.Lock()
	var due []*registration
	for _, reg := range e.injections {
		if reg.matches(p.url) {
			due = append(due, reg)
		}
	}
	e.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		return runAtPhase[due[i].RunAt] < runAtPhase[due[j].RunAt]
	})

	for _, reg := range due {
		exec := Execution{
			InjectionID: reg.ID,
			SessionID:   reg.SessionID,
			TabID:       tabID,
			URL:         p.url,
			At:          time.Now(),
		}
		if p.rt == nil {
			exec.Error = "page runtime unavailable"
		} else if _, err := p.rt.Execute(ctx, sandbox.Wrap(reg.Code)); err != nil {
			exec.Error = err.Error()
			e.logger.Debug("injection failed",
				zap.String("injection_id", reg.ID),
				zap.String("url", p.url),
				zap.Error(err))
		}

		e.mu.Lock()
		e.executions = append(e.executions, exec)
		e.mu.Unlock()
	}
}

func placeholderPage(target, title string) string {
	return fmt.Sprintf(`<html><head><title>%s</title></head><body><h1>%s</h1><p class="url">%s</p><a href="/">Home</a></body></html>`,
		html.EscapeString(title), html.EscapeString(title), html.EscapeString(target))
}

func errorPage(target string, err error) string {
	return fmt.Sprintf(`<html><head><title>Error</title></head><body><h1>This page could not be loaded</h1><p class="url">%s</p><pre>%s</pre></body></html>`,
		html.EscapeString(target), html.EscapeString(err.Error()))
}
