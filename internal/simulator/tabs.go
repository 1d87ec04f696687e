package simulator

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/chromelink/internal/domain/command"
)

// Tab is one simulated browser tab with its own history
type Tab struct {
	ID int64

	mu      sync.Mutex
	history []string
	index   int
	page    *page
}

// TabInfo is the wire shape of a tab
type TabInfo struct {
	ID       int64  `json:"id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Active   bool   `json:"active"`
	WindowID int64  `json:"windowId"`
	Status   string `json:"status"`
}

type navResult struct {
	Success bool   `json:"success"`
	TabID   int64  `json:"tabId"`
	URL     string `json:"url,omitempty"`
	Message string `json:"message,omitempty"`
}

func (t *Tab) current() *page {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.page
}

// show replaces the page; push adds a history entry after the cursor
func (t *Tab) show(p *page, push bool) {
	t.mu.Lock()
	old := t.page
	t.page = p
	if push {
		t.history = append(t.history[:t.index+1:t.index+1], p.url)
		t.index = len(t.history) - 1
	}
	t.mu.Unlock()
	if old != nil {
		old.close()
	}
}

// step moves the history cursor, returning the target url
func (t *Tab) step(delta int) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.index + delta
	if next < 0 || next >= len(t.history) {
		return "", false
	}
	t.index = next
	return t.history[next], true
}

func (t *Tab) close() {
	t.mu.Lock()
	p := t.page
	t.page = nil
	t.mu.Unlock()
	if p != nil {
		p.close()
	}
}

func (e *Extension) info(t *Tab) TabInfo {
	p := t.current()
	info := TabInfo{ID: t.ID, WindowID: e.cfg.WindowID, Status: "complete", Active: t.ID == e.activeID}
	if p != nil {
		info.URL = p.url
		info.Title = p.dom.Title()
	}
	return info
}

// tab resolves an explicit id or the active tab
func (e *Extension) tab(id *int64) (*Tab, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id == nil {
		t, ok := e.tabs[e.activeID]
		if !ok {
			return nil, errNoActiveTab
		}
		return t, nil
	}
	t, ok := e.tabs[*id]
	if !ok {
		return nil, tabNotFound(*id)
	}
	return t, nil
}

func (e *Extension) openTab(ctx context.Context, p *command.OpenTabParams) (interface{}, error) {
	e.mu.Lock()
	t := &Tab{ID: e.nextTabID, index: -1}
	e.nextTabID++
	e.mu.Unlock()

	pg := e.load(ctx, t.ID, p.URL)
	t.show(pg, true)

	e.mu.Lock()
	e.tabs[t.ID] = t
	e.order = append(e.order, t.ID)
	if p.Focus || e.activeID == 0 {
		e.activeID = t.ID
	}
	info := e.info(t)
	e.mu.Unlock()

	return map[string]interface{}{"tab": info}, nil
}

func (e *Extension) navigateTab(ctx context.Context, p *command.NavigateTabParams) (interface{}, error) {
	t, err := e.tab(p.TabID)
	if err != nil {
		return nil, err
	}
	t.show(e.load(ctx, t.ID, p.URL), true)
	if p.Focus {
		e.activate(t.ID)
	}
	return navResult{Success: true, TabID: t.ID, URL: p.URL}, nil
}

func (e *Extension) switchTab(p *command.TabParams) (interface{}, error) {
	t, err := e.tab(p.TabID)
	if err != nil {
		return nil, err
	}
	e.activate(t.ID)
	return navResult{Success: true, TabID: t.ID}, nil
}

func (e *Extension) closeTab(p *command.TabParams) (interface{}, error) {
	t, err := e.tab(p.TabID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	delete(e.tabs, t.ID)
	for i, id := range e.order {
		if id == t.ID {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	if e.activeID == t.ID {
		e.activeID = 0
		if n := len(e.order); n > 0 {
			e.activeID = e.order[n-1]
		}
	}
	e.mu.Unlock()

	t.close()
	return navResult{Success: true, TabID: t.ID}, nil
}

func (e *Extension) getActiveTab() (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tabs[e.activeID]
	if !ok {
		return nil, nil
	}
	return e.info(t), nil
}

func (e *Extension) listTabs() (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tabs := make([]TabInfo, 0, len(e.order))
	for _, id := range e.order {
		tabs = append(tabs, e.info(e.tabs[id]))
	}
	return map[string]interface{}{"tabs": tabs, "windowId": e.cfg.WindowID}, nil
}

func (e *Extension) history(ctx context.Context, p *command.TabParams, delta int) (interface{}, error) {
	t, err := e.tab(p.TabID)
	if err != nil {
		return nil, err
	}
	url, ok := t.step(delta)
	if !ok {
		msg := "No previous page in history"
		if delta > 0 {
			msg = "No next page in history"
		}
		return navResult{Success: false, TabID: t.ID, Message: msg}, nil
	}
	t.show(e.load(ctx, t.ID, url), false)
	return navResult{Success: true, TabID: t.ID, URL: url}, nil
}

func (e *Extension) activate(id int64) {
	e.mu.Lock()
	e.activeID = id
	e.mu.Unlock()
}

// withPage runs fn against the current page of the addressed tab
func (e *Extension) withPage(id *int64, fn func(t *Tab, p *page) (interface{}, error)) (interface{}, error) {
	t, err := e.tab(id)
	if err != nil {
		return nil, err
	}
	p := t.current()
	if p == nil {
		return nil, tabNotFound(t.ID)
	}
	return fn(t, p)
}
