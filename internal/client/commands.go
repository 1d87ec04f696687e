package client

import (
	"context"
	"time"

	"github.com/GriffinCanCode/chromelink/internal/domain/command"
)

// Tab describes one browser tab
type Tab struct {
	ID       int64  `json:"id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Active   bool   `json:"active"`
	WindowID int64  `json:"windowId"`
	Status   string `json:"status"`
}

// TabList is the listTabs result
type TabList struct {
	Tabs     []Tab `json:"tabs"`
	WindowID int64 `json:"windowId"`
}

// NavResult is returned by the navigation verbs
type NavResult struct {
	Success bool   `json:"success"`
	TabID   int64  `json:"tabId"`
	URL     string `json:"url,omitempty"`
	Message string `json:"message,omitempty"`
}

// ScriptResult carries a value evaluated in the page and its JS type
type ScriptResult struct {
	Value interface{} `json:"value"`
	Type  string      `json:"type"`
}

// Screenshot is an encoded capture of a tab
type Screenshot struct {
	DataURL string `json:"dataUrl"`
	Format  string `json:"format"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// ScreenshotOptions select format and target of a capture
type ScreenshotOptions struct {
	Format   string
	Quality  int
	TabID    *int64
	FullPage bool
}

// Injection is a content script registration
type Injection struct {
	ID      string
	Code    string
	Matches []string
	RunAt   string
}

// TabID returns a pointer for the optional tabId parameters
func TabID(id int64) *int64 { return &id }

func (c *Client) OpenTab(ctx context.Context, url string, focus bool) (*Tab, error) {
	var out struct {
		Tab Tab `json:"tab"`
	}
	err := c.Call(ctx, string(command.OpenTab), command.OpenTabParams{URL: url, Focus: focus}, &out)
	if err != nil {
		return nil, err
	}
	return &out.Tab, nil
}

func (c *Client) NavigateTab(ctx context.Context, tabID int64, url string, focus bool) (*NavResult, error) {
	var out NavResult
	err := c.Call(ctx, string(command.NavigateTab), command.NavigateTabParams{TabID: &tabID, URL: url, Focus: focus}, &out)
	return &out, err
}

func (c *Client) SwitchTab(ctx context.Context, tabID int64) (*NavResult, error) {
	return c.tabVerb(ctx, command.SwitchTab, tabID)
}

func (c *Client) CloseTab(ctx context.Context, tabID int64) (*NavResult, error) {
	return c.tabVerb(ctx, command.CloseTab, tabID)
}

func (c *Client) GoBack(ctx context.Context, tabID int64) (*NavResult, error) {
	return c.tabVerb(ctx, command.GoBack, tabID)
}

func (c *Client) GoForward(ctx context.Context, tabID int64) (*NavResult, error) {
	return c.tabVerb(ctx, command.GoForward, tabID)
}

func (c *Client) tabVerb(ctx context.Context, action command.Action, tabID int64) (*NavResult, error) {
	var out NavResult
	if err := c.Call(ctx, string(action), command.TabParams{TabID: &tabID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetActiveTab returns nil when the window has no active tab
func (c *Client) GetActiveTab(ctx context.Context) (*Tab, error) {
	var out *Tab
	if err := c.Call(ctx, string(command.GetActiveTab), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListTabs(ctx context.Context) (*TabList, error) {
	var out TabList
	if err := c.Call(ctx, string(command.ListTabs), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitForElement polls for selector in the page. A zero timeout uses the
// extension default.
func (c *Client) WaitForElement(ctx context.Context, selector string, timeout time.Duration, tabID *int64) error {
	p := map[string]interface{}{"selector": selector}
	if timeout > 0 {
		p["timeout"] = timeout.Milliseconds()
	}
	if tabID != nil {
		p["tabId"] = *tabID
	}
	return c.Call(ctx, string(command.WaitForElement), p, nil)
}

func (c *Client) GetText(ctx context.Context, selector string, tabID *int64) (string, error) {
	var out ScriptResult
	if err := c.Call(ctx, string(command.GetText), command.SelectorParams{Selector: selector, TabID: tabID}, &out); err != nil {
		return "", err
	}
	s, _ := out.Value.(string)
	return s, nil
}

func (c *Client) Click(ctx context.Context, selector string, tabID *int64) error {
	return c.Call(ctx, string(command.Click), command.SelectorParams{Selector: selector, TabID: tabID}, nil)
}

func (c *Client) Type(ctx context.Context, selector, text string, tabID *int64) error {
	return c.Call(ctx, string(command.Type), command.TypeParams{Selector: selector, Text: text, TabID: tabID}, nil)
}

func (c *Client) ExecuteJS(ctx context.Context, code string, tabID *int64) (*ScriptResult, error) {
	var out ScriptResult
	if err := c.Call(ctx, string(command.ExecuteJS), command.ExecuteJSParams{Code: code, TabID: tabID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CallHelper invokes a page helper. Args must be JSON primitives.
func (c *Client) CallHelper(ctx context.Context, name string, args []interface{}, tabID *int64) (*ScriptResult, error) {
	if args == nil {
		args = []interface{}{}
	}
	var out ScriptResult
	err := c.Call(ctx, string(command.CallHelper), command.CallHelperParams{FunctionName: name, Args: args, TabID: tabID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CaptureScreenshot(ctx context.Context, opts ScreenshotOptions) (*Screenshot, error) {
	if opts.Format == "" {
		opts.Format = "png"
	}
	if opts.Quality == 0 {
		opts.Quality = 90
	}
	var out Screenshot
	err := c.Call(ctx, string(command.CaptureScreenshot), command.CaptureScreenshotParams{
		Format:   opts.Format,
		Quality:  opts.Quality,
		TabID:    opts.TabID,
		FullPage: opts.FullPage,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RegisterInjection(ctx context.Context, inj Injection) error {
	return c.Call(ctx, string(command.RegisterInjection), command.RegisterInjectionParams{
		ID:      inj.ID,
		Code:    inj.Code,
		Matches: inj.Matches,
		RunAt:   inj.RunAt,
	}, nil)
}

func (c *Client) UnregisterInjection(ctx context.Context, id string) error {
	return c.Call(ctx, string(command.UnregisterInjection), command.UnregisterInjectionParams{ID: id}, nil)
}

// CloseSession ends the session on the broker, unregistering its
// injections, and waits for the broker to drop the socket.
func (c *Client) CloseSession(ctx context.Context) error {
	if err := c.Call(ctx, string(command.CloseSession), nil, nil); err != nil {
		return err
	}
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
