package simulator

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/GriffinCanCode/chromelink/internal/domain/command"
	"github.com/GriffinCanCode/chromelink/internal/shared/types"
)

const waitPollInterval = 50 * time.Millisecond

// scriptResult is the reply shape of anything evaluated in the page
type scriptResult struct {
	Value interface{} `json:"value"`
	Type  string      `json:"type"`
}

func (e *Extension) dispatch(ctx context.Context, cmd *types.LinkCommand) (interface{}, error) {
	switch command.Action(cmd.Action) {
	case command.OpenTab:
		p := command.OpenTabParams{Focus: true}
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, err
		}
		return e.openTab(ctx, &p)

	case command.NavigateTab:
		p := command.NavigateTabParams{Focus: true}
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, err
		}
		return e.navigateTab(ctx, &p)

	case command.SwitchTab, command.CloseTab, command.GoBack, command.GoForward:
		var p command.TabParams
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, err
		}
		switch command.Action(cmd.Action) {
		case command.SwitchTab:
			return e.switchTab(&p)
		case command.CloseTab:
			return e.closeTab(&p)
		case command.GoBack:
			return e.history(ctx, &p, -1)
		default:
			return e.history(ctx, &p, 1)
		}

	case command.GetActiveTab:
		return e.getActiveTab()

	case command.ListTabs:
		return e.listTabs()

	case command.WaitForElement:
		p := command.WaitForElementParams{Timeout: 5000}
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, err
		}
		return e.waitForElement(ctx, &p)

	case command.GetText:
		var p command.SelectorParams
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, err
		}
		return e.withElement(p.TabID, p.Selector, func(_ *Tab, pg *page, el *goquery.Selection) (interface{}, error) {
			return scriptResult{Value: pg.dom.Text(el), Type: "string"}, nil
		})

	case command.Click:
		var p command.SelectorParams
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, err
		}
		return e.click(ctx, &p)

	case command.Type:
		var p command.TypeParams
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, err
		}
		return e.withElement(p.TabID, p.Selector, func(_ *Tab, pg *page, el *goquery.Selection) (interface{}, error) {
			pg.dom.SetValue(el, p.Text)
			return scriptResult{Value: true, Type: "boolean"}, nil
		})

	case command.ExecuteJS:
		var p command.ExecuteJSParams
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, err
		}
		return e.withPage(p.TabID, func(_ *Tab, pg *page) (interface{}, error) {
			if pg.rt == nil {
				return nil, execError("Page runtime unavailable")
			}
			res, err := pg.rt.Execute(ctx, p.Code)
			if err != nil {
				return nil, execError("%v", err)
			}
			return scriptResult{Value: res.Value, Type: res.Type}, nil
		})

	case command.CallHelper:
		var p command.CallHelperParams
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, err
		}
		return e.callHelper(ctx, &p)

	case command.CaptureScreenshot:
		p := command.CaptureScreenshotParams{Format: "png", Quality: 90}
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, err
		}
		return e.withPage(p.TabID, func(t *Tab, pg *page) (interface{}, error) {
			return capture(pg, &p)
		})

	case command.RegisterInjection:
		var p command.RegisterInjectionParams
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, err
		}
		return e.registerInjection(cmd.SessionID, &p)

	case command.UnregisterInjection:
		var p command.UnregisterInjectionParams
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, err
		}
		return e.unregisterInjection(cmd.SessionID, &p)
	}

	return nil, types.NewCommandError(types.CodeExecutionError, "Unknown action: %s", cmd.Action)
}

// withElement resolves the first match of selector on the addressed tab
func (e *Extension) withElement(tabID *int64, selector string, fn func(t *Tab, p *page, el *goquery.Selection) (interface{}, error)) (interface{}, error) {
	return e.withPage(tabID, func(t *Tab, p *page) (interface{}, error) {
		sel, err := p.dom.Query(selector)
		if err != nil {
			return nil, execError("%v", err)
		}
		if sel.Length() == 0 {
			return nil, execError("Element not found: %s", selector)
		}
		return fn(t, p, sel.First())
	})
}

func (e *Extension) waitForElement(ctx context.Context, p *command.WaitForElementParams) (interface{}, error) {
	deadline := time.Now().Add(time.Duration(p.Timeout) * time.Millisecond)
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		found, err := e.withPage(p.TabID, func(_ *Tab, pg *page) (interface{}, error) {
			ok, err := pg.dom.Exists(p.Selector)
			if err != nil {
				return nil, execError("%v", err)
			}
			return ok, nil
		})
		if err != nil {
			return nil, err
		}
		if found.(bool) {
			return map[string]interface{}{"found": true, "selector": p.Selector}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, execError("Element not found: %s (waited %dms)", p.Selector, p.Timeout)
		}

		select {
		case <-ctx.Done():
			return nil, execError("Element not found: %s (cancelled)", p.Selector)
		case <-ticker.C:
		}
	}
}

// click records the click and follows links
func (e *Extension) click(ctx context.Context, p *command.SelectorParams) (interface{}, error) {
	var follow string
	var tab *Tab
	res, err := e.withElement(p.TabID, p.Selector, func(t *Tab, pg *page, el *goquery.Selection) (interface{}, error) {
		pg.dom.Click(el)
		if goquery.NodeName(el) == "a" {
			follow = resolveLink(pg.url, el.AttrOr("href", ""))
			tab = t
		}
		return scriptResult{Value: true, Type: "boolean"}, nil
	})
	if err != nil {
		return nil, err
	}
	if follow != "" {
		tab.show(e.load(ctx, tab.ID, follow), true)
	}
	return res, nil
}

func resolveLink(base, href string) string {
	href = strings.TrimSpace(href)
	lower := strings.ToLower(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return b.ResolveReference(ref).String()
}

func (e *Extension) callHelper(ctx context.Context, p *command.CallHelperParams) (interface{}, error) {
	return e.withPage(p.TabID, func(t *Tab, pg *page) (interface{}, error) {
		// page-defined helpers, usually from an injection, win over built-ins
		if pg.rt != nil && pg.rt.HasFunction(p.FunctionName) {
			res, err := pg.rt.Call(ctx, p.FunctionName, p.Args...)
			if err != nil {
				return nil, execError("%v", err)
			}
			return scriptResult{Value: res.Value, Type: res.Type}, nil
		}

		fn, ok := helpers[p.FunctionName]
		if !ok {
			return nil, execError("Unknown helper function: %s", p.FunctionName)
		}
		value, err := fn(pg, p.Args)
		if err != nil {
			return nil, err
		}
		return scriptResult{Value: value, Type: jsType(value)}, nil
	})
}

func jsType(v interface{}) string {
	switch v.(type) {
	case nil:
		return "object"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int64, float64, json.Number:
		return "number"
	}
	return "object"
}
