package command

import (
	"fmt"
)

// Params records, one per action. Fields pre-set by the catalog's
// constructors are the defaults; JSON input overlays them.

type OpenTabParams struct {
	URL   string `json:"url" validate:"required"`
	Focus bool   `json:"focus"`
}

type NavigateTabParams struct {
	TabID *int64 `json:"tabId" validate:"required"`
	URL   string `json:"url" validate:"required"`
	Focus bool   `json:"focus"`
}

// TabParams addresses a single tab
type TabParams struct {
	TabID *int64 `json:"tabId" validate:"required"`
}

type EmptyParams struct{}

type WaitForElementParams struct {
	Selector string `json:"selector" validate:"required"`
	Timeout  int64  `json:"timeout" validate:"min=0"`
	TabID    *int64 `json:"tabId,omitempty"`
}

// SelectorParams targets an element in a tab, the active one when TabID is nil
type SelectorParams struct {
	Selector string `json:"selector" validate:"required"`
	TabID    *int64 `json:"tabId,omitempty"`
}

type TypeParams struct {
	Selector string `json:"selector" validate:"required"`
	Text     string `json:"text" validate:"required"`
	TabID    *int64 `json:"tabId,omitempty"`
}

type ExecuteJSParams struct {
	Code  string `json:"code" validate:"required"`
	TabID *int64 `json:"tabId,omitempty"`
}

type CallHelperParams struct {
	FunctionName string        `json:"functionName" validate:"required"`
	Args         []interface{} `json:"args"`
	TabID        *int64        `json:"tabId,omitempty"`
}

// Check rejects non-primitive helper arguments
func (p *CallHelperParams) Check() error {
	for i, arg := range p.Args {
		switch arg.(type) {
		case nil, string, float64, bool:
		default:
			return fmt.Errorf("args[%d] must be a string, number, boolean or null", i)
		}
	}
	return nil
}

type CaptureScreenshotParams struct {
	Format   string `json:"format" validate:"oneof=png jpeg"`
	Quality  int    `json:"quality" validate:"min=0,max=100"`
	TabID    *int64 `json:"tabId,omitempty"`
	FullPage bool   `json:"fullPage"`
}

type RegisterInjectionParams struct {
	ID      string   `json:"id" validate:"required"`
	Code    string   `json:"code" validate:"required"`
	Matches []string `json:"matches"`
	RunAt   string   `json:"runAt" validate:"omitempty,oneof=document_start document_end document_idle"`
}

type UnregisterInjectionParams struct {
	ID string `json:"id" validate:"required"`
}
