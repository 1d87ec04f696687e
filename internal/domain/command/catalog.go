// Package command defines the closed set of controller actions, their
// parameter records and the single place they are validated.
package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/GriffinCanCode/chromelink/internal/shared/types"
)

// Action names a controller verb
type Action string

const (
	OpenTab             Action = "openTab"
	NavigateTab         Action = "navigateTab"
	SwitchTab           Action = "switchTab"
	CloseTab            Action = "closeTab"
	GetActiveTab        Action = "getActiveTab"
	ListTabs            Action = "listTabs"
	GoBack              Action = "goBack"
	GoForward           Action = "goForward"
	WaitForElement      Action = "waitForElement"
	GetText             Action = "getText"
	Click               Action = "click"
	Type                Action = "type"
	ExecuteJS           Action = "executeJS"
	CallHelper          Action = "callHelper"
	CaptureScreenshot   Action = "captureScreenshot"
	RegisterInjection   Action = "registerInjection"
	UnregisterInjection Action = "unregisterInjection"
	CloseSession        Action = "closeSession"
)

// Kind says where an action is executed
type Kind int

const (
	// KindForward actions run in the extension
	KindForward Kind = iota
	// KindLocal actions are answered by the broker itself
	KindLocal
)

// Definition describes one action
type Definition struct {
	Action    Action
	Kind      Kind
	newParams func() interface{}
}

// Command is a validated envelope
type Command struct {
	Action Action
	Kind   Kind
	Params interface{}
	// Raw is Params re-encoded with defaults applied
	Raw json.RawMessage
}

// checker is implemented by params needing checks the tags cannot express
type checker interface {
	Check() error
}

// Catalog resolves and validates actions
type Catalog struct {
	defs     map[Action]*Definition
	validate *validator.Validate
}

// NewCatalog builds the catalog of every supported action
func NewCatalog() *Catalog {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	c := &Catalog{defs: make(map[Action]*Definition), validate: v}

	tab := func() interface{} { return &TabParams{} }
	selector := func() interface{} { return &SelectorParams{} }
	empty := func() interface{} { return &EmptyParams{} }

	c.add(OpenTab, KindForward, func() interface{} { return &OpenTabParams{Focus: true} })
	c.add(NavigateTab, KindForward, func() interface{} { return &NavigateTabParams{Focus: true} })
	c.add(SwitchTab, KindForward, tab)
	c.add(CloseTab, KindForward, tab)
	c.add(GetActiveTab, KindForward, empty)
	c.add(ListTabs, KindForward, empty)
	c.add(GoBack, KindForward, tab)
	c.add(GoForward, KindForward, tab)
	c.add(WaitForElement, KindForward, func() interface{} { return &WaitForElementParams{Timeout: 5000} })
	c.add(GetText, KindForward, selector)
	c.add(Click, KindForward, selector)
	c.add(Type, KindForward, func() interface{} { return &TypeParams{} })
	c.add(ExecuteJS, KindForward, func() interface{} { return &ExecuteJSParams{} })
	c.add(CallHelper, KindForward, func() interface{} { return &CallHelperParams{Args: []interface{}{}} })
	c.add(CaptureScreenshot, KindForward, func() interface{} { return &CaptureScreenshotParams{Format: "png", Quality: 90} })
	c.add(RegisterInjection, KindForward, func() interface{} {
		return &RegisterInjectionParams{Matches: []string{"<all_urls>"}, RunAt: "document_idle"}
	})
	c.add(UnregisterInjection, KindForward, func() interface{} { return &UnregisterInjectionParams{} })
	c.add(CloseSession, KindLocal, empty)

	return c
}

func (c *Catalog) add(action Action, kind Kind, newParams func() interface{}) {
	c.defs[action] = &Definition{Action: action, Kind: kind, newParams: newParams}
}

// Lookup returns the definition for an action name
func (c *Catalog) Lookup(name string) (*Definition, bool) {
	def, ok := c.defs[Action(name)]
	return def, ok
}

// Parse validates an envelope's action and params. Every failure is a
// MISSING_PARAMS command error.
func (c *Catalog) Parse(action string, raw json.RawMessage) (*Command, error) {
	def, ok := c.Lookup(action)
	if !ok {
		return nil, types.NewCommandError(types.CodeMissingParams, "Unknown action: %s", action)
	}

	params := def.newParams()
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if trimmed[0] != '{' {
			return nil, types.NewCommandError(types.CodeMissingParams, "Invalid params for %s: expected an object", action)
		}
		if err := json.Unmarshal(trimmed, params); err != nil {
			return nil, types.NewCommandError(types.CodeMissingParams, "Invalid params for %s: %s", action, describeDecodeError(err))
		}
	}

	if err := c.validate.Struct(params); err != nil {
		return nil, types.NewCommandError(types.CodeMissingParams, "%s", describeValidationError(action, err))
	}
	if chk, ok := params.(checker); ok {
		if err := chk.Check(); err != nil {
			return nil, types.NewCommandError(types.CodeMissingParams, "Invalid params for %s: %v", action, err)
		}
	}

	normalized, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params for %s: %w", action, err)
	}

	return &Command{
		Action: def.Action,
		Kind:   def.Kind,
		Params: params,
		Raw:    normalized,
	}, nil
}

// Deadline returns how long the broker waits for the extension. Waiting
// commands get their own timeout plus slack when that exceeds base.
func (cmd *Command) Deadline(base, slack time.Duration) time.Duration {
	if p, ok := cmd.Params.(*WaitForElementParams); ok {
		wait := time.Duration(p.Timeout)*time.Millisecond + slack
		if wait > base {
			return wait
		}
	}
	return base
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return fmt.Sprintf("%s must be %s", typeErr.Field, jsonKind(typeErr.Type))
	}
	return err.Error()
}

func jsonKind(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "a boolean"
	case reflect.Int, reflect.Int64, reflect.Int32, reflect.Float64:
		return "a number"
	case reflect.Slice:
		return "an array"
	}
	return "an object"
}

func describeValidationError(action string, err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Sprintf("Invalid params for %s: %v", action, err)
	}

	var missing, invalid []string
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
			continue
		}
		switch fe.Tag() {
		case "oneof":
			invalid = append(invalid, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		case "min", "max":
			invalid = append(invalid, fmt.Sprintf("%s out of range (%s %s)", fe.Field(), fe.Tag(), fe.Param()))
		default:
			invalid = append(invalid, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	if len(missing) > 0 {
		return fmt.Sprintf("Missing required parameters for %s: %s", action, strings.Join(missing, ", "))
	}
	return fmt.Sprintf("Invalid params for %s: %s", action, strings.Join(invalid, "; "))
}
