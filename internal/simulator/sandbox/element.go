package sandbox

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
)

var elementKeys = []string{
	"tagName", "id", "className", "textContent", "innerText", "innerHTML",
	"outerHTML", "value", "href", "getAttribute", "setAttribute",
	"hasAttribute", "click", "focus", "querySelector", "querySelectorAll",
}

// element exposes one DOM node to scripts. Unknown properties land in
// expando and live as long as the proxy.
type element struct {
	rt      *Runtime
	sel     *goquery.Selection
	expando map[string]goja.Value
}

func (e *element) Get(key string) goja.Value {
	vm, dom := e.rt.vm, e.rt.dom
	switch key {
	case "tagName", "nodeName":
		return vm.ToValue(strings.ToUpper(goquery.NodeName(e.sel)))
	case "id":
		return vm.ToValue(e.sel.AttrOr("id", ""))
	case "className":
		return vm.ToValue(e.sel.AttrOr("class", ""))
	case "textContent", "innerText":
		return vm.ToValue(dom.Text(e.sel))
	case "innerHTML":
		markup, _ := e.sel.Html()
		return vm.ToValue(markup)
	case "outerHTML":
		markup, _ := goquery.OuterHtml(e.sel)
		return vm.ToValue(markup)
	case "value":
		return vm.ToValue(dom.Value(e.sel))
	case "href":
		return vm.ToValue(e.sel.AttrOr("href", ""))
	case "getAttribute":
		return vm.ToValue(func(name string) goja.Value {
			if v, ok := e.sel.Attr(name); ok {
				return vm.ToValue(v)
			}
			return goja.Null()
		})
	case "setAttribute":
		return vm.ToValue(func(name, value string) {
			dom.SetAttribute(e.sel, name, value)
		})
	case "hasAttribute":
		return vm.ToValue(func(name string) bool {
			_, ok := e.sel.Attr(name)
			return ok
		})
	case "click":
		return vm.ToValue(func() { dom.Click(e.sel) })
	case "focus", "blur", "scrollIntoView":
		return vm.ToValue(func() {})
	case "querySelector":
		return vm.ToValue(func(selector string) goja.Value {
			return e.rt.first(dom.QueryWithin(e.sel, selector))
		})
	case "querySelectorAll":
		return vm.ToValue(func(selector string) goja.Value {
			return e.rt.all(dom.QueryWithin(e.sel, selector))
		})
	}
	if v, ok := e.expando[key]; ok {
		return v
	}
	return nil
}

func (e *element) Set(key string, val goja.Value) bool {
	dom := e.rt.dom
	switch key {
	case "value":
		dom.SetValue(e.sel, val.String())
	case "textContent", "innerText":
		dom.SetText(e.sel, val.String())
	case "innerHTML":
		dom.SetHTML(e.sel, val.String())
	case "id":
		dom.SetAttribute(e.sel, "id", val.String())
	case "className":
		dom.SetAttribute(e.sel, "class", val.String())
	case "href":
		dom.SetAttribute(e.sel, "href", val.String())
	default:
		if e.expando == nil {
			e.expando = make(map[string]goja.Value)
		}
		e.expando[key] = val
	}
	return true
}

func (e *element) Has(key string) bool {
	for _, k := range elementKeys {
		if k == key {
			return true
		}
	}
	_, ok := e.expando[key]
	return ok
}

func (e *element) Delete(key string) bool {
	delete(e.expando, key)
	return true
}

func (e *element) Keys() []string {
	keys := append([]string{}, elementKeys...)
	for k := range e.expando {
		keys = append(keys, k)
	}
	return keys
}

// MarshalJSON lets elements returned from scripts serialize as a summary
func (e *element) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"tagName":  strings.ToUpper(goquery.NodeName(e.sel)),
		"id":       e.sel.AttrOr("id", ""),
		"selector": Describe(e.sel),
		"text":     e.rt.dom.Text(e.sel),
	})
}
