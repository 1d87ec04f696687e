package simulator

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

type helperFunc func(p *page, args []interface{}) (interface{}, error)

// helpers are the built-in page helpers the extension's content script
// exposes to callHelper
var helpers = map[string]helperFunc{
	"clickElement": func(p *page, args []interface{}) (interface{}, error) {
		return onElement(p, args, func(el *goquery.Selection) (interface{}, error) {
			p.dom.Click(el)
			return true, nil
		})
	},
	"getText": func(p *page, args []interface{}) (interface{}, error) {
		return onElement(p, args, func(el *goquery.Selection) (interface{}, error) {
			return p.dom.Text(el), nil
		})
	},
	"getHTML": func(p *page, args []interface{}) (interface{}, error) {
		return onElement(p, args, func(el *goquery.Selection) (interface{}, error) {
			markup, err := p.dom.InnerHTML(el)
			if err != nil {
				return nil, execError("%v", err)
			}
			return markup, nil
		})
	},
	"elementExists": func(p *page, args []interface{}) (interface{}, error) {
		sel, err := selectorArg(args, 0)
		if err != nil {
			return nil, err
		}
		ok, err := p.dom.Exists(sel)
		if err != nil {
			return nil, execError("%v", err)
		}
		return ok, nil
	},
	"isVisible": func(p *page, args []interface{}) (interface{}, error) {
		sel, err := selectorArg(args, 0)
		if err != nil {
			return nil, err
		}
		found, err := p.dom.Query(sel)
		if err != nil {
			return nil, execError("%v", err)
		}
		return p.dom.Visible(found), nil
	},
	"getElementBounds": func(p *page, args []interface{}) (interface{}, error) {
		return onElement(p, args, func(el *goquery.Selection) (interface{}, error) {
			// layout is not simulated; stack elements by document order
			index := el.Index()
			return map[string]interface{}{
				"x":      0,
				"y":      index * 20,
				"width":  800,
				"height": 20,
				"top":    index * 20,
				"left":   0,
			}, nil
		})
	},
	"getPageTitle": func(p *page, _ []interface{}) (interface{}, error) {
		return p.dom.Title(), nil
	},
	"getURL": func(p *page, _ []interface{}) (interface{}, error) {
		return p.url, nil
	},
	"fillInput": func(p *page, args []interface{}) (interface{}, error) {
		if len(args) < 2 {
			return nil, execError("fillInput expects (selector, value)")
		}
		return onElement(p, args, func(el *goquery.Selection) (interface{}, error) {
			p.dom.SetValue(el, fmt.Sprint(args[1]))
			return true, nil
		})
	},
	"countElements": func(p *page, args []interface{}) (interface{}, error) {
		sel, err := selectorArg(args, 0)
		if err != nil {
			return nil, err
		}
		found, err := p.dom.Query(sel)
		if err != nil {
			return nil, execError("%v", err)
		}
		return found.Length(), nil
	},
}

func selectorArg(args []interface{}, i int) (string, error) {
	if i >= len(args) {
		return "", execError("Missing selector argument")
	}
	s, ok := args[i].(string)
	if !ok || s == "" {
		return "", execError("Selector argument must be a non-empty string")
	}
	return s, nil
}

func onElement(p *page, args []interface{}, fn func(el *goquery.Selection) (interface{}, error)) (interface{}, error) {
	selector, err := selectorArg(args, 0)
	if err != nil {
		return nil, err
	}
	found, err := p.dom.Query(selector)
	if err != nil {
		return nil, execError("%v", err)
	}
	if found.Length() == 0 {
		return nil, execError("Element not found: %s", selector)
	}
	return fn(found.First())
}
