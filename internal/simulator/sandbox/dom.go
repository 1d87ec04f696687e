package sandbox

import (
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// BlankPage is the document of a fresh tab
const BlankPage = "<html><head><title></title></head><body></body></html>"

// DOM is a parsed page shared by CSS and XPath queries
type DOM struct {
	root    *html.Node
	doc     *goquery.Document
	changes []DOMChange
	mu      sync.RWMutex
}

// NewDOM parses markup into a document
func NewDOM(markup string) (*DOM, error) {
	root, err := htmlquery.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &DOM{
		root: root,
		doc:  goquery.NewDocumentFromNode(root),
	}, nil
}

// IsXPath reports whether a selector is an XPath expression rather than CSS
func IsXPath(selector string) bool {
	s := strings.TrimSpace(selector)
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, "./") || strings.HasPrefix(s, "(/")
}

// Query finds elements by CSS selector or XPath expression
func (d *DOM) Query(selector string) (*goquery.Selection, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.query(d.doc.Selection, selector)
}

// QueryWithin is Query scoped to the descendants of scope
func (d *DOM) QueryWithin(scope *goquery.Selection, selector string) (*goquery.Selection, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.query(scope, selector)
}

func (d *DOM) query(scope *goquery.Selection, selector string) (*goquery.Selection, error) {
	if IsXPath(selector) {
		var nodes []*html.Node
		for _, n := range scope.Nodes {
			found, err := htmlquery.QueryAll(n, selector)
			if err != nil {
				return nil, fmt.Errorf("invalid XPath %q: %w", selector, err)
			}
			nodes = append(nodes, found...)
		}
		return d.doc.FindNodes(elementsOnly(nodes)...), nil
	}
	if _, err := cascadia.ParseGroup(selector); err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return scope.Find(selector), nil
}

// Exists reports whether selector matches at least one element
func (d *DOM) Exists(selector string) (bool, error) {
	sel, err := d.Query(selector)
	if err != nil {
		return false, err
	}
	return sel.Length() > 0, nil
}

// Title returns the document title
func (d *DOM) Title() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

// SetTitle replaces the document title
func (d *DOM) SetTitle(title string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.doc.Find("title").First()
	if t.Length() == 0 {
		d.doc.Find("head").AppendHtml("<title></title>")
		t = d.doc.Find("title").First()
	}
	t.SetText(title)
	d.changes = append(d.changes, DOMChange{Type: "set_text", Selector: "title", Property: "title", Value: title})
}

// HTML renders the whole document
func (d *DOM) HTML() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.doc.Html()
}

// Text returns whitespace-normalized text of the first element
func (d *DOM) Text(sel *goquery.Selection) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return strings.Join(strings.Fields(sel.First().Text()), " ")
}

// InnerHTML renders the children of the first element
func (d *DOM) InnerHTML(sel *goquery.Selection) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sel.First().Html()
}

// Value reads the form value of the first element
func (d *DOM) Value(sel *goquery.Selection) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	el := sel.First()
	if goquery.NodeName(el) == "textarea" {
		return el.Text()
	}
	return el.AttrOr("value", "")
}

// SetValue sets the form value of the first element
func (d *DOM) SetValue(sel *goquery.Selection, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el := sel.First()
	if goquery.NodeName(el) == "textarea" {
		el.SetText(value)
	} else {
		el.SetAttr("value", value)
	}
	d.record("set_value", el, "value", value)
}

// SetAttribute sets an attribute and records the change
func (d *DOM) SetAttribute(sel *goquery.Selection, name, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel.First().SetAttr(name, value)
	d.record("set_attribute", sel.First(), name, value)
}

// SetText replaces the text content of the first element
func (d *DOM) SetText(sel *goquery.Selection, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel.First().SetText(text)
	d.record("set_text", sel.First(), "textContent", text)
}

// SetHTML replaces the children of the first element
func (d *DOM) SetHTML(sel *goquery.Selection, markup string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel.First().SetHtml(markup)
	d.record("set_html", sel.First(), "innerHTML", markup)
}

// Click records a click on the first element
func (d *DOM) Click(sel *goquery.Selection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("click", sel.First(), "", nil)
}

// Visible reports whether the first element would be rendered
func (d *DOM) Visible(sel *goquery.Selection) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	el := sel.First()
	if el.Length() == 0 || el.Closest("head").Length() > 0 {
		return false
	}
	for s := el; s.Length() > 0; s = s.Parent() {
		if _, hidden := s.Attr("hidden"); hidden {
			return false
		}
		style := strings.ReplaceAll(strings.ToLower(s.AttrOr("style", "")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
		if t, _ := s.Attr("type"); goquery.NodeName(s) == "input" && t == "hidden" {
			return false
		}
	}
	return true
}

// Changes returns accumulated DOM changes
func (d *DOM) Changes() []DOMChange {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]DOMChange{}, d.changes...)
}

func (d *DOM) changeCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.changes)
}

func (d *DOM) changesSince(n int) []DOMChange {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if n >= len(d.changes) {
		return []DOMChange{}
	}
	return append([]DOMChange{}, d.changes[n:]...)
}

func (d *DOM) record(kind string, el *goquery.Selection, property string, value interface{}) {
	d.changes = append(d.changes, DOMChange{
		Type:     kind,
		Selector: Describe(el),
		Property: property,
		Value:    value,
	})
}

// Describe renders a short tag#id.class label for an element
func Describe(el *goquery.Selection) string {
	if el.Length() == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(goquery.NodeName(el))
	if id, ok := el.Attr("id"); ok && id != "" {
		b.WriteString("#" + id)
	}
	for _, class := range strings.Fields(el.AttrOr("class", "")) {
		b.WriteString("." + class)
	}
	return b.String()
}

func elementsOnly(nodes []*html.Node) []*html.Node {
	out := nodes[:0]
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			out = append(out, n)
		}
	}
	return out
}
