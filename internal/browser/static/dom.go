package static

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

// nonRendered elements never produce boxes, and neither do their descendants.
var nonRendered = map[string]bool{
	"head": true, "script": true, "style": true, "template": true,
	"noscript": true, "title": true, "meta": true, "link": true, "base": true,
}

// resolve returns every element matching loc in document order.
func resolve(doc *html.Node, loc schemas.Locator) ([]*html.Node, error) {
	if doc == nil {
		return nil, nil
	}
	switch loc.Kind {
	case schemas.LocatorXPath:
		nodes, err := htmlquery.QueryAll(doc, loc.Expr)
		if err != nil {
			return nil, fmt.Errorf("invalid xpath %q: %w", loc.Expr, err)
		}
		return elementsOnly(nodes), nil
	case schemas.LocatorCSS:
		sel, err := cascadia.Compile(loc.Expr)
		if err != nil {
			return nil, fmt.Errorf("invalid css selector %q: %w", loc.Expr, err)
		}
		return goquery.NewDocumentFromNode(doc).FindMatcher(sel).Nodes, nil
	case schemas.LocatorText:
		return matchText(doc, loc), nil
	case schemas.LocatorRole:
		return matchRole(doc, loc), nil
	default:
		return nil, fmt.Errorf("unsupported locator kind %q", loc.Kind)
	}
}

func elementsOnly(nodes []*html.Node) []*html.Node {
	out := nodes[:0]
	for _, n := range nodes {
		switch n.Type {
		case html.ElementNode:
			out = append(out, n)
		case html.TextNode, html.CommentNode:
			if n.Parent != nil && n.Parent.Type == html.ElementNode {
				out = append(out, n.Parent)
			}
		}
	}
	return out
}

// matchText selects the innermost elements whose rendered text matches.
// An element is skipped when one of its element children already matches.
func matchText(doc *html.Node, loc schemas.Locator) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && nonRendered[n.Data] {
			return false
		}
		childMatched := false
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				childMatched = true
			}
		}
		if n.Type != html.ElementNode || n.Data == "html" || n.Data == "body" {
			return childMatched
		}
		if childMatched {
			return true
		}
		if loc.MatchesText(textContent(n)) {
			out = append(out, n)
			return true
		}
		return false
	}
	walk(doc)
	// The walk appends in post-order; an element never precedes its
	// ancestors here because ancestors are suppressed once a child matches.
	return out
}

func matchRole(doc *html.Node, loc schemas.Locator) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if nonRendered[n.Data] || attr(n, "aria-hidden") == "true" {
				return
			}
			if roleOf(n) == loc.Expr && loc.MatchesText(accessibleName(n)) {
				out = append(out, n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

// textContent is the element's rendered text, with script and style
// bodies left out and button-like inputs contributing their value.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		case html.ElementNode:
			if nonRendered[n.Data] {
				return
			}
			if n.Data == "input" {
				switch attr(n, "type") {
				case "submit", "button", "reset":
					b.WriteString(attr(n, "value"))
					b.WriteByte(' ')
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return schemas.NormalizeText(b.String())
}

// roleOf returns the explicit role attribute or the implicit ARIA role.
func roleOf(n *html.Node) string {
	if r := strings.TrimSpace(attr(n, "role")); r != "" {
		return strings.ToLower(strings.Fields(r)[0])
	}
	switch n.Data {
	case "a", "area":
		if hasAttr(n, "href") {
			return "link"
		}
	case "button":
		return "button"
	case "input":
		switch attr(n, "type") {
		case "button", "submit", "reset", "image":
			return "button"
		case "checkbox":
			return "checkbox"
		case "radio":
			return "radio"
		case "range":
			return "slider"
		case "number":
			return "spinbutton"
		case "search":
			return "searchbox"
		case "hidden", "file", "color", "date", "datetime-local", "month", "time", "week", "password":
			return ""
		default:
			if hasAttr(n, "list") {
				return "combobox"
			}
			return "textbox"
		}
	case "textarea":
		return "textbox"
	case "select":
		if hasAttr(n, "multiple") {
			return "listbox"
		}
		return "combobox"
	case "option":
		return "option"
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return "heading"
	case "img":
		if hasAttr(n, "alt") && attr(n, "alt") == "" {
			return "presentation"
		}
		return "img"
	case "nav":
		return "navigation"
	case "main":
		return "main"
	case "header":
		return "banner"
	case "footer":
		return "contentinfo"
	case "aside":
		return "complementary"
	case "form":
		return "form"
	case "section":
		if hasAttr(n, "aria-label") || hasAttr(n, "aria-labelledby") {
			return "region"
		}
	case "article":
		return "article"
	case "ul", "ol":
		return "list"
	case "li":
		return "listitem"
	case "table":
		return "table"
	case "dialog":
		return "dialog"
	case "p":
		return "paragraph"
	}
	return ""
}

// accessibleName approximates the accessible name computation: aria-label,
// aria-labelledby, associated labels, then content or fallback attributes.
func accessibleName(n *html.Node) string {
	if v := strings.TrimSpace(attr(n, "aria-label")); v != "" {
		return v
	}
	if ids := strings.Fields(attr(n, "aria-labelledby")); len(ids) > 0 {
		root := rootOf(n)
		var parts []string
		for _, id := range ids {
			if ref := byID(root, id); ref != nil {
				parts = append(parts, textContent(ref))
			}
		}
		if name := schemas.NormalizeText(strings.Join(parts, " ")); name != "" {
			return name
		}
	}
	switch n.Data {
	case "input", "textarea", "select":
		switch attr(n, "type") {
		case "submit", "button", "reset":
			if v := attr(n, "value"); v != "" {
				return v
			}
			if attr(n, "type") == "submit" {
				return "Submit"
			}
		case "image":
			return attr(n, "alt")
		}
		if label := labelFor(n); label != "" {
			return label
		}
		if v := attr(n, "placeholder"); v != "" {
			return v
		}
		return attr(n, "title")
	case "img", "area":
		if v := attr(n, "alt"); v != "" {
			return v
		}
		return attr(n, "title")
	}
	if text := textContent(n); text != "" {
		return text
	}
	return attr(n, "title")
}

func labelFor(n *html.Node) string {
	if id := attr(n, "id"); id != "" {
		var found string
		walkElements(rootOf(n), func(e *html.Node) bool {
			if e.Data == "label" && attr(e, "for") == id {
				found = textContent(e)
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "label" {
			return textContent(p)
		}
	}
	return ""
}

// isVisible reports whether n would render a box. Stylesheets are not
// evaluated; inline display and visibility declarations are.
func isVisible(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if n.Data == "input" && attr(n, "type") == "hidden" {
		return false
	}
	visibilitySet := false
	for e := n; e != nil; e = e.Parent {
		if e.Type != html.ElementNode {
			continue
		}
		if nonRendered[e.Data] || hasAttr(e, "hidden") {
			return false
		}
		if e.Data == "dialog" && !hasAttr(e, "open") {
			return false
		}
		if e.Parent != nil && e.Parent.Type == html.ElementNode && e.Parent.Data == "details" &&
			!hasAttr(e.Parent, "open") && e.Data != "summary" {
			return false
		}
		style := strings.ToLower(strings.ReplaceAll(attr(e, "style"), " ", ""))
		if v, ok := styleValue(style, "display"); ok && v == "none" {
			return false
		}
		// visibility inherits, so the nearest explicit declaration decides.
		if v, ok := styleValue(style, "visibility"); ok && !visibilitySet {
			visibilitySet = true
			if v == "hidden" || v == "collapse" {
				return false
			}
		}
	}
	return true
}

// styleValue returns the last declaration of prop in a lowercased,
// space-stripped inline style.
func styleValue(style, prop string) (string, bool) {
	var (
		val   string
		found bool
	)
	for _, decl := range strings.Split(style, ";") {
		name, v, ok := strings.Cut(decl, ":")
		if !ok || name != prop {
			continue
		}
		val, found = strings.TrimSuffix(v, "!important"), true
	}
	return val, found
}

// isEnabled follows the HTML disabled rules, including disabled fieldsets
// and aria-disabled.
func isEnabled(n *html.Node) bool {
	if attr(n, "aria-disabled") == "true" {
		return false
	}
	switch n.Data {
	case "button", "input", "select", "textarea", "option", "optgroup", "fieldset":
	default:
		return true
	}
	if hasAttr(n, "disabled") {
		return false
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "fieldset" && hasAttr(p, "disabled") {
			if legend := firstLegend(p); legend != nil && contains(legend, n) {
				continue
			}
			return false
		}
	}
	return true
}

func firstLegend(fieldset *html.Node) *html.Node {
	for c := fieldset.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "legend" {
			return c
		}
	}
	return nil
}

func contains(ancestor, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == ancestor {
			return true
		}
	}
	return false
}

// -- node helpers --

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			if key == "type" {
				return strings.ToLower(strings.TrimSpace(a.Val))
			}
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}

func setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func rootOf(n *html.Node) *html.Node {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

func byID(root *html.Node, id string) *html.Node {
	var found *html.Node
	walkElements(root, func(e *html.Node) bool {
		if attr(e, "id") == id {
			found = e
			return false
		}
		return true
	})
	return found
}

// walkElements visits elements in document order until fn returns false.
func walkElements(n *html.Node, fn func(*html.Node) bool) bool {
	if n.Type == html.ElementNode && !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walkElements(c, fn) {
			return false
		}
	}
	return true
}

func closest(n *html.Node, tag string) *html.Node {
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == tag {
			return p
		}
	}
	return nil
}
