package static

import (
	"net/mail"
	"net/url"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// fillable reports whether n accepts typed text.
func fillable(n *html.Node) bool {
	switch n.Data {
	case "textarea":
		return true
	case "input":
		switch attr(n, "type") {
		case "checkbox", "radio", "submit", "button", "reset", "image", "file", "hidden", "range", "color":
			return false
		}
		return !hasAttr(n, "readonly")
	}
	if !hasAttr(n, "contenteditable") {
		return false
	}
	return strings.ToLower(attr(n, "contenteditable")) != "false"
}

func setValue(n *html.Node, text string) {
	switch n.Data {
	case "input":
		setAttr(n, "value", text)
	default:
		setText(n, text)
	}
}

func valueOf(n *html.Node) string {
	switch n.Data {
	case "input":
		return attr(n, "value")
	case "textarea":
		return htmlquery.InnerText(n)
	}
	return ""
}

// ownerForm finds the form a control submits, honoring the form attribute.
func ownerForm(n *html.Node) *html.Node {
	if id := attr(n, "form"); id != "" {
		if f := byID(rootOf(n), id); f != nil && f.Data == "form" {
			return f
		}
	}
	return closest(n, "form")
}

func isSubmitter(n *html.Node) bool {
	switch n.Data {
	case "button":
		t := attr(n, "type")
		return t == "" || t == "submit"
	case "input":
		t := attr(n, "type")
		return t == "submit" || t == "image"
	}
	return false
}

// formControls lists the submittable controls of form, including those
// outside it that reference it by id.
func formControls(form *html.Node) []*html.Node {
	var out []*html.Node
	formID := attr(form, "id")
	walkElements(rootOf(form), func(e *html.Node) bool {
		switch e.Data {
		case "input", "textarea", "select":
			if (contains(form, e) && attr(e, "form") == "") || (formID != "" && attr(e, "form") == formID) {
				out = append(out, e)
			}
		}
		return true
	})
	return out
}

// invalidControl returns the first control failing constraint validation,
// or nil. Only the constraints a static document can evaluate are checked.
func invalidControl(form *html.Node) *html.Node {
	if hasAttr(form, "novalidate") {
		return nil
	}
	for _, c := range formControls(form) {
		if !isEnabled(c) || attr(c, "type") == "hidden" || hasAttr(c, "readonly") {
			continue
		}
		if !satisfiesConstraints(c) {
			return c
		}
	}
	return nil
}

func satisfiesConstraints(c *html.Node) bool {
	value := valueOf(c)
	typ := attr(c, "type")
	if hasAttr(c, "required") {
		switch typ {
		case "checkbox", "radio":
			if !hasAttr(c, "checked") && !groupChecked(c) {
				return false
			}
		default:
			if c.Data == "select" {
				if selectedValue(c) == "" {
					return false
				}
			} else if value == "" {
				return false
			}
		}
	}
	if value == "" {
		return true
	}
	switch typ {
	case "email":
		for _, addr := range strings.Split(value, ",") {
			if !validEmail(strings.TrimSpace(addr), hasAttr(c, "multiple")) {
				return false
			}
		}
	case "url":
		u, err := url.Parse(value)
		if err != nil || u.Scheme == "" {
			return false
		}
	}
	if n := atoiAttr(c, "minlength"); n > 0 && len([]rune(value)) < n {
		return false
	}
	return true
}

func validEmail(s string, multiple bool) bool {
	if s == "" {
		return multiple
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndex(s, "@")
	return at > 0 && at < len(s)-1
}

func atoiAttr(n *html.Node, key string) int {
	v := strings.TrimSpace(attr(n, key))
	out := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return 0
		}
		out = out*10 + int(r-'0')
	}
	return out
}

func groupChecked(c *html.Node) bool {
	name := attr(c, "name")
	if name == "" {
		return false
	}
	form := ownerForm(c)
	if form == nil {
		form = rootOf(c)
	}
	found := false
	walkElements(form, func(e *html.Node) bool {
		if e.Data == "input" && attr(e, "type") == "radio" && attr(e, "name") == name && hasAttr(e, "checked") {
			found = true
			return false
		}
		return true
	})
	return found
}

func selectedValue(sel *html.Node) string {
	var first, chosen *html.Node
	walkElements(sel, func(e *html.Node) bool {
		if e.Data != "option" {
			return true
		}
		if first == nil {
			first = e
		}
		if hasAttr(e, "selected") {
			chosen = e
			return false
		}
		return true
	})
	if chosen == nil {
		chosen = first
	}
	if chosen == nil {
		return ""
	}
	if hasAttr(chosen, "value") {
		return attr(chosen, "value")
	}
	return strings.TrimSpace(htmlquery.InnerText(chosen))
}

// serialize encodes the form data set. The submitter contributes its own
// name and value when it has them.
func serialize(form, submitter *html.Node) url.Values {
	data := url.Values{}
	for _, c := range formControls(form) {
		name := attr(c, "name")
		if name == "" || !isEnabled(c) {
			continue
		}
		switch c.Data {
		case "select":
			data.Add(name, selectedValue(c))
		case "textarea":
			data.Add(name, valueOf(c))
		default:
			switch attr(c, "type") {
			case "checkbox", "radio":
				if hasAttr(c, "checked") {
					v := attr(c, "value")
					if v == "" {
						v = "on"
					}
					data.Add(name, v)
				}
			case "submit", "image", "button", "reset", "file":
			default:
				data.Add(name, attr(c, "value"))
			}
		}
	}
	if submitter != nil {
		if name := attr(submitter, "name"); name != "" {
			data.Add(name, attr(submitter, "value"))
		}
	}
	return data
}

func toggleChecked(n *html.Node) {
	switch attr(n, "type") {
	case "checkbox":
		if hasAttr(n, "checked") {
			removeAttr(n, "checked")
		} else {
			setAttr(n, "checked", "")
		}
	case "radio":
		if name := attr(n, "name"); name != "" {
			scope := ownerForm(n)
			if scope == nil {
				scope = rootOf(n)
			}
			walkElements(scope, func(e *html.Node) bool {
				if e.Data == "input" && attr(e, "type") == "radio" && attr(e, "name") == name {
					removeAttr(e, "checked")
				}
				return true
			})
		}
		setAttr(n, "checked", "")
	}
}
