package schemas

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// LocatorKind selects the resolution strategy of a Locator.
type LocatorKind string

const (
	// LocatorText matches elements by their rendered text.
	LocatorText LocatorKind = "text"
	// LocatorXPath evaluates an XPath expression.
	LocatorXPath LocatorKind = "xpath"
	// LocatorCSS evaluates a CSS selector.
	LocatorCSS LocatorKind = "css"
	// LocatorRole matches elements by ARIA role and accessible name.
	LocatorRole LocatorKind = "role"
)

// Locator is a late-bound element selection expression. It is resolved
// against the live document every time it is used, never cached.
type Locator struct {
	Kind LocatorKind
	// Expr is the text to match, the XPath or CSS expression, or the role name.
	Expr string
	// Name filters role locators by accessible name.
	Name string
	// Exact switches text and name matching from case-insensitive substring
	// to case-sensitive equality.
	Exact bool
	// Nth picks one element out of the matches, zero-based.
	Nth int
}

var (
	nthSuffix = regexp.MustCompile(`\s*>>\s*nth=(\d+)\s*$`)
	roleExpr  = regexp.MustCompile(`^([a-z]+)\s*(?:\[\s*name\s*=\s*("(?:[^"\\]|\\.)*"|'[^']*')\s*([is]?)\s*\])?$`)
)

// ParseLocator parses the selector syntax used in scenario files:
//
//	text=Get In Touch          case-insensitive substring
//	text="Get In Touch"        exact
//	xpath=//form/button        also any expression starting with / or (
//	css=form button            also the default for bare expressions
//	role=button[name="Send"]   optional trailing i or s after the quote
//
// Any form may end in ">> nth=N".
func ParseLocator(s string) (Locator, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Locator{}, fmt.Errorf("empty locator")
	}

	var loc Locator
	if m := nthSuffix.FindStringSubmatchIndex(raw); m != nil {
		n, err := strconv.Atoi(raw[m[2]:m[3]])
		if err != nil {
			return Locator{}, fmt.Errorf("locator %q: invalid nth: %w", s, err)
		}
		loc.Nth = n
		raw = strings.TrimSpace(raw[:m[0]])
		if raw == "" {
			return Locator{}, fmt.Errorf("locator %q: missing selector before nth", s)
		}
	}

	kind, body, hasPrefix := splitEngine(raw)
	if !hasPrefix {
		switch {
		case strings.HasPrefix(raw, "/"), strings.HasPrefix(raw, "("):
			kind, body = LocatorXPath, raw
		case isQuoted(raw):
			kind, body = LocatorText, raw
		default:
			kind, body = LocatorCSS, raw
		}
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return Locator{}, fmt.Errorf("locator %q: empty %s expression", s, kind)
	}

	loc.Kind = kind
	switch kind {
	case LocatorText:
		if isQuoted(body) {
			text, err := unquote(body)
			if err != nil {
				return Locator{}, fmt.Errorf("locator %q: %w", s, err)
			}
			loc.Expr, loc.Exact = text, true
		} else {
			loc.Expr = body
		}
		if NormalizeText(loc.Expr) == "" {
			return Locator{}, fmt.Errorf("locator %q: text is blank", s)
		}
	case LocatorRole:
		m := roleExpr.FindStringSubmatch(body)
		if m == nil {
			return Locator{}, fmt.Errorf("locator %q: expected role=<role>[name=\"...\"]", s)
		}
		loc.Expr = m[1]
		if m[2] != "" {
			name, err := unquote(m[2])
			if err != nil {
				return Locator{}, fmt.Errorf("locator %q: %w", s, err)
			}
			loc.Name = name
			loc.Exact = m[3] == "s"
		}
	case LocatorXPath, LocatorCSS:
		loc.Expr = body
	}
	return loc, nil
}

// MustParseLocator is ParseLocator for literals known to be valid.
func MustParseLocator(s string) Locator {
	loc, err := ParseLocator(s)
	if err != nil {
		panic(err)
	}
	return loc
}

func splitEngine(raw string) (LocatorKind, string, bool) {
	for _, k := range []LocatorKind{LocatorText, LocatorXPath, LocatorCSS, LocatorRole} {
		prefix := string(k) + "="
		if len(raw) >= len(prefix) && strings.EqualFold(raw[:len(prefix)], prefix) {
			return k, raw[len(prefix):], true
		}
	}
	return "", raw, false
}

func isQuoted(s string) bool {
	if len(s) < 2 {
		return false
	}
	return (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'')
}

func unquote(s string) (string, error) {
	if s[0] == '\'' {
		return s[1 : len(s)-1], nil
	}
	out, err := strconv.Unquote(s)
	if err != nil {
		return "", fmt.Errorf("bad quoted string %s: %w", s, err)
	}
	return out, nil
}

// IsZero reports whether the locator was never set.
func (l Locator) IsZero() bool {
	return l.Kind == "" && l.Expr == ""
}

// String renders the locator in the syntax ParseLocator accepts.
func (l Locator) String() string {
	if l.IsZero() {
		return ""
	}
	var b strings.Builder
	b.WriteString(string(l.Kind))
	b.WriteByte('=')
	switch l.Kind {
	case LocatorText:
		if l.Exact {
			b.WriteString(strconv.Quote(l.Expr))
		} else {
			b.WriteString(l.Expr)
		}
	case LocatorRole:
		b.WriteString(l.Expr)
		if l.Name != "" {
			b.WriteString("[name=")
			b.WriteString(strconv.Quote(l.Name))
			if l.Exact {
				b.WriteByte('s')
			}
			b.WriteByte(']')
		}
	default:
		b.WriteString(l.Expr)
	}
	if l.Nth > 0 {
		fmt.Fprintf(&b, " >> nth=%d", l.Nth)
	}
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (l Locator) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Locator) UnmarshalText(text []byte) error {
	parsed, err := ParseLocator(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// NormalizeText collapses whitespace runs into single spaces and trims the ends.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// MatchesText reports whether got satisfies the locator's text expression, or
// its accessible name filter for role locators. A role locator without a name
// matches any text.
func (l Locator) MatchesText(got string) bool {
	want := l.Expr
	if l.Kind == LocatorRole {
		if l.Name == "" {
			return true
		}
		want = l.Name
	}
	want, got = NormalizeText(want), NormalizeText(got)
	if l.Exact {
		return got == want
	}
	return strings.Contains(strings.ToLower(got), strings.ToLower(want))
}
