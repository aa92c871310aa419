package cdp

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// resolverOp selects what the injected resolver does with the element it found.
type resolverOp string

const (
	// opQuery only reports the element state.
	opQuery resolverOp = "query"
	// opPoint scrolls the element into view and hit-tests its center.
	opPoint resolverOp = "point"
	// opFocus focuses a fillable element and clears its value.
	opFocus resolverOp = "focus"
)

// resolverArgs is the locator as the injected script sees it.
type resolverArgs struct {
	Kind  string `json:"kind"`
	Expr  string `json:"expr"`
	Name  string `json:"name,omitempty"`
	Exact bool   `json:"exact"`
	Nth   int    `json:"nth"`
}

// resolved is what the script returns.
type resolved struct {
	Count    int     `json:"count"`
	Attached bool    `json:"attached"`
	Visible  bool    `json:"visible"`
	Enabled  bool    `json:"enabled"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Hit      bool    `json:"hit"`
	Error    string  `json:"error"`
}

func (r resolved) state() schemas.ElementState {
	return schemas.ElementState{
		Count:    r.Count,
		Attached: r.Attached,
		Visible:  r.Visible,
		Enabled:  r.Enabled,
	}
}

// resolverExpression renders the call of resolverScript for loc and op.
func resolverExpression(loc schemas.Locator, op resolverOp) (string, error) {
	args, err := json.Marshal(resolverArgs{
		Kind:  string(loc.Kind),
		Expr:  loc.Expr,
		Name:  loc.Name,
		Exact: loc.Exact,
		Nth:   loc.Nth,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode locator %s: %w", loc, err)
	}
	opArg, err := json.Marshal(op)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s)(%s, %s)", resolverScript, args, opArg), nil
}

// resolverScript resolves a locator against the live document. Text matching
// keeps only the innermost matching elements, the way a user reads the page.
const resolverScript = `function (loc, op) {
  const norm = (s) => (s || '').replace(/\s+/g, ' ').trim();
  const matches = (got, want) => {
    got = norm(got);
    want = norm(want);
    return loc.exact ? got === want : got.toLowerCase().includes(want.toLowerCase());
  };
  const buttonTypes = ['button', 'submit', 'reset'];
  const skip = new Set(['SCRIPT', 'STYLE', 'NOSCRIPT', 'TEMPLATE', 'HEAD', 'TITLE']);

  const ownText = (el) => {
    if (el.tagName === 'INPUT' && buttonTypes.includes(el.type)) return el.value;
    return el.innerText !== undefined ? el.innerText : el.textContent;
  };

  const byText = () => {
    const out = [];
    const walk = (el) => {
      if (skip.has(el.tagName)) return false;
      let inner = false;
      for (const child of el.children) {
        if (walk(child)) inner = true;
      }
      if (!inner && matches(ownText(el), loc.expr)) {
        out.push(el);
        return true;
      }
      return inner;
    };
    if (document.body) walk(document.body);
    return out;
  };

  const implicitRole = (el) => {
    const tag = el.tagName.toLowerCase();
    const type = (el.getAttribute('type') || '').toLowerCase();
    switch (tag) {
      case 'a':
      case 'area':
        return el.hasAttribute('href') ? 'link' : '';
      case 'button':
      case 'summary':
        return 'button';
      case 'input':
        if ([...buttonTypes, 'image'].includes(type)) return 'button';
        if (type === 'checkbox' || type === 'radio') return type;
        if (type === 'range') return 'slider';
        if (type === 'search') return 'searchbox';
        if (type === 'hidden') return '';
        return 'textbox';
      case 'textarea':
        return 'textbox';
      case 'select':
        return el.multiple || el.size > 1 ? 'listbox' : 'combobox';
      case 'option':
        return 'option';
      case 'img':
        return el.getAttribute('alt') === '' ? 'presentation' : 'img';
      case 'h1': case 'h2': case 'h3': case 'h4': case 'h5': case 'h6':
        return 'heading';
      case 'nav':
        return 'navigation';
      case 'main':
        return 'main';
      case 'header':
        return 'banner';
      case 'footer':
        return 'contentinfo';
      case 'form':
        return 'form';
      case 'section':
        return 'region';
      case 'article':
        return 'article';
      case 'ul':
      case 'ol':
        return 'list';
      case 'li':
        return 'listitem';
      case 'dialog':
        return 'dialog';
      case 'table':
        return 'table';
      case 'p':
        return 'paragraph';
    }
    return '';
  };
  const roleOf = (el) => (el.getAttribute('role') || '').trim().split(/\s+/)[0] || implicitRole(el);

  const accessibleName = (el) => {
    const label = el.getAttribute('aria-label');
    if (label && label.trim()) return label;
    const ids = el.getAttribute('aria-labelledby');
    if (ids) {
      const parts = ids.split(/\s+/).map((id) => document.getElementById(id)).filter(Boolean);
      if (parts.length) return parts.map((n) => n.textContent).join(' ');
    }
    if (el.labels && el.labels.length) return Array.from(el.labels).map((l) => l.textContent).join(' ');
    if (el.tagName === 'INPUT' && buttonTypes.includes(el.type)) return el.value;
    if (el.tagName === 'IMG' || el.tagName === 'AREA' || (el.tagName === 'INPUT' && el.type === 'image')) {
      return el.getAttribute('alt') || '';
    }
    if (el.getAttribute('placeholder')) return el.getAttribute('placeholder');
    if (['INPUT', 'TEXTAREA', 'SELECT'].includes(el.tagName)) return el.getAttribute('title') || '';
    return el.textContent || el.getAttribute('title') || '';
  };

  const byRole = () => Array.from(document.querySelectorAll('*')).filter(
    (el) => roleOf(el) === loc.expr && (!loc.name || matches(accessibleName(el), loc.name)));

  const byXPath = () => {
    const snap = document.evaluate(loc.expr, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
    const out = [];
    for (let i = 0; i < snap.snapshotLength; i++) {
      const n = snap.snapshotItem(i);
      if (n.nodeType === Node.ELEMENT_NODE) out.push(n);
    }
    return out;
  };

  const visible = (el) => {
    if (!el.isConnected) return false;
    if (getComputedStyle(el).visibility !== 'visible') return false;
    const r = el.getBoundingClientRect();
    return r.width > 0 && r.height > 0;
  };
  const formTags = ['BUTTON', 'INPUT', 'SELECT', 'TEXTAREA', 'OPTION', 'OPTGROUP', 'FIELDSET'];
  const enabled = (el) => {
    if (el.getAttribute('aria-disabled') === 'true') return false;
    return !formTags.includes(el.tagName) || !el.matches(':disabled');
  };

  let all;
  switch (loc.kind) {
    case 'css': all = Array.from(document.querySelectorAll(loc.expr)); break;
    case 'xpath': all = byXPath(); break;
    case 'text': all = byText(); break;
    case 'role': all = byRole(); break;
    default: throw new Error('unknown locator kind ' + loc.kind);
  }

  const el = all[loc.nth];
  const state = {
    count: all.length,
    attached: !!el,
    visible: !!el && visible(el),
    enabled: !!el && enabled(el),
  };
  if (!el || op === 'query') return state;

  if (op === 'point') {
    el.scrollIntoView({ block: 'center', inline: 'center', behavior: 'instant' });
    const r = el.getBoundingClientRect();
    const x = r.left + r.width / 2;
    const y = r.top + r.height / 2;
    const hit = document.elementFromPoint(x, y);
    const viaLabel = !!hit && !!el.labels && Array.from(el.labels).some((l) => l.contains(hit));
    return Object.assign(state, { x, y, hit: !!hit && (hit === el || el.contains(hit) || viaLabel) });
  }

  if (op === 'focus') {
    const textual = el.tagName === 'TEXTAREA' || (el.tagName === 'INPUT' &&
      !['button', 'submit', 'reset', 'image', 'checkbox', 'radio', 'file', 'hidden', 'range', 'color'].includes(el.type));
    if (!textual && !el.isContentEditable) {
      return Object.assign(state, { error: 'element is not an <input>, <textarea> or [contenteditable] element' });
    }
    el.focus();
    if (el.isContentEditable) {
      el.textContent = '';
    } else {
      const proto = el.tagName === 'TEXTAREA' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
      Object.getOwnPropertyDescriptor(proto, 'value').set.call(el, '');
    }
    el.dispatchEvent(new Event('input', { bubbles: true }));
    return state;
  }
  throw new Error('unknown resolver op ' + op);
}`
