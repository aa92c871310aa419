package static

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

const maxDocumentBytes = 16 << 20

type page struct {
	owner  *browserContext
	logger *zap.Logger

	mu               sync.Mutex
	url              *url.URL
	doc              *html.Node
	frames           []*frame
	scrollX, scrollY float64
	width, height    int
	closed           bool
}

func newPage(bc *browserContext) *page {
	blank, _ := url.Parse("about:blank")
	doc, _ := html.Parse(strings.NewReader(""))
	p := &page{
		owner:  bc,
		logger: bc.logger,
		url:    blank,
		doc:    doc,
		width:  bc.width,
		height: bc.height,
	}
	p.frames = []*frame{{page: p, id: "main", url: blank.String(), main: true}}
	return p
}

func (p *page) Navigate(ctx context.Context, rawURL string, cond schemas.WaitCondition) error {
	target, err := p.resolve(rawURL)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", target, err)
	}
	// The whole body is read before returning, so every wait condition
	// is satisfied at once.
	return p.load(req)
}

func (p *page) resolve(raw string) (*url.URL, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, schemas.ErrClosed
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if p.url != nil && p.url.Scheme != "about" {
		ref = p.url.ResolveReference(ref)
	}
	if !ref.IsAbs() {
		return nil, fmt.Errorf("cannot navigate to relative url %q from %s", raw, p.url)
	}
	return ref, nil
}

// load performs req and replaces the current document with the response.
func (p *page) load(req *http.Request) error {
	finalURL, doc, err := fetchDocument(p.owner.client, req, p.logger)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return schemas.ErrClosed
	}
	p.url, p.doc = finalURL, doc
	p.scrollX, p.scrollY = 0, 0
	p.frames = buildFrames(p, doc, finalURL)
	p.logger.Debug("Document loaded.", zap.String("url", finalURL.String()), zap.Int("frames", len(p.frames)))
	return nil
}

func fetchDocument(client *http.Client, req *http.Request, logger *zap.Logger) (*url.URL, *html.Node, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request to %s failed: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		logger.Warn("Document responded with an error status.",
			zap.Int("status", resp.StatusCode), zap.String("url", resp.Request.URL.String()))
	}

	body := io.LimitReader(resp.Body, maxDocumentBytes)
	var doc *html.Node
	if ct := strings.ToLower(resp.Header.Get("Content-Type")); ct == "" || strings.Contains(ct, "html") {
		doc, err = htmlquery.Parse(body)
	} else {
		// Non-HTML documents render as preformatted text, as browsers do.
		var raw []byte
		if raw, err = io.ReadAll(body); err == nil {
			doc, err = html.Parse(strings.NewReader("<pre>" + html.EscapeString(string(raw)) + "</pre>"))
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read document from %s: %w", resp.Request.URL, err)
	}
	final := *resp.Request.URL
	if final.Path == "" && final.Opaque == "" {
		final.Path = "/"
	}
	return &final, doc, nil
}

func (p *page) Frames(ctx context.Context) ([]schemas.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, schemas.ErrClosed
	}
	out := make([]schemas.Frame, len(p.frames))
	for i, f := range p.frames {
		out[i] = f
	}
	return out, nil
}

func (p *page) Query(ctx context.Context, loc schemas.Locator) (schemas.ElementState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return schemas.ElementState{}, schemas.ErrClosed
	}
	nodes, err := resolve(p.doc, loc)
	if err != nil {
		return schemas.ElementState{}, err
	}
	state := schemas.ElementState{Count: len(nodes)}
	if loc.Nth < len(nodes) {
		n := nodes[loc.Nth]
		state.Attached = true
		state.Visible = isVisible(n)
		state.Enabled = isEnabled(n)
	}
	return state, nil
}

// target resolves loc to one actionable element. The caller holds p.mu.
func (p *page) target(op string, loc schemas.Locator) (*html.Node, error) {
	if p.closed {
		return nil, schemas.ErrClosed
	}
	nodes, err := resolve(p.doc, loc)
	if err != nil {
		return nil, err
	}
	if loc.Nth >= len(nodes) {
		return nil, &schemas.HarnessError{Code: schemas.ErrCodeElementNotFound, Op: op, Locator: loc.String()}
	}
	n := nodes[loc.Nth]
	state := schemas.ElementState{Count: len(nodes), Attached: true, Visible: isVisible(n), Enabled: isEnabled(n)}
	if !state.Actionable() {
		return nil, &schemas.HarnessError{
			Code: schemas.ErrCodeElementTimeout, Op: op, Locator: loc.String(),
			Expected: "visible and enabled", Actual: state.Describe(),
		}
	}
	return n, nil
}

func (p *page) Click(ctx context.Context, loc schemas.Locator) error {
	p.mu.Lock()
	n, err := p.target("click", loc)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	req, err := p.clickConsequence(ctx, n)
	p.mu.Unlock()
	if err != nil || req == nil {
		return err
	}
	if err := p.load(req); err != nil {
		return schemas.NewError(schemas.ErrCodeNavigationTimeout, "navigation after click "+loc.String(), err)
	}
	return nil
}

// clickConsequence applies the default action of clicking n. Navigations are
// returned as a request for the caller to perform outside the lock.
func (p *page) clickConsequence(ctx context.Context, n *html.Node) (*http.Request, error) {
	if n.Data == "label" {
		if id := attr(n, "for"); id != "" {
			if c := byID(rootOf(n), id); c != nil {
				n = c
			}
		}
	}
	if a := closest(n, "a"); a != nil && hasAttr(a, "href") {
		return p.followLink(ctx, a)
	}
	if s := closest(n, "summary"); s != nil && s.Parent != nil && s.Parent.Data == "details" {
		if hasAttr(s.Parent, "open") {
			removeAttr(s.Parent, "open")
		} else {
			setAttr(s.Parent, "open", "")
		}
		return nil, nil
	}
	if n.Data == "input" {
		switch attr(n, "type") {
		case "checkbox", "radio":
			toggleChecked(n)
			return nil, nil
		}
	}
	if btn := submitterOf(n); btn != nil {
		if form := ownerForm(btn); form != nil {
			return p.submit(ctx, form, btn)
		}
	}
	p.logger.Debug("Click has no default action without scripts.", zap.String("tag", n.Data))
	return nil, nil
}

func submitterOf(n *html.Node) *html.Node {
	for e := n; e != nil && e.Type == html.ElementNode; e = e.Parent {
		if isSubmitter(e) {
			return e
		}
		if e.Data == "form" {
			break
		}
	}
	return nil
}

func (p *page) followLink(ctx context.Context, a *html.Node) (*http.Request, error) {
	href := strings.TrimSpace(attr(a, "href"))
	if strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return nil, nil
	}
	switch t := attr(a, "target"); t {
	case "", "_self", "_top", "_parent":
	default:
		p.logger.Debug("Link opens a new browsing context; ignoring.", zap.String("href", href))
		return nil, nil
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, fmt.Errorf("invalid href %q: %w", href, err)
	}
	next := p.url.ResolveReference(ref)
	if sameDocument(p.url, next) {
		p.url = next
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, next.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Referer", p.url.String())
	return req, nil
}

func sameDocument(cur, next *url.URL) bool {
	if next.Fragment == "" && !strings.HasSuffix(next.String(), "#") {
		return false
	}
	a, b := *cur, *next
	a.Fragment, b.Fragment = "", ""
	a.RawFragment, b.RawFragment = "", ""
	return a.String() == b.String()
}

func (p *page) submit(ctx context.Context, form, submitter *html.Node) (*http.Request, error) {
	if !hasAttr(submitter, "formnovalidate") {
		if bad := invalidControl(form); bad != nil {
			p.logger.Debug("Form submission blocked by constraint validation.",
				zap.String("control", attr(bad, "name")), zap.String("type", attr(bad, "type")))
			return nil, nil
		}
	}

	action := attr(submitter, "formaction")
	if action == "" {
		action = attr(form, "action")
	}
	method := strings.ToUpper(attr(submitter, "formmethod"))
	if method == "" {
		method = strings.ToUpper(attr(form, "method"))
	}
	if method == "DIALOG" {
		if d := closest(form, "dialog"); d != nil {
			removeAttr(d, "open")
		}
		return nil, nil
	}
	if method != http.MethodPost {
		method = http.MethodGet
	}

	ref, err := url.Parse(strings.TrimSpace(action))
	if err != nil {
		return nil, fmt.Errorf("invalid form action %q: %w", action, err)
	}
	target := p.url.ResolveReference(ref)
	data := serialize(form, submitter)

	var req *http.Request
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, target.String(), strings.NewReader(data.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		withQuery := *target
		withQuery.RawQuery = data.Encode()
		withQuery.Fragment = ""
		req, err = http.NewRequestWithContext(ctx, method, withQuery.String(), nil)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Referer", p.url.String())
	return req, nil
}

func (p *page) Fill(ctx context.Context, loc schemas.Locator, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.target("fill", loc)
	if err != nil {
		return err
	}
	if !fillable(n) {
		return fmt.Errorf("element <%s> is not an input, textarea or contenteditable element", n.Data)
	}
	setValue(n, text)
	return nil
}

func (p *page) Scroll(ctx context.Context, dx, dy float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return schemas.ErrClosed
	}
	p.scrollX = max(0, p.scrollX+dx)
	p.scrollY = max(0, p.scrollY+dy)
	return nil
}

func (p *page) SetViewport(ctx context.Context, width, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return schemas.ErrClosed
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid viewport %dx%d", width, height)
	}
	p.width, p.height = width, height
	return nil
}

func (p *page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url.String()
}

func (p *page) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// -- Frames --

type frame struct {
	page   *page
	id     string
	url    string
	srcdoc string
	main   bool

	mu     sync.Mutex
	loaded bool
	err    error
	doc    *html.Node
}

func buildFrames(p *page, doc *html.Node, base *url.URL) []*frame {
	frames := []*frame{{page: p, id: "main", url: base.String(), main: true}}
	i := 0
	walkElements(doc, func(e *html.Node) bool {
		if e.Data != "iframe" && e.Data != "frame" {
			return true
		}
		i++
		f := &frame{page: p, id: fmt.Sprintf("frame-%d", i), url: "about:blank", srcdoc: attr(e, "srcdoc")}
		if src := strings.TrimSpace(attr(e, "src")); src != "" && f.srcdoc == "" {
			if ref, err := url.Parse(src); err == nil {
				f.url = base.ResolveReference(ref).String()
			} else {
				f.url, f.err, f.loaded = src, fmt.Errorf("invalid frame src %q: %w", src, err), true
			}
		}
		frames = append(frames, f)
		return true
	})
	return frames
}

func (f *frame) ID() string   { return f.id }
func (f *frame) URL() string  { return f.url }
func (f *frame) IsMain() bool { return f.main }

// WaitForLoadState loads child frame documents on first use. The main frame
// is complete as soon as Navigate returns.
func (f *frame) WaitForLoadState(ctx context.Context, cond schemas.WaitCondition) error {
	if f.main {
		f.page.mu.Lock()
		closed := f.page.closed
		f.page.mu.Unlock()
		if closed {
			return schemas.ErrClosed
		}
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loaded {
		return f.err
	}
	switch {
	case f.srcdoc != "":
		f.doc, f.err = html.Parse(strings.NewReader(f.srcdoc))
	case f.url == "about:blank":
		f.doc, f.err = html.Parse(strings.NewReader(""))
	default:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
		if err != nil {
			f.loaded, f.err = true, err
			return err
		}
		start := time.Now()
		_, doc, err := fetchDocument(f.page.owner.client, req, f.page.logger)
		if err != nil && ctx.Err() != nil {
			// Not cached: a later wait with more time may still succeed.
			return fmt.Errorf("frame %s did not load within %s: %w", f.id, time.Since(start).Round(time.Millisecond), ctx.Err())
		}
		f.doc, f.err = doc, err
	}
	f.loaded = true
	return f.err
}
