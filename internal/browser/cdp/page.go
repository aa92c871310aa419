package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
	"github.com/xkilldash9x/verdict-cli/internal/browser/ctxutil"
)

// actionRetryInterval paces retries of clicks on covered or moving elements.
const actionRetryInterval = 100 * time.Millisecond

// Page is one CDP target inside a browser context.
type Page struct {
	logger         *zap.Logger
	bc             *browserContext
	targetID       target.ID
	ctx            context.Context
	cancel         context.CancelFunc
	lifecycle      *lifecycle
	defaultTimeout time.Duration

	mu            sync.Mutex
	url           string
	width, height int

	closed atomic.Bool
}

func newPage(ctx context.Context, bc *browserContext, tid target.ID) (*Page, error) {
	pageCtx, cancel := chromedp.NewContext(bc.browser.ctx, chromedp.WithTargetID(tid))
	p := &Page{
		logger:         bc.logger.With(zap.String("target_id", string(tid))),
		bc:             bc,
		targetID:       tid,
		ctx:            pageCtx,
		cancel:         cancel,
		lifecycle:      newLifecycle(),
		defaultTimeout: bc.defaultTimeout,
		url:            "about:blank",
		width:          bc.width,
		height:         bc.height,
	}

	// Registered before the first Run so that no lifecycle event is missed.
	chromedp.ListenTarget(pageCtx, p.onEvent)

	runCtx, runCancel := p.opCtx(ctx)
	defer runCancel()
	actions := []chromedp.Action{
		page.Enable(),
		page.SetLifecycleEventsEnabled(true),
	}
	if bc.viewport {
		actions = append(actions, emulation.SetDeviceMetricsOverride(int64(bc.width), int64(bc.height), 1, false))
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to attach to page: %w", err)
	}
	return p, nil
}

func (p *Page) mainFrame() cdp.FrameID { return cdp.FrameID(p.targetID) }

func (p *Page) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *page.EventLifecycleEvent:
		p.lifecycle.observe(e.FrameID, e.LoaderID, e.Name)
	case *page.EventFrameNavigated:
		if e.Frame != nil && e.Frame.ParentID == "" {
			p.setURL(e.Frame.URL + e.Frame.URLFragment)
		}
	case *page.EventNavigatedWithinDocument:
		if e.FrameID == p.mainFrame() {
			p.setURL(e.URL)
		}
	case *page.EventFrameDetached:
		p.lifecycle.forget(e.FrameID)
	}
}

func (p *Page) setURL(u string) {
	p.mu.Lock()
	p.url = u
	p.mu.Unlock()
}

// opCtx binds ctx to the page target. The context default timeout applies
// when ctx carries no deadline.
func (p *Page) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	c, cancel := ctxutil.CombineContext(p.ctx, ctx)
	if _, ok := ctx.Deadline(); ok || p.defaultTimeout <= 0 {
		return c, cancel
	}
	tc, tcancel := context.WithTimeout(c, p.defaultTimeout)
	return tc, func() {
		tcancel()
		cancel()
	}
}

func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	if p.closed.Load() {
		return schemas.ErrClosed
	}
	c, cancel := p.opCtx(ctx)
	defer cancel()
	return chromedp.Run(c, actions...)
}

func (p *Page) Navigate(ctx context.Context, url string, cond schemas.WaitCondition) error {
	if p.closed.Load() {
		return schemas.ErrClosed
	}
	c, cancel := p.opCtx(ctx)
	defer cancel()

	var res page.NavigateReturns
	err := chromedp.Run(c, chromedp.ActionFunc(func(ctx context.Context) error {
		return cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url), &res)
	}))
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if res.ErrorText != "" {
		return fmt.Errorf("navigate to %s: %s", url, res.ErrorText)
	}
	p.setURL(url)

	// Same-document navigations carry no loader and are complete on return.
	if res.LoaderID == "" {
		return nil
	}
	frame := res.FrameID
	if frame == "" {
		frame = p.mainFrame()
	}
	// Later frame waits must not be satisfied by the previous document.
	p.lifecycle.expect(frame, res.LoaderID)
	if cond == schemas.WaitCommit {
		return nil
	}
	return p.lifecycle.wait(c, frame, res.LoaderID, cond)
}

func (p *Page) Frames(ctx context.Context) ([]schemas.Frame, error) {
	var tree *page.FrameTree
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		tree, err = page.GetFrameTree().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read frame tree: %w", err)
	}

	var frames []schemas.Frame
	var walk func(t *page.FrameTree)
	walk = func(t *page.FrameTree) {
		if t == nil || t.Frame == nil {
			return
		}
		frames = append(frames, &frame{
			page: p,
			id:   t.Frame.ID,
			url:  t.Frame.URL,
			main: t.Frame.ParentID == "",
		})
		for _, child := range t.ChildFrames {
			walk(child)
		}
	}
	walk(tree)
	return frames, nil
}

func (p *Page) resolve(ctx context.Context, loc schemas.Locator, op resolverOp) (resolved, error) {
	expr, err := resolverExpression(loc, op)
	if err != nil {
		return resolved{}, err
	}
	var r resolved
	if err := p.run(ctx, chromedp.Evaluate(expr, &r)); err != nil {
		return resolved{}, fmt.Errorf("resolve %s: %w", loc, err)
	}
	return r, nil
}

func (p *Page) Query(ctx context.Context, loc schemas.Locator) (schemas.ElementState, error) {
	r, err := p.resolve(ctx, loc, opQuery)
	if err != nil {
		return schemas.ElementState{}, err
	}
	return r.state(), nil
}

var errDetached = errors.New("element is not attached to the document")

// permanentError stops retryAction. Retrying cannot fix it.
type permanentError struct{ error }

func (e permanentError) Unwrap() error { return e.error }

// retryAction resolves an element until check accepts it and then runs do.
// Resolution failures and rejected elements are retried every
// actionRetryInterval until ctx is done, unless check returns a
// permanentError. An element still detached at the deadline is reported as
// ELEMENT_NOT_FOUND.
func retryAction(ctx context.Context, op string, loc schemas.Locator,
	resolve func(context.Context) (resolved, error),
	check func(resolved) error,
	do func(context.Context, resolved) error,
) error {
	for {
		r, err := resolve(ctx)
		if err == nil {
			err = check(r)
		}
		var perm permanentError
		switch {
		case err == nil:
			if err := do(ctx, r); err != nil {
				return fmt.Errorf("%s %s: %w", op, loc, err)
			}
			return nil
		case errors.As(err, &perm):
			return fmt.Errorf("%s %s: %w", op, loc, perm.error)
		}

		if werr := ctxutil.Sleep(ctx, actionRetryInterval); werr != nil {
			if errors.Is(err, errDetached) {
				return &schemas.HarnessError{
					Code:    schemas.ErrCodeElementNotFound,
					Op:      op,
					Locator: loc.String(),
					Err:     fmt.Errorf("%w (last error: %v)", werr, err),
				}
			}
			return fmt.Errorf("%s %s: %w (last error: %v)", op, loc, werr, err)
		}
	}
}

// Click scrolls the element into view and clicks its center. It retries
// while the element is detached or covered by another element.
func (p *Page) Click(ctx context.Context, loc schemas.Locator) error {
	c, cancel := p.opCtx(ctx)
	defer cancel()

	return retryAction(c, "click", loc,
		func(ctx context.Context) (resolved, error) { return p.resolve(ctx, loc, opPoint) },
		func(r resolved) error {
			switch {
			case !r.Attached:
				return errDetached
			case !r.Visible || !r.Enabled:
				return fmt.Errorf("element is %s", r.state().Describe())
			case !r.Hit:
				return fmt.Errorf("element at (%.0f, %.0f) is covered by another element", r.X, r.Y)
			}
			return nil
		},
		func(ctx context.Context, r resolved) error { return p.run(ctx, chromedp.MouseClickXY(r.X, r.Y)) },
	)
}

// Fill focuses and clears the element, then inserts text. A re-render that
// detaches the element between resolution and focus is retried.
func (p *Page) Fill(ctx context.Context, loc schemas.Locator, text string) error {
	c, cancel := p.opCtx(ctx)
	defer cancel()

	return retryAction(c, "fill", loc,
		func(ctx context.Context) (resolved, error) { return p.resolve(ctx, loc, opFocus) },
		func(r resolved) error {
			switch {
			case !r.Attached:
				return errDetached
			case r.Error != "":
				return permanentError{errors.New(r.Error)}
			}
			return nil
		},
		func(ctx context.Context, _ resolved) error {
			if text == "" {
				return nil
			}
			return p.run(ctx, input.InsertText(text))
		},
	)
}

// Scroll dispatches a wheel event at the viewport center and returns
// without waiting for the scroll to finish.
func (p *Page) Scroll(ctx context.Context, dx, dy float64) error {
	p.mu.Lock()
	x, y := float64(p.width)/2, float64(p.height)/2
	p.mu.Unlock()
	return p.run(ctx, input.DispatchMouseEvent(input.MouseWheel, x, y).WithDeltaX(dx).WithDeltaY(dy))
}

func (p *Page) SetViewport(ctx context.Context, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid viewport %dx%d", width, height)
	}
	if err := p.run(ctx, emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1, false)); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	p.mu.Lock()
	p.width, p.height = width, height
	p.mu.Unlock()
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	defer p.cancel()
	if p.bc.browser.closed.Load() {
		return nil
	}
	execCtx, cancel := p.bc.browser.exec(ctx)
	defer cancel()
	if err := cdp.Execute(execCtx, target.CommandCloseTarget, target.CloseTarget(p.targetID), nil); err != nil {
		return fmt.Errorf("failed to close page: %w", err)
	}
	return nil
}

// detach marks the page closed after its browser context went away.
func (p *Page) detach() {
	if p.closed.CompareAndSwap(false, true) {
		p.cancel()
	}
}

type frame struct {
	page *Page
	id   cdp.FrameID
	url  string
	main bool
}

func (f *frame) ID() string   { return string(f.id) }
func (f *frame) URL() string  { return f.url }
func (f *frame) IsMain() bool { return f.main }

func (f *frame) WaitForLoadState(ctx context.Context, cond schemas.WaitCondition) error {
	if f.page.closed.Load() {
		return schemas.ErrClosed
	}
	return f.page.lifecycle.wait(ctx, f.id, "", cond)
}
