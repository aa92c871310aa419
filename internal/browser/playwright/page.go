package playwright

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

// page adapts playwright.Page. Playwright calls are not context aware, so the
// deadline of each ctx is handed over as the call's timeout.
type page struct {
	logger *zap.Logger
	pp     playwright.Page
	closed atomic.Bool
}

func (p *page) markClosed() { p.closed.Store(true) }

// timeoutMs returns the remaining time of ctx in milliseconds, or nil to use
// the context default.
func timeoutMs(ctx context.Context) (*float64, error) {
	d, err := remaining(ctx)
	if err != nil {
		return nil, err
	}
	if d == 0 {
		return nil, nil
	}
	return playwright.Float(float64(d.Milliseconds())), nil
}

func waitUntil(cond schemas.WaitCondition) *playwright.WaitUntilState {
	switch cond {
	case schemas.WaitLoad:
		return playwright.WaitUntilStateLoad
	case schemas.WaitDOMContentLoaded:
		return playwright.WaitUntilStateDomcontentloaded
	default:
		return playwright.WaitUntilStateCommit
	}
}

func (p *page) Navigate(ctx context.Context, url string, cond schemas.WaitCondition) error {
	if p.closed.Load() {
		return schemas.ErrClosed
	}
	timeout, err := timeoutMs(ctx)
	if err != nil {
		return err
	}
	if _, err := p.pp.Goto(url, playwright.PageGotoOptions{Timeout: timeout, WaitUntil: waitUntil(cond)}); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (p *page) Frames(ctx context.Context) ([]schemas.Frame, error) {
	if p.closed.Load() {
		return nil, schemas.ErrClosed
	}
	main := p.pp.MainFrame()
	var frames []schemas.Frame
	frames = append(frames, &frame{pf: main, id: "main", main: true})
	i := 0
	for _, pf := range p.pp.Frames() {
		if pf == main {
			continue
		}
		i++
		id := pf.Name()
		if id == "" {
			id = "frame-" + strconv.Itoa(i)
		}
		frames = append(frames, &frame{pf: pf, id: id})
	}
	return frames, nil
}

// element splits loc into the full match set and the picked element.
func (p *page) element(loc schemas.Locator) (all, el playwright.Locator) {
	base := loc
	base.Nth = 0
	all = p.pp.Locator(base.String())
	return all, all.Nth(loc.Nth)
}

func (p *page) Query(ctx context.Context, loc schemas.Locator) (schemas.ElementState, error) {
	if p.closed.Load() {
		return schemas.ElementState{}, schemas.ErrClosed
	}
	timeout, err := timeoutMs(ctx)
	if err != nil {
		return schemas.ElementState{}, err
	}
	all, el := p.element(loc)
	count, err := all.Count()
	if err != nil {
		return schemas.ElementState{}, fmt.Errorf("query %s: %w", loc, err)
	}
	st := schemas.ElementState{Count: count, Attached: count > loc.Nth}
	if !st.Attached {
		return st, nil
	}
	if st.Visible, err = el.IsVisible(); err != nil {
		return st, fmt.Errorf("query %s: %w", loc, err)
	}
	if st.Enabled, err = el.IsEnabled(playwright.LocatorIsEnabledOptions{Timeout: timeout}); err != nil {
		return st, fmt.Errorf("query %s: %w", loc, err)
	}
	return st, nil
}

func (p *page) Click(ctx context.Context, loc schemas.Locator) error {
	if p.closed.Load() {
		return schemas.ErrClosed
	}
	timeout, err := timeoutMs(ctx)
	if err != nil {
		return err
	}
	_, el := p.element(loc)
	if err := el.Click(playwright.LocatorClickOptions{Timeout: timeout}); err != nil {
		return fmt.Errorf("click %s: %w", loc, err)
	}
	return nil
}

func (p *page) Fill(ctx context.Context, loc schemas.Locator, text string) error {
	if p.closed.Load() {
		return schemas.ErrClosed
	}
	timeout, err := timeoutMs(ctx)
	if err != nil {
		return err
	}
	_, el := p.element(loc)
	if err := el.Fill(text, playwright.LocatorFillOptions{Timeout: timeout}); err != nil {
		return fmt.Errorf("fill %s: %w", loc, err)
	}
	return nil
}

func (p *page) Scroll(ctx context.Context, dx, dy float64) error {
	if p.closed.Load() {
		return schemas.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.pp.Mouse().Wheel(dx, dy)
}

func (p *page) SetViewport(ctx context.Context, width, height int) error {
	if p.closed.Load() {
		return schemas.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.pp.SetViewportSize(width, height); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	return nil
}

func (p *page) URL() string { return p.pp.URL() }

func (p *page) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.pp.Close(); err != nil {
		return fmt.Errorf("failed to close page: %w", err)
	}
	return nil
}

type frame struct {
	pf   playwright.Frame
	id   string
	main bool
}

func (f *frame) ID() string   { return f.id }
func (f *frame) URL() string  { return f.pf.URL() }
func (f *frame) IsMain() bool { return f.main }

// WaitForLoadState treats commit as reached: a frame that is listed has
// already committed its document.
func (f *frame) WaitForLoadState(ctx context.Context, cond schemas.WaitCondition) error {
	timeout, err := timeoutMs(ctx)
	if err != nil {
		return err
	}
	var state *playwright.LoadState
	switch cond {
	case schemas.WaitLoad:
		state = playwright.LoadStateLoad
	case schemas.WaitDOMContentLoaded:
		state = playwright.LoadStateDomcontentloaded
	default:
		return nil
	}
	return f.pf.WaitForLoadState(playwright.FrameWaitForLoadStateOptions{State: state, Timeout: timeout})
}
