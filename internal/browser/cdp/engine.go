// Package cdp drives Chrome over the DevTools protocol with chromedp. Each
// launched browser runs under its own allocator; contexts map onto CDP
// browser contexts, so cookies and storage never leak between them.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
	"github.com/xkilldash9x/verdict-cli/internal/browser/ctxutil"
)

// EngineName is the registry name of the cdp engine.
const EngineName = "cdp"

const browserCloseGrace = 10 * time.Second

// Engine spawns Chrome through chromedp.
type Engine struct {
	logger   *zap.Logger
	defaults schemas.LaunchOptions
	locate   locator
}

// New returns a cdp engine. defaults are used to check, at Start, that a
// browser can be found at all.
func New(logger *zap.Logger, defaults schemas.LaunchOptions) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger:   logger.Named("cdp"),
		defaults: defaults,
		locate:   defaultLocator(),
	}
}

func (e *Engine) Name() string { return EngineName }

// Start verifies that Chrome is reachable. The process itself is spawned by
// Launch.
func (e *Engine) Start(ctx context.Context) (schemas.Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, schemas.NewError(schemas.ErrCodeEngineUnavailable, "start cdp engine", err)
	}
	execPath, err := e.locate.resolve(ctx, e.defaults)
	if err != nil {
		return nil, schemas.NewError(schemas.ErrCodeEngineUnavailable, "start cdp engine", err)
	}
	e.logger.Debug("Chrome located.", zap.String("exec_path", execPath), zap.String("remote_url", e.defaults.RemoteURL))
	return &driver{logger: e.logger, locate: e.locate, execPath: execPath}, nil
}

type driver struct {
	logger   *zap.Logger
	locate   locator
	execPath string

	mu       sync.Mutex
	browsers []*browser
	stopped  bool
}

func (d *driver) Launch(ctx context.Context, opts schemas.LaunchOptions) (schemas.Browser, error) {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return nil, schemas.NewError(schemas.ErrCodeLaunch, "launch", schemas.ErrClosed)
	}
	if opts.WindowWidth <= 0 || opts.WindowHeight <= 0 {
		return nil, schemas.NewError(schemas.ErrCodeLaunch, "launch",
			fmt.Errorf("invalid window size %dx%d", opts.WindowWidth, opts.WindowHeight))
	}

	execPath := d.execPath
	if opts.ExecPath != "" || opts.RemoteURL != "" {
		var err error
		if execPath, err = d.locate.resolve(ctx, opts); err != nil {
			return nil, schemas.NewError(schemas.ErrCodeLaunch, "launch", err)
		}
	}

	// The process must outlive the launch deadline, so it hangs off a
	// detached context and is torn down by Close.
	parent := ctxutil.Detach(ctx)
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(parent, opts.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(parent, allocatorOptions(opts, execPath)...)
	}
	sugar := d.logger.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()
	select {
	case err := <-started:
		if err != nil {
			browserCancel()
			allocCancel()
			return nil, schemas.NewError(schemas.ErrCodeLaunch, "launch", fmt.Errorf("browser failed to start: %w", err))
		}
	case <-ctx.Done():
		browserCancel()
		allocCancel()
		<-started
		return nil, schemas.NewError(schemas.ErrCodeLaunch, "launch", fmt.Errorf("browser did not start in time: %w", ctx.Err()))
	}

	b := &browser{
		logger:      d.logger,
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		remote:      opts.RemoteURL != "",
		width:       opts.WindowWidth,
		height:      opts.WindowHeight,
	}
	b.version = b.fetchVersion(ctx)

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		_ = b.Close(ctx)
		return nil, schemas.NewError(schemas.ErrCodeLaunch, "launch", schemas.ErrClosed)
	}
	d.browsers = append(d.browsers, b)
	d.mu.Unlock()

	d.logger.Info("Browser launched.", zap.String("version", b.version), zap.Bool("headless", opts.Headless))
	return b, nil
}

func (d *driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	browsers := d.browsers
	d.browsers = nil
	d.mu.Unlock()

	var errs []error
	for _, b := range browsers {
		errs = append(errs, b.Close(ctx))
	}
	return errors.Join(errs...)
}

type browser struct {
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	remote      bool
	version     string
	width       int
	height      int

	closed atomic.Bool
}

// exec returns a context that sends browser-level commands and honors ctx.
func (b *browser) exec(ctx context.Context) (context.Context, context.CancelFunc) {
	c, cancel := ctxutil.CombineContext(b.ctx, ctx)
	return cdp.WithExecutor(c, chromedp.FromContext(b.ctx).Browser), cancel
}

func (b *browser) fetchVersion(ctx context.Context) string {
	execCtx, cancel := b.exec(ctx)
	defer cancel()
	var ret cdpbrowser.GetVersionReturns
	if err := cdp.Execute(execCtx, cdpbrowser.CommandGetVersion, cdpbrowser.GetVersion(), &ret); err != nil {
		b.logger.Debug("Could not read browser version.", zap.Error(err))
		return "unknown"
	}
	return ret.Product
}

func (b *browser) Version() string { return b.version }

func (b *browser) NewContext(ctx context.Context, opts schemas.ContextOptions) (schemas.BrowserContext, error) {
	if b.closed.Load() {
		return nil, schemas.ErrClosed
	}
	execCtx, cancel := b.exec(ctx)
	defer cancel()
	id, err := target.CreateBrowserContext().WithDisposeOnDetach(true).Do(execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	bc := &browserContext{
		logger:         b.logger.With(zap.String("browser_context", string(id))),
		browser:        b,
		id:             id,
		defaultTimeout: opts.DefaultTimeout,
		width:          b.width,
		height:         b.height,
		viewport:       opts.ViewportWidth > 0 && opts.ViewportHeight > 0,
	}
	if bc.viewport {
		bc.width, bc.height = opts.ViewportWidth, opts.ViewportHeight
	}
	return bc, nil
}

// Close shuts the browser down gracefully and kills it if that does not
// finish within ctx.
func (b *browser) Close(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	defer b.allocCancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(b.ctx) }()

	grace := time.NewTimer(browserCloseGrace)
	defer grace.Stop()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("failed to close browser: %w", err)
		}
		return nil
	case <-ctx.Done():
		b.cancel()
		return fmt.Errorf("browser close interrupted: %w", ctx.Err())
	case <-grace.C:
		b.cancel()
		return fmt.Errorf("browser did not close within %s", browserCloseGrace)
	}
}

type browserContext struct {
	logger         *zap.Logger
	browser        *browser
	id             cdp.BrowserContextID
	defaultTimeout time.Duration
	width, height  int
	viewport       bool

	mu     sync.Mutex
	pages  []*Page
	closed bool
}

func (bc *browserContext) NewPage(ctx context.Context) (schemas.Page, error) {
	bc.mu.Lock()
	closed := bc.closed
	bc.mu.Unlock()
	if closed {
		return nil, schemas.ErrClosed
	}

	execCtx, cancel := bc.browser.exec(ctx)
	defer cancel()
	tid, err := target.CreateTarget("about:blank").WithBrowserContextID(bc.id).Do(execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	p, err := newPage(ctx, bc, tid)
	if err != nil {
		_ = cdp.Execute(execCtx, target.CommandCloseTarget, target.CloseTarget(tid), nil)
		return nil, err
	}

	bc.mu.Lock()
	bc.pages = append(bc.pages, p)
	bc.mu.Unlock()
	return p, nil
}

// Close disposes the CDP browser context, which closes every page in it and
// drops its cookies and storage.
func (bc *browserContext) Close(ctx context.Context) error {
	bc.mu.Lock()
	if bc.closed {
		bc.mu.Unlock()
		return nil
	}
	bc.closed = true
	pages := bc.pages
	bc.pages = nil
	bc.mu.Unlock()

	for _, p := range pages {
		p.detach()
	}
	if bc.browser.closed.Load() {
		return nil
	}
	execCtx, cancel := bc.browser.exec(ctx)
	defer cancel()
	if err := target.DisposeBrowserContext(bc.id).Do(execCtx); err != nil {
		return fmt.Errorf("failed to dispose browser context: %w", err)
	}
	return nil
}
