// Package playwright implements the engine interfaces on top of
// playwright-go. The driver process is started lazily and exactly once per
// Start; every Launch gets its own Chromium instance.
package playwright

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

// EngineName is the registry name of the playwright engine.
const EngineName = "playwright"

const defaultInstallTimeout = 5 * time.Minute

// runtime abstracts the package level entry points of playwright-go so
// that tests can run without a driver download.
type runtime struct {
	install func(opts *playwright.RunOptions) error
	run     func(opts *playwright.RunOptions) (*playwright.Playwright, error)
}

func defaultRuntime() runtime {
	return runtime{
		install: func(opts *playwright.RunOptions) error { return playwright.Install(opts) },
		run:     func(opts *playwright.RunOptions) (*playwright.Playwright, error) { return playwright.Run(opts) },
	}
}

// Engine starts Playwright drivers.
type Engine struct {
	logger         *zap.Logger
	install        bool
	installTimeout time.Duration
	rt             runtime
}

// New returns a playwright engine. When install is set, Start downloads
// Chromium and the driver if they are missing.
func New(logger *zap.Logger, install bool, installTimeout time.Duration) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if installTimeout <= 0 {
		installTimeout = defaultInstallTimeout
	}
	return &Engine{
		logger:         logger.Named("playwright"),
		install:        install,
		installTimeout: installTimeout,
		rt:             defaultRuntime(),
	}
}

func (e *Engine) Name() string { return EngineName }

func (e *Engine) Start(ctx context.Context) (schemas.Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, schemas.NewError(schemas.ErrCodeEngineUnavailable, "start playwright", err)
	}
	runOpts := &playwright.RunOptions{Browsers: []string{"chromium"}}

	if e.install {
		if err := e.ensureInstallation(ctx, runOpts); err != nil {
			return nil, schemas.NewError(schemas.ErrCodeEngineUnavailable, "install playwright", err)
		}
	}

	pw, err := e.rt.run(runOpts)
	if err != nil {
		return nil, schemas.NewError(schemas.ErrCodeEngineUnavailable, "start playwright",
			fmt.Errorf("failed to start playwright driver: %w", err))
	}
	e.logger.Debug("Playwright driver started.")
	return &driver{logger: e.logger, pw: pw}, nil
}

// ensureInstallation runs the blocking install in a goroutine so that it
// can be abandoned on timeout.
func (e *Engine) ensureInstallation(ctx context.Context, runOpts *playwright.RunOptions) error {
	e.logger.Info("Verifying Playwright browser installation...")
	installCtx, cancel := context.WithTimeout(ctx, e.installTimeout)
	defer cancel()

	installErr := make(chan error, 1)
	go func() {
		if err := e.rt.install(runOpts); err != nil {
			installErr <- fmt.Errorf("failed to install playwright browsers: %w", err)
			return
		}
		installErr <- nil
	}()

	select {
	case err := <-installErr:
		return err
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for Playwright installation: %w", installCtx.Err())
	}
}

type driver struct {
	logger *zap.Logger
	pw     *playwright.Playwright

	mu       sync.Mutex
	browsers []*browser
	stopped  bool
}

func launchOptions(opts schemas.LaunchOptions, timeout time.Duration) playwright.BrowserTypeLaunchOptions {
	args := []string{
		fmt.Sprintf("--window-size=%d,%d", opts.WindowWidth, opts.WindowHeight),
	}
	if opts.NoSandbox {
		args = append(args, "--no-sandbox", "--disable-setuid-sandbox")
	}
	if opts.Headless {
		args = append(args, "--disable-gpu")
	}
	// Duplicates are harmless for Chromium flags.
	args = append(args, opts.Args...)

	lo := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     args,
	}
	if timeout > 0 {
		lo.Timeout = playwright.Float(float64(timeout.Milliseconds()))
	}
	if opts.ExecPath != "" {
		lo.ExecutablePath = playwright.String(opts.ExecPath)
	}
	return lo
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
	timeout, err := remaining(ctx)
	if err != nil {
		return nil, schemas.NewError(schemas.ErrCodeLaunch, "launch", err)
	}

	var pb playwright.Browser
	if opts.RemoteURL != "" {
		cdpOpts := playwright.BrowserTypeConnectOverCDPOptions{}
		if timeout > 0 {
			cdpOpts.Timeout = playwright.Float(float64(timeout.Milliseconds()))
		}
		pb, err = d.pw.Chromium.ConnectOverCDP(opts.RemoteURL, cdpOpts)
	} else {
		pb, err = d.pw.Chromium.Launch(launchOptions(opts, timeout))
	}
	if err != nil {
		return nil, schemas.NewError(schemas.ErrCodeLaunch, "launch", fmt.Errorf("failed to launch browser instance: %w", err))
	}

	b := &browser{logger: d.logger, pb: pb, width: opts.WindowWidth, height: opts.WindowHeight}
	d.mu.Lock()
	d.browsers = append(d.browsers, b)
	d.mu.Unlock()
	d.logger.Info("Browser launched.", zap.String("browser_version", pb.Version()))
	return b, nil
}

// Stop closes every browser still open and stops the driver process.
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
	if err := d.pw.Stop(); err != nil {
		d.logger.Error("Failed to stop Playwright driver.", zap.Error(err))
		errs = append(errs, fmt.Errorf("failed to stop playwright driver: %w", err))
	}
	return errors.Join(errs...)
}

type browser struct {
	logger        *zap.Logger
	pb            playwright.Browser
	width, height int

	mu     sync.Mutex
	closed bool
}

func (b *browser) Version() string { return b.pb.Version() }

func (b *browser) NewContext(ctx context.Context, opts schemas.ContextOptions) (schemas.BrowserContext, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, schemas.ErrClosed
	}
	width, height := b.width, b.height
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		width, height = opts.ViewportWidth, opts.ViewportHeight
	}
	pc, err := b.pb.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: width, Height: height},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	if opts.DefaultTimeout > 0 {
		pc.SetDefaultTimeout(float64(opts.DefaultTimeout.Milliseconds()))
	}
	return &browserContext{logger: b.logger, pc: pc}, nil
}

func (b *browser) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	if err := b.pb.Close(); err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

type browserContext struct {
	logger *zap.Logger
	pc     playwright.BrowserContext

	mu     sync.Mutex
	closed bool
	pages  []*page
}

func (bc *browserContext) NewPage(ctx context.Context) (schemas.Page, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.closed {
		return nil, schemas.ErrClosed
	}
	pp, err := bc.pc.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	p := &page{logger: bc.logger, pp: pp}
	bc.pages = append(bc.pages, p)
	return p, nil
}

// Close ends the context; every page in it goes with it.
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
		p.markClosed()
	}
	if err := bc.pc.Close(); err != nil {
		return fmt.Errorf("failed to close browser context: %w", err)
	}
	return nil
}

// remaining converts the deadline of ctx into a Playwright timeout. Zero
// means no deadline.
func remaining(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dl, ok := ctx.Deadline()
	if !ok {
		return 0, nil
	}
	d := time.Until(dl)
	if d <= 0 {
		return 0, context.DeadlineExceeded
	}
	return d, nil
}
