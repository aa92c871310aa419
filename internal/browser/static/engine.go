// Package static implements the engine interfaces over plain HTTP and a
// parsed DOM. It runs no scripts and evaluates no stylesheets, which makes it
// a fast, dependency-free backend for server-rendered pages and for tests.
package static

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

// EngineName is the registry name of the static engine.
const EngineName = "static"

// Engine creates static drivers.
type Engine struct {
	logger    *zap.Logger
	transport http.RoundTripper
	userAgent string
}

// Option configures an Engine.
type Option func(*Engine)

// WithTransport replaces the base round tripper under the decompression layer.
func WithTransport(rt http.RoundTripper) Option {
	return func(e *Engine) { e.transport = rt }
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(e *Engine) { e.userAgent = ua }
}

// New returns a static engine.
func New(logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{logger: logger.Named("static")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Name() string { return EngineName }

// Start never fails for a live context; there is no process to spawn.
func (e *Engine) Start(ctx context.Context) (schemas.Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, schemas.NewError(schemas.ErrCodeEngineUnavailable, "start static engine", err)
	}
	return &driver{
		logger:    e.logger,
		transport: newTransport(e.transport, e.userAgent),
	}, nil
}

type driver struct {
	logger    *zap.Logger
	transport http.RoundTripper

	mu       sync.Mutex
	browsers []*browser
	stopped  bool
}

func (d *driver) Launch(ctx context.Context, opts schemas.LaunchOptions) (schemas.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil, schemas.NewError(schemas.ErrCodeLaunch, "launch", schemas.ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, schemas.NewError(schemas.ErrCodeLaunch, "launch", err)
	}
	if opts.WindowWidth <= 0 || opts.WindowHeight <= 0 {
		return nil, schemas.NewError(schemas.ErrCodeLaunch, "launch",
			fmt.Errorf("invalid window size %dx%d", opts.WindowWidth, opts.WindowHeight))
	}
	b := &browser{
		logger:    d.logger,
		transport: d.transport,
		width:     opts.WindowWidth,
		height:    opts.WindowHeight,
	}
	d.browsers = append(d.browsers, b)
	d.logger.Debug("Static browser launched.", zap.Int("width", opts.WindowWidth), zap.Int("height", opts.WindowHeight))
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
	logger        *zap.Logger
	transport     http.RoundTripper
	width, height int

	mu       sync.Mutex
	contexts []*browserContext
	closed   bool
}

func (b *browser) NewContext(ctx context.Context, opts schemas.ContextOptions) (schemas.BrowserContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, schemas.ErrClosed
	}
	client, err := newClient(b.transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	bc := &browserContext{
		logger:         b.logger,
		client:         client,
		defaultTimeout: opts.DefaultTimeout,
		width:          b.width,
		height:         b.height,
	}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		bc.width, bc.height = opts.ViewportWidth, opts.ViewportHeight
	}
	b.contexts = append(b.contexts, bc)
	return bc, nil
}

func (b *browser) Version() string {
	return "static/1.0 (" + runtime.Version() + ")"
}

func (b *browser) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	contexts := b.contexts
	b.contexts = nil
	b.mu.Unlock()

	var errs []error
	for _, bc := range contexts {
		errs = append(errs, bc.Close(ctx))
	}
	return errors.Join(errs...)
}

type browserContext struct {
	logger         *zap.Logger
	client         *http.Client
	defaultTimeout time.Duration
	width, height  int

	mu     sync.Mutex
	pages  []*page
	closed bool
}

func (bc *browserContext) NewPage(ctx context.Context) (schemas.Page, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.closed {
		return nil, schemas.ErrClosed
	}
	p := newPage(bc)
	bc.pages = append(bc.pages, p)
	return p, nil
}

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

	var errs []error
	for _, p := range pages {
		errs = append(errs, p.Close(ctx))
	}
	bc.client.CloseIdleConnections()
	return errors.Join(errs...)
}
