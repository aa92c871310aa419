package schemas

import "context"

// -- Engine Interfaces --
//
// An Engine spawns Drivers. The chain Driver -> Browser -> BrowserContext ->
// Page mirrors resource ownership: every handle is created by its parent and
// must be closed before it. All Close and Stop methods are idempotent.

// Engine is a pluggable browser automation backend.
type Engine interface {
	// Name identifies the engine in logs and reports.
	Name() string
	// Start brings up the automation engine. It fails with ENGINE_UNAVAILABLE
	// when the engine cannot be spawned.
	Start(ctx context.Context) (Driver, error)
}

// Driver owns the lifetime of the automation engine process.
type Driver interface {
	// Launch starts a browser. It fails with LAUNCH_ERROR on misconfiguration
	// or an incompatible environment.
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
	// Stop shuts the engine down.
	Stop(ctx context.Context) error
}

// Browser is one launched browser instance.
type Browser interface {
	NewContext(ctx context.Context, opts ContextOptions) (BrowserContext, error)
	Version() string
	Close(ctx context.Context) error
}

// BrowserContext is an isolated browsing session. Closing it invalidates
// every page created from it and drops its cookies and storage.
type BrowserContext interface {
	NewPage(ctx context.Context) (Page, error)
	Close(ctx context.Context) error
}

// Page is one document-hosting tab. Element operations resolve the locator
// against the live document at call time.
type Page interface {
	// Navigate loads url and returns once cond is reached. Errors are
	// classified as NAVIGATION_TIMEOUT by the caller when untyped.
	Navigate(ctx context.Context, url string, cond WaitCondition) error
	// Frames lists the main frame first, then child frames in document order.
	Frames(ctx context.Context) ([]Frame, error)
	// Query observes the element selected by loc without waiting.
	Query(ctx context.Context, loc Locator) (ElementState, error)
	Click(ctx context.Context, loc Locator) error
	Fill(ctx context.Context, loc Locator, text string) error
	Scroll(ctx context.Context, dx, dy float64) error
	SetViewport(ctx context.Context, width, height int) error
	URL() string
	Close(ctx context.Context) error
}

// Frame is a document inside a page.
type Frame interface {
	ID() string
	URL() string
	IsMain() bool
	WaitForLoadState(ctx context.Context, cond WaitCondition) error
}
