// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

// -- Engine Mock --

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Name() string { return m.Called().String(0) }

func (m *MockEngine) Start(ctx context.Context) (schemas.Driver, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(schemas.Driver), args.Error(1)
}

// -- Driver Mock --

type MockDriver struct {
	mock.Mock
}

func (m *MockDriver) Launch(ctx context.Context, opts schemas.LaunchOptions) (schemas.Browser, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(schemas.Browser), args.Error(1)
}

func (m *MockDriver) Stop(ctx context.Context) error { return m.Called(ctx).Error(0) }

// -- Browser Mock --

type MockBrowser struct {
	mock.Mock
}

func (m *MockBrowser) NewContext(ctx context.Context, opts schemas.ContextOptions) (schemas.BrowserContext, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(schemas.BrowserContext), args.Error(1)
}

func (m *MockBrowser) Version() string { return m.Called().String(0) }

func (m *MockBrowser) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }

// -- Browser Context Mock --

type MockBrowserContext struct {
	mock.Mock
}

func (m *MockBrowserContext) NewPage(ctx context.Context) (schemas.Page, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(schemas.Page), args.Error(1)
}

func (m *MockBrowserContext) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }

// -- Page Mock --

type MockPage struct {
	mock.Mock
}

func (m *MockPage) Navigate(ctx context.Context, url string, cond schemas.WaitCondition) error {
	return m.Called(ctx, url, cond).Error(0)
}

func (m *MockPage) Frames(ctx context.Context) ([]schemas.Frame, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.Frame), args.Error(1)
}

// Query returns the configured state. Tests that need the state to change
// over time configure it with a Run hook or successive Once calls.
func (m *MockPage) Query(ctx context.Context, loc schemas.Locator) (schemas.ElementState, error) {
	args := m.Called(ctx, loc)
	return args.Get(0).(schemas.ElementState), args.Error(1)
}

func (m *MockPage) Click(ctx context.Context, loc schemas.Locator) error {
	return m.Called(ctx, loc).Error(0)
}

func (m *MockPage) Fill(ctx context.Context, loc schemas.Locator, text string) error {
	return m.Called(ctx, loc, text).Error(0)
}

func (m *MockPage) Scroll(ctx context.Context, dx, dy float64) error {
	return m.Called(ctx, dx, dy).Error(0)
}

func (m *MockPage) SetViewport(ctx context.Context, width, height int) error {
	return m.Called(ctx, width, height).Error(0)
}

func (m *MockPage) URL() string { return m.Called().String(0) }

func (m *MockPage) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }

// -- Frame Mock --

type MockFrame struct {
	mock.Mock
}

func (m *MockFrame) ID() string   { return m.Called().String(0) }
func (m *MockFrame) URL() string  { return m.Called().String(0) }
func (m *MockFrame) IsMain() bool { return m.Called().Bool(0) }

func (m *MockFrame) WaitForLoadState(ctx context.Context, cond schemas.WaitCondition) error {
	return m.Called(ctx, cond).Error(0)
}

// -- Chain Helper --

// Chain is a fully wired set of mocks whose lifecycle calls succeed by
// default. Tests override individual expectations before running.
type Chain struct {
	Engine  *MockEngine
	Driver  *MockDriver
	Browser *MockBrowser
	Context *MockBrowserContext
	Page    *MockPage
}

// NewChain returns a chain with Start, Launch, NewContext and NewPage wired
// together. Close and Stop expectations are left to the test so that it can
// assert on them with Once.
func NewChain(name string) *Chain {
	c := &Chain{
		Engine:  new(MockEngine),
		Driver:  new(MockDriver),
		Browser: new(MockBrowser),
		Context: new(MockBrowserContext),
		Page:    new(MockPage),
	}
	c.Engine.On("Name").Return(name).Maybe()
	c.Engine.On("Start", mock.Anything).Return(c.Driver, nil).Maybe()
	c.Driver.On("Launch", mock.Anything, mock.Anything).Return(c.Browser, nil).Maybe()
	c.Browser.On("Version").Return("MockBrowser/1.0").Maybe()
	c.Browser.On("NewContext", mock.Anything, mock.Anything).Return(c.Context, nil).Maybe()
	c.Context.On("NewPage", mock.Anything).Return(c.Page, nil).Maybe()
	c.Page.On("URL").Return("http://localhost:3000/").Maybe()
	return c
}

// ExpectTeardown registers exactly-once Close and Stop expectations for
// every handle in the chain.
func (c *Chain) ExpectTeardown() {
	c.Page.On("Close", mock.Anything).Return(nil).Once()
	c.Context.On("Close", mock.Anything).Return(nil).Once()
	c.Browser.On("Close", mock.Anything).Return(nil).Once()
	c.Driver.On("Stop", mock.Anything).Return(nil).Once()
}

// AssertExpectations checks every mock in the chain.
func (c *Chain) AssertExpectations(t mock.TestingT) {
	c.Engine.AssertExpectations(t)
	c.Driver.AssertExpectations(t)
	c.Browser.AssertExpectations(t)
	c.Context.AssertExpectations(t)
	c.Page.AssertExpectations(t)
}
