// File: internal/mocks/mocks_test.go
package mocks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

// Compile-time checks that the mocks satisfy the engine interfaces.
var (
	_ schemas.Engine         = (*MockEngine)(nil)
	_ schemas.Driver         = (*MockDriver)(nil)
	_ schemas.Browser        = (*MockBrowser)(nil)
	_ schemas.BrowserContext = (*MockBrowserContext)(nil)
	_ schemas.Page           = (*MockPage)(nil)
	_ schemas.Frame          = (*MockFrame)(nil)
)

func TestChain(t *testing.T) {
	ctx := context.Background()
	c := NewChain("mock")
	c.ExpectTeardown()

	drv, err := c.Engine.Start(ctx)
	require.NoError(t, err)
	b, err := drv.Launch(ctx, schemas.LaunchOptions{})
	require.NoError(t, err)
	bc, err := b.NewContext(ctx, schemas.ContextOptions{})
	require.NoError(t, err)
	p, err := bc.NewPage(ctx)
	require.NoError(t, err)
	assert.Same(t, c.Page, p)

	require.NoError(t, p.Close(ctx))
	require.NoError(t, bc.Close(ctx))
	require.NoError(t, b.Close(ctx))
	require.NoError(t, drv.Stop(ctx))
	c.AssertExpectations(t)
}

func TestMockEngine_StartError(t *testing.T) {
	m := new(MockEngine)
	m.On("Start", mock.Anything).Return(nil, schemas.ErrCodeEngineUnavailable)

	drv, err := m.Start(context.Background())
	assert.Nil(t, drv)
	assert.ErrorIs(t, err, schemas.ErrCodeEngineUnavailable)
}
