package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/verdict-cli/internal/config"
)

func TestNewEngine(t *testing.T) {
	cfg := config.NewDefaultConfig()
	logger := zaptest.NewLogger(t)

	assert.Equal(t, []string{"cdp", "playwright", "static"}, Names())
	for _, name := range []string{"cdp", "playwright", "static", " Static "} {
		eng, err := NewEngine(name, cfg, logger)
		require.NoError(t, err, name)
		assert.Contains(t, Names(), eng.Name())
	}

	_, err := NewEngine("selenium", cfg, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "available: cdp, playwright, static")
}
