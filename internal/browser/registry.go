// Package browser selects the automation engine a run is executed with.
package browser

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
	"github.com/xkilldash9x/verdict-cli/internal/browser/cdp"
	"github.com/xkilldash9x/verdict-cli/internal/browser/playwright"
	"github.com/xkilldash9x/verdict-cli/internal/browser/static"
	"github.com/xkilldash9x/verdict-cli/internal/config"
)

type factory func(cfg *config.Config, logger *zap.Logger) schemas.Engine

var engines = map[string]factory{
	cdp.EngineName: func(cfg *config.Config, logger *zap.Logger) schemas.Engine {
		return cdp.New(logger, cfg.Browser)
	},
	playwright.EngineName: func(cfg *config.Config, logger *zap.Logger) schemas.Engine {
		return playwright.New(logger, cfg.Browser.Install, cfg.Engine.InstallTimeout)
	},
	static.EngineName: func(cfg *config.Config, logger *zap.Logger) schemas.Engine {
		return static.New(logger, static.WithUserAgent(cfg.Engine.UserAgent))
	},
}

// Names lists the registered engines in sorted order.
func Names() []string {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewEngine builds the engine registered under name.
func NewEngine(name string, cfg *config.Config, logger *zap.Logger) (schemas.Engine, error) {
	f, ok := engines[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown engine %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return f(cfg, logger.Named("engine")), nil
}
