package runner

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type resource struct {
	name     string
	close    func(context.Context) error
	released bool
}

// releaser closes acquired resources in reverse acquisition order. Each
// resource is closed at most once no matter how often releaseAll runs.
type releaser struct {
	logger *zap.Logger

	mu    sync.Mutex
	stack []*resource
}

func newReleaser(logger *zap.Logger) *releaser {
	return &releaser{logger: logger}
}

func (r *releaser) push(name string, closeFn func(context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stack = append(r.stack, &resource{name: name, close: closeFn})
}

// releaseAll closes everything still open. Close errors are logged and
// returned for the report; they never change the verdict.
func (r *releaser) releaseAll(ctx context.Context) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []string
	for i := len(r.stack) - 1; i >= 0; i-- {
		res := r.stack[i]
		if res.released {
			continue
		}
		res.released = true
		if err := res.close(ctx); err != nil {
			r.logger.Warn("Failed to release resource.", zap.String("resource", res.name), zap.Error(err))
			errs = append(errs, fmt.Sprintf("%s: %v", res.name, err))
			continue
		}
		r.logger.Debug("Released resource.", zap.String("resource", res.name))
	}
	return errs
}
