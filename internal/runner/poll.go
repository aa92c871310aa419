package runner

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// probeFunc observes the page once. done reports whether the awaited
// condition holds.
type probeFunc func(ctx context.Context) (done bool, err error)

// poll runs probe at most once per interval until it reports done or ctx
// ends. Probe errors are treated as transient; the last one is returned
// alongside a false result so the caller can attach it to its diagnostic.
func poll(ctx context.Context, interval, probeTimeout time.Duration, probe probeFunc) (bool, error) {
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	var lastErr error
	for {
		if err := limiter.Wait(ctx); err != nil {
			// No further probe fits before the deadline.
			if ctx.Err() == nil {
				<-ctx.Done()
			}
			return false, lastErr
		}
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		done, err := probe(pctx)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		if done {
			return true, nil
		}
		lastErr = nil
	}
}
