// Package ctxutil holds the context plumbing shared by the engines. Driver
// handles live in context values (chromedp keeps its target there) while the
// caller's context carries the deadline, so the two have to be merged.
package ctxutil

import (
	"context"
	"time"
)

// CombineContext derives from primary, inheriting its values, and cancels the
// result when either primary or secondary is done. A deadline on secondary is
// carried over when it is earlier than the primary's.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	var (
		combined context.Context
		cancel   context.CancelFunc
	)
	if dl, ok := secondary.Deadline(); ok {
		combined, cancel = context.WithDeadline(primary, dl)
	} else {
		combined, cancel = context.WithCancel(primary)
	}

	stop := context.AfterFunc(secondary, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}

// Detach keeps the values of ctx but drops its cancellation and deadline.
// Teardown runs on a detached context so that an aborted run still releases
// its browser.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// DetachWithTimeout is Detach bounded by d.
func DetachWithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(Detach(ctx), d)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
