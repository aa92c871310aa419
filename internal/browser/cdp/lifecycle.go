package cdp

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

// loadState is the furthest lifecycle milestone seen for a frame's current document.
type loadState struct {
	loader cdp.LoaderID
	rank   int
}

// lifecycle tracks Page.lifecycleEvent notifications per frame. Waiters block
// on a broadcast channel that is replaced on every change.
type lifecycle struct {
	mu     sync.Mutex
	frames map[cdp.FrameID]loadState
	// expected holds the loader of a navigation we started and have not
	// yet seen superseded.
	expected map[cdp.FrameID]cdp.LoaderID
	changed  chan struct{}
}

func newLifecycle() *lifecycle {
	return &lifecycle{
		frames:   make(map[cdp.FrameID]loadState),
		expected: make(map[cdp.FrameID]cdp.LoaderID),
		changed:  make(chan struct{}),
	}
}

// eventRank maps lifecycle event names onto WaitCondition ranks. "init" is
// emitted when a new document commits.
func eventRank(name string) (int, bool) {
	switch name {
	case "init", "commit":
		return schemas.WaitCommit.Rank(), true
	case "DOMContentLoaded":
		return schemas.WaitDOMContentLoaded.Rank(), true
	case "load":
		return schemas.WaitLoad.Rank(), true
	}
	return 0, false
}

func (l *lifecycle) observe(frame cdp.FrameID, loader cdp.LoaderID, name string) {
	rank, ok := eventRank(name)
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	st, seen := l.frames[frame]
	switch {
	case !seen, st.loader != loader, name == "init":
		// A new document replaces whatever the frame held before.
		if want, ok := l.expected[frame]; ok && seen && st.loader == want && loader != want {
			delete(l.expected, frame)
		}
		st = loadState{loader: loader, rank: rank}
	case rank > st.rank:
		st.rank = rank
	default:
		return
	}
	l.frames[frame] = st
	close(l.changed)
	l.changed = make(chan struct{})
}

// expect records the loader a navigation of frame committed to. Until that
// document is replaced, waits that name no loader only accept it.
func (l *lifecycle) expect(frame cdp.FrameID, loader cdp.LoaderID) {
	l.mu.Lock()
	l.expected[frame] = loader
	l.mu.Unlock()
}

// forget drops a detached frame.
func (l *lifecycle) forget(frame cdp.FrameID) {
	l.mu.Lock()
	delete(l.frames, frame)
	delete(l.expected, frame)
	l.mu.Unlock()
}

// reached reports whether frame got to cond. An empty loader accepts the
// expected document, or any document when no navigation is pending.
func (l *lifecycle) reached(frame cdp.FrameID, loader cdp.LoaderID, cond schemas.WaitCondition) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reachedLocked(frame, loader, cond)
}

func (l *lifecycle) reachedLocked(frame cdp.FrameID, loader cdp.LoaderID, cond schemas.WaitCondition) bool {
	st, ok := l.frames[frame]
	if !ok {
		return false
	}
	if loader == "" {
		loader = l.expected[frame]
	}
	if loader != "" && st.loader != loader {
		return false
	}
	return st.rank >= cond.Rank()
}

// wait blocks until frame reaches cond or ctx is done.
func (l *lifecycle) wait(ctx context.Context, frame cdp.FrameID, loader cdp.LoaderID, cond schemas.WaitCondition) error {
	for {
		l.mu.Lock()
		if l.reachedLocked(frame, loader, cond) {
			l.mu.Unlock()
			return nil
		}
		changed := l.changed
		l.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("frame %s did not reach %s: %w", frame, cond, ctx.Err())
		}
	}
}
