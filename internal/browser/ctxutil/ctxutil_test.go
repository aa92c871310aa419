package ctxutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type ctxKey string

func TestCombineContext(t *testing.T) {
	const key ctxKey = "target"

	t.Run("InheritsValuesFromPrimary", func(t *testing.T) {
		primary := context.WithValue(context.Background(), key, "tab-1")
		combined, cancel := CombineContext(primary, context.Background())
		defer cancel()

		assert.Equal(t, "tab-1", combined.Value(key))
		assert.NoError(t, combined.Err())
	})

	t.Run("CancelledByPrimary", func(t *testing.T) {
		primary, cancelPrimary := context.WithCancel(context.Background())
		combined, cancel := CombineContext(primary, context.Background())
		defer cancel()

		cancelPrimary()
		<-combined.Done()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("CancelledBySecondary", func(t *testing.T) {
		secondary, cancelSecondary := context.WithCancel(context.Background())
		combined, cancel := CombineContext(context.Background(), secondary)
		defer cancel()

		cancelSecondary()
		assert.Eventually(t, func() bool { return combined.Err() != nil },
			time.Second, 5*time.Millisecond)
	})

	t.Run("TakesEarlierSecondaryDeadline", func(t *testing.T) {
		primary, cancelPrimary := context.WithTimeout(context.Background(), time.Hour)
		defer cancelPrimary()
		secondary, cancelSecondary := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancelSecondary()

		combined, cancel := CombineContext(primary, secondary)
		defer cancel()

		want, _ := secondary.Deadline()
		got, ok := combined.Deadline()
		require.True(t, ok)
		assert.Equal(t, want, got)

		<-combined.Done()
		assert.ErrorIs(t, combined.Err(), context.DeadlineExceeded)
	})

	t.Run("KeepsEarlierPrimaryDeadline", func(t *testing.T) {
		primary, cancelPrimary := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancelPrimary()
		secondary, cancelSecondary := context.WithTimeout(context.Background(), time.Hour)
		defer cancelSecondary()

		combined, cancel := CombineContext(primary, secondary)
		defer cancel()

		want, _ := primary.Deadline()
		got, _ := combined.Deadline()
		assert.Equal(t, want, got)
	})
}

func TestDetach(t *testing.T) {
	const key ctxKey = "browser"
	parent, cancel := context.WithTimeout(context.WithValue(context.Background(), key, "b"), time.Millisecond)
	cancel()

	detached := Detach(parent)
	assert.Equal(t, "b", detached.Value(key))
	assert.NoError(t, detached.Err())
	_, ok := detached.Deadline()
	assert.False(t, ok)

	bounded, cancelBounded := DetachWithTimeout(parent, 20*time.Millisecond)
	defer cancelBounded()
	assert.NoError(t, bounded.Err())
	<-bounded.Done()
	assert.ErrorIs(t, bounded.Err(), context.DeadlineExceeded)
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
	assert.NoError(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
