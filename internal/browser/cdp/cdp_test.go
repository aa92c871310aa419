package cdp

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLaunchFlags(t *testing.T) {
	t.Parallel()
	flags := launchFlags(schemas.LaunchOptions{
		Headless:  true,
		NoSandbox: true,
		Args:      []string{"--disable-dev-shm-usage", "--lang=en-US", "window-position=0,0", "--"},
	})

	assert.Equal(t, true, flags["headless"])
	assert.Equal(t, true, flags["disable-gpu"])
	assert.Equal(t, true, flags["no-sandbox"])
	assert.Equal(t, true, flags["disable-dev-shm-usage"])
	assert.Equal(t, "en-US", flags["lang"])
	assert.Equal(t, "0,0", flags["window-position"])
	assert.NotContains(t, flags, "")

	headful := launchFlags(schemas.LaunchOptions{})
	assert.Equal(t, false, headful["headless"], "a false flag strips chromedp's default")
	assert.NotContains(t, headful, "no-sandbox")
}

func TestAllocatorOptions(t *testing.T) {
	t.Parallel()
	opts := schemas.LaunchOptions{Headless: true, WindowWidth: 1280, WindowHeight: 720}
	base := allocatorOptions(opts, "")
	withPath := allocatorOptions(opts, "/usr/bin/chromium")
	assert.Len(t, withPath, len(base)+1)
}

type fakeInfo struct {
	os.FileInfo
	dir bool
}

func (f fakeInfo) IsDir() bool { return f.dir }

type nopConn struct{ net.Conn }

func (nopConn) Close() error { return nil }

func TestLocator_Resolve(t *testing.T) {
	t.Parallel()
	notFound := func(string) (string, error) { return "", errors.New("not found") }

	t.Run("PathCandidates", func(t *testing.T) {
		t.Parallel()
		var tried []string
		l := locator{lookPath: func(name string) (string, error) {
			tried = append(tried, name)
			if name == "chromium" {
				return "/usr/bin/chromium", nil
			}
			return "", errors.New("not found")
		}}
		path, err := l.resolve(context.Background(), schemas.LaunchOptions{})
		require.NoError(t, err)
		assert.Equal(t, "/usr/bin/chromium", path)
		assert.Equal(t, []string{"google-chrome", "google-chrome-stable", "chromium"}, tried)
	})

	t.Run("NothingOnPath", func(t *testing.T) {
		t.Parallel()
		_, err := locator{lookPath: notFound}.resolve(context.Background(), schemas.LaunchOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no Chrome or Chromium binary")
	})

	t.Run("ExecPath", func(t *testing.T) {
		t.Parallel()
		l := locator{lookPath: notFound, stat: func(string) (os.FileInfo, error) { return fakeInfo{}, nil }}
		path, err := l.resolve(context.Background(), schemas.LaunchOptions{ExecPath: "/opt/chrome/chrome"})
		require.NoError(t, err)
		assert.Equal(t, "/opt/chrome/chrome", path)

		l.stat = func(string) (os.FileInfo, error) { return fakeInfo{dir: true}, nil }
		_, err = l.resolve(context.Background(), schemas.LaunchOptions{ExecPath: "/opt/chrome"})
		assert.ErrorContains(t, err, "is a directory")

		l.stat = func(name string) (os.FileInfo, error) { return nil, os.ErrNotExist }
		_, err = l.resolve(context.Background(), schemas.LaunchOptions{ExecPath: "/missing"})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("Remote", func(t *testing.T) {
		t.Parallel()
		var dialed string
		l := locator{lookPath: notFound, dial: func(_ context.Context, _, addr string) (net.Conn, error) {
			dialed = addr
			return nopConn{}, nil
		}}
		path, err := l.resolve(context.Background(), schemas.LaunchOptions{RemoteURL: "ws://127.0.0.1:9222/devtools/browser/abc"})
		require.NoError(t, err)
		assert.Empty(t, path)
		assert.Equal(t, "127.0.0.1:9222", dialed)

		_, err = l.resolve(context.Background(), schemas.LaunchOptions{RemoteURL: "wss://chrome.internal/devtools"})
		require.NoError(t, err)
		assert.Equal(t, "chrome.internal:443", dialed)

		l.dial = func(context.Context, string, string) (net.Conn, error) { return nil, errors.New("connection refused") }
		_, err = l.resolve(context.Background(), schemas.LaunchOptions{RemoteURL: "ws://127.0.0.1:9222"})
		assert.ErrorContains(t, err, "unreachable")

		_, err = l.resolve(context.Background(), schemas.LaunchOptions{RemoteURL: "::not a url"})
		assert.ErrorContains(t, err, "invalid remote_url")
	})
}

func TestEngine_StartUnavailable(t *testing.T) {
	t.Parallel()
	e := New(zaptest.NewLogger(t), schemas.LaunchOptions{})
	e.locate = locator{lookPath: func(string) (string, error) { return "", errors.New("not found") }}

	_, err := e.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, schemas.ErrCodeEngineUnavailable))
	assert.Equal(t, EngineName, e.Name())
}

func TestEngine_StartLocatesChrome(t *testing.T) {
	t.Parallel()
	e := New(zaptest.NewLogger(t), schemas.LaunchOptions{})
	e.locate = locator{lookPath: func(name string) (string, error) { return "/usr/bin/" + name, nil }}

	drv, err := e.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/google-chrome", drv.(*driver).execPath)

	// A stopped driver refuses to launch, and stopping again is a no-op.
	require.NoError(t, drv.Stop(context.Background()))
	require.NoError(t, drv.Stop(context.Background()))
	_, err = drv.Launch(context.Background(), schemas.LaunchOptions{WindowWidth: 800, WindowHeight: 600})
	assert.True(t, errors.Is(err, schemas.ErrCodeLaunch))
	assert.ErrorIs(t, err, schemas.ErrClosed)
}

func TestDriver_LaunchRejectsBadWindow(t *testing.T) {
	t.Parallel()
	d := &driver{logger: zaptest.NewLogger(t)}
	_, err := d.Launch(context.Background(), schemas.LaunchOptions{WindowWidth: 0, WindowHeight: 600})
	require.Error(t, err)
	assert.Equal(t, schemas.ErrCodeLaunch, schemas.CodeOf(err))
}

func TestLifecycle(t *testing.T) {
	t.Parallel()
	const main = cdp.FrameID("MAIN")

	t.Run("ReachesInOrder", func(t *testing.T) {
		t.Parallel()
		l := newLifecycle()
		l.observe(main, "L1", "init")
		assert.True(t, l.reached(main, "L1", schemas.WaitCommit))
		assert.False(t, l.reached(main, "L1", schemas.WaitDOMContentLoaded))

		l.observe(main, "L1", "firstPaint")
		l.observe(main, "L1", "DOMContentLoaded")
		assert.True(t, l.reached(main, "L1", schemas.WaitDOMContentLoaded))
		assert.True(t, l.reached(main, "", schemas.WaitDOMContentLoaded))
		assert.False(t, l.reached(main, "L1", schemas.WaitLoad))
	})

	t.Run("NewDocumentResets", func(t *testing.T) {
		t.Parallel()
		l := newLifecycle()
		l.observe(main, "L1", "load")
		assert.True(t, l.reached(main, "L1", schemas.WaitLoad))

		l.observe(main, "L2", "init")
		assert.False(t, l.reached(main, "L1", schemas.WaitCommit), "the old loader no longer counts")
		assert.False(t, l.reached(main, "L2", schemas.WaitLoad))

		l.forget(main)
		assert.False(t, l.reached(main, "", schemas.WaitCommit))
	})

	t.Run("WaitWakesOnEvent", func(t *testing.T) {
		t.Parallel()
		l := newLifecycle()
		done := make(chan error, 1)
		go func() { done <- l.wait(context.Background(), main, "L1", schemas.WaitLoad) }()

		l.observe(main, "L1", "init")
		l.observe(main, "L1", "DOMContentLoaded")
		l.observe(main, "L1", "load")

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("waiter was not woken")
		}
	})

	t.Run("FrameWaitIgnoresPreviousDocument", func(t *testing.T) {
		t.Parallel()
		l := newLifecycle()
		l.observe(main, "BLANK", "init")
		l.observe(main, "BLANK", "load")
		assert.True(t, l.reached(main, "", schemas.WaitDOMContentLoaded))

		// Navigation committed to L1, but its init has not been delivered yet.
		l.expect(main, "L1")
		assert.False(t, l.reached(main, "", schemas.WaitDOMContentLoaded))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		require.ErrorIs(t, l.wait(ctx, main, "", schemas.WaitDOMContentLoaded), context.DeadlineExceeded)

		l.observe(main, "L1", "init")
		l.observe(main, "L1", "DOMContentLoaded")
		assert.True(t, l.reached(main, "", schemas.WaitDOMContentLoaded))

		// A later document, from a click for example, supersedes the expectation.
		l.observe(main, "L2", "init")
		l.observe(main, "L2", "load")
		assert.True(t, l.reached(main, "", schemas.WaitLoad))
		assert.False(t, l.reached(main, "L1", schemas.WaitCommit))

		l.expect(main, "L3")
		l.forget(main)
		l.observe(main, "L4", "load")
		assert.True(t, l.reached(main, "", schemas.WaitLoad), "forget drops the expectation")
	})

	t.Run("WaitTimesOut", func(t *testing.T) {
		t.Parallel()
		l := newLifecycle()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := l.wait(ctx, "CHILD", "", schemas.WaitDOMContentLoaded)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "CHILD")
	})
}

func TestResolverExpression(t *testing.T) {
	t.Parallel()
	loc := schemas.MustParseLocator(`role=button[name="Send \"Message\""s] >> nth=1`)
	expr, err := resolverExpression(loc, opPoint)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(expr, "(function (loc, op)"))
	assert.Contains(t, expr, `{"kind":"role","expr":"button","name":"Send \"Message\"","exact":true,"nth":1}`)
	assert.True(t, strings.HasSuffix(expr, `, "point")`))

	var args resolverArgs
	start := strings.LastIndex(expr, `)({`) + 2
	end := strings.LastIndex(expr, `, "point")`)
	require.NoError(t, json.Unmarshal([]byte(expr[start:end]), &args))
	assert.Equal(t, "Send \"Message\"", args.Name)
}

func TestResolved_State(t *testing.T) {
	t.Parallel()
	r := resolved{Count: 2, Attached: true, Visible: true, Enabled: false, Hit: true}
	st := r.state()
	assert.Equal(t, 2, st.Count)
	assert.False(t, st.Actionable())
	assert.Equal(t, "disabled", st.Describe())
}

func TestRetryAction(t *testing.T) {
	t.Parallel()
	loc := schemas.MustParseLocator(`role=textbox[name="Email"]`)
	attached := func(r resolved) error {
		switch {
		case !r.Attached:
			return errDetached
		case r.Error != "":
			return permanentError{errors.New(r.Error)}
		}
		return nil
	}

	t.Run("RetriesAfterRerenderDetaches", func(t *testing.T) {
		t.Parallel()
		results := []resolved{{Count: 1}, {Count: 0}, {Count: 1, Attached: true}}
		var calls, done int
		err := retryAction(context.Background(), "fill", loc,
			func(context.Context) (resolved, error) {
				r := results[calls]
				calls++
				return r, nil
			},
			attached,
			func(context.Context, resolved) error { done++; return nil },
		)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 1, done)
	})

	t.Run("TransientResolveErrors", func(t *testing.T) {
		t.Parallel()
		var calls int
		err := retryAction(context.Background(), "click", loc,
			func(context.Context) (resolved, error) {
				calls++
				if calls == 1 {
					return resolved{}, errors.New("execution context was destroyed")
				}
				return resolved{Attached: true}, nil
			},
			attached,
			func(context.Context, resolved) error { return nil },
		)
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("DetachedUntilDeadline", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		defer cancel()
		start := time.Now()
		err := retryAction(ctx, "fill", loc,
			func(context.Context) (resolved, error) { return resolved{}, nil },
			attached,
			func(context.Context, resolved) error { t.Fatal("must not act on a detached element"); return nil },
		)
		require.Error(t, err)
		assert.Equal(t, schemas.ErrCodeElementNotFound, schemas.CodeOf(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	})

	t.Run("CoveredUntilDeadlineIsUntyped", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
		defer cancel()
		err := retryAction(ctx, "click", loc,
			func(context.Context) (resolved, error) { return resolved{Attached: true}, nil },
			func(resolved) error { return errors.New("element is covered by another element") },
			func(context.Context, resolved) error { return nil },
		)
		require.Error(t, err)
		assert.Equal(t, schemas.ErrorCode(""), schemas.CodeOf(err))
		assert.Contains(t, err.Error(), "covered")
	})

	t.Run("PermanentErrorStops", func(t *testing.T) {
		t.Parallel()
		var calls int
		err := retryAction(context.Background(), "fill", loc,
			func(context.Context) (resolved, error) {
				calls++
				return resolved{Attached: true, Error: "element is not an editable field"}, nil
			},
			attached,
			func(context.Context, resolved) error { return nil },
		)
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.Contains(t, err.Error(), "fill "+loc.String()+": element is not an editable field")
	})

	t.Run("ActionErrorIsReturned", func(t *testing.T) {
		t.Parallel()
		err := retryAction(context.Background(), "click", loc,
			func(context.Context) (resolved, error) { return resolved{Attached: true}, nil },
			attached,
			func(context.Context, resolved) error { return errors.New("input dispatch failed") },
		)
		assert.ErrorContains(t, err, "input dispatch failed")
	})
}
