package playwright

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEngine_StartFailsWithoutDriver(t *testing.T) {
	t.Parallel()
	e := New(zaptest.NewLogger(t), false, 0)
	e.rt = runtime{
		install: func(*playwright.RunOptions) error { t.Error("install must not run"); return nil },
		run: func(opts *playwright.RunOptions) (*playwright.Playwright, error) {
			assert.Equal(t, []string{"chromium"}, opts.Browsers)
			return nil, errors.New("please install the driver")
		},
	}

	_, err := e.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, schemas.ErrCodeEngineUnavailable, schemas.CodeOf(err))
	assert.Contains(t, err.Error(), "please install the driver")
	assert.Equal(t, EngineName, e.Name())
}

func TestEngine_InstallFailure(t *testing.T) {
	t.Parallel()
	e := New(zaptest.NewLogger(t), true, time.Minute)
	e.rt = runtime{
		install: func(*playwright.RunOptions) error { return errors.New("disk full") },
		run: func(*playwright.RunOptions) (*playwright.Playwright, error) {
			t.Fatal("run must not follow a failed install")
			return nil, nil
		},
	}

	_, err := e.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, schemas.ErrCodeEngineUnavailable))
	assert.Contains(t, err.Error(), "disk full")
}

func TestEngine_InstallTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	defer close(release)

	e := New(zaptest.NewLogger(t), true, 20*time.Millisecond)
	e.rt = runtime{
		install: func(*playwright.RunOptions) error { <-release; return nil },
		run:     func(*playwright.RunOptions) (*playwright.Playwright, error) { return nil, errors.New("unreachable") },
	}

	start := time.Now()
	_, err := e.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestEngine_StartCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil, false, 0).Start(ctx)
	assert.Equal(t, schemas.ErrCodeEngineUnavailable, schemas.CodeOf(err))
}

func TestLaunchOptions(t *testing.T) {
	t.Parallel()
	lo := launchOptions(schemas.LaunchOptions{
		Headless:     true,
		NoSandbox:    true,
		WindowWidth:  1280,
		WindowHeight: 720,
		Args:         []string{"--disable-dev-shm-usage"},
		ExecPath:     "/opt/chromium/chrome",
	}, 30*time.Second)

	require.NotNil(t, lo.Headless)
	assert.True(t, *lo.Headless)
	assert.Equal(t, []string{
		"--window-size=1280,720",
		"--no-sandbox",
		"--disable-setuid-sandbox",
		"--disable-gpu",
		"--disable-dev-shm-usage",
	}, lo.Args)
	require.NotNil(t, lo.Timeout)
	assert.Equal(t, 30000.0, *lo.Timeout)
	require.NotNil(t, lo.ExecutablePath)
	assert.Equal(t, "/opt/chromium/chrome", *lo.ExecutablePath)

	bare := launchOptions(schemas.LaunchOptions{WindowWidth: 800, WindowHeight: 600}, 0)
	assert.Nil(t, bare.Timeout)
	assert.Nil(t, bare.ExecutablePath)
	assert.Equal(t, []string{"--window-size=800,600"}, bare.Args)
}

func TestDriver_Launch_Rejections(t *testing.T) {
	t.Parallel()
	d := &driver{logger: zaptest.NewLogger(t)}
	_, err := d.Launch(context.Background(), schemas.LaunchOptions{WindowWidth: -1, WindowHeight: 600})
	assert.Equal(t, schemas.ErrCodeLaunch, schemas.CodeOf(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Launch(ctx, schemas.LaunchOptions{WindowWidth: 800, WindowHeight: 600})
	assert.Equal(t, schemas.ErrCodeLaunch, schemas.CodeOf(err))
	assert.ErrorIs(t, err, context.Canceled)

	d.stopped = true
	_, err = d.Launch(context.Background(), schemas.LaunchOptions{WindowWidth: 800, WindowHeight: 600})
	assert.ErrorIs(t, err, schemas.ErrClosed)
}

func TestWaitUntil(t *testing.T) {
	t.Parallel()
	assert.Equal(t, playwright.WaitUntilStateCommit, waitUntil(schemas.WaitCommit))
	assert.Equal(t, playwright.WaitUntilStateDomcontentloaded, waitUntil(schemas.WaitDOMContentLoaded))
	assert.Equal(t, playwright.WaitUntilStateLoad, waitUntil(schemas.WaitLoad))
}

func TestTimeoutMs(t *testing.T) {
	t.Parallel()
	ms, err := timeoutMs(context.Background())
	require.NoError(t, err)
	assert.Nil(t, ms, "no deadline falls back to the context default")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ms, err = timeoutMs(ctx)
	require.NoError(t, err)
	require.NotNil(t, ms)
	assert.InDelta(t, 60000, *ms, 1000)

	expired, cancel2 := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel2()
	_, err = timeoutMs(expired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
