package cdp

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

// execCandidates are searched on PATH, in order, when no binary is pinned.
var execCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"headless-shell",
	"chrome",
}

const remoteProbeTimeout = 3 * time.Second

// launchFlags renders LaunchOptions as the command line flags layered over
// chromedp's defaults. A false value removes a default flag.
func launchFlags(opts schemas.LaunchOptions) map[string]interface{} {
	flags := map[string]interface{}{
		"headless":          opts.Headless,
		"disable-gpu":       opts.Headless,
		"hide-scrollbars":   opts.Headless,
		"mute-audio":        true,
		"enable-automation": true,
	}
	if opts.NoSandbox {
		flags["no-sandbox"] = true
		flags["disable-setuid-sandbox"] = true
	}

	// Custom arguments from config.yaml may or may not carry the leading dashes.
	for _, arg := range opts.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimLeft(strings.TrimSpace(parts[0]), "-")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags[name] = parts[1]
		} else {
			flags[name] = true
		}
	}
	return flags
}

// allocatorOptions builds the exec allocator options for a local launch.
func allocatorOptions(opts schemas.LaunchOptions, execPath string) []chromedp.ExecAllocatorOption {
	out := make([]chromedp.ExecAllocatorOption, 0, len(chromedp.DefaultExecAllocatorOptions)+8)
	out = append(out, chromedp.DefaultExecAllocatorOptions[:]...)

	flags := launchFlags(opts)
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, chromedp.Flag(name, flags[name]))
	}

	out = append(out, chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight))
	if execPath != "" {
		out = append(out, chromedp.ExecPath(execPath))
	}
	return out
}

// locator finds a usable Chrome. The functions are swapped out in tests.
type locator struct {
	lookPath func(file string) (string, error)
	stat     func(name string) (os.FileInfo, error)
	dial     func(ctx context.Context, network, address string) (net.Conn, error)
}

func defaultLocator() locator {
	var d net.Dialer
	return locator{
		lookPath: exec.LookPath,
		stat:     os.Stat,
		dial:     d.DialContext,
	}
}

// resolve returns the binary to launch, or "" when a remote endpoint will be
// used instead. The remote endpoint takes precedence and must accept a TCP
// connection.
func (l locator) resolve(ctx context.Context, opts schemas.LaunchOptions) (string, error) {
	if opts.RemoteURL != "" {
		u, err := url.Parse(opts.RemoteURL)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("invalid remote_url %q", opts.RemoteURL)
		}
		host := u.Host
		if u.Port() == "" {
			switch u.Scheme {
			case "wss", "https":
				host = net.JoinHostPort(u.Hostname(), "443")
			default:
				host = net.JoinHostPort(u.Hostname(), "80")
			}
		}
		dctx, cancel := context.WithTimeout(ctx, remoteProbeTimeout)
		defer cancel()
		conn, err := l.dial(dctx, "tcp", host)
		if err != nil {
			return "", fmt.Errorf("remote browser at %s is unreachable: %w", opts.RemoteURL, err)
		}
		_ = conn.Close()
		return "", nil
	}

	if opts.ExecPath != "" {
		info, err := l.stat(opts.ExecPath)
		if err != nil {
			return "", fmt.Errorf("browser binary %s: %w", opts.ExecPath, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("browser binary %s is a directory", opts.ExecPath)
		}
		return opts.ExecPath, nil
	}

	for _, name := range execCandidates {
		if path, err := l.lookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no Chrome or Chromium binary found on PATH (tried %s)", strings.Join(execCandidates, ", "))
}
