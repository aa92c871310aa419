package static

import (
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/publicsuffix"
)

var (
	gzipReaderPool = sync.Pool{New: func() interface{} { return new(gzip.Reader) }}
	brReaderPool   = sync.Pool{New: func() interface{} { return brotli.NewReader(nil) }}
)

// decompressingTransport advertises br, gzip and deflate and decodes the
// response body in place. Every static context gets its own client on top of
// it so cookies never leak between contexts.
type decompressingTransport struct {
	base      http.RoundTripper
	userAgent string
}

func newTransport(base http.RoundTripper, userAgent string) *decompressingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &decompressingTransport{base: base, userAgent: userAgent}
}

func (t *decompressingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "br, gzip, deflate")
	}
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := decompress(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to decode response from %s: %w", req.URL, err)
	}
	return resp, nil
}

func (t *decompressingTransport) CloseIdleConnections() {
	if ci, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
}

// newClient builds the HTTP client of one browsing context.
func newClient(rt http.RoundTripper) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: rt,
		Jar:       jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after %d redirects", len(via))
			}
			return nil
		},
	}, nil
}

type pooledBody struct {
	io.Reader
	underlying io.Closer
	release    func()
}

func (b *pooledBody) Close() error {
	if b.release != nil {
		b.release()
		b.release = nil
	}
	return b.underlying.Close()
}

// decompress unwraps Content-Encoding layers in reverse order of application.
func decompress(resp *http.Response) error {
	encodings := resp.Header.Values("Content-Encoding")
	if resp.Body == nil || len(encodings) == 0 {
		return nil
	}
	for i := len(encodings) - 1; i >= 0; i-- {
		for _, enc := range splitReverse(encodings[i]) {
			body := resp.Body
			switch enc {
			case "", "identity":
				continue
			case "gzip", "x-gzip":
				zr := gzipReaderPool.Get().(*gzip.Reader)
				if err := zr.Reset(body); err != nil {
					gzipReaderPool.Put(zr)
					return fmt.Errorf("gzip: %w", err)
				}
				resp.Body = &pooledBody{Reader: zr, underlying: body, release: func() { gzipReaderPool.Put(zr) }}
			case "br":
				br := brReaderPool.Get().(*brotli.Reader)
				if err := br.Reset(body); err != nil {
					brReaderPool.Put(br)
					return fmt.Errorf("brotli: %w", err)
				}
				resp.Body = &pooledBody{Reader: br, underlying: body, release: func() { brReaderPool.Put(br) }}
			case "deflate":
				r, err := newDeflateReader(body)
				if err != nil {
					return fmt.Errorf("deflate: %w", err)
				}
				resp.Body = &pooledBody{Reader: r, underlying: closers{r, body}}
			default:
				return fmt.Errorf("unsupported Content-Encoding %q", enc)
			}
		}
	}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

func splitReverse(header string) []string {
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for i := len(parts) - 1; i >= 0; i-- {
		out = append(out, strings.ToLower(strings.TrimSpace(parts[i])))
	}
	return out
}

type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for _, cl := range c {
		errs = append(errs, cl.Close())
	}
	return errors.Join(errs...)
}

// newDeflateReader accepts both zlib-wrapped and raw deflate streams; servers
// disagree about which one "deflate" means.
func newDeflateReader(r io.Reader) (io.ReadCloser, error) {
	var head [2]byte
	n, err := io.ReadFull(r, head[:])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	full := io.MultiReader(strings.NewReader(string(head[:n])), r)
	if n == 2 && head[0]&0x0f == 8 && (uint16(head[0])<<8|uint16(head[1]))%31 == 0 {
		return zlib.NewReader(full)
	}
	return flate.NewReader(full), nil
}
