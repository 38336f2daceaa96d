package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"go.uber.org/zap"

	"github.com/Fortunato28/ninegag2telegram/rewrite"
	"github.com/Fortunato28/ninegag2telegram/util"
)

var (
	// ErrNetwork covers connection failures, non-success statuses and body read failures.
	ErrNetwork = errors.New("network error")
)

type Config struct {
	// Timeout bounds the whole request, including reading the body. Zero means no limit beyond the context.
	Timeout   time.Duration
	UserAgent string
	// MaxBytes limits the body size. Zero means no limit.
	MaxBytes int64
}

func DefaultConfig() Config {
	return Config{
		Timeout:   60 * time.Second,
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36",
		MaxBytes:  50 * 1024 * 1024,
	}
}

// ProgressFunc receives the number of bytes read so far and the expected total (-1 if unknown).
type ProgressFunc func(downloaded int64, expected int64)

// Fetcher performs single GET requests through one shared http.Client.
type Fetcher struct {
	client *http.Client
	cfg    Config
	log    *zap.SugaredLogger
}

type Option func(*Fetcher)

// WithClient replaces the default client, e.g. with one from httptest.
func WithClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(f *Fetcher) {
		f.log = logger
	}
}

func New(cfg Config, opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 30 * time.Second,
				MaxIdleConnsPerHost:   4,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		cfg: cfg,
		log: zap.S().Named("fetch"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Payload is the body of a successful fetch together with the URL the server finally answered from.
type Payload struct {
	SourceURL *url.URL
	Body      []byte
	// Kind is the sniffed content type, types.Unknown if not recognised.
	Kind types.Type
}

// Filename derives a file name from the last segment of SourceURL, falling back to util.PlaceholderFilename.
func (p *Payload) Filename() string {
	return util.FilenameFromURLOr(p.SourceURL, util.PlaceholderFilename)
}

// IsVideo reports whether the body looks like a video container.
func (p *Payload) IsVideo() bool {
	return filetype.IsVideo(p.Body)
}

// Fetch downloads the canonical URL. No retry is attempted.
func (f *Fetcher) Fetch(ctx context.Context, target rewrite.CanonicalURL) (*Payload, error) {
	return f.FetchWithProgress(ctx, target, nil)
}

func (f *Fetcher) FetchWithProgress(ctx context.Context, target rewrite.CanonicalURL, progress ProgressFunc) (*Payload, error) {
	if target.IsZero() {
		return nil, fmt.Errorf("%w: empty URL", ErrNetwork)
	}
	return f.FetchURL(ctx, target.String(), progress)
}

// FetchURL is like FetchWithProgress for an arbitrary URL string.
func (f *Fetcher) FetchURL(ctx context.Context, rawURL string, progress ProgressFunc) (*Payload, error) {
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrNetwork, err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	req.Header.Set("Accept", "video/webm,video/mp4,video/*;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %s", ErrNetwork, resp.Status)
	}
	if f.cfg.MaxBytes > 0 && resp.ContentLength > f.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: body of %d bytes exceeds limit of %d", ErrNetwork, resp.ContentLength, f.cfg.MaxBytes)
	}

	body, err := f.readBody(resp, progress)
	if err != nil {
		return nil, err
	}

	sourceURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		sourceURL = resp.Request.URL
	}
	kind, _ := filetype.Match(body)
	payload := &Payload{
		SourceURL: sourceURL,
		Body:      body,
		Kind:      kind,
	}
	f.log.Debugw("fetched resource", "url", sourceURL.String(), "bytes", len(body), "kind", kind.MIME.Value)
	return payload, nil
}

func (f *Fetcher) readBody(resp *http.Response, progress ProgressFunc) ([]byte, error) {
	var reader io.Reader = resp.Body
	if f.cfg.MaxBytes > 0 {
		// One extra byte tells an exactly-full body apart from an oversized one
		reader = io.LimitReader(reader, f.cfg.MaxBytes+1)
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(resp.ContentLength))
	}
	var dst io.Writer = &buf
	if progress != nil {
		progress(0, resp.ContentLength)
		// The counter goes last so that failed writes are not counted
		dst = io.MultiWriter(&buf, &progressWriter{expected: resp.ContentLength, callback: progress})
	}

	if _, err := io.Copy(dst, reader); err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}
	if f.cfg.MaxBytes > 0 && int64(buf.Len()) > f.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: body exceeds limit of %d bytes", ErrNetwork, f.cfg.MaxBytes)
	}
	return buf.Bytes(), nil
}

type progressWriter struct {
	downloaded int64
	expected   int64
	callback   ProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.downloaded += int64(len(p))
	w.callback(w.downloaded, w.expected)
	return len(p), nil
}
