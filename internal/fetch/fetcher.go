package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"accentid/internal/logging"
	"accentid/internal/services"
)

const (
	// DefaultMinBytes is the floor below which a download counts as failed.
	// It only rejects empty or error-page responses; it says nothing about
	// whether the file is a complete video.
	DefaultMinBytes = 1024
	// DefaultChunkBytes bounds the copy buffer.
	DefaultChunkBytes = 32 * 1024
	defaultUserAgent  = "accentid/dev"
)

// HTTPFetcher streams a remote video to local disk.
type HTTPFetcher struct {
	client     *http.Client
	minBytes   int64
	chunkBytes int
	userAgent  string
	timeout    time.Duration
	logger     *slog.Logger
}

// Option customizes an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *HTTPFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithMinBytes sets the minimum accepted download size.
func WithMinBytes(n int64) Option {
	return func(f *HTTPFetcher) {
		if n >= 0 {
			f.minBytes = n
		}
	}
}

// WithChunkBytes sets the copy buffer size.
func WithChunkBytes(n int) Option {
	return func(f *HTTPFetcher) {
		if n > 0 {
			f.chunkBytes = n
		}
	}
}

// WithUserAgent sets the User-Agent header sent with each request.
func WithUserAgent(ua string) Option {
	return func(f *HTTPFetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithTimeout bounds the whole download. Zero disables the deadline.
func WithTimeout(d time.Duration) Option {
	return func(f *HTTPFetcher) {
		if d >= 0 {
			f.timeout = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *HTTPFetcher) {
		f.logger = logger
	}
}

// NewHTTPFetcher constructs a fetcher with defaults matching the sample config.
func NewHTTPFetcher(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		client:     &http.Client{},
		minBytes:   DefaultMinBytes,
		chunkBytes: DefaultChunkBytes,
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = logging.NewComponentLogger(f.logger, "fetch")
	return f
}

// Fetch downloads sourceURL to dest with a single GET. On any failure the
// partially written destination is removed and a fetch error is returned.
func (f *HTTPFetcher) Fetch(ctx context.Context, sourceURL, dest string) error {
	parsed, err := ValidateSourceURL(sourceURL)
	if err != nil {
		return err
	}
	logger := logging.WithContext(ctx, f.logger)

	parent := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return services.Wrap(services.ErrFetch, "fetch", "build request", "", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return f.failure(parent, ctx, "request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return services.Wrap(services.ErrFetch, "fetch", "request", fmt.Sprintf("failed to download video: HTTP %d", resp.StatusCode), nil)
	}

	written, err := f.writeBody(resp.Body, dest)
	if err != nil {
		_ = os.Remove(dest)
		return f.failure(parent, ctx, "write", err)
	}

	info, statErr := os.Stat(dest)
	if statErr != nil || info.Size() < f.minBytes {
		_ = os.Remove(dest)
		return services.Wrap(services.ErrFetch, "fetch", "verify", fmt.Sprintf("download failed or file too small (%d bytes)", written), nil)
	}

	logger.Info("video downloaded",
		logging.Int64("bytes", written),
		logging.String("content_type", resp.Header.Get("Content-Type")),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// failure wraps a transfer error. A canceled caller context stays visible
// to errors.Is so callers can tell an interrupt from a failed download; the
// fetcher's own deadline is reported as an ordinary fetch failure.
func (f *HTTPFetcher) failure(parent, ctx context.Context, op string, err error) error {
	if parentErr := parent.Err(); parentErr != nil {
		return services.Wrap(services.ErrFetch, "fetch", op, "download interrupted", parentErr)
	}
	if ctx.Err() != nil {
		return services.Wrap(services.ErrFetch, "fetch", op, fmt.Sprintf("download timed out after %s", f.timeout), nil)
	}
	return services.Wrap(services.ErrFetch, "fetch", op, "failed to download video", err)
}

func (f *HTTPFetcher) writeBody(body io.Reader, dest string) (int64, error) {
	file, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}
	defer file.Close()

	// Hide ReadFrom so the copy goes through the bounded buffer.
	buf := make([]byte, f.chunkBytes)
	written, err := io.CopyBuffer(struct{ io.Writer }{file}, body, buf)
	if err != nil {
		return written, err
	}
	return written, file.Close()
}
