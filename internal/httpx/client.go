// Package httpx fetches artifact bytes over HTTP.
//
// It is a thin transport: one request per call, redirects followed, and a
// status taxonomy that callers can classify with errors.Is. Retry policy
// belongs to the caller; the [StatusError.Permanent] marker tells it which
// failures are worth retrying.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Status sentinels. [StatusError.Is] maps response codes onto these so
// callers can branch with errors.Is without digging out the status code.
var (
	// ErrNotFound means the artifact URL returned 404.
	ErrNotFound = errors.New("httpx: not found")

	// ErrForbidden means the server rejected the request with 401 or 403.
	ErrForbidden = errors.New("httpx: access denied")

	// ErrServer means the server answered with a 5xx status.
	ErrServer = errors.New("httpx: server error")
)

// StatusError reports a non-success HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpx: %s returned status %d", e.URL, e.StatusCode)
}

// Is maps status classes onto the package sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrForbidden:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrServer:
		return e.StatusCode >= 500
	}

	return false
}

// Permanent reports whether retrying the identical request is pointless.
// Client errors (4xx) are permanent; server errors (5xx) are worth retrying.
func (e *StatusError) Permanent() bool {
	return e.StatusCode < 500
}

// Options configures a [Client]. The zero value uses the defaults.
type Options struct {
	// HeaderTimeout bounds the wait for response headers. It deliberately
	// does not bound the body read; artifact downloads can be large and
	// slow without being stuck. Default 30s.
	HeaderTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.HeaderTimeout <= 0 {
		o.HeaderTimeout = 30 * time.Second
	}

	return o
}

// Client fetches URLs with a shared underlying [http.Client].
// Safe for concurrent use.
type Client struct {
	http *http.Client
}

// New returns a Client with the given options.
func New(opts Options) *Client {
	opts = opts.withDefaults()

	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: opts.HeaderTimeout,
			},
		},
	}
}

// Fetch opens a stream of the bytes at url. Redirects are followed. The
// caller owns the returned body and must close it.
//
// Non-2xx responses return a [*StatusError]; use errors.Is with the package
// sentinels to classify.
func (c *Client) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()

		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	return resp.Body, nil
}
