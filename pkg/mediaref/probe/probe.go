// Package probe answers "does the blob behind this URL still exist".
package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tendant/mediaref/pkg/mediaref"
	"github.com/tendant/mediaref/pkg/mediaref/metrics"
)

// Defaults for HTTPProber.
const (
	DefaultTimeout    = 10 * time.Second
	DefaultMaxRetries = 3
)

// HTTPProber issues HEAD requests. Network errors, 429 and 5xx responses are
// retried with exponential backoff; any other non-success status means gone.
type HTTPProber struct {
	client     *http.Client
	timeout    time.Duration
	maxRetries uint64
	backoff    func() backoff.BackOff
}

// Option configures an HTTPProber.
type Option func(*HTTPProber)

// WithTimeout bounds each single HEAD request.
func WithTimeout(d time.Duration) Option {
	return func(p *HTTPProber) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n uint64) Option {
	return func(p *HTTPProber) {
		p.maxRetries = n
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *HTTPProber) {
		if c != nil {
			p.client = c
		}
	}
}

// WithInitialInterval sets the first backoff delay.
func WithInitialInterval(d time.Duration) Option {
	return func(p *HTTPProber) {
		p.backoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = d
			return b
		}
	}
}

// NewHTTP creates an HTTPProber.
func NewHTTP(opts ...Option) *HTTPProber {
	p := &HTTPProber{
		client:     &http.Client{},
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
		backoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ mediaref.Prober = (*HTTPProber)(nil)

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// Exists reports false for a definitive miss and an error when the answer
// stayed unknown after all retries.
func (p *HTTPProber) Exists(ctx context.Context, url string) (bool, error) {
	var exists bool

	operation := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := p.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		resp.Body.Close()

		// only 404 and 410 are a definitive miss; auth and method errors
		// leave the answer unknown and must never lead to deletion
		switch {
		case resp.StatusCode < 400:
			exists = true
			return nil
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			exists = false
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return &statusError{code: resp.StatusCode}
		default:
			return backoff.Permanent(&statusError{code: resp.StatusCode})
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.backoff(), p.maxRetries), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		metrics.ProbeTotal.WithLabelValues(metrics.ResultError).Inc()
		return false, &mediaref.URLError{URL: url, Op: "probe", Err: err}
	}

	if exists {
		metrics.ProbeTotal.WithLabelValues(metrics.ResultAlive).Inc()
	} else {
		metrics.ProbeTotal.WithLabelValues(metrics.ResultDead).Inc()
	}
	return exists, nil
}

// StoreProber answers object-store URLs with a head request against the
// bucket and hands everything else to Fallback.
type StoreProber struct {
	Store      mediaref.BlobStore
	Classifier mediaref.Classifier
	Fallback   mediaref.Prober
}

var _ mediaref.Prober = (*StoreProber)(nil)

func (p *StoreProber) Exists(ctx context.Context, url string) (bool, error) {
	ref := p.Classifier.Classify(url)
	if ref.Backend == mediaref.BackendObjectStore && ref.StoragePath != "" && p.Store != nil {
		ok, err := p.Store.Exists(ctx, ref.StoragePath)
		if err != nil {
			metrics.ProbeTotal.WithLabelValues(metrics.ResultError).Inc()
			return false, &mediaref.URLError{URL: url, Op: "probe", Err: err}
		}
		if ok {
			metrics.ProbeTotal.WithLabelValues(metrics.ResultAlive).Inc()
		} else {
			metrics.ProbeTotal.WithLabelValues(metrics.ResultDead).Inc()
		}
		return ok, nil
	}
	if p.Fallback == nil {
		return false, &mediaref.URLError{URL: url, Op: "probe", Err: errors.New("no prober for url")}
	}
	return p.Fallback.Exists(ctx, url)
}
