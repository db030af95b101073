// Package source holds the HTTP plumbing shared by the upstream open-data clients: rate
// limiting, transient retry and status classification.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s status %d", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.Code, e.Body)
}

// Retriable reports whether the status is worth another attempt.
func (e *StatusError) Retriable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Fetcher performs rate-limited requests with bounded exponential-backoff retry.
type Fetcher struct {
	Provider   string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	MaxTries   uint
	Log        *slog.Logger

	// initialInterval overrides the backoff start; tests shrink it.
	initialInterval time.Duration
}

// NewFetcher returns a Fetcher with the given per-request timeout and request rate.
// rps <= 0 disables rate limiting.
func NewFetcher(provider string, timeout time.Duration, rps float64, maxTries uint, log *slog.Logger) *Fetcher {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if maxTries == 0 {
		maxTries = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		Provider:   provider,
		HTTPClient: &http.Client{Timeout: timeout},
		Limiter:    rate.NewLimiter(limit, 1),
		MaxTries:   maxTries,
		Log:        log.With("component", provider),
	}
}

// WithInitialInterval sets the first retry delay.
func (f *Fetcher) WithInitialInterval(d time.Duration) *Fetcher {
	f.initialInterval = d
	return f
}

// Do sends the request built by newReq and hands a 2xx body to decode. Network failures,
// 429 and 5xx responses are retried; other statuses and decode errors are permanent.
func (f *Fetcher) Do(ctx context.Context, newReq func(context.Context) (*http.Request, error), decode func(io.Reader) error) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			f.Log.Warn("retrying upstream request", "attempt", attempt)
		}
		if err := f.Limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		req, err := newReq(ctx)
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}

		start := time.Now()
		LogRequest(f.Log, req.Method, req.URL.Redacted())
		resp, err := f.HTTPClient.Do(req)
		if err != nil {
			LogError(f.Log, "fetch", err)
			if ctx.Err() != nil {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, fmt.Errorf("%s request: %w", f.Provider, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			serr := &StatusError{Provider: f.Provider, Code: resp.StatusCode, Body: string(body)}
			LogError(f.Log, "fetch", serr)
			if !serr.Retriable() {
				return struct{}{}, backoff.Permanent(serr)
			}
			if secs, perr := strconv.Atoi(resp.Header.Get("Retry-After")); perr == nil && secs > 0 {
				return struct{}{}, backoff.RetryAfter(secs)
			}
			return struct{}{}, serr
		}

		if err := decode(resp.Body); err != nil {
			LogError(f.Log, "decode", err)
			return struct{}{}, backoff.Permanent(fmt.Errorf("decode %s: %w", f.Provider, err))
		}
		LogResponse(f.Log, resp.StatusCode, time.Since(start))
		return struct{}{}, nil
	}, backoff.WithBackOff(f.backOff()), backoff.WithMaxTries(f.MaxTries))
	return unwrapPermanent(err)
}

func (f *Fetcher) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if f.initialInterval > 0 {
		b.InitialInterval = f.initialInterval
	}
	return b
}

func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	return err
}
