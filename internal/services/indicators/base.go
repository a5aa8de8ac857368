// Package indicators holds the shared fetch plumbing for snapshot and exposure
// providers: throttling, error classification and bounded retries.
package indicators

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"SignalGate/internal/domain/repository"
	"SignalGate/internal/service/ratelimit"
	xhttp "SignalGate/pkg/http"
)

// RetryPolicy bounds retries of rate-limited or unavailable provider calls.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultRetryPolicy retries three times starting at 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second}
}

// ProviderError tags a provider failure with a repository sentinel.
type ProviderError struct {
	Kind       error
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, repository.ErrRateLimited) || errors.Is(err, repository.ErrProviderUnavailable)
}

// Classify maps HTTP 429 to ErrRateLimited, 5xx and transport failures to
// ErrProviderUnavailable. Anything else is returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusTooManyRequests:
			return &ProviderError{Kind: repository.ErrRateLimited, RetryAfter: se.RetryAfter, Err: err}
		case se.StatusCode >= 500:
			return &ProviderError{Kind: repository.ErrProviderUnavailable, RetryAfter: se.RetryAfter, Err: err}
		}
		return err
	}
	var ue *url.Error
	if errors.As(err, &ue) && !errors.Is(err, context.Canceled) {
		return &ProviderError{Kind: repository.ErrProviderUnavailable, Err: err}
	}
	return err
}

// Do runs fn until it succeeds, fails with a non-retryable error or the policy
// is exhausted. The wait doubles from Backoff; a longer Retry-After wins.
func Do(ctx context.Context, p RetryPolicy, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	wait := p.Backoff
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !Retryable(err) {
			return err
		}
		if attempt >= attempts {
			return fmt.Errorf("after %d attempts: %w", attempt, err)
		}

		d := wait
		var pe *ProviderError
		if errors.As(err, &pe) && pe.RetryAfter > d {
			d = pe.RetryAfter
		}
		if p.MaxBackoff > 0 && d > p.MaxBackoff {
			d = p.MaxBackoff
		}
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
		wait *= 2
	}
}

// HTTPServiceBase is the common foundation of HTTP backed providers.
type HTTPServiceBase struct {
	client   *xhttp.Client
	limiter  *ratelimit.Limiter
	limitKey string
	policy   RetryPolicy
}

// NewHTTPServiceBase wraps client. A nil limiter disables throttling.
func NewHTTPServiceBase(client *xhttp.Client, limiter *ratelimit.Limiter, policy RetryPolicy) *HTTPServiceBase {
	key := client.BaseURL()
	if u, err := url.Parse(key); err == nil && u.Host != "" {
		key = u.Host
	}
	return &HTTPServiceBase{client: client, limiter: limiter, limitKey: key, policy: policy}
}

// GetJSON performs one throttled GET and decodes the body into dest.
func (b *HTTPServiceBase) GetJSON(ctx context.Context, path string, query url.Values, dest interface{}) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx, b.limitKey); err != nil {
			return fmt.Errorf("throttle %s: %w", path, err)
		}
	}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      http.MethodGet,
		Path:        path,
		QueryParams: query,
	}, dest)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, Classify(err))
	}
	return nil
}

// GetJSONWithRetry is GetJSON under the base retry policy.
func (b *HTTPServiceBase) GetJSONWithRetry(ctx context.Context, path string, query url.Values, dest interface{}) error {
	return Do(ctx, b.policy, func(ctx context.Context) error {
		return b.GetJSON(ctx, path, query, dest)
	})
}
