package indicators

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalGate/internal/domain/repository"
	xhttp "SignalGate/pkg/http"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rate limited", &xhttp.StatusError{StatusCode: 429}, repository.ErrRateLimited},
		{"server error", &xhttp.StatusError{StatusCode: 503}, repository.ErrProviderUnavailable},
		{"bad request", &xhttp.StatusError{StatusCode: 400}, nil},
		{"other", errors.New("decode json"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if tt.want == nil {
				assert.False(t, Retryable(got))
				return
			}
			assert.ErrorIs(t, got, tt.want)
			assert.True(t, Retryable(got))
		})
	}
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &ProviderError{Kind: repository.ErrRateLimited, Err: errors.New("429")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(context.Context) error {
		calls++
		return &ProviderError{Kind: repository.ErrRateLimited, Err: errors.New("429")}
	})
	assert.ErrorIs(t, err, repository.ErrRateLimited)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	boom := errors.New("bad symbol")
	err := Do(context.Background(), fastPolicy(), func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{Attempts: 5, Backoff: time.Hour}
	err := Do(ctx, p, func(context.Context) error {
		cancel()
		return &ProviderError{Kind: repository.ErrProviderUnavailable, Err: errors.New("503")}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPServiceBaseRetriesRateLimit(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	b := NewHTTPServiceBase(xhttp.NewClient(srv.URL), nil, fastPolicy())
	var out struct {
		OK bool `json:"ok"`
	}
	err := b.GetJSONWithRetry(context.Background(), "/v1/x", map[string][]string{"symbol": {"BTCUSDT"}}, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}
