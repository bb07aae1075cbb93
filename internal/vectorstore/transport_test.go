package vectorstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/srimon12/rhythm-sentry/internal/config"
)

func testConfig(url string) *config.Config {
	return &config.Config{
		VectorDBURL:     url,
		Timeout:         2 * time.Second,
		MaxRetries:      3,
		RetryWaitMin:    1 * time.Millisecond,
		RetryWaitMax:    20 * time.Millisecond,
		MaxIdleConns:    10,
		IdleConnTimeout: 30 * time.Second,
		EnableRateLimit: false,
	}
}

func TestTransportDoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"result":"ok"}`))
	}))
	defer srv.Close()

	tr := newTransport(testConfig(srv.URL), zap.NewNop(), nil)
	resp, err := tr.do(context.Background(), &request{Method: http.MethodGet, Path: "/collections"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTransportRetriesOn503ThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var retries int
	tr := newTransport(testConfig(srv.URL), zap.NewNop(), func() { retries++ })
	resp, err := tr.do(context.Background(), &request{Method: http.MethodGet, Path: "/"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 2, retries)
}

func TestTransportGivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 2
	tr := newTransport(cfg, zap.NewNop(), nil)

	_, err := tr.do(context.Background(), &request{Method: http.MethodGet, Path: "/"})
	require.Error(t, err)
}

func TestTransportNonRetryableStatusReturnsImmediately(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	tr := newTransport(testConfig(srv.URL), zap.NewNop(), nil)
	resp, err := tr.do(context.Background(), &request{Method: http.MethodGet, Path: "/"})
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, int32(1), attempts.Load())
}

func TestParseRetryAfterSeconds(t *testing.T) {
	tr := newTransport(testConfig("http://example.invalid"), zap.NewNop(), nil)
	h := http.Header{"Retry-After": []string{"2"}}
	require.Equal(t, 2*time.Second, tr.parseRetryAfter(h))
}

func TestParseRetryAfterMissing(t *testing.T) {
	tr := newTransport(testConfig("http://example.invalid"), zap.NewNop(), nil)
	require.Equal(t, time.Duration(0), tr.parseRetryAfter(http.Header{}))
}

func TestShouldRetry(t *testing.T) {
	require.True(t, shouldRetry(http.StatusTooManyRequests))
	require.True(t, shouldRetry(http.StatusServiceUnavailable))
	require.False(t, shouldRetry(http.StatusOK))
	require.False(t, shouldRetry(http.StatusNotFound))
}
