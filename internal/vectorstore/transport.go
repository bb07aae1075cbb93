// Package vectorstore implements the Vector-store Gateway: a typed RPC
// client over the vector database's HTTP API (Qdrant-shaped: named vectors,
// payload filters, scroll, search/groups, recommend), plus the collection
// and point operations the rest of the service builds on.
//
// The transport layer below is adapted from a retrying, rate-limited HTTP
// client used elsewhere in this codebase's lineage for a different external
// API; the retry/backoff/jitter and rate-limiting behavior is unchanged,
// only the authentication and URL-shaping concerns (which were specific to
// that API) have been dropped since the vector-store is an internal,
// unauthenticated collaborator in this deployment.
package vectorstore

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/srimon12/rhythm-sentry/internal/config"
)

// transport is the low-level retrying HTTP client used by Client.
type transport struct {
	httpClient  *http.Client
	cfg         *config.Config
	logger      *zap.Logger
	rateLimiter *rate.Limiter
	onRetry     func()
}

func newTransport(cfg *config.Config, logger *zap.Logger, onRetry func()) *transport {
	httpTransport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	httpClient := &http.Client{
		Transport: httpTransport,
		Timeout:   cfg.Timeout,
	}

	var limiter *rate.Limiter
	if cfg.EnableRateLimit {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)
	}

	return &transport{
		httpClient:  httpClient,
		cfg:         cfg,
		logger:      logger,
		rateLimiter: limiter,
		onRetry:     onRetry,
	}
}

// request describes one RPC to the vector-store.
type request struct {
	Method  string
	Path    string
	Query   map[string]string
	Body    interface{}
	Timeout time.Duration
}

// response is the decoded HTTP response.
type response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

func cryptoRandInt63() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	b[7] &= 0x7F
	var n int64
	for i := 0; i < 8; i++ {
		n |= int64(b[i]) << (8 * i)
	}
	return n
}

func cryptoRandDuration(maxVal int64) time.Duration {
	if maxVal <= 0 {
		return 0
	}
	return time.Duration(cryptoRandInt63() % maxVal)
}

// do executes an HTTP request with retry logic matching the gateway's
// resiliency budget (spec §5): capped exponential backoff with jitter,
// honoring Retry-After on 429s.
func (t *transport) do(ctx context.Context, req *request) (*response, error) {
	var lastErr error
	var lastResp *response

	for attempt := 0; attempt <= t.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			waitTime := t.calculateRetryWait(attempt, lastResp)
			if t.onRetry != nil {
				t.onRetry()
			}
			t.logger.Debug("retrying vector-store request",
				zap.Int("attempt", attempt),
				zap.Duration("wait", waitTime),
			)
			select {
			case <-time.After(waitTime):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := t.doRequest(ctx, req)
		if err != nil {
			lastErr = err
			lastResp = nil
			if isRetryable(err) {
				continue
			}
			return nil, err
		}

		if shouldRetry(resp.StatusCode) {
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(resp.Body))
			lastResp = resp
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (t *transport) calculateRetryWait(attempt int, lastResp *response) time.Duration {
	if lastResp != nil && lastResp.StatusCode == http.StatusTooManyRequests {
		if retryAfter := t.parseRetryAfter(lastResp.Headers); retryAfter > 0 {
			jitter := cryptoRandDuration(int64(retryAfter) / 4)
			waitTime := retryAfter + jitter
			if waitTime > t.cfg.RetryWaitMax {
				waitTime = t.cfg.RetryWaitMax
			}
			return waitTime
		}
	}

	shift := min(attempt-1, 30)
	baseWait := t.cfg.RetryWaitMin * time.Duration(1<<shift)
	if baseWait > t.cfg.RetryWaitMax {
		baseWait = t.cfg.RetryWaitMax
	}
	jitter := cryptoRandDuration(int64(baseWait) / 4)
	return baseWait + jitter
}

func (t *transport) parseRetryAfter(headers http.Header) time.Duration {
	retryAfter := headers.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
		if seconds > 0 && seconds <= time.Hour {
			return seconds
		}
		if seconds > time.Hour {
			return time.Hour
		}
	}

	httpDateFormats := []string{time.RFC1123, time.RFC1123Z, time.RFC850, time.ANSIC}
	for _, format := range httpDateFormats {
		if tm, err := time.Parse(format, retryAfter); err == nil {
			waitTime := time.Until(tm)
			if waitTime > 0 && waitTime <= time.Hour {
				return waitTime
			}
			if waitTime > time.Hour {
				return time.Hour
			}
		}
	}

	return 0
}

func (t *transport) doRequest(ctx context.Context, req *request) (*response, error) {
	if t.rateLimiter != nil {
		if err := t.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	requestURL := t.buildURL(req)

	var bodyReader io.Reader
	if req.Body != nil {
		bodyBytes, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	startTime := time.Now()
	httpResp, err := t.httpClient.Do(httpReq)
	duration := time.Since(startTime)
	if err != nil {
		t.logger.Error("vector-store request failed",
			zap.Error(err), zap.String("method", req.Method), zap.String("url", requestURL), zap.Duration("duration", duration))
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	t.logger.Debug("vector-store request completed",
		zap.String("method", req.Method), zap.String("url", requestURL),
		zap.Int("status", httpResp.StatusCode), zap.Duration("duration", duration))

	return &response{StatusCode: httpResp.StatusCode, Body: body, Headers: httpResp.Header}, nil
}

func (t *transport) buildURL(req *request) string {
	requestURL := t.cfg.VectorDBURL + req.Path
	if len(req.Query) > 0 {
		params := url.Values{}
		for k, v := range req.Query {
			params.Add(k, v)
		}
		requestURL = fmt.Sprintf("%s?%s", requestURL, params.Encode())
	}
	return requestURL
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var syscallErr *net.OpError
	if errors.As(err, &syscallErr) {
		if errors.Is(syscallErr.Err, syscall.ECONNREFUSED) ||
			errors.Is(syscallErr.Err, syscall.ECONNRESET) ||
			errors.Is(syscallErr.Err, syscall.ENETUNREACH) ||
			errors.Is(syscallErr.Err, syscall.EHOSTUNREACH) ||
			errors.Is(syscallErr.Err, syscall.ETIMEDOUT) {
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection reset", "connection refused", "no such host",
		"network is unreachable", "i/o timeout", "tls handshake timeout", "eof",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

func shouldRetry(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
