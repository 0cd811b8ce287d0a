// Package httpclient provides a single retrying HTTP entry point used by all
// remote embedding backends. It wraps timeout, exponential backoff,
// 429/5xx handling, Retry-After honoring, and quota-exhaustion detection.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/codeindex/codeindex/internal/apperrors"
)

// Policy configures retry behavior for a single Fetch call.
type Policy struct {
	MaxRetries           int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	Timeout              time.Duration
	MaxResponseSizeBytes int64
}

// DefaultPolicy returns sensible defaults: 3 retries, 500ms base delay
// doubling up to 30s, 60s per-attempt timeout, 10MB response cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:           3,
		BaseDelay:            500 * time.Millisecond,
		MaxDelay:             30 * time.Second,
		Timeout:              60 * time.Second,
		MaxResponseSizeBytes: 10 << 20,
	}
}

// quotaPhrases are substrings that mark a 429 response body as a terminal
// quota exhaustion rather than a transient rate limit.
var quotaPhrases = []string{
	"exceeded your current quota",
	"resource_exhausted",
	"daily limit",
	"monthly limit",
	"billing",
}

// Result is a successful (non-erroring) HTTP response body, already read
// and size-capped.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// QuotaExhausted is set when a 429 response body matched a known
	// quota-exhaustion phrase and was therefore returned without retrying.
	QuotaExhausted bool
}

// Fetch performs an HTTP request with retry, honoring policy. reqBody may be
// nil. The returned error is always an *apperrors.Error (KindTransport,
// KindQuota, KindBackend, or KindValidation for an unbuildable request or
// an oversized response).
func Fetch(ctx context.Context, client *http.Client, method, url string, header http.Header, reqBody []byte, policy Policy) (*Result, error) {
	if client == nil {
		client = http.DefaultClient
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		result, retryDelay, retryable, err := attemptOnce(ctx, client, method, url, header, reqBody, policy, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryable {
			// Quota-exhaustion errors still carry the response body (result)
			// so the caller can log/inspect it, even though err is non-nil.
			return result, err
		}
		if attempt >= policy.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, apperrors.Wrap(apperrors.KindTransport, ctx.Err())
		case <-time.After(retryDelay):
		}
	}

	return nil, apperrors.Wrapf(apperrors.KindTransport, lastErr, "retries exhausted after %d attempts", policy.MaxRetries+1)
}

// attemptOnce performs one HTTP attempt. It returns (result, nextDelay,
// retryable, err). When err is non-nil and retryable is false, the caller
// must return immediately (non-retryable class, e.g. 4xx other than 408/429,
// or quota exhaustion communicated via result.QuotaExhausted).
func attemptOnce(ctx context.Context, client *http.Client, method, url string, header http.Header, reqBody []byte, policy Policy, attempt int) (*Result, time.Duration, bool, error) {
	deadline := policy.Timeout
	if deadline <= 0 {
		deadline = 60 * time.Second
	}
	attemptCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var body io.Reader
	if reqBody != nil {
		body = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, url, body)
	if err != nil {
		return nil, 0, false, apperrors.Wrap(apperrors.KindValidation, err)
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		if isRetryableTransportErr(err) {
			return nil, backoffDelay(policy, attempt), true, apperrors.Wrap(apperrors.KindTransport, err)
		}
		return nil, 0, false, apperrors.Wrap(apperrors.KindTransport, err)
	}
	defer resp.Body.Close()

	if policy.MaxResponseSizeBytes > 0 && resp.ContentLength > policy.MaxResponseSizeBytes {
		return nil, 0, false, apperrors.New(apperrors.KindValidation,
			fmt.Sprintf("response Content-Length %d exceeds cap %d", resp.ContentLength, policy.MaxResponseSizeBytes))
	}

	limit := policy.MaxResponseSizeBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, backoffDelay(policy, attempt), true, apperrors.Wrap(apperrors.KindTransport, err)
	}
	if int64(len(data)) > limit {
		return nil, 0, false, apperrors.New(apperrors.KindValidation, "response body exceeded max size cap")
	}

	result := &Result{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return result, 0, false, nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		if containsQuotaPhrase(data) {
			result.QuotaExhausted = true
			return result, 0, false, apperrors.New(apperrors.KindQuota, "quota exhausted").WithDetail("status", "429")
		}
		return nil, retryAfterDelay(resp.Header, policy, attempt), true,
			apperrors.New(apperrors.KindTransport, "rate limited (429)").WithDetail("status", "429")
	}

	if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500 {
		return nil, backoffDelay(policy, attempt), true,
			apperrors.New(apperrors.KindTransport, fmt.Sprintf("retryable status %d", resp.StatusCode)).WithDetail("body", truncate(data, 256))
	}

	// Non-retryable 4xx.
	return nil, 0, false, apperrors.New(apperrors.KindBackend, fmt.Sprintf("non-retryable status %d", resp.StatusCode)).WithDetail("body", truncate(data, 256))
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n]
	}
	return s
}

func containsQuotaPhrase(body []byte) bool {
	lower := strings.ToLower(string(body))
	for _, phrase := range quotaPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// retryableTransportSubstrings are substrings of transport-level error
// messages (connection refused, aborted, timeout, generic network failures)
// treated as retryable, per spec.
var retryableTransportSubstrings = []string{
	"connection refused",
	"econnrefused",
	"connection reset",
	"broken pipe",
	"timeout",
	"deadline exceeded",
	"context deadline exceeded",
	"eof",
	"no such host",
	"network is unreachable",
	"aborted",
}

func isRetryableTransportErr(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range retryableTransportSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// backoffDelay computes exponential backoff: min(base * 2^attempt, max).
func backoffDelay(policy Policy, attempt int) time.Duration {
	base := policy.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxDelay := policy.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

// retryAfterDelay computes the 429 retry delay: honors Retry-After (seconds
// or HTTP-date) plus small jitter, capped at MaxDelay; falls back to at
// least 2x the base exponential delay when absent.
func retryAfterDelay(header http.Header, policy Policy, attempt int) time.Duration {
	maxDelay := policy.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	if ra := header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(ra)); err == nil && secs >= 0 {
			delay := time.Duration(secs)*time.Second + jitter()
			if delay > maxDelay {
				delay = maxDelay
			}
			return delay
		}
		if t, err := http.ParseTime(ra); err == nil {
			delay := time.Until(t) + jitter()
			if delay < 0 {
				delay = jitter()
			}
			if delay > maxDelay {
				delay = maxDelay
			}
			return delay
		}
	}

	// No Retry-After: use a larger base (at least 2x baseDelay).
	larger := policy
	if larger.BaseDelay < 2*policy.BaseDelay {
		larger.BaseDelay = 2 * policy.BaseDelay
	}
	return backoffDelay(larger, attempt)
}

func jitter() time.Duration {
	return time.Duration(rand.Intn(250)) * time.Millisecond
}
