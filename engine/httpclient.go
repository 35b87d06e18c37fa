package engine

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/personabench/personabench/logger"
)

// retryAfterStaleness is how long a captured Retry-After value stays usable.
const retryAfterStaleness = 60 * time.Second

// RetryAfterHTTPClient wraps an http.Client to capture Retry-After headers
// from 429 responses. LangChainGo surfaces rate limit failures only as error
// strings, so the header has to be intercepted at the transport level for
// the retry logic to honor the server's requested wait.
type RetryAfterHTTPClient struct {
	wrapped *http.Client

	mu             sync.RWMutex
	lastRetryAfter time.Duration
	lastCapturedAt time.Time
}

// NewRetryAfterHTTPClient wraps the given client. A nil client gets a
// default with a 30 second timeout.
func NewRetryAfterHTTPClient(wrapped *http.Client) *RetryAfterHTTPClient {
	if wrapped == nil {
		wrapped = &http.Client{Timeout: 30 * time.Second}
	}
	return &RetryAfterHTTPClient{wrapped: wrapped}
}

// Do satisfies the Doer interface LangChainGo accepts as an HTTP client.
func (c *RetryAfterHTTPClient) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.wrapped.Do(req)
	if err != nil {
		return resp, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		if retryAfter := retryAfterFromHeaders(resp); retryAfter > 0 {
			c.mu.Lock()
			c.lastRetryAfter = retryAfter
			c.lastCapturedAt = time.Now()
			c.mu.Unlock()
			logger.Logger.Debug("Captured Retry-After from 429 response",
				"retry_after_seconds", retryAfter.Seconds())
		}
	}

	return resp, nil
}

// GetLastRetryAfter returns the most recent captured value and its capture
// time, or zero values if nothing was captured or the value went stale.
func (c *RetryAfterHTTPClient) GetLastRetryAfter() (time.Duration, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if time.Since(c.lastCapturedAt) > retryAfterStaleness {
		return 0, time.Time{}
	}
	return c.lastRetryAfter, c.lastCapturedAt
}

// ClearRetryAfter drops the cached value so it is not reused for an
// unrelated request.
func (c *RetryAfterHTTPClient) ClearRetryAfter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRetryAfter = 0
	c.lastCapturedAt = time.Time{}
}

// retryAfterFromHeaders prefers the millisecond-precision retry-after-ms
// header (Azure OpenAI) over the standard Retry-After seconds/HTTP-date form.
func retryAfterFromHeaders(resp *http.Response) time.Duration {
	if msValue := resp.Header.Get("retry-after-ms"); msValue != "" {
		if ms, err := strconv.Atoi(strings.TrimSpace(msValue)); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return parseRetryAfter(resp.Header.Get("Retry-After"))
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	for _, format := range []string{time.RFC1123, time.RFC1123Z} {
		if t, err := time.Parse(format, value); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
			return time.Second
		}
	}

	logger.Logger.Warn("Could not parse Retry-After header", "value", value)
	return 0
}

// RetryAfterProvider exposes captured Retry-After values to the retry logic.
type RetryAfterProvider interface {
	GetLastRetryAfter() (time.Duration, time.Time)
	ClearRetryAfter()
}
