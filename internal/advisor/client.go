package advisor

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/djlord-it/printfleet/internal/circuitbreaker"
	"github.com/djlord-it/printfleet/internal/metrics"
)

const (
	HeaderRequestID = "X-Printfleet-Request-ID"
	HeaderAttempt   = "X-Printfleet-Attempt"
	HeaderSignature = "X-Printfleet-Signature"
)

const maxResponseBytes = 4 << 20

var defaultBackoff = []time.Duration{
	0,
	500 * time.Millisecond,
	2 * time.Second,
	5 * time.Second,
}

var (
	// ErrRejected is returned when the advisor answers with a 4xx status.
	ErrRejected = errors.New("advisor rejected request")
	// ErrUnavailable is returned when every attempt failed.
	ErrUnavailable = errors.New("advisor unavailable")
)

// MetricsSink defines the interface for recording advisor metrics.
type MetricsSink interface {
	AdvisorAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	AdvisorOutcome(outcome string)
}

type Client struct {
	url         string
	secret      string
	timeout     time.Duration
	maxAttempts int
	backoff     []time.Duration
	http        *http.Client
	breaker     *circuitbreaker.CircuitBreaker
	metrics     MetricsSink
}

func NewClient(url, secret string) *Client {
	return &Client{
		url:         url,
		secret:      secret,
		timeout:     30 * time.Second,
		maxAttempts: len(defaultBackoff),
		backoff:     defaultBackoff,
		http:        &http.Client{},
	}
}

func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

func (c *Client) WithMaxAttempts(n int) *Client {
	if n > 0 {
		c.maxAttempts = n
	}
	return c
}

func (c *Client) WithBackoff(backoff []time.Duration) *Client {
	if len(backoff) > 0 {
		c.backoff = backoff
	}
	return c
}

func (c *Client) WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) *Client {
	c.breaker = cb
	return c
}

func (c *Client) WithMetrics(sink MetricsSink) *Client {
	c.metrics = sink
	return c
}

func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

type attemptResult struct {
	statusCode int
	body       []byte
	err        error
	duration   time.Duration
}

func (r attemptResult) success() bool {
	return r.err == nil && r.statusCode >= 200 && r.statusCode < 300
}

func (r attemptResult) retryable() bool {
	if r.err != nil {
		return true
	}
	return r.statusCode == http.StatusTooManyRequests || r.statusCode >= 500
}

// Propose sends req and decodes the advisor's proposals. Every attempt carries
// the same request id and body, so retries are safe.
func (c *Client) Propose(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("advisor: marshal request: %w", err)
	}
	signature := ComputeSignature(c.secret, body)

	var last attemptResult
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.wait(ctx, attempt); err != nil {
				return Response{}, err
			}
		}

		if c.breaker != nil {
			if err := c.breaker.Allow(c.url); err != nil {
				c.outcome(metrics.OutcomeAbandoned)
				return Response{}, fmt.Errorf("advisor: %w", err)
			}
		}

		last = c.send(ctx, req.ID, attempt, body, signature)
		if c.metrics != nil {
			c.metrics.AdvisorAttemptCompleted(attempt, metrics.ClassifyStatus(last.statusCode, last.err), last.duration)
		}

		if last.success() {
			c.recordBreaker(true)
			var resp Response
			if err := json.Unmarshal(last.body, &resp); err != nil {
				c.outcome(metrics.OutcomeFailed)
				return Response{}, fmt.Errorf("advisor: decode response: %w", err)
			}
			log.Printf("advisor: request=%s answered attempt=%d proposals=%d", req.ID, attempt, len(resp.Proposals))
			c.outcome(metrics.OutcomeSuccess)
			return resp, nil
		}

		if !last.retryable() {
			// A 4xx is an answer, not an endpoint failure.
			c.recordBreaker(true)
			log.Printf("advisor: request=%s rejected status=%d", req.ID, last.statusCode)
			c.outcome(metrics.OutcomeRejected)
			return Response{}, fmt.Errorf("%w: status %d", ErrRejected, last.statusCode)
		}

		c.recordBreaker(false)
		log.Printf("advisor: request=%s attempt=%d failed status=%d err=%v", req.ID, attempt, last.statusCode, last.err)
	}

	c.outcome(metrics.OutcomeFailed)
	if last.err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrUnavailable, last.err)
	}
	return Response{}, fmt.Errorf("%w: status %d", ErrUnavailable, last.statusCode)
}

func (c *Client) wait(ctx context.Context, attempt int) error {
	idx := attempt - 1
	if idx >= len(c.backoff) {
		idx = len(c.backoff) - 1
	}
	backoff := c.backoff[idx]
	if backoff <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) send(ctx context.Context, requestID string, attempt int, body []byte, signature string) attemptResult {
	start := time.Now()

	ctxTimeout, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return attemptResult{err: fmt.Errorf("create request: %w", err), duration: time.Since(start)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderRequestID, requestID)
	httpReq.Header.Set(HeaderAttempt, strconv.Itoa(attempt))
	httpReq.Header.Set(HeaderSignature, signature)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return attemptResult{err: fmt.Errorf("send: %w", err), duration: time.Since(start)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return attemptResult{statusCode: resp.StatusCode, err: fmt.Errorf("read response: %w", err), duration: time.Since(start)}
	}
	return attemptResult{statusCode: resp.StatusCode, body: data, duration: time.Since(start)}
}

func (c *Client) recordBreaker(ok bool) {
	if c.breaker == nil {
		return
	}
	if ok {
		c.breaker.RecordSuccess(c.url)
	} else {
		c.breaker.RecordFailure(c.url)
	}
}

func (c *Client) outcome(outcome string) {
	if c.metrics != nil {
		c.metrics.AdvisorOutcome(outcome)
	}
}

// ComputeSignature returns the hex HMAC-SHA256 of body under secret.
func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for advisors to authenticate incoming requests.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := ComputeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
