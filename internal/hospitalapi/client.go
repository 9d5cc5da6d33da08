// Package hospitalapi talks to the hospital's scheduling backends: the
// booking service (centers, rooms, scheduled surgeries) and the scheduler
// service (availability, staff, resources, stock, validation, submission).
package hospitalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/wolfman30/or-scheduler/internal/booking"
	"github.com/wolfman30/or-scheduler/internal/observability/metrics"
	"github.com/wolfman30/or-scheduler/pkg/logging"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultAttempts  = 3
	defaultBaseDelay = 200 * time.Millisecond
	maxRetryDelay    = 5 * time.Second
	maxErrorBody     = 300
)

// APIError is a non-2xx answer from a backend.
type APIError struct {
	Status int
	Path   string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hospitalapi: %s returned %d: %s", e.Path, e.Status, e.Body)
}

// Is lets errors.Is(err, booking.ErrNotFound) match 404 answers.
func (e *APIError) Is(target error) bool {
	return target == booking.ErrNotFound && e.Status == http.StatusNotFound
}

// Temporary reports whether the call may succeed when repeated.
func (e *APIError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// Config configures a Client.
type Config struct {
	BookingBaseURL   string
	SchedulerBaseURL string
	HospitalID       string
	Token            string
	Timeout          time.Duration
	MaxAttempts      int
	BaseDelay        time.Duration
	// RatePerSecond throttles outbound calls; zero disables throttling.
	RatePerSecond float64
	Location      *time.Location
}

// Client is the remote implementation of booking.Backend.
type Client struct {
	httpClient    *http.Client
	bookingBase   string
	schedulerBase string
	hospitalID    string
	token         string
	maxAttempts   int
	baseDelay     time.Duration
	limiter       *rate.Limiter
	registry      *booking.IDRegistry
	loc           *time.Location
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
	metrics       *metrics.SchedulerMetrics
	logger        *logging.Logger
}

var _ booking.Backend = (*Client)(nil)

// New constructs a Client. registry numbers booking-service centers for the
// scheduler side and must be shared with everything reading those ids.
func New(cfg Config, registry *booking.IDRegistry, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	if registry == nil {
		registry = booking.NewIDRegistry()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	delay := cfg.BaseDelay
	if delay <= 0 {
		delay = defaultBaseDelay
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	c := &Client{
		httpClient:    &http.Client{Timeout: timeout},
		bookingBase:   strings.TrimRight(cfg.BookingBaseURL, "/"),
		schedulerBase: strings.TrimRight(cfg.SchedulerBaseURL, "/"),
		hospitalID:    cfg.HospitalID,
		token:         cfg.Token,
		maxAttempts:   attempts,
		baseDelay:     delay,
		registry:      registry,
		loc:           loc,
		now:           time.Now,
		sleep:         sleepContext,
		logger:        logger,
	}
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return c
}

// WithHTTPClient swaps the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.httpClient = hc
	}
	return c
}

// WithMetrics records backend call outcomes.
func (c *Client) WithMetrics(m *metrics.SchedulerMetrics) *Client {
	c.metrics = m
	return c
}

// WithClock overrides the clock used to derive booking status.
func (c *Client) WithClock(now func() time.Time) *Client {
	if now != nil {
		c.now = now
	}
	return c
}

func (c *Client) Name() string { return "remote" }

// call performs one idempotent backend operation with throttling and bounded
// retries on transport failures and 5xx/429 answers.
func (c *Client) call(ctx context.Context, op, method, endpoint string, body, out any, headers map[string]string) error {
	return c.invoke(ctx, op, method, endpoint, body, out, headers, true)
}

// callOnce performs an operation the backend may not deduplicate. It is
// repeated only when no connection could be opened; a transport failure
// after that is reported as booking.ErrOutcomeUnknown.
func (c *Client) callOnce(ctx context.Context, op, method, endpoint string, body, out any, headers map[string]string) error {
	return c.invoke(ctx, op, method, endpoint, body, out, headers, false)
}

func (c *Client) invoke(ctx context.Context, op, method, endpoint string, body, out any, headers map[string]string, replayable bool) error {
	started := time.Now()
	var err error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if serr := c.sleep(ctx, c.nextDelay(attempt-1)); serr != nil {
				err = serr
				break
			}
		}
		if c.limiter != nil {
			if werr := c.limiter.Wait(ctx); werr != nil {
				err = werr
				break
			}
		}
		err = c.doJSON(ctx, method, endpoint, body, out, headers, replayable)
		if err == nil {
			break
		}
		if !replayable && !notSent(ctx, err) {
			if errors.Is(err, errTransport) || errors.Is(err, errDecode) {
				err = fmt.Errorf("%w: %w", booking.ErrOutcomeUnknown, err)
			}
			break
		}
		if replayable && !retryable(ctx, err) {
			break
		}
		c.logger.Warn("hospital backend call failed, retrying", "operation", op, "attempt", attempt+1, "error", err)
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.metrics.ObserveBackend(op, outcome, time.Since(started).Seconds())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Client) nextDelay(attempt int) time.Duration {
	delay := c.baseDelay * time.Duration(1<<attempt)
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, errTransport)
}

// notSent reports a failure to open the connection, before any request
// bytes could reach the backend.
func notSent(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

var (
	errTransport = errors.New("transport failure")
	errDecode    = errors.New("undecodable response")
)

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, out any, headers map[string]string, replayable bool) error {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if !replayable {
		// net/http replays requests carrying Idempotency-Key on reused
		// connections when it can rewind the body.
		req.GetBody = nil
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w: %w", errTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w: %w", errTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(respBody)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		path := req.URL.Path
		c.logger.Warn("hospital API non-2xx response", "status", resp.StatusCode, "path", path, "body", msg)
		return &APIError{Status: resp.StatusCode, Path: path, Body: msg}
	}

	if len(respBody) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w: %w", errDecode, err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
