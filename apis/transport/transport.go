package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"climate/observability"
)

// Config controls the HTTP client and its resilience settings.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	Retries       int
	BackoffFactor time.Duration
	MaxBackoff    time.Duration
	RetryStatuses []int

	// BreakerThreshold is the number of consecutive failed attempts that
	// opens the circuit. Zero disables the breaker.
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

var supportedMethods = map[string]struct{}{
	http.MethodGet:   {},
	http.MethodPatch: {},
	http.MethodPut:   {},
}

var errRetryableStatus = errors.New("retryable status")

// Client issues JSON requests against the report service, retrying
// connection failures and the configured statuses with exponential backoff.
type Client struct {
	rest    *resty.Client
	cfg     Config
	retryOn map[int]struct{}
	breaker *gobreaker.CircuitBreaker
	clock   clockwork.Clock
	metrics *observability.Metrics
	logger  *slog.Logger
}

type Option func(*Client)

// WithClock replaces the clock used for backoff waits.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *Client) { c.metrics = metrics }
}

func New(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		retryOn: make(map[int]struct{}, len(cfg.RetryStatuses)),
		clock:   clockwork.NewRealClock(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observability.NewMetrics()
	}
	for _, status := range cfg.RetryStatuses {
		c.retryOn[status] = struct{}{}
	}

	c.rest = resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetLogger(restyLogger{logger: logger})

	if cfg.BreakerThreshold > 0 {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "report-service",
			MaxRequests: 1,
			Timeout:     cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
				if to == gobreaker.StateOpen {
					c.metrics.BreakerOpen.Set(1)
				} else {
					c.metrics.BreakerOpen.Set(0)
				}
			},
		})
	}

	return c
}

// Request sends method to path (relative to the base URL) with an optional
// JSON body. Connection failures and retryable statuses are retried up to
// cfg.Retries times. When retries run out on a retryable status the last
// response is returned for the caller to Validate.
func (c *Client) Request(ctx context.Context, method, path string, body any) (*resty.Response, error) {
	method = strings.ToUpper(method)
	if _, ok := supportedMethods[method]; !ok {
		c.logger.Error("request method is not valid", "method", method, "path", path)
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}

	var (
		resp *resty.Response
		err  error
	)

	attempts := 0
	for {
		resp, err = c.attempt(ctx, method, path, body, attempts+1)
		attempts++

		if errors.Is(err, ErrCircuitOpen) || !c.shouldRetry(ctx, resp, err) || attempts > c.cfg.Retries {
			break
		}

		delay := Backoff(c.cfg.BackoffFactor, c.cfg.MaxBackoff, attempts)
		c.logger.Warn("retrying request",
			"method", method,
			"path", path,
			"attempt", attempts+1,
			"delay", delay,
			"reason", retryReason(resp, err),
		)
		c.metrics.Retries.WithLabelValues(method).Inc()

		if werr := c.wait(ctx, delay); werr != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, werr)
		}
	}

	if err != nil {
		c.logger.Error("request to the api failed", "method", method, "path", path, "attempts", attempts, "error", err)
		return nil, fmt.Errorf("%s %s: after %d attempts: %w", method, path, attempts, err)
	}

	if c.retryable(resp.StatusCode()) {
		c.logger.Error("request to the api failed", "method", method, "path", path, "attempts", attempts, "status", resp.StatusCode())
		return resp, nil
	}

	c.logger.Info("request to the api completed", "method", method, "path", path, "status", resp.StatusCode())
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, method, path string, body any, n int) (*resty.Response, error) {
	requestID := uuid.NewString()
	req := c.rest.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID)
	if body != nil {
		req.SetBody(body)
	}

	c.logger.Info("sending request", "method", method, "path", path, "attempt", n, "request_id", requestID)

	var resp *resty.Response
	start := c.clock.Now()
	err := c.execute(func() error {
		var err error
		resp, err = req.Execute(method, path)
		if err != nil {
			return err
		}
		if c.retryable(resp.StatusCode()) {
			return fmt.Errorf("%w: %d", errRetryableStatus, resp.StatusCode())
		}
		return nil
	})
	c.metrics.RequestDuration.WithLabelValues(method).Observe(c.clock.Since(start).Seconds())

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.metrics.Requests.WithLabelValues(method, "circuit_open").Inc()
		return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	case errors.Is(err, errRetryableStatus):
		c.metrics.Requests.WithLabelValues(method, statusClass(resp.StatusCode())).Inc()
		return resp, nil
	case err != nil:
		c.metrics.Requests.WithLabelValues(method, "error").Inc()
		return nil, err
	}

	c.metrics.Requests.WithLabelValues(method, statusClass(resp.StatusCode())).Inc()
	return resp, nil
}

func (c *Client) execute(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func (c *Client) shouldRetry(ctx context.Context, resp *resty.Response, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		return true
	}
	return c.retryable(resp.StatusCode())
}

func (c *Client) retryable(status int) bool {
	_, ok := c.retryOn[status]
	return ok
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}

// Backoff returns the wait before the given retry (1-based):
// factor * 2^(retry-1), capped at maxBackoff when it is positive.
func Backoff(factor, maxBackoff time.Duration, retry int) time.Duration {
	if retry < 1 || factor <= 0 {
		return 0
	}
	d := factor
	for i := 1; i < retry; i++ {
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
		if maxBackoff > 0 && d >= maxBackoff {
			return maxBackoff
		}
	}
	if maxBackoff > 0 && d > maxBackoff {
		return maxBackoff
	}
	return d
}

func retryReason(resp *resty.Response, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("status %d", resp.StatusCode())
}

func statusClass(status int) string {
	return fmt.Sprintf("%dxx", status/100)
}

// restyLogger routes resty's internal messages into slog.
type restyLogger struct {
	logger *slog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "resty")
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "resty")
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "resty")
}
