package httputil

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"time"
)

type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

type RetryClient struct {
	client *http.Client
	config RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// WithDefaults fills zero fields from DefaultRetryConfig. A negative
// MaxRetries disables retries.
func (c RetryConfig) WithDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = def.Multiplier
	}
	return c
}

// Delay returns the jittered wait before retry number attempt (zero based).
func (c RetryConfig) Delay(attempt int) time.Duration {
	delay := c.InitialDelay
	for i := 0; i < attempt; i++ {
		delay = min(time.Duration(float64(delay)*c.Multiplier), c.MaxDelay)
	}
	return applyJitter(delay)
}

func NewRetryClient(client *http.Client, config RetryConfig) *RetryClient {
	if client == nil {
		client = http.DefaultClient
	}

	return &RetryClient{
		client: client,
		config: config.WithDefaults(),
		sleep:  Sleep,
	}
}

func (c *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if req.GetBody != nil {
				body, bodyErr := req.GetBody()
				if bodyErr != nil {
					return nil, bodyErr
				}
				req.Body = body
			}

			if sleepErr := c.sleep(req.Context(), c.config.Delay(attempt-1)); sleepErr != nil {
				return nil, sleepErr
			}
		}

		resp, err = c.client.Do(req)
		if !ShouldRetry(resp, err) {
			return resp, err
		}

		if req.Context().Err() != nil {
			return resp, err
		}

		if resp != nil && attempt < c.config.MaxRetries {
			_ = resp.Body.Close()
		}
	}

	return resp, err
}

// ShouldRetry reports whether a response or transport error is worth another
// attempt: network failures, 429 and 5xx.
func ShouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return IsNetworkError(err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}

	return resp.StatusCode >= 500 && resp.StatusCode < 600
}

func IsNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func applyJitter(delay time.Duration) time.Duration {
	jitterFactor := 0.9 + rand.Float64()*0.2
	return time.Duration(float64(delay) * jitterFactor)
}
