package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"github.com/sethvargo/go-retry"

	"github.com/skquievreux/Speechering/internal/config"
)

// RetryExhaustedError is returned when every attempt failed with a retryable error.
type RetryExhaustedError struct {
	Attempts int
	MaxRetry int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("exceeded max retries (%d) after %d attempts: %v", e.MaxRetry, e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// RetryPolicy controls attempts against one remote backend.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
	// OnRetry is called before each backoff wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// RetryPolicyFrom reads the policy from the config.
func RetryPolicyFrom(cfg config.Config) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxRetry,
		BaseDelay:   cfg.RetryDelay(),
		Timeout:     cfg.Timeout(),
	}
}

func (p RetryPolicy) backoff() retry.Backoff {
	if p.BaseDelay <= 0 {
		return retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	}
	return retry.NewExponential(p.BaseDelay)
}

// Run calls fn until it succeeds, fails permanently or attempts run out.
// Each attempt gets its own timeout. Only errors for which Retryable is true
// are retried.
func (p RetryPolicy) Run(ctx context.Context, log zerolog.Logger, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	inner := retry.WithMaxRetries(uint64(maxAttempts-1), p.backoff())

	attempts := 0
	var lastErr error
	b := retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := inner.Next()
		if !stop {
			log.Debug().Int("attempt", attempts).Dur("delay", d).Err(lastErr).Msg("retrying")
			if p.OnRetry != nil {
				p.OnRetry(attempts, d, lastErr)
			}
		}
		return d, stop
	})

	exhausted := false
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		actx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		err := fn(actx)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() == nil && Retryable(err) {
			exhausted = attempts >= maxAttempts
			return retry.RetryableError(err)
		}
		exhausted = false
		return err
	})
	if err == nil {
		return nil
	}
	if exhausted {
		return &RetryExhaustedError{Attempts: attempts, MaxRetry: maxAttempts, Last: lastErr}
	}
	return err
}

// Retryable reports network errors, timeouts, 408, 429 and 5xx.
func Retryable(err error) bool {
	if errors.Is(err, ErrPayloadTooLarge) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return retryableStatus(se.Code)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}
