package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimitError marks a transient collaborator failure (429 or an
// overloaded backend). The retrier backs off and tries again; every other
// error kind is treated as fatal and returned immediately.
type RateLimitError struct {
	StatusCode int
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (status %d): %s", e.StatusCode, e.Message)
}

func (e *RateLimitError) Transient() bool { return true }

// transienter lets collaborator clients flag their own error types as
// retryable without importing this package's concrete types.
type transienter interface {
	Transient() bool
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var t transienter
	return errors.As(err, &t) && t.Transient()
}

// TransientHTTPStatus reports whether an HTTP status signals a condition
// worth retrying.
func TransientHTTPStatus(code int) bool {
	return code == 429 || code >= 500
}

// Retrier executes a blocking network call with bounded retries and
// exponential backoff (base * 2^attempt). One request is in flight at a
// time; the caller's goroutine sleeps between attempts.
type Retrier struct {
	MaxRetries  int
	BackoffBase time.Duration
	// Limiter, when set, gates every attempt. Shared across clients that
	// talk to the same vendor.
	Limiter *rate.Limiter
	Logger  *logrus.Logger
}

// NewRetrier builds a Retrier from run configuration.
func NewRetrier(cfg Config, logger *logrus.Logger) *Retrier {
	return &Retrier{
		MaxRetries:  cfg.MaxRetries,
		BackoffBase: cfg.BackoffBase,
		Limiter:     rate.NewLimiter(rate.Every(time.Second), 2),
		Logger:      logger,
	}
}

// RetryDo runs fn until it succeeds, fails fatally, or transient retries are
// exhausted. op names the call for logs and errors.
func RetryDo[T any](ctx context.Context, r *Retrier, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if r.Limiter != nil {
			if err := r.Limiter.Wait(ctx); err != nil {
				return zero, fmt.Errorf("%s: %w", op, err)
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !IsTransient(err) {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
		lastErr = err

		if attempt == r.MaxRetries {
			break
		}
		delay := r.BackoffBase << uint(attempt)
		if r.Logger != nil {
			r.Logger.WithFields(logrus.Fields{
				"op":      op,
				"attempt": attempt + 1,
				"delay":   delay.String(),
			}).Warnf("transient failure, retrying: %v", err)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}

	return zero, fmt.Errorf("%s: retries exhausted after %d attempts: %w", op, r.MaxRetries+1, lastErr)
}
