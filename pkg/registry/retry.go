package registry

import (
	"context"
	"time"

	"github.com/matzehuels/luam/pkg/observability"
)

// Default retry policy.
const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 200 * time.Millisecond
)

// RetryPolicy bounds how often a transient store failure is retried.
type RetryPolicy struct {
	Attempts int           // Total attempts including the first (default: 3)
	Delay    time.Duration // Initial backoff, doubled after each failure (default: 200ms)
}

// WithDefaults returns a copy of p with zero values replaced by defaults.
func (p RetryPolicy) WithDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultRetryAttempts
	}
	if p.Delay <= 0 {
		p.Delay = DefaultRetryDelay
	}
	return p
}

// Retry executes fn up to p.Attempts times with exponential backoff.
// It only retries errors wrapped with [Retryable]; other errors, including
// [ErrNotFound], are returned immediately. Returns the last error if all
// attempts fail, or ctx.Err() if cancelled while waiting.
func Retry(ctx context.Context, p RetryPolicy, op string, fn func() error) error {
	p = p.WithDefaults()
	delay := p.Delay
	var lastErr error

	for i := range p.Attempts {
		if err := fn(); err == nil {
			return nil
		} else if lastErr = err; !IsRetryable(err) {
			return err
		}

		if i < p.Attempts-1 {
			observability.Store().OnRetry(ctx, op, i+1, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}
	}
	return lastErr
}

// WithRetry wraps a metadata provider so transient failures are retried
// under p.
func WithRetry(m MetadataProvider, p RetryPolicy) MetadataProvider {
	return &retryingMetadata{inner: m, policy: p.WithDefaults()}
}

// PayloadWithRetry wraps a payload provider so transient failures are
// retried under p.
func PayloadWithRetry(s PayloadProvider, p RetryPolicy) PayloadProvider {
	return &retryingPayload{inner: s, policy: p.WithDefaults()}
}

type retryingMetadata struct {
	inner  MetadataProvider
	policy RetryPolicy
}

func (r *retryingMetadata) Get(ctx context.Context, name, version string) (*Record, error) {
	var rec *Record
	err := Retry(ctx, r.policy, "metadata.get", func() (err error) {
		rec, err = r.inner.Get(ctx, name, version)
		return err
	})
	return rec, err
}

func (r *retryingMetadata) VersionHistory(ctx context.Context, name string) ([]string, error) {
	var history []string
	err := Retry(ctx, r.policy, "metadata.history", func() (err error) {
		history, err = r.inner.VersionHistory(ctx, name)
		return err
	})
	return history, err
}

type retryingPayload struct {
	inner  PayloadProvider
	policy RetryPolicy
}

func (r *retryingPayload) Get(ctx context.Context, name, version string) ([]byte, error) {
	var data []byte
	err := Retry(ctx, r.policy, "payload.get", func() (err error) {
		data, err = r.inner.Get(ctx, name, version)
		return err
	})
	return data, err
}
