// Package httpretry implements the §7 retry policy (base 500ms, factor 2,
// cap 8s, max 3 attempts) as a reusable wrapper, grounded on the teacher's
// httpclient.Client options pattern — kept as shared code rather than
// duplicated per Completion Interface provider.
package httpretry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/uxmcp/uxmcp/pkg/uxerr"
)

// Policy is the exponential-backoff schedule. Zero value is invalid; use
// Default.
type Policy struct {
	BaseDelay   time.Duration
	Factor      float64
	Cap         time.Duration
	MaxAttempts int
}

func Default() Policy {
	return Policy{
		BaseDelay:   500 * time.Millisecond,
		Factor:      2,
		Cap:         8 * time.Second,
		MaxAttempts: 3,
	}
}

// delay returns the backoff before attempt n (1-indexed), with up to 20%
// jitter so concurrent retries don't thunder in lockstep.
func (p Policy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt-1))
	if d > float64(p.Cap) {
		d = float64(p.Cap)
	}
	jitter := d * 0.2 * rand.Float64()
	return time.Duration(d + jitter)
}

// Do runs fn, retrying only when it returns an error whose uxerr.Kind is
// retryable (ProviderRateLimited, ProviderUnavailable per §7). Any other
// error, or exhausting MaxAttempts, returns the last error unwrapped.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !uxerr.Retryable(uxerr.KindOf(lastErr)) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}
	return lastErr
}
