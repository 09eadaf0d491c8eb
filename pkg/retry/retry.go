// Package retry provides a small exponential backoff helper for the
// transient errkind.Unavailable failures that storage and transport
// calls surface.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/codeready-toolchain/sessionctl/pkg/errkind"
)

// Policy configures an exponential backoff with jitter.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultPolicy makes at most 5 attempts, doubling the backoff from
// 100ms (so at most 100ms, 200ms, 400ms, 800ms); 5s caps any single wait.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		MaxAttempts: 5,
	}
}

// Do invokes fn, retrying only errkind.Unavailable failures with
// exponential backoff and full jitter. Any other error, including a
// non-errkind one, is returned immediately, since retrying would not
// help a malformed request or a denied one. Ctx cancellation aborts the
// wait between attempts.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !errkind.Is(err, errkind.Unavailable) {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}
	return err
}

// delay computes the backoff for the given zero-based attempt number:
// base*2^attempt, capped at MaxDelay, with up to 50% jitter subtracted.
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay << attempt
	if d <= 0 || d > p.MaxDelay {
		d = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d - jitter
}
