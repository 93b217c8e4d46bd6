package gateway

import (
	"context"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RETRY POLICY - Bounded retries with a per-attempt delay schedule
// ═══════════════════════════════════════════════════════════════════════════════

// Policy describes a bounded retry: how many attempts, and how long to wait
// between them. Per-attempt parameters (slippage tiers etc.) live with the
// caller, indexed by attempt number.
type Policy struct {
	MaxAttempts int
	Delays      []time.Duration
}

// Delay returns the wait after the given zero-based attempt. The schedule
// clamps to its last entry.
func (p Policy) Delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt >= len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[attempt]
}

// Retry runs fn up to MaxAttempts times, sleeping the scheduled delay between
// attempts. fn receives the zero-based attempt number so callers can escalate
// per-attempt parameters. The last error is returned when all attempts fail;
// a cancelled context aborts between attempts, never mid-call.
func Retry(ctx context.Context, p Policy, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Delay(attempt - 1)):
			}
		}

		if lastErr = fn(attempt); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
