package retry

import (
	"context"
	"fmt"
	"time"
)

// Outcome reports how a single attempt concluded.
type Outcome string

const (
	// OutcomeContinue means the attempt did not settle anything; keep retrying.
	OutcomeContinue Outcome = "continue"
	// OutcomeDone means the attempt succeeded; stop immediately.
	OutcomeDone Outcome = "done"
	// OutcomeAbort means the attempt proved further retries are pointless.
	OutcomeAbort Outcome = "abort"
)

// Sleeper delays between attempts. Implementations must honor ctx cancellation.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy is a bounded-attempt, linearly increasing delay schedule shared by
// the readiness poller and the result fetcher with different parameters.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Increment   time.Duration
	Sleep       Sleeper
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Increment < 0 {
		p.Increment = 0
	}
	if p.Sleep == nil {
		p.Sleep = SleepContext
	}
	return p
}

// Delay returns the inter-attempt delay that follows attempt n (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay + time.Duration(attempt-1)*p.Increment
}

// Remaining returns the worst-case delay left after attempt n, used for
// advisory ETA reporting.
func (p Policy) Remaining(attempt int) time.Duration {
	p = p.withDefaults()
	var total time.Duration
	for n := attempt; n < p.MaxAttempts; n++ {
		total += p.Delay(n)
	}
	return total
}

// Result summarizes a completed run.
type Result struct {
	Attempts int
	Outcome  Outcome
}

// Run invokes attempt up to MaxAttempts times, sleeping the scheduled delay
// between attempts. Attempt errors never abort the loop; the last one is
// carried in the result error only when the loop exhausts without OutcomeDone
// or OutcomeAbort. Context cancellation is the only hard stop.
func (p Policy) Run(ctx context.Context, attempt func(ctx context.Context, n int) (Outcome, error)) (Result, error) {
	p = p.withDefaults()

	var lastErr error
	for n := 1; n <= p.MaxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return Result{Attempts: n - 1, Outcome: OutcomeContinue}, err
		}

		outcome, err := attempt(ctx, n)
		if err != nil {
			lastErr = err
		}
		switch outcome {
		case OutcomeDone, OutcomeAbort:
			return Result{Attempts: n, Outcome: outcome}, nil
		}

		if n == p.MaxAttempts {
			break
		}
		if err := p.Sleep(ctx, p.Delay(n)); err != nil {
			return Result{Attempts: n, Outcome: OutcomeContinue}, err
		}
	}

	result := Result{Attempts: p.MaxAttempts, Outcome: OutcomeContinue}
	if lastErr != nil {
		return result, fmt.Errorf("attempts exhausted: %w", lastErr)
	}
	return result, nil
}

// SleepContext sleeps for d or until ctx is canceled.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
