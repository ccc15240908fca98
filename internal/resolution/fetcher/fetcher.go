package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/tiger/call-resolution-pipeline/api/resolution"
	"github.com/tiger/call-resolution-pipeline/internal/resolution/backend"
	"github.com/tiger/call-resolution-pipeline/internal/resolution/retry"
	"github.com/tiger/call-resolution-pipeline/internal/telemetry"
)

// Source retrieves the authoritative analysis payload.
type Source interface {
	FetchCallLog(ctx context.Context, callID string) (backend.CallLogResponse, error)
}

// Config controls fetch attempts and the acceptance threshold.
type Config struct {
	// ReadyAttempts applies when the poller signaled likely-ready;
	// ColdAttempts applies otherwise.
	ReadyAttempts int
	ColdAttempts  int
	BaseDelay     time.Duration
	Increment     time.Duration
	// MinTranscriptChars is the acceptance cutoff: a payload is accepted
	// when the backend marks it found and the transcript is strictly
	// longer than this, or the score is positive. The default mirrors
	// the product heuristic and should not be tuned without input.
	MinTranscriptChars int
	// NotFoundMinAttempts is how many explicit not-found responses
	// confirm the record will never exist.
	NotFoundMinAttempts int
	Sleep               retry.Sleeper
	Emitter             telemetry.Emitter
}

func (c Config) withDefaults() Config {
	if c.ReadyAttempts <= 0 {
		c.ReadyAttempts = 2
	}
	if c.ColdAttempts <= 0 {
		c.ColdAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 600 * time.Millisecond
	}
	if c.Increment <= 0 {
		c.Increment = 400 * time.Millisecond
	}
	if c.MinTranscriptChars <= 0 {
		c.MinTranscriptChars = 50
	}
	if c.NotFoundMinAttempts <= 0 {
		c.NotFoundMinAttempts = 2
	}
	if c.Emitter == nil {
		c.Emitter = telemetry.Noop()
	}
	return c
}

// Result reports the fetch outcome.
type Result struct {
	Analysis resolution.AnalysisResult
	Accepted bool
	Attempts int
}

// Fetcher retrieves the analysis payload and decides acceptance. It never
// fails from the caller's perspective: exhaustion degrades to the sentinel
// incomplete result.
type Fetcher struct {
	source Source
	cfg    Config
}

// New constructs a result fetcher.
func New(source Source, cfg Config) (*Fetcher, error) {
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	return &Fetcher{source: source, cfg: cfg.withDefaults()}, nil
}

// Policy returns the attempt schedule used for the given readiness signal.
func (f *Fetcher) Policy(likelyReady bool) retry.Policy {
	attempts := f.cfg.ColdAttempts
	if likelyReady {
		attempts = f.cfg.ReadyAttempts
	}
	return retry.Policy{
		MaxAttempts: attempts,
		BaseDelay:   f.cfg.BaseDelay,
		Increment:   f.cfg.Increment,
		Sleep:       f.cfg.Sleep,
	}
}

// Fetch retrieves the payload with bounded retries sized by the poller's
// verdict. Payloads below the acceptance bar are treated as not-yet-ready
// and retried; explicit not-found across enough attempts short-circuits.
func (f *Fetcher) Fetch(ctx context.Context, callID string, likelyReady bool) (Result, error) {
	var (
		accepted      resolution.AnalysisResult
		found         bool
		notFoundCount int
	)

	policy := f.Policy(likelyReady)
	runResult, err := policy.Run(ctx, func(ctx context.Context, attempt int) (retry.Outcome, error) {
		log, fetchErr := f.source.FetchCallLog(ctx, callID)
		if fetchErr != nil {
			f.cfg.Emitter.EmitLog(telemetry.SeverityWarn,
				fmt.Sprintf("fetch attempt %d failed: %v", attempt, fetchErr),
				nil, f.correlation(callID))
			return retry.OutcomeContinue, fetchErr
		}

		if log.NotFound() {
			notFoundCount++
			if notFoundCount >= f.cfg.NotFoundMinAttempts {
				f.cfg.Emitter.EmitLog(telemetry.SeverityInfo,
					"backend confirmed record absence, stopping retries",
					map[string]string{"attempt": fmt.Sprintf("%d", attempt)},
					f.correlation(callID))
				return retry.OutcomeAbort, nil
			}
			return retry.OutcomeContinue, nil
		}

		if f.accepts(log) {
			accepted = log.Result()
			found = true
			return retry.OutcomeDone, nil
		}
		return retry.OutcomeContinue, nil
	})

	result := Result{Attempts: runResult.Attempts}
	if err != nil && ctx.Err() != nil {
		return result, ctx.Err()
	}

	if found {
		result.Analysis = accepted
		result.Accepted = true
	} else {
		result.Analysis = resolution.IncompleteResult()
	}

	f.cfg.Emitter.EmitMetric(telemetry.MetricFetchAttempts, float64(result.Attempts), "count", map[string]string{
		"accepted": fmt.Sprintf("%t", result.Accepted),
	}, f.correlation(callID))
	return result, nil
}

// accepts applies the acceptance heuristic: explicitly found, and either a
// transcript above the character cutoff or a positive score.
func (f *Fetcher) accepts(log backend.CallLogResponse) bool {
	if !log.Found() {
		return false
	}
	return len(log.Transcript) > f.cfg.MinTranscriptChars || log.Score > 0
}

func (f *Fetcher) correlation(callID string) telemetry.Correlation {
	return telemetry.Correlation{
		CallID:    callID,
		Stage:     string(resolution.StageFetching),
		EmittedBy: "fetcher",
	}
}
