package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/tiger/call-resolution-pipeline/api/resolution"
	"github.com/tiger/call-resolution-pipeline/internal/resolution/completion"
	"github.com/tiger/call-resolution-pipeline/internal/resolution/fetcher"
	"github.com/tiger/call-resolution-pipeline/internal/resolution/poller"
	"github.com/tiger/call-resolution-pipeline/internal/resolution/session"
	"github.com/tiger/call-resolution-pipeline/internal/telemetry"
)

// ProgressFunc receives advisory progress samples. It must not block.
type ProgressFunc func(callID string, update resolution.ProgressUpdate)

// ResultFunc receives the terminal outcome for a resolution run. It is
// invoked exactly once per run, for degraded outcomes included.
type ResultFunc func(callID string, outcome Outcome)

// Config wires the resolver to the pipeline stages.
type Config struct {
	Registry  *session.Registry
	Poller    *poller.Poller
	Fetcher   *fetcher.Fetcher
	Finalizer *completion.Finalizer
	Emitter   telemetry.Emitter
	Progress  ProgressFunc
	OnResult  ResultFunc
	Now       func() time.Time
}

// Outcome is the terminal result of one resolution run.
type Outcome struct {
	Session       session.Snapshot
	Analysis      resolution.AnalysisResult
	Accepted      bool
	RewardApplied bool
	PointsGranted int
	TotalPoints   int
	Level         int
	ProbeAttempts int
	FetchAttempts int
}

// Resolver orchestrates a terminated call through readiness polling, payload
// fetch, and finalization. Runs are idempotent: a session already resolved
// returns its stored outcome, a concurrent run degrades to a no-op.
type Resolver struct {
	registry  *session.Registry
	poller    *poller.Poller
	fetcher   *fetcher.Fetcher
	finalizer *completion.Finalizer
	emitter   telemetry.Emitter
	progress  ProgressFunc
	onResult  ResultFunc
	now       func() time.Time
}

// New constructs a resolver.
func New(cfg Config) (*Resolver, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Poller == nil {
		return nil, fmt.Errorf("poller is required")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.Finalizer == nil {
		return nil, fmt.Errorf("finalizer is required")
	}
	if cfg.Emitter == nil {
		cfg.Emitter = telemetry.Noop()
	}
	if cfg.Progress == nil {
		cfg.Progress = func(string, resolution.ProgressUpdate) {}
	}
	if cfg.OnResult == nil {
		cfg.OnResult = func(string, Outcome) {}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Resolver{
		registry:  cfg.Registry,
		poller:    cfg.Poller,
		fetcher:   cfg.Fetcher,
		finalizer: cfg.Finalizer,
		emitter:   cfg.Emitter,
		progress:  cfg.Progress,
		onResult:  cfg.OnResult,
		now:       cfg.Now,
	}, nil
}

// Trigger adapts the resolver for the event listener's non-blocking trigger
// callback: the run happens on its own goroutine with its own deadline.
func (r *Resolver) Trigger(timeout time.Duration) func(callID, reason string) {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return func(callID, reason string) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if _, err := r.Resolve(ctx, callID); err != nil {
				r.emitter.EmitLog(telemetry.SeverityError,
					fmt.Sprintf("background resolution failed: %v", err),
					map[string]string{"reason": reason}, r.correlation(callID, ""))
			}
		}()
	}
}

// Resolve runs the pipeline for a terminated call. Re-invocation for a
// resolved session returns the stored outcome; a session mid-resolution
// returns its snapshot untouched. An id with no registered session is a
// structural fault and yields an error.
func (r *Resolver) Resolve(ctx context.Context, callID string) (Outcome, error) {
	started := r.now()

	snap, ok, err := r.registry.BeginResolution(callID)
	if err != nil {
		if session.IsInvalidTransition(err) {
			// Ending never happened; nothing downstream can run.
			if failed, failErr := r.registry.Fail(callID, "resolution requested before termination"); failErr == nil {
				snap = failed
			}
		}
		return Outcome{Session: snap}, fmt.Errorf("begin resolution for %s: %w", callID, err)
	}
	if !ok {
		return r.replay(snap), nil
	}

	outcome, err := r.run(ctx, snap)
	if err != nil {
		return outcome, err
	}

	elapsed := r.now().Sub(started)
	r.emitter.EmitMetric(telemetry.MetricResolutionMS, float64(elapsed.Milliseconds()), "ms", map[string]string{
		"accepted": fmt.Sprintf("%t", outcome.Accepted),
	}, r.correlation(callID, string(resolution.StageComplete)))
	r.report(snap.CallID(), resolution.StageComplete, 100, 0)
	r.onResult(snap.CallID(), outcome)
	return outcome, nil
}

func (r *Resolver) run(ctx context.Context, snap session.Snapshot) (Outcome, error) {
	callID := snap.CallID()
	outcome := Outcome{Session: snap}

	r.report(callID, resolution.StagePolling, 10, r.poller.Policy().Remaining(1))

	verdict, err := r.poller.Poll(ctx, callID)
	if err != nil {
		return r.fault(outcome, callID, fmt.Errorf("readiness poll: %w", err))
	}
	outcome.ProbeAttempts = verdict.Attempts

	r.report(callID, resolution.StageFetching, 45, r.fetcher.Policy(verdict.LikelyReady).Remaining(1))

	fetched, err := r.fetcher.Fetch(ctx, callID, verdict.LikelyReady)
	if err != nil {
		return r.fault(outcome, callID, fmt.Errorf("fetch call log: %w", err))
	}
	outcome.FetchAttempts = fetched.Attempts
	outcome.Analysis = fetched.Analysis
	outcome.Accepted = fetched.Accepted

	r.report(callID, resolution.StageFinalizing, 85, 0)

	final, err := r.finalizer.Finalize(ctx, callID, fetched.Analysis, fetched.Accepted)
	if err != nil {
		return r.fault(outcome, callID, fmt.Errorf("finalize: %w", err))
	}
	outcome.Session = final.Session
	outcome.RewardApplied = final.RewardApplied
	outcome.PointsGranted = final.PointsGranted
	outcome.TotalPoints = final.TotalPoints
	outcome.Level = final.Level
	return outcome, nil
}

// replay serves repeat invocations from stored state without side effects.
func (r *Resolver) replay(snap session.Snapshot) Outcome {
	outcome := Outcome{Session: snap}
	if snap.Result != nil {
		outcome.Analysis = *snap.Result
		outcome.Accepted = snap.Result.Feedback != resolution.SentinelFeedback
	}
	return outcome
}

// fault marks the session terminally failed for structural errors that leave
// no path to a result, context cancellation included.
func (r *Resolver) fault(outcome Outcome, callID string, cause error) (Outcome, error) {
	if snap, err := r.registry.Fail(callID, cause.Error()); err == nil {
		outcome.Session = snap
	}
	r.emitter.EmitLog(telemetry.SeverityError, cause.Error(), nil, r.correlation(callID, ""))
	r.onResult(callID, outcome)
	return outcome, cause
}

func (r *Resolver) report(callID string, stage resolution.Stage, percent int, eta time.Duration) {
	update := resolution.ProgressUpdate{
		Stage:           stage,
		ProgressPercent: percent,
		ETASeconds:      int(eta.Round(time.Second) / time.Second),
	}
	r.progress(callID, update)
}

func (r *Resolver) correlation(callID, stage string) telemetry.Correlation {
	return telemetry.Correlation{
		CallID:    callID,
		Stage:     stage,
		EmittedBy: "resolver",
	}
}
