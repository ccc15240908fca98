package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/tiger/call-resolution-pipeline/api/resolution"
	"github.com/tiger/call-resolution-pipeline/internal/resolution/backend"
	"github.com/tiger/call-resolution-pipeline/internal/resolution/retry"
	"github.com/tiger/call-resolution-pipeline/internal/telemetry"
)

// Prober performs the lightweight status probe against the analysis backend.
type Prober interface {
	CallStatus(ctx context.Context, callID string) (backend.StatusResponse, error)
}

// Config controls the bounded readiness polling schedule.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Increment   time.Duration
	// PartialMinAttempts is the attempt count after which any "found"
	// status exits early with the partial flag.
	PartialMinAttempts int
	// DisablePartialExit forces the poller to wait for fully processed
	// data (or exhaustion) instead of accepting partial availability.
	DisablePartialExit bool
	Sleep              retry.Sleeper
	Emitter            telemetry.Emitter
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 400 * time.Millisecond
	}
	if c.Increment <= 0 {
		c.Increment = 300 * time.Millisecond
	}
	if c.PartialMinAttempts <= 0 {
		c.PartialMinAttempts = 2
	}
	if c.Emitter == nil {
		c.Emitter = telemetry.Noop()
	}
	return c
}

// Result reports the poller's readiness verdict.
type Result struct {
	LikelyReady bool
	Partial     bool
	Attempts    int
	Last        resolution.ReadinessStatus
}

// Poller cheaply determines whether analysis data is worth fetching.
type Poller struct {
	prober Prober
	cfg    Config
	policy retry.Policy
}

// New constructs a readiness poller.
func New(prober Prober, cfg Config) (*Poller, error) {
	if prober == nil {
		return nil, fmt.Errorf("prober is required")
	}
	cfg = cfg.withDefaults()
	return &Poller{
		prober: prober,
		cfg:    cfg,
		policy: retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay,
			Increment:   cfg.Increment,
			Sleep:       cfg.Sleep,
		},
	}, nil
}

// Policy exposes the probe schedule for advisory ETA computation.
func (p *Poller) Policy() retry.Policy {
	return p.policy
}

// Poll probes the status endpoint until the analysis looks ready, a partial
// record justifies an early exit, or attempts run out. Probe failures are
// logged and counted, never propagated; exhaustion still returns a verdict so
// the fetcher can make the final accept/reject call.
func (p *Poller) Poll(ctx context.Context, callID string) (Result, error) {
	var verdict Result

	runResult, err := p.policy.Run(ctx, func(ctx context.Context, attempt int) (retry.Outcome, error) {
		status, probeErr := p.prober.CallStatus(ctx, callID)
		if probeErr != nil {
			p.cfg.Emitter.EmitLog(telemetry.SeverityWarn,
				fmt.Sprintf("readiness probe attempt %d failed: %v", attempt, probeErr),
				nil, p.correlation(callID))
			return retry.OutcomeContinue, probeErr
		}

		readiness := status.Readiness()
		verdict.Last = readiness

		if readiness.Complete() {
			verdict.LikelyReady = true
			return retry.OutcomeDone, nil
		}
		if !p.cfg.DisablePartialExit && status.Found() && attempt >= p.cfg.PartialMinAttempts {
			verdict.LikelyReady = true
			verdict.Partial = true
			return retry.OutcomeDone, nil
		}
		return retry.OutcomeContinue, nil
	})

	verdict.Attempts = runResult.Attempts
	if err != nil && ctx.Err() != nil {
		return verdict, ctx.Err()
	}

	p.cfg.Emitter.EmitMetric(telemetry.MetricProbeAttempts, float64(verdict.Attempts), "count", map[string]string{
		"likely_ready": fmt.Sprintf("%t", verdict.LikelyReady),
		"partial":      fmt.Sprintf("%t", verdict.Partial),
	}, p.correlation(callID))
	return verdict, nil
}

func (p *Poller) correlation(callID string) telemetry.Correlation {
	return telemetry.Correlation{
		CallID:    callID,
		Stage:     string(resolution.StagePolling),
		EmittedBy: "poller",
	}
}
