package completion

import (
	"context"
	"fmt"

	"github.com/tiger/call-resolution-pipeline/api/resolution"
	"github.com/tiger/call-resolution-pipeline/internal/resolution/session"
	"github.com/tiger/call-resolution-pipeline/internal/telemetry"
)

// Config wires the finalizer to session state and reward persistence.
type Config struct {
	Registry *session.Registry
	Ledger   Ledger
	Emitter  telemetry.Emitter
}

// Outcome reports how finalization concluded for a session.
type Outcome struct {
	Session       session.Snapshot
	RewardApplied bool
	PointsGranted int
	TotalPoints   int
	Level         int
}

// Finalizer freezes the analysis result onto the session and issues the
// reward. Issuance is double-guarded: the session's one-shot flag claims the
// right to grant, and the ledger's per-session marker makes the grant itself
// idempotent across restarts.
type Finalizer struct {
	registry *session.Registry
	ledger   Ledger
	emitter  telemetry.Emitter
}

// New constructs a finalizer.
func New(cfg Config) (*Finalizer, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if cfg.Emitter == nil {
		cfg.Emitter = telemetry.Noop()
	}
	return &Finalizer{registry: cfg.Registry, ledger: cfg.Ledger, emitter: cfg.Emitter}, nil
}

// Finalize stores the result and, when the payload was accepted and carries
// points, grants them at most once. An incomplete result still resolves the
// session; it just earns nothing.
func (f *Finalizer) Finalize(ctx context.Context, callID string, analysis resolution.AnalysisResult, accepted bool) (Outcome, error) {
	snap, err := f.registry.Resolve(callID, analysis)
	if err != nil {
		return Outcome{}, fmt.Errorf("finalize %s: %w", callID, err)
	}

	out := Outcome{Session: snap}
	points := analysis.TotalPoints()
	if !accepted || points <= 0 || snap.UserID == "" {
		total, totalErr := f.ledger.Total(ctx, snap.UserID)
		if totalErr == nil {
			out.TotalPoints = total
			out.Level = Level(total)
		}
		return out, nil
	}

	granted, err := f.registry.TryGrantReward(callID)
	if err != nil {
		return out, fmt.Errorf("claim reward for %s: %w", callID, err)
	}
	if !granted {
		total, totalErr := f.ledger.Total(ctx, snap.UserID)
		if totalErr == nil {
			out.TotalPoints = total
			out.Level = Level(total)
		}
		return out, nil
	}

	applied, total, err := f.ledger.Grant(ctx, snap.UserID, snap.CallID(), points)
	if err != nil {
		// The session flag is already flipped, so a ledger fault must not
		// retry the grant: losing one reward beats issuing it twice.
		f.emitter.EmitLog(telemetry.SeverityError,
			fmt.Sprintf("reward grant failed after claim: %v", err),
			nil, f.correlation(snap))
		return out, nil
	}

	out.RewardApplied = applied
	out.TotalPoints = total
	out.Level = Level(total)
	if applied {
		out.PointsGranted = points
		f.emitter.EmitMetric(telemetry.MetricRewardPoints, float64(points), "points", map[string]string{
			"user_id": snap.UserID,
		}, f.correlation(snap))
		f.emitter.EmitLog(telemetry.SeverityInfo,
			fmt.Sprintf("granted %d points, total %d, level %d", points, total, out.Level),
			nil, f.correlation(snap))
	}
	return out, nil
}

func (f *Finalizer) correlation(snap session.Snapshot) telemetry.Correlation {
	return telemetry.Correlation{
		CallID:        snap.CallID(),
		ProvisionalID: snap.ProvisionalID,
		UserID:        snap.UserID,
		Stage:         string(resolution.StageFinalizing),
		EmittedBy:     "completion",
	}
}
