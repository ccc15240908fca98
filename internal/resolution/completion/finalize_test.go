package completion

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tiger/call-resolution-pipeline/api/resolution"
	"github.com/tiger/call-resolution-pipeline/internal/resolution/session"
	"github.com/tiger/call-resolution-pipeline/internal/telemetry"
)

func resolvingSession(t *testing.T, registry *session.Registry, userID string) session.Snapshot {
	t.Helper()

	snap := registry.Create(userID)
	snap, err := registry.Start(snap.ProvisionalID, "real-"+snap.ProvisionalID)
	require.NoError(t, err)
	_, err = registry.End(snap.CallID(), "customer-ended-call")
	require.NoError(t, err)
	snap, ok, err := registry.BeginResolution(snap.CallID())
	require.NoError(t, err)
	require.True(t, ok)
	return snap
}

func acceptedResult() resolution.AnalysisResult {
	return resolution.AnalysisResult{
		Transcript:       strings.Repeat("x", 120),
		Score:            8.2,
		Sentiment:        resolution.SentimentPositive,
		Feedback:         "great discovery questions",
		ExperiencePoints: 40,
		BonusPoints:      10,
		Passed:           true,
		Complete:         true,
	}
}

func TestFinalizeGrantsRewardExactlyOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := session.NewRegistry(session.Config{})
	ledger := NewMemoryLedger(nil)
	sink := telemetry.NewMemorySink()
	pipeline := telemetry.NewPipeline(sink, telemetry.Config{})
	t.Cleanup(func() { _ = pipeline.Close() })
	f, err := New(Config{Registry: registry, Ledger: ledger, Emitter: pipeline})
	require.NoError(t, err)

	snap := resolvingSession(t, registry, "user-1")

	out, err := f.Finalize(ctx, snap.CallID(), acceptedResult(), true)
	require.NoError(t, err)
	require.True(t, out.RewardApplied)
	require.Equal(t, 50, out.PointsGranted)
	require.Equal(t, 50, out.TotalPoints)
	require.Equal(t, 1, out.Level)
	require.Equal(t, resolution.StateResolved, out.Session.State)

	// A second finalize hits the resolved session and is rejected.
	_, err = f.Finalize(ctx, snap.CallID(), acceptedResult(), true)
	require.Error(t, err)
	require.True(t, session.IsInvalidTransition(err))

	total, err := ledger.Total(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, 50, total)
}

func TestFinalizeSentinelResolvesWithoutReward(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := session.NewRegistry(session.Config{})
	ledger := NewMemoryLedger(nil)
	f, err := New(Config{Registry: registry, Ledger: ledger})
	require.NoError(t, err)

	snap := resolvingSession(t, registry, "user-1")

	out, err := f.Finalize(ctx, snap.CallID(), resolution.IncompleteResult(), false)
	require.NoError(t, err)
	require.False(t, out.RewardApplied)
	require.Zero(t, out.PointsGranted)
	require.Equal(t, resolution.StateResolved, out.Session.State)
	require.NotNil(t, out.Session.Result)
	require.Equal(t, resolution.SentinelFeedback, out.Session.Result.Feedback)
	require.Empty(t, ledger.Grants("user-1"))
}

func TestFinalizeSkipsRewardWhenClaimAlreadyTaken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := session.NewRegistry(session.Config{})
	ledger := NewMemoryLedger(nil)
	f, err := New(Config{Registry: registry, Ledger: ledger})
	require.NoError(t, err)

	snap := resolvingSession(t, registry, "user-1")
	granted, err := registry.TryGrantReward(snap.CallID())
	require.NoError(t, err)
	require.True(t, granted)

	out, err := f.Finalize(ctx, snap.CallID(), acceptedResult(), true)
	require.NoError(t, err)
	require.False(t, out.RewardApplied, "claimed flag must block a second issuance")
	require.Empty(t, ledger.Grants("user-1"))
}

func TestFinalizeZeroPointResultNeverTouchesLedger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := session.NewRegistry(session.Config{})
	ledger := NewMemoryLedger(nil)
	f, err := New(Config{Registry: registry, Ledger: ledger})
	require.NoError(t, err)

	snap := resolvingSession(t, registry, "user-1")
	result := acceptedResult()
	result.ExperiencePoints = 0
	result.BonusPoints = 0

	out, err := f.Finalize(ctx, snap.CallID(), result, true)
	require.NoError(t, err)
	require.False(t, out.RewardApplied)
	require.Equal(t, resolution.StateResolved, out.Session.State)
	require.Empty(t, ledger.Grants("user-1"))
}
