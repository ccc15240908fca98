package resolution

import (
	"fmt"
	"strings"
)

// SessionState is the normalized call-session lifecycle state.
type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateActive    SessionState = "active"
	StateEnded     SessionState = "ended"
	StateResolving SessionState = "resolving"
	StateResolved  SessionState = "resolved"
	StateFailed    SessionState = "failed"
)

// IsTerminal reports whether the state admits no further transitions.
func (s SessionState) IsTerminal() bool {
	return s == StateResolved || s == StateFailed
}

// Validate enforces the session state enum.
func (s SessionState) Validate() error {
	if !isSessionState(s) {
		return fmt.Errorf("invalid session state: %q", s)
	}
	return nil
}

// Sentiment is the normalized analysis sentiment classification.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// NormalizeSentiment maps backend sentiment strings onto the canonical set,
// defaulting to neutral for unknown or empty values.
func NormalizeSentiment(v string) Sentiment {
	switch Sentiment(strings.ToLower(strings.TrimSpace(v))) {
	case SentimentPositive:
		return SentimentPositive
	case SentimentNegative:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// ReadinessStatus is a transient probe result used to decide whether the
// full analysis payload is worth fetching. It is never a final result.
type ReadinessStatus struct {
	Found            bool    `json:"found"`
	Processed        bool    `json:"processed"`
	HasTranscript    bool    `json:"has_transcript"`
	HasScore         bool    `json:"has_score"`
	Score            float64 `json:"score,omitempty"`
	TranscriptLength int     `json:"transcript_length,omitempty"`
}

// Complete reports whether the probe saw fully processed analysis data.
func (r ReadinessStatus) Complete() bool {
	return r.Processed && r.HasTranscript && r.HasScore
}

// AnalysisResult is the authoritative per-session analysis payload.
type AnalysisResult struct {
	Transcript       string    `json:"transcript"`
	Score            float64   `json:"score"`
	Sentiment        Sentiment `json:"sentiment"`
	Feedback         string    `json:"feedback"`
	Summary          string    `json:"summary,omitempty"`
	ExperiencePoints int       `json:"experience_points"`
	BonusPoints      int       `json:"bonus_points,omitempty"`
	Passed           bool      `json:"passed"`
	DurationSeconds  int       `json:"duration_seconds,omitempty"`
	Complete         bool      `json:"complete"`
}

// SentinelFeedback is returned when no usable analysis could be retrieved
// within bounded retries.
const SentinelFeedback = "Analysis data not available. Please try again."

// IncompleteResult returns the sentinel result used when all fetch attempts
// were exhausted without an acceptable payload.
func IncompleteResult() AnalysisResult {
	return AnalysisResult{
		Sentiment: SentimentNeutral,
		Feedback:  SentinelFeedback,
	}
}

// Validate enforces analysis payload invariants.
func (a AnalysisResult) Validate() error {
	if a.Score < 0 || a.Score > 10 {
		return fmt.Errorf("score must be within [0,10], got %v", a.Score)
	}
	if !isSentiment(a.Sentiment) {
		return fmt.Errorf("invalid sentiment: %q", a.Sentiment)
	}
	if a.ExperiencePoints < 0 {
		return fmt.Errorf("experience_points must be >=0, got %d", a.ExperiencePoints)
	}
	if a.BonusPoints < 0 {
		return fmt.Errorf("bonus_points must be >=0, got %d", a.BonusPoints)
	}
	if a.DurationSeconds < 0 {
		return fmt.Errorf("duration_seconds must be >=0, got %d", a.DurationSeconds)
	}
	return nil
}

// TotalPoints returns the reward applied to the user's cumulative total.
func (a AnalysisResult) TotalPoints() int {
	return a.ExperiencePoints + a.BonusPoints
}

// Stage identifies a resolution pipeline stage for progress reporting.
type Stage string

const (
	StageReconciling Stage = "reconciling"
	StagePolling     Stage = "polling"
	StageFetching    Stage = "fetching"
	StageFinalizing  Stage = "finalizing"
	StageComplete    Stage = "complete"
)

// ProgressUpdate is an advisory progress sample for presentation layers.
type ProgressUpdate struct {
	Stage           Stage `json:"stage"`
	ProgressPercent int   `json:"progress_percent"`
	ETASeconds      int   `json:"eta_seconds"`
}

// Validate enforces progress reporting invariants.
func (p ProgressUpdate) Validate() error {
	if !isStage(p.Stage) {
		return fmt.Errorf("invalid progress stage: %q", p.Stage)
	}
	if p.ProgressPercent < 0 || p.ProgressPercent > 100 {
		return fmt.Errorf("progress_percent must be within [0,100], got %d", p.ProgressPercent)
	}
	if p.ETASeconds < 0 {
		return fmt.Errorf("eta_seconds must be >=0, got %d", p.ETASeconds)
	}
	return nil
}

func isSessionState(s SessionState) bool {
	switch s {
	case StateIdle, StateActive, StateEnded, StateResolving, StateResolved, StateFailed:
		return true
	default:
		return false
	}
}

func isSentiment(s Sentiment) bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	default:
		return false
	}
}

func isStage(s Stage) bool {
	switch s {
	case StageReconciling, StagePolling, StageFetching, StageFinalizing, StageComplete:
		return true
	default:
		return false
	}
}
