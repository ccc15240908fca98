package session

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/atomic"

	"github.com/tiger/call-resolution-pipeline/api/resolution"
)

// NotFoundError indicates no session is registered under the given call id.
type NotFoundError struct {
	CallID string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("no session registered for call %q", e.CallID)
}

// SessionNotFound marks this error as a missing-session rejection.
func (e NotFoundError) SessionNotFound() bool {
	return true
}

// IsNotFound reports whether err is a missing-session rejection.
func IsNotFound(err error) bool {
	var notFound interface{ SessionNotFound() bool }
	return errors.As(err, &notFound) && notFound.SessionNotFound()
}

// StateError indicates a transition was attempted from an incompatible state.
type StateError struct {
	CallID string
	From   resolution.SessionState
	Action string
}

func (e StateError) Error() string {
	return fmt.Sprintf("cannot %s session %q in state %s", e.Action, e.CallID, e.From)
}

// InvalidTransition marks this error as a lifecycle rejection.
func (e StateError) InvalidTransition() bool {
	return true
}

// IsInvalidTransition reports whether err is a lifecycle rejection.
func IsInvalidTransition(err error) bool {
	var invalid interface{ InvalidTransition() bool }
	return errors.As(err, &invalid) && invalid.InvalidTransition()
}

// session is one attempted voice interaction. All field mutation happens
// under the owning registry's lock; the one-shot flags are CAS-guarded so
// trigger/reward idempotency holds even across forced re-invocations.
type session struct {
	provisionalID string
	providerID    string
	userID        string

	state     resolution.SessionState
	startedAt time.Time
	endedAt   time.Time
	endReason string

	resolutionAttempts int
	failReason         string
	result             *resolution.AnalysisResult

	resolutionTriggered atomic.Bool
	rewardGranted       atomic.Bool
}

func (s *session) bestID() string {
	if s.providerID != "" {
		return s.providerID
	}
	return s.provisionalID
}

// Snapshot is an immutable copy of session state handed to callers.
type Snapshot struct {
	ProvisionalID      string
	ProviderID         string
	UserID             string
	State              resolution.SessionState
	StartedAt          time.Time
	EndedAt            time.Time
	EndReason          string
	ResolutionAttempts int
	FailReason         string
	Result             *resolution.AnalysisResult
}

// CallID returns the best currently valid call identifier.
func (s Snapshot) CallID() string {
	if s.ProviderID != "" {
		return s.ProviderID
	}
	return s.ProvisionalID
}

func (s *session) snapshot() Snapshot {
	snap := Snapshot{
		ProvisionalID:      s.provisionalID,
		ProviderID:         s.providerID,
		UserID:             s.userID,
		State:              s.state,
		StartedAt:          s.startedAt,
		EndedAt:            s.endedAt,
		EndReason:          s.endReason,
		ResolutionAttempts: s.resolutionAttempts,
		FailReason:         s.failReason,
	}
	if s.result != nil {
		result := *s.result
		snap.Result = &result
	}
	return snap
}
