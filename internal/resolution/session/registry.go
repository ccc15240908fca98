package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tiger/call-resolution-pipeline/api/resolution"
)

// ProvisionalIDPrefix marks identifiers assigned before the call provider
// confirms the call. The rename flow replaces them with provider ids.
const ProvisionalIDPrefix = "local-"

// Config controls registry clock and id generation seams.
type Config struct {
	Now   func() time.Time
	NewID func() string
}

// Registry tracks every call session by provisional and provider id. It is
// the only holder of mutable session state; pipeline stages receive it by
// handle instead of reaching into ambient shared state.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session

	now   func() time.Time
	newID func() string
}

// NewRegistry returns an empty session registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return ProvisionalIDPrefix + uuid.NewString() }
	}
	return &Registry{
		sessions: map[string]*session{},
		now:      cfg.Now,
		newID:    cfg.NewID,
	}
}

// Create registers a new idle session and returns its snapshot.
func (r *Registry) Create(userID string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &session{
		provisionalID: r.newID(),
		userID:        strings.TrimSpace(userID),
		state:         resolution.StateIdle,
	}
	r.sessions[s.provisionalID] = s
	return s.snapshot()
}

// Adopt registers a session for an externally known call id already past the
// provider handshake, in Ended state ready for resolution. Used when the
// pipeline is driven for a call this process did not originate.
func (r *Registry) Adopt(callID, userID string) (Snapshot, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return Snapshot{}, NotFoundError{CallID: callID}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[callID]; ok {
		return existing.snapshot(), nil
	}
	s := &session{
		provisionalID: callID,
		providerID:    callID,
		userID:        strings.TrimSpace(userID),
		state:         resolution.StateEnded,
		endedAt:       r.now(),
	}
	r.sessions[callID] = s
	return s.snapshot(), nil
}

// Lookup returns the session registered under any of its ids.
func (r *Registry) Lookup(callID string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.find(callID)
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(), nil
}

// Start transitions Idle -> Active and binds the provider-assigned id.
// Duplicate start deliveries with the same provider id are no-ops.
func (r *Registry) Start(callID, providerID string) (Snapshot, error) {
	providerID = strings.TrimSpace(providerID)
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.find(callID)
	if err != nil {
		return Snapshot{}, err
	}
	if s.state == resolution.StateActive && (providerID == "" || s.providerID == providerID) {
		return s.snapshot(), nil
	}
	if s.state != resolution.StateIdle {
		return Snapshot{}, StateError{CallID: s.bestID(), From: s.state, Action: "start"}
	}
	if providerID != "" {
		r.bindProviderID(s, providerID)
	}
	s.state = resolution.StateActive
	s.startedAt = r.now()
	return s.snapshot(), nil
}

// Remap binds the provider id to the session currently known by the
// provisional id. Repeat calls with the same pair are no-ops.
func (r *Registry) Remap(provisionalID, providerID string) (Snapshot, error) {
	providerID = strings.TrimSpace(providerID)
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.find(provisionalID)
	if err != nil {
		return Snapshot{}, err
	}
	if providerID != "" && s.providerID != providerID {
		r.bindProviderID(s, providerID)
	}
	return s.snapshot(), nil
}

// End transitions Active -> Ended. Ending an already-ended or resolving
// session is a no-op: duplicate termination events are normal.
func (r *Registry) End(callID, reason string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.find(callID)
	if err != nil {
		return Snapshot{}, err
	}
	switch s.state {
	case resolution.StateActive, resolution.StateIdle:
		s.state = resolution.StateEnded
		s.endedAt = r.now()
		s.endReason = strings.TrimSpace(reason)
	}
	return s.snapshot(), nil
}

// TryTrigger flips the session's one-shot resolution trigger. It returns
// true exactly once per session, no matter how many termination events or
// safety timeouts observe the session.
func (r *Registry) TryTrigger(callID string) (bool, error) {
	r.mu.Lock()
	s, err := r.find(callID)
	r.mu.Unlock()
	if err != nil {
		return false, err
	}
	return s.resolutionTriggered.CompareAndSwap(false, true), nil
}

// BeginResolution transitions Ended -> Resolving. Sessions already resolving
// or resolved are dropped (ok=false) rather than erroring, so duplicate
// pipeline invocations degrade to no-ops.
func (r *Registry) BeginResolution(callID string) (Snapshot, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.find(callID)
	if err != nil {
		return Snapshot{}, false, err
	}
	switch s.state {
	case resolution.StateResolving, resolution.StateResolved, resolution.StateFailed:
		return s.snapshot(), false, nil
	case resolution.StateEnded:
		s.state = resolution.StateResolving
		s.resolutionAttempts++
		return s.snapshot(), true, nil
	default:
		return Snapshot{}, false, StateError{CallID: s.bestID(), From: s.state, Action: "resolve"}
	}
}

// Resolve transitions Resolving -> Resolved and freezes the result. Resolved
// sessions are immutable; a repeat call is rejected as an invalid transition.
func (r *Registry) Resolve(callID string, result resolution.AnalysisResult) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.find(callID)
	if err != nil {
		return Snapshot{}, err
	}
	if s.state != resolution.StateResolving {
		return Snapshot{}, StateError{CallID: s.bestID(), From: s.state, Action: "finalize"}
	}
	stored := result
	s.result = &stored
	s.state = resolution.StateResolved
	return s.snapshot(), nil
}

// Fail marks the session terminally failed. Reserved for structural faults
// where no usable call identity exists; retry exhaustion resolves instead.
func (r *Registry) Fail(callID, reason string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.find(callID)
	if err != nil {
		return Snapshot{}, err
	}
	if s.state.IsTerminal() {
		return Snapshot{}, StateError{CallID: s.bestID(), From: s.state, Action: "fail"}
	}
	s.state = resolution.StateFailed
	s.failReason = strings.TrimSpace(reason)
	return s.snapshot(), nil
}

// TryGrantReward flips the session's one-shot reward flag. Reward issuance
// must happen if and only if this returns true.
func (r *Registry) TryGrantReward(callID string) (bool, error) {
	r.mu.Lock()
	s, err := r.find(callID)
	r.mu.Unlock()
	if err != nil {
		return false, err
	}
	return s.rewardGranted.CompareAndSwap(false, true), nil
}

func (r *Registry) find(callID string) (*session, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return nil, NotFoundError{CallID: callID}
	}
	s, ok := r.sessions[callID]
	if !ok {
		return nil, NotFoundError{CallID: callID}
	}
	return s, nil
}

func (r *Registry) bindProviderID(s *session, providerID string) {
	if old := s.providerID; old != "" && old != providerID {
		delete(r.sessions, old)
	}
	s.providerID = providerID
	r.sessions[providerID] = s
}
