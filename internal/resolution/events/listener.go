package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/tiger/call-resolution-pipeline/internal/resolution/session"
	"github.com/tiger/call-resolution-pipeline/internal/telemetry"
)

// TriggerFunc starts the resolution pipeline for a terminated call. It is
// invoked at most once per listener and must not block.
type TriggerFunc func(callID, reason string)

// TimerFactory arms a one-shot timer and returns its stop function.
// Defaults to time.AfterFunc; tests substitute a manual trigger.
type TimerFactory func(d time.Duration, fn func()) (stop func() bool)

// ListenerConfig wires a listener for one call attempt.
type ListenerConfig struct {
	Registry      *session.Registry
	Reconciler    *session.Reconciler
	ProvisionalID string
	Trigger       TriggerFunc
	Emitter       telemetry.Emitter
	SafetyTimeout time.Duration
	NewTimer      TimerFactory
}

// Listener normalizes one call attempt's provider event stream into session
// lifecycle transitions, guarding the resolution trigger so duplicate
// termination events and the safety timeout cannot double-fire the pipeline.
type Listener struct {
	registry      *session.Registry
	reconciler    *session.Reconciler
	trigger       TriggerFunc
	emitter       telemetry.Emitter
	safetyTimeout time.Duration
	newTimer      TimerFactory

	provisionalID string

	mu         sync.Mutex
	providerID string
	stopTimer  func() bool

	triggered atomic.Bool
}

// NewListener constructs an event listener bound to one session attempt.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Trigger == nil {
		return nil, fmt.Errorf("trigger is required")
	}
	if strings.TrimSpace(cfg.ProvisionalID) == "" {
		return nil, fmt.Errorf("provisional_id is required")
	}
	if cfg.Emitter == nil {
		cfg.Emitter = telemetry.Noop()
	}
	if cfg.SafetyTimeout <= 0 {
		cfg.SafetyTimeout = 10 * time.Minute
	}
	if cfg.NewTimer == nil {
		cfg.NewTimer = func(d time.Duration, fn func()) func() bool {
			timer := time.AfterFunc(d, fn)
			return timer.Stop
		}
	}
	return &Listener{
		registry:      cfg.Registry,
		reconciler:    cfg.Reconciler,
		trigger:       cfg.Trigger,
		emitter:       cfg.Emitter,
		safetyTimeout: cfg.SafetyTimeout,
		newTimer:      cfg.NewTimer,
		provisionalID: strings.TrimSpace(cfg.ProvisionalID),
	}, nil
}

// HandleRaw validates, normalizes, and dispatches one raw provider payload.
// Schema-invalid payloads are dropped with a warn log, never propagated.
func (l *Listener) HandleRaw(ctx context.Context, raw []byte) {
	event, err := Normalize(raw)
	if err != nil {
		l.emitter.EmitLog(telemetry.SeverityWarn, fmt.Sprintf("dropping malformed provider event: %v", err), nil, l.correlation())
		return
	}
	l.Dispatch(ctx, event)
}

// Dispatch applies one normalized provider event.
func (l *Listener) Dispatch(ctx context.Context, event Event) {
	switch event.Kind {
	case KindStarted:
		l.onStarted(ctx, event.ProviderID)
	case KindEnded:
		l.terminate(event.Reason)
	case KindFault:
		l.emitter.EmitLog(telemetry.SeverityError, fmt.Sprintf("provider fault: %s", event.Fault), nil, l.correlation())
	case KindNoise:
		// Dropped without logging at normal verbosity.
	}
}

// onStarted binds the provider id and reconciles the provisional id exactly
// once, even when the provider re-delivers call-started.
func (l *Listener) onStarted(ctx context.Context, providerID string) {
	l.mu.Lock()
	if l.providerID == providerID {
		l.mu.Unlock()
		return
	}
	alreadyBound := l.providerID != ""
	l.providerID = providerID
	l.mu.Unlock()

	if alreadyBound {
		l.emitter.EmitLog(telemetry.SeverityWarn, "provider re-assigned call id mid-session", map[string]string{
			"provider_id": providerID,
		}, l.correlation())
	}

	if _, err := l.registry.Start(l.provisionalID, providerID); err != nil {
		l.emitter.EmitLog(telemetry.SeverityError, fmt.Sprintf("session start transition rejected: %v", err), nil, l.correlation())
		return
	}
	if l.reconciler != nil {
		if err := l.reconciler.Reconcile(ctx, l.provisionalID, providerID); err != nil {
			l.emitter.EmitLog(telemetry.SeverityWarn, fmt.Sprintf("identifier reconciliation skipped: %v", err), nil, l.correlation())
		}
	}
	l.armSafetyTimer()
}

// terminate records the end of the call and fires the resolution trigger at
// most once. The guard flips before any asynchronous work so a second
// concurrent termination event cannot double-trigger.
func (l *Listener) terminate(reason string) {
	l.disarmSafetyTimer()

	if !l.triggered.CompareAndSwap(false, true) {
		return
	}

	callID := l.bestID()
	if _, err := l.registry.End(callID, reason); err != nil {
		// Structural fault path: the resolver turns an unknown session
		// into a terminal Failed outcome.
		l.emitter.EmitLog(telemetry.SeverityError, fmt.Sprintf("termination with no resolvable session: %v", err), nil, l.correlation())
		l.trigger(callID, reason)
		return
	}
	if ok, err := l.registry.TryTrigger(callID); err != nil || !ok {
		if err != nil {
			l.emitter.EmitLog(telemetry.SeverityError, fmt.Sprintf("resolution trigger rejected: %v", err), nil, l.correlation())
		}
		return
	}

	l.emitter.EmitLog(telemetry.SeverityInfo, "call terminated, resolution triggered", map[string]string{
		"reason": reason,
	}, l.correlation())
	l.trigger(callID, reason)
}

// SafetyTimeoutReason marks terminations synthesized by the safety timer.
const SafetyTimeoutReason = "safety-timeout"

func (l *Listener) armSafetyTimer() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopTimer != nil {
		return
	}
	l.stopTimer = l.newTimer(l.safetyTimeout, func() {
		l.emitter.EmitLog(telemetry.SeverityWarn, "safety timeout fired without a termination event", nil, l.correlation())
		l.terminate(SafetyTimeoutReason)
	})
}

func (l *Listener) disarmSafetyTimer() {
	l.mu.Lock()
	stop := l.stopTimer
	l.stopTimer = nil
	l.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (l *Listener) bestID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.providerID != "" {
		return l.providerID
	}
	return l.provisionalID
}

func (l *Listener) correlation() telemetry.Correlation {
	l.mu.Lock()
	providerID := l.providerID
	l.mu.Unlock()
	return telemetry.Correlation{
		CallID:        providerID,
		ProvisionalID: l.provisionalID,
		EmittedBy:     "listener",
	}
}
