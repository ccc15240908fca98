package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tiger/call-resolution-pipeline/api/resolution"
	"github.com/tiger/call-resolution-pipeline/internal/telemetry"
)

// Renamer performs the remote call-id rename against the analysis backend.
type Renamer interface {
	RenameCall(ctx context.Context, oldID, newID string) error
}

// ReconcilerConfig wires the reconciler's collaborators.
type ReconcilerConfig struct {
	Registry *Registry
	Renamer  Renamer
	Emitter  telemetry.Emitter
}

// Reconciler keeps the provisional->provider id mapping consistent with
// backend-held records. Rename failures are non-fatal: downstream stages
// fall back to whichever id is currently valid.
type Reconciler struct {
	registry *Registry
	renamer  Renamer
	emitter  telemetry.Emitter

	mu      sync.Mutex
	applied map[string]string
}

// NewReconciler constructs an identifier reconciler.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Renamer == nil {
		return nil, fmt.Errorf("renamer is required")
	}
	if cfg.Emitter == nil {
		cfg.Emitter = telemetry.Noop()
	}
	return &Reconciler{
		registry: cfg.Registry,
		renamer:  cfg.Renamer,
		emitter:  cfg.Emitter,
		applied:  map[string]string{},
	}, nil
}

// Reconcile remaps the session locally and issues the remote rename once per
// (provisional, provider) pair. Equal ids and repeat pairs are no-ops; a
// failed remote rename is logged and left eligible for a later retry.
func (r *Reconciler) Reconcile(ctx context.Context, provisionalID, providerID string) error {
	provisionalID = strings.TrimSpace(provisionalID)
	providerID = strings.TrimSpace(providerID)
	if provisionalID == "" || providerID == "" {
		return fmt.Errorf("provisional and provider ids are required")
	}
	if provisionalID == providerID {
		return nil
	}

	if _, err := r.registry.Remap(provisionalID, providerID); err != nil {
		return err
	}

	r.mu.Lock()
	done := r.applied[provisionalID] == providerID
	r.mu.Unlock()
	if done {
		return nil
	}

	correlation := telemetry.Correlation{
		CallID:        providerID,
		ProvisionalID: provisionalID,
		Stage:         string(resolution.StageReconciling),
		EmittedBy:     "reconciler",
	}
	if err := r.renamer.RenameCall(ctx, provisionalID, providerID); err != nil {
		r.emitter.EmitLog(telemetry.SeverityWarn,
			fmt.Sprintf("call-id rename failed, proceeding with best-available id: %v", err),
			nil, correlation)
		return nil
	}

	r.mu.Lock()
	r.applied[provisionalID] = providerID
	r.mu.Unlock()

	r.emitter.EmitLog(telemetry.SeverityInfo, "call-id rename applied", map[string]string{
		"old_call_id": provisionalID,
		"new_call_id": providerID,
	}, correlation)
	return nil
}
