package main

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/tiger/call-resolution-pipeline/api/resolution"
	"github.com/tiger/call-resolution-pipeline/internal/resolution/backend"
	"github.com/tiger/call-resolution-pipeline/internal/resolution/completion"
	"github.com/tiger/call-resolution-pipeline/internal/resolution/fetcher"
	"github.com/tiger/call-resolution-pipeline/internal/resolution/poller"
	"github.com/tiger/call-resolution-pipeline/internal/resolution/resolver"
	"github.com/tiger/call-resolution-pipeline/internal/resolution/session"
	"github.com/tiger/call-resolution-pipeline/internal/telemetry"
)

// app holds the wired pipeline for one CLI invocation.
type app struct {
	client     *backend.Client
	registry   *session.Registry
	reconciler *session.Reconciler
	resolver   *resolver.Resolver
	telemetry  *telemetry.Pipeline

	closers []func() error
}

// renamerAdapter exposes the backend rename endpoint as the reconciler's
// renamer seam.
type renamerAdapter struct {
	client *backend.Client
}

func (r renamerAdapter) RenameCall(ctx context.Context, oldID, newID string) error {
	resp, err := r.client.RenameCall(ctx, oldID, newID)
	if err != nil {
		return err
	}
	if !resp.Updated() {
		return fmt.Errorf("backend did not apply rename: %s", resp.Status)
	}
	return nil
}

func wireApp(v *viper.Viper, telemetryOut io.Writer) (*app, error) {
	client, err := backend.New(backend.Config{
		BaseURL: v.GetString("backend-url"),
		APIKey:  v.GetString("api-key"),
		Timeout: v.GetDuration("timeout"),
	})
	if err != nil {
		return nil, fmt.Errorf("wire backend client: %w", err)
	}

	var sink telemetry.Sink
	if v.GetBool("verbose") && telemetryOut != nil {
		sink = telemetry.NewWriterSink(telemetryOut)
	}
	pipeline := telemetry.NewPipeline(sink, telemetry.Config{})

	a := &app{client: client, telemetry: pipeline}
	a.closers = append(a.closers, pipeline.Close)

	ledger, err := a.wireLedger(v)
	if err != nil {
		a.close()
		return nil, err
	}

	a.registry = session.NewRegistry(session.Config{})
	a.reconciler, err = session.NewReconciler(session.ReconcilerConfig{
		Registry: a.registry,
		Renamer:  renamerAdapter{client: client},
		Emitter:  pipeline,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("wire reconciler: %w", err)
	}

	fin, err := completion.New(completion.Config{
		Registry: a.registry,
		Ledger:   ledger,
		Emitter:  pipeline,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("wire finalizer: %w", err)
	}

	p, err := poller.New(client, poller.Config{Emitter: pipeline})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("wire poller: %w", err)
	}
	f, err := fetcher.New(client, fetcher.Config{Emitter: pipeline})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("wire fetcher: %w", err)
	}

	a.resolver, err = resolver.New(resolver.Config{
		Registry:  a.registry,
		Poller:    p,
		Fetcher:   f,
		Finalizer: fin,
		Emitter:   pipeline,
		Progress: func(callID string, update resolution.ProgressUpdate) {
			pipeline.EmitLog(telemetry.SeverityInfo,
				fmt.Sprintf("stage %s %d%% eta %ds", update.Stage, update.ProgressPercent, update.ETASeconds),
				nil, telemetry.Correlation{CallID: callID, Stage: string(update.Stage), EmittedBy: "cli"})
		},
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("wire resolver: %w", err)
	}
	return a, nil
}

func (a *app) wireLedger(v *viper.Viper) (completion.Ledger, error) {
	addr := v.GetString("redis-addr")
	if addr == "" {
		return completion.NewMemoryLedger(nil), nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("reach redis at %s: %w", addr, err)
	}
	return completion.NewRedisLedger(client, completion.RedisConfig{})
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}
