package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tiger/call-resolution-pipeline/api/resolution"
	"github.com/tiger/call-resolution-pipeline/internal/resolution/backend"
)

func newClient(v *viper.Viper) (*backend.Client, error) {
	return backend.New(backend.Config{
		BaseURL: v.GetString("backend-url"),
		APIKey:  v.GetString("api-key"),
		Timeout: v.GetDuration("timeout"),
	})
}

func writeJSON(cmd *cobra.Command, value any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

type resolveOutput struct {
	CallID        string                    `json:"call_id"`
	State         string                    `json:"state"`
	Accepted      bool                      `json:"accepted"`
	Analysis      resolution.AnalysisResult `json:"analysis"`
	RewardApplied bool                      `json:"reward_applied"`
	PointsGranted int                       `json:"points_granted"`
	TotalPoints   int                       `json:"total_points"`
	Level         int                       `json:"level"`
	ProbeAttempts int                       `json:"probe_attempts"`
	FetchAttempts int                       `json:"fetch_attempts"`
}

func newResolveCmd(v *viper.Viper) *cobra.Command {
	var (
		callID        string
		provisionalID string
		userID        string
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Run the completion pipeline for a finished call",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			if provisionalID != "" && provisionalID != callID {
				if _, err := a.registry.Adopt(provisionalID, userID); err != nil {
					return err
				}
				if err := a.reconciler.Reconcile(ctx, provisionalID, callID); err != nil {
					return err
				}
			} else if _, err := a.registry.Adopt(callID, userID); err != nil {
				return err
			}

			outcome, err := a.resolver.Resolve(ctx, callID)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", callID, err)
			}
			return writeJSON(cmd, resolveOutput{
				CallID:        outcome.Session.CallID(),
				State:         string(outcome.Session.State),
				Accepted:      outcome.Accepted,
				Analysis:      outcome.Analysis,
				RewardApplied: outcome.RewardApplied,
				PointsGranted: outcome.PointsGranted,
				TotalPoints:   outcome.TotalPoints,
				Level:         outcome.Level,
				ProbeAttempts: outcome.ProbeAttempts,
				FetchAttempts: outcome.FetchAttempts,
			})
		},
	}
	cmd.Flags().StringVar(&callID, "call-id", "", "call id to resolve")
	cmd.Flags().StringVar(&provisionalID, "provisional-id", "", "provisional id to reconcile before resolving")
	cmd.Flags().StringVar(&userID, "user-id", "", "user credited with the reward")
	_ = cmd.MarkFlagRequired("call-id")
	return cmd
}

func newStatusCmd(v *viper.Viper) *cobra.Command {
	var callID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Probe analysis readiness for a call",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newClient(v)
			if err != nil {
				return err
			}
			status, err := client.CallStatus(cmd.Context(), callID)
			if err != nil {
				return err
			}
			return writeJSON(cmd, status)
		},
	}
	cmd.Flags().StringVar(&callID, "call-id", "", "call id to probe")
	_ = cmd.MarkFlagRequired("call-id")
	return cmd
}

func newLogCmd(v *viper.Viper) *cobra.Command {
	var callID string
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Fetch the raw analysis payload for a call",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newClient(v)
			if err != nil {
				return err
			}
			log, err := client.FetchCallLog(cmd.Context(), callID)
			if err != nil {
				return err
			}
			return writeJSON(cmd, log)
		},
	}
	cmd.Flags().StringVar(&callID, "call-id", "", "call id to fetch")
	_ = cmd.MarkFlagRequired("call-id")
	return cmd
}

func newRenameCmd(v *viper.Viper) *cobra.Command {
	var oldID, newID string
	cmd := &cobra.Command{
		Use:   "rename",
		Short: "Remap a provisional call id to the provider-assigned id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newClient(v)
			if err != nil {
				return err
			}
			resp, err := client.RenameCall(cmd.Context(), oldID, newID)
			if err != nil {
				return err
			}
			return writeJSON(cmd, resp)
		},
	}
	cmd.Flags().StringVar(&oldID, "old", "", "current (provisional) call id")
	cmd.Flags().StringVar(&newID, "new", "", "provider-assigned call id")
	_ = cmd.MarkFlagRequired("old")
	_ = cmd.MarkFlagRequired("new")
	return cmd
}
