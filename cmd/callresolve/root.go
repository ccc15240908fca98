package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CALLRES")
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "callresolve",
		Short:         "Resolve completed voice calls against the analysis backend",
		Long:          "callresolve drives a finished call through the completion pipeline: it probes the analysis backend for readiness, fetches the scored transcript, reconciles provisional call ids, and settles the reward exactly once.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("backend-url", "http://localhost:8000", "analysis backend base URL")
	flags.String("api-key", "", "bearer token for backend requests")
	flags.Duration("timeout", 0, "per-request backend timeout")
	flags.String("redis-addr", "", "redis address for the shared reward ledger (in-memory when empty)")
	flags.Bool("verbose", false, "emit telemetry events to stderr")
	for _, key := range []string{"backend-url", "api-key", "timeout", "redis-addr", "verbose"} {
		_ = v.BindPFlag(key, flags.Lookup(key))
	}

	rootCmd.AddCommand(
		newResolveCmd(v),
		newStatusCmd(v),
		newLogCmd(v),
		newRenameCmd(v),
	)
	return rootCmd
}
