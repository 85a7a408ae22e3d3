package main

import "github.com/spf13/cobra"

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ticksync",
		Short:         "Deterministic tick-based room replication",
		Long:          "ticksync runs the append-only room broker and a client repl for poking at rooms.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(serveCmd(), replCmd())
	return cmd
}
