package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var hostFlag string

	rootCmd := &cobra.Command{
		Use:           "gonzbd",
		Short:         "Queue-driven nzb retrieval daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&hostFlag, "host", "", "Daemon address for queue commands (default 127.0.0.1:<port>)")

	rootCmd.AddCommand(newRunCommand(&configFlag))
	rootCmd.AddCommand(newQueueCommand(&configFlag, &hostFlag))
	rootCmd.AddCommand(newPauseCommand(&configFlag, &hostFlag))
	rootCmd.AddCommand(newResumeCommand(&configFlag, &hostFlag))
	rootCmd.AddCommand(newHistoryCommand(&configFlag, &hostFlag))

	return rootCmd
}
