package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

type rootFlags struct {
	configPath string
	port       string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "gateway",
		Short:         "Meal photo recognition and nutrition gateway",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		// Run with no subcommand serves, as the service image expects.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&flags.port, "port", "", "listen port (overrides config and PORT)")

	root.AddCommand(
		newServeCmd(flags),
		newAnalyzeCmd(flags),
	)
	return root
}
