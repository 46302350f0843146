package main

import (
	"os"

	"github.com/spf13/cobra"
)

var envFile string

func main() {
	root := &cobra.Command{
		Use:           "argus",
		Short:         "Contract and request record service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the environment")

	root.AddCommand(newServeCommand(), newProbeCommand(), newMigrateCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
