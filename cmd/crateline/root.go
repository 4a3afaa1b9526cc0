package main

import (
	"os"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	envFile    string
	json       bool
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "crateline",
		Short:         "Reconcile a streaming library and a DJ collection against MusicBrainz and Discogs",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", os.Getenv("CRATELINE_CONFIG_PATH"), "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Environment file loaded before the configuration")
	rootCmd.PersistentFlags().BoolVar(&flags.json, "json", false, "Write JSON even when stdout is a terminal")

	rootCmd.AddCommand(newServeCommand(flags))
	rootCmd.AddCommand(newImportCommand(flags))
	rootCmd.AddCommand(newStatusCommand(flags))
	rootCmd.AddCommand(newCandidatesCommand(flags))
	rootCmd.AddCommand(newMissingCommand(flags))
	rootCmd.AddCommand(newRetryCommand(flags))
	rootCmd.AddCommand(newConfirmCommand(flags))
	rootCmd.AddCommand(newBackupCommand(flags))
	rootCmd.AddCommand(newDBCommand(flags))

	return rootCmd
}
