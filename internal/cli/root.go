// Package cli implements the hublend command line: the API server, the
// maintenance sweep, schema migration, bulk donation intake and dev tokens.
package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// DefaultEnvFile is loaded when --env-file is not given.  A missing default
// file is not an error.
const DefaultEnvFile = ".env"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile string
	Verbose bool
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "hublend",
		Short: "Reservation and inventory engine for community lending hubs",
		Long: `hublend runs the lending hub reservation engine.

Configuration is read from the environment.  Variables in the env file are
loaded first without overriding ones already set.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(opts.EnvFile)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", DefaultEnvFile, "dotenv file to load before reading configuration")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewDonateCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if path == DefaultEnvFile && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load env file %s: %w", path, err)
}
