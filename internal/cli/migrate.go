package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iliyamo/hub-lending/internal/database"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "migrate",
		Short:         "Apply the database schema",
		Long:          "Create any missing tables and indexes for the configured DB_DRIVER.  Re-running is harmless.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := database.Migrate(ctx, a.db); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema applied (%s)\n", a.cfg.DBDriver)
			return nil
		},
	}
}
