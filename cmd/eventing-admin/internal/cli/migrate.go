package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/coregx/eventing"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the broker schema",
		Long: `Create every broker table and index. Statements are idempotent, so
running migrate against an existing schema is safe.

With --dry-run the statements are printed instead of executed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				return printMigrations(cmd.OutOrStdout(), rootOpts)
			}
			return withApp(cmd.Context(), rootOpts, func(a *app) error {
				if err := eventing.ApplyMigrations(cmd.Context(), a.db, a.cfg.Database.Driver, a.cfg.Database.Prefix); err != nil {
					return err
				}
				a.logger.Infof("Schema is up to date (driver=%s, prefix=%s)", a.cfg.Database.Driver, a.cfg.Database.Prefix)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the statements without executing them")
	return cmd
}

func printMigrations(w io.Writer, rootOpts *RootOptions) error {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}
	statements, err := eventing.MigrationStatements(cfg.Database.Driver, cfg.Database.Prefix)
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		fmt.Fprintf(w, "%s;\n\n", stmt)
	}
	return nil
}
