package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/palmkit/throttle/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the postgres schema",
	Long: `Manage the schema used by the postgres store backend. The connection
comes from the DB_* settings whatever STORE_BACKEND is.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), func(m *database.Migrator) error {
			n, err := m.Up(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migrations\n", n)
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), func(m *database.Migrator) error {
			if err := m.Down(cmd.Context()); err != nil {
				return err
			}
			version, err := m.CurrentVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the schema version and pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), func(m *database.Migrator) error {
			if err := m.EnsureMigrationsTable(cmd.Context()); err != nil {
				return err
			}
			version, err := m.CurrentVersion(cmd.Context())
			if err != nil {
				return err
			}
			pending, err := m.PendingMigrations(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "schema at version %d, %d pending\n", version, len(pending))
			for _, p := range pending {
				fmt.Fprintf(out, "  %03d %s\n", p.Version, p.Name)
			}
			return nil
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}

func withMigrator(ctx context.Context, fn func(*database.Migrator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pool, err := database.NewPool(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	migrator, err := database.NewMigrator(pool)
	if err != nil {
		return err
	}
	return fn(migrator)
}
