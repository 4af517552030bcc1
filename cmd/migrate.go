package cmd

import (
	"fmt"

	"github.com/bidhouse/apiserver/config"
	"github.com/bidhouse/apiserver/internal/db"
	"github.com/spf13/cobra"
)

var migrateSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabaseConfig(func(cfg config.DatabaseConfig) error {
			if migrateSteps > 0 {
				return db.Steps(cfg, migrateSteps)
			}
			return db.Migrate(cfg, db.Up)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations (all of them unless --steps is set)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabaseConfig(func(cfg config.DatabaseConfig) error {
			if migrateSteps > 0 {
				return db.Steps(cfg, -migrateSteps)
			}
			return db.Migrate(cfg, db.Down)
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabaseConfig(func(cfg config.DatabaseConfig) error {
			version, dirty, ok, err := db.Version(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case !ok:
				fmt.Fprintln(out, "no migrations applied")
			case dirty:
				fmt.Fprintf(out, "%d (dirty)\n", version)
			default:
				fmt.Fprintln(out, version)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	for _, c := range []*cobra.Command{migrateUpCmd, migrateDownCmd} {
		c.Flags().IntVar(&migrateSteps, "steps", 0, "number of migrations to apply; 0 means all")
	}
}

func withDatabaseConfig(fn func(config.DatabaseConfig) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	return fn(cfg.Database)
}
