package main

import (
	"fmt"
	"strconv"

	"github.com/prohmpiriya/contacts-api/pkg/config"
	"github.com/spf13/cobra"
)

// migrationRunner is satisfied by *database.Migrator
type migrationRunner interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Close() error
}

type openFunc func(databaseURL string) (migrationRunner, error)

// newRootCmd creates the migrate CLI. --database-url falls back to the DATABASE_* settings.
func newRootCmd(open openFunc) *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the contacts database schema",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "postgres:// URL (defaults to DATABASE_* config)")

	// withMigrator resolves the URL, opens a migrator and closes it after fn
	withMigrator := func(fn func(cmd *cobra.Command, m migrationRunner, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			url := databaseURL
			if url == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				url = cfg.Database.URL()
			}

			m, err := open(url)
			if err != nil {
				return err
			}
			defer m.Close()
			return fn(cmd, m, args)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrationRunner, _ []string) error {
			if err := m.Up(); err != nil {
				return err
			}
			return printVersion(cmd, m)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrationRunner, _ []string) error {
			if err := m.Down(); err != nil {
				return err
			}
			return printVersion(cmd, m)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "steps N",
		Short: "Apply N migrations, or roll back when N is negative",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m migrationRunner, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n == 0 {
				return fmt.Errorf("steps must be a non-zero integer, got %q", args[0])
			}
			if err := m.Steps(n); err != nil {
				return err
			}
			return printVersion(cmd, m)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrationRunner, _ []string) error {
			return printVersion(cmd, m)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m migrationRunner, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("version must be an integer, got %q", args[0])
			}
			if err := m.Force(version); err != nil {
				return err
			}
			return printVersion(cmd, m)
		}),
	})

	return cmd
}

func printVersion(cmd *cobra.Command, m migrationRunner) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if dirty {
		cmd.Printf("version %d (dirty)\n", version)
		return nil
	}
	cmd.Printf("version %d\n", version)
	return nil
}
