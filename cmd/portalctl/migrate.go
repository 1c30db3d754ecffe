package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"consultdesk.app/internal/migrate"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateSeedCmd, migrateStatusCmd)

	migrateCmd.PersistentFlags().String("dsn", os.Getenv("DATABASE_URL"), "PostgreSQL DSN (defaults to $DATABASE_URL)")
	migrateCmd.PersistentFlags().Duration("timeout", 30*time.Second, "Timeout for the whole command")
	migrateCmd.PersistentFlags().String("dir", "", "Read sql/ and seeds/ from this directory instead of the embedded copy")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply, roll back or inspect the embedded SQL migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: withManager(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
		applied, err := m.Up(ctx)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing to apply")
		}
		for _, name := range applied {
			fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
		}
		return nil
	}),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Args:  cobra.NoArgs,
	RunE: withManager(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
		name, err := m.Down(ctx)
		if err != nil {
			return err
		}
		if name == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", name)
		return nil
	}),
}

var migrateSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load catalog seed data",
	Args:  cobra.NoArgs,
	RunE: withManager(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
		applied, err := m.Seed(ctx)
		if err != nil {
			return err
		}
		for _, name := range applied {
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %s\n", name)
		}
		return nil
	}),
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied migrations",
	Args:  cobra.NoArgs,
	RunE: withManager(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
		history, err := m.Status(ctx)
		if err != nil {
			return err
		}
		for _, item := range history {
			fmt.Fprintln(cmd.OutOrStdout(), item)
		}
		return nil
	}),
}

type managerFunc func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error

func withManager(fn managerFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		dsn, _ := cmd.Flags().GetString("dsn")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		dir, _ := cmd.Flags().GetString("dir")
		if dsn == "" {
			return errors.New("missing DSN: provide --dsn or DATABASE_URL")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		var opts []migrate.Option
		if dir != "" {
			opts = append(opts, migrate.WithFiles(os.DirFS(dir), "sql", "seeds"))
		}
		if err := fn(ctx, cmd, migrate.NewManager(db, opts...)); err != nil {
			return fmt.Errorf("migrate %s: %w", cmd.Name(), err)
		}
		return nil
	}
}
