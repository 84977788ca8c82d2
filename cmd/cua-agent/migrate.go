package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/kestrelrun/cua-agent/internal/config"
	"github.com/kestrelrun/cua-agent/internal/storage"
)

func buildMigrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema (tasks, messages, task locks)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), *configPath, func(ctx context.Context, m *storage.Migrator) error {
				applied, err := m.Up(ctx, 0)
				if err != nil {
					return err
				}
				for _, id := range applied {
					fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", id)
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "already up to date")
				}
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), *configPath, func(ctx context.Context, m *storage.Migrator) error {
				applied, pending, err := m.Status(ctx)
				if err != nil {
					return err
				}
				for _, entry := range applied {
					fmt.Fprintf(cmd.OutOrStdout(), "applied  %s (%s)\n", entry.ID, entry.AppliedAt.Format("2006-01-02T15:04:05Z07:00"))
				}
				for _, m := range pending {
					fmt.Fprintf(cmd.OutOrStdout(), "pending  %s\n", m.ID)
				}
				return nil
			})
		},
	})
	return cmd
}

// runMigrate opens the database without storage.Open's implicit
// migrate-on-connect so "migrate status" reflects what is actually pending.
func runMigrate(ctx context.Context, configPath string, fn func(context.Context, *storage.Migrator) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	migrator, err := storage.NewMigrator(db)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}
	return fn(ctx, migrator)
}
