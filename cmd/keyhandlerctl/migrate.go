package main

import (
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"dovecot-keyhandler/internal/domain"
	"dovecot-keyhandler/internal/infra"
	"dovecot-keyhandler/internal/repository"
	"dovecot-keyhandler/internal/usecase"
	"dovecot-keyhandler/migrations"
)

func migrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage audit database migrations",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "Load migrations from this directory instead of the embedded set")

	newService := func() (*usecase.MigrationService, error) {
		db, err := openDB()
		if err != nil {
			return nil, err
		}
		var fsys fs.FS = migrations.FS
		if dir != "" {
			fsys = os.DirFS(dir)
		}
		return usecase.NewMigrationService(repository.NewMigrationRepository(db), fsys), nil
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := newService()
			if err != nil {
				return err
			}

			appliedCount, err := service.ApplyMigrations(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			if appliedCount == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations.")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", appliedCount)
			}
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := newService()
			if err != nil {
				return err
			}

			list, err := service.GetMigrationStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			// テーブル形式で出力
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
			for _, m := range list {
				appliedAt := "-"
				if m.Status == domain.MigrationStatusApplied && m.AppliedAt != nil {
					appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Version, m.Name, m.Status, appliedAt)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(up, status)
	return cmd
}

// openDB は監査DBへ接続する。
func openDB() (*gorm.DB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("--database-url is required (or set AUDIT_DATABASE_URL)")
	}
	db, err := infra.NewDB(databaseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
