package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/config"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/store/pg"
)

var migrationsDir string

func resolveMigrationsDir() string {
	if migrationsDir != "" {
		return migrationsDir
	}
	if v := os.Getenv("NANOBOT_MIGRATIONS_DIR"); v != "" {
		return v
	}
	return "internal/store/pg/migrations"
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Database.PostgresDSN == "" {
				return fmt.Errorf("POSTGRES_DSN environment variable is not set")
			}
			version, err := pg.Migrate(resolveMigrationsDir(), cfg.Database.PostgresDSN)
			if err != nil {
				return err
			}
			fmt.Printf("migrated to version %d\n", version)
			return nil
		},
	}
	cmd.Flags().StringVar(&migrationsDir, "migrations-dir", "", "path to migrations directory")
	return cmd
}
