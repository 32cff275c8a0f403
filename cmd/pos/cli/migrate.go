package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/billiard-pos/billiard-pos/internal/app"
	"github.com/billiard-pos/billiard-pos/internal/platform/db"
)

// MigrateCommand applies or rolls back schema migrations.
func MigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Run database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(db.MigrateUp), string(db.MigrateDown)},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			direction := db.MigrateUp
			if len(args) == 1 {
				direction = db.MigrateDirection(args[0])
			}
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.MigrationsDir
			}
			return db.Migrate(cfg.PGDSN, dir, direction, app.NewLogger(cfg, "migrate"))
		},
	}
	cmd.Flags().String("dir", "", "Migration source URL, defaults to MIGRATIONS_DIR")
	return cmd
}
