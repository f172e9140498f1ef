package cli

import (
	"github.com/spf13/cobra"

	"catalog.evalgo.org/common"
	"catalog.evalgo.org/internal/store/pgstore"
)

// migrateCmd creates or updates the catalog schema.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "create or update the catalog schema on PostgreSQL",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := common.NewLogger(*newLogger(cfg))

		backend, err := pgstore.Open(cmd.Context(), pgstore.Config{
			WriteDSN:        cfg.Postgres.WriteDSN,
			ReadDSN:         cfg.Postgres.ReadDSN,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		defer backend.Close()

		entry := common.ServiceLogger(logger, cfg.Service.Name, cfg.Service.Version)
		if err := common.LogOperation(entry, "migrate", backend.Migrate); err != nil {
			return err
		}
		logger.Info("catalog schema is up to date")
		return nil
	},
}

func init() {
	RootCmd.AddCommand(migrateCmd)
}
