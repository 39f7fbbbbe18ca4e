package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/facility-locator/internal/db"
	"github.com/sells-group/facility-locator/internal/registry"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the cache schema, and the registry schema when configured",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		c, err := openCache(cmd)
		if err != nil {
			return err
		}
		_ = c.Close()
		zap.L().Info("cache schema ready", zap.String("driver", cfg.Store.Driver))

		if cfg.Registry.DatabaseURL == "" {
			return nil
		}
		pool, err := db.NewPool(ctx, cfg.Registry.DatabaseURL, poolConfig())
		if err != nil {
			return eris.Wrap(err, "migrate: connect registry")
		}
		defer pool.Close()

		if err := registry.NewPostgres(pool).Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate: registry")
		}
		zap.L().Info("registry schema ready")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func poolConfig() *db.PoolConfig {
	return &db.PoolConfig{MaxConns: cfg.Store.MaxConns, MinConns: cfg.Store.MinConns}
}
