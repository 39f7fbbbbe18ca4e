package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/facility-locator/internal/db"
	"github.com/sells-group/facility-locator/internal/registry"
)

var registryFile string

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Manage the facility registry",
}

var registryImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import facilities from CSV or XLSX into the Postgres registry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("import"); err != nil {
			return err
		}

		facilities, err := registry.LoadFile(registryFile)
		if err != nil {
			return eris.Wrap(err, "registry import")
		}

		pool, err := db.NewPool(ctx, cfg.Registry.DatabaseURL, poolConfig())
		if err != nil {
			return eris.Wrap(err, "registry import: connect")
		}
		defer pool.Close()

		reg := registry.NewPostgres(pool)
		if err := reg.Migrate(ctx); err != nil {
			return eris.Wrap(err, "registry import: migrate")
		}
		n, err := reg.Import(ctx, facilities)
		if err != nil {
			return eris.Wrap(err, "registry import")
		}

		zap.L().Info("import complete",
			zap.Int64("upserted", n),
			zap.Int("read", len(facilities)),
			zap.String("file", registryFile),
		)
		return nil
	},
}

func init() {
	registryImportCmd.Flags().StringVar(&registryFile, "file", "", "path to CSV or XLSX file (required)")
	_ = registryImportCmd.MarkFlagRequired("file")
	registryCmd.AddCommand(registryImportCmd)
	rootCmd.AddCommand(registryCmd)
}
