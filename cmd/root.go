package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/facility-locator/internal/config"
	"github.com/sells-group/facility-locator/internal/engine"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "locate",
	Short: "Multi-source facility location resolution",
	Long:  "Resolves free-text facility names against a validated cache, a facility registry and several geocoders, cross-validates the candidates, and promotes reviewed results into the cache.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// buildEngine validates the config for mode and wires an engine.
func buildEngine(ctx context.Context, mode string) (*engine.Engine, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	return engine.Build(ctx, cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
