package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/weathermart/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "weathermart",
	Short: "Weather warehouse rollup pipeline",
	Long:  "Extracts hourly forecasts from Open-Meteo, flattens them into hourly fact rows, and rolls them up into daily summaries in a partitioned warehouse.",
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

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
