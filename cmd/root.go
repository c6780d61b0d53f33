package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/digest-engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "digest",
	Short: "Progressive filter and accumulation engine for news items",
	Long: "Collects items daily into a per-window checkpoint, screens them through a cheap " +
		"heuristic and a batched model pass, then consolidates the window with dedup, " +
		"ranking and a full evaluation of the top candidates.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
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
