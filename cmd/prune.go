package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/digest-engine/internal/checkpoint"
)

var pruneRetentionDays int

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete archived checkpoints and old representatives past retention",
	Long: "Removes archived checkpoints whose window started before the retention cutoff, " +
		"and forgets representatives recorded before it. Checkpoints that were never " +
		"archived are kept.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "prune")
		if err != nil {
			return err
		}
		defer env.Close()

		days := pruneRetentionDays
		if days <= 0 {
			days = cfg.Store.RetentionDays
		}
		if days <= 0 {
			return eris.New("retention must be at least one day")
		}
		cutoff := time.Now().AddDate(0, 0, -days)

		pruned, err := checkpoint.Prune(ctx, env.Checkpoints, cutoff)
		if err != nil {
			return eris.Wrap(err, "prune checkpoints")
		}

		reps, err := env.Ledger.PruneRepresentatives(ctx, cutoff)
		if err != nil {
			return eris.Wrap(err, "prune representatives")
		}

		zap.L().Info("prune complete",
			zap.Time("cutoff", cutoff),
			zap.Strings("windows", pruned),
			zap.Int("representatives", reps),
		)
		_, _ = fmt.Fprintf(os.Stdout, "Pruned %d checkpoint(s) and %d representative(s) older than %s\n",
			len(pruned), reps, cutoff.Format(time.DateOnly))
		return nil
	},
}

func init() {
	pruneCmd.Flags().IntVar(&pruneRetentionDays, "retention-days", 0, "retention in days (default: store.retention_days)")
	rootCmd.AddCommand(pruneCmd)
}
