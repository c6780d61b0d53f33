package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/digest-engine/internal/checkpoint"
	"github.com/sells-group/digest-engine/internal/model"
)

var (
	consolidateWindow string
	consolidateOut    string
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Run the end-of-window consolidation job",
	Long: "Extracts entities, merges near-duplicates, suppresses stories already " +
		"selected in earlier windows, ranks the survivors, runs the full evaluation on " +
		"the top candidates and writes the selected records as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "consolidate")
		if err != nil {
			return err
		}
		defer env.Close()

		windowID, err := resolveWindow(consolidateWindow, time.Now())
		if err != nil {
			return err
		}

		report, err := runConsolidate(ctx, env, windowID)
		if err != nil {
			return err
		}

		if consolidateOut == "" {
			return writeReport(os.Stdout, report)
		}
		f, err := os.Create(consolidateOut)
		if err != nil {
			return eris.Wrapf(err, "create %s", consolidateOut)
		}
		if err := writeReport(f, report); err != nil {
			_ = f.Close()
			return err
		}
		return eris.Wrapf(f.Close(), "close %s", consolidateOut)
	},
}

func init() {
	consolidateCmd.Flags().StringVar(&consolidateWindow, "window", "", "window id to consolidate, e.g. w-2026-10-12 (default: current window)")
	consolidateCmd.Flags().StringVar(&consolidateOut, "out", "", "write the JSON report to this file instead of stdout")
	rootCmd.AddCommand(consolidateCmd)
}

func runConsolidate(ctx context.Context, env *jobEnv, windowID string) (*model.ConsolidationReport, error) {
	report, err := env.newPipeline().Consolidate(ctx, windowID)
	if err != nil {
		return report, eris.Wrapf(err, "consolidate %s", windowID)
	}
	return report, nil
}

// resolveWindow returns id unchanged when set, otherwise the id of the
// window containing now.
func resolveWindow(id string, now time.Time) (string, error) {
	if id != "" {
		if _, err := checkpoint.ParseWindow(id, cfg.Window); err != nil {
			return "", err
		}
		return id, nil
	}
	w, err := checkpoint.WindowFor(now, cfg.Window)
	if err != nil {
		return "", err
	}
	return w.ID, nil
}

func writeReport(w io.Writer, report *model.ConsolidationReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(report), "encode report")
}
