package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/digest-engine/internal/checkpoint"
	"github.com/sells-group/digest-engine/internal/monitoring"
)

var statusWindow string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored windows, or the health of one window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "status")
		if err != nil {
			return err
		}
		defer env.Close()

		if statusWindow == "" {
			infos, err := env.Checkpoints.List(ctx)
			if err != nil {
				return eris.Wrap(err, "list checkpoints")
			}
			formatCheckpoints(os.Stdout, infos)
			return nil
		}

		cp, err := env.Checkpoints.Load(ctx, statusWindow)
		if err != nil {
			return eris.Wrapf(err, "load %s", statusWindow)
		}
		if cp == nil {
			return eris.Errorf("no checkpoint for window %s", statusWindow)
		}

		snap, err := monitoring.NewCollector(env.Ledger).Collect(ctx, cp, time.Now())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusWindow, "window", "", "window id to inspect (default: list every stored window)")
	rootCmd.AddCommand(statusCmd)
}

// formatCheckpoints writes one line per stored window.
func formatCheckpoints(out io.Writer, infos []checkpoint.Info) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "WINDOW\tSTART\tITEMS\tUPDATED\tARCHIVED")
	_, _ = fmt.Fprintln(w, "------\t-----\t-----\t-------\t--------")

	for _, info := range infos {
		archived := "-"
		if info.ArchivedAt != nil {
			archived = info.ArchivedAt.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			info.WindowID,
			info.WindowStart.Format(time.DateOnly),
			info.Items,
			info.UpdatedAt.Format("2006-01-02 15:04"),
			archived,
		)
	}
	_ = w.Flush()
}
