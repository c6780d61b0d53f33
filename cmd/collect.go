package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/digest-engine/internal/model"
	"github.com/sells-group/digest-engine/internal/source"
)

var (
	collectInputs []string
	collectDate   string
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run the daily collection job (ingest, Tier 1, Tier 2)",
	Long: "Appends the day's items to the current window's checkpoint and screens every " +
		"item still waiting on Tier 1 or Tier 2. Without --input, every *.jsonl file in " +
		"schedule.inbox is read and moved to processed/ once the job succeeds.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		date, err := parseDate(collectDate, time.Now())
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "collect")
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := runCollect(ctx, env, date, collectInputs)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	collectCmd.Flags().StringSliceVar(&collectInputs, "input", nil, "JSONL item files to collect (default: every file in schedule.inbox)")
	collectCmd.Flags().StringVar(&collectDate, "date", "", "collection date as YYYY-MM-DD in the window timezone (default: today)")
	rootCmd.AddCommand(collectCmd)
}

// runCollect reads the inputs (or the inbox) and runs one collection.
func runCollect(ctx context.Context, env *jobEnv, date time.Time, inputs []string) (*model.DayReport, error) {
	fromInbox := len(inputs) == 0
	if fromInbox {
		files, err := source.InboxFiles(cfg.Schedule.Inbox)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			zap.L().Info("collect: inbox is empty, resuming pending work only",
				zap.String("inbox", cfg.Schedule.Inbox),
			)
		}
		inputs = files
	}

	batch, err := source.ReadFiles(ctx, inputs)
	if err != nil {
		return nil, err
	}

	report, err := env.newPipeline().Collect(ctx, date, batch)
	if err != nil {
		return report, eris.Wrap(err, "collect")
	}

	if fromInbox && len(batch.Files) > 0 {
		if err := source.MarkProcessed(cfg.Schedule.Inbox, batch.Files); err != nil {
			return report, err
		}
	}
	return report, nil
}

// parseDate resolves a --date flag in the window timezone. An empty value
// means now.
func parseDate(value string, now time.Time) (time.Time, error) {
	loc, err := cfg.Window.Location()
	if err != nil {
		return time.Time{}, err
	}
	if value == "" {
		return now.In(loc), nil
	}
	t, err := time.ParseInLocation(time.DateOnly, value, loc)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "parse --date %q", value)
	}
	return t, nil
}
