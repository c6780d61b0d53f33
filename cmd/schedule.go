package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the collection and consolidation jobs on their cron schedules",
	Long: "Blocks and runs `collect` (schedule.collect_cron, reading schedule.inbox) and " +
		"`consolidate` (schedule.consolidate_cron, current window) in the window timezone. " +
		"Jobs never overlap: a job that fires while another is running waits for it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "collect")
		if err != nil {
			return err
		}
		defer env.Close()
		if err := cfg.Validate("consolidate"); err != nil {
			return err
		}

		s, err := newScheduler(ctx, env)
		if err != nil {
			return err
		}

		s.cron.Start()
		zap.L().Info("schedule: started",
			zap.String("collect_cron", cfg.Schedule.CollectCron),
			zap.String("consolidate_cron", cfg.Schedule.ConsolidateCron),
			zap.String("timezone", cfg.Window.Timezone),
		)

		<-ctx.Done()
		zap.L().Info("schedule: shutting down, waiting for running jobs")
		<-s.cron.Stop().Done()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}

// scheduler serializes the two jobs on one cron.
type scheduler struct {
	cron *cron.Cron
	env  *jobEnv
	mu   sync.Mutex
}

func newScheduler(ctx context.Context, env *jobEnv) (*scheduler, error) {
	loc, err := cfg.Window.Location()
	if err != nil {
		return nil, err
	}

	s := &scheduler{
		env: env,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger{zap.L().Sugar()}),
			cron.WithChain(cron.Recover(cronLogger{zap.L().Sugar()})),
		),
	}

	if _, err := s.cron.AddFunc(cfg.Schedule.CollectCron, func() { s.collect(ctx) }); err != nil {
		return nil, eris.Wrapf(err, "schedule: parse collect_cron %q", cfg.Schedule.CollectCron)
	}
	if _, err := s.cron.AddFunc(cfg.Schedule.ConsolidateCron, func() { s.consolidate(ctx) }); err != nil {
		return nil, eris.Wrapf(err, "schedule: parse consolidate_cron %q", cfg.Schedule.ConsolidateCron)
	}
	return s, nil
}

func (s *scheduler) collect(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	report, err := runCollect(ctx, s.env, time.Now(), nil)
	if err != nil {
		zap.L().Error("schedule: collect failed", zap.Error(err))
		return
	}
	zap.L().Info("schedule: collect complete",
		zap.String("window", report.WindowID),
		zap.Int("day", report.Day),
		zap.Int("new", report.New),
		zap.Int("tier2_admitted", report.Tier2Admitted),
	)
}

func (s *scheduler) consolidate(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	windowID, err := resolveWindow("", time.Now())
	if err != nil {
		zap.L().Error("schedule: resolve window", zap.Error(err))
		return
	}
	report, err := runConsolidate(ctx, s.env, windowID)
	if err != nil {
		zap.L().Error("schedule: consolidate failed", zap.String("window", windowID), zap.Error(err))
		return
	}
	zap.L().Info("schedule: consolidate complete",
		zap.String("window", windowID),
		zap.Int("selected", len(report.Records)),
	)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
