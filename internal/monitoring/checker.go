package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/digest-engine/internal/model"
)

// Checker runs the post-job health check: collect, evaluate, send.
type Checker struct {
	collector *Collector
	alerter   *Alerter
}

// NewChecker wires a collector to an alerter.
func NewChecker(collector *Collector, alerter *Alerter) *Checker {
	return &Checker{collector: collector, alerter: alerter}
}

// Check never fails the job it follows; problems are logged.
func (c *Checker) Check(ctx context.Context, cp *model.Checkpoint, failures model.FailureSummary, now time.Time) []Alert {
	log := zap.L().With(zap.String("window", cp.WindowID))

	snap, err := c.collector.Collect(ctx, cp, now)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return nil
	}

	alerts := c.alerter.Evaluate(snap, failures)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}
