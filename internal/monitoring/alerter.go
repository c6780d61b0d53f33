package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/digest-engine/internal/config"
	"github.com/sells-group/digest-engine/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertErrorLoss   AlertType = "error_loss"
	AlertRunFailures AlertType = "run_failures"
	AlertCostOverrun AlertType = "cost_overrun"
)

// minScreened is the smallest sample the error-loss ratio is judged on.
const minScreened = 10

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	WindowID  string         `json:"window_id"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a WindowSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// ErrorLoss is the share of items that tried to advance but were lost to
// errors rather than filtered by a threshold.
func ErrorLoss(snap *WindowSnapshot, f model.FailureSummary) float64 {
	lost := f.Lost()
	attempted := snap.Screened + lost
	if attempted == 0 {
		return 0
	}
	return float64(lost) / float64(attempted)
}

// Evaluate checks the snapshot and the job's failures against thresholds.
func (a *Alerter) Evaluate(snap *WindowSnapshot, failures model.FailureSummary) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	lost := failures.Lost()
	ratio := ErrorLoss(snap, failures)
	if a.cfg.ErrorLossThreshold > 0 && snap.Screened+lost >= minScreened && ratio > a.cfg.ErrorLossThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertErrorLoss,
			Severity: "high",
			WindowID: snap.WindowID,
			Message: fmt.Sprintf(
				"%.1f%% of items lost to errors exceeds threshold %.1f%% (%d lost in window %s)",
				ratio*100, a.cfg.ErrorLossThreshold*100, lost, snap.WindowID,
			),
			Details: map[string]any{
				"ratio":                ratio,
				"threshold":            a.cfg.ErrorLossThreshold,
				"tier2_failed_batches": failures.Tier2FailedBatches,
				"tier2_failed_items":   failures.Tier2FailedItems,
				"tier3_failed":         failures.Tier3Failed,
				"budget_skipped":       failures.BudgetSkipped,
			},
			Timestamp: now,
		})
	}

	if snap.RunsFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailures,
			Severity: "medium",
			WindowID: snap.WindowID,
			Message:  fmt.Sprintf("%d of %d run(s) failed in window %s", snap.RunsFailed, snap.Runs, snap.WindowID),
			Details: map[string]any{
				"failed": snap.RunsFailed,
				"runs":   snap.Runs,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CostThresholdUSD > 0 && snap.CostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			WindowID: snap.WindowID,
			Message: fmt.Sprintf(
				"API cost $%.2f exceeds threshold $%.2f in window %s",
				snap.CostUSD, a.cfg.CostThresholdUSD, snap.WindowID,
			),
			Details: map[string]any{
				"cost_usd":      snap.CostUSD,
				"threshold_usd": a.cfg.CostThresholdUSD,
				"runs":          snap.Runs,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("window", alert.WindowID),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
