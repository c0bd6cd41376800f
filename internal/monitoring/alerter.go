// Package monitoring raises webhook alerts about fetch runs that went badly.
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

	"github.com/sells-group/ontime-cli/internal/bulkfetch"
	"github.com/sells-group/ontime-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFetchFailureRate AlertType = "fetch_failure_rate"
	AlertFetchAborted     AlertType = "fetch_aborted"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	RunID     string         `json:"run_id,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a run summary against configured thresholds
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

// Evaluate checks the summary against thresholds and returns any alerts.
// Periods the origin reported as unavailable are expected (future months) and
// do not count towards the failure rate.
func (a *Alerter) Evaluate(runID string, s *bulkfetch.Summary) []Alert {
	if s == nil {
		return nil
	}
	var alerts []Alert
	now := time.Now().UTC()

	attempted := s.Total - s.AlreadySatisfied
	if attempted > 0 && s.Failed > 0 {
		rate := float64(s.Failed) / float64(attempted)
		if rate > a.cfg.FailureRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertFetchFailureRate,
				Severity: "high",
				RunID:    runID,
				Message: fmt.Sprintf(
					"Fetch failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d attempted)",
					rate*100, a.cfg.FailureRateThreshold*100, s.Failed, attempted,
				),
				Details: map[string]any{
					"failure_rate":   rate,
					"threshold":      a.cfg.FailureRateThreshold,
					"failed":         s.Failed,
					"attempted":      attempted,
					"failed_periods": periodStrings(s.FailedPeriods()),
				},
				Timestamp: now,
			})
		}
	}

	if s.Aborted {
		alerts = append(alerts, Alert{
			Type:     AlertFetchAborted,
			Severity: "medium",
			RunID:    runID,
			Message:  fmt.Sprintf("Fetch run aborted after %d of %d periods", s.AlreadySatisfied+s.Succeeded, s.Total),
			Details: map[string]any{
				"total":     s.Total,
				"succeeded": s.Succeeded,
				"failed":    s.Failed,
			},
			Timestamp: now,
		})
	}

	return alerts
}

func periodStrings(periods []bulkfetch.Period) []string {
	out := make([]string, len(periods))
	for i, p := range periods {
		out[i] = p.String()
	}
	return out
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
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
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
