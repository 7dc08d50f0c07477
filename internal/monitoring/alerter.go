package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-cli/internal/config"
	"github.com/sells-group/visitor-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertLowEnrichedRate AlertType = "low_enriched_rate"
	AlertDLQBacklog      AlertType = "dlq_backlog"
	AlertCostOverrun     AlertType = "cost_overrun"
)

// minLeadsForRate is the sample size below which the enriched rate is not judged.
const minLeadsForRate = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

const alertSource = "visitor-cli"

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and delivers breaches to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates an Alerter for cfg.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("monitoring", "webhook")
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.LeadsTotal >= minLeadsForRate && snap.EnrichedRate < a.cfg.MinEnrichedRate {
		alerts = append(alerts, Alert{
			Type:     AlertLowEnrichedRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Enriched rate %.1f%% is below threshold %.1f%% (%d enriched / %d leads in last %dh)",
				snap.EnrichedRate*100, a.cfg.MinEnrichedRate*100,
				snap.LeadsEnriched, snap.LeadsTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"enriched_rate": snap.EnrichedRate,
				"threshold":     a.cfg.MinEnrichedRate,
				"enriched":      snap.LeadsEnriched,
				"email_fail":    snap.LeadsEmailFail,
				"no_contact":    snap.LeadsNoContact,
			},
			Timestamp: now,
		})
	}

	if a.cfg.DLQDepthThreshold > 0 && snap.DLQDepth > a.cfg.DLQDepthThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDLQBacklog,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d visits waiting in the dead letter queue (threshold %d)",
				snap.DLQDepth, a.cfg.DLQDepthThreshold,
			),
			Details: map[string]any{
				"dlq_depth": snap.DLQDepth,
				"threshold": a.cfg.DLQDepthThreshold,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CostThresholdUSD > 0 && snap.CostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"API cost $%.2f exceeds threshold $%.2f in last %dh",
				snap.CostUSD, a.cfg.CostThresholdUSD, snap.LookbackHours,
			),
			Details: map[string]any{
				"cost_usd":      snap.CostUSD,
				"threshold_usd": a.cfg.CostThresholdUSD,
				"leads_total":   snap.LeadsTotal,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// webhookPayload is the body POSTed to the alert webhook. Text is a
// one-line summary for chat integrations that only render a text field.
type webhookPayload struct {
	Source string  `json:"source"`
	Text   string  `json:"text"`
	Alerts []Alert `json:"alerts"`
}

// SendAlerts posts alerts to the configured webhook in a single request and
// returns how many were delivered. Transient webhook failures are retried.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	msgs := make([]string, len(alerts))
	for i, al := range alerts {
		msgs[i] = fmt.Sprintf("[%s] %s", al.Severity, al.Message)
	}
	payload := webhookPayload{Source: alertSource, Text: strings.Join(msgs, "\n"), Alerts: alerts}

	err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
		return a.post(ctx, payload)
	})
	if err != nil {
		zap.L().Error("monitoring: failed to send alerts", zap.Int("alerts", len(alerts)), zap.Error(err))
		return 0
	}
	zap.L().Info("monitoring: alerts sent", zap.Int("alerts", len(alerts)))
	return len(alerts)
}

func (a *Alerter) post(ctx context.Context, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alerts")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resilience.StatusError("monitoring webhook", resp.StatusCode, respBody)
	}
	return nil
}
