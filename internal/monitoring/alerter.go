package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertBreakerOpen    AlertType = "smtp_breaker_open"
	AlertFailedSends    AlertType = "failed_sends"
	AlertPendingBacklog AlertType = "pending_backlog"
)

// Alert is one webhook payload.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter compares snapshots against thresholds and posts alerts.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns the alerts raised by snap. prev is the previous snapshot
// and may be nil; failed sends are alerted on growth since then.
func (a *Alerter) Evaluate(prev, snap *Snapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt

	if len(snap.OpenBreakers) > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertBreakerOpen,
			Severity:  "high",
			Message:   fmt.Sprintf("SMTP breaker open for %s; sends to it are paused", strings.Join(snap.OpenBreakers, ", ")),
			Details:   map[string]any{"breakers": snap.OpenBreakers},
			Timestamp: now,
		})
	}

	if prev != nil && a.cfg.FailedDeltaThreshold > 0 {
		delta := snap.Failed - prev.Failed
		if delta >= a.cfg.FailedDeltaThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertFailedSends,
				Severity: "high",
				Message: fmt.Sprintf("%d sends failed since %s (threshold %d)",
					delta, prev.CollectedAt.Format(time.RFC3339), a.cfg.FailedDeltaThreshold),
				Details:   map[string]any{"new_failures": delta, "failed_total": snap.Failed},
				Timestamp: now,
			})
		}
	}

	if a.cfg.PendingBacklogThreshold > 0 && snap.Pending >= a.cfg.PendingBacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertPendingBacklog,
			Severity: "medium",
			Message: fmt.Sprintf("%d items pending, threshold %d",
				snap.Pending, a.cfg.PendingBacklogThreshold),
			Details:   map[string]any{"pending": snap.Pending, "sent_today": snap.SentToday},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts posts alerts to the webhook and returns how many were accepted.
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
