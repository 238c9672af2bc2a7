// Package notify delivers fire-and-forget alerts to named webhook
// channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ratio-governance/internal/governance"
)

// Channel names used by the settlement orchestrator.
const (
	ChannelDashboard = "dashboard"
	ChannelAgent     = "agent"
)

// WebhookNotifier posts alerts as JSON to per-channel webhook URLs.
// Channels without a configured URL are silently skipped, so running
// without webhooks configured is fine.
type WebhookNotifier struct {
	urls   map[string]string
	client *http.Client
}

var _ governance.Notifier = (*WebhookNotifier)(nil)

func NewWebhookNotifier(dashboardURL, agentURL string) *WebhookNotifier {
	urls := make(map[string]string)
	if dashboardURL != "" {
		urls[ChannelDashboard] = dashboardURL
	}
	if agentURL != "" {
		urls[ChannelAgent] = agentURL
	}
	return &WebhookNotifier{
		urls:   urls,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, channel string, a governance.Alert) error {
	url, ok := n.urls[channel]
	if !ok {
		return nil
	}
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert to %s: %w", channel, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert to %s rejected: status %d", channel, resp.StatusCode)
	}
	return nil
}
