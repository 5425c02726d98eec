// Package webhook implements an HTTP webhook notifier
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/newthinker/tickflow/internal/core"
	"github.com/newthinker/tickflow/internal/notifier"
)

// Webhook implements the Notifier interface for HTTP webhooks
type Webhook struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// New creates a new Webhook notifier
func New(url string, headers map[string]string) *Webhook {
	return &Webhook{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Init(cfg notifier.Config) error {
	if url, ok := cfg.Params["url"].(string); ok {
		w.url = url
	}
	switch headers := cfg.Params["headers"].(type) {
	case map[string]string:
		w.headers = headers
	case map[string]any:
		w.headers = make(map[string]string, len(headers))
		for k, v := range headers {
			w.headers[k] = fmt.Sprint(v)
		}
	}

	if w.url == "" {
		return fmt.Errorf("webhook: url is required")
	}

	if w.client == nil {
		w.client = &http.Client{Timeout: 30 * time.Second}
	}

	return nil
}

func (w *Webhook) Send(ctx context.Context, alert core.RiskAlert) error {
	return w.post(ctx, alertToPayload(alert))
}

func (w *Webhook) SendBatch(ctx context.Context, alerts []core.RiskAlert) error {
	if len(alerts) == 0 {
		return nil
	}

	payloads := make([]map[string]any, len(alerts))
	for i, alert := range alerts {
		payloads[i] = alertToPayload(alert)
	}

	batchPayload := map[string]any{
		"type":   "batch",
		"count":  len(alerts),
		"alerts": payloads,
	}

	return w.post(ctx, batchPayload)
}

func alertToPayload(alert core.RiskAlert) map[string]any {
	return map[string]any{
		"type":           "risk_alert",
		"symbol":         alert.Symbol,
		"risk_type":      alert.RiskType,
		"severity":       alert.Severity,
		"message":        alert.Message,
		"opportunity_id": alert.OpportunityID,
		"metadata":       alert.Metadata,
		"triggered_at":   alert.TriggeredAt.Format(time.RFC3339),
	}
}

func (w *Webhook) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: server returned %d", resp.StatusCode)
	}

	return nil
}
