package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// NotifyClient forwards escrow events to the notification service.
// Delivery is best effort; failures are logged and dropped.
type NotifyClient struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func NewNotifyClient(baseURL string, log *zap.Logger) *NotifyClient {
	return &NotifyClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
		log:     log,
	}
}

func (n *NotifyClient) Send(ctx context.Context, eventType string, payload map[string]any) {
	body, err := json.Marshal(map[string]any{
		"type":    eventType,
		"payload": payload,
	})
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/internal/notifications", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("notification delivery failed", zap.String("type", eventType), zap.Error(err))
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.log.Warn("notification rejected",
			zap.String("type", eventType), zap.Int("status", resp.StatusCode))
	}
}
