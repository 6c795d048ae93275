package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	zap "go.uber.org/zap"

	config "github.com/i-am-bee/acp-go/server/config"
	types "github.com/i-am-bee/acp-go/types"
)

// RunNotificationSender delivers run status change notifications to an
// external webhook
type RunNotificationSender interface {
	SendRunUpdate(ctx context.Context, run *types.Run) error
}

// HTTPRunNotificationSender posts run status changes to a webhook URL as
// structured CloudEvents
type HTTPRunNotificationSender struct {
	httpClient *http.Client
	logger     *zap.Logger
	cfg        config.NotificationsConfig
}

var _ RunNotificationSender = (*HTTPRunNotificationSender)(nil)

// NewHTTPRunNotificationSender creates an HTTP-based run notification sender
func NewHTTPRunNotificationSender(cfg config.NotificationsConfig, logger *zap.Logger) *HTTPRunNotificationSender {
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPRunNotificationSender{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
		cfg:    cfg,
	}
}

// NewRunStatusEvent creates a CloudEvent describing a run status change
func NewRunStatusEvent(run *types.Run) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(fmt.Sprintf("%s-%s", run.RunID, run.Status))
	event.SetType("acp.run." + string(run.Status))
	event.SetSource("acp/" + run.AgentName)
	event.SetTime(time.Now())
	event.SetExtension("runid", run.RunID)
	_ = event.SetData(cloudevents.ApplicationJSON, run)

	return event
}

// SendRunUpdate posts a run status change to the configured webhook
func (s *HTTPRunNotificationSender) SendRunUpdate(ctx context.Context, run *types.Run) error {
	event := NewRunStatusEvent(run)

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.cfg.WebhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/cloudevents+json")
	req.Header.Set("User-Agent", "ACP-Server/1.0")

	if s.cfg.WebhookToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.WebhookToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send run notification: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Warn("failed to close response body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("run notification webhook returned status %d", resp.StatusCode)
	}

	s.logger.Info("run notification sent",
		zap.String("run_id", run.RunID),
		zap.String("webhook_url", s.cfg.WebhookURL),
		zap.String("status", string(run.Status)),
		zap.Int("status_code", resp.StatusCode))

	return nil
}
