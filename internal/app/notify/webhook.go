package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/subscription"
)

// webhookPayload is the mini-app notification body.
type webhookPayload struct {
	NotificationID string   `json:"notificationId"`
	Title          string   `json:"title"`
	Body           string   `json:"body"`
	TargetURL      string   `json:"targetUrl"`
	Tokens         []string `json:"tokens"`
}

// WebhookSender posts to the notification URL a mini-app registered for the user.
type WebhookSender struct {
	client *http.Client
}

// NewWebhookSender creates a sender. A zero timeout defaults to 10s.
func NewWebhookSender(timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSender) CanReach(user subscription.User) bool {
	return user.NotificationURL != "" && user.NotificationToken != ""
}

func (s *WebhookSender) Send(ctx context.Context, user subscription.User, msg Message) error {
	if !s.CanReach(user) {
		return ErrNoEndpoint
	}
	body, err := json.Marshal(webhookPayload{
		NotificationID: uuid.NewString(),
		Title:          msg.Title,
		Body:           msg.Body,
		TargetURL:      msg.TargetURL,
		Tokens:         []string{user.NotificationToken},
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, user.NotificationURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}
