// Package notify is the boundary to the external notification service.
// Delivery is best effort; callers log failures and move on.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Sender delivers a meeting link to a participant.
type Sender interface {
	SendMeetingLink(ctx context.Context, email, url string) error
}

type HTTPSender struct {
	webhookURL string
	client     *http.Client
}

func NewHTTPSender(webhookURL string) *HTTPSender {
	return &HTTPSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *HTTPSender) SendMeetingLink(ctx context.Context, email, url string) error {
	body, err := json.Marshal(map[string]string{
		"email":       email,
		"meeting_url": url,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send meeting link: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("send meeting link: notifier returned %d", resp.StatusCode)
	}

	return nil
}

// Nop discards notifications. Used when no webhook is configured.
type Nop struct{}

func (Nop) SendMeetingLink(context.Context, string, string) error { return nil }
