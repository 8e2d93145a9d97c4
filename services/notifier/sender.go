package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSender posts events to a single webhook URL as JSON.
type HTTPSender struct {
	url    string
	client *http.Client
}

// NewHTTPSender builds a sender for the given URL. An empty URL yields a
// sender that silently drops events.
func NewHTTPSender(url string) *HTTPSender {
	return &HTTPSender{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookBody struct {
	Subject string         `json:"subject"`
	UserID  string         `json:"user_id,omitempty"`
	Origin  string         `json:"origin"`
	Payload map[string]any `json:"payload"`
}

func (s *HTTPSender) Send(ctx context.Context, subject string, event Event) error {
	if s.url == "" {
		return nil
	}

	b, err := json.Marshal(webhookBody{
		Subject: subject,
		UserID:  event.UserID,
		Origin:  event.Origin,
		Payload: event.Payload,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
