package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls the HTTP mail relay. Sending is best-effort: callers log
// failures and move on; a slow relay never blocks a booking.
type Client struct {
	BaseURL string
	From    string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip set, Send succeeds without doing
// anything, which keeps dev environments relay-free.
func New(baseURL, from string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		From:    from,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Send delivers one message through the relay.
func (c *Client) Send(ctx context.Context, to, subject, body string) error {
	if c.Skip {
		return nil
	}
	if to == "" {
		return fmt.Errorf("recipient required")
	}

	payload, _ := json.Marshal(map[string]string{
		"from":    c.From,
		"to":      to,
		"subject": subject,
		"body":    body,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/send", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("mail relay request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("mail relay error %s: %s", resp.Status, string(respBody))
	}
	return nil
}

// Health checks if the relay is reachable.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("mail relay unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("mail relay unhealthy: %s", resp.Status)
	}
	return nil
}
