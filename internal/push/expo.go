// Package push sends batched notifications through the Expo push gateway.
// The server treats tokens as opaque beyond the ExponentPushToken[ prefix
// check at registration; delivery failures are logged, never fatal.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/lockbox/backend/internal/models"
)

// DefaultGatewayURL is the public Expo push endpoint.
const DefaultGatewayURL = "https://exp.host/--/api/v2/push/send"

// Message is one per-recipient entry in a batch request.
type Message struct {
	To               string         `json:"to"`
	Title            string         `json:"title"`
	Body             string         `json:"body"`
	Data             map[string]any `json:"data,omitempty"`
	Sound            string         `json:"sound,omitempty"`
	Badge            int            `json:"badge,omitempty"`
	ContentAvailable bool           `json:"_contentAvailable,omitempty"`
}

// Ticket is the gateway's per-recipient receipt.
type Ticket struct {
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

type response struct {
	Data []Ticket `json:"data"`
}

// Client posts notification batches to the Expo gateway.
type Client struct {
	url    string
	http   *http.Client
	logger *log.Logger
}

// NewClient creates a push client. An empty url selects the public gateway.
func NewClient(url string) *Client {
	if url == "" {
		url = DefaultGatewayURL
	}
	return &Client{
		url:    url,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: log.New(log.Writer(), "[PUSH] ", log.LstdFlags),
	}
}

// Send batches all recipients into one request. An empty token list is a
// successful no-op. Non-ok tickets are logged but do not fail the batch.
func (c *Client) Send(ctx context.Context, tokens []models.PushToken, title, body string, data map[string]any) ([]Ticket, error) {
	if len(tokens) == 0 {
		c.logger.Println("no push tokens provided, skipping push notification")
		return nil, nil
	}

	messages := make([]Message, 0, len(tokens))
	for _, tok := range tokens {
		messages = append(messages, Message{
			To:               tok.PushToken,
			Title:            title,
			Body:             body,
			Data:             data,
			Sound:            "default",
			Badge:            1,
			ContentAvailable: true, // background delivery on iOS
		})
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("marshal push batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send push batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("push gateway returned %d: %s", resp.StatusCode, raw)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode push response: %w", err)
	}

	for i, ticket := range out.Data {
		if ticket.Status != "ok" {
			c.logger.Printf("push %d failed: status=%s message=%q", i, ticket.Status, ticket.Message)
		}
	}

	c.logger.Printf("sent %d push notifications, got %d tickets", len(messages), len(out.Data))
	return out.Data, nil
}

// SendShardReceived sends the initial "shard received" notification.
func (c *Client) SendShardReceived(ctx context.Context, tokens []models.PushToken, boxName, ownerName, boxID string) ([]Ticket, error) {
	title := "Action Required: Accept Key Shard"
	body := fmt.Sprintf("%s has entrusted you with a key shard for %q. Tap to accept and secure it.", ownerName, boxName)
	data := map[string]any{
		"type":      "shard_received",
		"boxId":     boxID,
		"boxName":   boxName,
		"ownerName": ownerName,
	}
	return c.Send(ctx, tokens, title, body, data)
}

// SendShardReminder sends a tiered reminder. reminderNumber 1 and 2 select
// their own wording; 3 and above get the final-reminder wording.
func (c *Client) SendShardReminder(ctx context.Context, tokens []models.PushToken, boxName, ownerName, boxID string, reminderNumber int) ([]Ticket, error) {
	title := "Reminder: Accept Your Key Shard"

	var body string
	switch reminderNumber {
	case 1:
		body = fmt.Sprintf("You still need to accept the key shard from %s for %q. Tap to secure it now.", ownerName, boxName)
	case 2:
		body = fmt.Sprintf("Important: %s is counting on you. Please accept the key shard for %q.", ownerName, boxName)
	default:
		body = fmt.Sprintf("Final reminder: Accept the key shard from %s for %q to complete your guardian setup.", ownerName, boxName)
	}

	data := map[string]any{
		"type":           "shard_reminder",
		"boxId":          boxID,
		"boxName":        boxName,
		"ownerName":      ownerName,
		"reminderNumber": reminderNumber,
	}
	return c.Send(ctx, tokens, title, body, data)
}
