package loopback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/tgbridge/internal/config"
)

// Client posts replies to a running gateway's loopback listener.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the listener on 127.0.0.1:port.
func NewClient(port int, botToken string) *Client {
	return &Client{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		token:   TokenFor(botToken),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// RecordOutgoing reports a reply the bot sent. Text is truncated before
// sending; the listener keeps no more than MaxRecordedText anyway.
func (c *Client) RecordOutgoing(ctx context.Context, chatID, threadID, text string) error {
	body, err := json.Marshal(RecordRequest{
		ChatID:   config.FlexibleString(chatID),
		ThreadID: config.FlexibleString(threadID),
		Text:     truncate(text, MaxRecordedText),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+RecordOutgoingPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TokenHeader, c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("record outgoing: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("record outgoing: status %d", resp.StatusCode)
	}
	return nil
}
