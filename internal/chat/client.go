// Package chat forwards user messages to the conversational backend webhook
// and returns its reply text.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxReplyBytes = 1 << 20

// Client posts messages to a webhook endpoint (an n8n-style automation flow)
// and extracts the reply.
type Client struct {
	webhookURL string
	httpc      *http.Client
}

func NewClient(webhookURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		webhookURL: webhookURL,
		httpc:      &http.Client{Timeout: timeout},
	}
}

type replyEnvelope struct {
	Response string `json:"response"`
	Output   string `json:"output"`
	Text     string `json:"text"`
}

// Reply sends the message and returns the backend's answer. The webhook may
// answer with a JSON object carrying the reply under "response" (or "output"
// or "text"), or with a bare string body.
func (c *Client) Reply(ctx context.Context, message, sessionID string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"message":    message,
		"session_id": sessionID,
	})
	if err != nil {
		return "", fmt.Errorf("chat: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("chat: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", fmt.Errorf("chat: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("chat: status %d: %s", resp.StatusCode, string(body))
	}

	reply := extractReply(body)
	if reply == "" {
		return "", fmt.Errorf("chat: empty reply")
	}
	return reply, nil
}

func extractReply(body []byte) string {
	var env replyEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		for _, s := range []string{env.Response, env.Output, env.Text} {
			if s != "" {
				return s
			}
		}
	}
	// Some flows return the reply as a bare JSON string or plain text.
	var bare string
	if err := json.Unmarshal(body, &bare); err == nil {
		return strings.TrimSpace(bare)
	}
	return strings.TrimSpace(string(body))
}
