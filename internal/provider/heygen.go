package provider

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

const heygenSuccessCode = 100

// HeyGenConfig configures the HeyGen streaming API client.
type HeyGenConfig struct {
	APIKey      string
	BaseURL     string
	CallTimeout time.Duration
}

// HeyGenClient talks to the HeyGen streaming endpoints (streaming.new,
// streaming.task, streaming.keep_alive, streaming.stop).
type HeyGenClient struct {
	cfg    HeyGenConfig
	client *http.Client
}

func NewHeyGenClient(cfg HeyGenConfig) *HeyGenClient {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.heygen.com/v1"
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &HeyGenClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.CallTimeout,
		},
	}
}

// sessionFields covers the credential layout of streaming.new responses. The
// upstream has shipped these both nested under "data" and flat at the top
// level, so the envelope carries both and normalization picks whichever is
// populated.
type sessionFields struct {
	SessionID        string `json:"session_id"`
	URL              string `json:"url"`
	AccessToken      string `json:"access_token"`
	RealtimeEndpoint string `json:"realtime_endpoint"`
	DurationLimit    int    `json:"session_duration_limit"`
}

type newSessionEnvelope struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    *sessionFields `json:"data"`
	sessionFields
}

func (c *HeyGenClient) CreateSession(ctx context.Context, opts CreateOptions) (SessionDescriptor, error) {
	body := map[string]any{
		"avatar_id": opts.AvatarID,
		"quality":   opts.Quality,
		"version":   "v2",
	}
	if strings.TrimSpace(opts.VoiceID) != "" {
		body["voice"] = map[string]any{"voice_id": opts.VoiceID}
	}

	raw, err := c.post(ctx, "streaming.new", body)
	if err != nil {
		return SessionDescriptor{}, err
	}

	var env newSessionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return SessionDescriptor{}, fmt.Errorf("%w: decode streaming.new: %v", ErrMalformedResponse, err)
	}

	fields := env.sessionFields
	if env.Data != nil && env.Data.SessionID != "" {
		fields = *env.Data
	}

	desc := SessionDescriptor{
		SessionID:        fields.SessionID,
		TransportURL:     fields.URL,
		AccessToken:      fields.AccessToken,
		RealtimeEndpoint: fields.RealtimeEndpoint,
		DurationLimit:    fields.DurationLimit,
	}
	if desc.SessionID == "" || desc.TransportURL == "" || desc.AccessToken == "" {
		return SessionDescriptor{}, fmt.Errorf("%w: streaming.new missing session_id, url, or access_token", ErrMalformedResponse)
	}
	return desc, nil
}

func (c *HeyGenClient) Speak(ctx context.Context, sessionID, text string) error {
	_, err := c.post(ctx, "streaming.task", map[string]any{
		"session_id": sessionID,
		"text":       text,
		"task_type":  "repeat",
	})
	return err
}

func (c *HeyGenClient) KeepAlive(ctx context.Context, sessionID string) error {
	_, err := c.post(ctx, "streaming.keep_alive", map[string]any{
		"session_id": sessionID,
	})
	return err
}

func (c *HeyGenClient) Stop(ctx context.Context, sessionID string) error {
	_, err := c.post(ctx, "streaming.stop", map[string]any{
		"session_id": sessionID,
	})
	return err
}

func (c *HeyGenClient) post(ctx context.Context, op string, body map[string]any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", op, err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + op
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("X-Api-Key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send %s request: %w", op, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", op, err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &APIError{Op: op, StatusCode: res.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	// HeyGen also reports failures inside 200 responses via its own code field.
	var status struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &status); err == nil && status.Code != 0 && status.Code != heygenSuccessCode {
		return nil, &APIError{Op: op, StatusCode: res.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	return raw, nil
}
