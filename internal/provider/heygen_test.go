package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCreateSessionNestedDescriptor(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/streaming.new" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "test-key" {
			t.Fatalf("X-Api-Key = %q, want test-key", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code":    100,
			"message": "success",
			"data": map[string]any{
				"session_id":             "sess-1",
				"url":                    "wss://room.example.com",
				"access_token":           "tok-1",
				"realtime_endpoint":      "wss://rt.example.com",
				"session_duration_limit": 600,
			},
		})
	}))
	defer ts.Close()

	c := NewHeyGenClient(HeyGenConfig{APIKey: "test-key", BaseURL: ts.URL})
	desc, err := c.CreateSession(context.Background(), CreateOptions{AvatarID: "a", Quality: "low"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if desc.SessionID != "sess-1" || desc.TransportURL != "wss://room.example.com" || desc.AccessToken != "tok-1" {
		t.Fatalf("unexpected descriptor: %+v", desc)
	}
	if desc.DurationLimit != 600 {
		t.Fatalf("DurationLimit = %d, want 600", desc.DurationLimit)
	}
}

func TestCreateSessionFlatDescriptor(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code":         100,
			"session_id":   "sess-flat",
			"url":          "wss://room.example.com",
			"access_token": "tok-flat",
		})
	}))
	defer ts.Close()

	c := NewHeyGenClient(HeyGenConfig{APIKey: "k", BaseURL: ts.URL})
	desc, err := c.CreateSession(context.Background(), CreateOptions{})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if desc.SessionID != "sess-flat" || desc.AccessToken != "tok-flat" {
		t.Fatalf("flat layout not normalized: %+v", desc)
	}
}

func TestCreateSessionMissingFieldIsMalformed(t *testing.T) {
	cases := []map[string]any{
		{"code": 100, "data": map[string]any{"url": "wss://x", "access_token": "t"}},
		{"code": 100, "data": map[string]any{"session_id": "s", "access_token": "t"}},
		{"code": 100, "data": map[string]any{"session_id": "s", "url": "wss://x"}},
	}
	for i, payload := range cases {
		payload := payload
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(payload)
		}))
		c := NewHeyGenClient(HeyGenConfig{APIKey: "k", BaseURL: ts.URL})
		_, err := c.CreateSession(context.Background(), CreateOptions{})
		ts.Close()
		if !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("case %d: error = %v, want ErrMalformedResponse", i, err)
		}
	}
}

func TestAPIErrorCarriesBodyVerbatim(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"code":10013,"message":"avatar busy"}`))
	}))
	defer ts.Close()

	c := NewHeyGenClient(HeyGenConfig{APIKey: "k", BaseURL: ts.URL})
	err := c.Speak(context.Background(), "sess-1", "hola")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("StatusCode = %d, want 502", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Body, "avatar busy") {
		t.Fatalf("Body = %q, want upstream payload verbatim", apiErr.Body)
	}
}

func TestProviderCodeFailureInsideOKResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 400123, "message": "session not found"})
	}))
	defer ts.Close()

	c := NewHeyGenClient(HeyGenConfig{APIKey: "k", BaseURL: ts.URL})
	err := c.Stop(context.Background(), "gone")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError for non-success provider code", err)
	}
}

func TestSpeakSendsRepeatTask(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/streaming.task" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 100})
	}))
	defer ts.Close()

	c := NewHeyGenClient(HeyGenConfig{APIKey: "k", BaseURL: ts.URL})
	if err := c.Speak(context.Background(), "sess-1", "hola"); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if got["session_id"] != "sess-1" || got["text"] != "hola" || got["task_type"] != "repeat" {
		t.Fatalf("unexpected task payload: %+v", got)
	}
}
