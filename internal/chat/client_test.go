package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestReplyEnvelopeResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["message"] != "que tal" || body["session_id"] != "sess-1" {
			t.Errorf("request body = %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "muy bien"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	got, err := c.Reply(context.Background(), "que tal", "sess-1")
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if got != "muy bien" {
		t.Fatalf("reply = %q, want %q", got, "muy bien")
	}
}

func TestReplyBareBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hola de nuevo"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	got, err := c.Reply(context.Background(), "hola", "sess-1")
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if got != "hola de nuevo" {
		t.Fatalf("reply = %q", got)
	}
}

func TestReplyUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "workflow crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if _, err := c.Reply(context.Background(), "hola", "sess-1"); err == nil {
		t.Fatalf("Reply() succeeded, want error")
	}
}

func TestReplyEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if _, err := c.Reply(context.Background(), "hola", "sess-1"); err == nil {
		t.Fatalf("Reply() with empty body succeeded, want error")
	}
}
