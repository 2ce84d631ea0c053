package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSynthesizeSendsVoiceRequest(t *testing.T) {
	audio := []byte("\xff\xfbMPEGFRAME")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/text-to-speech/voice-42") {
			t.Errorf("path = %s, want /text-to-speech/voice-42 suffix", r.URL.Path)
		}
		if got := r.Header.Get("xi-api-key"); got != "k-123" {
			t.Errorf("xi-api-key = %q", got)
		}
		var body struct {
			Text    string `json:"text"`
			ModelID string `json:"model_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Text != "hola mundo" {
			t.Errorf("text = %q", body.Text)
		}
		if body.ModelID == "" {
			t.Errorf("model_id missing")
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(audio)
	}))
	defer srv.Close()

	c := NewElevenLabsClient("k-123", srv.URL, "voice-42", time.Second)
	got, err := c.Synthesize(context.Background(), "hola mundo")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(got) != string(audio) {
		t.Fatalf("audio mismatch: got %d bytes", len(got))
	}
}

func TestSynthesizeErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewElevenLabsClient("k-123", srv.URL, "voice-42", time.Second)
	_, err := c.Synthesize(context.Background(), "hola")
	if err == nil {
		t.Fatalf("Synthesize() succeeded, want error")
	}
	if !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("error should carry status and body, got %v", err)
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	c := NewElevenLabsClient("k-123", "http://unused", "voice-42", time.Second)
	if _, err := c.Synthesize(context.Background(), ""); err == nil {
		t.Fatalf("Synthesize(\"\") succeeded, want error")
	}
}
