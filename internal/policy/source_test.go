package policy

import "testing"

func TestDecideSpeakSourceAllowList(t *testing.T) {
	for _, src := range []string{"user", "assistant", "keepalive", " User ", "ASSISTANT"} {
		d := DecideSpeakSource(src)
		if !d.Allowed {
			t.Fatalf("DecideSpeakSource(%q) rejected, want allowed", src)
		}
	}
}

func TestDecideSpeakSourceRejectsUnknown(t *testing.T) {
	for _, src := range []string{"", "admin", "webhook", "user2"} {
		d := DecideSpeakSource(src)
		if d.Allowed {
			t.Fatalf("DecideSpeakSource(%q) allowed, want rejected", src)
		}
		if d.Reason == "" {
			t.Fatalf("DecideSpeakSource(%q) missing reason", src)
		}
	}
}
