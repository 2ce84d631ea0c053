package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.AvatarProvider != "auto" {
		t.Fatalf("AvatarProvider = %q, want %q", cfg.AvatarProvider, "auto")
	}
	if cfg.CreateRetryAttempts != 3 || cfg.ConnectRetryAttempts != 3 {
		t.Fatalf("retry budgets = %d/%d, want 3/3", cfg.CreateRetryAttempts, cfg.ConnectRetryAttempts)
	}
	if cfg.CreateBackoffBase != 2*time.Second || cfg.CreateBackoffCap != 8*time.Second {
		t.Fatalf("creation backoff = %v/%v, want 2s/8s", cfg.CreateBackoffBase, cfg.CreateBackoffCap)
	}
	if cfg.SessionIdleThreshold != 5*time.Minute {
		t.Fatalf("SessionIdleThreshold = %v, want 5m", cfg.SessionIdleThreshold)
	}
	if cfg.ReaperInterval != time.Minute {
		t.Fatalf("ReaperInterval = %v, want 1m", cfg.ReaperInterval)
	}
}

func TestLoadExplicitOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")
	t.Setenv("TRANSPORT_CONNECT_TIMEOUT", "3s")
	t.Setenv("SESSION_HEARTBEAT_INTERVAL", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.ConnectTimeout != 3*time.Second {
		t.Fatalf("ConnectTimeout = %v, want 3s", cfg.ConnectTimeout)
	}
	if cfg.HeartbeatInterval != 5*time.Second {
		t.Fatalf("HeartbeatInterval = %v, want 5s", cfg.HeartbeatInterval)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("SESSION_IDLE_THRESHOLD", "5s")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted idle threshold below floor")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"AVATAR_PROVIDER",
		"HEYGEN_API_KEY",
		"HEYGEN_BASE_URL",
		"HEYGEN_AVATAR_ID",
		"HEYGEN_VOICE_ID",
		"HEYGEN_QUALITY",
		"PROVIDER_CALL_TIMEOUT",
		"SESSION_CREATE_RETRIES",
		"SESSION_CREATE_BACKOFF_BASE",
		"SESSION_CREATE_BACKOFF_CAP",
		"TRANSPORT_CONNECT_RETRIES",
		"TRANSPORT_CONNECT_BACKOFF_BASE",
		"TRANSPORT_CONNECT_BACKOFF_CAP",
		"TRANSPORT_CONNECT_TIMEOUT",
		"TRANSPORT_DISCONNECT_GRACE",
		"SESSION_HEARTBEAT_INTERVAL",
		"TOKEN_RENEWAL_MARGIN",
		"TOKEN_RENEWAL_MIN_DELAY",
		"SESSION_IDLE_THRESHOLD",
		"SESSION_REAPER_INTERVAL",
		"ELEVEN_API_KEY",
		"ELEVEN_BASE_URL",
		"ELEVEN_VOICE_ID",
		"CHAT_WEBHOOK_URL",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
