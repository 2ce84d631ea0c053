package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the avatar streaming service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	AvatarProvider string

	HeyGenAPIKey  string
	HeyGenBaseURL string
	HeyGenAvatar  string
	HeyGenVoiceID string
	HeyGenQuality string

	ProviderCallTimeout time.Duration

	CreateRetryAttempts int
	CreateBackoffBase   time.Duration
	CreateBackoffCap    time.Duration

	ConnectRetryAttempts int
	ConnectBackoffBase   time.Duration
	ConnectBackoffCap    time.Duration
	ConnectTimeout       time.Duration

	DisconnectGraceWindow time.Duration
	HeartbeatInterval     time.Duration
	TokenRenewalMargin    time.Duration
	TokenRenewalMinDelay  time.Duration

	SessionIdleThreshold time.Duration
	ReaperInterval       time.Duration

	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	ElevenLabsVoiceID string

	ChatWebhookURL string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "avatarlive"),
		AllowAnyOrigin:       false,
		AvatarProvider:       envOrDefault("AVATAR_PROVIDER", "auto"),
		HeyGenAPIKey:         envTrimmed("HEYGEN_API_KEY"),
		HeyGenBaseURL:        envOrDefault("HEYGEN_BASE_URL", "https://api.heygen.com/v1"),
		HeyGenAvatar:         envOrDefault("HEYGEN_AVATAR_ID", "Thaddeus_CasualLook_public"),
		HeyGenVoiceID:        envTrimmed("HEYGEN_VOICE_ID"),
		HeyGenQuality:        envOrDefault("HEYGEN_QUALITY", "low"),
		ElevenLabsAPIKey:     envTrimmed("ELEVEN_API_KEY"),
		ElevenLabsBaseURL:    envOrDefault("ELEVEN_BASE_URL", "https://api.elevenlabs.io/v1"),
		ElevenLabsVoiceID:    envTrimmed("ELEVEN_VOICE_ID"),
		ChatWebhookURL:       envTrimmed("CHAT_WEBHOOK_URL"),
		DatabaseURL:          envTrimmed("DATABASE_URL"),
		ShutdownTimeout:      15 * time.Second,
		ProviderCallTimeout:  30 * time.Second,
		CreateRetryAttempts:  3,
		CreateBackoffBase:    2 * time.Second,
		CreateBackoffCap:     8 * time.Second,
		ConnectRetryAttempts: 3,
		ConnectBackoffBase:   time.Second,
		ConnectBackoffCap:    4 * time.Second,
		ConnectTimeout:       10 * time.Second,
		// Transient room drops usually recover within a couple of seconds;
		// anything longer is treated as a dead session.
		DisconnectGraceWindow: 4 * time.Second,
		HeartbeatInterval:     15 * time.Second,
		TokenRenewalMargin:    time.Minute,
		TokenRenewalMinDelay:  10 * time.Second,
		SessionIdleThreshold:  5 * time.Minute,
		ReaperInterval:        time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.ProviderCallTimeout, err = durationFromEnv("PROVIDER_CALL_TIMEOUT", cfg.ProviderCallTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CreateRetryAttempts, err = intFromEnv("SESSION_CREATE_RETRIES", cfg.CreateRetryAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.CreateBackoffBase, err = durationFromEnv("SESSION_CREATE_BACKOFF_BASE", cfg.CreateBackoffBase)
	if err != nil {
		return Config{}, err
	}
	cfg.CreateBackoffCap, err = durationFromEnv("SESSION_CREATE_BACKOFF_CAP", cfg.CreateBackoffCap)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectRetryAttempts, err = intFromEnv("TRANSPORT_CONNECT_RETRIES", cfg.ConnectRetryAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectBackoffBase, err = durationFromEnv("TRANSPORT_CONNECT_BACKOFF_BASE", cfg.ConnectBackoffBase)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectBackoffCap, err = durationFromEnv("TRANSPORT_CONNECT_BACKOFF_CAP", cfg.ConnectBackoffCap)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectTimeout, err = durationFromEnv("TRANSPORT_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DisconnectGraceWindow, err = durationFromEnv("TRANSPORT_DISCONNECT_GRACE", cfg.DisconnectGraceWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.HeartbeatInterval, err = durationFromEnv("SESSION_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenRenewalMargin, err = durationFromEnv("TOKEN_RENEWAL_MARGIN", cfg.TokenRenewalMargin)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenRenewalMinDelay, err = durationFromEnv("TOKEN_RENEWAL_MIN_DELAY", cfg.TokenRenewalMinDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleThreshold, err = durationFromEnv("SESSION_IDLE_THRESHOLD", cfg.SessionIdleThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.ReaperInterval, err = durationFromEnv("SESSION_REAPER_INTERVAL", cfg.ReaperInterval)
	if err != nil {
		return Config{}, err
	}

	if cfg.CreateRetryAttempts <= 0 {
		return Config{}, fmt.Errorf("SESSION_CREATE_RETRIES must be positive")
	}
	if cfg.ConnectRetryAttempts <= 0 {
		return Config{}, fmt.Errorf("TRANSPORT_CONNECT_RETRIES must be positive")
	}
	if cfg.CreateBackoffCap < cfg.CreateBackoffBase {
		return Config{}, fmt.Errorf("SESSION_CREATE_BACKOFF_CAP must be >= base")
	}
	if cfg.ConnectBackoffCap < cfg.ConnectBackoffBase {
		return Config{}, fmt.Errorf("TRANSPORT_CONNECT_BACKOFF_CAP must be >= base")
	}
	if cfg.HeartbeatInterval < time.Second {
		return Config{}, fmt.Errorf("SESSION_HEARTBEAT_INTERVAL must be at least 1s")
	}
	if cfg.SessionIdleThreshold < 30*time.Second {
		return Config{}, fmt.Errorf("SESSION_IDLE_THRESHOLD must be at least 30s")
	}
	if cfg.TokenRenewalMinDelay <= 0 {
		return Config{}, fmt.Errorf("TOKEN_RENEWAL_MIN_DELAY must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
