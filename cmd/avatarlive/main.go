package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/acasal/avatarlive/internal/chat"
	"github.com/acasal/avatarlive/internal/config"
	"github.com/acasal/avatarlive/internal/httpapi"
	"github.com/acasal/avatarlive/internal/lifecycle"
	"github.com/acasal/avatarlive/internal/observability"
	"github.com/acasal/avatarlive/internal/provider"
	"github.com/acasal/avatarlive/internal/registry"
	"github.com/acasal/avatarlive/internal/transport"
	"github.com/acasal/avatarlive/internal/tts"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := registry.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("session store init failed: %v", err)
	}
	defer store.Close()

	var (
		client           provider.Client
		newTransport     lifecycle.TransportFactory
		resolvedProvider string
	)

	providerMode := strings.ToLower(strings.TrimSpace(cfg.AvatarProvider))
	if providerMode == "" {
		providerMode = "auto"
	}

	tryHeyGen := func() bool {
		if strings.TrimSpace(cfg.HeyGenAPIKey) == "" {
			return false
		}
		client = provider.NewHeyGenClient(provider.HeyGenConfig{
			APIKey:      cfg.HeyGenAPIKey,
			BaseURL:     cfg.HeyGenBaseURL,
			CallTimeout: cfg.ProviderCallTimeout,
		})
		newTransport = func() transport.Transport {
			return transport.NewRoomTransport(cfg.ConnectTimeout)
		}
		resolvedProvider = "heygen"
		log.Printf("avatar provider: heygen streaming")
		return true
	}

	useMock := func() {
		client = provider.NewMockClient()
		newTransport = func() transport.Transport {
			return transport.NewMockTransport()
		}
		resolvedProvider = "mock"
		log.Printf("avatar provider: mock")
	}

	switch providerMode {
	case "heygen":
		if !tryHeyGen() {
			log.Fatalf("AVATAR_PROVIDER=heygen but HEYGEN_API_KEY is not set")
		}
	case "mock":
		useMock()
	case "auto":
		if !tryHeyGen() {
			useMock()
		}
	default:
		log.Fatalf("invalid AVATAR_PROVIDER: %q (expected auto|heygen|mock)", cfg.AvatarProvider)
	}
	cfg.AvatarProvider = resolvedProvider

	manager := lifecycle.NewManager(lifecycle.Config{
		OwnerID:               "default",
		AvatarID:              cfg.HeyGenAvatar,
		VoiceID:               cfg.HeyGenVoiceID,
		Quality:               cfg.HeyGenQuality,
		CreateRetryAttempts:   cfg.CreateRetryAttempts,
		CreateBackoffBase:     cfg.CreateBackoffBase,
		CreateBackoffCap:      cfg.CreateBackoffCap,
		ConnectRetryAttempts:  cfg.ConnectRetryAttempts,
		ConnectBackoffBase:    cfg.ConnectBackoffBase,
		ConnectBackoffCap:     cfg.ConnectBackoffCap,
		DisconnectGraceWindow: cfg.DisconnectGraceWindow,
		HeartbeatInterval:     cfg.HeartbeatInterval,
		TokenRenewalMargin:    cfg.TokenRenewalMargin,
		TokenRenewalMinDelay:  cfg.TokenRenewalMinDelay,
	}, client, newTransport, store, metrics)

	var chatBackend httpapi.ChatBackend
	if strings.TrimSpace(cfg.ChatWebhookURL) != "" {
		chatBackend = chat.NewClient(cfg.ChatWebhookURL, cfg.ProviderCallTimeout)
		log.Printf("chat backend: webhook")
	}
	var synthesizer httpapi.Synthesizer
	if strings.TrimSpace(cfg.ElevenLabsAPIKey) != "" {
		synthesizer = tts.NewElevenLabsClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsBaseURL, cfg.ElevenLabsVoiceID, cfg.ProviderCallTimeout)
		log.Printf("tts backend: elevenlabs")
	}

	api := httpapi.New(cfg, manager, store, chatBackend, synthesizer, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	reaper := registry.NewReaper(store, cfg.SessionIdleThreshold)
	reaper.SetReapHook(func(e registry.Entry) {
		metrics.SessionEvents.WithLabelValues("reaped").Inc()
		if n, err := store.ActiveCount(runCtx); err == nil {
			metrics.ActiveSessions.Set(float64(n))
		}
	})
	reaper.Start(runCtx, cfg.ReaperInterval)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := manager.Stop(shutdownCtx); err != nil {
		log.Printf("session teardown failed: %v", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
