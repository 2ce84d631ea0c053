// Package lifecycle owns the avatar session state machine: creation with
// retry, token renewal, heartbeats, reconciliation of transport drops, and
// coordinated teardown.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/acasal/avatarlive/internal/observability"
	"github.com/acasal/avatarlive/internal/policy"
	"github.com/acasal/avatarlive/internal/provider"
	"github.com/acasal/avatarlive/internal/registry"
	"github.com/acasal/avatarlive/internal/reliability"
	"github.com/acasal/avatarlive/internal/token"
	"github.com/acasal/avatarlive/internal/transport"
)

type State string

const (
	StatePending      State = "pending"
	StateConnecting   State = "connecting"
	StateActive       State = "active"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

var (
	ErrForbidden   = errors.New("speak source not allowed")
	ErrNotReady    = errors.New("session not ready")
	ErrInvalidText = errors.New("speak text must not be empty")
)

// Session is the authoritative in-memory record of one live engagement.
type Session struct {
	ID             string    `json:"session_id"`
	OwnerID        string    `json:"owner_id"`
	TransportURL   string    `json:"transport_url"`
	AccessToken    string    `json:"-"`
	State          State     `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Config carries the manager's tunables. Zero values fall back to the
// documented defaults.
type Config struct {
	OwnerID  string
	AvatarID string
	VoiceID  string
	Quality  string

	CreateRetryAttempts int
	CreateBackoffBase   time.Duration
	CreateBackoffCap    time.Duration

	ConnectRetryAttempts int
	ConnectBackoffBase   time.Duration
	ConnectBackoffCap    time.Duration

	DisconnectGraceWindow time.Duration
	HeartbeatInterval     time.Duration
	TokenRenewalMargin    time.Duration
	TokenRenewalMinDelay  time.Duration
}

func (c *Config) applyDefaults() {
	if c.CreateRetryAttempts <= 0 {
		c.CreateRetryAttempts = 3
	}
	if c.CreateBackoffBase <= 0 {
		c.CreateBackoffBase = 2 * time.Second
	}
	if c.CreateBackoffCap <= 0 {
		c.CreateBackoffCap = 8 * time.Second
	}
	if c.ConnectRetryAttempts <= 0 {
		c.ConnectRetryAttempts = 3
	}
	if c.ConnectBackoffBase <= 0 {
		c.ConnectBackoffBase = time.Second
	}
	if c.ConnectBackoffCap <= 0 {
		c.ConnectBackoffCap = 4 * time.Second
	}
	if c.DisconnectGraceWindow <= 0 {
		c.DisconnectGraceWindow = 4 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.TokenRenewalMargin <= 0 {
		c.TokenRenewalMargin = time.Minute
	}
	if c.TokenRenewalMinDelay <= 0 {
		c.TokenRenewalMinDelay = 10 * time.Second
	}
	if c.Quality == "" {
		c.Quality = "low"
	}
}

// TransportFactory mints a fresh transport per connection attempt; a room
// transport is single-use.
type TransportFactory func() transport.Transport

// Manager drives one owner's avatar session from creation to teardown. At
// most one session is live per manager at a time.
type Manager struct {
	cfg          Config
	client       provider.Client
	newTransport TransportFactory
	store        registry.Store
	metrics      *observability.Metrics

	// opMu serializes start/stop/restart; stateMu guards the snapshot fields.
	opMu    sync.Mutex
	stateMu sync.Mutex

	sess       *Session
	state      State
	generation uint64
	tr         transport.Transport
	loopCancel context.CancelFunc
	statusHook func(State, string)
}

func NewManager(cfg Config, client provider.Client, factory TransportFactory, store registry.Store, metrics *observability.Metrics) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:          cfg,
		client:       client,
		newTransport: factory,
		store:        store,
		metrics:      metrics,
		state:        StatePending,
	}
}

// SetStatusHook installs a callback invoked with a human-readable message at
// every phase transition.
func (m *Manager) SetStatusHook(hook func(State, string)) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.statusHook = hook
}

// Snapshot returns a copy of the current session, or nil before the first
// successful creation.
func (m *Manager) Snapshot() *Session {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.sess == nil {
		return nil
	}
	c := *m.sess
	c.State = m.state
	return &c
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

// Start creates a provider session, connects the media transport, and brings
// the session to active. Any previously live session is torn down first, so
// Start also implements renewal.
func (m *Manager) Start(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.teardownLocked(ctx, "superseded")
	return m.startLocked(ctx)
}

func (m *Manager) startLocked(ctx context.Context) error {
	gen := m.bumpGeneration()
	m.setState(StatePending, "creating avatar session")

	desc, err := m.createWithRetry(ctx)
	if err != nil {
		m.setState(StateClosed, fmt.Sprintf("error: session creation failed: %v", err))
		return fmt.Errorf("session creation failed after %d attempts: %w", m.cfg.CreateRetryAttempts+1, err)
	}

	now := time.Now().UTC()
	m.stateMu.Lock()
	m.sess = &Session{
		ID:             desc.SessionID,
		OwnerID:        m.cfg.OwnerID,
		TransportURL:   desc.TransportURL,
		AccessToken:    desc.AccessToken,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	m.stateMu.Unlock()
	m.setState(StateConnecting, "connecting media transport")

	if err := m.store.Register(ctx, m.cfg.OwnerID, desc.SessionID); err != nil {
		// Bookkeeping only; the session itself is viable without it.
		log.Printf("session %s: registry registration failed: %v", desc.SessionID, err)
	}
	m.scheduleRenewal(gen, desc.AccessToken)

	tr := m.newTransport()
	if err := m.connectWithRetry(ctx, tr, desc); err != nil {
		m.closeSession(ctx, gen, desc.SessionID, "error: transport connection failed")
		return fmt.Errorf("transport connection failed after %d attempts: %w", m.cfg.ConnectRetryAttempts+1, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.stateMu.Lock()
	m.tr = tr
	m.loopCancel = cancel
	m.stateMu.Unlock()

	m.setState(StateActive, "avatar session active")
	if m.metrics != nil {
		m.metrics.SessionEvents.WithLabelValues("started").Inc()
	}

	go m.pumpEvents(gen, tr)
	go m.heartbeatLoop(loopCtx, gen, desc.SessionID)
	return nil
}

func (m *Manager) createWithRetry(ctx context.Context) (provider.SessionDescriptor, error) {
	var lastErr error
	for attempt := 0; attempt <= m.cfg.CreateRetryAttempts; attempt++ {
		desc, err := m.client.CreateSession(ctx, provider.CreateOptions{
			AvatarID: m.cfg.AvatarID,
			VoiceID:  m.cfg.VoiceID,
			Quality:  m.cfg.Quality,
		})
		if err == nil {
			m.observeAttempt("create", "ok")
			return desc, nil
		}
		lastErr = err
		m.observeAttempt("create", "error")
		log.Printf("create session attempt %d/%d failed: %v", attempt+1, m.cfg.CreateRetryAttempts+1, err)

		if attempt == m.cfg.CreateRetryAttempts {
			break
		}
		delay := reliability.ExponentialBackoff(attempt, m.cfg.CreateBackoffBase, m.cfg.CreateBackoffCap)
		if err := sleepCtx(ctx, delay); err != nil {
			return provider.SessionDescriptor{}, err
		}
	}
	return provider.SessionDescriptor{}, lastErr
}

func (m *Manager) connectWithRetry(ctx context.Context, tr transport.Transport, desc provider.SessionDescriptor) error {
	var lastErr error
	for attempt := 0; attempt <= m.cfg.ConnectRetryAttempts; attempt++ {
		err := tr.Connect(ctx, desc.TransportURL, desc.AccessToken)
		if err == nil {
			m.observeAttempt("connect", "ok")
			return nil
		}
		lastErr = err
		m.observeAttempt("connect", "error")
		log.Printf("transport connect attempt %d/%d failed: %v", attempt+1, m.cfg.ConnectRetryAttempts+1, err)

		if attempt == m.cfg.ConnectRetryAttempts {
			break
		}
		delay := reliability.ExponentialBackoff(attempt, m.cfg.ConnectBackoffBase, m.cfg.ConnectBackoffCap)
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

// Speak asks the avatar to voice text. The source tag is gated against the
// allow-list before anything reaches the provider.
func (m *Manager) Speak(ctx context.Context, text, source string) error {
	decision := policy.DecideSpeakSource(source)
	if !decision.Allowed {
		return fmt.Errorf("%w: %s", ErrForbidden, decision.Reason)
	}
	if text == "" {
		return ErrInvalidText
	}

	m.stateMu.Lock()
	state := m.state
	var sessionID string
	if m.sess != nil {
		sessionID = m.sess.ID
	}
	m.stateMu.Unlock()

	if state != StateActive {
		return fmt.Errorf("%w: session is %s", ErrNotReady, state)
	}

	started := time.Now()
	if err := m.client.Speak(ctx, sessionID, text); err != nil {
		if m.metrics != nil {
			m.metrics.ProviderErrors.WithLabelValues("heygen", "speak").Inc()
		}
		// A single failed speak is not fatal to the session.
		return fmt.Errorf("speak failed: %w", err)
	}
	if m.metrics != nil {
		m.metrics.ObserveSpeakLatency(time.Since(started))
	}

	m.stateMu.Lock()
	if m.sess != nil {
		m.sess.LastActivityAt = time.Now().UTC()
	}
	m.stateMu.Unlock()
	return nil
}

// Stop tears the session down. It is idempotent: stopping an already closed
// session is a no-op success.
func (m *Manager) Stop(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.State() == StateClosed {
		return nil
	}
	m.teardownLocked(ctx, "stopped by caller")
	return nil
}

// teardownLocked closes whatever is live. Callers hold opMu.
func (m *Manager) teardownLocked(ctx context.Context, reason string) {
	m.stateMu.Lock()
	sess := m.sess
	tr := m.tr
	cancel := m.loopCancel
	wasClosed := m.state == StateClosed || sess == nil
	m.tr = nil
	m.loopCancel = nil
	m.stateMu.Unlock()

	// Invalidate every pending timer armed for the old session.
	m.bumpGeneration()

	if wasClosed {
		return
	}
	if cancel != nil {
		cancel()
	}
	if tr != nil {
		if err := tr.Disconnect(); err != nil {
			log.Printf("session %s: transport disconnect: %v", sess.ID, err)
		}
	}
	if err := m.client.Stop(ctx, sess.ID); err != nil {
		// Best effort; local teardown proceeds regardless.
		log.Printf("session %s: provider stop failed: %v", sess.ID, err)
		if m.metrics != nil {
			m.metrics.ProviderErrors.WithLabelValues("heygen", "stop").Inc()
		}
	}
	if err := m.store.EndSession(ctx, sess.ID); err != nil && !errors.Is(err, registry.ErrNotFound) {
		log.Printf("session %s: registry end failed: %v", sess.ID, err)
	}
	m.setState(StateClosed, "session closed: "+reason)
	if m.metrics != nil {
		m.metrics.SessionEvents.WithLabelValues("stopped").Inc()
	}
}

// closeSession handles a start() that got a provider session but never went
// active.
func (m *Manager) closeSession(ctx context.Context, gen uint64, sessionID, status string) {
	if !m.current(gen) {
		return
	}
	// Disarm the renewal timer scheduled for this never-activated session.
	m.bumpGeneration()
	if err := m.client.Stop(ctx, sessionID); err != nil {
		log.Printf("session %s: provider stop failed: %v", sessionID, err)
	}
	if err := m.store.EndSession(ctx, sessionID); err != nil && !errors.Is(err, registry.ErrNotFound) {
		log.Printf("session %s: registry end failed: %v", sessionID, err)
	}
	m.setState(StateClosed, status)
}

func (m *Manager) pumpEvents(gen uint64, tr transport.Transport) {
	for ev := range tr.Events() {
		if !m.current(gen) {
			return
		}
		switch ev.Kind {
		case transport.EventTrackSubscribed:
			m.notify(m.State(), "media track subscribed: "+ev.TrackKind)
		case transport.EventReconnecting:
			if m.State() == StateActive {
				m.setState(StateReconnecting, "transport reconnecting")
			}
		case transport.EventReconnected:
			m.recoverTransport(gen)
		case transport.EventConnectionState:
			switch ev.State {
			case "connected", "reconnected":
				m.recoverTransport(gen)
			case "reconnecting":
				if m.State() == StateActive {
					m.setState(StateReconnecting, "transport reconnecting")
				}
			}
		case transport.EventDisconnected:
			m.onDisconnected(gen)
		}
	}
}

// onDisconnected opens the grace window: the transport may recover on its
// own, so permanent failure is only declared once the window elapses without
// a reconnect.
func (m *Manager) onDisconnected(gen uint64) {
	if !m.current(gen) {
		return
	}
	state := m.State()
	if state != StateActive && state != StateReconnecting {
		return
	}
	m.setState(StateReconnecting, "transport disconnected, waiting for recovery")

	time.AfterFunc(m.cfg.DisconnectGraceWindow, func() {
		if !m.current(gen) {
			return
		}
		if m.State() != StateReconnecting {
			return
		}
		log.Printf("grace window elapsed without transport recovery, starting fresh session")
		m.restart(gen, "transport lost")
	})
}

func (m *Manager) recoverTransport(gen uint64) {
	if !m.current(gen) {
		return
	}
	if m.State() == StateReconnecting {
		m.setState(StateActive, "transport recovered")
	}
}

// restart self-heals: tears down the current session and mints a fresh one.
// The generation is re-checked under opMu so a Stop that raced the timer wins
// and no replacement session is spawned for an intentionally stopped one.
func (m *Manager) restart(gen uint64, reason string) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if !m.current(gen) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m.teardownLocked(ctx, reason)
	if err := m.startLocked(ctx); err != nil {
		log.Printf("self-heal start failed: %v", err)
	}
}

func (m *Manager) scheduleRenewal(gen uint64, accessToken string) {
	expiry, ok := token.Expiry(accessToken)
	if !ok {
		// Opaque token: no expiry clock to renew against, heartbeats alone
		// keep the session alive.
		return
	}

	delay := time.Until(expiry) - m.cfg.TokenRenewalMargin
	if delay < m.cfg.TokenRenewalMinDelay {
		delay = m.cfg.TokenRenewalMinDelay
	}

	time.AfterFunc(delay, func() {
		if !m.current(gen) {
			return
		}
		log.Printf("access token near expiry, minting fresh session")
		if m.metrics != nil {
			m.metrics.SessionEvents.WithLabelValues("renewed").Inc()
		}
		m.restart(gen, "token renewal")
	})
}

func (m *Manager) heartbeatLoop(ctx context.Context, gen uint64, sessionID string) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.current(gen) {
				return
			}
			m.stateMu.Lock()
			var activity time.Time
			if m.sess != nil {
				activity = m.sess.LastActivityAt
			}
			m.stateMu.Unlock()

			if err := m.store.Heartbeat(ctx, sessionID, activity); err != nil {
				log.Printf("session %s: registry heartbeat failed: %v", sessionID, err)
				if m.metrics != nil {
					m.metrics.HeartbeatFailures.Inc()
				}
			}
			if err := m.client.KeepAlive(ctx, sessionID); err != nil {
				// Never fatal: a missed keep-alive does not abort the session.
				log.Printf("session %s: provider keep-alive failed: %v", sessionID, err)
				if m.metrics != nil {
					m.metrics.HeartbeatFailures.Inc()
				}
			}
		}
	}
}

func (m *Manager) bumpGeneration() uint64 {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.generation++
	return m.generation
}

func (m *Manager) current(gen uint64) bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.generation == gen
}

func (m *Manager) setState(s State, msg string) {
	m.stateMu.Lock()
	m.state = s
	hook := m.statusHook
	m.stateMu.Unlock()
	log.Printf("session state: %s (%s)", s, msg)
	if hook != nil {
		hook(s, msg)
	}
}

func (m *Manager) notify(s State, msg string) {
	m.stateMu.Lock()
	hook := m.statusHook
	m.stateMu.Unlock()
	if hook != nil {
		hook(s, msg)
	}
}

func (m *Manager) observeAttempt(phase, outcome string) {
	if m.metrics != nil {
		m.metrics.StartAttempts.WithLabelValues(phase, outcome).Inc()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
