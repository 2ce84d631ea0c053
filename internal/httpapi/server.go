package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/acasal/avatarlive/internal/config"
	"github.com/acasal/avatarlive/internal/lifecycle"
	"github.com/acasal/avatarlive/internal/observability"
	"github.com/acasal/avatarlive/internal/provider"
	"github.com/acasal/avatarlive/internal/registry"
)

// ChatBackend resolves a user message to an assistant reply.
type ChatBackend interface {
	Reply(ctx context.Context, message, sessionID string) (string, error)
}

// Synthesizer renders reply text as audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type Server struct {
	cfg      config.Config
	manager  *lifecycle.Manager
	store    registry.Store
	chat     ChatBackend
	tts      Synthesizer
	metrics  *observability.Metrics
	upgrader websocket.Upgrader

	hubMu       sync.Mutex
	subscribers map[chan statusUpdate]struct{}
}

type statusUpdate struct {
	State   lifecycle.State `json:"state"`
	Message string          `json:"message"`
	At      time.Time       `json:"at"`
}

func New(cfg config.Config, manager *lifecycle.Manager, store registry.Store, chat ChatBackend, tts Synthesizer, metrics *observability.Metrics) *Server {
	s := &Server{
		cfg:         cfg,
		manager:     manager,
		store:       store,
		chat:        chat,
		tts:         tts,
		metrics:     metrics,
		subscribers: make(map[chan statusUpdate]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up. Other websites must not
				// be able to watch a user's avatar session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
	manager.SetStatusHook(s.broadcast)
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/avatar/session", s.handleStartSession)
	r.Get("/v1/avatar/session", s.handleGetSession)
	r.Post("/v1/avatar/session/{id}/speak", s.handleSpeak)
	r.Post("/v1/avatar/session/{id}/stop", s.handleStopSession)
	r.Get("/v1/avatar/session/ws", s.handleStatusWS)

	r.Post("/v1/chat/speak", s.handleChatSpeak)

	r.Post("/v1/sessions/register", s.handleRegister)
	r.Post("/v1/sessions/heartbeat", s.handleHeartbeat)
	r.Post("/v1/sessions/user-stop", s.handleUserStop)
	r.Post("/v1/sessions/{id}/end", s.handleEndEntry)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"state":  s.manager.State(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	active, err := s.store.ActiveCount(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": active,
	})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Start(r.Context()); err != nil {
		respondError(w, http.StatusBadGateway, "session_start_failed", err.Error())
		return
	}
	s.observeActive(r.Context())

	respondJSON(w, http.StatusCreated, s.manager.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.manager.Snapshot()
	if sess == nil {
		respondError(w, http.StatusNotFound, "session_not_found", "no session has been started")
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type speakRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.ownsSession(id) {
		respondError(w, http.StatusNotFound, "session_not_found", "unknown session id")
		return
	}

	var req speakRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		req.Source = "user"
	}

	if err := s.manager.Speak(r.Context(), req.Text, req.Source); err != nil {
		s.respondSpeakError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "spoken"})
}

func (s *Server) respondSpeakError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrForbidden):
		respondError(w, http.StatusForbidden, "source_forbidden", err.Error())
	case errors.Is(err, lifecycle.ErrInvalidText):
		respondError(w, http.StatusBadRequest, "invalid_text", err.Error())
	case errors.Is(err, lifecycle.ErrNotReady):
		respondError(w, http.StatusConflict, "session_not_ready", err.Error())
	default:
		var apiErr *provider.APIError
		if errors.As(err, &apiErr) {
			respondError(w, http.StatusBadGateway, "provider_error", apiErr.Error())
			return
		}
		respondError(w, http.StatusBadGateway, "speak_failed", err.Error())
	}
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	// Stop is idempotent: a stale or already-stopped id still answers OK so
	// clients can fire-and-forget on page unload.
	if id != "" && !s.ownsSession(id) && s.manager.State() != lifecycle.StateClosed {
		respondError(w, http.StatusNotFound, "session_not_found", "unknown session id")
		return
	}
	if err := s.manager.Stop(r.Context()); err != nil {
		respondError(w, http.StatusBadGateway, "session_stop_failed", err.Error())
		return
	}
	s.observeActive(r.Context())
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleChatSpeak(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "chat backend not configured")
		return
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message must not be empty")
		return
	}

	sess := s.manager.Snapshot()
	sessionID := ""
	if sess != nil {
		sessionID = sess.ID
	}

	reply, err := s.chat.Reply(r.Context(), req.Message, sessionID)
	if err != nil {
		respondError(w, http.StatusBadGateway, "chat_failed", err.Error())
		return
	}

	// Voice the reply through the avatar when a session is live; a speak
	// failure degrades to text-plus-audio rather than failing the chat.
	if s.manager.State() == lifecycle.StateActive {
		if err := s.manager.Speak(r.Context(), reply, "assistant"); err != nil {
			log.Printf("chat reply avatar speak failed: %v", err)
		}
	}

	if s.tts == nil {
		respondJSON(w, http.StatusOK, map[string]string{"reply": reply})
		return
	}
	audio, err := s.tts.Synthesize(r.Context(), reply)
	if err != nil {
		log.Printf("chat reply synthesis failed: %v", err)
		respondJSON(w, http.StatusOK, map[string]string{"reply": reply})
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("X-Chat-Reply", sanitizeHeader(reply))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

type registerRequest struct {
	OwnerID   string `json:"owner_id"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "session_id is required")
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		req.OwnerID = "anonymous"
	}
	if err := s.store.Register(r.Context(), req.OwnerID, req.SessionID); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	s.observeActive(r.Context())
	respondJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

type heartbeatRequest struct {
	SessionID  string     `json:"session_id"`
	ActivityAt *time.Time `json:"activity_at"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	at := time.Now().UTC()
	if req.ActivityAt != nil {
		at = *req.ActivityAt
	}
	if err := s.store.Heartbeat(r.Context(), req.SessionID, at); err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUserStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.store.ReportUserStop(r.Context(), req.SessionID); err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEndEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	if err := s.store.EndSession(r.Context(), id); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.observeActive(r.Context())
	respondJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, registry.ErrNotFound) {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, "store_error", err.Error())
}

// handleStatusWS streams lifecycle state transitions to the browser so the UI
// can mirror pending/connecting/active/reconnecting/closed.
func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	updates := s.subscribe()
	defer s.unsubscribe(updates)

	// Seed the new subscriber with the current state.
	seed := statusUpdate{State: s.manager.State(), Message: "current state", At: time.Now().UTC()}
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(seed); err != nil {
		return
	}

	// Reader goroutine only watches for the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1 << 10)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(upd); err != nil {
				return
			}
		}
	}
}

func (s *Server) subscribe() chan statusUpdate {
	ch := make(chan statusUpdate, 32)
	s.hubMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.hubMu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan statusUpdate) {
	s.hubMu.Lock()
	delete(s.subscribers, ch)
	s.hubMu.Unlock()
}

func (s *Server) broadcast(state lifecycle.State, msg string) {
	upd := statusUpdate{State: state, Message: msg, At: time.Now().UTC()}
	s.hubMu.Lock()
	defer s.hubMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- upd:
		default:
			// Slow subscriber; drop rather than stall the state machine.
		}
	}
}

func (s *Server) ownsSession(id string) bool {
	sess := s.manager.Snapshot()
	return sess != nil && sess.ID == id
}

func (s *Server) observeActive(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	if n, err := s.store.ActiveCount(ctx); err == nil {
		s.metrics.ActiveSessions.Set(float64(n))
	}
}

func sanitizeHeader(v string) string {
	v = strings.ReplaceAll(v, "\n", " ")
	v = strings.ReplaceAll(v, "\r", " ")
	if len(v) > 512 {
		v = v[:512]
	}
	return v
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
