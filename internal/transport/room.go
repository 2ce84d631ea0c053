package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RoomTransport drives the room's signaling channel over a websocket and
// translates signaling frames into Events. One instance serves one
// connection; Connect after Disconnect requires a fresh instance.
type RoomTransport struct {
	connectTimeout time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	events    chan Event
	closeOnce sync.Once
}

func NewRoomTransport(connectTimeout time.Duration) *RoomTransport {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &RoomTransport{
		connectTimeout: connectTimeout,
		events:         make(chan Event, 64),
	}
}

func (t *RoomTransport) Connect(ctx context.Context, rawURL, accessToken string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse room url: %w", err)
	}
	q := u.Query()
	q.Set("access_token", accessToken)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+accessToken)

	dialCtx, cancel := context.WithTimeout(ctx, t.connectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), headers)
	if err != nil {
		return fmt.Errorf("dial room: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn)
	return nil
}

func (t *RoomTransport) Disconnect() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}

func (t *RoomTransport) Events() <-chan Event {
	return t.events
}

type roomFrame struct {
	Event string `json:"event"`
	Track string `json:"track"`
	Kind  string `json:"kind"`
	State string `json:"state"`
}

func (t *RoomTransport) readLoop(conn *websocket.Conn) {
	defer t.closeEvents()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.emit(Event{Kind: EventDisconnected})
			return
		}

		var frame roomFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		switch strings.ToLower(frame.Event) {
		case "track_subscribed":
			kind := frame.Kind
			if kind == "" {
				kind = frame.Track
			}
			t.emit(Event{Kind: EventTrackSubscribed, TrackKind: kind})
		case "connection_state_changed":
			t.emit(Event{Kind: EventConnectionState, State: frame.State})
		case "disconnected":
			t.emit(Event{Kind: EventDisconnected})
		case "reconnecting":
			t.emit(Event{Kind: EventReconnecting})
		case "reconnected":
			t.emit(Event{Kind: EventReconnected})
		}
	}
}

func (t *RoomTransport) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		// The lifecycle manager drains continuously; dropping under a full
		// buffer keeps the read loop from blocking the socket.
	}
}

func (t *RoomTransport) closeEvents() {
	t.closeOnce.Do(func() { close(t.events) })
}
