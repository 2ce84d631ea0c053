// Package transport wraps the real-time media room used for avatar video.
// The adapter only surfaces lifecycle events; it holds no retry policy and
// does not implement the media protocol itself.
package transport

import (
	"context"
	"errors"
)

type EventKind string

const (
	EventTrackSubscribed  EventKind = "track_subscribed"
	EventConnectionState  EventKind = "connection_state_changed"
	EventDisconnected     EventKind = "disconnected"
	EventReconnecting     EventKind = "reconnecting"
	EventReconnected      EventKind = "reconnected"
)

// Event is an asynchronous room notification. TrackKind is set for
// track_subscribed events, State for connection_state_changed events.
type Event struct {
	Kind      EventKind
	TrackKind string
	State     string
}

var ErrNotConnected = errors.New("transport not connected")

// Transport connects to a media room and reports its lifecycle. The session
// lifecycle manager is the sole consumer of Events.
type Transport interface {
	Connect(ctx context.Context, url, accessToken string) error
	Disconnect() error
	Events() <-chan Event
}
