// Package provider wraps the external avatar streaming provider behind a
// stable interface so the rest of the service never depends on upstream
// payload layout.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// SessionDescriptor is the canonical shape of a freshly created streaming
// session, normalized from whichever layout the upstream returns.
type SessionDescriptor struct {
	SessionID        string
	TransportURL     string
	AccessToken      string
	RealtimeEndpoint string
	DurationLimit    int
}

// CreateOptions influence session creation.
type CreateOptions struct {
	AvatarID string
	VoiceID  string
	Quality  string
}

// Client issues control-plane calls against the avatar provider. It is
// stateless and carries no retry policy; retries belong to the lifecycle
// manager.
type Client interface {
	CreateSession(ctx context.Context, opts CreateOptions) (SessionDescriptor, error)
	Speak(ctx context.Context, sessionID, text string) error
	KeepAlive(ctx context.Context, sessionID string) error
	Stop(ctx context.Context, sessionID string) error
}

// ErrMalformedResponse marks a structurally invalid success response, e.g. a
// created session missing its id, transport URL, or access token. The
// lifecycle manager treats it as a creation failure.
var ErrMalformedResponse = errors.New("malformed provider response")

// APIError surfaces an upstream failure with the provider payload verbatim
// for diagnostics.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider %s failed: status %d: %s", e.Op, e.StatusCode, e.Body)
}
