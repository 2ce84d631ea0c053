package provider

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MockClient is a local fallback used when no HeyGen key is configured. It
// mints fake sessions and accepts every control call.
type MockClient struct {
	mu      sync.Mutex
	active  map[string]bool
	spoken  []string
	stopped []string
}

func NewMockClient() *MockClient {
	return &MockClient{active: make(map[string]bool)}
}

func (m *MockClient) CreateSession(_ context.Context, _ CreateOptions) (SessionDescriptor, error) {
	id := uuid.NewString()
	m.mu.Lock()
	m.active[id] = true
	m.mu.Unlock()
	return SessionDescriptor{
		SessionID:    id,
		TransportURL: "wss://mock.transport.local/room",
		AccessToken:  "mock-token-" + id,
	}, nil
}

func (m *MockClient) Speak(_ context.Context, sessionID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spoken = append(m.spoken, sessionID+":"+text)
	return nil
}

func (m *MockClient) KeepAlive(_ context.Context, _ string) error { return nil }

func (m *MockClient) Stop(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, sessionID)
	m.stopped = append(m.stopped, sessionID)
	return nil
}

// Spoken returns every speak call observed, for tests.
func (m *MockClient) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.spoken))
	copy(out, m.spoken)
	return out
}
