package transport

import (
	"context"
	"sync"
)

// MockTransport is an in-process transport for keyless runs and tests. Test
// code scripts connection outcomes and pushes room events by hand.
type MockTransport struct {
	mu           sync.Mutex
	events       chan Event
	connectErrs  []error
	connects     int
	disconnects  int
	connectedURL string
}

func NewMockTransport() *MockTransport {
	return &MockTransport{events: make(chan Event, 64)}
}

// FailConnects queues errors returned by the next Connect calls, in order.
func (m *MockTransport) FailConnects(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErrs = append(m.connectErrs, errs...)
}

func (m *MockTransport) Connect(_ context.Context, url, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	if len(m.connectErrs) > 0 {
		err := m.connectErrs[0]
		m.connectErrs = m.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	m.connectedURL = url
	return nil
}

func (m *MockTransport) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	return nil
}

func (m *MockTransport) Events() <-chan Event {
	return m.events
}

// Emit pushes a room event to the consumer.
func (m *MockTransport) Emit(ev Event) {
	m.events <- ev
}

func (m *MockTransport) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

func (m *MockTransport) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}
