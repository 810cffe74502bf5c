package packet

import (
	"context"
	"errors"
	"sync"

	"github.com/rysete/packet/notify"
	"github.com/rysete/packet/protocol"
)

// mockNotifier records posted and withdrawn notifications.
type mockNotifier struct {
	mu        sync.Mutex
	posted    []notify.Notification
	withdrawn []string
}

func (n *mockNotifier) Post(notification notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.posted = append(n.posted, notification)
}

func (n *mockNotifier) Withdraw(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.withdrawn = append(n.withdrawn, id)
}

func (n *mockNotifier) withdrawnIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.withdrawn...)
}

// engineAction records one action forwarded to the mock engine.
type engineAction struct {
	transferID string
	action     protocol.Action
}

// mockEngine implements protocol.Engine for coordinator tests. Streams are
// buffered so tests can emit without a consumer attached yet.
type mockEngine struct {
	mu sync.Mutex

	started     bool
	discovering bool
	visible     bool
	startErr    error
	startCalls  int
	stopCalls   int

	events    chan protocol.Event
	endpoints chan protocol.EndpointInfo

	sent    []protocol.SendRequest
	actions []engineAction
}

func newMockEngine() *mockEngine {
	return &mockEngine{}
}

func (m *mockEngine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.startCalls++
	if m.startErr != nil {
		return m.startErr
	}
	// Subscriptions are invalidated by Stop; each start serves fresh streams.
	m.events = make(chan protocol.Event, 16)
	m.endpoints = make(chan protocol.EndpointInfo, 16)
	m.started = true
	return nil
}

func (m *mockEngine) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopCalls++
	if !m.started {
		return nil
	}
	close(m.events)
	close(m.endpoints)
	m.started = false
	m.discovering = false
	return nil
}

func (m *mockEngine) SubscribeEvents() <-chan protocol.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events
}

func (m *mockEngine) SubscribeEndpoints() <-chan protocol.EndpointInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoints
}

func (m *mockEngine) StartDiscovery(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return errors.New("engine not started")
	}
	m.discovering = true
	return nil
}

func (m *mockEngine) StopDiscovery() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discovering = false
}

func (m *mockEngine) Send(ctx context.Context, req protocol.SendRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return errors.New("engine not started")
	}
	m.sent = append(m.sent, req)
	return nil
}

func (m *mockEngine) SendAction(ctx context.Context, transferID string, action protocol.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return errors.New("engine not started")
	}
	m.actions = append(m.actions, engineAction{transferID: transferID, action: action})
	return nil
}

func (m *mockEngine) SetVisibility(visible bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visible = visible
}

// emit pushes an event onto the current event stream.
func (m *mockEngine) emit(ev protocol.Event) {
	m.mu.Lock()
	ch := m.events
	m.mu.Unlock()
	ch <- ev
}

// announce pushes an endpoint record onto the discovery feed.
func (m *mockEngine) announce(info protocol.EndpointInfo) {
	m.mu.Lock()
	ch := m.endpoints
	m.mu.Unlock()
	ch <- info
}

func (m *mockEngine) sentRequests() []protocol.SendRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]protocol.SendRequest(nil), m.sent...)
}

func (m *mockEngine) recordedActions() []engineAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]engineAction(nil), m.actions...)
}

func (m *mockEngine) counts() (starts, stops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCalls, m.stopCalls
}

func (m *mockEngine) isVisible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible
}
