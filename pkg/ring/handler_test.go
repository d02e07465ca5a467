package ring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/busybox42/ringnode/internal/store"
	"github.com/busybox42/ringnode/pkg/protocol"
	"github.com/busybox42/ringnode/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	to      types.Endpoint
	payload string
}

// mockSender records every send instead of dialing.
type mockSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *mockSender) Send(_ context.Context, to types.Endpoint, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{to: to, payload: string(payload)})
	return m.err
}

func (m *mockSender) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

var (
	p0Addr = types.Endpoint{Host: "10.0.0.1", Port: 9000}
	p1Addr = types.Endpoint{Host: "10.0.0.2", Port: 9001}
	p2Addr = types.Endpoint{Host: "10.0.0.3", Port: 9002}
)

// newTestNode builds P0 of a three node ring P0 -> P1 -> P2 -> P0.
func newTestNode(t *testing.T, sender Sender) *Node {
	t.Helper()
	return NewNode(&Config{
		Self: types.Identity{
			ID:          "P0",
			Host:        p0Addr.Host,
			Port:        p0Addr.Port,
			Successor:   p1Addr,
			Predecessor: p2Addr,
		},
		Sender: sender,
	})
}

func TestHandleSearch(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Outcome
		sent    []sentMessage
	}{
		{
			name:    "Owned file resolves to origin",
			payload: "SEARCH;arquivo5;P2;10.0.0.3;9002;ANTIHORARIO",
			want:    Resolved,
			sent:    []sentMessage{{to: p2Addr, payload: "FOUND;arquivo5;P0"}},
		},
		{
			name:    "Clockwise goes to successor unchanged",
			payload: "SEARCH;arquivo25;P2;10.0.0.3;9002;HORARIO",
			want:    Forwarded,
			sent:    []sentMessage{{to: p1Addr, payload: "SEARCH;arquivo25;P2;10.0.0.3;9002;HORARIO"}},
		},
		{
			name:    "Counter clockwise goes to predecessor unchanged",
			payload: "SEARCH;arquivo15;P1;10.0.0.2;9001;ANTIHORARIO",
			want:    Forwarded,
			sent:    []sentMessage{{to: p2Addr, payload: "SEARCH;arquivo15;P1;10.0.0.2;9001;ANTIHORARIO"}},
		},
		{
			name:    "Invalid file id is forwarded",
			payload: "SEARCH;relatorio;P1;10.0.0.2;9001;HORARIO",
			want:    Forwarded,
			sent:    []sentMessage{{to: p1Addr, payload: "SEARCH;relatorio;P1;10.0.0.2;9001;HORARIO"}},
		},
		{
			name:    "Found is terminal",
			payload: "FOUND;arquivo15;P1",
			want:    Reported,
		},
		{
			name:    "Malformed payload is dropped",
			payload: "SEARCH;arquivo15;P1",
			want:    Dropped,
		},
		{
			name:    "Unknown tag is dropped",
			payload: "HELLO;P1",
			want:    Dropped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &mockSender{}
			node := newTestNode(t, sender)

			got := node.HandlePayload(context.Background(), []byte(tt.payload))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.sent, sender.messages())
		})
	}
}

func TestSendFailureDoesNotChangeOutcome(t *testing.T) {
	sender := &mockSender{err: errors.New("connection refused")}
	node := newTestNode(t, sender)

	out := node.HandlePayload(context.Background(), []byte("SEARCH;arquivo25;P2;10.0.0.3;9002;HORARIO"))
	assert.Equal(t, Forwarded, out)
	assert.Len(t, sender.messages(), 1)

	out = node.HandlePayload(context.Background(), []byte("SEARCH;arquivo2;P2;10.0.0.3;9002;HORARIO"))
	assert.Equal(t, Resolved, out)
	assert.Len(t, sender.messages(), 2)
}

func TestSearchOriginatesFromSelf(t *testing.T) {
	sender := &mockSender{}
	node := newTestNode(t, sender)

	out, err := node.Search(context.Background(), "arquivo15", protocol.Clockwise)
	require.NoError(t, err)
	assert.Equal(t, Forwarded, out)
	assert.Equal(t, []sentMessage{{to: p1Addr, payload: "SEARCH;arquivo15;P0;10.0.0.1;9000;HORARIO"}}, sender.messages())

	pending := node.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "arquivo15", pending[0].FileID)
	assert.Equal(t, protocol.Clockwise, pending[0].Direction)

	assert.Equal(t, Reported, node.HandlePayload(context.Background(), []byte("FOUND;arquivo15;P1")))
	assert.Empty(t, node.Pending())
}

func TestSearchOwnedLocallyRepliesToSelf(t *testing.T) {
	sender := &mockSender{}
	node := newTestNode(t, sender)

	out, err := node.Search(context.Background(), "arquivo7", protocol.CounterClockwise)
	require.NoError(t, err)
	assert.Equal(t, Resolved, out)
	assert.Equal(t, []sentMessage{{to: p0Addr, payload: "FOUND;arquivo7;P0"}}, sender.messages())
}

func TestSearchRejectsInvalidInput(t *testing.T) {
	node := newTestNode(t, &mockSender{})

	for _, file := range []string{"", "  ", "arquivo1;P9"} {
		_, err := node.Search(context.Background(), file, protocol.Clockwise)
		assert.ErrorIs(t, err, ErrInvalidSearch, "file %q", file)
	}
	_, err := node.Search(context.Background(), "arquivo1", protocol.Direction(0))
	assert.ErrorIs(t, err, ErrInvalidSearch)
	assert.Empty(t, node.Pending())
}

func TestSearchReturningToOriginIsDropped(t *testing.T) {
	sender := &mockSender{}
	node := newTestNode(t, sender)

	_, err := node.Search(context.Background(), "arquivo99", protocol.Clockwise)
	require.NoError(t, err)
	require.Len(t, sender.messages(), 1)

	// The search went all the way round and nobody claimed it.
	out := node.HandlePayload(context.Background(), []byte(sender.messages()[0].payload))
	assert.Equal(t, Dropped, out)
	assert.Len(t, sender.messages(), 1)
	assert.Empty(t, node.Pending())
}

func TestRepeatedSearchesEachReturnToOrigin(t *testing.T) {
	sender := &mockSender{}
	node := newTestNode(t, sender)

	for i := 0; i < 2; i++ {
		_, err := node.Search(context.Background(), "arquivo99", protocol.Clockwise)
		require.NoError(t, err)
	}
	require.Len(t, node.Pending(), 2)

	sent := sender.messages()
	require.Len(t, sent, 2)
	for _, m := range sent {
		assert.Equal(t, Dropped, node.HandlePayload(context.Background(), []byte(m.payload)))
	}
	assert.Len(t, sender.messages(), 2)
	assert.Empty(t, node.Pending())
}

func TestFoundSettlesOneSearch(t *testing.T) {
	node := newTestNode(t, &mockSender{})

	for i := 0; i < 2; i++ {
		_, err := node.Search(context.Background(), "arquivo15", protocol.Clockwise)
		require.NoError(t, err)
	}

	assert.Equal(t, Reported, node.HandlePayload(context.Background(), []byte("FOUND;arquivo15;P1")))
	assert.Len(t, node.Pending(), 1)
	assert.Equal(t, Reported, node.HandlePayload(context.Background(), []byte("FOUND;ARQUIVO15;P1")))
	assert.Empty(t, node.Pending())
}

func TestPendingSearchExpires(t *testing.T) {
	node := NewNode(&Config{
		Self: types.Identity{
			ID:          "P0",
			Host:        p0Addr.Host,
			Port:        p0Addr.Port,
			Successor:   p1Addr,
			Predecessor: p2Addr,
		},
		Sender:     &mockSender{},
		PendingTTL: 50 * time.Millisecond,
	})

	_, err := node.Search(context.Background(), "arquivo15", protocol.Clockwise)
	require.NoError(t, err)
	require.Len(t, node.Pending(), 1)

	require.Eventually(t, func() bool { return len(node.Pending()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestResolveConsultsCatalog(t *testing.T) {
	catalog := store.NewLocal()
	catalog.Seed(FileNames(0))

	sender := &mockSender{}
	node := NewNode(&Config{
		Self: types.Identity{
			ID:          "P0",
			Host:        p0Addr.Host,
			Port:        p0Addr.Port,
			Successor:   p1Addr,
			Predecessor: p2Addr,
		},
		Sender:  sender,
		Catalog: catalog,
	})

	out := node.HandlePayload(context.Background(), []byte("SEARCH;ARQUIVO3;P1;10.0.0.2;9001;HORARIO"))
	assert.Equal(t, Resolved, out)
	assert.Equal(t, []sentMessage{{to: p1Addr, payload: "FOUND;ARQUIVO3;P0"}}, sender.messages())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "resolved", Resolved.String())
	assert.Equal(t, "forwarded", Forwarded.String())
	assert.Equal(t, "reported", Reported.String())
	assert.Equal(t, "dropped", Dropped.String())
}
