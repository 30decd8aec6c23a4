package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSession struct {
	msgs   chan Message
	done   chan error
	closed chan struct{}
	once   sync.Once
}

func (s *fakeSession) Subscribe(context.Context) (<-chan Message, error) { return s.msgs, nil }
func (s *fakeSession) Done() <-chan error                                { return s.done }
func (s *fakeSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeTransport struct {
	mu       sync.Mutex
	failures int
	dials    int
	sessions chan *fakeSession
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Connect(context.Context) (Session, error) {
	t.mu.Lock()
	t.dials++
	if t.failures > 0 {
		t.failures--
		t.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	t.mu.Unlock()
	s := &fakeSession{msgs: make(chan Message), done: make(chan error, 1), closed: make(chan struct{})}
	t.sessions <- s
	return s, nil
}

func (t *fakeTransport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func TestManagerReconnectsAndRebuilds(t *testing.T) {
	tr := &fakeTransport{failures: 2, sessions: make(chan *fakeSession, 4)}
	var mu sync.Mutex
	var got []string
	m := NewManager(tr, func(_ context.Context, body []byte) error {
		mu.Lock()
		got = append(got, string(body))
		mu.Unlock()
		return nil
	}, 5*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	s1 := <-tr.sessions
	require.Eventually(t, func() bool { return m.State() == Ready }, time.Second, time.Millisecond)
	assert.Equal(t, 3, tr.Dials())
	s1.msgs <- Message{Body: []byte("a")}
	s1.msgs <- Message{Body: []byte("b")}

	// connection drop while ready
	s1.done <- errors.New("channel closed")
	s2 := <-tr.sessions
	<-s1.closed
	require.Eventually(t, func() bool { return m.State() == Ready }, time.Second, time.Millisecond)
	s2.msgs <- Message{Body: []byte("c")}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("manager did not stop")
	}
	<-s2.closed
	assert.Equal(t, Disconnected, m.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestManagerStopsWhileWaiting(t *testing.T) {
	tr := &fakeTransport{failures: 1 << 30, sessions: make(chan *fakeSession)}
	m := NewManager(tr, func(context.Context, []byte) error { return nil }, time.Hour, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	require.Eventually(t, func() bool { return tr.Dials() == 1 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("manager did not stop")
	}
}
