package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/joeydtaylor/composr/pkg/fault"
	"github.com/joeydtaylor/composr/pkg/middleware/metrics"
	"go.uber.org/zap"
)

type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Subscribing  State = "subscribing"
	Ready        State = "ready"
)

var states = []string{string(Disconnected), string(Connecting), string(Connected), string(Subscribing), string(Ready)}

// DefaultReconnect is the fixed delay between connection attempts.
const DefaultReconnect = 5 * time.Second

// Message is one delivery. Key is the routing key or record key.
type Message struct {
	Key  string
	Body []byte
}

// Handler consumes one message. Messages are handed over one at a time.
type Handler func(ctx context.Context, body []byte) error

// Transport opens connections to a broker.
type Transport interface {
	Name() string
	Connect(ctx context.Context) (Session, error)
}

// Session is one live connection. Subscribe builds a fresh subscription;
// Done is closed, or yields the cause, once the connection is lost.
type Session interface {
	Subscribe(ctx context.Context) (<-chan Message, error)
	Done() <-chan error
	Close() error
}

// ErrClosed is reported when a subscription ends without a broker error.
var ErrClosed = errors.New("bus: subscription closed")

// Manager keeps one subscription alive for the life of Run.
type Manager struct {
	transport Transport
	handler   Handler
	delay     time.Duration
	log       *zap.Logger

	mu    sync.RWMutex
	state State
}

func NewManager(t Transport, h Handler, delay time.Duration, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if delay <= 0 {
		delay = DefaultReconnect
	}
	m := &Manager{
		transport: t,
		handler:   h,
		delay:     delay,
		log:       log.With(zap.String("component", "bus"), zap.String("transport", t.Name())),
	}
	m.setState(Disconnected)
	return m
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	metrics.SetBusState(string(s), states...)
}

// Run connects, subscribes and consumes until ctx ends. Any failure drops back
// to Disconnected and retries after the fixed delay, forever.
func (m *Manager) Run(ctx context.Context) error {
	defer m.setState(Disconnected)
	for attempt := 1; ; attempt++ {
		err := m.session(ctx)
		if ctx.Err() != nil {
			m.log.Info("bus stopped")
			return nil
		}
		m.setState(Disconnected)
		f := fault.Wrap(fault.KindConnection, "bus connection lost", err)
		m.log.Warn("bus disconnected; reconnecting",
			zap.String("kind", string(f.Kind)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", m.delay),
			zap.Error(err),
		)
		metrics.ObserveFault(string(fault.KindConnection))
		metrics.IncBusReconnect()

		t := time.NewTimer(m.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			m.log.Info("bus stopped")
			return nil
		case <-t.C:
		}
	}
}

// session runs one connection from dial to loss.
func (m *Manager) session(ctx context.Context) error {
	m.setState(Connecting)
	s, err := m.transport.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			m.log.Debug("bus close", zap.Error(err))
		}
	}()
	m.setState(Connected)

	m.setState(Subscribing)
	msgs, err := s.Subscribe(ctx)
	if err != nil {
		return err
	}
	m.setState(Ready)
	m.log.Info("bus ready")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-s.Done():
			if !ok || err == nil {
				return ErrClosed
			}
			return err
		case msg, ok := <-msgs:
			if !ok {
				return ErrClosed
			}
			// failures are logged by the handler and not redelivered
			_ = m.handler(ctx, msg.Body)
		}
	}
}
