package amqpbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joeydtaylor/composr/pkg/bus"
	"github.com/joeydtaylor/composr/pkg/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Transport subscribes a private, auto-deleted queue to the event exchange.
type Transport struct {
	cfg config.AMQP
	log *zap.Logger
}

func New(cfg config.AMQP, log *zap.Logger) *Transport {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.QueuePrefix == "" {
		cfg.QueuePrefix = "composr-"
	}
	return &Transport{cfg: cfg, log: log.With(zap.String("component", "amqpbus"))}
}

func (t *Transport) Name() string { return "amqp" }

func (t *Transport) Connect(ctx context.Context) (bus.Session, error) {
	conn, err := amqp.DialConfig(t.cfg.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp.DefaultDial(10 * time.Second),
		Properties: amqp.Table{
			"connection_name": "composr",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("amqp channel: %w", err), conn.Close())
	}
	s := &session{t: t, conn: conn, ch: ch, done: make(chan error, 1)}
	go s.watch(conn.NotifyClose(make(chan *amqp.Error, 1)), ch.NotifyClose(make(chan *amqp.Error, 1)))
	return s, nil
}

type session struct {
	t    *Transport
	conn *amqp.Connection
	ch   *amqp.Channel
	done chan error

	closeOnce sync.Once
	closeErr  error
}

// watch reports the first close of either the connection or the channel.
func (s *session) watch(connClosed, chClosed <-chan *amqp.Error) {
	var e *amqp.Error
	select {
	case e = <-connClosed:
	case e = <-chClosed:
	}
	if e != nil {
		s.done <- e
	} else {
		s.done <- bus.ErrClosed
	}
}

func (s *session) Done() <-chan error { return s.done }

func (s *session) Subscribe(ctx context.Context) (<-chan bus.Message, error) {
	name := s.t.cfg.QueuePrefix + uuid.NewString()
	q, err := s.ch.QueueDeclare(name, false, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("amqp queue declare %s: %w", name, err)
	}
	if err := s.ch.QueueBind(q.Name, s.t.cfg.Pattern, s.t.cfg.Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("amqp bind %s to %s: %w", q.Name, s.t.cfg.Exchange, err)
	}
	deliveries, err := s.ch.ConsumeWithContext(ctx, q.Name, "", true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("amqp consume %s: %w", q.Name, err)
	}
	s.t.log.Info("amqp subscribed", zap.String("queue", q.Name), zap.String("exchange", s.t.cfg.Exchange))

	out := make(chan bus.Message)
	go func() {
		defer close(out)
		for d := range deliveries {
			if s.t.cfg.Event != "" && d.RoutingKey != s.t.cfg.Event {
				continue
			}
			select {
			case out <- bus.Message{Key: d.RoutingKey, Body: d.Body}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		var err error
		if !s.ch.IsClosed() {
			err = multierr.Append(err, s.ch.Close())
		}
		if !s.conn.IsClosed() {
			err = multierr.Append(err, s.conn.Close())
		}
		s.closeErr = err
	})
	return s.closeErr
}
