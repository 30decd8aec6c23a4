package kafkabus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joeydtaylor/composr/pkg/bus"
	"github.com/joeydtaylor/composr/pkg/config"
	"github.com/segmentio/kafka-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Transport consumes the event topic with a consumer group private to this
// process, so every node sees every event.
type Transport struct {
	cfg config.Kafka
	log *zap.Logger
}

func New(cfg config.Kafka, log *zap.Logger) *Transport {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.GroupPrefix == "" {
		cfg.GroupPrefix = "composr-"
	}
	return &Transport{cfg: cfg, log: log.With(zap.String("component", "kafkabus"))}
}

func (t *Transport) Name() string { return "kafka" }

// Connect dials the first reachable broker; the reader itself connects lazily.
func (t *Transport) Connect(ctx context.Context) (bus.Session, error) {
	var errs error
	for _, b := range t.cfg.Brokers {
		dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, err := kafka.DialContext(dctx, "tcp", b)
		cancel()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("kafka dial %s: %w", b, err))
			continue
		}
		return &session{t: t, conn: conn, done: make(chan error, 1)}, nil
	}
	if errs == nil {
		errs = errors.New("kafka: no brokers configured")
	}
	return nil, errs
}

type session struct {
	t    *Transport
	conn *kafka.Conn
	done chan error

	mu     sync.Mutex
	reader *kafka.Reader
	cancel context.CancelFunc
}

func (s *session) Done() <-chan error { return s.done }

func (s *session) Subscribe(ctx context.Context) (<-chan bus.Message, error) {
	if _, err := s.conn.ReadPartitions(s.t.cfg.Topic); err != nil {
		return nil, fmt.Errorf("kafka topic %s: %w", s.t.cfg.Topic, err)
	}
	group := s.t.cfg.GroupPrefix + uuid.NewString()
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     s.t.cfg.Brokers,
		GroupID:     group,
		Topic:       s.t.cfg.Topic,
		StartOffset: kafka.LastOffset,
		MaxWait:     time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			s.t.log.Warn("kafka reader", zap.String("error", fmt.Sprintf(msg, args...)))
		}),
	})
	rctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.reader, s.cancel = r, cancel
	s.mu.Unlock()
	s.t.log.Info("kafka subscribed", zap.String("topic", s.t.cfg.Topic), zap.String("group", group))

	out := make(chan bus.Message)
	go func() {
		defer close(out)
		for {
			m, err := r.ReadMessage(rctx)
			if err != nil {
				if rctx.Err() == nil {
					s.done <- err
				}
				return
			}
			select {
			case out <- bus.Message{Key: string(m.Key), Body: m.Value}:
			case <-rctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.reader != nil {
		err = multierr.Append(err, s.reader.Close())
		s.reader = nil
	}
	if s.conn != nil {
		err = multierr.Append(err, s.conn.Close())
		s.conn = nil
	}
	return err
}
