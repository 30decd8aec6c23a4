package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joeydtaylor/composr/pkg/phrase"
	"go.uber.org/zap"
)

// Bootstrap loads every phrase and snippet from the origin when the node
// starts, so it serves the fleet's endpoints before the first bus event.
type Bootstrap struct {
	store    Store
	origin   Origin
	pageSize int
	retry    time.Duration
	log      *zap.Logger

	ready chan struct{}
	once  sync.Once
}

func NewBootstrap(store Store, origin Origin, pageSize int, retry time.Duration, log *zap.Logger) *Bootstrap {
	if log == nil {
		log = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	if retry <= 0 {
		retry = 10 * time.Second
	}
	return &Bootstrap{
		store:    store,
		origin:   origin,
		pageSize: pageSize,
		retry:    retry,
		log:      log.With(zap.String("component", "bootstrap")),
		ready:    make(chan struct{}),
	}
}

// Run loads until one full pass succeeds or ctx ends. A failed pass is
// retried from the first page after the retry delay.
func (b *Bootstrap) Run(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		phrases, snippets, err := b.load(ctx)
		if err == nil {
			b.log.Info("bootstrap complete", zap.Int("phrases", phrases), zap.Int("snippets", snippets))
			b.once.Do(func() { close(b.ready) })
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.log.Error("bootstrap failed; retrying",
			zap.Int("attempt", attempt), zap.Duration("retry", b.retry), zap.Error(err))

		t := time.NewTimer(b.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Ready is closed once a full load has succeeded.
func (b *Bootstrap) Ready() <-chan struct{} { return b.ready }

// Gate holds each call to h until ready is closed. Events that arrive while
// the initial load runs are then applied after it, in delivery order, so a
// page fetched before a DELETE or UPDATE cannot undo that event.
func Gate(ready <-chan struct{}, h func(context.Context, []byte) error) func(context.Context, []byte) error {
	return func(ctx context.Context, body []byte) error {
		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
		return h(ctx, body)
	}
}

func (b *Bootstrap) load(ctx context.Context) (phrases, snippets int, err error) {
	for page := 0; ; page++ {
		list, err := b.origin.ListPhrases(ctx, page)
		if err != nil {
			return phrases, snippets, fmt.Errorf("list phrases page %d: %w", page, err)
		}
		for _, p := range list {
			domain := phrase.DomainOf(p.ID)
			if err := b.store.Register(domain, p); err != nil {
				b.log.Warn("bootstrap phrase skipped", zap.String("id", p.ID), zap.Error(err))
				continue
			}
			phrases++
		}
		if len(list) < b.pageSize {
			break
		}
	}
	for page := 0; ; page++ {
		list, err := b.origin.ListSnippets(ctx, page)
		if err != nil {
			return phrases, snippets, fmt.Errorf("list snippets page %d: %w", page, err)
		}
		for _, s := range list {
			if err := b.store.RegisterSnippet(phrase.DomainOf(s.ID), s); err != nil {
				b.log.Warn("bootstrap snippet skipped", zap.String("id", s.ID), zap.Error(err))
				continue
			}
			snippets++
		}
		if len(list) < b.pageSize {
			break
		}
	}
	return phrases, snippets, nil
}
