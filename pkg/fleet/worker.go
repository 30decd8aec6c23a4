package fleet

import (
	"context"
	"time"

	"github.com/joeydtaylor/composr/pkg/fault"
	"github.com/joeydtaylor/composr/pkg/middleware/metrics"
	"github.com/joeydtaylor/composr/pkg/phrase"
	"go.uber.org/zap"
)

// Store is the part of the registry the worker mutates.
type Store interface {
	Register(domain string, p phrase.Phrase) error
	Unregister(domain, id string) error
	RegisterSnippet(domain string, s phrase.Snippet) error
	UnregisterSnippet(domain, id string) error
}

// Origin reads documents from the origin store. page is 0-based.
type Origin interface {
	FetchPhrase(ctx context.Context, id string) (phrase.Phrase, error)
	FetchSnippet(ctx context.Context, id string) (phrase.Snippet, error)
	ListPhrases(ctx context.Context, page int) ([]phrase.Phrase, error)
	ListSnippets(ctx context.Context, page int) ([]phrase.Snippet, error)
}

const (
	resultApplied = "applied"
	resultIgnored = "ignored"
	resultFailed  = "failed"
)

// Worker applies bus events to the local registry. Handle is called by the
// subscription loop one message at a time, so events are applied in delivery
// order.
type Worker struct {
	store        Store
	origin       Origin
	fetchTimeout time.Duration
	log          *zap.Logger
}

func NewWorker(store Store, origin Origin, fetchTimeout time.Duration, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 8 * time.Second
	}
	return &Worker{
		store:        store,
		origin:       origin,
		fetchTimeout: fetchTimeout,
		log:          log.With(zap.String("component", "worker")),
	}
}

// Handle applies one payload. Failures are logged as SyncFaults and dropped;
// the returned error is informational and never asks for redelivery.
func (w *Worker) Handle(ctx context.Context, body []byte) error {
	ev, err := ParseEvent(body)
	if err != nil {
		return w.drop(Event{}, err)
	}
	kind, ok := ev.Kind()
	if !ok {
		w.log.Debug("event type ignored", zap.String("type", ev.Type), zap.String("resourceId", ev.ResourceID))
		metrics.ObserveSyncEvent(ev.Type, ev.Action, resultIgnored)
		return nil
	}
	if ev.ResourceID == "" {
		return w.drop(ev, fault.New(fault.KindSync, "event has no resourceId"))
	}
	domain := phrase.DomainOf(ev.ResourceID)

	switch ev.Action {
	case ActionDelete:
		err = w.remove(kind, domain, ev.ResourceID)
	case ActionCreate, ActionUpdate:
		err = w.upsert(ctx, kind, domain, ev.ResourceID)
	default:
		w.log.Warn("event action unknown; dropped",
			zap.String("type", string(kind)), zap.String("action", ev.Action), zap.String("resourceId", ev.ResourceID))
		metrics.ObserveSyncEvent(string(kind), ev.Action, resultIgnored)
		return nil
	}
	if err != nil {
		return w.drop(ev, err)
	}
	w.log.Debug("event applied",
		zap.String("type", string(kind)), zap.String("action", ev.Action), zap.String("resourceId", ev.ResourceID))
	metrics.ObserveSyncEvent(string(kind), ev.Action, resultApplied)
	return nil
}

func (w *Worker) remove(kind Kind, domain, id string) error {
	if kind == KindSnippet {
		return w.store.UnregisterSnippet(domain, id)
	}
	return w.store.Unregister(domain, id)
}

// upsert fetches the current document and registers it under the event's id,
// whatever id the document carries, so a later DELETE for that id removes it.
// A failed fetch leaves the node on its previous version until the next event
// for the id.
func (w *Worker) upsert(ctx context.Context, kind Kind, domain, id string) error {
	ctx, cancel := context.WithTimeout(ctx, w.fetchTimeout)
	defer cancel()

	if kind == KindSnippet {
		s, err := w.origin.FetchSnippet(ctx, id)
		if err != nil {
			return fault.Wrap(fault.KindSync, "fetch snippet "+id, err)
		}
		s.ID = id
		return w.store.RegisterSnippet(domain, s)
	}
	p, err := w.origin.FetchPhrase(ctx, id)
	if err != nil {
		return fault.Wrap(fault.KindSync, "fetch phrase "+id, err)
	}
	p.ID = id
	return w.store.Register(domain, p)
}

func (w *Worker) drop(ev Event, err error) error {
	f := fault.From(err)
	if f.Kind != fault.KindSync {
		f = fault.Wrap(fault.KindSync, f.Message, err)
	}
	w.log.Error("sync event dropped",
		zap.String("kind", string(f.Kind)),
		zap.String("type", ev.Type),
		zap.String("action", ev.Action),
		zap.String("resourceId", ev.ResourceID),
		zap.Error(err),
	)
	metrics.ObserveSyncEvent(ev.Type, ev.Action, resultFailed)
	metrics.ObserveFault(string(fault.KindSync))
	return f
}
