package registry

import (
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/joeydtaylor/composr/pkg/fault"
	"github.com/joeydtaylor/composr/pkg/middleware/metrics"
	"github.com/joeydtaylor/composr/pkg/phrase"
	"github.com/joeydtaylor/composr/pkg/sandbox"
	"go.uber.org/zap"
)

// Registry owns the live phrase and snippet sets of this node and the route
// table derived from them. Readers see an immutable snapshot; writers build a
// new one under mu and swap it in, so a request is routed either entirely by
// the old table or entirely by the new one.
type Registry struct {
	engine *sandbox.Engine
	log    *zap.Logger

	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

type entry struct {
	doc   phrase.Phrase
	units map[string]*sandbox.Unit // by method
}

type snippetEntry struct {
	doc  phrase.Snippet
	unit *sandbox.Unit
}

type snapshot struct {
	phrases  map[string]map[string]*entry        // domain -> id -> entry
	snippets map[string]map[string]*snippetEntry // domain -> id -> entry
	names    map[string]map[string]*snippetEntry // domain -> local name -> entry
	mux      http.Handler
	nPhrases int
	nSnips   int
}

func New(engine *sandbox.Engine, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{engine: engine, log: log.With(zap.String("component", "registry"))}
	s := &snapshot{
		phrases:  map[string]map[string]*entry{},
		snippets: map[string]map[string]*snippetEntry{},
		names:    map[string]map[string]*snippetEntry{},
	}
	mux, err := r.build(s.phrases)
	if err != nil {
		panic(err)
	}
	s.mux = mux
	r.snap.Store(s)
	return r
}

func (r *Registry) current() *snapshot { return r.snap.Load() }

// Register validates, compiles and binds p under domain, replacing any phrase
// with the same id. On error the registry is unchanged.
func (r *Registry) Register(domain string, p phrase.Phrase) error {
	if err := p.Normalize(domain); err != nil {
		return err
	}
	e := &entry{doc: p.Clone(), units: make(map[string]*sandbox.Unit)}
	for _, m := range p.DeclaredMethods() {
		src, err := p.Handler(m).Source()
		if err != nil {
			return fault.Validation("phrase %q %s: %v", p.ID, m, err)
		}
		u, err := sandbox.Compile(p.ID+" "+m, src)
		if err != nil {
			return err
		}
		e.units[m] = u
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.current()
	next := old.withPhrases(domain, func(m map[string]*entry) { m[p.ID] = e })
	mux, err := r.build(next.phrases)
	if err != nil {
		return err
	}
	next.mux = mux
	r.swap(next)
	r.log.Info("phrase registered",
		zap.String("domain", domain), zap.String("id", p.ID), zap.String("route", Describe(p)))
	return nil
}

// Unregister removes the phrase and its routes. Removing an unknown id is a
// no-op.
func (r *Registry) Unregister(domain, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.current()
	if _, ok := old.phrases[domain][id]; !ok {
		return nil
	}
	next := old.withPhrases(domain, func(m map[string]*entry) { delete(m, id) })
	mux, err := r.build(next.phrases)
	if err != nil {
		return err
	}
	next.mux = mux
	r.swap(next)
	r.log.Info("phrase unregistered", zap.String("domain", domain), zap.String("id", id))
	return nil
}

// RegisterSnippet validates, compiles and stores s under domain, replacing any
// snippet with the same id. The local name must not be held by another id.
func (r *Registry) RegisterSnippet(domain string, s phrase.Snippet) error {
	if err := s.Normalize(domain); err != nil {
		return err
	}
	src, err := s.Source()
	if err != nil {
		return fault.Validation("snippet %q: %v", s.ID, err)
	}
	u, err := sandbox.CompileSnippet(s.ID, src)
	if err != nil {
		return err
	}
	name := s.LocalName()

	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.current()
	if held, ok := old.names[domain][name]; ok && held.doc.ID != s.ID {
		return fault.Validation("snippet name %q is already used by %q", name, held.doc.ID)
	}
	r.swap(old.withSnippets(domain, func(m map[string]*snippetEntry) {
		m[s.ID] = &snippetEntry{doc: s, unit: u}
	}))
	r.log.Info("snippet registered", zap.String("domain", domain), zap.String("id", s.ID), zap.String("name", name))
	return nil
}

// UnregisterSnippet removes a snippet by id. Unknown ids are a no-op.
func (r *Registry) UnregisterSnippet(domain, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.current()
	if _, ok := old.snippets[domain][id]; !ok {
		return nil
	}
	r.swap(old.withSnippets(domain, func(m map[string]*snippetEntry) { delete(m, id) }))
	r.log.Info("snippet unregistered", zap.String("domain", domain), zap.String("id", id))
	return nil
}

// Phrases lists the domain's phrases sorted by id.
func (r *Registry) Phrases(domain string) []phrase.Phrase {
	m := r.current().phrases[domain]
	out := make([]phrase.Phrase, 0, len(m))
	for _, e := range m {
		out = append(out, e.doc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snippets lists the domain's snippets sorted by id.
func (r *Registry) Snippets(domain string) []phrase.Snippet {
	m := r.current().snippets[domain]
	out := make([]phrase.Snippet, 0, len(m))
	for _, e := range m {
		out = append(out, e.doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count is the number of phrases across all domains.
func (r *Registry) Count() int { return r.current().nPhrases }

// SnippetCount is the number of snippets across all domains.
func (r *Registry) SnippetCount() int { return r.current().nSnips }

// Snippet resolves a compiled snippet for compoSR.snippet.
func (r *Registry) Snippet(domain, name string) (*sandbox.Unit, bool) {
	e, ok := r.current().names[domain][name]
	if !ok {
		return nil, false
	}
	return e.unit, true
}

// ServeHTTP dispatches to the routes of the current snapshot.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.current().mux.ServeHTTP(w, req)
}

func (r *Registry) swap(next *snapshot) {
	r.snap.Store(next)
	metrics.SetRegistered(next.nPhrases, next.nSnips)
}

// withPhrases copies s, giving f a private copy of domain's phrase map.
func (s *snapshot) withPhrases(domain string, f func(map[string]*entry)) *snapshot {
	next := *s
	next.phrases = make(map[string]map[string]*entry, len(s.phrases)+1)
	for d, m := range s.phrases {
		next.phrases[d] = m
	}
	dm := make(map[string]*entry, len(s.phrases[domain])+1)
	for id, e := range s.phrases[domain] {
		dm[id] = e
	}
	f(dm)
	if len(dm) == 0 {
		delete(next.phrases, domain)
	} else {
		next.phrases[domain] = dm
	}
	next.nPhrases = s.nPhrases - len(s.phrases[domain]) + len(dm)
	return &next
}

// withSnippets is withPhrases for snippets; the domain's name index is rebuilt
// from the new id map.
func (s *snapshot) withSnippets(domain string, f func(map[string]*snippetEntry)) *snapshot {
	next := *s
	next.snippets = make(map[string]map[string]*snippetEntry, len(s.snippets)+1)
	next.names = make(map[string]map[string]*snippetEntry, len(s.names)+1)
	for d, m := range s.snippets {
		next.snippets[d] = m
		next.names[d] = s.names[d]
	}
	dm := make(map[string]*snippetEntry, len(s.snippets[domain])+1)
	for id, e := range s.snippets[domain] {
		dm[id] = e
	}
	f(dm)
	if len(dm) == 0 {
		delete(next.snippets, domain)
		delete(next.names, domain)
	} else {
		names := make(map[string]*snippetEntry, len(dm))
		for _, e := range dm {
			names[e.doc.LocalName()] = e
		}
		next.snippets[domain] = dm
		next.names[domain] = names
	}
	next.nSnips = s.nSnips - len(s.snippets[domain]) + len(dm)
	return &next
}
