package registry

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/joeydtaylor/composr/pkg/fault"
	"github.com/joeydtaylor/composr/pkg/phrase"
	"github.com/joeydtaylor/composr/pkg/sandbox"
	"github.com/joeydtaylor/composr/pkg/transport/httpx"
)

var paramSeg = regexp.MustCompile(`\{[^/]*\}`)

// build derives a fresh route table from phrases. Iteration is sorted so the
// same set always yields the same table. The router panics on patterns it
// cannot accept; that surfaces here as a ValidationError.
func (r *Registry) build(phrases map[string]map[string]*entry) (h http.Handler, err error) {
	defer func() {
		if p := recover(); p != nil {
			h, err = nil, fault.Validation("route table rejected: %v", p)
		}
	}()

	rt := httpx.NewChi()
	rt.NotFound(http.HandlerFunc(notFound))
	rt.MethodNotAllowed(http.HandlerFunc(methodNotAllowed))

	// two ids whose paths differ only in parameter names would shadow each other
	owner := map[string]string{}

	domains := make([]string, 0, len(phrases))
	for d := range phrases {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	for _, d := range domains {
		ids := make([]string, 0, len(phrases[d]))
		for id := range phrases[d] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			e := phrases[d][id]
			pattern := phrase.Pattern(phrase.Path(id))
			shape := paramSeg.ReplaceAllString(pattern, "{}")
			if prev, ok := owner[shape]; ok && prev != id {
				return nil, fault.Validation("phrase %q conflicts with %q on %s", id, prev, pattern)
			}
			owner[shape] = id

			for _, m := range phrase.Methods {
				u, ok := e.units[m]
				if !ok {
					continue
				}
				h := r.engine.Handler(sandbox.Target{PhraseID: id, Domain: d, Method: m, Unit: u}, r)
				switch m {
				case http.MethodGet:
					rt.Get(pattern, h)
				case http.MethodPost:
					rt.Post(pattern, h)
				case http.MethodPut:
					rt.Put(pattern, h)
				case http.MethodDelete:
					rt.Delete(pattern, h)
				default:
					rt.Handle(m, pattern, h)
				}
			}
		}
	}
	return rt.Mux(), nil
}

func notFound(w http.ResponseWriter, r *http.Request) {
	fault.Write(w, fault.Newf(fault.KindNotFound, "no phrase bound to %s", r.URL.Path))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	f := fault.Newf(fault.KindNotFound, "%s not declared for %s", r.Method, r.URL.Path)
	f.HTTPStatus = http.StatusMethodNotAllowed
	fault.Write(w, f)
}

// Describe renders a phrase's bindings, e.g. "GET,POST /acme/users/{id}".
func Describe(p phrase.Phrase) string {
	return fmt.Sprintf("%s %s", strings.Join(p.DeclaredMethods(), ","), phrase.Pattern(phrase.Path(p.ID)))
}
