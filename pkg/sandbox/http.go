package sandbox

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/joeydtaylor/composr/pkg/middleware/auth"
)

// Target identifies the handler a route is bound to.
type Target struct {
	PhraseID string
	Domain   string
	Method   string
	Unit     *Unit
}

// Handler adapts one bound handler to net/http. Path parameters come from the
// chi route context of the mux that matched the request.
func (e *Engine) Handler(t Target, snippets SnippetSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var params map[string]string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			params = make(map[string]string, len(rc.URLParams.Keys))
			for i, k := range rc.URLParams.Keys {
				if k == "*" {
					continue
				}
				params[k] = rc.URLParams.Values[i]
			}
		}
		var token string
		if c, ok := auth.CallerFrom(r.Context()); ok {
			token = c.Token
		}
		out := e.Invoke(r.Context(), t.Unit, Call{
			PhraseID: t.PhraseID,
			Domain:   t.Domain,
			Method:   t.Method,
			Token:    token,
			Request:  NewRequest(r, params),
			Snippets: snippets,
		})
		out.Write(w)
	})
}
