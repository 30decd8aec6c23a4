package core

import (
	"net/http"
	"runtime"

	"github.com/joeydtaylor/composr/pkg/bus"
	"github.com/joeydtaylor/composr/pkg/middleware/auth"
	"github.com/joeydtaylor/composr/pkg/phrase"
	"github.com/joeydtaylor/composr/pkg/registry"
)

type check struct {
	Title string `json:"title"`
	OK    bool   `json:"ok"`
}

type statusBody struct {
	Version  string  `json:"version"`
	Phrases  int     `json:"phrases"`
	Snippets int     `json:"snippets"`
	Bus      string  `json:"bus"`
	Statuses []check `json:"statuses"`
}

func statusHandler(d BuildDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		body := statusBody{
			Version:  d.Info.Version,
			Phrases:  d.Registry.Count(),
			Snippets: d.Registry.SnippetCount(),
			Bus:      "none",
		}
		body.Statuses = append(body.Statuses, check{Title: "Phrases Loaded", OK: body.Phrases > 0})
		if d.Bus != nil {
			st := d.Bus.State()
			body.Bus = string(st)
			body.Statuses = append(body.Statuses, check{Title: "Event Bus", OK: st == bus.Ready})
		}
		writeJSON(w, body, http.StatusOK)
	}
}

func versionHandler(d BuildDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, struct {
			Info
			Go string `json:"go"`
		}{d.Info, runtime.Version()}, http.StatusOK)
	}
}

type phraseView struct {
	ID      string   `json:"id"`
	URL     string   `json:"url"`
	Route   string   `json:"route"`
	Methods []string `json:"methods"`
}

// listPhrases serves the caller's own domain. Handler bodies are not exposed.
func listPhrases(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, _ := auth.CallerFrom(r.Context())
		list := reg.Phrases(c.Domain)
		out := make([]phraseView, 0, len(list))
		for _, p := range list {
			out = append(out, phraseView{
				ID:      p.ID,
				URL:     p.URL,
				Route:   phrase.Pattern(phrase.Path(p.ID)),
				Methods: p.DeclaredMethods(),
			})
		}
		writeJSON(w, out, http.StatusOK)
	}
}

func listSnippets(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, _ := auth.CallerFrom(r.Context())
		list := reg.Snippets(c.Domain)
		out := make([]map[string]string, 0, len(list))
		for _, s := range list {
			out = append(out, map[string]string{"id": s.ID, "name": s.LocalName()})
		}
		writeJSON(w, out, http.StatusOK)
	}
}
