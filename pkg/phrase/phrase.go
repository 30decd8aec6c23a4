// pkg/phrase/phrase.go
package phrase

import (
	"encoding/base64"
	"fmt"
	"maps"
	"net/http"
	"strings"
)

// Separator splits the domain from the rest of an id ("acme!users!list").
const Separator = "!"

// Methods lists the HTTP methods a phrase may declare, in routing order.
var Methods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodOptions,
}

// Handler is one method's definition: source body plus documentation.
type Handler struct {
	Code     string         `json:"code,omitempty"`
	CodeHash string         `json:"codehash,omitempty"` // base64 of Code
	Doc      map[string]any `json:"doc,omitempty"`
}

// Source returns the handler body, decoding CodeHash when Code is empty.
func (h *Handler) Source() (string, error) {
	if h == nil {
		return "", nil
	}
	if strings.TrimSpace(h.Code) != "" {
		return h.Code, nil
	}
	if h.CodeHash == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(h.CodeHash)
	if err != nil {
		return "", fmt.Errorf("codehash is not valid base64: %w", err)
	}
	return string(raw), nil
}

// Phrase is a routable endpoint document.
type Phrase struct {
	ID      string   `json:"id"`
	URL     string   `json:"url"`
	Get     *Handler `json:"get,omitempty"`
	Post    *Handler `json:"post,omitempty"`
	Put     *Handler `json:"put,omitempty"`
	Delete  *Handler `json:"delete,omitempty"`
	Options *Handler `json:"options,omitempty"`
}

// Handler returns the definition for method (any case), or nil.
func (p Phrase) Handler(method string) *Handler {
	switch strings.ToUpper(method) {
	case http.MethodGet:
		return p.Get
	case http.MethodPost:
		return p.Post
	case http.MethodPut:
		return p.Put
	case http.MethodDelete:
		return p.Delete
	case http.MethodOptions:
		return p.Options
	}
	return nil
}

// Clone returns a copy of p that shares no handler with it.
func (p Phrase) Clone() Phrase {
	c := p
	for _, h := range []**Handler{&c.Get, &c.Post, &c.Put, &c.Delete, &c.Options} {
		if *h == nil {
			continue
		}
		cp := **h
		if cp.Doc != nil {
			cp.Doc = maps.Clone(cp.Doc)
		}
		*h = &cp
	}
	return c
}

// DeclaredMethods returns the methods present on the document, in Methods order.
func (p Phrase) DeclaredMethods() []string {
	out := make([]string, 0, len(Methods))
	for _, m := range Methods {
		if p.Handler(m) != nil {
			out = append(out, m)
		}
	}
	return out
}

// Snippet is a reusable, non-routable fragment.
type Snippet struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Code     string `json:"code,omitempty"`
	CodeHash string `json:"codehash,omitempty"`
}

// Source mirrors Handler.Source.
func (s Snippet) Source() (string, error) {
	h := Handler{Code: s.Code, CodeHash: s.CodeHash}
	return h.Source()
}

// LocalName is the id without its domain prefix.
func (s Snippet) LocalName() string {
	if s.Name != "" {
		return s.Name
	}
	_, rest := Split(s.ID)
	return rest
}
