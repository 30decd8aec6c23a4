package registry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/joeydtaylor/composr/pkg/fault"
	"github.com/joeydtaylor/composr/pkg/phrase"
	"github.com/joeydtaylor/composr/pkg/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	log := zaptest.NewLogger(t)
	return New(sandbox.New(sandbox.WithTimeout(time.Second), sandbox.WithLogger(log)), log)
}

func get(t *testing.T, h http.Handler, method, path string) (int, string) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	b, _ := io.ReadAll(w.Result().Body)
	return w.Code, string(b)
}

func greet(body string) phrase.Phrase {
	return phrase.Phrase{URL: "greet", Get: &phrase.Handler{Code: body}}
}

func TestRegisterBindsRoute(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register("acme", greet(`res.send("hi")`)))

	code, body := get(t, r, http.MethodGet, "/acme/greet")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "hi", body)

	code, _ = get(t, r, http.MethodPost, "/acme/greet")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
	code, _ = get(t, r, http.MethodGet, "/acme/other")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRegisterPathParams(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register("acme", phrase.Phrase{
		ID:  "acme!users!:id",
		URL: "users/:id",
		Get: &phrase.Handler{Code: `res.send("user " + req.params.id)`},
	}))
	code, body := get(t, r, http.MethodGet, "/acme/users/7")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "user 7", body)
}

func TestRegisterRejectsLeavesRegistryUnchanged(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register("acme", greet(`res.send("v1")`)))

	cases := map[string]phrase.Phrase{
		"syntax":       greet(`res.send(`),
		"no body":      {URL: "greet"},
		"wrong domain": {ID: "other!greet", URL: "greet", Get: &phrase.Handler{Code: `res.send(1)`}},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			err := r.Register("acme", p)
			require.Error(t, err)
			assert.True(t, fault.IsKind(err, fault.KindValidation))
			assert.Equal(t, 1, r.Count())
			_, body := get(t, r, http.MethodGet, "/acme/greet")
			assert.Equal(t, "v1", body)
		})
	}
}

func TestRegisterRejectsShadowingParams(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register("acme", phrase.Phrase{ID: "acme!users!:id", URL: "users/:id", Get: &phrase.Handler{Code: `res.send(1)`}}))
	err := r.Register("acme", phrase.Phrase{ID: "acme!users!:name", URL: "users/:name", Get: &phrase.Handler{Code: `res.send(2)`}})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
	assert.Equal(t, 1, r.Count())
}

func TestReRegisterNeverDropsRoute(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register("acme", greet(`res.send("v0")`)))

	var misses atomic.Int64
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				w := httptest.NewRecorder()
				r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/acme/greet", nil))
				if w.Code != http.StatusOK {
					misses.Add(1)
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		body := `res.send("v1")`
		if i%2 == 0 {
			body = `res.send("v2")`
		}
		require.NoError(t, r.Register("acme", greet(body)))
	}
	close(stop)
	wg.Wait()
	assert.Zero(t, misses.Load())
	assert.Equal(t, 1, r.Count())
}

func TestUnregister(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register("acme", greet(`res.send("hi")`)))
	require.NoError(t, r.Unregister("acme", "acme!greet"))

	code, _ := get(t, r, http.MethodGet, "/acme/greet")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Empty(t, r.Phrases("acme"))
	assert.Zero(t, r.Count())

	// absent ids are a no-op
	require.NoError(t, r.Unregister("acme", "acme!greet"))
	require.NoError(t, r.Unregister("nobody", "nobody!x"))
}

func TestSameUpdateTwiceIsIdempotent(t *testing.T) {
	r := newRegistry(t)
	p := greet(`res.send("hi")`)
	require.NoError(t, r.Register("acme", p))
	first := r.Phrases("acme")
	require.NoError(t, r.Register("acme", p))
	assert.Empty(t, cmp.Diff(first, r.Phrases("acme")))
	assert.Equal(t, 1, r.Count())
}

func TestCountAcrossDomains(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register("acme", greet(`res.send(1)`)))
	require.NoError(t, r.Register("acme", phrase.Phrase{URL: "bye", Post: &phrase.Handler{Code: `res.send(2)`}}))
	require.NoError(t, r.Register("globex", greet(`res.send(3)`)))

	assert.Equal(t, len(r.Phrases("acme"))+len(r.Phrases("globex")), r.Count())
	assert.Equal(t, 3, r.Count())

	var ids []string
	for _, p := range r.Phrases("acme") {
		ids = append(ids, p.ID)
	}
	assert.Empty(t, cmp.Diff([]string{"acme!bye", "acme!greet"}, ids))
}

func TestSnippets(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.RegisterSnippet("acme", phrase.Snippet{ID: "acme!fmt", Code: `exports(function (n) { return "<" + n + ">" })`}))
	require.NoError(t, r.Register("acme", greet(`res.send(compoSR.snippet("fmt")("hi"))`)))

	_, body := get(t, r, http.MethodGet, "/acme/greet")
	assert.Equal(t, "<hi>", body)
	assert.Equal(t, 1, r.SnippetCount())
	assert.Len(t, r.Snippets("acme"), 1)

	err := r.RegisterSnippet("acme", phrase.Snippet{ID: "acme!bad", Code: `exports(`})
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	require.NoError(t, r.UnregisterSnippet("acme", "acme!fmt"))
	require.NoError(t, r.UnregisterSnippet("acme", "acme!fmt"))
	assert.Zero(t, r.SnippetCount())

	code, _ := get(t, r, http.MethodGet, "/acme/greet")
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestSnippetNamedApartFromID(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.RegisterSnippet("acme", phrase.Snippet{ID: "acme!fmt-v2", Name: "fmt", Code: `exports("v2")`}))
	require.NoError(t, r.Register("acme", greet(`res.send(compoSR.snippet("fmt"))`)))
	_, body := get(t, r, http.MethodGet, "/acme/greet")
	assert.Equal(t, "v2", body)

	// the name is taken by another id
	err := r.RegisterSnippet("acme", phrase.Snippet{ID: "acme!fmt-v3", Name: "fmt", Code: `exports("v3")`})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	// renaming under the same id frees the old name
	require.NoError(t, r.RegisterSnippet("acme", phrase.Snippet{ID: "acme!fmt-v2", Name: "format", Code: `exports("v2")`}))
	_, ok := r.Snippet("acme", "fmt")
	assert.False(t, ok)
	_, ok = r.Snippet("acme", "format")
	assert.True(t, ok)

	require.NoError(t, r.UnregisterSnippet("acme", "acme!fmt-v2"))
	assert.Zero(t, r.SnippetCount())
	_, ok = r.Snippet("acme", "format")
	assert.False(t, ok)
}

func TestPhrasesReturnsCopies(t *testing.T) {
	r := newRegistry(t)
	p := greet(`res.send("v1")`)
	require.NoError(t, r.Register("acme", p))
	p.Get.Code = `res.send("caller edit")`

	list := r.Phrases("acme")
	require.Len(t, list, 1)
	assert.Equal(t, `res.send("v1")`, list[0].Get.Code)
	list[0].Get.Code = `res.send("mutated")`

	assert.Equal(t, `res.send("v1")`, r.Phrases("acme")[0].Get.Code)
}
