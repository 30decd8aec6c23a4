package sandbox

import (
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/dop251/goja"
	"github.com/joeydtaylor/composr/pkg/codec"
)

// MaxBody caps the request body a handler can see.
const MaxBody = 4 << 20

// Request is the read-only view of an inbound request handed to a handler.
type Request struct {
	Method  string
	URL     string
	Path    string
	Params  map[string]string
	Query   map[string]any
	Headers map[string]string
	Body    any
}

// NewRequest snapshots r. JSON bodies are decoded; anything else is kept as a
// string. Header names are lower-cased.
func NewRequest(r *http.Request, params map[string]string) Request {
	req := Request{
		Method:  r.Method,
		URL:     r.URL.RequestURI(),
		Path:    r.URL.Path,
		Params:  params,
		Query:   make(map[string]any, len(r.URL.Query())),
		Headers: make(map[string]string, len(r.Header)),
	}
	if req.Params == nil {
		req.Params = map[string]string{}
	}
	for k, vs := range r.URL.Query() {
		if len(vs) == 1 {
			req.Query[k] = vs[0]
		} else {
			req.Query[k] = vs
		}
	}
	for k, vs := range r.Header {
		req.Headers[strings.ToLower(k)] = strings.Join(vs, ", ")
	}

	if r.Body == nil {
		return req
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, MaxBody))
	if err != nil || len(raw) == 0 {
		return req
	}
	req.Body = string(raw)
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/json" || strings.HasSuffix(mt, "+json") {
		var v any
		if codec.JSON.Unmarshal(raw, &v) == nil {
			req.Body = v
		}
	}
	return req
}

func (q Request) toJS(vm *goja.Runtime) *goja.Object {
	o := vm.NewObject()
	_ = o.Set("method", q.Method)
	_ = o.Set("url", q.URL)
	_ = o.Set("path", q.Path)
	_ = o.Set("params", q.Params)
	_ = o.Set("query", q.Query)
	_ = o.Set("headers", q.Headers)
	_ = o.Set("body", q.Body)
	_ = o.Set("get", func(fc goja.FunctionCall) goja.Value {
		v, ok := q.Headers[strings.ToLower(fc.Argument(0).String())]
		if !ok {
			return goja.Undefined()
		}
		return vm.ToValue(v)
	})
	return o
}
