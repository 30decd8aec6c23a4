package sandbox

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/joeydtaylor/composr/pkg/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type snippetMap map[string]*Unit

func (m snippetMap) Snippet(domain, name string) (*Unit, bool) {
	u, ok := m[domain+"!"+name]
	return u, ok
}

type fakeDriver struct {
	resp  *DriverResponse
	err   error
	token string
	req   DriverRequest
}

func (d *fakeDriver) Do(_ context.Context, token string, req DriverRequest) (*DriverResponse, error) {
	d.token, d.req = token, req
	return d.resp, d.err
}

func mustCompile(t *testing.T, body string) *Unit {
	t.Helper()
	u, err := Compile("test", body)
	require.NoError(t, err)
	return u
}

func invoke(t *testing.T, e *Engine, body string, call Call) Outcome {
	t.Helper()
	if call.PhraseID == "" {
		call.PhraseID = "acme!test"
		call.Domain = "acme"
		call.Method = http.MethodGet
	}
	return e.Invoke(context.Background(), mustCompile(t, body), call)
}

func TestInvokeResponds(t *testing.T) {
	e := New(WithLogger(zaptest.NewLogger(t)))
	out := invoke(t, e, `res.status(201).json({hi: req.params.name, q: req.query.x})`, Call{
		Request: Request{Params: map[string]string{"name": "bob"}, Query: map[string]any{"x": "1"}},
	})
	require.Nil(t, out.Fault)
	assert.Equal(t, http.StatusCreated, out.Response.Status)
	assert.Equal(t, "application/json", out.Response.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"hi":"bob","q":"1"}`, string(out.Response.Body))
}

func TestFirstSendWins(t *testing.T) {
	e := New()
	out := invoke(t, e, `res.send("one"); res.status(500).send("two")`, Call{})
	require.Nil(t, out.Fault)
	assert.Equal(t, http.StatusOK, out.Response.Status)
	assert.Equal(t, "one", string(out.Response.Body))
}

func TestWatchdogStopsBusyLoop(t *testing.T) {
	e := New(WithTimeout(50 * time.Millisecond))
	out := invoke(t, e, `var s = Date.now(); while (Date.now() - s < 200) {} res.send("late")`, Call{})
	require.NotNil(t, out.Fault)
	assert.Equal(t, fault.KindTimeout, out.Fault.Kind)

	w := httptest.NewRecorder()
	out.Write(w)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"TimeoutFault"`)

	// the engine is unaffected
	out = invoke(t, e, `res.send("ok")`, Call{})
	require.Nil(t, out.Fault)
	assert.Equal(t, "ok", string(out.Response.Body))
}

func TestWatchdogStopsInfiniteLoop(t *testing.T) {
	e := New(WithTimeout(30 * time.Millisecond))
	out := invoke(t, e, `for (;;) {}`, Call{})
	require.NotNil(t, out.Fault)
	assert.Equal(t, fault.KindTimeout, out.Fault.Kind)
}

func TestSyncThrow(t *testing.T) {
	e := New()
	out := invoke(t, e, `throw new Error("boom")`, Call{})
	require.NotNil(t, out.Fault)
	assert.Equal(t, fault.KindExecution, out.Fault.Kind)
	assert.Equal(t, http.StatusInternalServerError, out.Fault.HTTPStatus)
	assert.Contains(t, out.Fault.Message, "boom")

	// a fault ends only that invocation
	out = invoke(t, e, `res.send("ok")`, Call{})
	require.Nil(t, out.Fault)
	assert.Equal(t, "ok", string(out.Response.Body))
}

func TestFaultAfterResponseIsLoggedOnly(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	e := New(WithLogger(zap.New(core)))
	out := invoke(t, e, `res.send("sent"); setTimeout(function () { throw new Error("afterwards") }, 5)`, Call{})
	require.Nil(t, out.Fault)
	assert.Equal(t, "sent", string(out.Response.Body))

	require.Eventually(t, func() bool {
		return logs.FilterMessage("fault after response was sent").Len() == 1
	}, time.Second, 5*time.Millisecond)
	entry := logs.FilterMessage("fault after response was sent").All()[0]
	assert.Equal(t, string(fault.KindUnhandledAsync), entry.ContextMap()["kind"])

	out = invoke(t, e, `res.send("next")`, Call{})
	require.Nil(t, out.Fault)
	assert.Equal(t, "next", string(out.Response.Body))
}

func TestTimerThrowIsUnhandledAsync(t *testing.T) {
	e := New()
	out := invoke(t, e, `setTimeout(function () { throw new Error("later") }, 1)`, Call{})
	require.NotNil(t, out.Fault)
	assert.Equal(t, fault.KindUnhandledAsync, out.Fault.Kind)
	assert.Contains(t, out.Fault.Message, "later")
}

func TestUnhandledRejection(t *testing.T) {
	e := New()
	out := invoke(t, e, `Promise.reject(new Error("nope"))`, Call{})
	require.NotNil(t, out.Fault)
	assert.Equal(t, fault.KindUnhandledAsync, out.Fault.Kind)
	assert.Contains(t, out.Fault.Message, "nope")
}

func TestHandledRejectionIsFine(t *testing.T) {
	e := New()
	out := invoke(t, e, `Promise.reject(new Error("nope")).catch(function (err) { res.send(err.message) })`, Call{})
	require.Nil(t, out.Fault)
	assert.Equal(t, "nope", string(out.Response.Body))
}

func TestTimerContinuationResponds(t *testing.T) {
	e := New()
	out := invoke(t, e, `var id = setTimeout(function () { res.send("never") }, 5); clearTimeout(id);
setTimeout(function (v) { res.send(v) }, 5, "later")`, Call{})
	require.Nil(t, out.Fault)
	assert.Equal(t, "later", string(out.Response.Body))
}

func TestNext(t *testing.T) {
	e := New()
	out := invoke(t, e, `next()`, Call{})
	require.Nil(t, out.Fault)
	assert.Equal(t, http.StatusNotFound, out.Response.Status)

	out = invoke(t, e, `next(new Error("bad input")); res.send("unreachable")`, Call{})
	require.NotNil(t, out.Fault)
	assert.Equal(t, fault.KindExecution, out.Fault.Kind)
	assert.Contains(t, out.Fault.Message, "bad input")
}

func TestNoResponse(t *testing.T) {
	e := New()
	out := invoke(t, e, `var x = 1`, Call{})
	require.NotNil(t, out.Fault)
	assert.Equal(t, fault.KindExecution, out.Fault.Kind)
	assert.Equal(t, "phrase completed without a response", out.Fault.Message)
}

func TestNoAmbientHostScope(t *testing.T) {
	e := New()
	out := invoke(t, e, `res.send([typeof require, typeof process, typeof fetch].join(","))`, Call{})
	require.Nil(t, out.Fault)
	assert.Equal(t, "undefined,undefined,undefined", string(out.Response.Body))
}

func TestSnippet(t *testing.T) {
	snip, err := CompileSnippet("acme!greeter", `exports({ greet: function (n) { return "hi " + n } })`)
	require.NoError(t, err)
	e := New()
	out := invoke(t, e, `res.send(compoSR.snippet("greeter").greet("bob") + "@" + compoSR.domain)`, Call{
		Snippets: snippetMap{"acme!greeter": snip},
	})
	require.Nil(t, out.Fault)
	assert.Equal(t, "hi bob@acme", string(out.Response.Body))

	out = invoke(t, e, `res.send(compoSR.snippet("missing"))`, Call{Snippets: snippetMap{}})
	require.NotNil(t, out.Fault)
	assert.Contains(t, out.Fault.Message, "missing")
}

func TestSnippetOtherDomainInvisible(t *testing.T) {
	snip, err := CompileSnippet("other!greeter", `exports(1)`)
	require.NoError(t, err)
	out := invoke(t, New(), `res.send(String(compoSR.snippet("greeter")))`, Call{
		Snippets: snippetMap{"other!greeter": snip},
	})
	require.NotNil(t, out.Fault)
	assert.Equal(t, fault.KindExecution, out.Fault.Kind)
}

func TestDriver(t *testing.T) {
	d := &fakeDriver{resp: &DriverResponse{Status: 200, Data: map[string]any{"n": 1}}}
	e := New(WithDriver(d))
	out := invoke(t, e, `driver.get("/things").then(function (r) { res.json(r.data) })`, Call{
		PhraseID: "acme!test", Domain: "acme", Method: http.MethodGet, Token: "tok",
	})
	require.Nil(t, out.Fault)
	assert.JSONEq(t, `{"n":1}`, string(out.Response.Body))
	assert.Equal(t, "tok", d.token)
	assert.Equal(t, DriverRequest{Method: http.MethodGet, Path: "/things"}, d.req)
}

func TestDriverErrorStatusRejects(t *testing.T) {
	d := &fakeDriver{resp: &DriverResponse{Status: 404}}
	e := New(WithDriver(d))
	out := invoke(t, e, `driver.request("post", "/things", {a: 1}).catch(function (e) { res.status(502).send(String(e.status)) })`, Call{})
	require.Nil(t, out.Fault)
	assert.Equal(t, http.StatusBadGateway, out.Response.Status)
	assert.Equal(t, "404", string(out.Response.Body))
	assert.Equal(t, http.MethodPost, d.req.Method)
	assert.Equal(t, map[string]any{"a": int64(1)}, d.req.Body)
}

func TestDriverTransportErrorUnhandled(t *testing.T) {
	d := &fakeDriver{err: errors.New("connection refused")}
	out := invoke(t, New(WithDriver(d)), `driver.get("/x").then(function () { res.send("no") })`, Call{})
	require.NotNil(t, out.Fault)
	assert.Equal(t, fault.KindUnhandledAsync, out.Fault.Kind)
	assert.Contains(t, out.Fault.Message, "connection refused")
}

func TestCompileRejectsBadSyntax(t *testing.T) {
	_, err := Compile("acme!bad", "function (")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	_, err = Compile("acme!empty", "   ")
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestCompileRejectsWrapperEscape(t *testing.T) {
	bodies := map[string]string{
		"second function": `res.send('x') }); (function(req, res) { res.send('escaped')`,
		"sequence":        `res.send('x') }, function(req, res) { res.send('escaped')`,
		"logical":         `res.send('x') }) || (function(req, res) { res.send('escaped')`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, err := Compile("acme!escape", body)
			require.Error(t, err)
			assert.True(t, fault.IsKind(err, fault.KindValidation))
		})
	}

	// ordinary bodies, including a trailing line comment, still compile
	out := invoke(t, New(), "if (req) { res.send('fine') }\n// done", Call{})
	require.Nil(t, out.Fault)
	assert.Equal(t, "fine", string(out.Response.Body))
}

func TestHandler(t *testing.T) {
	e := New()
	h := e.Handler(Target{PhraseID: "acme!echo", Domain: "acme", Method: http.MethodPost, Unit: mustCompile(t, `res.json(req.body)`)}, nil)
	r := httptest.NewRequest(http.MethodPost, "/acme/echo", strings.NewReader(`{"a":[1,2]}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"a":[1,2]}`, w.Body.String())
}
