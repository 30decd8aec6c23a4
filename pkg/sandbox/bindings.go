package sandbox

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/dop251/goja"
	"github.com/joeydtaylor/composr/pkg/codec"
	"github.com/joeydtaylor/composr/pkg/fault"
	"go.uber.org/zap"
)

// bindings builds the handler arguments in wrapper order:
// req, res, next, driver, compoSR, console.
func (inv *invocation) bindings() []goja.Value {
	return []goja.Value{
		inv.call.Request.toJS(inv.vm),
		inv.response(),
		inv.vm.ToValue(inv.next),
		inv.driverHandle(),
		inv.compoSR(),
		inv.console(),
	}
}

func (inv *invocation) response() *goja.Object {
	vm := inv.vm
	res := vm.NewObject()

	setHeader := func(fc goja.FunctionCall) goja.Value {
		inv.sink.setHeader(fc.Argument(0).String(), fc.Argument(1).String())
		return res
	}
	_ = res.Set("status", func(fc goja.FunctionCall) goja.Value {
		inv.sink.setStatus(int(fc.Argument(0).ToInteger()))
		return res
	})
	_ = res.Set("set", setHeader)
	_ = res.Set("setHeader", setHeader)
	_ = res.Set("header", setHeader)
	_ = res.Set("send", func(fc goja.FunctionCall) goja.Value {
		body := inv.leadingStatus(fc)
		b, ct, err := encodeBody(body)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		inv.sink.commit(b, ct)
		return goja.Undefined()
	})
	_ = res.Set("json", func(fc goja.FunctionCall) goja.Value {
		body := inv.leadingStatus(fc)
		b, err := codec.JSON.Marshal(exportValue(body))
		if err != nil {
			panic(vm.NewGoError(err))
		}
		inv.sink.commit(b, codec.JSON.ContentType())
		return goja.Undefined()
	})
	_ = res.Set("end", func(goja.FunctionCall) goja.Value {
		inv.sink.commit(nil, "")
		return goja.Undefined()
	})
	return res
}

// leadingStatus accepts both send(body) and send(status, body).
func (inv *invocation) leadingStatus(fc goja.FunctionCall) goja.Value {
	if len(fc.Arguments) > 1 {
		switch fc.Argument(0).Export().(type) {
		case int64, float64:
			inv.sink.setStatus(int(fc.Argument(0).ToInteger()))
			return fc.Argument(1)
		}
	}
	return fc.Argument(0)
}

func encodeBody(v goja.Value) ([]byte, string, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, "", nil
	}
	switch x := v.Export().(type) {
	case string:
		return []byte(x), "text/plain; charset=utf-8", nil
	case []byte:
		return x, "application/octet-stream", nil
	}
	b, err := codec.JSON.Marshal(exportValue(v))
	return b, codec.JSON.ContentType(), err
}

func exportValue(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) {
		return nil
	}
	return v.Export()
}

// next() falls through to 404; next(err) fails the invocation.
func (inv *invocation) next(fc goja.FunctionCall) goja.Value {
	arg := fc.Argument(0)
	if goja.IsUndefined(arg) || goja.IsNull(arg) {
		inv.sink.commitFault(fault.Newf(fault.KindNotFound, "no handler for %s %s", inv.call.Method, inv.call.Request.Path))
		return goja.Undefined()
	}
	f := fault.Execution(jsMessage(arg))
	inv.fail(f)
	inv.sink.seal()
	inv.abort(f)
	return goja.Undefined()
}

func (inv *invocation) driverHandle() goja.Value {
	vm := inv.vm
	if inv.e.driver == nil {
		return goja.Null()
	}
	d := vm.NewObject()
	_ = d.Set("request", func(fc goja.FunctionCall) goja.Value {
		return inv.driverCall(strings.ToUpper(fc.Argument(0).String()), fc.Argument(1).String(), exportValue(fc.Argument(2)))
	})
	_ = d.Set("get", func(fc goja.FunctionCall) goja.Value {
		return inv.driverCall(http.MethodGet, fc.Argument(0).String(), nil)
	})
	return d
}

// driverCall runs the backend request off the loop and settles the returned
// promise back on it.
func (inv *invocation) driverCall(method, path string, body any) goja.Value {
	vm := inv.vm
	p, resolve, reject := vm.NewPromise()
	inv.loop.hold()
	go func() {
		resp, err := inv.e.driver.Do(inv.ctx, inv.call.Token, DriverRequest{Method: method, Path: path, Body: body})
		inv.loop.post(func() {
			inv.guard(fault.KindUnhandledAsync, func() error {
				if err != nil {
					return reject(vm.NewGoError(err))
				}
				out := vm.NewObject()
				_ = out.Set("status", resp.Status)
				_ = out.Set("headers", resp.Headers)
				_ = out.Set("data", resp.Data)
				if resp.Status >= http.StatusBadRequest {
					_ = out.Set("message", fmt.Sprintf("%s %s: status %d", method, path, resp.Status))
					return reject(out)
				}
				return resolve(out)
			})
		})
	}()
	return vm.ToValue(p)
}

func (inv *invocation) compoSR() *goja.Object {
	vm := inv.vm
	c := vm.NewObject()
	_ = c.Set("domain", inv.call.Domain)
	_ = c.Set("snippet", func(fc goja.FunctionCall) goja.Value {
		return inv.snippet(fc.Argument(0).String())
	})
	return c
}

// snippet evaluates a same-domain snippet once per invocation and returns the
// value it passed to exports.
func (inv *invocation) snippet(name string) goja.Value {
	vm := inv.vm
	if v, ok := inv.snippets[name]; ok {
		return v
	}
	if inv.call.Snippets == nil {
		panic(vm.NewTypeError(fmt.Sprintf("snippet %q not found", name)))
	}
	u, ok := inv.call.Snippets.Snippet(inv.call.Domain, name)
	if !ok {
		panic(vm.NewTypeError(fmt.Sprintf("snippet %q not found in domain %q", name, inv.call.Domain)))
	}
	fn, err := u.load(vm)
	if err != nil {
		rethrow(vm, err)
	}
	var exported goja.Value = goja.Undefined()
	exports := vm.ToValue(func(fc goja.FunctionCall) goja.Value {
		exported = fc.Argument(0)
		return goja.Undefined()
	})
	if _, err := fn(goja.Undefined(), exports, inv.console()); err != nil {
		rethrow(vm, err)
	}
	inv.snippets[name] = exported
	return exported
}

// rethrow re-raises err inside the running script.
func rethrow(vm *goja.Runtime, err error) {
	if f, ok := fault.As(err); ok {
		panic(vm.NewTypeError(f.Message))
	}
	panic(err)
}

func (inv *invocation) console() *goja.Object {
	vm := inv.vm
	c := vm.NewObject()
	log := inv.log.With(zap.String("source", "console"))
	levels := map[string]func(string, ...zap.Field){
		"log":   log.Info,
		"info":  log.Info,
		"warn":  log.Warn,
		"error": log.Error,
		"debug": log.Debug,
	}
	for name, emit := range levels {
		name, emit := name, emit
		_ = c.Set(name, func(fc goja.FunctionCall) goja.Value {
			emit("console."+name, zap.String("message", formatArgs(fc.Arguments)))
			return goja.Undefined()
		})
	}
	return c
}

func formatArgs(args []goja.Value) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if o, ok := a.(*goja.Object); ok && o.ClassName() != "Error" {
			if b, err := codec.JSON.Marshal(o.Export()); err == nil {
				parts = append(parts, string(b))
				continue
			}
		}
		parts = append(parts, a.String())
	}
	return strings.Join(parts, " ")
}
