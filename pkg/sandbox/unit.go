package sandbox

import (
	"errors"
	"strings"

	"github.com/dop251/goja"
	js "github.com/dop251/goja/ast"
	"github.com/joeydtaylor/composr/pkg/fault"
)

// Parameter lists of the wrappers. The order is the binding contract and must
// not change: bodies refer to these names positionally.
const (
	phraseParams  = "req, res, next, driver, compoSR, console"
	snippetParams = "exports, console"
)

// Unit is a compiled handler or snippet body. A Unit is immutable and safe to
// share across invocations; each invocation evaluates it in its own runtime.
type Unit struct {
	name string
	prog *goja.Program
}

func (u *Unit) Name() string { return u.name }

// Compile turns a phrase handler body into a Unit. Syntax errors are
// ValidationErrors.
func Compile(name, body string) (*Unit, error) {
	return compile(name, phraseParams, body)
}

// CompileSnippet turns a snippet body into a Unit taking (exports, console).
func CompileSnippet(name, body string) (*Unit, error) {
	return compile(name, snippetParams, body)
}

func compile(name, params, body string) (*Unit, error) {
	if strings.TrimSpace(body) == "" {
		return nil, fault.Validation("%s: empty body", name)
	}
	src := "(function(" + params + ") {\n" + body + "\n})"
	ast, err := goja.Parse(name, src)
	if err != nil {
		return nil, syntaxFault(name, err)
	}
	// a body that closes the wrapper early parses as more than one function
	if !singleFunction(ast) {
		return nil, fault.Validation("%s: body must not close the handler function", name)
	}
	prog, err := goja.CompileAST(ast, false)
	if err != nil {
		return nil, syntaxFault(name, err)
	}
	return &Unit{name: name, prog: prog}, nil
}

func singleFunction(prg *js.Program) bool {
	if len(prg.Body) != 1 {
		return false
	}
	st, ok := prg.Body[0].(*js.ExpressionStatement)
	if !ok {
		return false
	}
	_, ok = st.Expression.(*js.FunctionLiteral)
	return ok
}

func syntaxFault(name string, err error) *fault.Fault {
	var se *goja.CompilerSyntaxError
	if errors.As(err, &se) {
		return fault.Validation("%s: syntax error: %s", name, se.Error())
	}
	return fault.Validation("%s: %v", name, err)
}

// load evaluates the wrapper in vm and returns the callable it produced.
func (u *Unit) load(vm *goja.Runtime) (goja.Callable, error) {
	v, err := vm.RunProgram(u.prog)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fault.Newf(fault.KindExecution, "%s: body does not evaluate to a handler", u.name)
	}
	return fn, nil
}
