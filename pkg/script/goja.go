package script

import (
	"fmt"

	"github.com/dop251/goja"
)

// JSEngine interprets JavaScript plugin source with goja. Each Run executes
// on a fresh VM, so programs carry no state between invocations and a
// misbehaving plugin cannot poison another plugin's runtime.
type JSEngine struct{}

// NewJSEngine returns the JavaScript execution provider.
func NewJSEngine() *JSEngine { return &JSEngine{} }

// Compile wraps the fragment in a three-parameter function and compiles it.
func (e *JSEngine) Compile(name, source string) (Program, error) {
	wrapped := "(function(body, url, headers) {\n" + source + "\n})"
	prog, err := goja.Compile(name, wrapped, false)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return &jsProgram{name: name, prog: prog}, nil
}

type jsProgram struct {
	name string
	prog *goja.Program
}

func (p *jsProgram) Run(body, url string, headers map[string]string) (out string, replaced bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run %s: panic: %v", p.name, r)
		}
	}()

	vm := goja.New()
	v, err := vm.RunProgram(p.prog)
	if err != nil {
		return "", false, fmt.Errorf("run %s: %w", p.name, err)
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return "", false, fmt.Errorf("run %s: compiled fragment is not callable", p.name)
	}

	res, err := fn(goja.Undefined(), vm.ToValue(body), vm.ToValue(url), vm.ToValue(headers))
	if err != nil {
		return "", false, fmt.Errorf("run %s: %w", p.name, err)
	}
	if s, ok := res.Export().(string); ok {
		return s, true, nil
	}
	return "", false, nil
}
