package lua

import (
	"context"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Runtime wraps one Lua state. A state is not safe for concurrent use, so
// every call into it holds mu.
type Runtime struct {
	mu         sync.Mutex
	state      *lua.LState
	secureMode bool
	modules    []Module
}

type RuntimeOption func(*Runtime)

// WithLoader lets scripts require modules that loader can find.
func WithLoader(loader ModuleLoader) RuntimeOption {
	return func(r *Runtime) {
		if loader != nil {
			installRequire(r.state, loader)
		}
	}
}

func WithSecureMode(secure bool) RuntimeOption {
	return func(r *Runtime) {
		r.secureMode = secure
	}
}

func WithModules(modules ...Module) RuntimeOption {
	return func(r *Runtime) {
		r.modules = append(r.modules, modules...)
	}
}

func NewRuntime(options ...RuntimeOption) (*Runtime, error) {
	L := lua.NewState()

	runtime := &Runtime{
		state:      L,
		secureMode: true,
	}

	for _, opt := range options {
		opt(runtime)
	}

	if runtime.secureMode {
		runtime.setupSecureState()
	}

	for _, module := range runtime.modules {
		if err := RegisterModule(L, module); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to register lua module %s: %w", module.Name(), err)
		}
	}

	return runtime, nil
}

func (r *Runtime) State() *lua.LState {
	return r.state
}

func (r *Runtime) setupSecureState() {
	r.state.SetGlobal("os", lua.LNil)
	r.state.SetGlobal("io", lua.LNil)
	r.state.SetGlobal("debug", lua.LNil)
	r.state.SetGlobal("dofile", lua.LNil)
	r.state.SetGlobal("loadfile", lua.LNil)
}

func (r *Runtime) LoadScript(scriptContent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.state.DoString(scriptContent); err != nil {
		return fmt.Errorf("failed to load script: %w", err)
	}
	return nil
}

func (r *Runtime) HasFunction(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.state.GetGlobal(name).(*lua.LFunction)
	return ok
}

// Execute calls the global function with args converted to Lua values and
// returns its results converted back to Go. ctx cancels a running script.
func (r *Runtime) Execute(ctx context.Context, functionName string, args ...any) ([]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fn := r.state.GetGlobal(functionName)
	if fn == lua.LNil {
		return nil, fmt.Errorf("function %s not found", functionName)
	}

	luaFn, ok := fn.(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%s is not a function", functionName)
	}

	r.state.SetContext(ctx)
	defer r.state.RemoveContext()

	base := r.state.GetTop()
	r.state.Push(luaFn)
	for _, arg := range args {
		r.state.Push(ToLuaValue(r.state, arg))
	}

	if err := r.state.PCall(len(args), lua.MultRet, nil); err != nil {
		r.state.SetTop(base)
		return nil, fmt.Errorf("lua execution error: %w", err)
	}

	top := r.state.GetTop()
	results := make([]any, 0, top-base)
	for i := base + 1; i <= top; i++ {
		results = append(results, ToGoValue(r.state.Get(i)))
	}

	r.state.SetTop(base)

	return results, nil
}

func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != nil {
		r.state.Close()
		r.state = nil
	}
	return nil
}
