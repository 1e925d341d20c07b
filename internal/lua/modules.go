package lua

import (
	"log/slog"
	"net/http"

	lua "github.com/yuin/gopher-lua"
)

// Module is a Go library exposed to scripts both as a global and through
// require(Name()).
type Module interface {
	Name() string
	Register(L *lua.LState) error
}

func RegisterModule(L *lua.LState, module Module) error {
	if err := module.Register(L); err != nil {
		return err
	}

	global := L.GetGlobal(module.Name())
	if global == lua.LNil {
		return nil
	}
	L.PreloadModule(module.Name(), func(L *lua.LState) int {
		L.Push(global)
		return 1
	})
	return nil
}

// DefaultModules is the set every script runtime gets.
func DefaultModules(deps ModuleDeps) []Module {
	return []Module{
		NewJSONModule(),
		NewHTTPModule(deps.HTTPClient),
		NewHTMLModule(),
		NewLogModule(deps.Logger),
	}
}

type ModuleDeps struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}
