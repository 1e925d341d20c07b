package lua

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// ModuleLoader finds the source of a module that is not preloaded.
type ModuleLoader interface {
	Load(name string) (source, chunkName string, err error)
}

// DirLoader resolves require("a.b") to <dir>/a/b.lua. Module names cannot
// reach outside dir.
type DirLoader struct {
	dir string
}

func NewDirLoader(dir string) *DirLoader {
	return &DirLoader{dir: dir}
}

func (d *DirLoader) Load(name string) (string, string, error) {
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return "", "", fmt.Errorf("invalid module name %q", name)
	}

	path := filepath.Join(d.dir, filepath.FromSlash(strings.ReplaceAll(name, ".", "/"))+".lua")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("module %s: %w", name, err)
	}
	return string(data), path, nil
}

// installRequire replaces the global require. Preloaded modules (json, http,
// html, log) go through the stock require; script modules come from loader
// and are run once per state, their result kept in package.loaded.
func installRequire(L *lua.LState, loader ModuleLoader) {
	stock := L.GetGlobal("require")

	L.SetGlobal("require", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)

		var loaded *lua.LTable
		if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
			loaded, _ = pkg.RawGetString("loaded").(*lua.LTable)
			if loaded != nil {
				if v := loaded.RawGetString(name); v != lua.LNil {
					L.Push(v)
					return 1
				}
			}
			if preload, ok := pkg.RawGetString("preload").(*lua.LTable); ok && preload.RawGetString(name) != lua.LNil {
				if fn, ok := stock.(*lua.LFunction); ok {
					L.Push(fn)
					L.Push(lua.LString(name))
					L.Call(1, 1)
					return 1
				}
			}
		}

		source, chunk, err := loader.Load(name)
		if err != nil {
			L.RaiseError("require %q: %s", name, err.Error())
			return 0
		}
		fn, err := L.Load(strings.NewReader(source), chunk)
		if err != nil {
			L.RaiseError("require %q: %s", name, err.Error())
			return 0
		}

		L.Push(fn)
		L.Push(lua.LString(name))
		L.Call(1, 1)
		result := L.Get(-1)
		L.Pop(1)
		if result == lua.LNil {
			result = lua.LTrue
		}
		if loaded != nil {
			loaded.RawSetString(name, result)
		}

		L.Push(result)
		return 1
	}))
}
