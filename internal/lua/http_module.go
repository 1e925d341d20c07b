package lua

import (
	"net/http"
	"time"

	"github.com/cjoudrey/gluahttp"
	lua "github.com/yuin/gopher-lua"
)

// HTTPModule exposes gluahttp (http.get, http.post, http.request, ...) to scripts.
type HTTPModule struct {
	client *http.Client
}

func NewHTTPModule(client *http.Client) *HTTPModule {
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
		}
	}
	return &HTTPModule{
		client: client,
	}
}

func (h *HTTPModule) Name() string {
	return "http"
}

func (h *HTTPModule) Register(L *lua.LState) error {
	loader := gluahttp.NewHttpModule(h.client).Loader

	if err := L.CallByParam(lua.P{
		Fn:      L.NewFunction(loader),
		NRet:    1,
		Protect: true,
	}); err != nil {
		return err
	}

	module := L.Get(-1)
	L.Pop(1)
	L.SetGlobal("http", module)
	return nil
}
