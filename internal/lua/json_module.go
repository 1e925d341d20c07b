package lua

import (
	lua "github.com/yuin/gopher-lua"
	luajson "layeh.com/gopher-json"
)

type JSONModule struct{}

func NewJSONModule() *JSONModule {
	return &JSONModule{}
}

func (j *JSONModule) Name() string {
	return "json"
}

func (j *JSONModule) Register(L *lua.LState) error {
	jsonTable := L.NewTable()

	L.SetField(jsonTable, "encode", L.NewFunction(j.jsonEncode))
	L.SetField(jsonTable, "decode", L.NewFunction(j.jsonDecode))

	L.SetGlobal("json", jsonTable)
	return nil
}

// jsonEncode returns (string) or (nil, err).
func (j *JSONModule) jsonEncode(L *lua.LState) int {
	data, err := luajson.Encode(L.CheckAny(1))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString("failed to encode JSON: " + err.Error()))
		return 2
	}

	L.Push(lua.LString(data))
	return 1
}

func (j *JSONModule) jsonDecode(L *lua.LState) int {
	value, err := luajson.Decode(L, []byte(L.CheckString(1)))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString("failed to decode JSON: " + err.Error()))
		return 2
	}

	L.Push(value)
	return 1
}
