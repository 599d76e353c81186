package codehost

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// registerModule loads the Lua-side surface for one declared dependency.
// Names not recognised here are silently inert: Invoke already rejected
// anything not in the process-configured allow-list, and the default
// allow-list names exactly the four below.
func registerModule(L *lua.LState, name string) {
	switch name {
	case "string":
		L.Push(L.NewFunction(lua.OpenString))
		L.Push(lua.LString(lua.StringLibName))
		L.Call(1, 0)
	case "math":
		L.Push(L.NewFunction(lua.OpenMath))
		L.Push(lua.LString(lua.MathLibName))
		L.Call(1, 0)
	case "json":
		registerJSON(L)
	case "http":
		registerHTTP(L)
	}
}

func registerJSON(L *lua.LState) {
	mod := L.NewTable()
	L.SetField(mod, "encode", L.NewFunction(func(L *lua.LState) int {
		v, err := luaToGo(L.CheckAny(1))
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		b, err := json.Marshal(v)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(string(b)))
		return 1
	}))
	L.SetField(mod, "decode", L.NewFunction(func(L *lua.LState) int {
		s := L.CheckString(1)
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(goToLua(L, v))
		return 1
	}))
	L.SetGlobal("json", mod)
}

// registerHTTP exposes a minimal GET/POST surface with a fixed, short
// client timeout — handlers already run under the Code Host's own
// deadline, but a per-call cap bounds a single slow outbound request from
// consuming the whole budget.
func registerHTTP(L *lua.LState) {
	client := &http.Client{Timeout: 10 * time.Second}

	mod := L.NewTable()
	L.SetField(mod, "get", L.NewFunction(func(L *lua.LState) int {
		url := L.CheckString(1)
		resp, err := client.Get(url)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		result := L.NewTable()
		L.SetField(result, "status", lua.LNumber(resp.StatusCode))
		L.SetField(result, "body", lua.LString(string(body)))
		L.Push(result)
		return 1
	}))
	L.SetField(mod, "post", L.NewFunction(func(L *lua.LState) int {
		url := L.CheckString(1)
		body := L.CheckString(2)
		resp, err := client.Post(url, "application/json", strings.NewReader(body))
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		result := L.NewTable()
		L.SetField(result, "status", lua.LNumber(resp.StatusCode))
		L.SetField(result, "body", lua.LString(string(respBody)))
		L.Push(result)
		return 1
	}))
	L.SetGlobal("http", mod)
}
