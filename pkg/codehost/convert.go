package codehost

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// goToLua converts a Go value (produced from JSON-decoded params) into the
// equivalent Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case string:
		return lua.LString(t)
	case float64:
		return lua.LNumber(t)
	case int:
		return lua.LNumber(t)
	case []any:
		tbl := L.NewTable()
		for i, e := range t {
			tbl.RawSetInt(i+1, goToLua(L, e))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, e := range t {
			tbl.RawSetString(k, goToLua(L, e))
		}
		return tbl
	default:
		return lua.LNil
	}
}

// luaToGo converts a Lua return value into a JSON-marshalable Go value.
// Functions, userdata, channels and threads have no JSON representation
// and raise an error, which the caller surfaces as BadResult.
func luaToGo(v lua.LValue) (any, error) {
	switch t := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(t), nil
	case lua.LNumber:
		return float64(t), nil
	case lua.LString:
		return string(t), nil
	case *lua.LTable:
		return luaTableToGo(t)
	default:
		return nil, fmt.Errorf("handler returned non-serializable value of type %T", v)
	}
}

// luaTableToGo distinguishes a Lua array (1..n contiguous integer keys,
// no other keys) from a map by re-deriving the length and checking that
// every entry was consumed positionally.
func luaTableToGo(t *lua.LTable) (any, error) {
	n := t.Len()
	isArray := n > 0
	if isArray {
		arr := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			elem, err := luaToGo(t.RawGetInt(i))
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		extra := false
		t.ForEach(func(k, _ lua.LValue) {
			if num, ok := k.(lua.LNumber); ok {
				if idx := int(num); float64(idx) == float64(num) && idx >= 1 && idx <= n {
					return
				}
			}
			extra = true
		})
		if !extra {
			return arr, nil
		}
	}

	m := make(map[string]any)
	var rangeErr error
	t.ForEach(func(k, val lua.LValue) {
		if rangeErr != nil {
			return
		}
		goVal, err := luaToGo(val)
		if err != nil {
			rangeErr = err
			return
		}
		m[k.String()] = goVal
	})
	if rangeErr != nil {
		return nil, rangeErr
	}
	return m, nil
}
