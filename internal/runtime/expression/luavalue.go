package expression

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// ToLua converts a decoded JSON value into a Lua value. Maps become tables
// keyed by string, slices become 1-based array tables.
func ToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case float64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case []byte:
		return lua.LString(val)
	case map[string]any:
		tbl := L.CreateTable(0, len(val))
		for k, item := range val {
			tbl.RawSetString(k, ToLua(L, item))
		}
		return tbl
	case []any:
		tbl := L.CreateTable(len(val), 0)
		for _, item := range val {
			tbl.Append(ToLua(L, item))
		}
		return tbl
	case []string:
		tbl := L.CreateTable(len(val), 0)
		for _, item := range val {
			tbl.Append(lua.LString(item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// FromLua converts a Lua value back into plain Go values. Tables with only
// consecutive integer keys starting at 1 become slices, other tables maps.
func FromLua(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case *lua.LTable:
		return tableToGo(val)
	default:
		return val.String()
	}
}

func tableToGo(tbl *lua.LTable) any {
	n := tbl.MaxN()
	count := 0
	tbl.ForEach(func(lua.LValue, lua.LValue) { count++ })

	if n > 0 && n == count {
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			out = append(out, FromLua(tbl.RawGetInt(i)))
		}
		return out
	}

	out := make(map[string]any, count)
	tbl.ForEach(func(k, v lua.LValue) {
		out[k.String()] = FromLua(v)
	})
	return out
}
