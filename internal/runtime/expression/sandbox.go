// Package expression evaluates routing expressions and resolves successor
// addresses. Expressions run in a restricted Lua state.
package expression

import (
	lua "github.com/yuin/gopher-lua"
)

// blockedGlobals are removed from the base library so expressions and units
// cannot reach the file system or load further code.
var blockedGlobals = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"require",
	"module",
	"collectgarbage",
	"getfenv",
	"setfenv",
}

var sandboxLibs = []struct {
	name string
	fn   lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// NewSandbox returns a Lua state with only the base, table, string and math
// libraries and without any loader functions. The caller closes it.
func NewSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range sandboxLibs {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}
