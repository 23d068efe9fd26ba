package engine

import (
	"encoding/json"
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// sandboxPackages are the Go-implemented modules available to sandboxed Lua
// via the packages request option. Loaded on demand, resident per session.
var sandboxPackages = map[string]lua.LGFunction{
	"json":  loadJSONModule,
	"stats": loadStatsModule,
}

func availablePackages() string {
	names := make([]string, 0, len(sandboxPackages))
	for name := range sandboxPackages {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func loadJSONModule(L *lua.LState) int {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"encode": jsonEncode,
		"decode": jsonDecode,
	})
	L.Push(mod)
	return 1
}

func jsonEncode(L *lua.LState) int {
	value := luaToGo(L.CheckAny(1))
	data, err := json.Marshal(value)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(data))
	return 1
}

func jsonDecode(L *lua.LState) int {
	var value any
	if err := json.Unmarshal([]byte(L.CheckString(1)), &value); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(goToLua(L, value))
	return 1
}

// luaToGo converts a Lua value to a JSON-encodable Go value. Tables with
// contiguous integer keys become arrays; everything else becomes a map.
func luaToGo(v lua.LValue) any {
	switch lv := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(lv)
	case lua.LNumber:
		return float64(lv)
	case lua.LString:
		return string(lv)
	case *lua.LTable:
		maxN := lv.MaxN()
		if maxN > 0 {
			arr := make([]any, 0, maxN)
			for i := 1; i <= maxN; i++ {
				arr = append(arr, luaToGo(lv.RawGetInt(i)))
			}
			return arr
		}
		obj := make(map[string]any)
		lv.ForEach(func(k, val lua.LValue) {
			obj[lua.LVAsString(k)] = luaToGo(val)
		})
		return obj
	default:
		return lua.LVAsString(v)
	}
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch gv := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(gv)
	case float64:
		return lua.LNumber(gv)
	case string:
		return lua.LString(gv)
	case []any:
		t := L.NewTable()
		for _, item := range gv {
			t.Append(goToLua(L, item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, item := range gv {
			t.RawSetString(k, goToLua(L, item))
		}
		return t
	default:
		return lua.LNil
	}
}

func loadStatsModule(L *lua.LState) int {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"sum":  statsSum,
		"mean": statsMean,
		"min":  statsMin,
		"max":  statsMax,
	})
	L.Push(mod)
	return 1
}

func numbers(L *lua.LState) []float64 {
	t := L.CheckTable(1)
	out := make([]float64, 0, t.MaxN())
	for i := 1; i <= t.MaxN(); i++ {
		if n, ok := t.RawGetInt(i).(lua.LNumber); ok {
			out = append(out, float64(n))
		}
	}
	return out
}

func statsSum(L *lua.LState) int {
	total := 0.0
	for _, n := range numbers(L) {
		total += n
	}
	L.Push(lua.LNumber(total))
	return 1
}

func statsMean(L *lua.LState) int {
	ns := numbers(L)
	if len(ns) == 0 {
		L.Push(lua.LNumber(0))
		return 1
	}
	total := 0.0
	for _, n := range ns {
		total += n
	}
	L.Push(lua.LNumber(total / float64(len(ns))))
	return 1
}

func statsMin(L *lua.LState) int {
	ns := numbers(L)
	if len(ns) == 0 {
		L.Push(lua.LNil)
		return 1
	}
	m := ns[0]
	for _, n := range ns[1:] {
		if n < m {
			m = n
		}
	}
	L.Push(lua.LNumber(m))
	return 1
}

func statsMax(L *lua.LState) int {
	ns := numbers(L)
	if len(ns) == 0 {
		L.Push(lua.LNil)
		return 1
	}
	m := ns[0]
	for _, n := range ns[1:] {
		if n > m {
			m = n
		}
	}
	L.Push(lua.LNumber(m))
	return 1
}
