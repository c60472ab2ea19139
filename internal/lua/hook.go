// Package lua runs the optional argument hook: a Lua script that can
// rewrite a normalized argument set right before it is submitted.
package lua

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	lua "github.com/yuin/gopher-lua"
)

const hookFunc = "prepare_args"

// Target identifies the generation request the hook is preparing.
type Target struct {
	Provider  string
	Model     string
	Operation string
}

// Hook calls the global prepare_args(args, target) defined by a script.
// The script may return a table (the new argument set) or nil to keep the
// input unchanged. JSON null is visible to the script as the global null.
// A fresh interpreter is used for every call.
type Hook struct {
	path string
}

// LoadHook checks that the script at path loads and defines prepare_args.
func LoadHook(path string) (*Hook, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("hook path: %w", err)
	}
	h := &Hook{path: absPath}
	lState, err := h.open(context.Background())
	if err != nil {
		return nil, err
	}
	lState.Close()
	return h, nil
}

func (h *Hook) Path() string { return h.path }

func (h *Hook) open(ctx context.Context) (*lua.LState, error) {
	lState := lua.NewState()
	lState.SetContext(ctx)
	// Allow os.getenv so scripts can read env vars (e.g. a default style preset).
	lState.PreloadModule("os", osModuleLoader)

	if err := lState.DoFile(h.path); err != nil {
		lState.Close()
		return nil, fmt.Errorf("load hook %s: %w", h.path, err)
	}
	fn := lState.GetGlobal(hookFunc)
	if fn.Type() != lua.LTFunction {
		lState.Close()
		return nil, fmt.Errorf("hook %s must define global function %s(args, target), got %s", h.path, hookFunc, fn.Type().String())
	}
	return lState, nil
}

// Apply runs the hook over args and returns the resulting set. Values the
// script leaves alone come back exactly as they went in.
func (h *Hook) Apply(ctx context.Context, args map[string]any, target Target) (map[string]any, error) {
	lState, err := h.open(ctx)
	if err != nil {
		return nil, err
	}
	defer lState.Close()
	conv := newConverter(lState)

	tgt := lState.NewTable()
	lState.SetField(tgt, "provider", lua.LString(target.Provider))
	lState.SetField(tgt, "model", lua.LString(target.Model))
	lState.SetField(tgt, "operation", lua.LString(target.Operation))

	lState.Push(lState.GetGlobal(hookFunc))
	lState.Push(conv.toLua(map[string]any(args)))
	lState.Push(tgt)
	if err := lState.PCall(2, 1, nil); err != nil {
		return nil, fmt.Errorf("%s(): %w", hookFunc, err)
	}

	ret := lState.Get(-1)
	lState.Pop(1)

	switch ret.Type() {
	case lua.LTNil:
		return args, nil
	case lua.LTTable:
		out, ok := conv.fromLua(ret, map[string]any(args)).(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s() must return a table keyed by argument name, got a list", hookFunc)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s() must return a table or nil, got %s", hookFunc, ret.Type().String())
	}
}

// converter moves JSON-shaped values across the Lua boundary. Lists carry
// a shared metatable so empty ones stay lists, and JSON null is the
// global null, since Lua tables cannot hold nil.
type converter struct {
	lState   *lua.LState
	listMeta *lua.LTable
	null     *lua.LUserData
}

func newConverter(lState *lua.LState) *converter {
	c := &converter{
		lState:   lState,
		listMeta: lState.NewTable(),
		null:     lState.NewUserData(),
	}
	lState.SetGlobal("null", c.null)
	return c
}

func (c *converter) toLua(v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return c.null
	case bool:
		return lua.LBool(t)
	case string:
		return lua.LString(t)
	case float64:
		return lua.LNumber(t)
	case float32:
		return lua.LNumber(t)
	case int:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case map[string]any:
		tbl := c.lState.NewTable()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			tbl.RawSetString(k, c.toLua(t[k]))
		}
		return tbl
	case []any:
		tbl := c.lState.NewTable()
		for i, item := range t {
			tbl.RawSetInt(i+1, c.toLua(item))
		}
		tbl.Metatable = c.listMeta
		return tbl
	default:
		return lua.LString(fmt.Sprint(t))
	}
}

// fromLua converts a Lua value back to JSON-shaped Go values. orig is the
// value that was passed in at the same position, if any; integers that
// still compare equal to it are returned as orig to keep their precision.
// Tagged tables and tables whose keys are exactly 1..n become lists; every
// other table, including an untagged empty one, becomes an object.
func (c *converter) fromLua(v lua.LValue, orig any) any {
	switch t := v.(type) {
	case *lua.LNilType:
		return nil
	case *lua.LUserData:
		if t == c.null {
			return nil
		}
		return t.String()
	case lua.LBool:
		return bool(t)
	case lua.LString:
		return string(t)
	case lua.LNumber:
		f := float64(t)
		switch o := orig.(type) {
		case int64:
			if float64(o) == f {
				return o
			}
		case int:
			if float64(o) == f {
				return o
			}
		case float64:
			if o == f {
				return o
			}
		}
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case *lua.LTable:
		count, maxN := 0, 0
		t.ForEach(func(k, _ lua.LValue) {
			count++
			if n, ok := k.(lua.LNumber); ok && float64(n) == math.Trunc(float64(n)) && int(n) > maxN {
				maxN = int(n)
			}
		})
		origList, _ := orig.([]any)
		if t.Metatable == c.listMeta || (maxN > 0 && maxN == count) {
			list := make([]any, 0, maxN)
			for i := 1; i <= maxN; i++ {
				var hint any
				if i <= len(origList) {
					hint = origList[i-1]
				}
				list = append(list, c.fromLua(t.RawGetInt(i), hint))
			}
			return list
		}
		origMap, _ := orig.(map[string]any)
		obj := make(map[string]any, count)
		t.ForEach(func(k, val lua.LValue) {
			obj[k.String()] = c.fromLua(val, origMap[k.String()])
		})
		return obj
	default:
		return v.String()
	}
}

// osModuleLoader provides a minimal os module: getenv and time.
func osModuleLoader(lState *lua.LState) int {
	mod := lState.NewTable()
	lState.SetField(mod, "getenv", lState.NewFunction(func(ls *lua.LState) int {
		key := ls.CheckString(1)
		ls.Push(lua.LString(os.Getenv(key)))
		return 1
	}))
	lState.SetField(mod, "time", lState.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	lState.Push(mod)
	return 1
}
