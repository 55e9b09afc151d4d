package lua

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// HandleResult is the result of running a Lua capability script.
type HandleResult struct {
	Summary string // human-readable outcome line
	Data    any    // optional structured payload
}

// RunHandle runs the Lua script at scriptPath, calling the global
// handle(params) function with the invocation parameters as a table. The
// script must return either a string (used as the summary) or a table with
// summary (string) and optional data. Scripts can use os.getenv for
// environment variables. The context cancels long-running scripts.
func RunHandle(ctx context.Context, scriptPath string, params map[string]any) (*HandleResult, error) {
	lState := lua.NewState()
	defer lState.Close()
	lState.SetContext(ctx)

	// Allow os.getenv so scripts can read env vars (e.g. service endpoints).
	lState.PreloadModule("os", osModuleLoader)

	absPath, err := filepath.Abs(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("script path: %w", err)
	}
	if err := lState.DoFile(absPath); err != nil {
		return nil, fmt.Errorf("load script: %w", err)
	}

	fn := lState.GetGlobal("handle")
	if fn.Type() == lua.LTNil {
		return nil, fmt.Errorf("script must define global function handle(params)")
	}
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("handle must be a function, got %s", fn.Type().String())
	}

	lState.Push(fn)
	lState.Push(goToLua(lState, params))
	if err := lState.PCall(1, 1, nil); err != nil {
		return nil, fmt.Errorf("handle(): %w", err)
	}

	ret := lState.Get(-1)
	lState.Pop(1)

	switch ret.Type() {
	case lua.LTString:
		return &HandleResult{Summary: ret.String()}, nil
	case lua.LTTable:
		tbl := ret.(*lua.LTable)
		result := &HandleResult{}
		tbl.ForEach(func(k, v lua.LValue) {
			switch k.String() {
			case "summary":
				if v.Type() == lua.LTString {
					result.Summary = v.String()
				}
			case "data":
				result.Data = luaToGo(v)
			}
		})
		if result.Summary == "" {
			return nil, fmt.Errorf("handle() table must include a summary string")
		}
		return result, nil
	default:
		return nil, fmt.Errorf("handle() must return string or table { summary, data }, got %s", ret.Type().String())
	}
}

// goToLua converts invocation parameters to Lua values. Unknown types are
// stringified rather than dropped.
func goToLua(lState *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []string:
		tbl := lState.NewTable()
		for _, s := range val {
			tbl.Append(lua.LString(s))
		}
		return tbl
	case []any:
		tbl := lState.NewTable()
		for _, item := range val {
			tbl.Append(goToLua(lState, item))
		}
		return tbl
	case map[string]any:
		tbl := lState.NewTable()
		for k, item := range val {
			lState.SetField(tbl, k, goToLua(lState, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// luaToGo converts a script return value back to Go. Array-shaped tables
// become slices, everything else becomes a map.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LTable:
		if n := val.MaxN(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, luaToGo(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			out[k.String()] = luaToGo(item)
		})
		return out
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	default:
		return nil
	}
}

// osModuleLoader provides a minimal os module: getenv and time (for math.randomseed).
func osModuleLoader(lState *lua.LState) int {
	mod := lState.NewTable()
	lState.SetField(mod, "getenv", lState.NewFunction(func(ls *lua.LState) int {
		key := ls.CheckString(1)
		val := os.Getenv(key)
		ls.Push(lua.LString(val))
		return 1
	}))
	lState.SetField(mod, "time", lState.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	lState.Push(mod)
	return 1
}
