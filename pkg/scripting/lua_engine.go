package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/lexlapax/coachmem/pkg/errors"
	"github.com/lexlapax/coachmem/pkg/log"
)

// ErrFunctionNotFound is returned when a requested Lua function is not defined.
var ErrFunctionNotFound = errors.Wrap(errors.ErrLuaExecution, "function not found")

// IsFunctionNotFound reports whether err means the requested Lua
// function was never loaded.
func IsFunctionNotFound(err error) bool {
	return errors.Is(err, ErrFunctionNotFound)
}

// LuaEngine implements the Engine interface using gopher-lua. A single
// LState is not safe for concurrent use, so all calls serialize on a
// mutex.
type LuaEngine struct {
	mu     sync.Mutex
	state  *lua.LState
	config Config
	closed bool
}

// NewLuaEngine creates a new Lua engine with the given configuration.
func NewLuaEngine(config Config) (*LuaEngine, error) {
	state := lua.NewState(lua.Options{
		SkipOpenLibs: config.EnableSandboxing,
	})

	engine := &LuaEngine{
		state:  state,
		config: config,
	}

	if config.EnableSandboxing {
		setupSandbox(state)
	} else {
		state.OpenLibs()
	}
	registerAPIFunctions(state)

	log.Debug("Created Lua scripting engine", "sandboxed", config.EnableSandboxing)
	return engine, nil
}

// LoadScript loads a Lua script with the given name and content.
func (e *LuaEngine) LoadScript(name string, content []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errors.Wrap(errors.ErrLuaExecution, "engine is closed")
	}

	if err := e.state.DoString(string(content)); err != nil {
		return errors.Wrap(errors.ErrLuaExecution, "failed to load script %s", name)
	}

	log.Debug("Loaded Lua script", "name", name, "bytes", len(content))
	return nil
}

// LoadScriptFile loads a Lua script from a file path.
func (e *LuaEngine) LoadScriptFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script file %s: %w", path, err)
	}
	return e.LoadScript(filepath.Base(path), content)
}

// LoadScriptDir loads all .lua files from a directory.
func (e *LuaEngine) LoadScriptDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read script directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lua") {
			continue
		}
		if err := e.LoadScriptFile(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteFunction calls a previously loaded Lua function.
func (e *LuaEngine) ExecuteFunction(ctx context.Context, funcName string, args ...interface{}) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, errors.Wrap(errors.ErrLuaExecution, "engine is closed")
	}

	fn := e.state.GetGlobal(funcName)
	if fn == lua.LNil {
		return nil, errors.Wrap(ErrFunctionNotFound, "%s", funcName)
	}

	if e.config.ScriptTimeoutMs > 0 {
		timeout := time.Duration(e.config.ScriptTimeoutMs) * time.Millisecond
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	e.state.SetContext(ctx)
	defer e.state.RemoveContext()

	luaArgs := make([]lua.LValue, len(args))
	for i, arg := range args {
		luaArgs[i] = convertGoToLua(e.state, arg)
	}

	if err := e.state.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, luaArgs...); err != nil {
		return nil, errors.Wrap(errors.ErrLuaExecution, "error calling %s", funcName)
	}

	result := e.state.Get(-1)
	e.state.Pop(1)
	return convertLuaToGo(result), nil
}

// Close releases the Lua state.
func (e *LuaEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.state.Close()
	e.closed = true
	return nil
}

// convertGoToLua converts a Go value into a Lua value.
func convertGoToLua(L *lua.LState, value interface{}) lua.LValue {
	switch v := value.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case []string:
		table := L.NewTable()
		for _, s := range v {
			table.Append(lua.LString(s))
		}
		return table
	case []interface{}:
		table := L.NewTable()
		for _, item := range v {
			table.Append(convertGoToLua(L, item))
		}
		return table
	case map[string]interface{}:
		table := L.NewTable()
		for key, item := range v {
			table.RawSetString(key, convertGoToLua(L, item))
		}
		return table
	default:
		return lua.LString(fmt.Sprintf("%v", v))
	}
}

// convertLuaToGo converts a Lua value into a Go value. Tables with
// consecutive integer keys become slices; everything else becomes a map.
func convertLuaToGo(value lua.LValue) interface{} {
	switch v := value.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		arrayLen := v.Len()
		if arrayLen > 0 {
			result := make([]interface{}, 0, arrayLen)
			for i := 1; i <= arrayLen; i++ {
				result = append(result, convertLuaToGo(v.RawGetInt(i)))
			}
			return result
		}

		result := make(map[string]interface{})
		v.ForEach(func(key, item lua.LValue) {
			result[fmt.Sprintf("%v", convertLuaToGo(key))] = convertLuaToGo(item)
		})
		return result
	default:
		return fmt.Sprintf("%v", v)
	}
}
