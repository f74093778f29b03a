package scripting

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/coachmem/pkg/errors"
)

func setupEngineTest(t *testing.T) (*LuaEngine, context.Context) {
	engine, err := NewLuaEngine(DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		engine.Close()
	})
	return engine, context.Background()
}

func TestExecuteFunction_Basic(t *testing.T) {
	engine, ctx := setupEngineTest(t)

	script := `
		function add(a, b)
			return a + b
		end
	`
	require.NoError(t, engine.LoadScript("math.lua", []byte(script)))

	result, err := engine.ExecuteFunction(ctx, "add", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, float64(5), result)
}

func TestExecuteFunction_TableRoundTrip(t *testing.T) {
	engine, ctx := setupEngineTest(t)

	script := `
		function tag_all(items)
			local out = {}
			for i, item in ipairs(items) do
				out[i] = "tagged_" .. item
			end
			return out
		end
	`
	require.NoError(t, engine.LoadScript("tags.lua", []byte(script)))

	result, err := engine.ExecuteFunction(ctx, "tag_all", []string{"a", "b"})
	require.NoError(t, err)

	items, ok := result.([]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"tagged_a", "tagged_b"}, items)
}

func TestExecuteFunction_MapResult(t *testing.T) {
	engine, ctx := setupEngineTest(t)

	script := `
		function describe()
			return {name = "policy", version = 2}
		end
	`
	require.NoError(t, engine.LoadScript("describe.lua", []byte(script)))

	result, err := engine.ExecuteFunction(ctx, "describe")
	require.NoError(t, err)

	m, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "policy", m["name"])
	assert.Equal(t, float64(2), m["version"])
}

func TestExecuteFunction_NotFound(t *testing.T) {
	engine, ctx := setupEngineTest(t)

	_, err := engine.ExecuteFunction(ctx, "never_defined")
	assert.Error(t, err)
	assert.True(t, IsFunctionNotFound(err))
	assert.True(t, errors.Is(err, errors.ErrLuaExecution))
}

func TestExecuteFunction_ScriptError(t *testing.T) {
	engine, ctx := setupEngineTest(t)

	script := `
		function explode()
			error("boom")
		end
	`
	require.NoError(t, engine.LoadScript("explode.lua", []byte(script)))

	_, err := engine.ExecuteFunction(ctx, "explode")
	assert.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLuaExecution))
	assert.False(t, IsFunctionNotFound(err))
}

func TestLoadScript_SyntaxError(t *testing.T) {
	engine, _ := setupEngineTest(t)

	err := engine.LoadScript("bad.lua", []byte("function broken( end"))
	assert.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLuaExecution))
}

func TestSandbox_BlocksUnsafeModules(t *testing.T) {
	engine, ctx := setupEngineTest(t)

	script := `
		function probe()
			return {os == nil, io == nil, require == nil, dofile == nil}
		end
	`
	require.NoError(t, engine.LoadScript("probe.lua", []byte(script)))

	result, err := engine.ExecuteFunction(ctx, "probe")
	require.NoError(t, err)

	checks, ok := result.([]interface{})
	require.True(t, ok)
	for _, blocked := range checks {
		assert.Equal(t, true, blocked)
	}
}

func TestSandbox_KeepsSafeLibraries(t *testing.T) {
	engine, ctx := setupEngineTest(t)

	script := `
		function shout(s)
			return string.upper(s)
		end
	`
	require.NoError(t, engine.LoadScript("shout.lua", []byte(script)))

	result, err := engine.ExecuteFunction(ctx, "shout", "quiet")
	require.NoError(t, err)
	assert.Equal(t, "QUIET", result)
}

func TestAPIFunctions(t *testing.T) {
	engine, ctx := setupEngineTest(t)

	script := `
		function use_api()
			coachmem.log("info", "hello from lua")
			local id = coachmem.uuid()
			local now = coachmem.now()
			return {id, now > 0}
		end
	`
	require.NoError(t, engine.LoadScript("api.lua", []byte(script)))

	result, err := engine.ExecuteFunction(ctx, "use_api")
	require.NoError(t, err)

	values, ok := result.([]interface{})
	require.True(t, ok)
	require.Len(t, values, 2)
	assert.Len(t, values[0], 36)
	assert.Equal(t, true, values[1])
}

func TestLoadScriptDir(t *testing.T) {
	engine, ctx := setupEngineTest(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.lua"),
		[]byte("function one() return 1 end"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two.lua"),
		[]byte("function two() return 2 end"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"),
		[]byte("not lua"), 0644))

	require.NoError(t, engine.LoadScriptDir(dir))

	result, err := engine.ExecuteFunction(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, float64(1), result)

	result, err = engine.ExecuteFunction(ctx, "two")
	require.NoError(t, err)
	assert.Equal(t, float64(2), result)
}

func TestClose_RejectsFurtherCalls(t *testing.T) {
	engine, ctx := setupEngineTest(t)

	require.NoError(t, engine.Close())
	// Closing twice is a no-op
	require.NoError(t, engine.Close())

	_, err := engine.ExecuteFunction(ctx, "anything")
	assert.Error(t, err)

	err = engine.LoadScript("late.lua", []byte("x = 1"))
	assert.Error(t, err)
}
