package toolregistry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jasonk87/selfevolve/internal/model"
)

func registerEchoTool() {
	RegisterCallable("registry_test", "echo", func(ctx context.Context, deps Deps, args []any, kwargs map[string]any) (any, error) {
		if len(args) == 0 {
			return nil, nil
		}
		return args[0], nil
	})
}

func TestRegistry_RegisterExecute(t *testing.T) {
	registerEchoTool()

	r := New(filepath.Join(t.TempDir(), "tool_registry.json"), Deps{})
	r.Register(context.Background(), model.Tool{
		Name:         "echo",
		Description:  "echoes its first argument",
		ModulePath:   "registry_test",
		FunctionName: "echo",
		Type:         model.ToolTypeBuiltin,
	})

	result, err := r.Execute(context.Background(), "echo", []any{"hello"}, nil)
	require.NoError(t, err)
	require.Equal(t, "hello", result)
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "tool_registry.json"), Deps{})
	_, err := r.Execute(context.Background(), "does_not_exist", nil, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrToolNotFound)
}

func TestRegistry_SaveLoadRoundTrip(t *testing.T) {
	registerEchoTool()
	path := filepath.Join(t.TempDir(), "tool_registry.json")

	r := New(path, Deps{})
	r.Register(context.Background(), model.Tool{
		Name: "echo", ModulePath: "registry_test", FunctionName: "echo",
		Type: model.ToolTypeBuiltin, Description: "echo",
	})
	r.Register(context.Background(), model.Tool{
		Name: "internal_only", ModulePath: "registry_test", FunctionName: "echo",
		Type: model.ToolTypeSystemInternal, Description: "never persisted",
	})
	require.NoError(t, r.Save())

	loaded := New(path, Deps{})
	require.NoError(t, loaded.Load(context.Background()))

	names := map[string]bool{}
	for _, tool := range loaded.List() {
		names[tool.Name] = true
	}
	require.True(t, names["echo"])
	require.False(t, names["internal_only"], "system_internal tools must not persist")
}

func TestRegistry_LoadSkipsUnresolvableCallables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tool_registry.json")
	seed := New(path, Deps{})
	seed.Register(context.Background(), model.Tool{
		Name: "ghost", ModulePath: "nowhere", FunctionName: "nothing", Type: model.ToolTypeBuiltin,
	})
	require.NoError(t, seed.Save())

	loaded := New(path, Deps{})
	require.NoError(t, loaded.Load(context.Background()))
	require.Empty(t, loaded.List())
}

func TestRegistry_ReRegisterDifferentTarget(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "tool_registry.json"), Deps{})
	r.Register(context.Background(), model.Tool{Name: "t", ModulePath: "a", FunctionName: "f", Type: model.ToolTypeBuiltin})
	r.Register(context.Background(), model.Tool{Name: "t", ModulePath: "b", FunctionName: "g", Type: model.ToolTypeBuiltin})

	tools := r.List()
	require.Len(t, tools, 1)
	require.Equal(t, "b", tools[0].ModulePath)
}
