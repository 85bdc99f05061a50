// Package tools ships the small set of built-in tools SPEC_FULL's Purpose &
// Scope names as needed "to exercise the [tool] registry end to end": each
// function registers its callable with toolregistry from init(), following
// the compile-time registration convention SPEC_FULL §9/§4.1 calls for in
// place of the distilled spec's runtime module-attribute enumeration.
package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jasonk87/selfevolve/internal/model"
	"github.com/jasonk87/selfevolve/internal/toolregistry"
)

// ModulePath is the Tool.ModulePath every tool in this package registers
// under; combined with FunctionName it is the key the Tool Registry resolves
// a callable by.
const ModulePath = "github.com/jasonk87/selfevolve/internal/tools"

func init() {
	toolregistry.RegisterCallable(ModulePath, "EchoMessage", EchoMessage)
	toolregistry.RegisterCallable(ModulePath, "ReadFile", ReadFile)
}

// EchoMessage returns its single positional or "message" keyword argument
// unchanged. Used mainly to exercise the plan/executor pipeline in tests and
// demos without any side effects.
func EchoMessage(ctx context.Context, deps toolregistry.Deps, args []any, kwargs map[string]any) (any, error) {
	if v, ok := kwargs["message"]; ok {
		return fmt.Sprintf("%v", v), nil
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("echo_message: expected a message argument")
	}
	return fmt.Sprintf("%v", args[0]), nil
}

// ReadFile returns the contents of the file named by its single positional
// or "path" keyword argument, as a string.
func ReadFile(ctx context.Context, deps toolregistry.Deps, args []any, kwargs map[string]any) (any, error) {
	path, ok := stringArg(args, kwargs, "path")
	if !ok {
		return nil, fmt.Errorf("read_file: expected a path argument")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read_file %q: %w", path, err)
	}
	return string(content), nil
}

func stringArg(args []any, kwargs map[string]any, key string) (string, bool) {
	if v, ok := kwargs[key]; ok {
		return fmt.Sprintf("%v", v), true
	}
	if len(args) > 0 {
		return strings.TrimSpace(fmt.Sprintf("%v", args[0])), true
	}
	return "", false
}

// BuiltinTools returns the Tool Registry metadata entries for every tool
// this package ships; internal/app.New feeds them into Registry.Register at
// startup.
func BuiltinTools() []model.Tool {
	return []model.Tool{
		{
			Name:         "echo_message",
			Description:  "Echo a message back unchanged; useful for testing plans.",
			ModulePath:   ModulePath,
			FunctionName: "EchoMessage",
			Type:         model.ToolTypeBuiltin,
		},
		{
			Name:         "read_file",
			Description:  "Read and return the contents of a file by path.",
			ModulePath:   ModulePath,
			FunctionName: "ReadFile",
			Type:         model.ToolTypeBuiltin,
		},
	}
}
