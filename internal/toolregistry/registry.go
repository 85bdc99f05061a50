// Package toolregistry implements the Tool Registry (SPEC_FULL §4.1): a
// name → (callable, metadata, schema) mapping with discovery, dependency
// injection, and atomic persistence of metadata (never callables).
//
// Go has no runtime "import this module path and enumerate its public
// functions" primitive, so the duck-typed registry SPEC_FULL §9 calls for is
// realized as an explicit compile-time registration table: packages that want
// to expose tools call RegisterCallable from an init() func, and Execute resolves
// the callable by (module_path, function_name) against that table.
package toolregistry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jasonk87/selfevolve/internal/model"
	"github.com/jasonk87/selfevolve/internal/repo"
)

var (
	ErrToolNotFound      = errors.New("tool not found")
	ErrAlreadyResolved   = errors.New("callable already registered for module/function pair")
)

// ToolExecutionError wraps a failure encountered loading or invoking a tool.
type ToolExecutionError struct {
	ToolName string
	Err      error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("executing tool %q: %v", e.ToolName, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// Callable is the Go shape every registered tool function must satisfy. args
// and kwargs arrive already substituted by the Execution Agent.
type Callable func(ctx context.Context, deps Deps, args []any, kwargs map[string]any) (any, error)

// Deps carries the optional injected collaborators a tool body may declare it
// needs (SPEC_FULL §4.1's "inspect the target's parameter list" — realized in
// Go as a fixed struct rather than runtime reflection over parameter names).
type Deps struct {
	TaskManager      TaskManager
	NotificationBus  NotificationBus
}

// TaskManager and NotificationBus are the narrow interfaces tool bodies may
// depend on; defined here (rather than importing the concrete packages) to
// avoid an import cycle, since those packages do not need to know about the
// registry.
type TaskManager interface {
	UpdateTaskStatus(ctx context.Context, taskID int64, status model.TaskStatus, reason string) (*model.ActiveTask, error)
}

type NotificationBus interface {
	AddNotification(ctx context.Context, eventType model.NotificationEventType, summary string) (*model.Notification, error)
}

// callableTable is the process-wide compile-time registration table: every
// package that ships a tool registers its Go function here from init().
var (
	callableTableMu sync.RWMutex
	callableTable    = map[string]Callable{}
)

// RegisterCallable binds a (modulePath, functionName) pair to a Go function.
// Intended to be called from an init() in a tool-bearing package.
func RegisterCallable(modulePath, functionName string, fn Callable) {
	callableTableMu.Lock()
	defer callableTableMu.Unlock()
	callableTable[key(modulePath, functionName)] = fn
}

func lookupCallable(modulePath, functionName string) (Callable, bool) {
	callableTableMu.RLock()
	defer callableTableMu.RUnlock()
	fn, ok := callableTable[key(modulePath, functionName)]
	return fn, ok
}

func key(modulePath, functionName string) string {
	return modulePath + "." + functionName
}

// Registry is the name → Tool metadata mapping. Callables are looked up in the
// process-wide registration table on each call; only metadata persists.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]model.Tool
	path  string

	deps Deps
}

// New constructs a Registry persisting metadata at path.
func New(path string, deps Deps) *Registry {
	return &Registry{
		tools: map[string]model.Tool{},
		path:  path,
		deps:  deps,
	}
}

// Register adds or replaces a tool entry. Re-registration under the same
// name with a different module/function pair is permitted and logged,
// matching SPEC_FULL §4.1's idempotent-on-name contract.
func (r *Registry) Register(ctx context.Context, t model.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tools[t.Name]; ok {
		if existing.ModulePath != t.ModulePath || existing.FunctionName != t.FunctionName {
			slog.WarnContext(ctx, "tool re-registered with different target",
				"tool_name", t.Name,
				"old_module", existing.ModulePath, "old_function", existing.FunctionName,
				"new_module", t.ModulePath, "new_function", t.FunctionName)
		}
	}
	r.tools[t.Name] = t
}

// Remove deletes a tool entry by name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// List returns every registered tool, in no particular order.
func (r *Registry) List() []model.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// ListWithSources returns every tool annotated with whether its callable is
// currently resolved in-process.
func (r *Registry) ListWithSources() []ToolWithSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolWithSource, 0, len(r.tools))
	for _, t := range r.tools {
		_, resolved := lookupCallable(t.ModulePath, t.FunctionName)
		out = append(out, ToolWithSource{Tool: t, Resolved: resolved})
	}
	return out
}

type ToolWithSource struct {
	model.Tool
	Resolved bool
}

// Execute resolves and invokes the named tool, injecting TaskManager /
// NotificationBus collaborators when the registry was constructed with them.
func (r *Registry) Execute(ctx context.Context, name string, args []any, kwargs map[string]any) (any, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &ToolExecutionError{ToolName: name, Err: ErrToolNotFound}
	}

	fn, ok := lookupCallable(t.ModulePath, t.FunctionName)
	if !ok {
		return nil, &ToolExecutionError{ToolName: name, Err: fmt.Errorf("no callable registered for %s.%s", t.ModulePath, t.FunctionName)}
	}

	result, err := fn(ctx, r.deps, args, kwargs)
	if err != nil {
		return nil, &ToolExecutionError{ToolName: name, Err: err}
	}
	return result, nil
}

// Save persists tool metadata, skipping system_internal entries per
// SPEC_FULL §3 (they are bound to the live registry instance and never
// outlive the process).
func (r *Registry) Save() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	persisted := make([]model.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		if t.Type == model.ToolTypeSystemInternal {
			continue
		}
		persisted = append(persisted, t)
	}
	return repo.WriteJSONAtomic(r.path, persisted)
}

// Load restores tool metadata from disk. Entries missing required fields, or
// whose callable cannot be re-resolved, are skipped with a warning rather
// than failing the whole load.
func (r *Registry) Load(ctx context.Context) error {
	var stored []model.Tool
	ok, err := repo.ReadJSON(r.path, &stored)
	if err != nil {
		return fmt.Errorf("loading tool registry: %w", err)
	}
	if !ok {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range stored {
		if t.Name == "" || t.ModulePath == "" || t.FunctionName == "" {
			slog.WarnContext(ctx, "skipping tool entry missing required fields", "tool", t)
			continue
		}
		if _, resolved := lookupCallable(t.ModulePath, t.FunctionName); !resolved {
			slog.WarnContext(ctx, "skipping tool entry with unresolvable callable",
				"tool_name", t.Name, "module_path", t.ModulePath, "function_name", t.FunctionName)
			continue
		}
		r.tools[t.Name] = t
	}
	return nil
}
