package executions

import (
	"context"
	"fmt"
	"sync"

	"github.com/JaimeStill/cascade/internal/documents"
)

// ScriptContext is the input handed to a registered script. FormValues is
// the accumulated form state; mutations to it are persisted when the script
// succeeds.
type ScriptContext struct {
	Document   *documents.Document
	Execution  *Execution
	FormValues map[string]any
}

// ScriptFunc is a named procedure a script step can invoke. Scripts are
// registered at startup; definitions reference them by name only, so no
// arbitrary code ever enters the database.
type ScriptFunc func(ctx context.Context, sc *ScriptContext) error

// ScriptRegistry holds the named procedures available to script steps.
type ScriptRegistry struct {
	mu    sync.RWMutex
	funcs map[string]ScriptFunc
}

// NewScriptRegistry creates an empty script registry.
func NewScriptRegistry() *ScriptRegistry {
	return &ScriptRegistry{funcs: make(map[string]ScriptFunc)}
}

// Register adds a named script. Registering a duplicate name is an error.
func (r *ScriptRegistry) Register(name string, fn ScriptFunc) error {
	if name == "" {
		return fmt.Errorf("script name is required")
	}
	if fn == nil {
		return fmt.Errorf("script %q: func is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("script %q already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// Names returns the registered script names.
func (r *ScriptRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	return names
}

func (r *ScriptRegistry) resolve(name string) (ScriptFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.funcs[name]
	return fn, ok
}
