// Package mech implements the deterministic, side-effect-free transforms
// invoked by node executors: field extraction, input merging, rule routing,
// invariant pinning, exclusion filtering, spawn-receipt building, and
// per-field validation.
//
// Handlers never return a Go error for expected business-rule failure; they
// report it through the Result so callers can always branch on Success and
// Outcome. A Go error crossing the handler boundary means programmer error
// (malformed config).
package mech

import (
	"fmt"
	"sort"
)

// Operation ids for the built-in handlers.
const (
	OpExtractor       = "extractor"
	OpMerger          = "merger"
	OpRouter          = "router"
	OpInvariantPinner = "invariant_pinner"
	OpExclusionFilter = "exclusion_filter"
	OpSpawner         = "spawner"
	OpValidator       = "validator"
)

// Error codes reported by handlers.
const (
	ErrCodeMissingInput  = "MISSING_INPUT"
	ErrCodeBadConfig     = "BAD_CONFIG"
	ErrCodeCheckFailed   = "CHECK_FAILED"
	ErrCodeNoRouteMatch  = "NO_ROUTE_MATCH"
	ErrCodeUnresolvedRef = "UNRESOLVED_REF"
)

// Result is the uniform handler result contract.
type Result struct {
	Success   bool           `json:"success"`
	Output    map[string]any `json:"output,omitempty"`
	Outcome   string         `json:"outcome"`
	ErrorCode string         `json:"error_code,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Ok builds a successful result.
func Ok(output map[string]any) Result {
	return Result{Success: true, Output: output, Outcome: "success"}
}

// Fail builds an expected business-rule failure.
func Fail(code, message string) Result {
	return Result{Success: false, Outcome: "failed", ErrorCode: code, Error: message}
}

// Handler is one mechanical operation. config comes from the plan node,
// context is the execution's context_state.
type Handler interface {
	Execute(config map[string]any, context map[string]any) (Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(config map[string]any, context map[string]any) (Result, error)

// Execute calls the function.
func (f HandlerFunc) Execute(config, context map[string]any) (Result, error) {
	return f(config, context)
}

// Registry maps operation ids to handlers. It is constructed once at process
// start and passed to the executors; there is no package-level mutable
// registry, so tests can build registries with deterministic doubles.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// DefaultRegistry returns a registry with all built-in handlers installed.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(OpExtractor, HandlerFunc(Extract))
	r.Register(OpMerger, HandlerFunc(Merge))
	r.Register(OpRouter, HandlerFunc(Route))
	r.Register(OpInvariantPinner, HandlerFunc(PinInvariants))
	r.Register(OpExclusionFilter, HandlerFunc(FilterExclusions))
	r.Register(OpSpawner, HandlerFunc(BuildSpawnReceipt))
	r.Register(OpValidator, HandlerFunc(ValidateFields))
	return r
}

// Register installs a handler for an operation id.
func (r *Registry) Register(op string, h Handler) {
	r.handlers[op] = h
}

// Get returns the handler for an operation id.
func (r *Registry) Get(op string) (Handler, error) {
	h, ok := r.handlers[op]
	if !ok {
		return nil, fmt.Errorf("no handler registered for operation %q", op)
	}
	return h, nil
}

// Operations returns the sorted operation ids, used by the startup
// exhaustiveness check against plan internals.
func (r *Registry) Operations() []string {
	ops := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Has reports whether an operation id is registered.
func (r *Registry) Has(op string) bool {
	_, ok := r.handlers[op]
	return ok
}
