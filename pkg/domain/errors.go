package domain

import "fmt"

// UnknownReferenceError is returned when a registration names an id that was
// never declared. Dangling references are rejected at load time, before any
// computation starts.
type UnknownReferenceError struct {
	Kind string // "formula", "parameter", "simulation"
	ID   string // the registering entity
	Ref  string // the missing reference
}

func (e UnknownReferenceError) Error() string {
	return fmt.Sprintf("%s %s references unknown id %q", e.Kind, e.ID, e.Ref)
}

// GraphError indicates the dependency graph itself is invalid. It is fatal:
// no computation runs against a graph with blocking findings.
type GraphError struct {
	Result Result
}

func (e GraphError) Error() string {
	return fmt.Sprintf("dependency graph invalid: %d blocking finding(s)", len(e.Result.Findings))
}

// ComputationError wraps a failure local to one parameter's simulation,
// including serialization and encoding failures surfaced as values rather
// than control flow. It never aborts the run.
type ComputationError struct {
	ParameterID string
	Err         error
}

func (e ComputationError) Error() string {
	return fmt.Sprintf("compute %s: %v", e.ParameterID, e.Err)
}

func (e ComputationError) Unwrap() error { return e.Err }

// RunLockedError reports that another run holds the store lock. Concurrent
// runs against the same store are disallowed to prevent interleaved partial
// states.
type RunLockedError struct {
	Path string
}

func (e RunLockedError) Error() string {
	return fmt.Sprintf("run lock %s held by another process", e.Path)
}
