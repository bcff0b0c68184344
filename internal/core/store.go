package core

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"derivcore/pkg/domain"
)

type valueState struct {
	params map[string]domain.Parameter
	states map[string]domain.RunState
	notes  map[string]string
}

func newValueState() valueState {
	return valueState{
		params: make(map[string]domain.Parameter),
		states: make(map[string]domain.RunState),
		notes:  make(map[string]string),
	}
}

func (s valueState) clone() valueState {
	cloned := newValueState()
	for k, v := range s.params {
		cloned.params[k] = cloneParameter(v)
	}
	for k, v := range s.states {
		cloned.states[k] = v
	}
	for k, v := range s.notes {
		cloned.notes[k] = v
	}
	return cloned
}

func cloneParameter(p domain.Parameter) domain.Parameter {
	cp := p
	if p.Uncertainty != nil {
		u := *p.Uncertainty
		cp.Uncertainty = &u
	}
	return cp
}

// ValueStore is the canonical, run-scoped mapping of parameter id to value
// and metadata. Parameters are declared once at registry load; values are
// mutated only by the executor during a run. Clones are fully isolated so
// Monte Carlo samples never observe another sample's intermediate state.
type ValueStore struct {
	mu    sync.RWMutex
	state valueState
	nowFn func() time.Time
}

// NewValueStore constructs an empty store.
func NewValueStore() *ValueStore {
	return &ValueStore{
		state: newValueState(),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// Declare registers a parameter. Redeclaring an id is an error: the set of
// parameters is fixed for the lifetime of the store.
func (s *ValueStore) Declare(p domain.Parameter) error {
	if p.ID == "" {
		return fmt.Errorf("parameter id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.state.params[p.ID]; exists {
		return fmt.Errorf("parameter %q already declared", p.ID)
	}
	if p.Status != domain.StatusInput && p.FormulaID == "" {
		return fmt.Errorf("parameter %q: status %s requires a formula", p.ID, p.Status)
	}
	s.state.params[p.ID] = cloneParameter(p)
	if p.Status == domain.StatusInput {
		s.state.states[p.ID] = domain.StateResolved
	} else {
		s.state.states[p.ID] = domain.StateUnresolved
	}
	return nil
}

// Get retrieves a parameter by id.
func (s *ValueStore) Get(id string) (domain.Parameter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.params[id]
	if !ok {
		return domain.Parameter{}, false
	}
	return cloneParameter(p), true
}

// List returns all parameters ordered by id.
func (s *ValueStore) List() []domain.Parameter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Parameter, 0, len(s.state.params))
	for _, p := range s.state.params {
		out = append(out, cloneParameter(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// State reports the run state of a parameter.
func (s *ValueStore) State(id string) (domain.RunState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.state.states[id]
	return st, ok
}

// Note returns the run note attached to a parameter, if any.
func (s *ValueStore) Note(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.notes[id]
}

// Clone returns a fully isolated copy of the store.
func (s *ValueStore) Clone() *ValueStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &ValueStore{state: s.state.clone(), nowFn: s.nowFn}
}

// resetRun returns every non-input parameter to the unresolved state and
// clears run notes. Called by the executor before a pipeline pass.
func (s *ValueStore) resetRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.notes = make(map[string]string)
	for id, p := range s.state.params {
		if p.Status == domain.StatusInput {
			s.state.states[id] = domain.StateResolved
		} else {
			s.state.states[id] = domain.StateUnresolved
		}
	}
}

// setComputing transitions a parameter into the computing state.
func (s *ValueStore) setComputing(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.states[id] = domain.StateComputing
}

// setResolved records a computed value and marks the parameter resolved.
func (s *ValueStore) setResolved(id string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.state.params[id]
	p.Value = value
	s.state.params[id] = p
	s.state.states[id] = domain.StateResolved
}

// setError marks the parameter errored with an explanatory note.
func (s *ValueStore) setError(id, note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.states[id] = domain.StateError
	s.state.notes[id] = note
}

// setInput overwrites an input parameter's value. Used by Monte Carlo
// perturbation against an isolated clone.
func (s *ValueStore) setInput(id string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.params[id]
	if !ok {
		return fmt.Errorf("parameter %q not declared", id)
	}
	if p.Status != domain.StatusInput {
		return fmt.Errorf("parameter %q is not an input", id)
	}
	p.Value = value
	s.state.params[id] = p
	return nil
}

// Snapshot captures a persistable view of one completed (or partial) run.
type Snapshot struct {
	RunID      string                      `json:"run_id"`
	PartialRun bool                        `json:"partial_run,omitempty"`
	CreatedAt  time.Time                   `json:"created_at"`
	Parameters map[string]domain.Parameter `json:"parameters"`
	States     map[string]domain.RunState  `json:"states"`
	Notes      map[string]string           `json:"notes,omitempty"`
	Validation []domain.ValidationResult   `json:"validation,omitempty"`
}

// ExportSnapshot captures the committed state for persistence.
func (s *ValueStore) ExportSnapshot(runID string, partial bool, validation []domain.ValidationResult) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		RunID:      runID,
		PartialRun: partial,
		CreatedAt:  s.nowFn(),
		Parameters: make(map[string]domain.Parameter, len(s.state.params)),
		States:     make(map[string]domain.RunState, len(s.state.states)),
		Notes:      make(map[string]string, len(s.state.notes)),
		Validation: append([]domain.ValidationResult(nil), validation...),
	}
	for k, v := range s.state.params {
		snap.Parameters[k] = cloneParameter(v)
	}
	for k, v := range s.state.states {
		snap.States[k] = v
	}
	for k, v := range s.state.notes {
		snap.Notes[k] = v
	}
	return snap
}

// ImportSnapshot replaces the store state with a persisted snapshot.
func (s *ValueStore) ImportSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := newValueState()
	for k, v := range snap.Parameters {
		state.params[k] = cloneParameter(v)
	}
	for k, v := range snap.States {
		state.states[k] = v
	}
	for k, v := range snap.Notes {
		state.notes[k] = v
	}
	s.state = state
}
