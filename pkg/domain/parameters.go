// Package domain defines the parameter, formula, and validation primitives
// shared by the derivation engine.
package domain

// ParameterStatus describes how a parameter's value was obtained.
type ParameterStatus string

// Canonical parameter statuses.
const (
	// StatusInput marks a free input chosen by the model author.
	StatusInput ParameterStatus = "input"
	// StatusDerived marks a value computed from other parameters.
	StatusDerived ParameterStatus = "derived"
	// StatusPredicted marks a derived value compared against experiment.
	StatusPredicted ParameterStatus = "predicted"
	// StatusCalibrated marks a value tuned to match an experimental target.
	StatusCalibrated ParameterStatus = "calibrated"
)

// RunState tracks a parameter through a pipeline execution.
type RunState string

// Pipeline states. Every parameter ends a run in StateResolved or StateError.
const (
	StateUnresolved RunState = "unresolved"
	StateComputing  RunState = "computing"
	StateResolved   RunState = "resolved"
	StateError      RunState = "error"
)

// Parameter is a named quantitative value tracked by the engine.
type Parameter struct {
	ID    string  `json:"id"`
	Name  string  `json:"name,omitempty"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
	// Status determines lifecycle rules: non-input parameters must carry a
	// formula and a simulation source.
	Status           ParameterStatus `json:"status"`
	FormulaID        string          `json:"formula_id,omitempty"`
	SimulationSource string          `json:"simulation_source,omitempty"`
	// Uncertainty is the declared one-sigma uncertainty. Nil means undeclared;
	// the validator reports CHECK rather than assuming zero.
	Uncertainty *float64 `json:"uncertainty,omitempty"`
	// CalibrationTarget names the parameter whose experimental value this one
	// was solved backward from. Only meaningful for StatusCalibrated; a
	// non-empty target on any other status is a consistency finding.
	CalibrationTarget string `json:"calibration_target,omitempty"`
}

// Formula declares a derivation relationship. Derivation steps are opaque to
// the engine; only the reference structure is interpreted.
type Formula struct {
	ID                 string   `json:"id"`
	ParentFormulas     []string `json:"parentFormulas"`
	EstablishedPhysics []string `json:"establishedPhysics"`
	Steps              []string `json:"steps,omitempty"`
}

// Simulation declares which parameters a computation procedure reads and
// writes. The procedure itself is registered alongside the declaration.
type Simulation struct {
	ID     string   `json:"id"`
	Reads  []string `json:"reads"`
	Writes []string `json:"writes"`
	Source string   `json:"source,omitempty"`
}

// DerivationEdge states that To depends on From.
type DerivationEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// CalibrationPair whitelists a simultaneous-constraint system: two formulas
// that reference each other by design and are solved jointly. A pair without
// a unique solution is reported as CHECK rather than silently accepted.
type CalibrationPair struct {
	ID             string `json:"id"`
	EquationA      string `json:"equation_a"`
	EquationB      string `json:"equation_b"`
	UniqueSolution bool   `json:"unique_solution"`
	// Justification documents why the joint solution is unique and
	// non-degenerate.
	Justification string `json:"justification,omitempty"`
}

// BoundType distinguishes central measurements from one-sided limits.
type BoundType string

// Supported reference bound types.
const (
	BoundCentral BoundType = "central"
	BoundLower   BoundType = "lower"
	BoundUpper   BoundType = "upper"
)

// Reference is an experimental reference value supplied by the citation
// component for comparison against a computed parameter.
type Reference struct {
	ParameterID string    `json:"parameter_id"`
	Value       float64   `json:"value"`
	Uncertainty *float64  `json:"uncertainty,omitempty"`
	Bound       BoundType `json:"bound_type"`
	Source      string    `json:"source,omitempty"`
}

// ValidationStatus is the outcome of comparing a computed value against a
// reference, or of attempting to compute it at all.
type ValidationStatus string

// Validation outcomes. CHECK is reserved for gaps (missing reference data or
// unavailable inputs) and is never conflated with FAIL.
const (
	ValidationPass  ValidationStatus = "PASS"
	ValidationCheck ValidationStatus = "CHECK"
	ValidationFail  ValidationStatus = "FAIL"
	ValidationError ValidationStatus = "ERROR"
)

// ValidationResult is an immutable per-run snapshot comparing one parameter
// against its reference. Results are retained for historical diffing and are
// never mutated in place.
type ValidationResult struct {
	ParameterID  string           `json:"id"`
	Name         string           `json:"name,omitempty"`
	Status       ValidationStatus `json:"status"`
	Computed     float64          `json:"computed"`
	Experimental *float64         `json:"experimental,omitempty"`
	Uncertainty  *float64         `json:"uncertainty,omitempty"`
	BoundType    BoundType        `json:"bound_type,omitempty"`
	Sigma        *float64         `json:"sigma,omitempty"`
	Ratio        *float64         `json:"ratio,omitempty"`
	Units        string           `json:"units,omitempty"`
	Source       string           `json:"source,omitempty"`
	Notes        string           `json:"notes,omitempty"`
}

// Float returns a pointer to v. Convenience for optional numeric fields.
func Float(v float64) *float64 { return &v }
