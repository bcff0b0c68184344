package domain

// Severity captures consistency-check outcomes.
type Severity string

// Finding severities determine whether a run may proceed.
const (
	// SeverityBlock invalidates the graph and aborts before computation.
	SeverityBlock Severity = "block"
	// SeverityCheck surfaces an unresolved question without blocking the run.
	SeverityCheck Severity = "check"
	SeverityLog   Severity = "log"
)

// Finding codes emitted by the cycle and consistency detector.
const (
	CodeCircularDependency = "CIRCULAR_DEPENDENCY"
	CodeStatusMismatch     = "STATUS_MISMATCH"
	CodeNonUniqueSolution  = "NON_UNIQUE_SOLUTION"
	CodeMissingParameter   = "MISSING_PARAMETER"
)

// Finding reports one structural or consistency defect.
type Finding struct {
	Code         string   `json:"code"`
	Severity     Severity `json:"severity"`
	Message      string   `json:"message"`
	ParameterIDs []string `json:"parameter_ids,omitempty"`
	FormulaIDs   []string `json:"formula_ids,omitempty"`
}

// Result aggregates findings from the detector.
type Result struct {
	Findings []Finding `json:"findings,omitempty"`
}

// Merge appends findings from another result.
func (r *Result) Merge(other Result) {
	if len(other.Findings) == 0 {
		return
	}
	r.Findings = append(r.Findings, other.Findings...)
}

// HasBlocking returns true if the result contains blocking findings.
func (r Result) HasBlocking() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityBlock {
			return true
		}
	}
	return false
}
