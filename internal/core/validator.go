package core

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"derivcore/pkg/domain"
)

// sigmaTolerance is the agreement threshold for central values: a computed
// value within three experimental standard deviations passes.
const sigmaTolerance = 3.0

// Validator compares computed parameters against experimental references.
// It is a read-only consumer of the value store and may run concurrently
// with the exporter once the executor's pass completes.
type Validator struct {
	refs map[string]domain.Reference
}

// NewValidator constructs a validator over the supplied reference set.
// Later references for the same parameter replace earlier ones.
func NewValidator(refs []domain.Reference) *Validator {
	m := make(map[string]domain.Reference, len(refs))
	for _, ref := range refs {
		m[ref.ParameterID] = ref
	}
	return &Validator{refs: m}
}

// Validate compares a single computed value against one reference.
func Validate(p domain.Parameter, ref domain.Reference) domain.ValidationResult {
	res := domain.ValidationResult{
		ParameterID:  p.ID,
		Name:         p.Name,
		Computed:     p.Value,
		Experimental: domain.Float(ref.Value),
		BoundType:    ref.Bound,
		Units:        p.Unit,
		Source:       ref.Source,
	}
	switch ref.Bound {
	case domain.BoundCentral:
		if ref.Uncertainty == nil || *ref.Uncertainty <= 0 {
			res.Status = domain.ValidationCheck
			res.Notes = "reference lacks a usable uncertainty"
			return res
		}
		res.Uncertainty = domain.Float(*ref.Uncertainty)
		sigma := math.Abs(p.Value-ref.Value) / *ref.Uncertainty
		res.Sigma = domain.Float(sigma)
		if sigma < sigmaTolerance {
			res.Status = domain.ValidationPass
		} else {
			res.Status = domain.ValidationFail
		}
	case domain.BoundLower, domain.BoundUpper:
		if ref.Value == 0 {
			res.Status = domain.ValidationCheck
			res.Notes = "bound value is zero; ratio undefined"
			return res
		}
		ratio := p.Value / ref.Value
		res.Ratio = domain.Float(ratio)
		passed := ratio >= 1
		if ref.Bound == domain.BoundUpper {
			passed = ratio <= 1
		}
		if passed {
			res.Status = domain.ValidationPass
		} else {
			res.Status = domain.ValidationFail
		}
	default:
		res.Status = domain.ValidationCheck
		res.Notes = fmt.Sprintf("unknown bound type %q", ref.Bound)
	}
	return res
}

// Run validates every declared parameter exactly once against the run
// outcome. Parameters without a reference, and parameters skipped because an
// input errored, are CHECK; direct computation failures are ERROR. Silent
// omission from the summary would itself be an inconsistency, so the result
// length always equals the number of declared parameters.
func (v *Validator) Run(store *ValueStore, report RunReport) []domain.ValidationResult {
	params := store.List()
	out := make([]domain.ValidationResult, 0, len(params))
	for _, p := range params {
		state := report.States[p.ID]
		note := report.Notes[p.ID]
		switch state {
		case domain.StateError:
			res := domain.ValidationResult{
				ParameterID: p.ID,
				Name:        p.Name,
				Computed:    p.Value,
				Units:       p.Unit,
				Notes:       note,
			}
			if strings.HasPrefix(note, notePrefixUnavailable) {
				res.Status = domain.ValidationCheck
			} else {
				res.Status = domain.ValidationError
			}
			out = append(out, res)
		case domain.StateResolved:
			ref, ok := v.refs[p.ID]
			if !ok {
				out = append(out, domain.ValidationResult{
					ParameterID: p.ID,
					Name:        p.Name,
					Computed:    p.Value,
					Units:       p.Unit,
					Status:      domain.ValidationCheck,
					Notes:       "no reference value",
				})
				continue
			}
			out = append(out, Validate(p, ref))
		default:
			out = append(out, domain.ValidationResult{
				ParameterID: p.ID,
				Name:        p.Name,
				Computed:    p.Value,
				Units:       p.Unit,
				Status:      domain.ValidationCheck,
				Notes:       fmt.Sprintf("not computed: run state %s", state),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParameterID < out[j].ParameterID })
	return out
}

// CategorySummary aggregates results per bound type for the final report.
type CategorySummary struct {
	Category  string   `json:"category"`
	Count     int      `json:"count"`
	Passed    int      `json:"passed"`
	Failed    int      `json:"failed"`
	Checked   int      `json:"checked"`
	Errored   int      `json:"errored"`
	PassRate  float64  `json:"pass_rate"`
	MeanSigma *float64 `json:"mean_sigma,omitempty"`
}

// Summarize groups validation results by bound type (results without a
// reference fall under "unreferenced") and computes pass rates and mean
// sigma per category.
func Summarize(results []domain.ValidationResult) []CategorySummary {
	byCat := make(map[string][]domain.ValidationResult)
	for _, res := range results {
		cat := string(res.BoundType)
		if cat == "" {
			cat = "unreferenced"
		}
		byCat[cat] = append(byCat[cat], res)
	}

	cats := make([]string, 0, len(byCat))
	for cat := range byCat {
		cats = append(cats, cat)
	}
	sort.Strings(cats)

	out := make([]CategorySummary, 0, len(cats))
	for _, cat := range cats {
		summary := CategorySummary{Category: cat}
		var sigmaSum float64
		var sigmaN int
		for _, res := range byCat[cat] {
			summary.Count++
			switch res.Status {
			case domain.ValidationPass:
				summary.Passed++
			case domain.ValidationFail:
				summary.Failed++
			case domain.ValidationCheck:
				summary.Checked++
			case domain.ValidationError:
				summary.Errored++
			}
			if res.Sigma != nil {
				sigmaSum += *res.Sigma
				sigmaN++
			}
		}
		if summary.Count > 0 {
			summary.PassRate = float64(summary.Passed) / float64(summary.Count)
		}
		if sigmaN > 0 {
			summary.MeanSigma = domain.Float(sigmaSum / float64(sigmaN))
		}
		out = append(out, summary)
	}
	return out
}
