// Package export serializes the canonical value store to a stable JSON
// interchange document and reconciles it against secondary generated
// documents that copy its values.
package export

import (
	"encoding/json"
	"strconv"

	"derivcore/internal/core"
	"derivcore/pkg/domain"
)

// SchemaVersion identifies the canonical document layout.
const SchemaVersion = "1"

// ParameterRecord is the exported view of a parameter. Values are rendered
// as JSON numbers with shortest exact representation so that re-export of an
// unchanged store is byte-identical.
type ParameterRecord struct {
	Value       json.Number `json:"value"`
	Unit        string      `json:"unit,omitempty"`
	Status      string      `json:"status"`
	FormulaID   string      `json:"formula_id,omitempty"`
	Uncertainty json.Number `json:"uncertainty,omitempty"`
}

// FormulaRecord is the exported view of a formula's reference structure.
type FormulaRecord struct {
	ParentFormulas     []string `json:"parentFormulas"`
	EstablishedPhysics []string `json:"establishedPhysics"`
	Steps              []string `json:"steps,omitempty"`
}

// Document is the canonical export schema. Map keys are parameter and
// formula ids; encoding/json sorts map keys, giving stable ordering without
// extra bookkeeping.
type Document struct {
	Version           string                     `json:"version"`
	Parameters        map[string]ParameterRecord `json:"parameters"`
	Formulas          map[string]FormulaRecord   `json:"formulas"`
	ValidationSummary []domain.ValidationResult  `json:"validation_summary"`
}

// FormatValue renders a float with the shortest representation that parses
// back to the same value. All exported numerics go through this so precision
// is explicit rather than an artifact of the encoder.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Build assembles a canonical Document from a read-only view of the store
// and registry plus the validation results of the completed run.
func Build(store *core.ValueStore, registry *core.Registry, validation []domain.ValidationResult) Document {
	doc := Document{
		Version:           SchemaVersion,
		Parameters:        make(map[string]ParameterRecord),
		Formulas:          make(map[string]FormulaRecord),
		ValidationSummary: validation,
	}
	if doc.ValidationSummary == nil {
		doc.ValidationSummary = []domain.ValidationResult{}
	}
	for _, p := range store.List() {
		rec := ParameterRecord{
			Value:     json.Number(FormatValue(p.Value)),
			Unit:      p.Unit,
			Status:    string(p.Status),
			FormulaID: p.FormulaID,
		}
		if p.Uncertainty != nil {
			rec.Uncertainty = json.Number(FormatValue(*p.Uncertainty))
		}
		doc.Parameters[p.ID] = rec
	}
	for _, f := range registry.Formulas() {
		doc.Formulas[f.ID] = FormulaRecord{
			ParentFormulas:     emptyIfNil(f.ParentFormulas),
			EstablishedPhysics: emptyIfNil(f.EstablishedPhysics),
			Steps:              f.Steps,
		}
	}
	return doc
}

// Marshal renders the document as indented JSON with a trailing newline.
// Marshalling the same document twice yields byte-identical output.
func Marshal(doc Document) ([]byte, error) {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Unmarshal parses a canonical document previously produced by Marshal.
func Unmarshal(b []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func emptyIfNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
