package export

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Secondary documents cite canonical values with inline tags:
//
//	[param:<id> unit:<unit> fmt:<spec> source:<label>] <literal>
//
// Only the id is mandatory. The reconciler reads the (tag, literal) pairs
// and never interprets surrounding prose.

// Classification of a cited literal against the canonical document.
type Classification string

const (
	// ClassMatch means the literal agrees with the canonical value at the
	// literal's displayed precision.
	ClassMatch Classification = "MATCH"
	// ClassDrift means the literal disagrees with the canonical value.
	ClassDrift Classification = "DRIFT"
	// ClassStaleFormat means the value agrees but the displayed unit or
	// precision is inconsistent with the citation's declared format.
	ClassStaleFormat Classification = "STALE_FORMAT"
	// ClassMissingCitation means an experimentally anchored value is cited
	// without a source annotation.
	ClassMissingCitation Classification = "MISSING_CITATION"
	// ClassUnknownParameter means the tag names an id absent from the
	// canonical document.
	ClassUnknownParameter Classification = "UNKNOWN_PARAMETER"
)

// Citation is one tagged literal extracted from a secondary document.
type Citation struct {
	Document    string `json:"document"`
	Line        int    `json:"line"`
	ParameterID string `json:"parameter_id"`
	Literal     string `json:"literal"`
	Unit        string `json:"unit,omitempty"`
	Format      string `json:"format,omitempty"`
	Source      string `json:"source,omitempty"`
}

// Finding is the reconciliation verdict for one citation.
type Finding struct {
	Citation
	Class  Classification `json:"class"`
	Delta  float64        `json:"delta,omitempty"`
	Detail string         `json:"detail,omitempty"`
}

var citationPattern = regexp.MustCompile(`\[param:([A-Za-z0-9_.\-]+)((?:\s+[a-z]+:[^\s\]]+)*)\]\s*([-+]?[0-9]*\.?[0-9]+(?:[eE][-+]?[0-9]+)?)`)

var attrPattern = regexp.MustCompile(`([a-z]+):([^\s\]]+)`)

// ScanDocument extracts all tagged literals from one secondary document.
// The name is carried through into the resulting citations.
func ScanDocument(name string, content []byte) []Citation {
	var cites []Citation
	for lineNo, line := range strings.Split(string(content), "\n") {
		for _, m := range citationPattern.FindAllStringSubmatch(line, -1) {
			c := Citation{Document: name, Line: lineNo + 1, ParameterID: m[1], Literal: m[3]}
			for _, attr := range attrPattern.FindAllStringSubmatch(m[2], -1) {
				switch attr[1] {
				case "unit":
					c.Unit = attr[2]
				case "fmt":
					c.Format = attr[2]
				case "source":
					c.Source = attr[2]
				}
			}
			cites = append(cites, c)
		}
	}
	return cites
}

// Reconcile classifies every citation in the given documents against the
// canonical document. Findings are ordered by document name then line.
func Reconcile(canonical Document, documents map[string][]byte) []Finding {
	names := make([]string, 0, len(documents))
	for name := range documents {
		names = append(names, name)
	}
	sort.Strings(names)

	var findings []Finding
	for _, name := range names {
		for _, cite := range ScanDocument(name, documents[name]) {
			findings = append(findings, classify(canonical, cite))
		}
	}
	return findings
}

func classify(canonical Document, cite Citation) Finding {
	f := Finding{Citation: cite}

	rec, ok := canonical.Parameters[cite.ParameterID]
	if !ok {
		f.Class = ClassUnknownParameter
		f.Detail = fmt.Sprintf("parameter %s not present in canonical document", cite.ParameterID)
		return f
	}
	canonicalValue, err := rec.Value.Float64()
	if err != nil {
		f.Class = ClassDrift
		f.Detail = fmt.Sprintf("canonical value unparsable: %v", err)
		return f
	}
	lit, err := parseLiteral(cite.Literal)
	if err != nil {
		f.Class = ClassDrift
		f.Detail = fmt.Sprintf("literal unparsable: %v", err)
		return f
	}

	if !lit.agreesWith(canonicalValue) {
		f.Class = ClassDrift
		f.Delta = lit.roundDelta(canonicalValue)
		f.Detail = fmt.Sprintf("document shows %s, canonical value is %s", cite.Literal, rec.Value)
		return f
	}
	if cite.Unit != "" && rec.Unit != "" && cite.Unit != rec.Unit {
		f.Class = ClassStaleFormat
		f.Detail = fmt.Sprintf("cited unit %s differs from canonical unit %s", cite.Unit, rec.Unit)
		return f
	}
	if decl, ok := declaredDecimals(cite.Format); ok && !lit.sci && lit.decimals != decl {
		f.Class = ClassStaleFormat
		f.Detail = fmt.Sprintf("literal shows %d decimals, format %s declares %d", lit.decimals, cite.Format, decl)
		return f
	}
	if requiresSource(rec.Status) && cite.Source == "" {
		f.Class = ClassMissingCitation
		f.Detail = fmt.Sprintf("%s value cited without an experimental source annotation", rec.Status)
		return f
	}
	f.Class = ClassMatch
	return f
}

// requiresSource reports whether a parameter status implies an experimental
// anchor that citations must attribute.
func requiresSource(status string) bool {
	return status == "predicted" || status == "calibrated"
}

// declaredDecimals extracts the decimal count from a printf-style format
// spec such as %.2f.
func declaredDecimals(format string) (int, bool) {
	m := regexp.MustCompile(`^%\.(\d+)f$`).FindStringSubmatch(format)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// literalSpec captures a document literal together with its displayed
// precision, which drives the comparison granularity.
type literalSpec struct {
	value    float64
	decimals int  // digits after the decimal point (plain notation)
	digits   int  // significant digits (scientific notation)
	sci      bool // literal uses an exponent
}

func parseLiteral(s string) (literalSpec, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return literalSpec{}, err
	}
	spec := literalSpec{value: v}
	mantissa := s
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		spec.sci = true
		mantissa = s[:i]
	}
	trimmed := strings.TrimLeft(strings.TrimLeft(mantissa, "+-"), "0")
	spec.digits = len(strings.Replace(trimmed, ".", "", 1))
	if dot := strings.Index(mantissa, "."); dot >= 0 {
		spec.decimals = len(mantissa) - dot - 1
	}
	return spec, nil
}

// agreesWith reports whether the canonical value, rounded to the literal's
// displayed precision, reproduces the literal.
func (l literalSpec) agreesWith(canonical float64) bool {
	if l.sci {
		prec := l.digits - 1
		if prec < 0 {
			prec = 0
		}
		return strconv.FormatFloat(canonical, 'e', prec, 64) == strconv.FormatFloat(l.value, 'e', prec, 64)
	}
	return roundTo(canonical, l.decimals) == l.value
}

// roundDelta returns |canonical − literal| rounded at the literal's own
// precision, so a document showing 173.97 against canonical 174.0 reports a
// delta of 0.03 rather than a float artifact.
func (l literalSpec) roundDelta(canonical float64) float64 {
	d := math.Abs(canonical - l.value)
	if l.sci {
		return d
	}
	return roundTo(d, l.decimals)
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}
