// Package rules implements Tier 1 of the extraction cascade: deterministic
// marker matching over structured candidates. Cheap, high-precision,
// low-recall; no I/O beyond what the source adapters already fetched.
package rules

import (
	"strings"

	"chartrec/internal/evidence"
	"chartrec/internal/logging"
	"chartrec/internal/source"
)

// MarkerRule maps one marker (a code or keyword seen in a structured field)
// to a fact value. Exact code matches yield high confidence; substring
// matches yield medium.
type MarkerRule struct {
	FactID string // Fact this rule speaks to
	Field  string // Structured field the marker appears in; empty = any field
	Marker string // Code or keyword, matched case-insensitively
	Value  string // Fact value implied by the marker
}

// Matcher evaluates a static marker table against structured candidates.
type Matcher struct {
	byFact map[string][]MarkerRule
}

// NewMatcher builds a matcher over the given table. Rules are indexed by
// fact so per-gap matching only scans relevant rules.
func NewMatcher(table []MarkerRule) *Matcher {
	byFact := make(map[string][]MarkerRule)
	for _, r := range table {
		byFact[r.FactID] = append(byFact[r.FactID], r)
	}
	return &Matcher{byFact: byFact}
}

// Match scans structured candidates for markers speaking to the target fact.
// Document candidates are ignored; they belong to the reasoning tier.
// Deterministic and bounded: one pass over candidates times relevant rules.
func (m *Matcher) Match(targetFactID string, candidates []source.RawCandidate) []evidence.SourceObservation {
	relevant := m.byFact[targetFactID]
	if len(relevant) == 0 {
		return nil
	}

	var out []evidence.SourceObservation
	for _, cand := range candidates {
		if cand.Kind != source.KindStructured {
			continue
		}
		for field, value := range cand.Fields {
			for _, rule := range relevant {
				if rule.Field != "" && !strings.EqualFold(rule.Field, field) {
					continue
				}
				conf, ok := matchConfidence(value, rule.Marker)
				if !ok {
					continue
				}
				out = append(out, evidence.NewObservation(
					evidence.SourceStructuredField,
					cand.ID,
					rule.Value,
					evidence.MethodRule,
					conf,
					field+"="+value,
				))
			}
		}
	}

	if len(out) > 0 {
		logging.Get(logging.CategoryRules).Debug("matched %d observation(s) for %s", len(out), targetFactID)
	}
	return out
}

// matchConfidence compares a field value against a marker. Exact match is
// high confidence, substring match medium, otherwise no match.
func matchConfidence(fieldValue, marker string) (evidence.Confidence, bool) {
	v := strings.ToLower(strings.TrimSpace(fieldValue))
	mk := strings.ToLower(strings.TrimSpace(marker))
	if mk == "" {
		return "", false
	}
	if v == mk {
		return evidence.ConfidenceHigh, true
	}
	if strings.Contains(v, mk) {
		return evidence.ConfidenceMedium, true
	}
	return "", false
}

// DefaultMarkerTable returns the built-in marker table. The domain taxonomy
// is supplied externally in production; these seed rules cover the common
// structured markers so a bare deployment still resolves the frequent facts.
func DefaultMarkerTable() []MarkerRule {
	return []MarkerRule{
		// Morphology codes imply histology directly.
		{FactID: "histology", Field: "morphology_code", Marker: "8140/3", Value: "adenocarcinoma"},
		{FactID: "histology", Field: "morphology_code", Marker: "8070/3", Value: "squamous cell carcinoma"},
		{FactID: "histology", Field: "morphology_code", Marker: "8520/3", Value: "lobular carcinoma"},
		{FactID: "histology", Field: "diagnosis_text", Marker: "adenocarcinoma", Value: "adenocarcinoma"},
		{FactID: "histology", Field: "diagnosis_text", Marker: "squamous", Value: "squamous cell carcinoma"},

		// Receptor status markers.
		{FactID: "er_status", Field: "receptor_panel", Marker: "er positive", Value: "positive"},
		{FactID: "er_status", Field: "receptor_panel", Marker: "er negative", Value: "negative"},
		{FactID: "her2_status", Field: "receptor_panel", Marker: "her2 amplified", Value: "positive"},
		{FactID: "her2_status", Field: "receptor_panel", Marker: "her2 not amplified", Value: "negative"},

		// Laterality from structured site fields.
		{FactID: "laterality", Field: "site_text", Marker: "left", Value: "left"},
		{FactID: "laterality", Field: "site_text", Marker: "right", Value: "right"},
		{FactID: "laterality", Field: "site_text", Marker: "bilateral", Value: "bilateral"},

		// Metastasis markers.
		{FactID: "metastatic_status", Field: "stage_group", Marker: "iv", Value: "metastatic"},
		{FactID: "metastatic_status", Field: "diagnosis_text", Marker: "metastatic", Value: "metastatic"},
	}
}
