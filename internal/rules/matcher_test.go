package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartrec/internal/evidence"
	"chartrec/internal/source"
)

func structured(id string, field, value string) source.RawCandidate {
	return source.RawCandidate{
		Kind:   source.KindStructured,
		ID:     id,
		Fields: map[string]string{field: value},
	}
}

func TestExactCodeMatchIsHighConfidence(t *testing.T) {
	m := NewMatcher(DefaultMarkerTable())

	obs := m.Match("histology", []source.RawCandidate{
		structured("row-1", "morphology_code", "8140/3"),
	})

	require.Len(t, obs, 1)
	assert.Equal(t, "adenocarcinoma", obs[0].ExtractedValue)
	assert.Equal(t, evidence.ConfidenceHigh, obs[0].Confidence)
	assert.Equal(t, evidence.MethodRule, obs[0].Method)
	assert.Equal(t, evidence.SourceStructuredField, obs[0].SourceType)
	assert.Equal(t, "row-1", obs[0].SourceID)
}

func TestSubstringMatchIsMediumConfidence(t *testing.T) {
	m := NewMatcher(DefaultMarkerTable())

	obs := m.Match("histology", []source.RawCandidate{
		structured("row-2", "diagnosis_text", "invasive adenocarcinoma of the colon"),
	})

	require.Len(t, obs, 1)
	assert.Equal(t, evidence.ConfidenceMedium, obs[0].Confidence)
}

func TestNoMarkerNoObservation(t *testing.T) {
	m := NewMatcher(DefaultMarkerTable())

	obs := m.Match("histology", []source.RawCandidate{
		structured("row-3", "diagnosis_text", "benign fibroadenoma"),
	})
	assert.Empty(t, obs)

	// Unknown fact: no rules indexed, nothing to scan.
	obs = m.Match("unknown_fact", []source.RawCandidate{
		structured("row-4", "diagnosis_text", "adenocarcinoma"),
	})
	assert.Empty(t, obs)
}

func TestDocumentCandidatesIgnored(t *testing.T) {
	m := NewMatcher(DefaultMarkerTable())

	obs := m.Match("histology", []source.RawCandidate{
		{Kind: source.KindDocument, ID: "doc-1", Text: "adenocarcinoma everywhere"},
	})
	assert.Empty(t, obs, "document text belongs to the reasoning tier")
}

func TestFieldScopedRuleRespectsField(t *testing.T) {
	m := NewMatcher([]MarkerRule{
		{FactID: "laterality", Field: "site_text", Marker: "left", Value: "left"},
	})

	obs := m.Match("laterality", []source.RawCandidate{
		structured("row-5", "diagnosis_text", "left breast mass"),
	})
	assert.Empty(t, obs, "rule scoped to site_text must not fire on diagnosis_text")

	obs = m.Match("laterality", []source.RawCandidate{
		structured("row-6", "site_text", "LEFT BREAST"),
	})
	require.Len(t, obs, 1)
	assert.Equal(t, "left", obs[0].ExtractedValue)
}

func TestMatchIsDeterministic(t *testing.T) {
	m := NewMatcher(DefaultMarkerTable())
	cands := []source.RawCandidate{
		structured("row-7", "morphology_code", "8140/3"),
		structured("row-8", "diagnosis_text", "adenocarcinoma"),
	}

	first := m.Match("histology", cands)
	second := m.Match("histology", cands)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ExtractedValue, second[i].ExtractedValue)
		assert.Equal(t, first[i].Confidence, second[i].Confidence)
		assert.Equal(t, first[i].SourceID, second[i].SourceID)
	}
}
