package investigate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartrec/internal/evidence"
	"chartrec/internal/source"
)

func TestExpandCategoriesDeduplicates(t *testing.T) {
	c := source.Criteria{DocumentCategories: []string{"pathology", "oncology_note"}}
	out := expandCategories(c)

	seen := make(map[string]int)
	for _, cat := range out.DocumentCategories {
		seen[cat]++
	}
	for cat, n := range seen {
		assert.Equal(t, 1, n, "category %s duplicated", cat)
	}
	assert.Contains(t, out.DocumentCategories, "surgical_note")
	assert.Contains(t, out.DocumentCategories, "discharge_summary")
}

func TestExpandFieldsKeepsOriginalsFirst(t *testing.T) {
	c := source.Criteria{Fields: []string{"diagnosis_text"}}
	out := expandFields(c)

	require.NotEmpty(t, out.Fields)
	assert.Equal(t, "diagnosis_text", out.Fields[0])
	assert.Contains(t, out.Fields, "dx_text")
	assert.Contains(t, out.Fields, "final_diagnosis")
}

func TestWidenWindowFiveYears(t *testing.T) {
	until := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	c := source.Criteria{Since: until.AddDate(-1, 0, 0), Until: until}
	out := widenWindow(c)

	assert.Equal(t, until, out.Until)
	assert.True(t, out.Since.Before(until.AddDate(-4, 0, 0)), "window should span roughly five years")
}

func TestCoarsenLinkage(t *testing.T) {
	c := source.Criteria{Linkage: source.LinkageEncounter}
	assert.Equal(t, source.LinkageSubject, coarsenLinkage(c).Linkage)
}

func TestStrategiesForReturnsCopy(t *testing.T) {
	first := StrategiesFor(evidence.GapMissingFact)
	require.NotEmpty(t, first)
	first[0].Name = "clobbered"

	second := StrategiesFor(evidence.GapMissingFact)
	assert.NotEqual(t, "clobbered", second[0].Name)
}

func TestEveryGapTypeHasStrategies(t *testing.T) {
	for _, gt := range []evidence.GapType{evidence.GapMissingFact, evidence.GapFailedValidation, evidence.GapConflict} {
		assert.NotEmpty(t, StrategiesFor(gt), "gap type %s has no strategies", gt)
	}
}
