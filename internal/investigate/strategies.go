// Package investigate implements Tier 3 of the cascade and the gap
// investigation engine: when the cheaper tiers produce nothing usable, ranked
// alternative discovery strategies alter the source criteria and re-enter the
// cascade, with every attempt recorded for audit.
package investigate

import (
	"sort"
	"time"

	"chartrec/internal/evidence"
	"chartrec/internal/source"
)

// Strategy is one alternative way to find evidence for a gap. Confidence is
// a static, pre-annotated estimate used only for ranking; it never leaks into
// the confidence of evidence the strategy finds.
type Strategy struct {
	Name        string
	Description string
	Confidence  float64
	Alter       func(source.Criteria) source.Criteria
}

// adjacentCategories generalizes the "try the next-closest document category"
// fallback: each category names the categories most likely to restate its
// facts.
var adjacentCategories = map[string][]string{
	"pathology":         {"oncology_note", "surgical_note"},
	"radiology":         {"oncology_note", "discharge_summary"},
	"oncology_note":     {"pathology", "discharge_summary"},
	"surgical_note":     {"pathology", "discharge_summary"},
	"discharge_summary": {"oncology_note"},
}

// fieldSynonyms generalizes the "try field name A, then B, then C" fallback
// chains: semantically-equivalent structured fields under different names.
var fieldSynonyms = map[string][]string{
	"diagnosis_text":  {"dx_text", "final_diagnosis", "clinical_diagnosis"},
	"morphology_code": {"histology_code", "icd_o_morphology"},
	"site_text":       {"primary_site_text", "topography_text"},
	"stage_group":     {"ajcc_stage", "summary_stage"},
	"receptor_panel":  {"biomarker_panel", "ihc_results"},
}

func expandCategories(c source.Criteria) source.Criteria {
	out := c
	seen := make(map[string]bool, len(c.DocumentCategories))
	expanded := make([]string, 0, len(c.DocumentCategories)*2)
	for _, cat := range c.DocumentCategories {
		if !seen[cat] {
			seen[cat] = true
			expanded = append(expanded, cat)
		}
		for _, adj := range adjacentCategories[cat] {
			if !seen[adj] {
				seen[adj] = true
				expanded = append(expanded, adj)
			}
		}
	}
	// No categories means the document adapter already searches everything;
	// leave it that way.
	out.DocumentCategories = expanded
	return out
}

func expandFields(c source.Criteria) source.Criteria {
	out := c
	seen := make(map[string]bool, len(c.Fields))
	expanded := make([]string, 0, len(c.Fields)*2)
	for _, f := range c.Fields {
		if !seen[f] {
			seen[f] = true
			expanded = append(expanded, f)
		}
		for _, syn := range fieldSynonyms[f] {
			if !seen[syn] {
				seen[syn] = true
				expanded = append(expanded, syn)
			}
		}
	}
	out.Fields = expanded
	return out
}

func widenWindow(c source.Criteria) source.Criteria {
	return c.WithLookback(5 * 365 * 24 * time.Hour)
}

func coarsenLinkage(c source.Criteria) source.Criteria {
	out := c
	out.Linkage = source.LinkageSubject
	return out
}

func broadenForConflict(c source.Criteria) source.Criteria {
	return coarsenLinkage(expandCategories(expandFields(c)))
}

// strategyTable maps a gap type to its candidate strategies. Order here is
// irrelevant; the engine ranks by confidence.
var strategyTable = map[evidence.GapType][]Strategy{
	evidence.GapMissingFact: {
		{Name: "alternate_structured_field", Confidence: 0.70, Alter: expandFields,
			Description: "query semantically-equivalent structured fields under alternate names"},
		{Name: "adjacent_document_categories", Confidence: 0.60, Alter: expandCategories,
			Description: "search document categories adjacent to the ones already tried"},
		{Name: "expanded_time_window", Confidence: 0.50, Alter: widenWindow,
			Description: "widen the temporal window to five years before the reference date"},
		{Name: "coarser_linkage", Confidence: 0.40, Alter: coarsenLinkage,
			Description: "search at subject granularity instead of encounter linkage"},
	},
	evidence.GapFailedValidation: {
		{Name: "conflict_resolution", Confidence: 0.65, Alter: broadenForConflict,
			Description: "re-extract with broadened fields, categories and linkage to resolve the implausible value"},
		{Name: "adjacent_document_categories", Confidence: 0.60, Alter: expandCategories,
			Description: "search document categories adjacent to the ones already tried"},
		{Name: "expanded_time_window", Confidence: 0.50, Alter: widenWindow,
			Description: "widen the temporal window to five years before the reference date"},
	},
	evidence.GapConflict: {
		{Name: "conflict_resolution", Confidence: 0.65, Alter: broadenForConflict,
			Description: "re-extract with broadened fields, categories and linkage to break the tie"},
		{Name: "expanded_time_window", Confidence: 0.50, Alter: widenWindow,
			Description: "widen the temporal window to five years before the reference date"},
		{Name: "coarser_linkage", Confidence: 0.40, Alter: coarsenLinkage,
			Description: "search at subject granularity instead of encounter linkage"},
	},
}

// StrategiesFor returns the strategies for a gap type in descending
// confidence order. The returned slice is a copy; callers may truncate it.
func StrategiesFor(gt evidence.GapType) []Strategy {
	src := strategyTable[gt]
	out := make([]Strategy, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}
