package adjudicate

import (
	"fmt"

	"chartrec/internal/evidence"
	"chartrec/internal/logging"
)

// PlausibilityRule declares one domain-impossible value combination: when the
// target fact holds one of TargetValues AND the related fact holds one of
// RelatedValues, the combination is invalid. Rules are symmetric; the
// validator checks whichever side was just adjudicated.
type PlausibilityRule struct {
	ID            string
	TargetFactID  string
	TargetValues  []string
	RelatedFactID string
	RelatedValues []string
	Explanation   string
}

// Validator cross-checks adjudicated facts against the static rule table.
// Independent of the extraction tiers: a violation never depends on how a
// value was extracted, only on what it is.
type Validator struct {
	rules []PlausibilityRule
}

// NewValidator builds a validator over the given rule table.
func NewValidator(rules []PlausibilityRule) *Validator {
	return &Validator{rules: rules}
}

// Validate checks one adjudicated fact value against every rule whose
// trigger set intersects the currently-known facts. relatedFacts maps fact
// IDs to their current adjudicated values.
func (v *Validator) Validate(factID, value string, relatedFacts map[string]string) []evidence.PlausibilityViolation {
	var out []evidence.PlausibilityViolation
	norm := evidence.NormalizeValue(value)

	for _, r := range v.rules {
		var otherFact string
		var myValues, otherValues []string

		switch factID {
		case r.TargetFactID:
			otherFact, myValues, otherValues = r.RelatedFactID, r.TargetValues, r.RelatedValues
		case r.RelatedFactID:
			otherFact, myValues, otherValues = r.TargetFactID, r.RelatedValues, r.TargetValues
		default:
			continue
		}

		if !containsNormalized(myValues, norm) {
			continue
		}
		otherValue, known := relatedFacts[otherFact]
		if !known || !containsNormalized(otherValues, evidence.NormalizeValue(otherValue)) {
			continue
		}

		out = append(out, evidence.PlausibilityViolation{
			RuleID:           r.ID,
			ConflictingFacts: []string{factID, otherFact},
			Explanation: fmt.Sprintf("%s: %s=%q cannot co-occur with %s=%q",
				r.Explanation, factID, value, otherFact, otherValue),
		})
	}

	if len(out) > 0 {
		logging.Get(logging.CategoryAdjudication).Warn("plausibility: %d violation(s) for %s=%q", len(out), factID, value)
	}
	return out
}

func containsNormalized(values []string, norm string) bool {
	for _, v := range values {
		if evidence.NormalizeValue(v) == norm {
			return true
		}
	}
	return false
}

// DefaultPlausibilityRules returns the built-in invariant table. The full
// table is domain-supplied in production; these cover unambiguous
// impossibilities so the validator is never a no-op.
func DefaultPlausibilityRules() []PlausibilityRule {
	return []PlausibilityRule{
		{
			ID:            "PL-001",
			TargetFactID:  "stage_group",
			TargetValues:  []string{"0", "in situ"},
			RelatedFactID: "metastatic_status",
			RelatedValues: []string{"metastatic"},
			Explanation:   "in situ disease cannot be metastatic",
		},
		{
			ID:            "PL-002",
			TargetFactID:  "primary_site",
			TargetValues:  []string{"prostate", "pancreas", "bladder"},
			RelatedFactID: "laterality",
			RelatedValues: []string{"left", "right", "bilateral"},
			Explanation:   "laterality does not apply to an unpaired organ",
		},
		{
			ID:            "PL-003",
			TargetFactID:  "primary_site",
			TargetValues:  []string{"prostate"},
			RelatedFactID: "er_status",
			RelatedValues: []string{"positive", "negative"},
			Explanation:   "hormone receptor panel is not reported for this site",
		},
	}
}
