// Package evidence provides the core data model for chartrec: adjudicated
// facts with full source provenance, the gaps that track missing or disputed
// facts, and the audit records produced while investigating them.
// This package is foundational and must not import other chartrec packages.
package evidence

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// ORDERED ENUMS
// =============================================================================

// Confidence is the ordered confidence scale attached to every observation.
type Confidence string

const (
	ConfidenceInsufficient Confidence = "insufficient"
	ConfidenceLow          Confidence = "low"
	ConfidenceMedium       Confidence = "medium"
	ConfidenceHigh         Confidence = "high"
)

// confidenceRank orders the scale for comparisons. Unknown values rank below
// insufficient so a malformed confidence can never satisfy a threshold.
var confidenceRank = map[Confidence]int{
	ConfidenceInsufficient: 1,
	ConfidenceLow:          2,
	ConfidenceMedium:       3,
	ConfidenceHigh:         4,
}

// Rank returns the numeric position of c on the ordered scale, 0 if unknown.
func (c Confidence) Rank() int { return confidenceRank[c] }

// AtLeast reports whether c meets or exceeds the threshold.
func (c Confidence) AtLeast(threshold Confidence) bool {
	return c.Rank() >= threshold.Rank()
}

// Valid reports whether c is one of the declared enum values.
func (c Confidence) Valid() bool { return c.Rank() > 0 }

// ParseConfidence converts a raw string (e.g. from an oracle response) into a
// Confidence, case-insensitively.
func ParseConfidence(s string) (Confidence, error) {
	c := Confidence(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown confidence value %q", s)
	}
	return c, nil
}

// SourceType classifies where an observation came from.
type SourceType string

const (
	SourceStructuredField SourceType = "structured_field"
	SourceDocumentText    SourceType = "document_text"
	SourceInferred        SourceType = "inferred"
)

// ExtractionMethod records which tier produced an observation.
type ExtractionMethod string

const (
	MethodRule          ExtractionMethod = "rule"
	MethodReasoning     ExtractionMethod = "reasoning"
	MethodInvestigation ExtractionMethod = "investigation"
	MethodManual        ExtractionMethod = "manual"
)

// GapStatus is the lifecycle state of a Gap. Terminal states are
// GapResolved, GapFailed and GapManualReview.
type GapStatus string

const (
	GapOpen          GapStatus = "open"
	GapInvestigating GapStatus = "investigating"
	GapResolved      GapStatus = "resolved"
	GapFailed        GapStatus = "failed"
	GapManualReview  GapStatus = "requires_manual_review"
)

// Terminal reports whether s is a terminal gap status.
func (s GapStatus) Terminal() bool {
	return s == GapResolved || s == GapFailed || s == GapManualReview
}

// GapPriority orders gaps for investigation and decides whether an exhausted
// gap fails silently or is escalated to manual review.
type GapPriority string

const (
	PriorityLow      GapPriority = "low"
	PriorityRoutine  GapPriority = "routine"
	PriorityHigh     GapPriority = "high"
	PriorityCritical GapPriority = "critical"
)

var priorityRank = map[GapPriority]int{
	PriorityLow:      1,
	PriorityRoutine:  2,
	PriorityHigh:     3,
	PriorityCritical: 4,
}

// Rank returns the numeric position of p, 0 if unknown.
func (p GapPriority) Rank() int { return priorityRank[p] }

// AtLeast reports whether p meets or exceeds the threshold.
func (p GapPriority) AtLeast(threshold GapPriority) bool {
	return p.Rank() >= threshold.Rank()
}

// GapType classifies why a gap exists; the investigation strategy table is
// keyed by this type.
type GapType string

const (
	GapMissingFact      GapType = "missing_fact"      // No tier produced evidence yet
	GapFailedValidation GapType = "failed_validation" // Evidence exists but failed plausibility
	GapConflict         GapType = "conflict"          // Sources disagree beyond adjudication
)

// AttemptOutcome records how a single investigation strategy ended.
type AttemptOutcome string

const (
	OutcomeFoundEvidence AttemptOutcome = "found_evidence"
	OutcomeNoEvidence    AttemptOutcome = "no_evidence"
	OutcomeError         AttemptOutcome = "error"
)

// =============================================================================
// CORE RECORDS
// =============================================================================

// MaxExcerptLen bounds the raw excerpt retained for audit on an observation.
const MaxExcerptLen = 512

// SourceObservation is one candidate value for a fact, from one source.
type SourceObservation struct {
	ID             string           `json:"id"`
	SourceType     SourceType       `json:"source_type"`
	SourceID       string           `json:"source_id"` // Opaque external reference
	ExtractedValue string           `json:"extracted_value"`
	Method         ExtractionMethod `json:"extraction_method"`
	Confidence     Confidence       `json:"confidence"`
	RawExcerpt     string           `json:"raw_excerpt,omitempty"`
	ExtractedAt    time.Time        `json:"extracted_at"`
}

// NormalizedValue returns the extracted value in canonical comparison form.
// Two observations agree when their normalized values are equal.
func (o SourceObservation) NormalizedValue() string {
	return NormalizeValue(o.ExtractedValue)
}

// NormalizeValue canonicalizes a fact value for comparison: trimmed,
// lower-cased, internal whitespace collapsed.
func NormalizeValue(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}

// Adjudication records how multiple candidate values were resolved into one.
type Adjudication struct {
	FinalValue           string                 `json:"final_value"`
	Method               string                 `json:"method"` // unanimous, priority, recency
	Rationale            string                 `json:"rationale"`
	AdjudicatedBy        string                 `json:"adjudicated_by"`
	AdjudicatedAt        time.Time              `json:"adjudicated_at"`
	RequiresManualReview bool                    `json:"requires_manual_review"`
	Violations           []PlausibilityViolation `json:"violations,omitempty"`
}

// PlausibilityViolation is produced by the plausibility validator when an
// adjudicated value co-occurs with a domain-impossible related fact. It is
// attached to the adjudication as a warning, never persisted on its own.
type PlausibilityViolation struct {
	RuleID           string   `json:"rule_id"`
	ConflictingFacts []string `json:"conflicting_facts"`
	Explanation      string   `json:"explanation"`
}

// AttemptRecord is the immutable audit entry for one investigation strategy
// execution. The ordered sequence on a Gap is the audit trail.
type AttemptRecord struct {
	StrategyName       string              `json:"strategy_name"`
	ConfidenceEstimate float64             `json:"confidence_estimate"`
	Outcome            AttemptOutcome      `json:"outcome"`
	EvidenceFound      []SourceObservation `json:"evidence_found,omitempty"`
	Timestamp          time.Time           `json:"timestamp"`
}

// Gap tracks a fact that is missing or has failed validation.
type Gap struct {
	ID           string          `json:"id"`
	Type         GapType         `json:"gap_type"`
	TargetFactID string          `json:"target_fact_id"`
	Priority     GapPriority     `json:"priority"`
	Status       GapStatus       `json:"status"`
	Attempts     []AttemptRecord `json:"attempted_strategies"`
}

// RecordAttempt appends an attempt to the audit trail. Attempts are
// append-only; existing entries are never modified.
func (g *Gap) RecordAttempt(a AttemptRecord) {
	g.Attempts = append(g.Attempts, a)
}
