package evidence

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is one fact about the subject together with every source that spoke
// to it and the adjudication that resolved them. Records are never deleted,
// only superseded: appending a source after finalization clears the stale
// adjudication and the fact goes back through the adjudicator.
type Record struct {
	FactID       string              `json:"fact_id"`
	Value        string              `json:"value,omitempty"` // Adjudicated value; empty until adjudicated or single-sourced
	Sources      []SourceObservation `json:"sources"`
	Adjudication *Adjudication       `json:"adjudication,omitempty"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// NewRecord creates an empty record for a fact whose gap was just identified.
func NewRecord(factID string) *Record {
	return &Record{FactID: factID, UpdatedAt: time.Now()}
}

// NewObservation builds a SourceObservation with a fresh ID and timestamp,
// truncating the excerpt to the audit bound.
func NewObservation(st SourceType, sourceID, value string, method ExtractionMethod, conf Confidence, excerpt string) SourceObservation {
	if len(excerpt) > MaxExcerptLen {
		excerpt = excerpt[:MaxExcerptLen]
	}
	return SourceObservation{
		ID:             uuid.NewString(),
		SourceType:     st,
		SourceID:       sourceID,
		ExtractedValue: value,
		Method:         method,
		Confidence:     conf,
		RawExcerpt:     excerpt,
		ExtractedAt:    time.Now(),
	}
}

// AppendSource adds an observation in discovery order. A single-source record
// takes that source's value directly; a second differing source invalidates
// any prior adjudication so the record is re-adjudicated.
func (r *Record) AppendSource(obs SourceObservation) {
	r.Sources = append(r.Sources, obs)
	r.UpdatedAt = time.Now()

	if len(r.Sources) == 1 {
		r.Value = obs.ExtractedValue
		return
	}

	// New evidence after finalization supersedes the old adjudication.
	if r.Adjudication != nil {
		r.Adjudication = nil
		r.Value = ""
	}
}

// HasConflict reports whether at least two sources disagree on the
// normalized value.
func (r *Record) HasConflict() bool {
	if len(r.Sources) < 2 {
		return false
	}
	first := r.Sources[0].NormalizedValue()
	for _, s := range r.Sources[1:] {
		if s.NormalizedValue() != first {
			return true
		}
	}
	return false
}

// NeedsAdjudication reports whether the record must pass through the
// adjudicator before its value can be trusted.
func (r *Record) NeedsAdjudication() bool {
	return len(r.Sources) >= 2 && r.Adjudication == nil
}

// Finalize installs the adjudication and promotes its final value.
func (r *Record) Finalize(adj Adjudication) {
	r.Adjudication = &adj
	r.Value = adj.FinalValue
	r.UpdatedAt = time.Now()
}

// BestConfidence returns the highest declared confidence across sources,
// ConfidenceInsufficient when there are none.
func (r *Record) BestConfidence() Confidence {
	best := ConfidenceInsufficient
	for _, s := range r.Sources {
		if s.Confidence.Rank() > best.Rank() {
			best = s.Confidence
		}
	}
	return best
}

// CheckInvariant verifies the conflict invariant: two or more disagreeing
// sources require a non-nil adjudication. Returns nil when the record is
// internally consistent.
func (r *Record) CheckInvariant() error {
	if r.HasConflict() && r.Adjudication == nil {
		return fmt.Errorf("record %s: %d conflicting sources without adjudication", r.FactID, len(r.Sources))
	}
	return nil
}

// NewGap creates an open gap for a fact with a fresh ID.
func NewGap(gt GapType, targetFactID string, priority GapPriority) *Gap {
	return &Gap{
		ID:           uuid.NewString(),
		Type:         gt,
		TargetFactID: targetFactID,
		Priority:     priority,
		Status:       GapOpen,
	}
}
