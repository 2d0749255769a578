// Package source defines the adapter boundary to external clinical data
// stores. The core treats adapters as opaque, possibly slow, possibly
// empty-returning dependencies: every query carries a context, empty results
// are normal, and partial schemas are tolerated.
package source

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates an adapter I/O failure. Tiers treat it as
// "no evidence produced", never as a fatal error.
var ErrUnavailable = errors.New("source unavailable")

// CandidateKind distinguishes structured rows from document text.
type CandidateKind string

const (
	KindStructured CandidateKind = "structured"
	KindDocument   CandidateKind = "document"
)

// Linkage is the granularity at which candidates are tied to the subject.
type Linkage string

const (
	LinkageEncounter Linkage = "encounter" // Tied to the diagnosis encounter
	LinkageSubject   Linkage = "subject"   // Any record for the subject
)

// Criteria parameterizes one adapter query. Investigation strategies work by
// altering a copy of the criteria and re-entering the cheaper tiers, so every
// knob a strategy may turn lives here.
type Criteria struct {
	SubjectID          string    `json:"subject_id"`
	TargetFactID       string    `json:"target_fact_id"`
	Fields             []string  `json:"fields,omitempty"`              // Structured field names to read
	DocumentCategories []string  `json:"document_categories,omitempty"` // e.g. pathology, radiology
	Since              time.Time `json:"since,omitempty"`
	Until              time.Time `json:"until,omitempty"`
	Linkage            Linkage   `json:"linkage,omitempty"`
	Limit              int       `json:"limit,omitempty"`
}

// WithLookback returns a copy of c whose window is widened to d before Until.
func (c Criteria) WithLookback(d time.Duration) Criteria {
	out := c
	if out.Until.IsZero() {
		out.Until = time.Now()
	}
	out.Since = out.Until.Add(-d)
	return out
}

// RawCandidate is one piece of raw evidence returned by an adapter.
// Structured candidates carry Fields; document candidates carry Text.
type RawCandidate struct {
	Kind     CandidateKind     `json:"kind"`
	ID       string            `json:"id"` // Opaque external reference
	Fields   map[string]string `json:"fields,omitempty"`
	Text     string            `json:"text,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Adapter is the consumed interface to one external store.
type Adapter interface {
	// Name identifies the adapter in logs and provenance records.
	Name() string
	// Query returns raw candidates matching the criteria. An empty slice is a
	// normal outcome, not an error.
	Query(ctx context.Context, c Criteria) ([]RawCandidate, error)
}

// Set groups the adapters available to a run, keyed by kind of evidence they
// produce. Queries against the set fan out in the pipeline, not here.
type Set struct {
	Structured []Adapter
	Document   []Adapter
}

// All returns every adapter in the set, structured first.
func (s Set) All() []Adapter {
	out := make([]Adapter, 0, len(s.Structured)+len(s.Document))
	out = append(out, s.Structured...)
	out = append(out, s.Document...)
	return out
}
