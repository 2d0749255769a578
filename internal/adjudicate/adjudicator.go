// Package adjudicate resolves multiple candidate values for one fact into a
// single final value with a recorded rationale, and cross-checks adjudicated
// values against domain plausibility invariants.
package adjudicate

import (
	"fmt"
	"strings"
	"time"

	"chartrec/internal/evidence"
	"chartrec/internal/logging"
)

// Adjudication methods recorded on the output.
const (
	MethodUnanimous = "unanimous"
	MethodPriority  = "priority"
	MethodRecency   = "recency"
)

// AdjudicatedBy identifies this engine in the audit record, as opposed to a
// human reviewer amending the record later.
const AdjudicatedBy = "chartrec-adjudicator"

// sourceTypePriority is the static source-priority ordering: an objective
// structured measurement outranks narrative document text, which outranks an
// inferred value.
var sourceTypePriority = map[evidence.SourceType]int{
	evidence.SourceStructuredField: 3,
	evidence.SourceDocumentText:    2,
	evidence.SourceInferred:        1,
}

// Adjudicator applies the tie-break policy: priority, then declared
// confidence, then recency. Ties surviving all three resolve to the most
// recently extracted source and flag manual review.
type Adjudicator struct{}

// New returns an Adjudicator.
func New() *Adjudicator { return &Adjudicator{} }

// Adjudicate resolves an ordered sequence of observations for one fact.
// The rationale always names the sources compared.
func (a *Adjudicator) Adjudicate(sources []evidence.SourceObservation) (evidence.Adjudication, error) {
	if len(sources) == 0 {
		return evidence.Adjudication{}, fmt.Errorf("cannot adjudicate zero sources")
	}

	log := logging.Get(logging.CategoryAdjudication)

	if allAgree(sources) {
		adj := evidence.Adjudication{
			FinalValue:    sources[0].ExtractedValue,
			Method:        MethodUnanimous,
			Rationale:     fmt.Sprintf("All %d source(s) agree on %q: %s", len(sources), sources[0].ExtractedValue, describeSources(sources)),
			AdjudicatedBy: AdjudicatedBy,
			AdjudicatedAt: time.Now(),
		}
		log.Debug("unanimous adjudication: %s", adj.FinalValue)
		return adj, nil
	}

	winner, contested, tied := pickWinner(sources)

	adj := evidence.Adjudication{
		FinalValue:    winner.ExtractedValue,
		Method:        MethodPriority,
		AdjudicatedBy: AdjudicatedBy,
		AdjudicatedAt: time.Now(),
	}

	switch {
	case tied:
		// Identical priority and confidence: recency decides, a human confirms.
		adj.Method = MethodRecency
		adj.RequiresManualReview = true
		adj.Rationale = fmt.Sprintf(
			"Sources disagree with identical priority and confidence; most recent extraction wins: chose %q from %s over %s",
			winner.ExtractedValue, describeSource(winner), describeSources(contested))
	case !winner.Confidence.AtLeast(evidence.ConfidenceMedium):
		adj.RequiresManualReview = true
		adj.Rationale = fmt.Sprintf(
			"Sources disagree; highest-priority source %s wins with %q but declares only %s confidence: compared against %s",
			describeSource(winner), winner.ExtractedValue, winner.Confidence, describeSources(contested))
	default:
		adj.Rationale = fmt.Sprintf(
			"Sources disagree; %s outranks %s: chose %q",
			describeSource(winner), describeSources(contested), winner.ExtractedValue)
	}

	log.Debug("priority adjudication: %s (manual_review=%v)", adj.FinalValue, adj.RequiresManualReview)
	return adj, nil
}

// pickWinner applies priority, then declared confidence, then recency.
// contested is every losing source; tied reports whether the final decision
// fell through to recency.
func pickWinner(sources []evidence.SourceObservation) (winner evidence.SourceObservation, contested []evidence.SourceObservation, tied bool) {
	winner = sources[0]
	for _, s := range sources[1:] {
		switch compare(s, winner) {
		case 1:
			winner = s
		}
	}

	// A competing source of equal priority and confidence but a different
	// value makes the decision a recency call.
	for _, s := range sources {
		if s.ID == winner.ID {
			continue
		}
		contested = append(contested, s)
		if s.NormalizedValue() != winner.NormalizedValue() &&
			sourceTypePriority[s.SourceType] == sourceTypePriority[winner.SourceType] &&
			s.Confidence.Rank() == winner.Confidence.Rank() {
			tied = true
		}
	}
	return winner, contested, tied
}

// compare returns 1 when a outranks b, -1 when b outranks a, deciding by
// priority, then confidence, then recency. A higher-tier extraction only
// outranks on confidence when its declared confidence actually is higher;
// the tier itself carries no weight.
func compare(a, b evidence.SourceObservation) int {
	pa, pb := sourceTypePriority[a.SourceType], sourceTypePriority[b.SourceType]
	if pa != pb {
		if pa > pb {
			return 1
		}
		return -1
	}
	if ra, rb := a.Confidence.Rank(), b.Confidence.Rank(); ra != rb {
		if ra > rb {
			return 1
		}
		return -1
	}
	if a.ExtractedAt.After(b.ExtractedAt) {
		return 1
	}
	return -1
}

func allAgree(sources []evidence.SourceObservation) bool {
	first := sources[0].NormalizedValue()
	for _, s := range sources[1:] {
		if s.NormalizedValue() != first {
			return false
		}
	}
	return true
}

func describeSource(s evidence.SourceObservation) string {
	return fmt.Sprintf("%s %s (%s, %s confidence)", s.SourceType, s.SourceID, s.Method, s.Confidence)
}

func describeSources(sources []evidence.SourceObservation) string {
	parts := make([]string, 0, len(sources))
	for _, s := range sources {
		parts = append(parts, fmt.Sprintf("%s=%q", describeSource(s), s.ExtractedValue))
	}
	return strings.Join(parts, ", ")
}
