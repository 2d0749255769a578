package pipeline

import "fmt"

// Phase is one step of the per-subject pipeline. Phases run in declaration
// order; a checkpoint is published after each one completes.
type Phase string

const (
	PhaseDiscovery    Phase = "discovery"    // Enumerate target facts, open gaps
	PhaseExtraction   Phase = "extraction"   // Run the tier cascade per gap
	PhaseAdjudication Phase = "adjudication" // Resolve multi-source records
	PhaseValidation   Phase = "validation"   // Cross-fact plausibility, re-entry
	PhaseReport       Phase = "report"       // Emit artifact and summary
)

// Order is the canonical phase sequence.
var Order = []Phase{PhaseDiscovery, PhaseExtraction, PhaseAdjudication, PhaseValidation, PhaseReport}

var phaseIndex = func() map[Phase]int {
	m := make(map[Phase]int, len(Order))
	for i, p := range Order {
		m[p] = i
	}
	return m
}()

// Valid reports whether p names a known phase.
func (p Phase) Valid() bool {
	_, ok := phaseIndex[p]
	return ok
}

// Index returns p's position in the canonical order, -1 if unknown.
func (p Phase) Index() int {
	if i, ok := phaseIndex[p]; ok {
		return i
	}
	return -1
}

// ParsePhase converts a CLI string into a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q (valid: %v)", s, Order)
	}
	return p, nil
}
