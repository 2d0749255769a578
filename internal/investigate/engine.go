package investigate

import (
	"context"
	"errors"
	"time"

	"chartrec/internal/evidence"
	"chartrec/internal/logging"
	"chartrec/internal/source"
)

// ErrExhausted indicates that every alternative strategy for a gap was tried
// without finding usable evidence. Non-fatal to the run: the gap lands in a
// terminal status and processing continues.
var ErrExhausted = errors.New("all investigation strategies exhausted")

// DefaultMaxAttempts bounds strategy executions per gap.
const DefaultMaxAttempts = 3

// Resolver re-enters the cheaper tiers with altered criteria. Implemented by
// the cascade; declared here so the engine stays free of that dependency.
type Resolver interface {
	TryStrategy(ctx context.Context, gap *evidence.Gap, c source.Criteria) ([]evidence.SourceObservation, error)
}

// Suggestion is one ranked alternative surfaced for operator visibility,
// returned even when no strategy is executed.
type Suggestion struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// Outcome is the result of investigating one gap.
type Outcome struct {
	Status    evidence.GapStatus           `json:"status"`
	Suggested []Suggestion                 `json:"suggested_strategies"`
	Evidence  []evidence.SourceObservation `json:"evidence,omitempty"`
}

// Engine orchestrates gap investigation: open → investigating → terminal.
type Engine struct {
	resolver       Resolver
	maxAttempts    int
	reviewPriority evidence.GapPriority // Gaps at or above escalate on exhaustion
}

// NewEngine creates an investigation engine. Gaps at or above reviewPriority
// that exhaust all strategies transition to requires_manual_review; lower
// priorities fail quietly.
func NewEngine(resolver Resolver, reviewPriority evidence.GapPriority) *Engine {
	return &Engine{
		resolver:       resolver,
		maxAttempts:    DefaultMaxAttempts,
		reviewPriority: reviewPriority,
	}
}

// SetMaxAttempts overrides the per-gap strategy ceiling.
func (e *Engine) SetMaxAttempts(n int) {
	if n > 0 {
		e.maxAttempts = n
	}
}

// Suggest returns the ranked strategy list for a gap without executing
// anything.
func (e *Engine) Suggest(gap *evidence.Gap) []Suggestion {
	strategies := StrategiesFor(gap.Type)
	if len(strategies) > e.maxAttempts {
		strategies = strategies[:e.maxAttempts]
	}
	out := make([]Suggestion, len(strategies))
	for i, s := range strategies {
		out[i] = Suggestion{Name: s.Name, Description: s.Description, Confidence: s.Confidence}
	}
	return out
}

// Investigate executes strategies in rank order until one finds evidence or
// the ceiling is hit. Every execution appends an AttemptRecord to the gap's
// audit trail; a strategy that errors contributes nothing else — partial
// results are discarded, never merged.
//
// On cancellation the gap keeps its pre-call status so a later run can retry
// it; this is the only path that leaves the gap non-terminal.
func (e *Engine) Investigate(ctx context.Context, gap *evidence.Gap, base source.Criteria) (Outcome, error) {
	log := logging.Get(logging.CategoryInvestigation)
	out := Outcome{Suggested: e.Suggest(gap)}

	strategies := StrategiesFor(gap.Type)
	if len(strategies) > e.maxAttempts {
		strategies = strategies[:e.maxAttempts]
	}
	if len(strategies) == 0 {
		out.Status = e.terminalStatus(gap)
		gap.Status = out.Status
		return out, ErrExhausted
	}

	priorStatus := gap.Status
	gap.Status = evidence.GapInvestigating

	for _, strat := range strategies {
		if err := ctx.Err(); err != nil {
			gap.Status = priorStatus
			out.Status = priorStatus
			return out, err
		}

		log.Info("gap %s (%s): trying strategy %s (est. %.2f)", gap.ID, gap.TargetFactID, strat.Name, strat.Confidence)
		criteria := strat.Alter(base)

		obs, err := e.resolver.TryStrategy(ctx, gap, criteria)
		attempt := evidence.AttemptRecord{
			StrategyName:       strat.Name,
			ConfidenceEstimate: strat.Confidence,
			Timestamp:          time.Now(),
		}

		switch {
		case err != nil && ctx.Err() != nil:
			// Cancellation mid-strategy: no attempt is recorded as error, the
			// gap reverts, and the caller retries later.
			gap.Status = priorStatus
			out.Status = priorStatus
			return out, ctx.Err()
		case err != nil:
			attempt.Outcome = evidence.OutcomeError
			gap.RecordAttempt(attempt)
			log.Warn("gap %s: strategy %s errored: %v", gap.ID, strat.Name, err)
		case len(obs) == 0:
			attempt.Outcome = evidence.OutcomeNoEvidence
			gap.RecordAttempt(attempt)
			log.Info("gap %s: strategy %s found nothing", gap.ID, strat.Name)
		default:
			attempt.Outcome = evidence.OutcomeFoundEvidence
			attempt.EvidenceFound = obs
			gap.RecordAttempt(attempt)
			gap.Status = evidence.GapResolved
			out.Status = evidence.GapResolved
			out.Evidence = obs
			log.Info("gap %s: strategy %s found %d observation(s)", gap.ID, strat.Name, len(obs))
			return out, nil
		}
	}

	out.Status = e.terminalStatus(gap)
	gap.Status = out.Status
	log.Info("gap %s: exhausted %d strategies, terminal status %s", gap.ID, len(strategies), out.Status)
	return out, ErrExhausted
}

// terminalStatus maps an exhausted gap to its terminal state by priority.
func (e *Engine) terminalStatus(gap *evidence.Gap) evidence.GapStatus {
	if gap.Priority.AtLeast(e.reviewPriority) {
		return evidence.GapManualReview
	}
	return evidence.GapFailed
}
