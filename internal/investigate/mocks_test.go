package investigate

import (
	"context"

	"chartrec/internal/evidence"
	"chartrec/internal/source"
)

// scriptedResolver returns per-call scripted outcomes and records the
// criteria it was handed.
type scriptedResolver struct {
	results  [][]evidence.SourceObservation
	errs     []error
	calls    int
	criteria []source.Criteria

	// onCall, when set, runs before each scripted answer (used to cancel
	// contexts mid-investigation).
	onCall func(call int)
}

func (r *scriptedResolver) TryStrategy(ctx context.Context, gap *evidence.Gap, c source.Criteria) ([]evidence.SourceObservation, error) {
	call := r.calls
	r.calls++
	r.criteria = append(r.criteria, c)
	if r.onCall != nil {
		r.onCall(call)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var err error
	if call < len(r.errs) {
		err = r.errs[call]
	}
	var obs []evidence.SourceObservation
	if call < len(r.results) {
		obs = r.results[call]
	}
	return obs, err
}
