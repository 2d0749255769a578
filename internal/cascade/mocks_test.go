package cascade

import (
	"context"
	"sync"

	"chartrec/internal/source"
)

// stubAdapter serves canned candidates, optionally filtered by a match
// function so tests can simulate criteria-sensitive stores.
type stubAdapter struct {
	name  string
	cands []source.RawCandidate
	err   error
	match func(source.Criteria) bool

	mu      sync.Mutex
	queries []source.Criteria
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Query(ctx context.Context, c source.Criteria) ([]source.RawCandidate, error) {
	a.mu.Lock()
	a.queries = append(a.queries, c)
	a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	if a.match != nil && !a.match(c) {
		return nil, nil
	}
	return a.cands, nil
}

func (a *stubAdapter) queryCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queries)
}

// scriptedOracle returns the same response for every call and counts calls.
type scriptedOracle struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
}

func (o *scriptedOracle) Infer(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	o.calls++
	return o.response, o.err
}

func (o *scriptedOracle) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}
