package pipeline

import (
	"context"
	"sync"

	"chartrec/internal/source"
)

// fakeStore is an in-memory structured adapter keyed by field name.
type fakeStore struct {
	name string
	rows map[string]string // field -> value
	err  error

	mu      sync.Mutex
	queries int
}

func (f *fakeStore) Name() string { return f.name }

func (f *fakeStore) Query(ctx context.Context, c source.Criteria) ([]source.RawCandidate, error) {
	f.mu.Lock()
	f.queries++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []source.RawCandidate
	for _, field := range c.Fields {
		if value, ok := f.rows[field]; ok {
			out = append(out, source.RawCandidate{
				Kind:   source.KindStructured,
				ID:     f.name + ":" + field,
				Fields: map[string]string{field: value},
			})
		}
	}
	return out, nil
}
