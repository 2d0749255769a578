package reasoning

import (
	"context"
	"fmt"
	"sync"
)

// mockOracle returns scripted responses in order, then repeats the last one.
type mockOracle struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (m *mockOracle) Infer(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.calls++
	m.prompts = append(m.prompts, userPrompt)
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", fmt.Errorf("mock oracle: no responses scripted")
	}
	idx := m.calls - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

func (m *mockOracle) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
