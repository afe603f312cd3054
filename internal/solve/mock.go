package solve

import (
	"context"
	"sync"
)

// MockClient is a deterministic LLMClient for tests. Responses are served
// in order; the last one repeats once the list is exhausted.
type MockClient struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	Calls     int
	Prompts   []string
}

// Complete returns the next canned response.
func (m *MockClient) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem returns the next canned response and records the prompt.
func (m *MockClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Prompts = append(m.Prompts, userPrompt)
	idx := m.Calls
	m.Calls++

	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "", nil
	}
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return m.Responses[idx], nil
}
