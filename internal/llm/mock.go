package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockClient is a scripted LLM client for tests. Responses are matched by
// substring against the prompt; the first match wins. If ResponseQueue is
// non-empty it takes precedence and responses are consumed in order.
type MockClient struct {
	mu sync.Mutex

	// Responses maps a prompt substring to a canned response.
	Responses map[string]string

	// ResponseQueue is consumed front-to-back when non-empty.
	ResponseQueue []string

	// Default is returned when nothing matches.
	Default string

	// Err, when set, is returned by every call.
	Err error

	// Prompts records every prompt seen, in call order.
	Prompts []string
}

// NewMockClient creates a MockClient with an empty script.
func NewMockClient() *MockClient {
	return &MockClient{Responses: make(map[string]string)}
}

// Complete returns the scripted response for the prompt.
func (m *MockClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Prompts = append(m.Prompts, prompt)

	if m.Err != nil {
		return "", m.Err
	}

	if len(m.ResponseQueue) > 0 {
		resp := m.ResponseQueue[0]
		m.ResponseQueue = m.ResponseQueue[1:]
		return resp, nil
	}

	for needle, resp := range m.Responses {
		if needle != "" && containsFold(prompt, needle) {
			return resp, nil
		}
	}

	if m.Default != "" {
		return m.Default, nil
	}
	return "", fmt.Errorf("mock: no scripted response for prompt")
}

// CompleteWithSystem concatenates the prompts and delegates to Complete.
func (m *MockClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return m.Complete(ctx, systemPrompt+"\n"+userPrompt)
}

// CallCount returns the number of calls made so far.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
