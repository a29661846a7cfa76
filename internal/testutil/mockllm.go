// Package testutil provides deterministic model and embedder doubles for
// tests: a pattern-matching mock LLM with streaming and failure injection,
// and a mock embedder with exact vector control.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockLLM provides deterministic LLM responses for testing. It matches the
// last user message against registered substring patterns and returns the
// corresponding response, streamed word by word when a stream callback is
// given.
//
// Thread-safe for concurrent use.
type MockLLM struct {
	mu        sync.Mutex
	responses []mockRule
	fallback  string
	calls     []MockCall

	// FailAfterChunks, when non-negative, makes generation return failErr
	// after streaming that many chunks. Used to exercise mid-stream
	// failure handling.
	failAfterChunks int
	failErr         error
}

type mockRule struct {
	pattern  string
	response string
}

// MockCall records a single call to the mock model.
type MockCall struct {
	System      string // system prompt text
	UserMessage string // last user message text
	Response    string // response text returned
	History     int    // number of messages in the request
	Config      any    // generation config as received, nil when unset
}

// NewMockLLM creates a mock LLM with the given fallback response.
// The fallback is returned when no pattern matches.
func NewMockLLM(fallback string) *MockLLM {
	return &MockLLM{fallback: fallback, failAfterChunks: -1}
}

// AddResponse registers a pattern-response pair. When a user message contains
// the pattern (case-insensitive), the response is returned. Patterns are
// checked in registration order; first match wins.
func (m *MockLLM) AddResponse(pattern, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockRule{
		pattern:  strings.ToLower(pattern),
		response: response,
	})
}

// FailAfter makes every subsequent generation fail with err once n chunks
// have been streamed. FailAfter(0, err) fails before any chunk is emitted.
func (m *MockLLM) FailAfter(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfterChunks = n
	m.failErr = err
}

// Calls returns a copy of all recorded calls.
func (m *MockLLM) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]MockCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// Reset clears recorded calls and failure injection (keeps registered
// responses).
func (m *MockLLM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.failAfterChunks = -1
	m.failErr = nil
}

// RegisterModel registers the mock as a Genkit model and returns a reference.
// The model name will be "mock/test-model".
func (m *MockLLM) RegisterModel(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, "mock/test-model", &ai.ModelOptions{
		Label: "Mock Test Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			SystemRole: true,
		},
	}, m.generate)
}

// generate is the Genkit model function.
func (m *MockLLM) generate(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	var userText, systemText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ai.RoleUser && userText == "" {
			userText = req.Messages[i].Text()
		}
		if req.Messages[i].Role == ai.RoleSystem && systemText == "" {
			systemText = req.Messages[i].Text()
		}
	}

	m.mu.Lock()
	responseText := m.fallback
	lower := strings.ToLower(userText)
	for i := range m.responses {
		if strings.Contains(lower, m.responses[i].pattern) {
			responseText = m.responses[i].response
			break
		}
	}
	failAfter, failErr := m.failAfterChunks, m.failErr
	m.calls = append(m.calls, MockCall{
		System:      systemText,
		UserMessage: userText,
		Response:    responseText,
		History:     len(req.Messages),
		Config:      req.Config,
	})
	m.mu.Unlock()

	if cb != nil {
		sent := 0
		for _, word := range strings.SplitAfter(responseText, " ") {
			if failAfter >= 0 && sent >= failAfter {
				return nil, failErr
			}
			if err := cb(ctx, &ai.ModelResponseChunk{
				Content: []*ai.Part{ai.NewTextPart(word)},
			}); err != nil {
				return nil, err
			}
			sent++
		}
	}
	if failAfter >= 0 && cb == nil {
		return nil, failErr
	}

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: []*ai.Part{ai.NewTextPart(responseText)},
		},
	}, nil
}
