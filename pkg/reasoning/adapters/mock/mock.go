package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/lexlapax/coachmem/pkg/errors"
	"github.com/lexlapax/coachmem/pkg/log"
	"github.com/lexlapax/coachmem/pkg/reasoning"
)

// Call represents a recorded method call on the mock engine.
type Call struct {
	// Method is the name of the method that was called.
	Method string

	// Args contains the arguments passed to the method.
	Args []interface{}
}

// MockEngine implements the reasoning.Engine interface with canned responses.
type MockEngine struct {
	// cannedResponses maps prompt substrings to predetermined responses
	cannedResponses map[string]string

	// defaultResponse is returned when no matching canned response is found
	defaultResponse string

	// cannedEmbeddings maps text to predetermined embeddings
	cannedEmbeddings map[string][]float32

	// defaultEmbedding is returned when no matching canned embedding is found
	defaultEmbedding []float32

	// exactMatch determines if prompt matching is exact or uses Contains
	exactMatch bool

	// generateErr, when set, is returned by Generate
	generateErr error

	// embeddingErr, when set, is returned by GenerateEmbeddings
	embeddingErr error

	// mutex protects the maps from concurrent access
	mutex sync.RWMutex

	// callHistory records all calls to Generate and GenerateEmbeddings
	callHistory []Call
}

// MockOption is a function that configures a MockEngine.
type MockOption func(*MockEngine)

// WithDefaultResponse sets the default response for the mock engine.
func WithDefaultResponse(resp string) MockOption {
	return func(m *MockEngine) {
		m.defaultResponse = resp
	}
}

// WithDefaultEmbedding sets the default embedding for the mock engine.
func WithDefaultEmbedding(embedding []float32) MockOption {
	return func(m *MockEngine) {
		m.defaultEmbedding = embedding
	}
}

// WithExactMatch configures whether the mock engine uses exact matching.
func WithExactMatch(exact bool) MockOption {
	return func(m *MockEngine) {
		m.exactMatch = exact
	}
}

// WithGenerateError makes Generate fail with a generation error.
func WithGenerateError() MockOption {
	return func(m *MockEngine) {
		m.generateErr = errors.Wrap(errors.ErrGenerationUnavailable, "mock engine generation error")
	}
}

// WithEmbeddingError makes GenerateEmbeddings fail with an embedding error.
func WithEmbeddingError() MockOption {
	return func(m *MockEngine) {
		m.embeddingErr = errors.Wrap(errors.ErrEmbeddingUnavailable, "mock engine embedding error")
	}
}

// NewMockEngine creates a new MockEngine with the given options.
func NewMockEngine(opts ...MockOption) *MockEngine {
	m := &MockEngine{
		cannedResponses:  make(map[string]string),
		defaultResponse:  "This is a mock response",
		cannedEmbeddings: make(map[string][]float32),
		defaultEmbedding: []float32{0.1, 0.2, 0.3},
		exactMatch:       false, // Default to substring matching
		callHistory:      make([]Call, 0),
	}

	for _, opt := range opts {
		opt(m)
	}

	log.Debug("Created mock reasoning engine", "exact_match", m.exactMatch)
	return m
}

// Generate implements the reasoning.Engine interface. Canned responses
// are matched against the user prompt.
func (m *MockEngine) Generate(ctx context.Context, systemPrompt, userPrompt string, history []reasoning.Message, opts ...reasoning.Option) (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.callHistory = append(m.callHistory, Call{
		Method: "Generate",
		Args:   []interface{}{systemPrompt, userPrompt, history},
	})

	if m.generateErr != nil {
		return "", m.generateErr
	}

	if m.exactMatch {
		if response, ok := m.cannedResponses[userPrompt]; ok {
			return response, nil
		}
	} else {
		for key, response := range m.cannedResponses {
			if strings.Contains(userPrompt, key) {
				return response, nil
			}
		}
	}

	return m.defaultResponse, nil
}

// GenerateEmbeddings implements the reasoning.Engine interface.
func (m *MockEngine) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.callHistory = append(m.callHistory, Call{
		Method: "GenerateEmbeddings",
		Args:   []interface{}{texts},
	})

	if m.embeddingErr != nil {
		return nil, m.embeddingErr
	}

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if m.exactMatch {
			if embedding, ok := m.cannedEmbeddings[text]; ok {
				embeddings[i] = embedding
				continue
			}
		} else {
			var matched bool
			for key, embedding := range m.cannedEmbeddings {
				if strings.Contains(text, key) {
					embeddings[i] = embedding
					matched = true
					break
				}
			}
			if matched {
				continue
			}
		}

		embeddings[i] = m.defaultEmbedding
	}

	return embeddings, nil
}

// AddResponse adds a canned response for a specific prompt.
func (m *MockEngine) AddResponse(prompt, response string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.cannedResponses[prompt] = response
}

// AddEmbedding adds a canned embedding for a specific text.
func (m *MockEngine) AddEmbedding(text string, embedding []float32) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.cannedEmbeddings[text] = embedding
}

// SetGenerateError sets (or clears) the error returned by Generate.
func (m *MockEngine) SetGenerateError(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.generateErr = err
}

// SetEmbeddingError sets (or clears) the error returned by GenerateEmbeddings.
func (m *MockEngine) SetEmbeddingError(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.embeddingErr = err
}

// GetCallHistory returns a copy of the call history.
func (m *MockEngine) GetCallHistory() []Call {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	history := make([]Call, len(m.callHistory))
	copy(history, m.callHistory)
	return history
}

// ClearHistory clears the call history.
func (m *MockEngine) ClearHistory() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.callHistory = make([]Call, 0)
}
