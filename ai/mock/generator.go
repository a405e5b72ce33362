package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/poiesic/ragqa/ai"
)

// MockGenerator is a test double for ai.Generator.
type MockGenerator struct {
	// GenerateFunc is called by Generate if set.
	// If nil, echoes a deterministic summary of the inputs.
	GenerateFunc func(ctx context.Context, question, passages string) (string, error)

	callCount atomic.Int64

	mu           sync.Mutex
	lastQuestion string
	lastPassages string
}

var _ ai.Generator = (*MockGenerator)(nil)

// NewMockGenerator creates a mock generator with default deterministic behavior.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// Generate records its inputs and returns a deterministic answer.
func (m *MockGenerator) Generate(ctx context.Context, question, passages string) (string, error) {
	m.callCount.Add(1)
	m.mu.Lock()
	m.lastQuestion = question
	m.lastPassages = passages
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, question, passages)
	}

	sources := strings.Count(passages, "[Source ")
	return fmt.Sprintf("Answer to %q from %d sources.", question, sources), nil
}

// CallCount returns the number of Generate calls.
func (m *MockGenerator) CallCount() int {
	return int(m.callCount.Load())
}

// LastPassages returns the context passed to the most recent call.
func (m *MockGenerator) LastPassages() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPassages
}

// LastQuestion returns the question passed to the most recent call.
func (m *MockGenerator) LastQuestion() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastQuestion
}

// Reset clears the call count, recorded inputs and injected behavior.
func (m *MockGenerator) Reset() {
	m.callCount.Store(0)
	m.mu.Lock()
	m.lastQuestion = ""
	m.lastPassages = ""
	m.mu.Unlock()
	m.GenerateFunc = nil
}
