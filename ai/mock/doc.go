// Package mock provides test doubles for the ai package interfaces.
//
// The mocks are deterministic and need no network. Behavior can be replaced
// per test through function fields:
//
//	embedder := mock.NewMockEmbedder()
//	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, errors.New("provider down")
//	}
//
//	// Check call counts
//	count := embedder.CallCount()
//
// # Default Behavior
//
//   - MockEmbedder: Returns unit-length vectors derived from a hash of the text
//   - MockGenerator: Returns an answer naming the question and source count
//   - MockProvider: Aggregates mock embedder and generator
//
// Call counters are atomic so the mocks can be shared across goroutines.
package mock
