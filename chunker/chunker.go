// Package chunker splits document text into overlapping fixed-size windows.
//
// Sizes and offsets are measured in runes so a window never splits a
// multi-byte character.
package chunker

import (
	"github.com/poiesic/ragqa/core"
)

// Chunk is one window of source text.
type Chunk struct {
	Index int    // Zero-based, contiguous
	Text  string // Source runes [Start, End)
	Start int
	End   int
}

// Chunker holds validated window parameters.
type Chunker struct {
	size    int
	overlap int
}

// New validates size and overlap and returns a Chunker.
// It fails with a core.ConfigurationError unless size > 0 and 0 <= overlap < size.
func New(size, overlap int) (*Chunker, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the window length.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the number of runes shared by consecutive windows.
func (c *Chunker) Overlap() int { return c.overlap }

// Split windows text with the chunker's parameters.
func (c *Chunker) Split(text string) []Chunk {
	return split([]rune(text), c.size, c.overlap)
}

// Split windows text into chunks of size runes, each starting size-overlap
// runes after the previous one. The last window is truncated to the end of
// the text. Empty text yields no chunks.
func Split(text string, size, overlap int) ([]Chunk, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	return split([]rune(text), size, overlap), nil
}

func validate(size, overlap int) error {
	if size <= 0 {
		return core.NewConfigurationError("chunk_size", "must be greater than 0, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return core.NewConfigurationError("chunk_overlap", "must be in [0, %d), got %d", size, overlap)
	}
	return nil
}

func split(runes []rune, size, overlap int) []Chunk {
	n := len(runes)
	if n == 0 {
		return nil
	}

	step := size - overlap
	chunks := make([]Chunk, 0, (n+step-1)/step)
	for start := 0; start < n; start += step {
		end := min(start+size, n)
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})
	}
	return chunks
}

// Join reassembles the source text from chunks produced by Split, dropping
// the overlapping prefix of every chunk after the first.
func Join(chunks []Chunk) string {
	var out []rune
	covered := 0
	for _, c := range chunks {
		runes := []rune(c.Text)
		skip := covered - c.Start
		if skip < 0 {
			skip = 0
		}
		if skip < len(runes) {
			out = append(out, runes[skip:]...)
		}
		covered = max(covered, c.End)
	}
	return string(out)
}
