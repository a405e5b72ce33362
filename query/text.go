package query

import (
	"fmt"
	"strings"

	"github.com/poiesic/ragqa/core"
	"github.com/poiesic/ragqa/index"
)

// formatContext renders hits, best first, as the passages handed to the generator.
func formatContext(hits []index.Hit) string {
	blocks := make([]string, len(hits))
	for i, hit := range hits {
		blocks[i] = fmt.Sprintf("[Source %d: %s, chunk %d]\n%s",
			i+1, hit.Meta.Filename, hit.Meta.ChunkIndex+1, hit.Meta.Text)
	}
	return strings.Join(blocks, "\n\n")
}

// toSources mirrors the context order and scores.
func toSources(hits []index.Hit) []core.Source {
	sources := make([]core.Source, len(hits))
	for i, hit := range hits {
		sources[i] = core.Source{
			DocumentID: hit.Meta.DocumentID,
			Filename:   hit.Meta.Filename,
			ChunkIndex: hit.Meta.ChunkIndex,
			Text:       hit.Meta.Text,
			Score:      hit.Score,
		}
	}
	return sources
}

// aboveThreshold keeps hits scoring at least threshold. Hits are sorted, so
// the first miss ends the scan.
func aboveThreshold(hits []index.Hit, threshold float32) []index.Hit {
	for i, hit := range hits {
		if hit.Score < threshold {
			return hits[:i]
		}
	}
	return hits
}
