package ingestion

import (
	"context"
	"fmt"

	"github.com/poiesic/ragqa/ai"
	"golang.org/x/sync/errgroup"
)

// embedChunks embeds texts in batches of batchSize, running at most
// concurrency batches at once. Each batch is retried according to the
// pipeline's policy. The returned vectors are unit length and in input order.
func (p *Pipeline) embedChunks(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrentBatches)

	for start := 0; start < len(texts); start += p.batchSize {
		end := min(start+p.batchSize, len(texts))
		batch := texts[start:end]
		offset := start

		g.Go(func() error {
			var embedded [][]float32
			err := ai.Retry(gctx, p.retry, func(attemptCtx context.Context) error {
				var err error
				embedded, err = p.embedder.EmbedTexts(attemptCtx, batch)
				return err
			})
			if err != nil {
				return fmt.Errorf("embedding chunks %d-%d: %w", offset, offset+len(batch)-1, err)
			}
			if len(embedded) != len(batch) {
				return fmt.Errorf("embedding result mismatch. expected %d, received %d", len(batch), len(embedded))
			}
			copy(vectors[offset:], ai.NormalizeVectors(embedded))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	p.logger.Debug("embedded chunks", "chunks", len(texts), "batch_size", p.batchSize)
	return vectors, nil
}
