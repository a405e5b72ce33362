package ragqa

import (
	"context"
	"fmt"

	"github.com/poiesic/ragqa/core"
	"github.com/poiesic/ragqa/index"
	"github.com/poiesic/ragqa/registry"
)

const (
	interruptedDetail = "processing interrupted"
	mismatchDetail    = "index entries lost"
)

type reconcileReport struct {
	interrupted  int // Pending or Processing at startup
	mismatched   int // Completed with the wrong number of entries
	orphaned     int // documents in the index but not the registry
	staleEntries int // entries removed in total
}

func (r reconcileReport) changed() bool {
	return r.staleEntries > 0 || r.interrupted > 0 || r.mismatched > 0
}

// reconcile brings the registry and index snapshots, loaded independently,
// back into agreement. Afterwards only Completed documents have entries and
// each has exactly ChunkCount of them.
func reconcile(ctx context.Context, reg *registry.Registry, idx *index.Index) (reconcileReport, error) {
	var report reconcileReport
	counts := idx.Counts()
	known := make(map[core.DocumentID]struct{})

	for _, doc := range reg.List() {
		known[doc.ID] = struct{}{}
		indexed := counts[doc.ID]

		switch doc.State {
		case core.StatePending, core.StateProcessing:
			report.staleEntries += idx.Delete(doc.ID)
			if _, err := reg.Fail(ctx, doc.ID, interruptedDetail); err != nil {
				return report, fmt.Errorf("failing interrupted document %s: %w", doc.ID, err)
			}
			report.interrupted++

		case core.StateCompleted:
			if indexed == doc.ChunkCount {
				continue
			}
			report.staleEntries += idx.Delete(doc.ID)
			if _, err := reg.Reset(ctx, doc.ID); err != nil {
				return report, fmt.Errorf("resetting inconsistent document %s: %w", doc.ID, err)
			}
			if _, err := reg.Fail(ctx, doc.ID, fmt.Sprintf("%s: expected %d, found %d", mismatchDetail, doc.ChunkCount, indexed)); err != nil {
				return report, fmt.Errorf("failing inconsistent document %s: %w", doc.ID, err)
			}
			report.mismatched++

		case core.StateFailed:
			report.staleEntries += idx.Delete(doc.ID)
		}
	}

	for _, id := range idx.DocumentIDs() {
		if _, ok := known[id]; ok {
			continue
		}
		report.staleEntries += idx.Delete(id)
		report.orphaned++
	}

	if report.staleEntries > 0 {
		if err := idx.Persist(ctx); err != nil {
			return report, fmt.Errorf("persisting reconciled index: %w", err)
		}
	}
	return report, nil
}
