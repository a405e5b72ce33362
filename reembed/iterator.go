// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package reembed

import (
	"context"
	"iter"

	"github.com/poiesic/ragqa/core"
)

const (
	// DefaultBatchSize is the default number of documents resubmitted together
	DefaultBatchSize = 8
)

// batches yields docs in consecutive slices of at most size documents.
// Iteration stops early once ctx is done.
func batches(ctx context.Context, docs []core.Document, size int) iter.Seq[[]core.Document] {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return func(yield func([]core.Document) bool) {
		for start := 0; start < len(docs); start += size {
			if ctx.Err() != nil {
				return
			}
			if !yield(docs[start:min(start+size, len(docs))]) {
				return
			}
		}
	}
}

// eligible keeps documents in a terminal state, oldest first.
func eligible(docs []core.Document, includeFailed bool) []core.Document {
	out := make([]core.Document, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		switch docs[i].State {
		case core.StateCompleted:
			out = append(out, docs[i])
		case core.StateFailed:
			if includeFailed {
				out = append(out, docs[i])
			}
		}
	}
	return out
}
