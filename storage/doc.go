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


// Package storage provides the persistence abstraction layer for ragqa.
//
// Two independent repositories back the engine's durable state:
//
//   - DocumentRepository: one record per document registry entry
//   - IndexRepository: generational snapshots of the vector index
//
// Both may live in the same backend, but each is loadable on its own so
// that startup can reconcile one against the other.
//
// # Serialization
//
// Records are encoded with mus-go serializers (DocumentMUS, IndexEntryMUS,
// SnapshotHeaderMUS). Timestamps are stored as Unix microseconds.
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	docs, err := badger.NewDocumentRepository(backend)
//	snapshots, err := badger.NewIndexRepository(backend)
//
// Use in tests with in-memory storage:
//
//	docs, snapshots, backend, err := badger.NewMemoryRepositories()
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
