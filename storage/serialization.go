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


package storage

import (
	"fmt"

	"github.com/poiesic/ragqa/core"
)

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) []byte {
	buf := make([]byte, DocumentMUS.Size(*doc))
	DocumentMUS.Marshal(*doc, buf)
	return buf
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	doc, _, err := DocumentMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: document: %w", ErrSerializationFailed, err)
	}
	return &doc, nil
}

// MarshalIndexEntry serializes an IndexEntry to bytes.
func MarshalIndexEntry(entry *core.IndexEntry) []byte {
	buf := make([]byte, IndexEntryMUS.Size(*entry))
	IndexEntryMUS.Marshal(*entry, buf)
	return buf
}

// UnmarshalIndexEntry deserializes an IndexEntry from bytes.
// Trailing bytes are treated as corruption.
func UnmarshalIndexEntry(data []byte) (*core.IndexEntry, error) {
	entry, n, err := IndexEntryMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: index entry: %w", ErrSerializationFailed, err)
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: index entry: %d trailing bytes", ErrSerializationFailed, len(data)-n)
	}
	return &entry, nil
}

// MarshalSnapshotHeader serializes a SnapshotHeader to bytes.
func MarshalSnapshotHeader(header *SnapshotHeader) []byte {
	buf := make([]byte, SnapshotHeaderMUS.Size(*header))
	SnapshotHeaderMUS.Marshal(*header, buf)
	return buf
}

// UnmarshalSnapshotHeader deserializes a SnapshotHeader from bytes.
func UnmarshalSnapshotHeader(data []byte) (*SnapshotHeader, error) {
	header, _, err := SnapshotHeaderMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot header: %w", ErrSerializationFailed, err)
	}
	return &header, nil
}
