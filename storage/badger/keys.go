package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/poiesic/ragqa/core"
)

// Key prefixes for different data types
const (
	documentRecordPrefix = "docrec"
	indexHeaderKey       = "idxhdr"
	indexEntryPrefix     = "idxent"
)

// makeDocumentKey generates a key for a document record by ID.
func makeDocumentKey(id core.DocumentID) []byte {
	return []byte(fmt.Sprintf("%s:%s", documentRecordPrefix, id))
}

// makeIndexGenerationPrefix generates the key prefix shared by all entries
// of one snapshot generation.
// Format: prefix:generation
func makeIndexGenerationPrefix(generation uint64) []byte {
	prefix := indexEntryPrefix + ":"
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], generation)
	return buf
}

// makeIndexEntryKey generates a composite key for a snapshot entry.
// Format: prefix:generation:entryID
func makeIndexEntryKey(generation uint64, id core.EntryID) []byte {
	prefix := makeIndexGenerationPrefix(generation)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// parseIndexEntryKey extracts the generation and entry ID from a snapshot entry key.
func parseIndexEntryKey(key []byte) (generation uint64, id core.EntryID, ok bool) {
	prefixLen := len(indexEntryPrefix) + 1
	if len(key) != prefixLen+16 || string(key[:prefixLen]) != indexEntryPrefix+":" {
		return 0, 0, false
	}
	generation = binary.BigEndian.Uint64(key[prefixLen:])
	id = core.EntryID(binary.BigEndian.Uint64(key[prefixLen+8:]))
	return generation, id, true
}
