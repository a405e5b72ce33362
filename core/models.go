package core

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// DocumentIDPrefix is prepended to every generated document identifier.
const DocumentIDPrefix = "doc_"

// DocumentID is the opaque identifier assigned to a document at upload.
type DocumentID string

// NewDocumentID returns a fresh identifier of the form doc_<12 hex digits>.
func NewDocumentID() DocumentID {
	u := uuid.New()
	return DocumentID(DocumentIDPrefix + hex.EncodeToString(u[:6]))
}

func (id DocumentID) String() string {
	return string(id)
}

// Checksum returns a hex encoded BLAKE2b digest of data.
// It identifies uploaded content, not documents.
func Checksum(data []byte) string {
	h, _ := blake2b.New(16, nil) // 16 bytes = 128 bits
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DocumentState is a step in the per-document processing lifecycle.
type DocumentState int

const (
	// StatePending is set at upload, before processing starts.
	StatePending DocumentState = iota + 1
	// StateProcessing is set when the ingestion unit of work begins.
	StateProcessing
	// StateCompleted is terminal: the document is searchable.
	StateCompleted
	// StateFailed is terminal: ErrorDetail explains why.
	StateFailed
)

var stateNames = map[DocumentState]string{
	StatePending:    "pending",
	StateProcessing: "processing",
	StateCompleted:  "completed",
	StateFailed:     "failed",
}

func (s DocumentState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsTerminal reports whether no further transition may leave s.
func (s DocumentState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ParseDocumentState converts a state name back to a DocumentState.
func ParseDocumentState(name string) (DocumentState, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for state, n := range stateNames {
		if n == name {
			return state, true
		}
	}
	return 0, false
}

// Document is the registry record for one uploaded file.
type Document struct {
	ID          DocumentID
	Filename    string
	State       DocumentState
	ChunkCount  int // Only non-zero once State is StateCompleted
	SizeBytes   int64
	Checksum    string
	ErrorDetail string // Set when State is StateFailed
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt time.Time // Zero until a terminal state is reached
}

// StatusMessage returns a human readable description of the document state.
func (d *Document) StatusMessage() string {
	switch d.State {
	case StatePending:
		return "Document is queued for processing"
	case StateProcessing:
		return "Document is being processed"
	case StateCompleted:
		return "Document processed successfully"
	case StateFailed:
		return "Document processing failed: " + d.ErrorDetail
	default:
		return "Unknown document state"
	}
}

// EntryID is the vector index's internal identifier for a stored chunk.
// Ids are assigned monotonically and never reused.
type EntryID uint64

// ChunkMeta describes where an indexed chunk came from.
type ChunkMeta struct {
	DocumentID DocumentID
	Filename   string
	ChunkIndex int
	Text       string
	Start      int // Rune offset of the first character in the source text
	End        int // Rune offset one past the last character
}

// IndexEntry is the vector index's unit of storage.
type IndexEntry struct {
	ID     EntryID
	Vector []float32
	Meta   ChunkMeta
}

// Source is a retrieved chunk cited by an answer.
type Source struct {
	DocumentID DocumentID
	Filename   string
	ChunkIndex int
	Text       string
	Score      float32
}

// QueryMetrics reports stage timings and similarity aggregates for one question.
// The similarity aggregates are nil when ChunksRetrieved is zero.
type QueryMetrics struct {
	EmbeddingLatency  time.Duration
	RetrievalLatency  time.Duration
	GenerationLatency time.Duration
	TotalLatency      time.Duration
	ChunksRetrieved   int
	AvgSimilarity     *float32
	MaxSimilarity     *float32
	MinSimilarity     *float32
	Timestamp         time.Time
}

// NoRelevantAnswer is returned when no retrieved chunk clears the similarity threshold.
const NoRelevantAnswer = "I couldn't find relevant information in the provided documents to answer your question."

// QueryResult is the answer to one question along with its provenance.
type QueryResult struct {
	Answer  string
	Sources []Source
	Metrics QueryMetrics
}

// Relevant reports whether the answer was generated from retrieved context.
func (r *QueryResult) Relevant() bool {
	return len(r.Sources) > 0
}
