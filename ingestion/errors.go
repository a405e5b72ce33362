package ingestion

import "errors"

var (
	// ErrRegistryRequired is returned when a document registry is not provided.
	ErrRegistryRequired = errors.New("document registry required")

	// ErrIndexRequired is returned when a vector index is not provided.
	ErrIndexRequired = errors.New("vector index required")

	// ErrParserRequired is returned when a parser registry is not provided.
	ErrParserRequired = errors.New("parser registry required")

	// ErrChunkerRequired is returned when a chunker is not provided.
	ErrChunkerRequired = errors.New("chunker required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrPipelineClosed is returned by Submit after Close.
	ErrPipelineClosed = errors.New("pipeline closed")

	// ErrNoExtractableText is the cause of a ParseError for blank documents.
	ErrNoExtractableText = errors.New("no extractable text")
)
