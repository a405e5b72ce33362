// Package ingestion turns uploaded files into searchable index entries.
//
// A Pipeline runs one unit of work per document on a worker pool:
//   - parse the raw upload into text
//   - split the text into overlapping chunks
//   - embed the chunks in concurrent batches
//   - add the normalized vectors to the index and persist it
//
// Terminal registry transitions are applied by a single committer goroutine.
// Any failure after chunking removes the document's index entries before the
// document is marked Failed. Errors are recorded in the registry, never
// returned to the submitter.
package ingestion
