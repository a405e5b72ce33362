// Package reembed re-ingests every finished document, typically after the
// embedding model has changed.
//
// Documents are processed in batches: each batch is reset and resubmitted,
// then awaited before the next starts, so the number of documents being
// embedded at once stays bounded. Progress is reported to a writer.
package reembed
