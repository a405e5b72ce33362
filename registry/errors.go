package registry

import "errors"

var (
	// ErrRepositoryRequired is returned when no document repository is provided.
	ErrRepositoryRequired = errors.New("document repository is required")

	// ErrDocumentExists is returned when creating a document whose id is already registered.
	ErrDocumentExists = errors.New("document already exists")
)
