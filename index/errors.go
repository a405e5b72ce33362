package index

import "errors"

var (
	// ErrRepositoryRequired is returned when no snapshot repository is provided.
	ErrRepositoryRequired = errors.New("index repository is required")
)
