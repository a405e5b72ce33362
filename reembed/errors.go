package reembed

import "errors"

var (
	// ErrTargetRequired is returned when no engine is provided.
	ErrTargetRequired = errors.New("reembed target is required")
)
