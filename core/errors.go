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


package core

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every component.
var (
	// ErrConfiguration indicates invalid configuration such as bad chunk parameters.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrDimension indicates an embedding whose length differs from the index dimension.
	ErrDimension = errors.New("embedding dimension mismatch")

	// ErrParse indicates that text could not be extracted from a document.
	ErrParse = errors.New("document parse failed")

	// ErrExternalService indicates an embedding or generation provider failure.
	ErrExternalService = errors.New("external service error")

	// ErrIndexEmpty indicates that no documents have been indexed yet.
	ErrIndexEmpty = errors.New("no documents indexed yet")

	// ErrNotFound indicates an unknown document id.
	ErrNotFound = errors.New("document not found")

	// ErrInvalidTransition indicates a lifecycle transition the state machine forbids.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrUnsupportedFileType indicates an upload whose extension has no parser.
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrFileTooLarge indicates an upload above the configured size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrEmptyFile indicates an upload with no content.
	ErrEmptyFile = errors.New("file is empty")

	// ErrEmptyQuestion indicates a blank question.
	ErrEmptyQuestion = errors.New("question cannot be empty")

	// ErrInvalidQuestion indicates a question outside the accepted length bounds.
	ErrInvalidQuestion = errors.New("invalid question")

	// ErrInvalidTopK indicates a top_k outside the accepted range.
	ErrInvalidTopK = errors.New("invalid top_k")

	// ErrInvalidDocumentID indicates a malformed document id.
	ErrInvalidDocumentID = errors.New("invalid document id")
)

// ConfigurationError reports a single invalid configuration field.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrConfiguration, e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// NewConfigurationError builds a ConfigurationError with a formatted reason.
func NewConfigurationError(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DimensionError reports the expected and actual length of a rejected vector.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: expected %d, got %d", ErrDimension, e.Expected, e.Actual)
}

func (e *DimensionError) Is(target error) bool {
	return target == ErrDimension
}

// ParseError wraps a text extraction failure for one file.
type ParseError struct {
	Filename string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrParse, e.Filename, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// ExternalServiceError wraps a provider failure.
// Transient errors (timeouts, transport failures, throttling, 5xx) may be retried;
// permanent ones propagate immediately.
type ExternalServiceError struct {
	Service   string // "embedding" or "generation"
	Op        string
	Transient bool
	Err       error
}

func (e *ExternalServiceError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s %s (%s): %v", ErrExternalService, e.Service, e.Op, kind, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

func (e *ExternalServiceError) Is(target error) bool {
	return target == ErrExternalService
}

// IsTransient reports whether err is an ExternalServiceError marked transient.
func IsTransient(err error) bool {
	var svcErr *ExternalServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Transient
	}
	return false
}
