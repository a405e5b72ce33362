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
	"fmt"
	"strings"
	"unicode/utf8"
)

const documentIDHexLen = 12

// ValidateDocumentID checks that id has the doc_<12 hex digits> form.
func ValidateDocumentID(id DocumentID) error {
	s := string(id)
	if !strings.HasPrefix(s, DocumentIDPrefix) {
		return fmt.Errorf("%w: %q", ErrInvalidDocumentID, s)
	}
	hex := s[len(DocumentIDPrefix):]
	if len(hex) != documentIDHexLen {
		return fmt.Errorf("%w: %q", ErrInvalidDocumentID, s)
	}
	for _, c := range hex {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return fmt.Errorf("%w: %q", ErrInvalidDocumentID, s)
		}
	}
	return nil
}

// ValidateDocument validates a Document according to lifecycle rules.
//
// Validation rules:
//   - ID must be well formed
//   - Filename must not be empty
//   - State must be a known state
//   - ChunkCount must be zero unless State is StateCompleted
//   - ErrorDetail must be set when State is StateFailed
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocumentID)
	}
	if err := ValidateDocumentID(doc.ID); err != nil {
		return err
	}
	if doc.Filename == "" {
		return fmt.Errorf("document %s: filename cannot be empty", doc.ID)
	}
	if _, ok := stateNames[doc.State]; !ok {
		return fmt.Errorf("document %s: unknown state %d", doc.ID, doc.State)
	}
	if doc.State != StateCompleted && doc.ChunkCount != 0 {
		return fmt.Errorf("document %s: chunk count %d in state %s", doc.ID, doc.ChunkCount, doc.State)
	}
	if doc.State == StateFailed && doc.ErrorDetail == "" {
		return fmt.Errorf("document %s: failed without error detail", doc.ID)
	}
	return nil
}

// ValidateQuestion checks that a question is non-blank and within [minLen, maxLen] runes.
// A bound of zero disables that check.
func ValidateQuestion(question string, minLen, maxLen int) error {
	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		return ErrEmptyQuestion
	}
	n := utf8.RuneCountInString(trimmed)
	if minLen > 0 && n < minLen {
		return fmt.Errorf("%w: must be at least %d characters", ErrInvalidQuestion, minLen)
	}
	if maxLen > 0 && n > maxLen {
		return fmt.Errorf("%w: must be at most %d characters", ErrInvalidQuestion, maxLen)
	}
	return nil
}
