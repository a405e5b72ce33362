// Package parser extracts plain text from uploaded files.
//
// Parsers are selected by file extension. The Registry wraps every parser
// failure in a *core.ParseError so the ingestion pipeline can record it on
// the document.
package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/poiesic/ragqa/core"
)

// Parser extracts text from the raw bytes of one file.
type Parser interface {
	// Extensions lists the lowercase extensions, with leading dot, this parser handles.
	Extensions() []string

	// Parse returns the text content of data.
	Parse(ctx context.Context, data []byte) (string, error)
}

// Registry maps file extensions to parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry creates a registry from parsers. Later parsers win on
// conflicting extensions.
func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range parsers {
		for _, ext := range p.Extensions() {
			r.parsers[strings.ToLower(ext)] = p
		}
	}
	return r
}

// Default returns a registry for .txt, .md, .html, .htm and .pdf files.
// PDF extraction shells out to pdftotext.
func Default() *Registry {
	return NewRegistry(NewTextParser(), NewHTMLParser(), NewPDFParser(nil))
}

// Extension returns the normalized extension of filename.
func Extension(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// Supports reports whether filename has a registered extension.
func (r *Registry) Supports(filename string) bool {
	_, ok := r.parsers[Extension(filename)]
	return ok
}

// Extensions returns the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// Parse extracts text from data using the parser registered for filename's extension.
// Returns core.ErrUnsupportedFileType for unknown extensions and a
// *core.ParseError if extraction fails.
func (r *Registry) Parse(ctx context.Context, filename string, data []byte) (string, error) {
	ext := Extension(filename)
	p, ok := r.parsers[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q (supported: %s)", core.ErrUnsupportedFileType, ext, strings.Join(r.Extensions(), ", "))
	}

	text, err := p.Parse(ctx, data)
	if err != nil {
		return "", &core.ParseError{Filename: filename, Err: err}
	}
	return text, nil
}
