package parser

import (
	"bytes"
	"context"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// TextParser reads plain text and markdown files.
// Input that is not valid UTF-8 is decoded as Windows-1252, which also
// covers Latin-1 for every printable character.
type TextParser struct{}

// NewTextParser creates a text parser.
func NewTextParser() *TextParser {
	return &TextParser{}
}

// Extensions returns the handled extensions.
func (p *TextParser) Extensions() []string {
	return []string{".txt", ".md", ".markdown"}
}

// Parse decodes data to a string.
func (p *TextParser) Parse(_ context.Context, data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
