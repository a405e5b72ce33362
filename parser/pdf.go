package parser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ErrNoText is returned when a PDF has no extractable text layer.
var ErrNoText = errors.New("no text content found in PDF")

// CommandRunner runs an external command and returns its standard output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// PDFParser extracts text from PDF files with poppler's pdftotext.
type PDFParser struct {
	runner CommandRunner
	binary string
}

// NewPDFParser creates a PDF parser. A nil runner executes pdftotext directly.
func NewPDFParser(runner CommandRunner) *PDFParser {
	if runner == nil {
		runner = execRunner{}
	}
	return &PDFParser{runner: runner, binary: "pdftotext"}
}

// Extensions returns the handled extensions.
func (p *PDFParser) Extensions() []string {
	return []string{".pdf"}
}

// Parse writes data to a temporary file and extracts it page by page.
// Blank pages are dropped and the rest are joined by a blank line.
func (p *PDFParser) Parse(ctx context.Context, data []byte) (string, error) {
	f, err := os.CreateTemp("", "ragqa-*.pdf")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("writing temp file: %w", err)
	}

	out, err := p.runner.Run(ctx, p.binary, "-enc", "UTF-8", f.Name(), "-")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%s not installed: %s", p.binary, InstallInstructions())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("%s failed: %s", p.binary, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("%s failed: %w", p.binary, err)
	}

	// pdftotext ends every page with a form feed
	var pages []string
	for _, page := range strings.Split(string(out), "\f") {
		if strings.TrimSpace(page) != "" {
			pages = append(pages, page)
		}
	}
	if len(pages) == 0 {
		return "", ErrNoText
	}
	return strings.Join(pages, "\n\n"), nil
}

// InstallInstructions describes how to install pdftotext.
func InstallInstructions() string {
	return "install poppler (macOS: brew install poppler, Debian/Ubuntu: apt install poppler-utils)"
}
