package parser

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/poiesic/ragqa/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRunner is a test double for CommandRunner.
type mockRunner struct {
	output []byte
	err    error
	name   string
	args   []string
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	m.name = name
	m.args = args
	return m.output, m.err
}

func TestRegistry_Selection(t *testing.T) {
	r := NewRegistry(NewTextParser(), NewHTMLParser(), NewPDFParser(&mockRunner{output: []byte("pdf text\f")}))

	assert.Equal(t, []string{".htm", ".html", ".markdown", ".md", ".pdf", ".txt"}, r.Extensions())
	assert.True(t, r.Supports("notes.TXT"))
	assert.True(t, r.Supports("report.pdf"))
	assert.False(t, r.Supports("image.png"))
	assert.False(t, r.Supports("README"))

	text, err := r.Parse(context.Background(), "Report.PDF", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "pdf text", text)
}

func TestRegistry_Unsupported(t *testing.T) {
	r := Default()
	_, err := r.Parse(context.Background(), "data.docx", []byte("x"))
	assert.ErrorIs(t, err, core.ErrUnsupportedFileType)
	assert.Contains(t, err.Error(), ".pdf")
}

func TestRegistry_WrapsParseErrors(t *testing.T) {
	r := NewRegistry(NewPDFParser(&mockRunner{err: errors.New("boom")}))

	_, err := r.Parse(context.Background(), "broken.pdf", []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrParse)

	var parseErr *core.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "broken.pdf", parseErr.Filename)
}

func TestTextParser(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"utf8", []byte("héllo wörld"), "héllo wörld"},
		{"utf8 with bom", append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello")...), "hello"},
		{"windows-1252 fallback", []byte("caf\xe9 \x93quoted\x94"), "café “quoted”"},
		{"empty", []byte{}, ""},
		{"whitespace kept", []byte("  \n "), "  \n "},
	}

	p := NewTextParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := p.Parse(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, text)
		})
	}
}

func TestHTMLParser(t *testing.T) {
	input := `<!DOCTYPE html>
<html>
<head><title>Ignored</title><style>body { color: red; }</style></head>
<body>
  <h1>Refund   Policy</h1>
  <script>var secret = "hidden";</script>
  <p>Refunds are issued within <b>30</b> days.</p>
  <ul><li>Keep the receipt</li><li>Fish &amp; chips excluded</li></ul>
  <!-- a comment -->
  <div>Contact<br>support</div>
</body>
</html>`

	text, err := NewHTMLParser().Parse(context.Background(), []byte(input))
	require.NoError(t, err)

	assert.Equal(t, strings.Join([]string{
		"Refund Policy",
		"Refunds are issued within 30 days.",
		"Keep the receipt",
		"Fish & chips excluded",
		"Contact",
		"support",
	}, "\n"), text)
}

func TestHTMLParser_Empty(t *testing.T) {
	text, err := NewHTMLParser().Parse(context.Background(), []byte("<html><body></body></html>"))
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestPDFParser(t *testing.T) {
	t.Run("joins non-blank pages", func(t *testing.T) {
		runner := &mockRunner{output: []byte("Page one\f  \n\fPage three\f")}
		text, err := NewPDFParser(runner).Parse(context.Background(), []byte("%PDF"))
		require.NoError(t, err)
		assert.Equal(t, "Page one\n\nPage three", text)

		assert.Equal(t, "pdftotext", runner.name)
		require.Len(t, runner.args, 4)
		assert.Equal(t, "-", runner.args[3])
	})

	t.Run("no text layer", func(t *testing.T) {
		_, err := NewPDFParser(&mockRunner{output: []byte("\f\f")}).Parse(context.Background(), []byte("%PDF"))
		assert.ErrorIs(t, err, ErrNoText)
	})

	t.Run("binary missing", func(t *testing.T) {
		runner := &mockRunner{err: &exec.Error{Name: "pdftotext", Err: exec.ErrNotFound}}
		_, err := NewPDFParser(runner).Parse(context.Background(), []byte("%PDF"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "poppler")
	})
}

func TestInstallInstructions(t *testing.T) {
	instructions := InstallInstructions()
	assert.Contains(t, instructions, "brew install poppler")
	assert.Contains(t, instructions, "apt install poppler-utils")
}
