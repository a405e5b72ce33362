package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/poiesic/ragqa"
	"github.com/poiesic/ragqa/core"
)

const (
	defaultWrapWidth = 100
	excerptLength    = 160
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("78"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Padding(0, 1)
)

func stateStyle(state core.DocumentState) lipgloss.Style {
	switch state {
	case core.StateCompleted:
		return successStyle
	case core.StateFailed:
		return errorStyle
	case core.StateProcessing:
		return warnStyle
	default:
		return dimStyle
	}
}

func renderStatus(doc core.Document) string {
	return fmt.Sprintf("%s  %s  %s  %s",
		titleStyle.Render(doc.ID.String()),
		doc.Filename,
		stateStyle(doc.State).Render(doc.State.String()),
		dimStyle.Render(doc.StatusMessage()),
	)
}

func renderDocuments(docs []core.Document) string {
	rows := make([][]string, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, []string{
			doc.ID.String(),
			doc.Filename,
			doc.State.String(),
			strconv.Itoa(doc.ChunkCount),
			doc.UpdatedAt.Local().Format(time.DateTime),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers("ID", "FILE", "STATE", "CHUNKS", "UPDATED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 2 {
				return stateStyle(docs[row].State).Padding(0, 1)
			}
			return cellStyle
		})
	return t.String()
}

// renderDetails lists the sources and timings behind an answer.
func renderDetails(result *core.QueryResult) string {
	var b strings.Builder
	if !result.Relevant() {
		b.WriteString(dimStyle.Render("No chunk cleared the similarity threshold."))
		b.WriteByte('\n')
	}
	for i, src := range result.Sources {
		fmt.Fprintf(&b, "%s %s (chunk %d, score %.3f)\n",
			titleStyle.Render(fmt.Sprintf("[%d]", i+1)),
			src.Filename, src.ChunkIndex+1, src.Score)
		b.WriteString(dimStyle.Render(excerpt(src.Text, excerptLength)))
		b.WriteByte('\n')
	}

	m := result.Metrics
	fmt.Fprintf(&b, "%s embedding %v, retrieval %v, generation %v, total %v",
		titleStyle.Render("timing:"),
		m.EmbeddingLatency, m.RetrievalLatency, m.GenerationLatency, m.TotalLatency)
	if m.AvgSimilarity != nil {
		fmt.Fprintf(&b, "\n%s %d chunks, avg %.3f, max %.3f, min %.3f",
			titleStyle.Render("similarity:"),
			m.ChunksRetrieved, *m.AvgSimilarity, *m.MaxSimilarity, *m.MinSimilarity)
	}
	return b.String()
}

func renderHealth(h ragqa.Health) string {
	status := successStyle.Render(h.Status)
	if h.Status != "healthy" {
		status = warnStyle.Render(h.Status)
	}
	dimension := "unset"
	if h.Dimension > 0 {
		dimension = strconv.Itoa(h.Dimension)
	}
	return strings.Join([]string{
		titleStyle.Render("ragqa") + " " + h.Version,
		"status:     " + status,
		"documents:  " + strconv.Itoa(h.DocumentCount),
		"chunks:     " + strconv.Itoa(h.IndexedChunks),
		"dimension:  " + dimension,
	}, "\n")
}

func renderMarkdown(text string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("creating markdown renderer: %w", err)
	}
	out, err := r.Render(text)
	if err != nil {
		return "", fmt.Errorf("rendering answer: %w", err)
	}
	return strings.TrimRight(out, "\n"), nil
}

// excerpt shortens text to at most n runes on a single line.
func excerpt(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n-1]) + "…"
}
