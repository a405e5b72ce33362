package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/poiesic/ragqa"
	"github.com/poiesic/ragqa/config"
	"github.com/poiesic/ragqa/core"
	"github.com/poiesic/ragqa/reembed"
	"github.com/urfave/cli/v2"
)

var errMissingArgument = errors.New("missing argument")

var _ reembed.Target = (*ragqa.Engine)(nil)

// documentID reads and validates the single ID argument.
func documentID(c *cli.Context) (core.DocumentID, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("%w: expected exactly one document id", errMissingArgument)
	}
	id := core.DocumentID(strings.TrimSpace(c.Args().First()))
	if err := core.ValidateDocumentID(id); err != nil {
		return "", err
	}
	return id, nil
}

func uploadCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("%w: at least one file is required", errMissingArgument)
	}

	return withEngine(c, func(ctx context.Context, e *ragqa.Engine, _ config.Config) error {
		var ids []core.DocumentID
		var failed int
		for _, path := range c.Args().Slice() {
			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintln(c.App.ErrWriter, errorStyle.Render(fmt.Sprintf("%s: %v", path, err)))
				failed++
				continue
			}
			doc, err := e.Upload(ctx, filepath.Base(path), data)
			if err != nil {
				fmt.Fprintln(c.App.ErrWriter, errorStyle.Render(fmt.Sprintf("%s: %v", path, err)))
				failed++
				continue
			}
			ids = append(ids, doc.ID)
		}

		if !c.Bool("no-wait") {
			if err := e.Wait(ctx); err != nil {
				return fmt.Errorf("waiting for ingestion: %w", err)
			}
		}
		for _, id := range ids {
			doc, err := e.GetStatus(id)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, renderStatus(doc))
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d files could not be uploaded", failed, c.NArg())
		}
		return nil
	})
}

func statusCommand(c *cli.Context) error {
	id, err := documentID(c)
	if err != nil {
		return err
	}
	return withEngine(c, func(ctx context.Context, e *ragqa.Engine, _ config.Config) error {
		doc, err := e.GetStatus(id)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, renderStatus(doc))
		return nil
	})
}

func listCommand(c *cli.Context) error {
	var filter *core.DocumentState
	if name := c.String("state"); name != "" {
		state, ok := core.ParseDocumentState(strings.ToLower(name))
		if !ok {
			return fmt.Errorf("unknown state %q: must be one of pending, processing, completed, failed", name)
		}
		filter = &state
	}

	return withEngine(c, func(ctx context.Context, e *ragqa.Engine, _ config.Config) error {
		docs := e.ListDocuments()
		if filter != nil {
			kept := docs[:0]
			for _, doc := range docs {
				if doc.State == *filter {
					kept = append(kept, doc)
				}
			}
			docs = kept
		}
		if len(docs) == 0 {
			fmt.Fprintln(c.App.Writer, dimStyle.Render("No documents."))
			return nil
		}
		fmt.Fprintln(c.App.Writer, renderDocuments(docs))
		return nil
	})
}

func deleteCommand(c *cli.Context) error {
	id, err := documentID(c)
	if err != nil {
		return err
	}
	return withEngine(c, func(ctx context.Context, e *ragqa.Engine, _ config.Config) error {
		if err := e.DeleteDocument(ctx, id); err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, successStyle.Render("Deleted "+id.String()))
		return nil
	})
}

func reingestCommand(c *cli.Context) error {
	id, err := documentID(c)
	if err != nil {
		return err
	}
	return withEngine(c, func(ctx context.Context, e *ragqa.Engine, _ config.Config) error {
		if _, err := e.Reingest(ctx, id); err != nil {
			return err
		}
		if err := e.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for ingestion: %w", err)
		}
		doc, err := e.GetStatus(id)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, renderStatus(doc))
		return nil
	})
}

func reembedCommand(c *cli.Context) error {
	reembedConfig := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		IncludeFailed:  c.Bool("include-failed"),
	}
	if reembedConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if reembedConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}

	return withEngine(c, func(ctx context.Context, e *ragqa.Engine, cfg config.Config) error {
		reembedder, err := reembed.NewReembedder(e, reembedConfig, c.App.ErrWriter)
		if err != nil {
			return err
		}

		fmt.Fprintf(c.App.ErrWriter, "Data directory: %s\n", cfg.DataDir)
		fmt.Fprintf(c.App.ErrWriter, "Embedding host: %s\n", cfg.Provider.EmbeddingHost)
		fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", cfg.Provider.EmbeddingModel)
		fmt.Fprintln(c.App.ErrWriter)

		summary, err := reembedder.Run(ctx)
		if err != nil {
			return fmt.Errorf("reembedding failed: %w", err)
		}
		if summary.Failed > 0 {
			return fmt.Errorf("%d of %d documents failed to reembed", summary.Failed, summary.Total)
		}
		return nil
	})
}

func askCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return fmt.Errorf("%w: a question is required", errMissingArgument)
	}
	var docIDs []core.DocumentID
	for _, raw := range c.StringSlice("doc") {
		id := core.DocumentID(strings.TrimSpace(raw))
		if err := core.ValidateDocumentID(id); err != nil {
			return err
		}
		docIDs = append(docIDs, id)
	}

	return withEngine(c, func(ctx context.Context, e *ragqa.Engine, cfg config.Config) error {
		// Reject bad questions before any provider call is made.
		if err := core.ValidateQuestion(question, cfg.Retrieval.MinQuestionLength, cfg.Retrieval.MaxQuestionLength); err != nil {
			return err
		}

		result, err := e.Ask(ctx, ragqa.AskRequest{
			Question:    question,
			TopK:        c.Int("top-k"),
			DocumentIDs: docIDs,
		})
		if errors.Is(err, core.ErrIndexEmpty) {
			return fmt.Errorf("%w: upload a document first", err)
		}
		if err != nil {
			return err
		}

		answer := result.Answer
		if c.Bool("render") {
			if answer, err = renderMarkdown(answer, defaultWrapWidth); err != nil {
				return err
			}
		}
		fmt.Fprintln(c.App.Writer, answer)
		if c.Bool("verbose") {
			fmt.Fprintln(c.App.Writer, renderDetails(result))
		}
		return nil
	})
}

func healthCommand(c *cli.Context) error {
	return withEngine(c, func(ctx context.Context, e *ragqa.Engine, _ config.Config) error {
		fmt.Fprintln(c.App.Writer, renderHealth(e.Health()))
		return nil
	})
}
