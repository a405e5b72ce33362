package main

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/poiesic/ragqa"
	"github.com/poiesic/ragqa/ai/mock"
	"github.com/poiesic/ragqa/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func findCommand(t *testing.T, app *cli.App, name string) *cli.Command {
	t.Helper()
	for _, cmd := range app.Commands {
		if cmd.Name == name {
			return cmd
		}
	}
	t.Fatalf("command %q not registered", name)
	return nil
}

func TestAppFlags(t *testing.T) {
	app := newApp()

	t.Run("global flags", func(t *testing.T) {
		names := map[string]bool{}
		for _, flag := range app.Flags {
			for _, n := range flag.Names() {
				names[n] = true
			}
		}
		for _, n := range []string{"log-level", "l", "config", "c", "data-dir", "d"} {
			assert.True(t, names[n], "missing global flag %q", n)
		}
	})

	t.Run("commands are registered", func(t *testing.T) {
		for _, name := range []string{"upload", "status", "list", "delete", "reingest", "reembed", "ask", "health"} {
			findCommand(t, app, name)
		}
	})

	t.Run("reembed batch-size default", func(t *testing.T) {
		cmd := findCommand(t, app, "reembed")
		var batchFlag *cli.IntFlag
		for _, flag := range cmd.Flags {
			if f, ok := flag.(*cli.IntFlag); ok && f.Name == "batch-size" {
				batchFlag = f
				break
			}
		}
		require.NotNil(t, batchFlag)
		assert.Equal(t, 8, batchFlag.Value)
	})

	t.Run("ask top-k has no default", func(t *testing.T) {
		cmd := findCommand(t, app, "ask")
		var topK *cli.IntFlag
		for _, flag := range cmd.Flags {
			if f, ok := flag.(*cli.IntFlag); ok && f.Name == "top-k" {
				topK = f
				break
			}
		}
		require.NotNil(t, topK)
		assert.Zero(t, topK.Value)
		assert.Equal(t, []string{"k"}, topK.Aliases)
	})
}

func TestSetupLogger(t *testing.T) {
	run := func(t *testing.T, args ...string) error {
		app := &cli.App{
			Name: "test",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "log-level",
					Aliases: []string{"l"},
					Value:   "info",
				},
			},
			Before: setupLogger,
			Action: func(c *cli.Context) error {
				return nil
			},
		}
		return app.Run(append([]string{"test"}, args...))
	}

	t.Run("valid log levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error", "DEBUG", "WaRn"} {
			t.Run(level, func(t *testing.T) {
				require.NoError(t, run(t, "--log-level", level))
			})
		}
	})

	t.Run("alias", func(t *testing.T) {
		require.NoError(t, run(t, "-l", "debug"))
	})

	t.Run("invalid log level returns error", func(t *testing.T) {
		err := run(t, "--log-level", "invalid")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})
}

// runApp runs the CLI against dataDir with a mock provider and returns stdout.
func runApp(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	engineOptions = []ragqa.Option{ragqa.WithProvider(mock.NewMockProvider())}
	t.Cleanup(func() { engineOptions = nil })

	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run(append([]string{"ragqa", "--log-level", "error", "--data-dir", dataDir}, args...))
	return out.String(), err
}

var idPattern = regexp.MustCompile(`doc_[0-9a-f]{12}`)

func TestCommands(t *testing.T) {
	t.Setenv("RAGQA_SIMILARITY_THRESHOLD", "-1")
	t.Chdir(t.TempDir())
	dataDir := t.TempDir()

	file := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("The lighthouse beam cut through fog, guiding sailors safely home."), 0o644))

	out, err := runApp(t, dataDir, "upload", file)
	require.NoError(t, err)
	assert.Contains(t, out, "notes.txt")
	assert.Contains(t, out, "completed")
	id := idPattern.FindString(out)
	require.NotEmpty(t, id)

	t.Run("status", func(t *testing.T) {
		out, err := runApp(t, dataDir, "status", id)
		require.NoError(t, err)
		assert.Contains(t, out, id)
		assert.Contains(t, out, "completed")
	})

	t.Run("list", func(t *testing.T) {
		out, err := runApp(t, dataDir, "list")
		require.NoError(t, err)
		assert.Contains(t, out, id)
		assert.Contains(t, out, "CHUNKS")

		out, err = runApp(t, dataDir, "list", "--state", "failed")
		require.NoError(t, err)
		assert.Contains(t, out, "No documents.")

		_, err = runApp(t, dataDir, "list", "--state", "bogus")
		assert.Error(t, err)
	})

	t.Run("ask", func(t *testing.T) {
		out, err := runApp(t, dataDir, "ask", "--verbose", "--doc", id, "What guides the sailors?")
		require.NoError(t, err)
		assert.Contains(t, out, `Answer to "What guides the sailors?" from 1 sources.`)
		assert.Contains(t, out, "notes.txt (chunk 1")
		assert.Contains(t, out, "timing:")
	})

	t.Run("ask rejects a short question", func(t *testing.T) {
		_, err := runApp(t, dataDir, "ask", "Why")
		assert.ErrorIs(t, err, core.ErrInvalidQuestion)
	})

	t.Run("ask rejects a malformed doc id", func(t *testing.T) {
		_, err := runApp(t, dataDir, "ask", "--doc", "nope", "What guides the sailors?")
		assert.ErrorIs(t, err, core.ErrInvalidDocumentID)
	})

	t.Run("reingest", func(t *testing.T) {
		out, err := runApp(t, dataDir, "reingest", id)
		require.NoError(t, err)
		assert.Contains(t, out, "completed")
	})

	t.Run("reembed", func(t *testing.T) {
		_, err := runApp(t, dataDir, "reembed", "--batch-size", "2")
		require.NoError(t, err)

		_, err = runApp(t, dataDir, "reembed", "--batch-size", "0")
		assert.Error(t, err)
	})

	t.Run("health", func(t *testing.T) {
		out, err := runApp(t, dataDir, "health")
		require.NoError(t, err)
		assert.Contains(t, out, "healthy")
		assert.Contains(t, out, "documents:  1")
	})

	t.Run("delete", func(t *testing.T) {
		out, err := runApp(t, dataDir, "delete", id)
		require.NoError(t, err)
		assert.Contains(t, out, "Deleted "+id)

		_, err = runApp(t, dataDir, "status", id)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})
}

func TestCommands_Arguments(t *testing.T) {
	t.Chdir(t.TempDir())
	dataDir := t.TempDir()

	_, err := runApp(t, dataDir, "status")
	assert.ErrorIs(t, err, errMissingArgument)

	_, err = runApp(t, dataDir, "upload")
	assert.ErrorIs(t, err, errMissingArgument)

	_, err = runApp(t, dataDir, "ask")
	assert.ErrorIs(t, err, errMissingArgument)

	_, err = runApp(t, dataDir, "status", "not-an-id")
	assert.ErrorIs(t, err, core.ErrInvalidDocumentID)

	_, err = runApp(t, dataDir, "upload", filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestAsk_EmptyIndex(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := runApp(t, t.TempDir(), "ask", "Is anything indexed yet?")
	assert.ErrorIs(t, err, core.ErrIndexEmpty)
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "a b c", excerpt("a\n b\t c", 10))
	assert.Equal(t, "abcd…", excerpt("abcdefgh", 5))
}

func TestRenderDetails_NoSources(t *testing.T) {
	out := renderDetails(&core.QueryResult{Answer: core.NoRelevantAnswer})
	assert.Contains(t, out, "No chunk cleared the similarity threshold.")
	assert.NotContains(t, out, "similarity:")
}
