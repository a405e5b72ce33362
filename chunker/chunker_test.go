package chunker

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/poiesic/ragqa/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_Scenario512Overlap50(t *testing.T) {
	text := strings.Repeat("x", 1000)

	chunks, err := Split(text, 512, 50)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 462, chunks[1].Start)
	assert.Equal(t, 924, chunks[2].Start)
	assert.Equal(t, 76, len([]rune(chunks[2].Text)))
	assert.Equal(t, 1000, chunks[2].End)
}

func TestSplit_EmptyText(t *testing.T) {
	chunks, err := Split("", 512, 50)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplit_ShortText(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"single character", "a"},
		{"whitespace only", "   \n\t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := Split(tt.text, 512, 50)
			require.NoError(t, err)
			require.Len(t, chunks, 1)
			assert.Equal(t, tt.text, chunks[0].Text)
			assert.Equal(t, 0, chunks[0].Start)
			assert.Equal(t, len([]rune(tt.text)), chunks[0].End)
		})
	}
}

func TestSplit_InvalidParameters(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
	}{
		{"zero size", 0, 0},
		{"negative size", -1, 0},
		{"negative overlap", 10, -1},
		{"overlap equals size", 10, 10},
		{"overlap above size", 10, 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Split("some text", tt.size, tt.overlap)
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrConfiguration)

			_, err = New(tt.size, tt.overlap)
			assert.ErrorIs(t, err, core.ErrConfiguration)
		})
	}
}

func TestSplit_Reconstruction(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("abc déf ghï\njklé世界🙂")

	for i := 0; i < 200; i++ {
		n := rng.Intn(300)
		runes := make([]rune, n)
		for j := range runes {
			runes[j] = alphabet[rng.Intn(len(alphabet))]
		}
		text := string(runes)
		size := 1 + rng.Intn(40)
		overlap := rng.Intn(size)

		chunks, err := Split(text, size, overlap)
		require.NoError(t, err)

		assert.Equal(t, text, Join(chunks), "size=%d overlap=%d", size, overlap)
		for idx, c := range chunks {
			assert.Equal(t, idx, c.Index)
			assert.True(t, c.Start >= 0 && c.Start < c.End && c.End <= n,
				"invalid offsets [%d,%d) for length %d", c.Start, c.End, n)
			assert.Equal(t, string(runes[c.Start:c.End]), c.Text)
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)

	first, err := Split(text, 100, 20)
	require.NoError(t, err)
	second, err := Split(text, 100, 20)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSplit_TrailingWindowInsideOverlap(t *testing.T) {
	// 500 runes at 512/50: the second window starts at 462 and is fully overlapped.
	text := strings.Repeat("y", 500)

	chunks, err := Split(text, 512, 50)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 462, chunks[1].Start)
	assert.Equal(t, 500, chunks[1].End)
	assert.Equal(t, text, Join(chunks))
}

func TestChunker(t *testing.T) {
	c, err := New(4, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Size())
	assert.Equal(t, 1, c.Overlap())

	chunks := c.Split("abcdefghij")
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	assert.Equal(t, []string{"abcd", "defg", "ghij", "j"}, texts)
}
