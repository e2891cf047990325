// ABOUTME: Tests for splitting replies into transport-sized chunks.
// ABOUTME: Checks chunk sizes, order preservation and rune safety.

package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		sizes []int
	}{
		{"empty", "", 10, nil},
		{"fits", "hello", 10, []int{5}},
		{"exact", strings.Repeat("a", 10), 10, []int{10}},
		{"one over", strings.Repeat("a", 11), 10, []int{10, 1}},
		{"three chunks", strings.Repeat("a", 9000), 4096, []int{4096, 4096, 808}},
		{"no limit", strings.Repeat("a", 50), 0, []int{50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := SplitMessage(tt.text, tt.limit)
			var sizes []int
			for _, c := range chunks {
				sizes = append(sizes, len([]rune(c)))
			}
			assert.Equal(t, tt.sizes, sizes)
			assert.Equal(t, tt.text, strings.Join(chunks, ""), "chunks concatenate back to the text")
		})
	}
}

func TestSplitMessage_MultiByte(t *testing.T) {
	text := strings.Repeat("встреча ", 100) // 800 runes, 1500 bytes
	chunks := SplitMessage(text, 300)

	assert.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 300)
		assert.True(t, strings.ToValidUTF8(c, "?") == c, "chunk is valid UTF-8")
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}
