package message

import (
	"strings"
	"testing"

	"github.com/iabalyuk/librarybot/library"
	"github.com/stretchr/testify/assert"
)

func TestChunksKeepsShortTextWhole(t *testing.T) {
	assert.Equal(t, []string{"hello\nworld"}, Chunks("hello\nworld", 4096))
}

func TestChunksSplitsOnLines(t *testing.T) {
	line := strings.Repeat("a", 30)
	text := strings.Join([]string{line, line, line, line}, "\n")

	chunks := Chunks(text, 70)
	assert.Equal(t, []string{line + "\n" + line, line + "\n" + line}, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 70)
	}
}

func TestChunksCutsOverlongLine(t *testing.T) {
	text := strings.Repeat("é", 50) // 100 bytes
	chunks := Chunks(text, 33)
	assert.Equal(t, text, strings.Join(chunks, ""))
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 33)
		assert.True(t, strings.HasPrefix(c, "é"), "chunk must start on a rune boundary")
	}
}

func TestChunksDropsBlankPieces(t *testing.T) {
	long := strings.Repeat("a", 4096)
	assert.Equal(t, []string{long}, Chunks(long+"\n\n\n", 4096))

	line := strings.Repeat("b", 10)
	chunks := Chunks(line+"\n"+strings.Repeat("\n", 12)+line, 11)
	assert.Equal(t, []string{line, line}, chunks)
}

func TestCallbackData(t *testing.T) {
	assert.Equal(t, "lang:Arabic", LanguageData(library.LanguageArabic))
	assert.Equal(t, "cat:Fiqh", CategoryData("Fiqh"))
	assert.True(t, MatchesCategoryData("Fiqh", "Fiqh"))
	assert.False(t, MatchesCategoryData("Fiqh", "Tafsir"))

	long := strings.Repeat("Category ", 12)
	data := CategoryData(long)
	assert.LessOrEqual(t, len(data), MaxCallbackData)
	assert.True(t, MatchesCategoryData(long, strings.TrimPrefix(data, CategoryPrefix)))
}

func TestReplyBuilders(t *testing.T) {
	r := HTML("<b>" + Escape("a<b") + "</b>").WithButtons(Row(Button{Label: "Help", Data: CallbackHelp}))
	assert.Equal(t, FormatHTML, r.Format)
	assert.Equal(t, "<b>a&lt;b</b>", r.Text)
	assert.Len(t, r.Buttons, 1)
	assert.Equal(t, FormatNone, Text("x").Format)
}
