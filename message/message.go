// Package message describes outgoing chat replies independently of the transport.
package message

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/iabalyuk/librarybot/library"
)

// Format selects how the transport should parse a reply's text.
type Format int

const (
	FormatNone Format = iota
	FormatMarkdown
	FormatHTML
)

// Button is an inline keyboard button carrying callback data.
type Button struct {
	Label string
	Data  string
}

// Reply is one outgoing message.
type Reply struct {
	Text    string
	Format  Format
	Buttons [][]Button
}

// Text builds a plain-text reply.
func Text(s string) Reply {
	return Reply{Text: s}
}

// HTML builds a reply parsed as Telegram HTML. Callers escape user content with Escape.
func HTML(s string) Reply {
	return Reply{Text: s, Format: FormatHTML}
}

// WithButtons returns r with the given keyboard rows appended.
func (r Reply) WithButtons(rows ...[]Button) Reply {
	r.Buttons = append(r.Buttons, rows...)
	return r
}

// Row groups buttons into one keyboard row.
func Row(buttons ...Button) []Button {
	return buttons
}

// Escape escapes s for a FormatHTML reply.
func Escape(s string) string {
	return html.EscapeString(s)
}

// Callback data tokens.
const (
	CallbackRegister       = "register"
	CallbackHelp           = "help"
	CallbackBrowse         = "browse"
	CallbackBackToMainMenu = "back_to_main_menu"
	CallbackBackToLanguage = "back_to_language"
	CallbackBackToCategory = "back_to_category"

	LanguagePrefix = "lang:"
	CategoryPrefix = "cat:"
)

// MaxCallbackData is Telegram's limit on callback data, in bytes.
const MaxCallbackData = 64

// LanguageData returns the callback data selecting l.
func LanguageData(l library.Language) string {
	return LanguagePrefix + string(l)
}

// CategoryData returns the callback data selecting category, cut to
// MaxCallbackData bytes on a rune boundary.
func CategoryData(category string) string {
	return truncate(CategoryPrefix+category, MaxCallbackData)
}

// MatchesCategoryData reports whether data (without prefix) was produced by
// CategoryData for category, truncated or not.
func MatchesCategoryData(category, data string) bool {
	return category == data || CategoryData(category) == CategoryPrefix+data
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		cut = max
	}
	return s[:cut]
}

// Chunks splits text into pieces of at most limit bytes, preferring line
// boundaries. A single line longer than limit is cut on a rune boundary.
// Pieces holding only whitespace are dropped.
func Chunks(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var (
		chunks  []string
		current strings.Builder
	)
	flush := func() {
		chunk := strings.Trim(current.String(), "\n")
		current.Reset()
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			flush()
			part := truncate(line, limit)
			chunks = append(chunks, part)
			line = line[len(part):]
		}
		if current.Len()+len(line) > limit {
			flush()
		}
		current.WriteString(line)
	}
	flush()
	return chunks
}
