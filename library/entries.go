package library

import (
	"regexp"
	"strconv"
	"strings"
)

// EntrySeparator splits the entries of an add-books batch.
const EntrySeparator = ";"

// Quoted fields may contain quotes themselves; category and title are split
// at the last `" "` boundary.
var entryRe = regexp.MustCompile(`^(\d+)\s+(.+?)\s+"(.+)"\s+"(.+)"$`)

// EntryError reports a batch entry that could not be turned into a book.
type EntryError struct {
	Entry string
	Err   error
}

func (e EntryError) Error() string { return e.Entry + ": " + e.Err.Error() }

func (e EntryError) Unwrap() error { return e.Err }

// ParseBookEntries parses `<id> <language> "<category>" "<title>"` entries
// separated by ';'. Malformed entries are reported individually and do not
// abort the batch. Blank entries are ignored.
func ParseBookEntries(input string) ([]Book, []EntryError) {
	var (
		books []Book
		errs  []EntryError
	)
	for _, raw := range strings.Split(input, EntrySeparator) {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		b, err := ParseBookEntry(entry)
		if err != nil {
			errs = append(errs, EntryError{Entry: entry, Err: err})
			continue
		}
		books = append(books, b)
	}
	return books, errs
}

// ParseBookEntry parses a single add-books entry.
func ParseBookEntry(entry string) (Book, error) {
	m := entryRe.FindStringSubmatch(strings.TrimSpace(entry))
	if m == nil {
		return Book{}, ErrMalformedEntry
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id <= 0 {
		return Book{}, ErrInvalidBookID.With("%q", m[1])
	}
	lang := strings.TrimSpace(m[2])
	if known, ok := ParseLanguage(lang); ok {
		lang = string(known)
	}
	return Book{
		ID:        id,
		Language:  lang,
		Category:  strings.TrimSpace(m[3]),
		Title:     strings.TrimSpace(m[4]),
		Available: true,
	}, nil
}

// ParseBookID parses a positive external book id.
func ParseBookID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidBookID.With("%q", s)
	}
	return id, nil
}
