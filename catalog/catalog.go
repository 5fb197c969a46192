// Package catalog implements the librarian's inventory commands.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/iabalyuk/librarybot/library"
)

// Store is the storage the catalog writes to.
type Store interface {
	AddBook(ctx context.Context, b *library.Book) error
	RemoveBook(ctx context.Context, bookID int64) error
	GetBook(ctx context.Context, bookID int64) (*library.Book, error)
}

// Result reports the outcome of an add-books batch.
type Result struct {
	Added  []library.Book
	Failed []library.EntryError
}

// Service manages the book inventory.
type Service struct {
	store Store
}

// NewService creates a catalog service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// AddBooks parses a batch of `<id> <language> "<category>" "<title>"` entries
// separated by ';' and stores each valid one. Malformed entries and duplicate
// ids are reported per entry. A storage failure stops the batch and is
// returned together with what was added so far.
func (s *Service) AddBooks(ctx context.Context, input string) (Result, error) {
	books, failed := library.ParseBookEntries(input)
	res := Result{Failed: failed}
	if len(books) == 0 && len(failed) == 0 {
		return res, library.ErrMissingArgument.With("no book entries")
	}

	for i := range books {
		b := books[i]
		err := s.store.AddBook(ctx, &b)
		switch {
		case err == nil:
			res.Added = append(res.Added, b)
		case library.KindOf(err) == library.KindConflict:
			res.Failed = append(res.Failed, library.EntryError{Entry: fmt.Sprintf("%d", b.ID), Err: err})
		default:
			return res, fmt.Errorf("add book %d: %w", b.ID, err)
		}
	}

	slog.Info("books added", "added", len(res.Added), "failed", len(res.Failed))
	return res, nil
}

// RemoveBook deletes a book. Books with an active reservation are kept.
func (s *Service) RemoveBook(ctx context.Context, bookID int64) (*library.Book, error) {
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if err := s.store.RemoveBook(ctx, bookID); err != nil {
		if errors.Is(err, library.ErrBookReserved) {
			return nil, library.ErrBookReserved.With("book %d", bookID)
		}
		return nil, err
	}
	slog.Info("book removed", "book_id", bookID)
	return book, nil
}
