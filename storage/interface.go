package storage

import (
	"context"

	"github.com/iabalyuk/librarybot/library"
)

// StorageInterface defines the interface for storage implementations.
//
// Lookups that find nothing return the matching library error
// (ErrNotRegistered, ErrBookNotFound, ErrReservationNotFound). Any other error
// is an upstream failure.
type StorageInterface interface {
	// GetUser returns the user registered for chatID
	GetUser(ctx context.Context, chatID int64) (*library.User, error)

	// FindUserByPhoneIndex returns the user whose phone blind index equals index
	FindUserByPhoneIndex(ctx context.Context, index string) (*library.User, error)

	// CreateUser stores a new user. It fails with ErrAlreadyExists when the chat
	// is registered and ErrDuplicatePhone when the phone index is taken.
	CreateUser(ctx context.Context, u *library.User) error

	// SetUserLanguage updates the preferred language of a registered user
	SetUserLanguage(ctx context.Context, chatID int64, lang library.Language) error

	// AddBook stores a new book; ErrDuplicateBookID if the external id is taken
	AddBook(ctx context.Context, b *library.Book) error

	// RemoveBook deletes a book; ErrBookReserved while it has a reservation
	RemoveBook(ctx context.Context, bookID int64) error

	// GetBook returns a book by its external id
	GetBook(ctx context.Context, bookID int64) (*library.Book, error)

	// ListCategories returns the distinct categories of books in language, sorted
	ListCategories(ctx context.Context, language string) ([]string, error)

	// ListAvailableBooks returns available books for a language/category pair, ordered by id
	ListAvailableBooks(ctx context.Context, language, category string) ([]library.Book, error)

	// FindReservation returns the reservation chatID holds on bookID
	FindReservation(ctx context.Context, bookID, chatID int64) (*library.Reservation, error)

	// FindReservationByBook returns the reservation on bookID, whoever holds it
	FindReservationByBook(ctx context.Context, bookID int64) (*library.Reservation, error)

	// CommitReservation inserts r and marks its book unavailable as one unit.
	// It fails with ErrBookUnavailable, leaving nothing changed, when the book
	// is missing or already unavailable.
	CommitReservation(ctx context.Context, r *library.Reservation) error

	// ReleaseReservation deletes r and marks its book available as one unit.
	// It fails with ErrReservationNotFound when r no longer exists.
	ReleaseReservation(ctx context.Context, r *library.Reservation) error

	// ListReservations returns every reservation, oldest first
	ListReservations(ctx context.Context) ([]library.ReservationDetail, error)

	// ListUserReservations returns the reservations held by chatID, oldest first
	ListUserReservations(ctx context.Context, chatID int64) ([]library.ReservationDetail, error)

	// Close releases resources
	Close() error
}
