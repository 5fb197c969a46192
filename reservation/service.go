// Package reservation implements reserving and cancelling books.
//
// The store applies each reservation change as one consistency unit: the
// reservation row and the book's availability flag change together or not
// at all. The service only performs the lookups and checks around it.
package reservation

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/iabalyuk/librarybot/library"
)

// Store is the storage the service works on.
type Store interface {
	GetUser(ctx context.Context, chatID int64) (*library.User, error)
	GetBook(ctx context.Context, bookID int64) (*library.Book, error)
	FindReservation(ctx context.Context, bookID, chatID int64) (*library.Reservation, error)
	FindReservationByBook(ctx context.Context, bookID int64) (*library.Reservation, error)
	CommitReservation(ctx context.Context, r *library.Reservation) error
	ReleaseReservation(ctx context.Context, r *library.Reservation) error
	ListReservations(ctx context.Context) ([]library.ReservationDetail, error)
	ListUserReservations(ctx context.Context, chatID int64) ([]library.ReservationDetail, error)
}

// Decrypter reveals a stored phone number.
type Decrypter interface {
	Decrypt(ciphertext, keyMaterial string) (string, error)
}

// Receipt describes a reservation that was just created or removed.
type Receipt struct {
	Reservation library.Reservation
	Book        library.Book
	PatronName  string
	// Phone is the patron's decrypted phone number, for the librarian only.
	// Empty for librarian-entered reservations or when it cannot be read.
	Phone string
}

// Service runs the reservation protocol.
type Service struct {
	store   Store
	secrets Decrypter
	newID   func() string
}

// NewService creates a reservation service.
func NewService(store Store, secrets Decrypter) *Service {
	return &Service{store: store, secrets: secrets, newID: uuid.NewString}
}

// availableBook returns the book if it exists and is available. Missing and
// reserved books are reported identically.
func (s *Service) availableBook(ctx context.Context, bookID int64) (*library.Book, error) {
	book, err := s.store.GetBook(ctx, bookID)
	if errors.Is(err, library.ErrBookNotFound) {
		return nil, library.ErrBookUnavailable.With("book %d", bookID)
	}
	if err != nil {
		return nil, err
	}
	if !book.Available {
		return nil, library.ErrBookUnavailable.With("book %d", bookID)
	}
	return book, nil
}

// Reserve reserves bookID for the registered patron chatID.
func (s *Service) Reserve(ctx context.Context, chatID, bookID int64) (*Receipt, error) {
	book, err := s.availableBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUser(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !user.HasPhone() {
		return nil, library.ErrCorruptProfile
	}
	phone, err := s.secrets.Decrypt(user.PhoneCipher, user.PhoneKey)
	if err != nil {
		slog.Error("failed to decrypt patron phone", "chat_id", chatID, "error", err)
		return nil, library.ErrCorruptProfile
	}

	r := &library.Reservation{
		ID:         s.newID(),
		BookID:     book.ID,
		ChatID:     chatID,
		Name:       user.Name,
		PickupTime: library.DefaultPickupTime,
	}
	if err := s.store.CommitReservation(ctx, r); err != nil {
		return nil, err
	}
	book.Available = false

	slog.Info("book reserved", "chat_id", chatID, "book_id", bookID, "reservation_id", r.ID)
	return &Receipt{Reservation: *r, Book: *book, PatronName: user.Name, Phone: phone}, nil
}

// Cancel removes the reservation chatID holds on bookID. A patron cannot
// cancel somebody else's reservation.
func (s *Service) Cancel(ctx context.Context, chatID, bookID int64) (*Receipt, error) {
	user, err := s.store.GetUser(ctx, chatID)
	if err != nil {
		return nil, err
	}
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	r, err := s.store.FindReservation(ctx, bookID, chatID)
	if err != nil {
		return nil, err
	}
	if err := s.store.ReleaseReservation(ctx, r); err != nil {
		return nil, err
	}
	book.Available = true

	slog.Info("reservation cancelled", "chat_id", chatID, "book_id", bookID, "reservation_id", r.ID)
	return &Receipt{Reservation: *r, Book: *book, PatronName: user.Name, Phone: s.revealPhone(user)}, nil
}

// ForceReserve lets the librarian reserve bookID for a patron who is only
// known by name. An empty pickup uses the default label.
func (s *Service) ForceReserve(ctx context.Context, name string, bookID int64, pickup string) (*Receipt, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, library.ErrEmptyName
	}
	pickup = strings.TrimSpace(pickup)
	if pickup == "" {
		pickup = library.DefaultPickupTime
	}
	book, err := s.availableBook(ctx, bookID)
	if err != nil {
		return nil, err
	}

	r := &library.Reservation{
		ID:         s.newID(),
		BookID:     book.ID,
		Name:       name,
		PickupTime: pickup,
	}
	if err := s.store.CommitReservation(ctx, r); err != nil {
		return nil, err
	}
	book.Available = false

	slog.Info("manual reservation added", "book_id", bookID, "reservation_id", r.ID)
	return &Receipt{Reservation: *r, Book: *book, PatronName: name}, nil
}

// ForceCancel lets the librarian remove the reservation on bookID whoever holds it.
func (s *Service) ForceCancel(ctx context.Context, bookID int64) (*Receipt, error) {
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	r, err := s.store.FindReservationByBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if err := s.store.ReleaseReservation(ctx, r); err != nil {
		return nil, err
	}
	book.Available = true

	receipt := &Receipt{Reservation: *r, Book: *book, PatronName: r.Name}
	if !r.IsManual() {
		if user, err := s.store.GetUser(ctx, r.ChatID); err == nil {
			receipt.PatronName = user.Name
			receipt.Phone = s.revealPhone(user)
		}
	}
	slog.Info("reservation cancelled by librarian", "book_id", bookID, "reservation_id", r.ID)
	return receipt, nil
}

// MyReservations lists the reservations of a registered patron.
func (s *Service) MyReservations(ctx context.Context, chatID int64) ([]library.ReservationDetail, error) {
	if _, err := s.store.GetUser(ctx, chatID); err != nil {
		return nil, err
	}
	return s.store.ListUserReservations(ctx, chatID)
}

// AllReservations lists every reservation, oldest first.
func (s *Service) AllReservations(ctx context.Context) ([]library.ReservationDetail, error) {
	return s.store.ListReservations(ctx)
}

// revealPhone decrypts the patron's phone after the change has been applied;
// a failure only degrades the librarian notice.
func (s *Service) revealPhone(user *library.User) string {
	if !user.HasPhone() {
		return ""
	}
	phone, err := s.secrets.Decrypt(user.PhoneCipher, user.PhoneKey)
	if err != nil {
		slog.Warn("failed to decrypt patron phone", "chat_id", user.ChatID, "error", err)
		return ""
	}
	return phone
}
