package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iabalyuk/librarybot/library"
)

// Storage represents a thread-safe in-memory storage for users, books and reservations.
// It implements the StorageInterface; each consistency unit runs under one write lock.
type Storage struct {
	mu           sync.RWMutex
	users        map[int64]library.User
	phones       map[string]int64               // phone index -> chat id
	books        map[int64]library.Book         // external id -> book
	reservations map[string]library.Reservation // reservation id -> reservation
	byBook       map[int64]string               // external book id -> reservation id
	now          func() time.Time
}

// New creates a new storage instance
func New() *Storage {
	return &Storage{
		users:        make(map[int64]library.User),
		phones:       make(map[string]int64),
		books:        make(map[int64]library.Book),
		reservations: make(map[string]library.Reservation),
		byBook:       make(map[int64]string),
		now:          time.Now,
	}
}

// GetUser returns the user registered for chatID
func (s *Storage) GetUser(_ context.Context, chatID int64) (*library.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[chatID]
	if !ok {
		return nil, library.ErrNotRegistered
	}
	return &u, nil
}

// FindUserByPhoneIndex returns the user owning the phone index
func (s *Storage) FindUserByPhoneIndex(_ context.Context, index string) (*library.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chatID, ok := s.phones[index]
	if !ok {
		return nil, library.ErrNotRegistered
	}
	u := s.users[chatID]
	return &u, nil
}

// CreateUser stores a new user
func (s *Storage) CreateUser(_ context.Context, u *library.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ChatID]; ok {
		return library.ErrAlreadyExists
	}
	if _, ok := s.phones[u.PhoneIndex]; ok && u.PhoneIndex != "" {
		return library.ErrDuplicatePhone
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.users[u.ChatID] = *u
	if u.PhoneIndex != "" {
		s.phones[u.PhoneIndex] = u.ChatID
	}
	return nil
}

// SetUserLanguage updates the preferred language
func (s *Storage) SetUserLanguage(_ context.Context, chatID int64, lang library.Language) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[chatID]
	if !ok {
		return library.ErrNotRegistered
	}
	u.Language = lang
	s.users[chatID] = u
	return nil
}

// AddBook stores a new book
func (s *Storage) AddBook(_ context.Context, b *library.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.books[b.ID]; ok {
		return library.ErrDuplicateBookID.With("id %d", b.ID)
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}
	s.books[b.ID] = *b
	return nil
}

// RemoveBook deletes a book that has no reservation
func (s *Storage) RemoveBook(_ context.Context, bookID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.books[bookID]; !ok {
		return library.ErrBookNotFound
	}
	if _, ok := s.byBook[bookID]; ok {
		return library.ErrBookReserved
	}
	delete(s.books, bookID)
	return nil
}

// GetBook returns a book by external id
func (s *Storage) GetBook(_ context.Context, bookID int64) (*library.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.books[bookID]
	if !ok {
		return nil, library.ErrBookNotFound
	}
	return &b, nil
}

// ListCategories returns the sorted distinct categories for a language
func (s *Storage) ListCategories(_ context.Context, language string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var categories []string
	for _, b := range s.books {
		if b.Language != language {
			continue
		}
		if _, ok := seen[b.Category]; ok {
			continue
		}
		seen[b.Category] = struct{}{}
		categories = append(categories, b.Category)
	}
	sort.Strings(categories)
	return categories, nil
}

// ListAvailableBooks returns available books for the pair, ordered by id
func (s *Storage) ListAvailableBooks(_ context.Context, language, category string) ([]library.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var books []library.Book
	for _, b := range s.books {
		if b.Available && b.Language == language && b.Category == category {
			books = append(books, b)
		}
	}
	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	return books, nil
}

// FindReservation returns the reservation chatID holds on bookID
func (s *Storage) FindReservation(_ context.Context, bookID, chatID int64) (*library.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byBook[bookID]
	if !ok {
		return nil, library.ErrReservationNotFound
	}
	r := s.reservations[id]
	if r.ChatID != chatID {
		return nil, library.ErrReservationNotFound
	}
	return &r, nil
}

// FindReservationByBook returns the reservation on bookID
func (s *Storage) FindReservationByBook(_ context.Context, bookID int64) (*library.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byBook[bookID]
	if !ok {
		return nil, library.ErrReservationNotFound
	}
	r := s.reservations[id]
	return &r, nil
}

// CommitReservation inserts r and flips the book to unavailable
func (s *Storage) CommitReservation(_ context.Context, r *library.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[r.BookID]
	if !ok || !b.Available {
		return library.ErrBookUnavailable
	}
	if _, ok := s.byBook[r.BookID]; ok {
		return library.ErrBookUnavailable
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	b.Available = false
	s.books[r.BookID] = b
	s.reservations[r.ID] = *r
	s.byBook[r.BookID] = r.ID
	return nil
}

// ReleaseReservation deletes r and flips the book back to available
func (s *Storage) ReleaseReservation(_ context.Context, r *library.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reservations[r.ID]; !ok {
		return library.ErrReservationNotFound
	}
	delete(s.reservations, r.ID)
	delete(s.byBook, r.BookID)
	if b, ok := s.books[r.BookID]; ok {
		b.Available = true
		s.books[r.BookID] = b
	}
	return nil
}

// ListReservations returns all reservations, oldest first
func (s *Storage) ListReservations(_ context.Context) ([]library.ReservationDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.details(func(library.Reservation) bool { return true }), nil
}

// ListUserReservations returns the reservations held by chatID, oldest first
func (s *Storage) ListUserReservations(_ context.Context, chatID int64) ([]library.ReservationDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.details(func(r library.Reservation) bool { return r.ChatID == chatID }), nil
}

// details must be called with the read lock held
func (s *Storage) details(keep func(library.Reservation) bool) []library.ReservationDetail {
	var out []library.ReservationDetail
	for _, r := range s.reservations {
		if !keep(r) {
			continue
		}
		d := library.ReservationDetail{Reservation: r, Book: s.books[r.BookID], PatronName: r.Name}
		if u, ok := s.users[r.ChatID]; ok && !r.IsManual() {
			d.PatronName = u.Name
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].BookID < out[j].BookID
	})
	return out
}

// Close is a no-op for the in-memory storage
func (s *Storage) Close() error { return nil }
