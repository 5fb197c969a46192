package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iabalyuk/librarybot/library"
	"github.com/mattn/go-sqlite3"
)

// SQLiteStorage represents a persistent storage using SQLite.
// Consistency units run in a single IMMEDIATE transaction each.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// NewSQLiteStorage opens (or creates) the database at dbPath and applies the schema
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath == "" {
		dbPath = "librarybot.db"
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db dir: %w", err)
		}
	}

	// IMMEDIATE transactions take the write lock up front so two reservations
	// of the same book serialise instead of failing on lock upgrade.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := migrateSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &SQLiteStorage{db: db, dbPath: dbPath, now: time.Now}, nil
}

// createTables creates the necessary tables in the database
func createTables(db *sql.DB) error {
	stmts := []struct {
		name string
		sql  string
	}{
		{"meta", `
			CREATE TABLE IF NOT EXISTS meta (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`},
		{"users", `
			CREATE TABLE IF NOT EXISTS users (
				chat_id INTEGER PRIMARY KEY,
				name TEXT NOT NULL,
				phone_cipher TEXT NOT NULL,
				phone_key TEXT NOT NULL,
				phone_index TEXT NOT NULL UNIQUE,
				created_at TIMESTAMP NOT NULL
			)`},
		{"books", `
			CREATE TABLE IF NOT EXISTS books (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				external_id INTEGER NOT NULL UNIQUE,
				title TEXT NOT NULL,
				language TEXT NOT NULL,
				category TEXT NOT NULL,
				available BOOLEAN NOT NULL DEFAULT 1,
				created_at TIMESTAMP NOT NULL
			)`},
		// book_id is UNIQUE: at most one reservation per book, whatever the flag says.
		{"reservations", `
			CREATE TABLE IF NOT EXISTS reservations (
				id TEXT PRIMARY KEY,
				book_id INTEGER NOT NULL UNIQUE REFERENCES books(id),
				chat_id INTEGER REFERENCES users(chat_id),
				name TEXT NOT NULL DEFAULT '',
				pickup_time TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL
			)`},
		{"books language/category index", `CREATE INDEX IF NOT EXISTS idx_books_language_category ON books(language, category)`},
		{"reservations chat index", `CREATE INDEX IF NOT EXISTS idx_reservations_chat ON reservations(chat_id)`},
	}
	for _, st := range stmts {
		if _, err := db.Exec(st.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", st.name, err)
		}
	}
	return nil
}

// migrateSchema checks for and applies schema changes made after the first release
func migrateSchema(db *sql.DB) error {
	slog.Debug("checking database schema")

	exists, err := columnExists(db, "users", "language")
	if err != nil {
		return err
	}
	if !exists {
		slog.Info("schema migration: adding users.language")
		if _, err := db.Exec(`ALTER TABLE users ADD COLUMN language TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("failed to add language column: %w", err)
		}
	}

	_, err = db.Exec(`INSERT INTO meta(key, value) VALUES('schema_version', '2')
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("failed to query table info for %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			typeName  string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typeName, &notnull, &dfltValue, &pk); err != nil {
			return false, fmt.Errorf("failed to scan table info row: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("error iterating table info rows: %w", err)
	}
	return false, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

const userColumns = `chat_id, name, phone_cipher, phone_key, phone_index, language, created_at`

func scanUser(row interface{ Scan(...any) error }) (*library.User, error) {
	var (
		u    library.User
		lang string
	)
	if err := row.Scan(&u.ChatID, &u.Name, &u.PhoneCipher, &u.PhoneKey, &u.PhoneIndex, &lang, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Language = library.Language(lang)
	return &u, nil
}

// GetUser returns the user registered for chatID
func (s *SQLiteStorage) GetUser(ctx context.Context, chatID int64) (*library.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE chat_id = ?`, chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, library.ErrNotRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", chatID, err)
	}
	return u, nil
}

// FindUserByPhoneIndex returns the user owning the phone index
func (s *SQLiteStorage) FindUserByPhoneIndex(ctx context.Context, index string) (*library.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone_index = ?`, index))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, library.ErrNotRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("find user by phone: %w", err)
	}
	return u, nil
}

// CreateUser stores a new user
func (s *SQLiteStorage) CreateUser(ctx context.Context, u *library.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO users(`+userColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		u.ChatID, u.Name, u.PhoneCipher, u.PhoneKey, u.PhoneIndex, string(u.Language), u.CreatedAt)
	if err != nil {
		switch {
		case isConstraint(err, "users.phone_index"):
			return library.ErrDuplicatePhone
		case isConstraint(err, "users.chat_id"):
			return library.ErrAlreadyExists
		}
		return fmt.Errorf("create user %d: %w", u.ChatID, err)
	}
	return nil
}

// SetUserLanguage updates the preferred language
func (s *SQLiteStorage) SetUserLanguage(ctx context.Context, chatID int64, lang library.Language) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET language = ? WHERE chat_id = ?`, string(lang), chatID)
	if err != nil {
		return fmt.Errorf("set language for %d: %w", chatID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return library.ErrNotRegistered
	}
	return nil
}

// AddBook stores a new book
func (s *SQLiteStorage) AddBook(ctx context.Context, b *library.Book) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO books(external_id, title, language, category, available, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		b.ID, b.Title, b.Language, b.Category, b.Available, b.CreatedAt)
	if err != nil {
		if isConstraint(err, "books.external_id") {
			return library.ErrDuplicateBookID.With("id %d", b.ID)
		}
		return fmt.Errorf("add book %d: %w", b.ID, err)
	}
	return nil
}

// RemoveBook deletes a book that has no reservation
func (s *SQLiteStorage) RemoveBook(ctx context.Context, bookID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("remove book: begin: %w", err)
	}
	defer tx.Rollback()

	var internalID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM books WHERE external_id = ?`, bookID).Scan(&internalID)
	if errors.Is(err, sql.ErrNoRows) {
		return library.ErrBookNotFound
	}
	if err != nil {
		return fmt.Errorf("remove book %d: %w", bookID, err)
	}

	var reserved bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM reservations WHERE book_id = ?)`, internalID).Scan(&reserved); err != nil {
		return fmt.Errorf("remove book %d: %w", bookID, err)
	}
	if reserved {
		return library.ErrBookReserved
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, internalID); err != nil {
		return fmt.Errorf("remove book %d: %w", bookID, err)
	}
	return tx.Commit()
}

const bookColumns = `external_id, title, language, category, available, created_at`

func scanBook(row interface{ Scan(...any) error }) (*library.Book, error) {
	var b library.Book
	if err := row.Scan(&b.ID, &b.Title, &b.Language, &b.Category, &b.Available, &b.CreatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBook returns a book by external id
func (s *SQLiteStorage) GetBook(ctx context.Context, bookID int64) (*library.Book, error) {
	b, err := scanBook(s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE external_id = ?`, bookID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, library.ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get book %d: %w", bookID, err)
	}
	return b, nil
}

// ListCategories returns the sorted distinct categories for a language
func (s *SQLiteStorage) ListCategories(ctx context.Context, language string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT category FROM books WHERE language = ? ORDER BY category ASC`, language)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("list categories: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// ListAvailableBooks returns available books for the pair, ordered by id
func (s *SQLiteStorage) ListAvailableBooks(ctx context.Context, language, category string) ([]library.Book, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE language = ? AND category = ? AND available = 1 ORDER BY external_id`,
		language, category)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var books []library.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("list books: %w", err)
		}
		books = append(books, *b)
	}
	return books, rows.Err()
}

const reservationSelect = `
	SELECT r.id, b.external_id, COALESCE(r.chat_id, 0), r.name, r.pickup_time, r.created_at
	FROM reservations r JOIN books b ON b.id = r.book_id`

func scanReservation(row interface{ Scan(...any) error }) (*library.Reservation, error) {
	var r library.Reservation
	if err := row.Scan(&r.ID, &r.BookID, &r.ChatID, &r.Name, &r.PickupTime, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// FindReservation returns the reservation chatID holds on bookID
func (s *SQLiteStorage) FindReservation(ctx context.Context, bookID, chatID int64) (*library.Reservation, error) {
	r, err := scanReservation(s.db.QueryRowContext(ctx,
		reservationSelect+` WHERE b.external_id = ? AND r.chat_id = ?`, bookID, chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, library.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find reservation: %w", err)
	}
	return r, nil
}

// FindReservationByBook returns the reservation on bookID
func (s *SQLiteStorage) FindReservationByBook(ctx context.Context, bookID int64) (*library.Reservation, error) {
	r, err := scanReservation(s.db.QueryRowContext(ctx, reservationSelect+` WHERE b.external_id = ?`, bookID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, library.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find reservation: %w", err)
	}
	return r, nil
}

// CommitReservation inserts r and flips the book to unavailable in one transaction.
// The availability flip is a compare-and-set; any failure after it rolls it back.
func (s *SQLiteStorage) CommitReservation(ctx context.Context, r *library.Reservation) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit reservation: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE books SET available = 0 WHERE external_id = ? AND available = 1`, r.BookID)
	if err != nil {
		return fmt.Errorf("commit reservation: flip availability: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}
	if n == 0 {
		return library.ErrBookUnavailable
	}

	var chatID sql.NullInt64
	if !r.IsManual() {
		chatID = sql.NullInt64{Int64: r.ChatID, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO reservations(id, book_id, chat_id, name, pickup_time, created_at)
		SELECT ?, id, ?, ?, ?, ? FROM books WHERE external_id = ?`,
		r.ID, chatID, r.Name, r.PickupTime, r.CreatedAt, r.BookID)
	if err != nil {
		if isConstraint(err, "reservations.book_id") {
			return library.ErrBookUnavailable
		}
		return fmt.Errorf("commit reservation: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}
	return nil
}

// ReleaseReservation deletes r and flips the book back to available in one transaction
func (s *SQLiteStorage) ReleaseReservation(ctx context.Context, r *library.Reservation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("release reservation: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, r.ID)
	if err != nil {
		return fmt.Errorf("release reservation: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	if n == 0 {
		return library.ErrReservationNotFound
	}

	if _, err := tx.ExecContext(ctx, `UPDATE books SET available = 1 WHERE external_id = ?`, r.BookID); err != nil {
		return fmt.Errorf("release reservation: flip availability: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	return nil
}

const detailSelect = `
	SELECT r.id, b.external_id, COALESCE(r.chat_id, 0), r.name, r.pickup_time, r.created_at,
	       b.title, b.language, b.category, b.available, b.created_at, COALESCE(u.name, r.name)
	FROM reservations r
	JOIN books b ON b.id = r.book_id
	LEFT JOIN users u ON u.chat_id = r.chat_id`

// ListReservations returns all reservations, oldest first
func (s *SQLiteStorage) ListReservations(ctx context.Context) ([]library.ReservationDetail, error) {
	return s.queryDetails(ctx, detailSelect+` ORDER BY r.created_at, r.rowid`)
}

// ListUserReservations returns the reservations held by chatID, oldest first
func (s *SQLiteStorage) ListUserReservations(ctx context.Context, chatID int64) ([]library.ReservationDetail, error) {
	return s.queryDetails(ctx, detailSelect+` WHERE r.chat_id = ? ORDER BY r.created_at, r.rowid`, chatID)
}

func (s *SQLiteStorage) queryDetails(ctx context.Context, query string, args ...any) ([]library.ReservationDetail, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	var out []library.ReservationDetail
	for rows.Next() {
		var d library.ReservationDetail
		if err := rows.Scan(&d.ID, &d.BookID, &d.ChatID, &d.Name, &d.PickupTime, &d.Reservation.CreatedAt,
			&d.Book.Title, &d.Book.Language, &d.Book.Category, &d.Book.Available, &d.Book.CreatedAt, &d.PatronName); err != nil {
			return nil, fmt.Errorf("list reservations: %w", err)
		}
		d.Book.ID = d.BookID
		out = append(out, d)
	}
	return out, rows.Err()
}

// isConstraint reports whether err is a SQLite constraint violation naming column
// (for example "users.phone_index").
func isConstraint(err error, column string) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) || se.Code != sqlite3.ErrConstraint {
		return false
	}
	return strings.Contains(se.Error(), column)
}
