package library

import (
	"strings"
	"time"
)

// DefaultPickupTime is used when a reservation is created without an explicit pickup label.
const DefaultPickupTime = "after isha salah"

// Language is one of the catalog languages a patron can browse.
type Language string

const (
	LanguageArabic     Language = "Arabic"
	LanguageAmharic    Language = "Amharic"
	LanguageAfaanOromo Language = "AfaanOromo"
)

// Languages lists the selectable languages in menu order.
var Languages = []Language{LanguageArabic, LanguageAmharic, LanguageAfaanOromo}

// ParseLanguage matches s against the known languages, ignoring case and spaces
// ("afaan oromo" is AfaanOromo).
func ParseLanguage(s string) (Language, bool) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	for _, l := range Languages {
		if strings.ToLower(string(l)) == key {
			return l, true
		}
	}
	return "", false
}

// User is a registered patron. The phone number is only ever stored encrypted;
// PhoneIndex is a keyed hash used to enforce uniqueness.
type User struct {
	ChatID      int64
	Name        string
	PhoneCipher string
	PhoneKey    string
	PhoneIndex  string
	Language    Language // empty until chosen
	CreatedAt   time.Time
}

// HasPhone reports whether the profile carries decryptable phone material.
func (u *User) HasPhone() bool {
	return u.PhoneCipher != "" && u.PhoneKey != ""
}

// Book is a catalog entry. ID is the librarian-assigned external id.
type Book struct {
	ID        int64
	Title     string
	Language  string
	Category  string
	Available bool
	CreatedAt time.Time
}

// Reservation links a book to either a registered patron (ChatID) or, for
// reservations entered by the librarian, a free-text Name.
type Reservation struct {
	ID         string
	BookID     int64
	ChatID     int64 // 0 when entered by the librarian for an unregistered patron
	Name       string
	PickupTime string
	CreatedAt  time.Time
}

// IsManual reports whether the reservation was entered by the librarian
// without a registered user.
func (r *Reservation) IsManual() bool { return r.ChatID == 0 }

// ReservationDetail is a reservation joined with its book and the patron's display name.
type ReservationDetail struct {
	Reservation
	Book       Book
	PatronName string
}
