package library

import "strings"

const (
	// DefaultPhonePrefix is the prefix every patron phone number must start with.
	DefaultPhonePrefix = "09"
	// PhoneLength is the total number of digits of a phone number.
	PhoneLength = 10
)

// NormalizePhone trims s and checks it is exactly PhoneLength ASCII digits
// starting with prefix.
func NormalizePhone(prefix, s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) != PhoneLength || !strings.HasPrefix(s, prefix) {
		return "", ErrInvalidPhone
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return "", ErrInvalidPhone
		}
	}
	return s, nil
}

// ValidPhonePrefix reports whether p is a usable two-digit prefix.
func ValidPhonePrefix(p string) bool {
	return len(p) == 2 && p[0] >= '0' && p[0] <= '9' && p[1] >= '0' && p[1] <= '9'
}
