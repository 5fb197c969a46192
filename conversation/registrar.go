package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/iabalyuk/librarybot/library"
)

// Registrar creates patron profiles with an encrypted phone number.
type Registrar struct {
	store   Store
	secrets Secrets
	prefix  string
}

// NewRegistrar creates a registrar accepting phone numbers that start with prefix.
func NewRegistrar(store Store, secrets Secrets, prefix string) *Registrar {
	if prefix == "" {
		prefix = library.DefaultPhonePrefix
	}
	return &Registrar{store: store, secrets: secrets, prefix: prefix}
}

// Prefix returns the required phone prefix.
func (r *Registrar) Prefix() string { return r.prefix }

// Register validates the input and stores a new user for chatID. It returns
// the created user and the normalised phone number.
func (r *Registrar) Register(ctx context.Context, chatID int64, name, rawPhone string) (*library.User, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", library.ErrEmptyName
	}
	phone, err := library.NormalizePhone(r.prefix, rawPhone)
	if err != nil {
		return nil, "", err
	}

	index := r.secrets.BlindIndex(phone)
	_, err = r.store.FindUserByPhoneIndex(ctx, index)
	switch {
	case err == nil:
		return nil, "", library.ErrDuplicatePhone
	case !errors.Is(err, library.ErrNotRegistered):
		return nil, "", fmt.Errorf("check phone: %w", err)
	}

	cipherText, keyMaterial, err := r.secrets.Encrypt(phone)
	if err != nil {
		return nil, "", fmt.Errorf("encrypt phone: %w", err)
	}
	u := &library.User{
		ChatID:      chatID,
		Name:        name,
		PhoneCipher: cipherText,
		PhoneKey:    keyMaterial,
		PhoneIndex:  index,
	}
	// The unique index still rejects a phone registered concurrently.
	if err := r.store.CreateUser(ctx, u); err != nil {
		return nil, "", err
	}
	return u, phone, nil
}
