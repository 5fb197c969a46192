// Package secrets encrypts patron phone numbers at rest.
//
// Every value is sealed with its own random data key (XChaCha20-Poly1305).
// The data key is wrapped with a key derived from the master key and returned
// as the key material that is stored next to the ciphertext. A keyed BLAKE2b
// hash of the plaintext gives a deterministic index for uniqueness checks.
package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

// MasterKeySize is the length of the master key in bytes.
const MasterKeySize = 32

var ErrMalformed = errors.New("secrets: malformed ciphertext or key material")

// Cipher implements the phone-number secrecy capability.
type Cipher struct {
	wrapKey  []byte
	indexKey []byte
}

// NewCipher derives the wrapping and index keys from master.
func NewCipher(master []byte) (*Cipher, error) {
	if len(master) != MasterKeySize {
		return nil, fmt.Errorf("secrets: master key must be %d bytes, got %d", MasterKeySize, len(master))
	}
	wrapKey, err := derive(master, "librarybot/key-wrap")
	if err != nil {
		return nil, err
	}
	indexKey, err := derive(master, "librarybot/phone-index")
	if err != nil {
		return nil, err
	}
	return &Cipher{wrapKey: wrapKey, indexKey: indexKey}, nil
}

func derive(master []byte, label string) ([]byte, error) {
	h, err := blake2b.New256(master)
	if err != nil {
		return nil, fmt.Errorf("secrets: derive %s: %w", label, err)
	}
	h.Write([]byte(label))
	return h.Sum(nil), nil
}

// ParseMasterKey decodes a hex-encoded master key.
func ParseMasterKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("secrets: decode master key: %w", err)
	}
	if len(key) != MasterKeySize {
		return nil, fmt.Errorf("secrets: master key must be %d bytes, got %d", MasterKeySize, len(key))
	}
	return key, nil
}

// GenerateMasterKey returns a new random master key, hex encoded.
func GenerateMasterKey() (string, error) {
	key := make([]byte, MasterKeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("secrets: generate master key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Encrypt seals plaintext under a fresh data key and returns the hex ciphertext
// and the hex wrapped data key.
func (c *Cipher) Encrypt(plaintext string) (ciphertext, keyMaterial string, err error) {
	dataKey := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(dataKey); err != nil {
		return "", "", fmt.Errorf("secrets: generate data key: %w", err)
	}
	sealed, err := seal(dataKey, []byte(plaintext))
	if err != nil {
		return "", "", err
	}
	wrapped, err := seal(c.wrapKey, dataKey)
	if err != nil {
		return "", "", err
	}
	return hex.EncodeToString(sealed), hex.EncodeToString(wrapped), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(ciphertext, keyMaterial string) (string, error) {
	wrapped, err := hex.DecodeString(keyMaterial)
	if err != nil {
		return "", ErrMalformed
	}
	sealed, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", ErrMalformed
	}
	dataKey, err := open(c.wrapKey, wrapped)
	if err != nil {
		return "", err
	}
	plaintext, err := open(dataKey, sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// BlindIndex returns a deterministic keyed hash of plaintext.
func (c *Cipher) BlindIndex(plaintext string) string {
	h, _ := blake2b.New256(c.indexKey) // key length checked in NewCipher
	h.Write([]byte(plaintext))
	return hex.EncodeToString(h.Sum(nil))
}

func seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secrets: generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func open(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, ErrMalformed
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrMalformed
	}
	nonce, body := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, ErrMalformed
	}
	return plaintext, nil
}
