package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iabalyuk/librarybot/library"
	"github.com/iabalyuk/librarybot/secrets"
	"github.com/iabalyuk/librarybot/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestKeygen(t *testing.T) {
	out, err := run(t, "keygen")
	require.NoError(t, err)
	_, err = secrets.ParseMasterKey(strings.TrimSpace(out))
	assert.NoError(t, err)
}

func TestMigrateAndImportBooks(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "library.db")
	t.Setenv("DB_PATH", dbPath)

	_, err := run(t, "migrate")
	require.NoError(t, err)

	books := filepath.Join(dir, "books.txt")
	require.NoError(t, os.WriteFile(books, []byte(
		"1 Arabic \"Fiqh\" \"Book One\"\nnot a book\n2 Amharic \"Tafsir\" \"Book Two\"; 3 Arabic \"Fiqh\" \"Book Three\"\n"), 0o600))

	out, err := run(t, "import-books", books)
	require.NoError(t, err)
	assert.Contains(t, out, "3 added, 1 failed")

	store, err := storage.NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	defer store.Close()
	b, err := store.GetBook(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "Book Two", b.Title)
}

func TestRevealPhone(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "library.db")
	key, err := secrets.GenerateMasterKey()
	require.NoError(t, err)
	t.Setenv("DB_PATH", dbPath)
	t.Setenv("LIBRARY_MASTER_KEY", key)

	cipher, err := newCipher(key)
	require.NoError(t, err)
	ct, km, err := cipher.Encrypt("0911111111")
	require.NoError(t, err)
	store, err := storage.NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(context.Background(), &library.User{
		ChatID: 7, Name: "Jane", PhoneCipher: ct, PhoneKey: km, PhoneIndex: cipher.BlindIndex("0911111111"),
	}))
	require.NoError(t, store.Close())

	out, err := run(t, "reveal-phone", "7")
	require.NoError(t, err)
	assert.Equal(t, "Jane\t0911111111\n", out)

	_, err = run(t, "reveal-phone", "8")
	assert.ErrorIs(t, err, library.ErrNotRegistered)
}

func TestServeRejectsIncompleteConfig(t *testing.T) {
	for _, name := range []string{"TELEGRAM_BOT_TOKEN", "LIBRARIAN_CHAT_ID", "LIBRARY_MASTER_KEY"} {
		t.Setenv(name, "")
	}
	_, err := run(t, "serve")
	assert.ErrorContains(t, err, "invalid configuration")
}
