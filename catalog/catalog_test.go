package catalog

import (
	"context"
	"testing"

	"github.com/iabalyuk/librarybot/library"
	"github.com/iabalyuk/librarybot/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddBooksBatch(t *testing.T) {
	store := storage.New()
	svc := NewService(store)
	ctx := context.Background()

	res, err := svc.AddBooks(ctx, `1 Arabic "Fiqh" "Book One"; bad-entry; 2 Amharic "Tafsir" "Book Two"`)
	require.NoError(t, err)
	require.Len(t, res.Added, 2)
	assert.Equal(t, int64(1), res.Added[0].ID)
	assert.Equal(t, int64(2), res.Added[1].ID)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "bad-entry", res.Failed[0].Entry)
	assert.ErrorIs(t, res.Failed[0], library.ErrMalformedEntry)

	b, err := store.GetBook(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Book Two", b.Title)
	assert.Equal(t, "Tafsir", b.Category)
	assert.True(t, b.Available)
}

func TestAddBooksRejectsDuplicateIDsPerEntry(t *testing.T) {
	store := storage.New()
	svc := NewService(store)
	ctx := context.Background()

	_, err := svc.AddBooks(ctx, `1 Arabic "Fiqh" "Original"`)
	require.NoError(t, err)

	res, err := svc.AddBooks(ctx, `1 Arabic "Fiqh" "Impostor"; 3 AfaanOromo "Seeraa" "Three"`)
	require.NoError(t, err)
	require.Len(t, res.Added, 1)
	assert.Equal(t, int64(3), res.Added[0].ID)
	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[0], library.ErrDuplicateBookID)

	b, err := store.GetBook(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Original", b.Title)
}

func TestAddBooksEmptyInput(t *testing.T) {
	svc := NewService(storage.New())
	_, err := svc.AddBooks(context.Background(), " ; ")
	assert.ErrorIs(t, err, library.ErrMissingArgument)
}

func TestRemoveBook(t *testing.T) {
	store := storage.New()
	svc := NewService(store)
	ctx := context.Background()
	_, err := svc.AddBooks(ctx, `1 Arabic "Fiqh" "One"; 2 Arabic "Fiqh" "Two"`)
	require.NoError(t, err)
	require.NoError(t, store.CommitReservation(ctx, &library.Reservation{ID: "r", BookID: 2, Name: "x", PickupTime: library.DefaultPickupTime}))

	b, err := svc.RemoveBook(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "One", b.Title)

	_, err = svc.RemoveBook(ctx, 1)
	assert.ErrorIs(t, err, library.ErrBookNotFound)

	_, err = svc.RemoveBook(ctx, 2)
	assert.ErrorIs(t, err, library.ErrBookReserved)
	_, err = store.GetBook(ctx, 2)
	assert.NoError(t, err)
}
