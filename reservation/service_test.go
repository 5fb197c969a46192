package reservation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/iabalyuk/librarybot/library"
	"github.com/iabalyuk/librarybot/secrets"
	"github.com/iabalyuk/librarybot/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc    *Service
	store  *storage.Storage
	cipher *secrets.Cipher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := secrets.GenerateMasterKey()
	require.NoError(t, err)
	master, err := secrets.ParseMasterKey(key)
	require.NoError(t, err)
	cipher, err := secrets.NewCipher(master)
	require.NoError(t, err)

	store := storage.New()
	svc := NewService(store, cipher)
	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("res-%d", n)
	}
	return &fixture{svc: svc, store: store, cipher: cipher}
}

func (f *fixture) addUser(t *testing.T, chatID int64, name, phone string) {
	t.Helper()
	ct, km, err := f.cipher.Encrypt(phone)
	require.NoError(t, err)
	require.NoError(t, f.store.CreateUser(context.Background(), &library.User{
		ChatID: chatID, Name: name, PhoneCipher: ct, PhoneKey: km, PhoneIndex: f.cipher.BlindIndex(phone),
	}))
}

func (f *fixture) addBook(t *testing.T, id int64, title string) {
	t.Helper()
	require.NoError(t, f.store.AddBook(context.Background(), &library.Book{
		ID: id, Title: title, Language: "Arabic", Category: "Fiqh", Available: true,
	}))
}

// assertInvariant checks available=false exactly when a reservation references the book.
func (f *fixture) assertInvariant(t *testing.T, ids ...int64) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		b, err := f.store.GetBook(ctx, id)
		require.NoError(t, err)
		_, err = f.store.FindReservationByBook(ctx, id)
		assert.Equal(t, err != nil, b.Available, "book %d", id)
	}
}

func TestReserveAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, 1, "Jane", "0911111111")
	f.addBook(t, 10, "Book Ten")

	rec, err := f.svc.Reserve(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, "Book Ten", rec.Book.Title)
	assert.Equal(t, "0911111111", rec.Phone)
	assert.Equal(t, "Jane", rec.PatronName)
	assert.Equal(t, library.DefaultPickupTime, rec.Reservation.PickupTime)
	assert.False(t, rec.Book.Available)
	f.assertInvariant(t, 10)

	_, err = f.svc.Reserve(ctx, 1, 10)
	assert.ErrorIs(t, err, library.ErrBookUnavailable)

	rec, err = f.svc.Cancel(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, "0911111111", rec.Phone)
	assert.True(t, rec.Book.Available)
	f.assertInvariant(t, 10)

	_, err = f.svc.Cancel(ctx, 1, 10)
	assert.ErrorIs(t, err, library.ErrReservationNotFound)
}

func TestInterleavedReserveCancelKeepsInvariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, 1, "A", "0911111111")
	f.addUser(t, 2, "B", "0922222222")
	ids := []int64{1, 2, 3}
	for _, id := range ids {
		f.addBook(t, id, fmt.Sprintf("Book %d", id))
	}

	steps := []struct {
		op      string
		chat    int64
		book    int64
		wantErr error
	}{
		{"reserve", 1, 1, nil},
		{"reserve", 2, 1, library.ErrBookUnavailable},
		{"reserve", 2, 2, nil},
		{"cancel", 2, 1, library.ErrReservationNotFound},
		{"cancel", 1, 1, nil},
		{"reserve", 2, 1, nil},
		{"reserve", 1, 3, nil},
		{"cancel", 1, 3, nil},
		{"cancel", 1, 3, library.ErrReservationNotFound},
		{"reserve", 1, 99, library.ErrBookUnavailable},
		{"cancel", 1, 99, library.ErrBookNotFound},
		{"reserve", 7, 3, library.ErrNotRegistered},
		{"cancel", 7, 3, library.ErrNotRegistered},
	}
	for i, st := range steps {
		var err error
		if st.op == "reserve" {
			_, err = f.svc.Reserve(ctx, st.chat, st.book)
		} else {
			_, err = f.svc.Cancel(ctx, st.chat, st.book)
		}
		if st.wantErr == nil {
			require.NoError(t, err, "step %d", i)
		} else {
			require.ErrorIs(t, err, st.wantErr, "step %d", i)
		}
		f.assertInvariant(t, ids...)
	}
}

func TestConcurrentReserveOfOneBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	svc := NewService(store, f.cipher)

	const patrons = 20
	for c := int64(1); c <= patrons; c++ {
		phone := fmt.Sprintf("09%08d", c)
		ct, km, err := f.cipher.Encrypt(phone)
		require.NoError(t, err)
		require.NoError(t, store.CreateUser(ctx, &library.User{
			ChatID: c, Name: fmt.Sprintf("Patron %d", c), PhoneCipher: ct, PhoneKey: km, PhoneIndex: f.cipher.BlindIndex(phone),
		}))
	}
	require.NoError(t, store.AddBook(ctx, &library.Book{ID: 10, Title: "Contested", Language: "Arabic", Category: "Fiqh", Available: true}))

	var (
		mu              sync.Mutex
		ok, unavailable int
		wg              sync.WaitGroup
	)
	for c := int64(1); c <= patrons; c++ {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reserve(ctx, c, 10)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, library.ErrBookUnavailable):
				unavailable++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, patrons-1, unavailable)
	b, err := store.GetBook(ctx, 10)
	require.NoError(t, err)
	assert.False(t, b.Available)
	reservations, err := store.ListReservations(ctx)
	require.NoError(t, err)
	assert.Len(t, reservations, 1)
}

func TestCancelByOtherUserLeavesBookReserved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, 1, "A", "0911111111")
	f.addUser(t, 2, "B", "0922222222")
	f.addBook(t, 5, "Five")

	_, err := f.svc.Reserve(ctx, 1, 5)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, 2, 5)
	assert.ErrorIs(t, err, library.ErrReservationNotFound)

	b, err := f.store.GetBook(ctx, 5)
	require.NoError(t, err)
	assert.False(t, b.Available)
}

func TestReserveRequiresRegistration(t *testing.T) {
	f := newFixture(t)
	f.addBook(t, 5, "Five")
	_, err := f.svc.Reserve(context.Background(), 42, 5)
	assert.ErrorIs(t, err, library.ErrNotRegistered)
	f.assertInvariant(t, 5)
}

func TestReserveWithCorruptProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addBook(t, 5, "Five")

	require.NoError(t, f.store.CreateUser(ctx, &library.User{ChatID: 1, Name: "NoPhone", PhoneIndex: "i1"}))
	_, err := f.svc.Reserve(ctx, 1, 5)
	assert.ErrorIs(t, err, library.ErrCorruptProfile)
	assert.Equal(t, library.KindNotFound, library.KindOf(err))

	require.NoError(t, f.store.CreateUser(ctx, &library.User{ChatID: 2, Name: "Garbled", PhoneCipher: "00", PhoneKey: "00", PhoneIndex: "i2"}))
	_, err = f.svc.Reserve(ctx, 2, 5)
	assert.ErrorIs(t, err, library.ErrCorruptProfile)

	f.assertInvariant(t, 5)
}

func TestCancelWithUnreadablePhoneStillCancels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, 1, "A", "0911111111")
	f.addBook(t, 5, "Five")
	_, err := f.svc.Reserve(ctx, 1, 5)
	require.NoError(t, err)

	other := newFixture(t)
	svc := NewService(f.store, other.cipher)
	rec, err := svc.Cancel(ctx, 1, 5)
	require.NoError(t, err)
	assert.Empty(t, rec.Phone)
	f.assertInvariant(t, 5)
}

func TestForceReserveAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addBook(t, 5, "Five")
	f.addBook(t, 6, "Six")

	_, err := f.svc.ForceReserve(ctx, "  ", 5, "")
	assert.ErrorIs(t, err, library.ErrEmptyName)

	rec, err := f.svc.ForceReserve(ctx, "Walk-in", 5, "")
	require.NoError(t, err)
	assert.Equal(t, library.DefaultPickupTime, rec.Reservation.PickupTime)
	assert.True(t, rec.Reservation.IsManual())
	f.assertInvariant(t, 5, 6)

	_, err = f.svc.ForceReserve(ctx, "Other", 5, "Friday")
	assert.ErrorIs(t, err, library.ErrBookUnavailable)
	_, err = f.svc.ForceReserve(ctx, "Other", 77, "Friday")
	assert.ErrorIs(t, err, library.ErrBookUnavailable)

	rec, err = f.svc.ForceReserve(ctx, "Other", 6, "Friday after asr")
	require.NoError(t, err)
	assert.Equal(t, "Friday after asr", rec.Reservation.PickupTime)

	rec, err = f.svc.ForceCancel(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "Walk-in", rec.PatronName)
	f.assertInvariant(t, 5, 6)

	_, err = f.svc.ForceCancel(ctx, 5)
	assert.ErrorIs(t, err, library.ErrReservationNotFound)
	_, err = f.svc.ForceCancel(ctx, 77)
	assert.ErrorIs(t, err, library.ErrBookNotFound)
}

func TestForceCancelOfPatronReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, 1, "Jane", "0911111111")
	f.addBook(t, 5, "Five")
	_, err := f.svc.Reserve(ctx, 1, 5)
	require.NoError(t, err)

	rec, err := f.svc.ForceCancel(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "Jane", rec.PatronName)
	assert.Equal(t, "0911111111", rec.Phone)
	assert.Equal(t, int64(1), rec.Reservation.ChatID)
	f.assertInvariant(t, 5)
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, 1, "Jane", "0911111111")
	f.addBook(t, 5, "Five")
	f.addBook(t, 6, "Six")

	_, err := f.svc.MyReservations(ctx, 9)
	assert.ErrorIs(t, err, library.ErrNotRegistered)

	_, err = f.svc.Reserve(ctx, 1, 5)
	require.NoError(t, err)
	_, err = f.svc.ForceReserve(ctx, "Walk-in", 6, "")
	require.NoError(t, err)

	mine, err := f.svc.MyReservations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Five", mine[0].Book.Title)

	all, err := f.svc.AllReservations(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
