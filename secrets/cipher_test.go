package secrets

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	key, err := GenerateMasterKey()
	require.NoError(t, err)
	master, err := ParseMasterKey(key)
	require.NoError(t, err)
	c, err := NewCipher(master)
	require.NoError(t, err)
	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCipher(t)
	for i := 0; i < 50; i++ {
		phone := fmt.Sprintf("09%08d", i*1234567%100000000)
		ct, km, err := c.Encrypt(phone)
		require.NoError(t, err)
		assert.NotContains(t, ct, phone)

		got, err := c.Decrypt(ct, km)
		require.NoError(t, err)
		assert.Equal(t, phone, got)
	}
}

func TestEncryptIsRandomized(t *testing.T) {
	c := newTestCipher(t)
	ct1, km1, err := c.Encrypt("0912345678")
	require.NoError(t, err)
	ct2, km2, err := c.Encrypt("0912345678")
	require.NoError(t, err)
	assert.NotEqual(t, ct1, ct2)
	assert.NotEqual(t, km1, km2)
}

func TestDecryptRejectsTamperedInput(t *testing.T) {
	c := newTestCipher(t)
	ct, km, err := c.Encrypt("0912345678")
	require.NoError(t, err)

	flipped := []byte(ct)
	if flipped[len(flipped)-1] == '0' {
		flipped[len(flipped)-1] = '1'
	} else {
		flipped[len(flipped)-1] = '0'
	}
	_, err = c.Decrypt(string(flipped), km)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = c.Decrypt(ct, "zz")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = c.Decrypt("", "")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecryptWithOtherMasterKeyFails(t *testing.T) {
	a := newTestCipher(t)
	b := newTestCipher(t)
	ct, km, err := a.Encrypt("0911111111")
	require.NoError(t, err)
	_, err = b.Decrypt(ct, km)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestBlindIndexIsDeterministicPerKey(t *testing.T) {
	a := newTestCipher(t)
	b := newTestCipher(t)
	assert.Equal(t, a.BlindIndex("0911111111"), a.BlindIndex("0911111111"))
	assert.NotEqual(t, a.BlindIndex("0911111111"), a.BlindIndex("0911111112"))
	assert.NotEqual(t, a.BlindIndex("0911111111"), b.BlindIndex("0911111111"))
}

func TestParseMasterKeyValidatesLength(t *testing.T) {
	_, err := ParseMasterKey("abcd")
	assert.Error(t, err)
	_, err = ParseMasterKey("not-hex")
	assert.Error(t, err)
	_, err = NewCipher(make([]byte, 16))
	assert.Error(t, err)
}
