package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	enc, err := NewAESEncryptor("a perfectly ordinary secret")
	require.NoError(t, err)

	cases := []string{
		"p@ssw0rd!",
		"short",
		"contains || delimiter || bytes",
		string([]byte{0x00, 0x01, 0xff, 0xfe}),
		"unicode: пароль 密码",
	}
	for _, tc := range cases {
		ct, err := enc.Encrypt([]byte(tc))
		require.NoError(t, err)
		assert.NotEqual(t, []byte(tc), ct)

		pt, err := enc.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, tc, string(pt))
	}
}

func TestKeyDerivationHandlesAnySecretLength(t *testing.T) {
	for _, secret := range []string{"x", "exactly-32-bytes-long-secret!!!!", string(bytes.Repeat([]byte("k"), 100))} {
		enc, err := NewAESEncryptor(secret)
		require.NoError(t, err)

		ct, err := enc.Encrypt([]byte("hello"))
		require.NoError(t, err)
		pt, err := enc.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(pt))
	}
}

func TestEmptySecretRejected(t *testing.T) {
	_, err := NewAESEncryptor("")
	require.Error(t, err)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	enc, err := NewAESEncryptor("secret")
	require.NoError(t, err)

	ct, err := enc.Encrypt([]byte("credentials"))
	require.NoError(t, err)

	ct[len(ct)-1] ^= 0xff
	_, err = enc.Decrypt(ct)
	require.Error(t, err)
}

func TestDecryptRejectsShortCiphertext(t *testing.T) {
	enc, err := NewAESEncryptor("secret")
	require.NoError(t, err)

	_, err = enc.Decrypt([]byte{0x01, 0x02})
	require.Error(t, err)
}

func TestDifferentKeysCannotDecrypt(t *testing.T) {
	a, err := NewAESEncryptor("key-a")
	require.NoError(t, err)
	b, err := NewAESEncryptor("key-b")
	require.NoError(t, err)

	ct, err := a.Encrypt([]byte("secret value"))
	require.NoError(t, err)

	_, err = b.Decrypt(ct)
	require.Error(t, err)
}
