package cryptox

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveMasterKey_Deterministic(t *testing.T) {
	password := []byte("secret-password")
	salt := []byte("fixed-salt")

	key1 := DeriveMasterKey(password, salt)
	key2 := DeriveMasterKey(password, salt)

	if !bytes.Equal(key1, key2) {
		t.Errorf("expected same result for same inputs, got different")
	}

	expectedHex := "34f7a1c64df63ab1ad5b5ee06e64db5713b35f81839823304db63e8e5e6a6a39"
	if hex.EncodeToString(key1) != expectedHex {
		t.Errorf("expected %s, got %s", expectedHex, hex.EncodeToString(key1))
	}
}

func TestDeriveMasterKey_DifferentInputs(t *testing.T) {
	password := []byte("secret-password")

	key1 := DeriveMasterKey(password, []byte("salt-1"))
	key2 := DeriveMasterKey(password, []byte("salt-2"))

	if bytes.Equal(key1, key2) {
		t.Errorf("expected different results for different salts, got same")
	}
}

func TestRandomBytes(t *testing.T) {
	a, err := RandomBytes(32)
	require.NoError(t, err)
	b, err := RandomBytes(32)
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestHashAndHMAC(t *testing.T) {
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		HashHex([]byte("hello")))

	m1 := HMAC([]byte("k"), []byte("data"))
	m2 := HMAC([]byte("k"), []byte("data"))
	m3 := HMAC([]byte("other"), []byte("data"))

	assert.True(t, EqualMAC(m1, m2))
	assert.False(t, EqualMAC(m1, m3))
}

func TestHKDF_DeterministicAndInfoSeparated(t *testing.T) {
	secret := []byte("device-secret")

	a, err := HKDF(secret, nil, []byte("dek/1"), KeySize)
	require.NoError(t, err)
	b, err := HKDF(secret, nil, []byte("dek/1"), KeySize)
	require.NoError(t, err)
	c, err := HKDF(secret, nil, []byte("dek/2"), KeySize)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestSealOpen(t *testing.T) {
	key, err := RandomBytes(KeySize)
	require.NoError(t, err)

	ct, nonce, err := Seal(key, []byte("payload"), []byte("entry-1"))
	require.NoError(t, err)
	require.Len(t, nonce, NonceSize)

	pt, err := Open(key, ct, nonce, []byte("entry-1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), pt)

	t.Run("wrong aad", func(t *testing.T) {
		_, err := Open(key, ct, nonce, []byte("entry-2"))
		require.Error(t, err)
	})

	t.Run("tampered", func(t *testing.T) {
		bad := append([]byte{}, ct...)
		bad[0] ^= 0xff
		_, err := Open(key, bad, nonce, []byte("entry-1"))
		require.Error(t, err)
	})

	t.Run("short key", func(t *testing.T) {
		_, _, err := Seal(key[:16], []byte("x"), nil)
		require.ErrorIs(t, err, ErrInvalidKeySize)
	})

	t.Run("bad nonce", func(t *testing.T) {
		_, err := Open(key, ct, nonce[:4], nil)
		require.ErrorIs(t, err, ErrMalformed)
	})
}

func TestEncryptDecryptEntry(t *testing.T) {
	type note struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}

	key, err := RandomBytes(KeySize)
	require.NoError(t, err)

	in := note{Title: "groceries", Body: "milk"}
	ct, nonce, err := EncryptEntry(in, key)
	require.NoError(t, err)

	var out note
	require.NoError(t, DecryptEntry(ct, nonce, key, &out))
	assert.Equal(t, in, out)

	other, err := RandomBytes(KeySize)
	require.NoError(t, err)
	require.Error(t, DecryptEntry(ct, nonce, other, &out))
}
