// Package cryptox holds the cryptographic primitives shared by the client
// and the server. Every function here is pure: callers own all key material.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the length of every symmetric key produced by this package.
	KeySize = 32
	// NonceSize is the AES-GCM nonce length.
	NonceSize = 12
)

var (
	ErrInvalidKeySize = errors.New("invalid key size")
	ErrMalformed      = errors.New("malformed ciphertext")
)

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Hash returns the SHA-256 digest of data.
func Hash(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// HashHex returns the hex encoded SHA-256 digest of data.
func HashHex(data []byte) string {
	return hex.EncodeToString(Hash(data))
}

// HMAC returns HMAC-SHA256(key, data).
func HMAC(key, data []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(data)
	return m.Sum(nil)
}

// EqualMAC compares two MACs in constant time.
func EqualMAC(a, b []byte) bool {
	return hmac.Equal(a, b)
}

// MakeVerifier turns a derived master key into the login verifier stored by
// the server.
func MakeVerifier(masterKey []byte) []byte {
	return Hash(masterKey)
}

// DeriveMasterKey stretches a password with argon2id.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, KeySize)
}

// HKDF derives n bytes from secret using HKDF-SHA256.
func HKDF(secret, salt, info []byte, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out); err != nil {
		return nil, err
	}
	return out, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext with AES-256-GCM under a fresh random nonce.
// aad is authenticated but not encrypted and must be passed to Open again.
func Seal(key, plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce, err = RandomBytes(NonceSize)
	if err != nil {
		return nil, nil, err
	}

	return aead.Seal(nil, nonce, plaintext, aad), nonce, nil
}

// Open reverses Seal. A wrong key, nonce, aad or any tampering fails
// authentication.
func Open(key, ciphertext, nonce, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce length %d", ErrMalformed, len(nonce))
	}
	return aead.Open(nil, nonce, ciphertext, aad)
}

// EncryptEntry serializes the given value to JSON and encrypts it using
// AES-GCM. The ciphertext and the 12-byte nonce are returned separately.
//
//	ciphertext, nonce, err := cryptox.EncryptEntry(payload, key)
func EncryptEntry(entry any, key []byte) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(entry)
	if err != nil {
		return nil, nil, err
	}
	return Seal(key, plaintext, nil)
}

// DecryptEntry decrypts ciphertext produced by EncryptEntry and unmarshals
// the JSON into v.
func DecryptEntry(ciphertext, nonce, key []byte, v any) error {
	plaintext, err := Open(key, ciphertext, nonce, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(plaintext, v)
}
