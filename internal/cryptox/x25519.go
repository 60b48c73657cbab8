package cryptox

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// PublicKeySize is the length of a raw X25519 public key.
const PublicKeySize = 32

var keyWrapInfo = []byte("vaultsync/key-wrap/v1")

// KeyPair is an X25519 device keypair.
type KeyPair struct {
	Public  []byte
	Private []byte
}

// KeyPairFromSeed derives a deterministic X25519 keypair from seed. The same
// seed always yields the same pair.
func KeyPairFromSeed(seed []byte) (*KeyPair, error) {
	scalar, err := HKDF(seed, nil, []byte("vaultsync/device-key/v1"), KeySize)
	if err != nil {
		return nil, err
	}
	priv, err := ecdh.X25519().NewPrivateKey(scalar)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: priv.PublicKey().Bytes(), Private: priv.Bytes()}, nil
}

// WrapKey encrypts key for the holder of recipientPub. The result is
// ephemeralPub || nonce || AES-GCM(key), where the AES key is HKDF-derived
// from the ephemeral-static ECDH secret.
func WrapKey(recipientPub, key []byte) ([]byte, error) {
	curve := ecdh.X25519()

	pub, err := curve.NewPublicKey(recipientPub)
	if err != nil {
		return nil, fmt.Errorf("recipient key: %w", err)
	}

	eph, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	shared, err := eph.ECDH(pub)
	if err != nil {
		return nil, err
	}

	ephPub := eph.PublicKey().Bytes()
	kek, err := HKDF(shared, append(append([]byte{}, ephPub...), recipientPub...), keyWrapInfo, KeySize)
	if err != nil {
		return nil, err
	}

	ct, nonce, err := Seal(kek, key, ephPub)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(ephPub)+len(nonce)+len(ct))
	out = append(out, ephPub...)
	out = append(out, nonce...)
	return append(out, ct...), nil
}

// UnwrapKey reverses WrapKey with the recipient's private key.
func UnwrapKey(privateKey, wrapped []byte) ([]byte, error) {
	if len(wrapped) < PublicKeySize+NonceSize+16 {
		return nil, ErrMalformed
	}

	curve := ecdh.X25519()
	priv, err := curve.NewPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}

	ephPub := wrapped[:PublicKeySize]
	nonce := wrapped[PublicKeySize : PublicKeySize+NonceSize]
	ct := wrapped[PublicKeySize+NonceSize:]

	eph, err := curve.NewPublicKey(ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	shared, err := priv.ECDH(eph)
	if err != nil {
		return nil, err
	}

	recipientPub := priv.PublicKey().Bytes()
	kek, err := HKDF(shared, append(append([]byte{}, ephPub...), recipientPub...), keyWrapInfo, KeySize)
	if err != nil {
		return nil, err
	}

	return Open(kek, ct, nonce, ephPub)
}

// EncodePublicKey renders a public key in its shared textual form.
func EncodePublicKey(pub []byte) string {
	return base64.StdEncoding.EncodeToString(pub)
}

// DecodePublicKey parses the textual form produced by EncodePublicKey.
func DecodePublicKey(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != PublicKeySize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKeySize, len(b))
	}
	return b, nil
}

// PublicKeyHash is the hex SHA-256 address of an encoded public key.
func PublicKeyHash(encoded string) string {
	return HashHex([]byte(encoded))
}
