package identity

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/tyler-smith/go-bip39"

	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/cryptox"
)

const (
	entropyBits = 128
	redacted    = "[REDACTED mnemonic]"
)

// InvalidMnemonicError is returned for phrases that are not valid BIP-39.
type InvalidMnemonicError struct {
	Err error
}

func (e *InvalidMnemonicError) Error() string {
	return fmt.Sprintf("invalid mnemonic: %v", e.Err)
}

func (e *InvalidMnemonicError) Unwrap() error { return e.Err }

// Mnemonic is a BIP-39 recovery phrase. It never prints itself; use Reveal
// to get the words.
type Mnemonic struct {
	phrase string
}

func (m Mnemonic) String() string   { return redacted }
func (m Mnemonic) GoString() string { return redacted }

func (m Mnemonic) LogValue() slog.Value { return slog.StringValue(redacted) }

func (m Mnemonic) Reveal() string { return m.phrase }

func (m Mnemonic) IsZero() bool { return m.phrase == "" }

// Words is the number of words in the phrase.
func (m Mnemonic) Words() int { return len(strings.Fields(m.phrase)) }

// RandomMnemonic returns a fresh 12-word phrase.
func RandomMnemonic() (Mnemonic, error) {
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return Mnemonic{}, err
	}
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return Mnemonic{}, err
	}
	return Mnemonic{phrase: phrase}, nil
}

// ParseMnemonic normalises whitespace and case and validates the word list
// and checksum.
func ParseMnemonic(s string) (Mnemonic, error) {
	phrase := strings.Join(strings.Fields(strings.ToLower(s)), " ")
	if phrase == "" {
		return Mnemonic{}, &InvalidMnemonicError{Err: bip39.ErrInvalidMnemonic}
	}
	if _, err := bip39.EntropyFromMnemonic(phrase); err != nil {
		return Mnemonic{}, &InvalidMnemonicError{Err: err}
	}
	return Mnemonic{phrase: phrase}, nil
}

// keyMaterial is everything derived from a mnemonic.
type keyMaterial struct {
	keys      *cryptox.KeyPair
	publicKey string
	dekSecret []byte
}

func derive(m Mnemonic) (*keyMaterial, error) {
	seed := bip39.NewSeed(m.phrase, "")
	defer common.WipeByteArray(seed)

	kp, err := cryptox.KeyPairFromSeed(seed)
	if err != nil {
		return nil, err
	}
	secret, err := cryptox.HKDF(seed, nil, []byte("vaultsync/dek-secret/v1"), cryptox.KeySize)
	if err != nil {
		return nil, err
	}
	return &keyMaterial{keys: kp, publicKey: cryptox.EncodePublicKey(kp.Public), dekSecret: secret}, nil
}

func (k *keyMaterial) wipe() {
	if k == nil {
		return
	}
	common.WipeByteArray(k.keys.Private)
	common.WipeByteArray(k.dekSecret)
}
