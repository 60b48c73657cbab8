package identity

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPhrase = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestRandomMnemonic(t *testing.T) {
	m1, err := RandomMnemonic()
	require.NoError(t, err)
	m2, err := RandomMnemonic()
	require.NoError(t, err)

	assert.Equal(t, 12, m1.Words())
	assert.NotEqual(t, m1.Reveal(), m2.Reveal())

	parsed, err := ParseMnemonic(m1.Reveal())
	require.NoError(t, err)
	assert.Equal(t, m1.Reveal(), parsed.Reveal())
}

func TestParseMnemonic_Normalises(t *testing.T) {
	m, err := ParseMnemonic("  ABANDON abandon\tabandon abandon abandon abandon\nabandon abandon abandon abandon abandon About ")
	require.NoError(t, err)
	assert.Equal(t, validPhrase, m.Reveal())
}

func TestParseMnemonic_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty":        "   ",
		"bad checksum": strings.TrimSuffix(validPhrase, "about") + "abandon",
		"unknown word": strings.Replace(validPhrase, "about", "zzzz", 1),
		"too short":    "abandon abandon about",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMnemonic(in)
			var invalid *InvalidMnemonicError
			require.ErrorAs(t, err, &invalid)
		})
	}
}

func TestMnemonic_IsRedacted(t *testing.T) {
	m, err := ParseMnemonic(validPhrase)
	require.NoError(t, err)

	for _, s := range []string{fmt.Sprint(m), fmt.Sprintf("%v %+v %s", m, m, m), fmt.Sprintf("%#v", m)} {
		assert.NotContains(t, s, "abandon")
	}

	var buf bytes.Buffer
	slog.New(slog.NewJSONHandler(&buf, nil)).Info("msg", "mnemonic", m)
	assert.NotContains(t, buf.String(), "abandon")
	assert.Contains(t, buf.String(), "REDACTED")
}

func TestDerive_Deterministic(t *testing.T) {
	m, err := ParseMnemonic(validPhrase)
	require.NoError(t, err)

	k1, err := derive(m)
	require.NoError(t, err)
	k2, err := derive(m)
	require.NoError(t, err)
	assert.Equal(t, k1.publicKey, k2.publicKey)
	assert.Equal(t, k1.dekSecret, k2.dekSecret)

	other, err := RandomMnemonic()
	require.NoError(t, err)
	k3, err := derive(other)
	require.NoError(t, err)
	assert.NotEqual(t, k1.publicKey, k3.publicKey)
}
