package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassphraseSealer_RoundTrip(t *testing.T) {
	s, err := NewPassphraseSealer("secret")
	require.NoError(t, err)

	first, err := s.Seal([]byte("payload"))
	require.NoError(t, err)
	second, err := s.Seal([]byte("payload"))
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "salt and nonce must differ per seal")

	plain, err := s.Open(first)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(plain))
}

func TestPassphraseSealer_RejectsTampering(t *testing.T) {
	s, err := NewPassphraseSealer("secret")
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("payload"))
	require.NoError(t, err)

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff

	for name, data := range map[string][]byte{
		"tampered":  tampered,
		"short":     []byte("kbs1"),
		"bad magic": append([]byte("xxxx"), sealed[4:]...),
		"plaintext": []byte(`{"token":"t"}`),
	} {
		_, err := s.Open(data)
		assert.ErrorIs(t, err, ErrUnseal, name)
	}
}

func TestNewPassphraseSealer_Empty(t *testing.T) {
	_, err := NewPassphraseSealer("")
	assert.Error(t, err)
}
