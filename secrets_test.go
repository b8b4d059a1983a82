package keycard

import (
	"regexp"
	"testing"

	"github.com/status-im/keycard-custody/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecrets(t *testing.T) {
	s, err := GenerateSecrets()
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^[0-9]{6}$`), s.Pin())
	assert.Regexp(t, regexp.MustCompile(`^[0-9]{12}$`), s.Puk())
	assert.Len(t, s.PairingPass(), 12)
	assert.Equal(t, crypto.PairingToken(s.PairingPass()), s.PairingToken())
}

func TestNewSecretsValidation(t *testing.T) {
	_, err := NewSecrets("12345", "123456789012", "Abcdefghijkl")
	assert.Equal(t, ErrInvalidPIN, err)

	_, err = NewSecrets("12345a", "123456789012", "Abcdefghijkl")
	assert.Equal(t, ErrInvalidPIN, err)

	_, err = NewSecrets("123456", "1234", "Abcdefghijkl")
	assert.Equal(t, ErrInvalidPUK, err)

	_, err = NewSecrets("123456", "123456789012", "")
	assert.Equal(t, ErrInvalidPairingPass, err)

	s, err := NewSecrets("123456", "123456789012", "Abcdefghijkl")
	require.NoError(t, err)
	assert.Equal(t, "123456", s.Pin())
}
