package keycard

import (
	"crypto/rand"
	"errors"
	"math/big"

	"github.com/status-im/keycard-custody/crypto"
)

const (
	pinLength         = 6
	pukLength         = 12
	pairingPassLength = 12

	digits              = "0123456789"
	pairingPassAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-+.!?@#"
)

var (
	ErrInvalidPIN         = errors.New("pin must be 6 digits")
	ErrInvalidPUK         = errors.New("puk must be 12 digits")
	ErrInvalidPairingPass = errors.New("pairing password must not be empty")
)

// Secrets contains the PIN, the PUK and the pairing password used to initialize a card.
type Secrets struct {
	pin          string
	puk          string
	pairingPass  string
	pairingToken []byte
}

// NewSecrets returns a Secrets with the given values after validating their format.
func NewSecrets(pin, puk, pairingPass string) (*Secrets, error) {
	for _, err := range []error{ValidatePIN(pin), ValidatePUK(puk), ValidatePairingPass(pairingPass)} {
		if err != nil {
			return nil, err
		}
	}

	return &Secrets{
		pin:          pin,
		puk:          puk,
		pairingPass:  pairingPass,
		pairingToken: crypto.PairingToken(pairingPass),
	}, nil
}

// GenerateSecrets returns random credentials: a 6 digits PIN, a 12 digits PUK and a 12 characters pairing password.
func GenerateSecrets() (*Secrets, error) {
	pin, err := randomString(digits, pinLength)
	if err != nil {
		return nil, err
	}

	puk, err := randomString(digits, pukLength)
	if err != nil {
		return nil, err
	}

	pairingPass, err := randomString(pairingPassAlphabet, pairingPassLength)
	if err != nil {
		return nil, err
	}

	return NewSecrets(pin, puk, pairingPass)
}

func ValidatePIN(pin string) error {
	if !isDigits(pin, pinLength) {
		return ErrInvalidPIN
	}

	return nil
}

func ValidatePUK(puk string) error {
	if !isDigits(puk, pukLength) {
		return ErrInvalidPUK
	}

	return nil
}

func ValidatePairingPass(pairingPass string) error {
	if pairingPass == "" {
		return ErrInvalidPairingPass
	}

	return nil
}

func (s *Secrets) Pin() string {
	return s.pin
}

func (s *Secrets) Puk() string {
	return s.puk
}

func (s *Secrets) PairingPass() string {
	return s.pairingPass
}

func (s *Secrets) PairingToken() []byte {
	return s.pairingToken
}

func randomString(alphabet string, length int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}

		out[i] = alphabet[n.Int64()]
	}

	return string(out), nil
}

func isDigits(s string, length int) bool {
	if len(s) != length {
		return false
	}

	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}

	return true
}
