// Package crypto implements the Keycard secure channel primitives on top of go-ethereum's secp256k1.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"
)

const (
	pairingTokenSalt       = "Keycard Pairing Password Salt"
	pairingTokenIterations = 50000
	blockSize              = aes.BlockSize
)

var (
	ErrInvalidCardCryptogram = errors.New("invalid card cryptogram")
	ErrInvalidPadding        = errors.New("invalid padding")
	ErrInvalidCardData       = errors.New("invalid card data for session keys")
)

func GenerateECDHSharedSecret(priv *ecdsa.PrivateKey, pub *ecdsa.PublicKey) []byte {
	x, _ := ethcrypto.S256().ScalarMult(pub.X, pub.Y, priv.D.Bytes())
	return x.FillBytes(make([]byte, 32))
}

// PairingToken derives the pairing secret shared with the card from the user's pairing password.
func PairingToken(pairingPass string) []byte {
	return pbkdf2.Key(norm.NFKD.Bytes([]byte(pairingPass)), norm.NFKD.Bytes([]byte(pairingTokenSalt)), pairingTokenIterations, 32, sha256.New)
}

// VerifyCryptogram checks the card's answer to the pairing challenge and returns the pairing token on success.
func VerifyCryptogram(challenge []byte, pairingPass string, cardCryptogram []byte) ([]byte, error) {
	secretHash := PairingToken(pairingPass)

	h := sha256.New()
	h.Write(secretHash)
	h.Write(challenge)
	expected := h.Sum(nil)

	if !bytes.Equal(expected, cardCryptogram) {
		return nil, ErrInvalidCardCryptogram
	}

	return secretHash, nil
}

// DeriveSessionKeys returns the encryption key, the mac key and the first iv of a new secure channel session.
func DeriveSessionKeys(secret, pairingKey, cardData []byte) ([]byte, []byte, []byte, error) {
	if len(cardData) != 32+blockSize {
		return nil, nil, nil, ErrInvalidCardData
	}

	salt := cardData[:32]
	iv := cardData[32:]

	h := sha512.New()
	h.Write(secret)
	h.Write(pairingKey)
	h.Write(salt)
	data := h.Sum(nil)

	return data[:32], data[32:], iv, nil
}

func OneShotEncrypt(pubKeyData, secret, data []byte) ([]byte, error) {
	iv := make([]byte, blockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	ciphertext, err := EncryptData(data, secret, iv)
	if err != nil {
		return nil, err
	}

	encrypted := append([]byte{byte(len(pubKeyData))}, pubKeyData...)
	encrypted = append(encrypted, iv...)
	encrypted = append(encrypted, ciphertext...)

	return encrypted, nil
}

func EncryptData(data, encKey, iv []byte) ([]byte, error) {
	data = appendPadding(blockSize, data)

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}

	ciphertext := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, data)

	return ciphertext, nil
}

func DecryptData(data, encKey, iv []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}

	plaintext := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, data)

	return removePadding(plaintext)
}

// CalculateMac returns the AES-CBC-MAC of meta followed by the padded data.
func CalculateMac(meta, data, macKey []byte) ([]byte, error) {
	block, err := aes.NewCipher(macKey)
	if err != nil {
		return nil, err
	}

	input := append(append([]byte{}, meta...), appendPadding(blockSize, data)...)
	out := make([]byte, len(input))
	cipher.NewCBCEncrypter(block, make([]byte, blockSize)).CryptBlocks(out, input)

	return out[len(out)-blockSize:], nil
}

func appendPadding(blockSize int, data []byte) []byte {
	paddingSize := blockSize - (len(data)+1)%blockSize
	padded := make([]byte, 0, len(data)+paddingSize+1)
	padded = append(padded, data...)
	padded = append(padded, 0x80)

	return append(padded, bytes.Repeat([]byte{0x00}, paddingSize)...)
}

func removePadding(data []byte) ([]byte, error) {
	i := len(data) - 1
	for ; i >= 0 && data[i] == 0x00; i-- {
	}

	if i < 0 || data[i] != 0x80 {
		return nil, ErrInvalidPadding
	}

	return data[:i], nil
}
