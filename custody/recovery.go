package custody

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var errSignatureLength = errors.New("signature must be 65 bytes")

// AddressRecovery maps public keys and signatures to account addresses.
type AddressRecovery interface {
	AddressFromPublicKey(pubKey []byte) (common.Address, error)
	RecoverAddress(signature, hash []byte) (common.Address, error)
}

// EthereumRecovery implements AddressRecovery for secp256k1 Ethereum accounts.
type EthereumRecovery struct{}

func (EthereumRecovery) AddressFromPublicKey(pubKey []byte) (common.Address, error) {
	key, err := crypto.UnmarshalPubkey(pubKey)
	if err != nil {
		return common.Address{}, err
	}

	return crypto.PubkeyToAddress(*key), nil
}

// RecoverAddress accepts both 0/1 and 27/28 recovery ids.
func (EthereumRecovery) RecoverAddress(signature, hash []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, errSignatureLength
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	key, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, err
	}

	return crypto.PubkeyToAddress(*key), nil
}
