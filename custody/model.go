package custody

import (
	"github.com/ethereum/go-ethereum/common"
	keycard "github.com/status-im/keycard-custody"
	"github.com/status-im/keycard-custody/derivationpath"
)

// CardInfo is the snapshot returned by the applet on select. It is never persisted.
type CardInfo struct {
	InstanceUID      []byte
	MasterKeyUID     []byte
	Initialized      bool
	FreePairingSlots int
}

// HasMasterKey reports whether the card holds a master key.
func (i CardInfo) HasMasterKey() bool {
	return len(i.MasterKeyUID) > 0
}

// CardStatus holds the retry counters read over an open secure channel.
type CardStatus struct {
	PINRetries   int
	PUKRetries   int
	HasMasterKey bool
}

// Pairing is the result of a successful pairing, needed to open a secure channel.
type Pairing struct {
	Key   []byte
	Index int
}

// KeycardPairing is the persisted pairing of one physical card, keyed by instance UID.
type KeycardPairing struct {
	InstanceUID []byte `json:"instanceUID"`
	Index       int    `json:"index"`
	Key         []byte `json:"key"`
}

// KeycardKey is a persisted signing key, bound to the card instance and master key that derived it.
type KeycardKey struct {
	Address      common.Address `json:"address"`
	InstanceUID  []byte         `json:"instanceUID"`
	MasterKeyUID []byte         `json:"masterKeyUID"`
	KeyPath      string         `json:"keyPath"`
	PublicKey    []byte         `json:"publicKey"`
}

// KeyPath returns the derivation path of the wallet key with the given index.
func KeyPath(pathComponent uint32) string {
	return derivationpath.EthereumPath(pathComponent)
}

// PairRequest pairs an already initialized card and derives a key.
type PairRequest struct {
	PairingPassword string
	PIN             string
	PathComponent   uint32
}

func (r PairRequest) validate() error {
	if err := keycard.ValidatePairingPass(r.PairingPassword); err != nil {
		return err
	}

	if err := keycard.ValidatePIN(r.PIN); err != nil {
		return err
	}

	return validatePathComponent(r.PathComponent)
}

// InitializeRequest initializes a blank card, pairs it and derives a key.
type InitializeRequest struct {
	PIN             string
	PUK             string
	PairingPassword string
	PathComponent   uint32
}

func (r InitializeRequest) validate() error {
	if err := keycard.ValidatePIN(r.PIN); err != nil {
		return err
	}

	if err := keycard.ValidatePUK(r.PUK); err != nil {
		return err
	}

	if err := keycard.ValidatePairingPass(r.PairingPassword); err != nil {
		return err
	}

	return validatePathComponent(r.PathComponent)
}

// validatePathComponent rejects indexes in the hardened range.
func validatePathComponent(pathComponent uint32) error {
	if pathComponent >= 1<<31 {
		return ErrInvalidPathComponent
	}

	return nil
}

// SignRequest signs a 32 bytes hash with the card key bound to Address.
type SignRequest struct {
	Hash    []byte
	Address common.Address
	PIN     string
}

func (r SignRequest) validate() error {
	if len(r.Hash) != 32 {
		return ErrInvalidHashLength
	}

	return keycard.ValidatePIN(r.PIN)
}

// UnpairRequest releases the pairing slot of the presented card.
type UnpairRequest struct {
	PIN string
}

func (r UnpairRequest) validate() error {
	return keycard.ValidatePIN(r.PIN)
}

// UnblockRequest resets the PIN of the card holding Address using the PUK.
type UnblockRequest struct {
	PUK     string
	NewPIN  string
	Address common.Address
}

func (r UnblockRequest) validate() error {
	if err := keycard.ValidatePUK(r.PUK); err != nil {
		return err
	}

	return keycard.ValidatePIN(r.NewPIN)
}
