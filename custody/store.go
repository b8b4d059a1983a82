package custody

import "github.com/ethereum/go-ethereum/common"

// PairingStore persists at most one pairing per card instance UID.
type PairingStore interface {
	SavePairing(pairing KeycardPairing) error
	RemovePairing(instanceUID []byte) error
	FindPairing(instanceUID []byte) (KeycardPairing, bool, error)
}

// KeyStore persists the keys derived on cards, one per address.
type KeyStore interface {
	SaveKey(key KeycardKey) error
	RemoveKey(address common.Address) error
	FindKey(address common.Address) (KeycardKey, bool, error)
}
