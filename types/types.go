package types

import "github.com/status-im/keycard-custody/apdu"

// Channel is an interface with a Send method to send apdu commands and receive apdu responses.
type Channel interface {
	Send(*apdu.Command) (*apdu.Response, error)
}

// PairingInfo holds the pairing key and the slot index returned by the card after pairing.
type PairingInfo struct {
	Key   []byte
	Index int
}
