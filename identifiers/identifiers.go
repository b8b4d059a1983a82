// Package identifiers holds the application identifiers of the Keycard package and applets.
package identifiers

import (
	"errors"
)

const KeycardDefaultInstanceIndex = 1

var (
	PackageAID = []byte{0xA0, 0x00, 0x00, 0x08, 0x04, 0x00, 0x01}

	KeycardAID      = []byte{0xA0, 0x00, 0x00, 0x08, 0x04, 0x00, 0x01, 0x01}
	NdefAID         = []byte{0xA0, 0x00, 0x00, 0x08, 0x04, 0x00, 0x01, 0x02}
	NdefInstanceAID = []byte{0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01}

	ErrInvalidInstanceIndex = errors.New("instance index must be between 1 and 255")
)

// KeycardInstanceAID returns the AID of the Keycard applet instance with the given index.
func KeycardInstanceAID(index int) ([]byte, error) {
	if index < 0x01 || index > 0xFF {
		return nil, ErrInvalidInstanceIndex
	}

	aid := make([]byte, 0, len(KeycardAID)+1)
	aid = append(aid, KeycardAID...)

	return append(aid, byte(index)), nil
}
