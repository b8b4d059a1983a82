package types

import (
	"errors"

	"github.com/status-im/keycard-custody/apdu"
)

var (
	ErrWrongApplicationInfoTemplate = errors.New("wrong application info template")
	ErrEmptySelectResponse          = errors.New("empty select response")
)

const (
	TagSelectResponsePreInitialized = uint8(0x80)
	TagApplicationStatusTemplate    = uint8(0xA3)
	TagApplicationInfoTemplate      = uint8(0xA4)
)

type ApplicationInfo struct {
	Installed      bool
	Initialized    bool
	InstanceUID    []byte
	PublicKey      []byte
	Version        []byte
	AvailableSlots []byte
	// KeyUID is the sha256 of of the master public key on the card.
	// It's empty if the card doesn't contain any key.
	KeyUID []byte
}

// FreePairingSlots returns the number of pairing slots still available on the card.
func (i *ApplicationInfo) FreePairingSlots() int {
	if len(i.AvailableSlots) == 0 {
		return 0
	}

	return int(i.AvailableSlots[0])
}

func ParseApplicationInfo(data []byte) (*ApplicationInfo, error) {
	if len(data) == 0 {
		return nil, ErrEmptySelectResponse
	}

	info := &ApplicationInfo{Installed: true}
	if data[0] == TagSelectResponsePreInitialized {
		pubKey, err := apdu.FindTag(data, TagSelectResponsePreInitialized)
		if err != nil {
			return nil, err
		}

		info.PublicKey = pubKey
		return info, nil
	}

	if data[0] != TagApplicationInfoTemplate {
		return nil, ErrWrongApplicationInfoTemplate
	}

	info.Initialized = true

	instanceUID, err := apdu.FindTag(data, TagApplicationInfoTemplate, uint8(0x8F))
	if err != nil {
		return nil, err
	}

	pubKey, err := apdu.FindTag(data, TagApplicationInfoTemplate, uint8(0x80))
	if err != nil {
		return nil, err
	}

	appVersion, err := apdu.FindTag(data, TagApplicationInfoTemplate, uint8(0x02))
	if err != nil {
		return nil, err
	}

	availableSlots, err := apdu.FindTagN(data, 1, TagApplicationInfoTemplate, uint8(0x02))
	if err != nil {
		return nil, err
	}

	keyUID, err := apdu.FindTag(data, TagApplicationInfoTemplate, uint8(0x8E))
	if err != nil {
		return nil, err
	}

	info.InstanceUID = instanceUID
	info.PublicKey = pubKey
	info.Version = appVersion
	info.AvailableSlots = availableSlots
	info.KeyUID = keyUID

	return info, nil
}
