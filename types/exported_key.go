package types

import (
	"github.com/status-im/keycard-custody/apdu"
)

var (
	TagExportKeyTemplate = uint8(0xA1)
	TagExportKeyPublic   = uint8(0x80)
	TagExportKeyPrivate  = uint8(0x81)
)

// ParseExportKeyResponse returns the private (if exported) and public key found in an export key response.
func ParseExportKeyResponse(data []byte) ([]byte, []byte, error) {
	tpl, err := apdu.FindTag(data, TagExportKeyTemplate)
	if err != nil {
		return nil, nil, err
	}

	pubKey, err := apdu.FindTag(tpl, TagExportKeyPublic)
	if err != nil {
		return nil, nil, err
	}

	privKey, err := apdu.FindTag(tpl, TagExportKeyPrivate)
	if err != nil {
		privKey = nil
	}

	return privKey, pubKey, nil
}
