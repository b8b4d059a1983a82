// Package globalplatform contains the ISO7816 / GlobalPlatform commands shared by every applet.
package globalplatform

import "github.com/status-im/keycard-custody/apdu"

const (
	ClaISO7816 = uint8(0x00)
	ClaGp      = uint8(0x80)

	InsSelect = uint8(0xA4)

	P1SelectByName  = uint8(0x04)
	P2SelectFirstOr = uint8(0x00)
)

// NewCommandSelect returns a Select command to select the applet with the specified AID.
func NewCommandSelect(aid []byte) *apdu.Command {
	c := apdu.NewCommand(
		ClaISO7816,
		InsSelect,
		P1SelectByName,
		P2SelectFirstOr,
		aid,
	)

	c.SetLe(0)

	return c
}
