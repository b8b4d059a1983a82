package custody

import (
	"fmt"

	keycard "github.com/status-im/keycard-custody"
	"github.com/status-im/keycard-custody/types"
)

// Card is the blocking command surface of a connected Keycard. Every failure is an opaque
// cause for Translate.
type Card interface {
	SelectApplet() (CardInfo, error)
	Activate(pin, puk, pairingPassword string) error
	// SetPairing and ResetPairing only change local state.
	SetPairing(key []byte, index int)
	ResetPairing()
	Pair(pairingPassword string) (Pairing, error)
	OpenSecureChannel() error
	Authenticate(pin string) error
	GenerateMasterKey() ([]byte, error)
	ExportPublicKey(path string, makeCurrent bool) ([]byte, error)
	// Sign returns a 65 bytes [R || S || V] signature of hash.
	Sign(hash []byte, path string) ([]byte, error)
	Unblock(puk, newPIN string) error
	Status() (CardStatus, error)
	// Unpair frees the pairing slot at index. It requires an authenticated channel.
	Unpair(index int) error
}

// CommandSetCard is the Card backed by the Keycard applet command set.
type CommandSetCard struct {
	cs *keycard.CommandSet
}

// NewCommandSetCard returns a Card sending commands over c.
func NewCommandSetCard(c types.Channel) *CommandSetCard {
	return &CommandSetCard{cs: keycard.NewCommandSet(c)}
}

func (c *CommandSetCard) SelectApplet() (CardInfo, error) {
	if err := c.cs.Select(); err != nil {
		return CardInfo{}, err
	}

	info := c.cs.ApplicationInfo

	return CardInfo{
		InstanceUID:      info.InstanceUID,
		MasterKeyUID:     info.KeyUID,
		Initialized:      info.Initialized,
		FreePairingSlots: info.FreePairingSlots(),
	}, nil
}

func (c *CommandSetCard) Activate(pin, puk, pairingPassword string) error {
	secrets, err := keycard.NewSecrets(pin, puk, pairingPassword)
	if err != nil {
		return err
	}

	return c.cs.Init(secrets)
}

func (c *CommandSetCard) SetPairing(key []byte, index int) {
	c.cs.SetPairingInfo(key, index)
}

func (c *CommandSetCard) ResetPairing() {
	c.cs.ResetPairingInfo()
}

func (c *CommandSetCard) Pair(pairingPassword string) (Pairing, error) {
	if err := c.cs.Pair(pairingPassword); err != nil {
		return Pairing{}, err
	}

	return Pairing{Key: c.cs.PairingInfo.Key, Index: c.cs.PairingInfo.Index}, nil
}

func (c *CommandSetCard) OpenSecureChannel() error {
	return c.cs.OpenSecureChannel()
}

func (c *CommandSetCard) Authenticate(pin string) error {
	return c.cs.VerifyPIN(pin)
}

func (c *CommandSetCard) GenerateMasterKey() ([]byte, error) {
	return c.cs.GenerateKey()
}

func (c *CommandSetCard) ExportPublicKey(path string, makeCurrent bool) ([]byte, error) {
	_, pubKey, err := c.cs.ExportKey(true, makeCurrent, true, path)
	return pubKey, err
}

func (c *CommandSetCard) Sign(hash []byte, path string) ([]byte, error) {
	sig, err := c.cs.SignWithPath(hash, path)
	if err != nil {
		return nil, err
	}

	return sig.Bytes(), nil
}

func (c *CommandSetCard) Unblock(puk, newPIN string) error {
	return c.cs.UnblockPIN(puk, newPIN)
}

func (c *CommandSetCard) Status() (CardStatus, error) {
	status, err := c.cs.GetStatusApplication()
	if err != nil {
		return CardStatus{}, err
	}

	return CardStatus{
		PINRetries:   status.PinRetryCount,
		PUKRetries:   status.PUKRetryCount,
		HasMasterKey: status.KeyInitialized,
	}, nil
}

func (c *CommandSetCard) Unpair(index int) error {
	if index < 0 || index > 0xFF {
		return fmt.Errorf("invalid pairing index %d", index)
	}

	return c.cs.Unpair(uint8(index))
}
