// Package custodytest provides a deterministic in-memory Keycard and transport for tests.
package custodytest

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	keycard "github.com/status-im/keycard-custody"
	"github.com/status-im/keycard-custody/apdu"
	"github.com/status-im/keycard-custody/crypto"
	"github.com/status-im/keycard-custody/custody"
)

const (
	DefaultPINRetries   = 3
	DefaultPUKRetries   = 5
	DefaultPairingSlots = 5
)

// Card simulates the applet behind custody.Card, answering with the same errors as the real
// command set. Keys are derived deterministically from the instance UID, the master key
// generation and the path.
type Card struct {
	InstanceUID     []byte
	Initialized     bool
	PIN             string
	PUK             string
	PairingPassword string
	PINRetries      int
	PUKRetries      int

	// Fail makes the named facade method return the error before doing anything else.
	Fail map[string]error
	// FailOnce is like Fail but only for the next call of the method.
	FailOnce map[string]error
	// SignatureHook, when set, may replace the signature returned by Sign.
	SignatureHook func(sig []byte) []byte
	// Calls records every facade method called, in order.
	Calls []string

	slots         []pairingSlot
	masterKey     []byte
	masterKeyUID  []byte
	generation    int
	pairings      int
	pairingKey    []byte
	pairingIndex  int
	hasPairing    bool
	channelOpen   bool
	authenticated bool
}

type pairingSlot struct {
	key  []byte
	used bool
}

// NewBlankCard returns a card with the applet installed but not initialized.
func NewBlankCard(instanceUID []byte) *Card {
	return &Card{
		InstanceUID: instanceUID,
		Fail:        map[string]error{},
		FailOnce:    map[string]error{},
	}
}

// NewCard returns an initialized card, without master key, with every pairing slot free.
func NewCard(instanceUID []byte, pin, puk, pairingPassword string) *Card {
	c := NewBlankCard(instanceUID)
	c.activate(pin, puk, pairingPassword)
	return c
}

func (c *Card) activate(pin, puk, pairingPassword string) {
	c.Initialized = true
	c.PIN = pin
	c.PUK = puk
	c.PairingPassword = pairingPassword
	c.PINRetries = DefaultPINRetries
	c.PUKRetries = DefaultPUKRetries
	c.slots = make([]pairingSlot, DefaultPairingSlots)
}

// FreeSlots returns the number of unused pairing slots.
func (c *Card) FreeSlots() int {
	free := 0
	for _, s := range c.slots {
		if !s.used {
			free++
		}
	}

	return free
}

// FillSlots marks every pairing slot as used by other hosts.
func (c *Card) FillSlots() {
	for i := range c.slots {
		c.slots[i] = pairingSlot{key: []byte("other host"), used: true}
	}
}

// ReleaseSlot frees the slot at index, as another host would do with UNPAIR.
func (c *Card) ReleaseSlot(index int) {
	c.slots[index] = pairingSlot{}
}

// ReplaceMasterKey simulates a card reinitialized elsewhere: same instance, new master key.
func (c *Card) ReplaceMasterKey() {
	c.generateMasterKey()
}

// MasterKeyUID returns the key UID of the current master key, empty if none.
func (c *Card) MasterKeyUID() []byte {
	return c.masterKeyUID
}

// Called reports whether the named facade method has been called.
func (c *Card) Called(name string) bool {
	for _, call := range c.Calls {
		if call == name {
			return true
		}
	}

	return false
}

// PublicKey returns the uncompressed public key the card derives at path.
func (c *Card) PublicKey(path string) ([]byte, error) {
	key, err := c.derive(path)
	if err != nil {
		return nil, err
	}

	return ethcrypto.FromECDSAPub(&key.PublicKey), nil
}

func (c *Card) call(name string) error {
	c.Calls = append(c.Calls, name)
	if err, ok := c.FailOnce[name]; ok {
		delete(c.FailOnce, name)
		return err
	}

	if err, ok := c.Fail[name]; ok {
		return err
	}

	return nil
}

func (c *Card) SelectApplet() (custody.CardInfo, error) {
	if err := c.call("SelectApplet"); err != nil {
		return custody.CardInfo{}, err
	}

	c.channelOpen = false
	c.authenticated = false

	if !c.Initialized {
		return custody.CardInfo{}, nil
	}

	return custody.CardInfo{
		InstanceUID:      c.InstanceUID,
		MasterKeyUID:     c.masterKeyUID,
		Initialized:      true,
		FreePairingSlots: c.FreeSlots(),
	}, nil
}

func (c *Card) Activate(pin, puk, pairingPassword string) error {
	if err := c.call("Activate"); err != nil {
		return err
	}

	if c.Initialized {
		return apdu.NewErrBadResponse(apdu.SwInsNotSupported, "unexpected response")
	}

	c.activate(pin, puk, pairingPassword)

	return nil
}

func (c *Card) SetPairing(key []byte, index int) {
	c.Calls = append(c.Calls, "SetPairing")
	c.pairingKey = key
	c.pairingIndex = index
	c.hasPairing = true
}

func (c *Card) ResetPairing() {
	c.Calls = append(c.Calls, "ResetPairing")
	c.pairingKey = nil
	c.pairingIndex = 0
	c.hasPairing = false
}

func (c *Card) Pair(pairingPassword string) (custody.Pairing, error) {
	if err := c.call("Pair"); err != nil {
		return custody.Pairing{}, err
	}

	if !c.Initialized {
		return custody.Pairing{}, apdu.NewErrBadResponse(apdu.SwInsNotSupported, "unexpected response")
	}

	if pairingPassword != c.PairingPassword {
		return custody.Pairing{}, crypto.ErrInvalidCardCryptogram
	}

	for i, s := range c.slots {
		if s.used {
			continue
		}

		c.pairings++
		h := sha256.New()
		h.Write(c.InstanceUID)
		fmt.Fprintf(h, "pairing/%d", c.pairings)
		key := h.Sum(nil)

		c.slots[i] = pairingSlot{key: key, used: true}
		c.pairingKey = key
		c.pairingIndex = i
		c.hasPairing = true

		return custody.Pairing{Key: key, Index: i}, nil
	}

	return custody.Pairing{}, keycard.ErrNoAvailablePairingSlots
}

func (c *Card) OpenSecureChannel() error {
	if err := c.call("OpenSecureChannel"); err != nil {
		return err
	}

	if !c.hasPairing {
		return keycard.ErrPairingInfoNotSet
	}

	if c.pairingIndex < 0 || c.pairingIndex >= len(c.slots) || !c.slots[c.pairingIndex].used {
		// the applet rejects an empty or out of range slot as a wrong P1
		return apdu.NewErrBadResponse(apdu.SwIncorrectP1P2, "unexpected response")
	}

	if string(c.slots[c.pairingIndex].key) != string(c.pairingKey) {
		return apdu.NewErrBadResponse(apdu.SwSecurityConditionNotSatisfied, "unexpected sw in secure channel")
	}

	c.channelOpen = true

	return nil
}

func (c *Card) Authenticate(pin string) error {
	if err := c.call("Authenticate"); err != nil {
		return err
	}

	if err := c.requireChannel(); err != nil {
		return err
	}

	if c.PINRetries == 0 {
		return &keycard.WrongPINError{RemainingAttempts: 0}
	}

	if pin != c.PIN {
		c.PINRetries--
		return &keycard.WrongPINError{RemainingAttempts: c.PINRetries}
	}

	c.PINRetries = DefaultPINRetries
	c.authenticated = true

	return nil
}

func (c *Card) GenerateMasterKey() ([]byte, error) {
	if err := c.call("GenerateMasterKey"); err != nil {
		return nil, err
	}

	if err := c.requireAuth(); err != nil {
		return nil, err
	}

	c.generateMasterKey()

	return c.masterKeyUID, nil
}

func (c *Card) ExportPublicKey(path string, makeCurrent bool) ([]byte, error) {
	if err := c.call("ExportPublicKey"); err != nil {
		return nil, err
	}

	if err := c.requireAuth(); err != nil {
		return nil, err
	}

	return c.PublicKey(path)
}

func (c *Card) Sign(hash []byte, path string) ([]byte, error) {
	if err := c.call("Sign"); err != nil {
		return nil, err
	}

	if err := c.requireAuth(); err != nil {
		return nil, err
	}

	key, err := c.derive(path)
	if err != nil {
		return nil, err
	}

	sig, err := ethcrypto.Sign(hash, key)
	if err != nil {
		return nil, err
	}

	if c.SignatureHook != nil {
		sig = c.SignatureHook(sig)
	}

	return sig, nil
}

func (c *Card) Unblock(puk, newPIN string) error {
	if err := c.call("Unblock"); err != nil {
		return err
	}

	if err := c.requireChannel(); err != nil {
		return err
	}

	if c.PUKRetries == 0 {
		return &keycard.WrongPUKError{RemainingAttempts: 0}
	}

	if puk != c.PUK {
		c.PUKRetries--
		return &keycard.WrongPUKError{RemainingAttempts: c.PUKRetries}
	}

	c.PUKRetries = DefaultPUKRetries
	c.PIN = newPIN
	c.PINRetries = DefaultPINRetries

	return nil
}

func (c *Card) Status() (custody.CardStatus, error) {
	if err := c.call("Status"); err != nil {
		return custody.CardStatus{}, err
	}

	if err := c.requireChannel(); err != nil {
		return custody.CardStatus{}, err
	}

	return custody.CardStatus{
		PINRetries:   c.PINRetries,
		PUKRetries:   c.PUKRetries,
		HasMasterKey: len(c.masterKey) > 0,
	}, nil
}

func (c *Card) Unpair(index int) error {
	if err := c.call("Unpair"); err != nil {
		return err
	}

	if err := c.requireAuth(); err != nil {
		return err
	}

	if index < 0 || index >= len(c.slots) {
		return apdu.NewErrBadResponse(apdu.SwIncorrectP1P2, "unexpected response")
	}

	c.slots[index] = pairingSlot{}

	return nil
}

func (c *Card) requireChannel() error {
	if !c.channelOpen {
		return keycard.ErrSecureChannelNotOpen
	}

	return nil
}

func (c *Card) requireAuth() error {
	if err := c.requireChannel(); err != nil {
		return err
	}

	if !c.authenticated {
		return apdu.NewErrBadResponse(apdu.SwSecurityConditionNotSatisfied, "unexpected response")
	}

	return nil
}

func (c *Card) generateMasterKey() {
	c.generation++

	h := sha256.New()
	h.Write(c.InstanceUID)
	fmt.Fprintf(h, "master/%d", c.generation)
	c.masterKey = h.Sum(nil)

	key, _ := c.derive("m")
	uid := sha256.Sum256(ethcrypto.FromECDSAPub(&key.PublicKey))
	c.masterKeyUID = uid[:]
}

func (c *Card) derive(path string) (*ecdsa.PrivateKey, error) {
	if len(c.masterKey) == 0 {
		return nil, apdu.NewErrBadResponse(apdu.SwConditionsNotSatisfied, "no master key")
	}

	seed := make([]byte, 0, len(c.masterKey)+len(path)+4)
	seed = append(seed, c.masterKey...)
	seed = append(seed, path...)

	// the keccak of the seed is below the curve order with overwhelming probability
	for i := uint32(0); ; i++ {
		counter := make([]byte, 4)
		binary.BigEndian.PutUint32(counter, i)
		if key, err := ethcrypto.ToECDSA(ethcrypto.Keccak256(seed, counter)); err == nil {
			return key, nil
		}
	}
}
