package custodytest

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	keycard "github.com/status-im/keycard-custody"
	"github.com/status-im/keycard-custody/apdu"
	"github.com/status-im/keycard-custody/crypto"
	"github.com/status-im/keycard-custody/globalplatform"
	"github.com/status-im/keycard-custody/identifiers"
)

var appletVersion = []byte{0x03, 0x01}

// Applet emulates the Keycard applet at the APDU level. It implements types.Channel, so the real
// command set, secure channel included, can run against it.
type Applet struct {
	InstanceUID []byte
	Initialized bool
	PIN         string
	PUK         string
	PINRetries  int
	PUKRetries  int

	// LegacySignatures makes SIGN answer with the A0 template of older applets.
	LegacySignatures bool
	// CorruptMAC makes the next secure channel response carry a wrong MAC.
	CorruptMAC bool
	// Sent records the instruction of every command received, in order.
	Sent []uint8

	key          *ecdsa.PrivateKey
	pairingToken []byte
	slots        [][]byte
	challenge    []byte
	masterKey    *ecdsa.PrivateKey

	open          bool
	authenticated bool
	encKey        []byte
	macKey        []byte
	iv            []byte
}

// NewBlankApplet returns an applet waiting for INIT.
func NewBlankApplet(instanceUID []byte) *Applet {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		panic(err)
	}

	return &Applet{
		InstanceUID: instanceUID,
		key:         key,
		slots:       make([][]byte, DefaultPairingSlots),
	}
}

// NewApplet returns an initialized applet without master key.
func NewApplet(instanceUID []byte, pin, puk, pairingPassword string) *Applet {
	a := NewBlankApplet(instanceUID)
	a.initialize(pin, puk, crypto.PairingToken(pairingPassword))
	return a
}

// PublicKey returns the uncompressed public key derived at the encoded path, nil without a
// master key.
func (a *Applet) PublicKey(path []byte) []byte {
	if a.masterKey == nil {
		return nil
	}

	return ethcrypto.FromECDSAPub(&a.derive(path).PublicKey)
}

// FreeSlots returns the number of unused pairing slots.
func (a *Applet) FreeSlots() int {
	free := 0
	for _, s := range a.slots {
		if s == nil {
			free++
		}
	}

	return free
}

func (a *Applet) Send(cmd *apdu.Command) (*apdu.Response, error) {
	a.Sent = append(a.Sent, cmd.Ins)

	switch cmd.Ins {
	case globalplatform.InsSelect:
		return a.handleSelect(cmd), nil
	case keycard.InsInit:
		return a.handleInit(cmd), nil
	case keycard.InsPair:
		return a.handlePair(cmd), nil
	case keycard.InsOpenSecureChannel:
		return a.handleOpen(cmd), nil
	}

	if !a.open {
		return respond(nil, apdu.SwSecurityConditionNotSatisfied), nil
	}

	return a.secure(cmd), nil
}

func (a *Applet) initialize(pin, puk string, pairingToken []byte) {
	a.Initialized = true
	a.PIN = pin
	a.PUK = puk
	a.PINRetries = DefaultPINRetries
	a.PUKRetries = DefaultPUKRetries
	a.pairingToken = pairingToken
}

func (a *Applet) closeChannel() {
	a.open = false
	a.authenticated = false
	a.encKey = nil
	a.macKey = nil
	a.iv = nil
}

func (a *Applet) handleSelect(cmd *apdu.Command) *apdu.Response {
	aid, err := identifiers.KeycardInstanceAID(identifiers.KeycardDefaultInstanceIndex)
	if err != nil || !bytes.Equal(aid, cmd.Data) {
		return respond(nil, apdu.SwFileNotFound)
	}

	a.closeChannel()
	a.challenge = nil

	pubKey := ethcrypto.FromECDSAPub(&a.key.PublicKey)
	if !a.Initialized {
		return respond(tlv(0x80, pubKey), apdu.SwOK)
	}

	var keyUID []byte
	if a.masterKey != nil {
		keyUID = a.keyUID()
	}

	var info []byte
	info = append(info, tlv(0x8F, a.InstanceUID)...)
	info = append(info, tlv(0x80, pubKey)...)
	info = append(info, tlv(0x02, appletVersion)...)
	info = append(info, tlv(0x02, []byte{byte(a.FreeSlots())})...)
	info = append(info, tlv(0x8E, keyUID)...)

	return respond(tlv(0xA4, info), apdu.SwOK)
}

func (a *Applet) handleInit(cmd *apdu.Command) *apdu.Response {
	if a.Initialized {
		return respond(nil, apdu.SwInsNotSupported)
	}

	data := cmd.Data
	if len(data) < 1 || len(data) < 1+int(data[0])+16 {
		return respond(nil, apdu.SwWrongData)
	}

	keyEnd := 1 + int(data[0])
	hostKey, err := ethcrypto.UnmarshalPubkey(data[1:keyEnd])
	if err != nil {
		return respond(nil, apdu.SwWrongData)
	}

	rest := data[keyEnd:]
	secret := crypto.GenerateECDHSharedSecret(a.key, hostKey)
	plain, err := crypto.DecryptData(rest[16:], secret, rest[:16])
	if err != nil || len(plain) != 6+12+32 {
		return respond(nil, apdu.SwWrongData)
	}

	a.initialize(string(plain[:6]), string(plain[6:18]), plain[18:])

	return respond(nil, apdu.SwOK)
}

func (a *Applet) handlePair(cmd *apdu.Command) *apdu.Response {
	if !a.Initialized {
		return respond(nil, apdu.SwConditionsNotSatisfied)
	}

	switch cmd.P1 {
	case keycard.P1PairingFirstStep:
		if a.FreeSlots() == 0 {
			return respond(nil, keycard.SwNoAvailablePairingSlots)
		}

		if len(cmd.Data) != 32 {
			return respond(nil, apdu.SwWrongData)
		}

		a.challenge = randomBytes(32)

		out := sha256Of(a.pairingToken, cmd.Data)
		return respond(append(out, a.challenge...), apdu.SwOK)
	case keycard.P1PairingFinalStep:
		if a.challenge == nil {
			return respond(nil, apdu.SwConditionsNotSatisfied)
		}

		expected := sha256Of(a.pairingToken, a.challenge)
		a.challenge = nil
		if !bytes.Equal(expected, cmd.Data) {
			return respond(nil, apdu.SwSecurityConditionNotSatisfied)
		}

		index := 0
		for index < len(a.slots) && a.slots[index] != nil {
			index++
		}

		if index == len(a.slots) {
			return respond(nil, keycard.SwNoAvailablePairingSlots)
		}

		salt := randomBytes(32)
		a.slots[index] = sha256Of(a.pairingToken, salt)

		return respond(append([]byte{byte(index)}, salt...), apdu.SwOK)
	default:
		return respond(nil, apdu.SwIncorrectP1P2)
	}
}

func (a *Applet) handleOpen(cmd *apdu.Command) *apdu.Response {
	a.closeChannel()

	if !a.Initialized {
		return respond(nil, apdu.SwConditionsNotSatisfied)
	}

	// the applet rejects an empty or out of range slot as a wrong P1
	index := int(cmd.P1)
	if index >= len(a.slots) || a.slots[index] == nil {
		return respond(nil, apdu.SwIncorrectP1P2)
	}

	hostKey, err := ethcrypto.UnmarshalPubkey(cmd.Data)
	if err != nil {
		return respond(nil, apdu.SwWrongData)
	}

	secret := crypto.GenerateECDHSharedSecret(a.key, hostKey)
	salt := randomBytes(32)
	iv := randomBytes(16)

	h := sha512.New()
	h.Write(secret)
	h.Write(a.slots[index])
	h.Write(salt)
	keys := h.Sum(nil)

	a.encKey = keys[:32]
	a.macKey = keys[32:]
	a.iv = iv
	a.open = true

	return respond(append(salt, iv...), apdu.SwOK)
}

// secure unwraps a secure channel command, runs it and wraps the answer. A command with a wrong
// MAC closes the channel and gets a plain status word.
func (a *Applet) secure(cmd *apdu.Command) *apdu.Response {
	if len(cmd.Data) < 16 {
		a.closeChannel()
		return respond(nil, apdu.SwSecurityConditionNotSatisfied)
	}

	mac := cmd.Data[:16]
	enc := cmd.Data[16:]

	meta := make([]byte, 16)
	copy(meta, []byte{cmd.Cla, cmd.Ins, cmd.P1, cmd.P2, byte(len(cmd.Data))})
	expected, err := crypto.CalculateMac(meta, enc, a.macKey)
	if err != nil || !bytes.Equal(expected, mac) {
		a.closeChannel()
		return respond(nil, apdu.SwSecurityConditionNotSatisfied)
	}

	plain, err := crypto.DecryptData(enc, a.encKey, a.iv)
	if err != nil {
		a.closeChannel()
		return respond(nil, apdu.SwSecurityConditionNotSatisfied)
	}

	data, sw := a.execute(cmd, plain)

	encResp, err := crypto.EncryptData(append(data, byte(sw>>8), byte(sw)), a.encKey, mac)
	if err != nil {
		return respond(nil, apdu.SwConditionsNotSatisfied)
	}

	rmeta := make([]byte, 16)
	rmeta[0] = byte(16 + len(encResp))
	rmac, err := crypto.CalculateMac(rmeta, encResp, a.macKey)
	if err != nil {
		return respond(nil, apdu.SwConditionsNotSatisfied)
	}

	a.iv = rmac

	if a.CorruptMAC {
		a.CorruptMAC = false
		rmac = append([]byte{}, rmac...)
		rmac[0] ^= 0xFF
	}

	return respond(append(append([]byte{}, rmac...), encResp...), apdu.SwOK)
}

func (a *Applet) execute(cmd *apdu.Command, data []byte) ([]byte, uint16) {
	switch cmd.Ins {
	case keycard.InsMutuallyAuthenticate:
		if len(data) != 32 {
			return nil, apdu.SwWrongData
		}
		return randomBytes(32), apdu.SwOK
	case keycard.InsGetStatus:
		return a.status(), apdu.SwOK
	case keycard.InsVerifyPIN:
		return nil, a.verifyPIN(string(data))
	case keycard.InsUnblockPIN:
		return nil, a.unblockPIN(data)
	}

	if !a.authenticated {
		return nil, apdu.SwSecurityConditionNotSatisfied
	}

	switch cmd.Ins {
	case keycard.InsUnpair:
		if int(cmd.P1) >= len(a.slots) {
			return nil, apdu.SwIncorrectP1P2
		}
		a.slots[cmd.P1] = nil
		return nil, apdu.SwOK
	case keycard.InsGenerateKey:
		key, err := ethcrypto.GenerateKey()
		if err != nil {
			return nil, apdu.SwConditionsNotSatisfied
		}
		a.masterKey = key
		return a.keyUID(), apdu.SwOK
	case keycard.InsExportKey:
		return a.exportKey(cmd, data)
	case keycard.InsSign:
		return a.sign(cmd, data)
	default:
		return nil, apdu.SwInsNotSupported
	}
}

func (a *Applet) status() []byte {
	keyInitialized := byte(0x00)
	if a.masterKey != nil {
		keyInitialized = 0xFF
	}

	var tpl []byte
	tpl = append(tpl, tlv(0x02, []byte{byte(a.PINRetries)})...)
	tpl = append(tpl, tlv(0x02, []byte{byte(a.PUKRetries)})...)
	tpl = append(tpl, tlv(0x01, []byte{keyInitialized})...)

	return tlv(0xA3, tpl)
}

func (a *Applet) verifyPIN(pin string) uint16 {
	if a.PINRetries == 0 {
		return 0x63C0
	}

	if pin != a.PIN {
		a.PINRetries--
		a.authenticated = false
		return 0x63C0 | uint16(a.PINRetries)
	}

	a.PINRetries = DefaultPINRetries
	a.authenticated = true

	return apdu.SwOK
}

func (a *Applet) unblockPIN(data []byte) uint16 {
	if a.PINRetries != 0 {
		return apdu.SwConditionsNotSatisfied
	}

	if len(data) != 12+6 {
		return apdu.SwWrongData
	}

	if a.PUKRetries == 0 {
		return 0x63C0
	}

	if string(data[:12]) != a.PUK {
		a.PUKRetries--
		return 0x63C0 | uint16(a.PUKRetries)
	}

	a.PIN = string(data[12:])
	a.PINRetries = DefaultPINRetries
	a.PUKRetries = DefaultPUKRetries
	a.authenticated = true

	return apdu.SwOK
}

func (a *Applet) exportKey(cmd *apdu.Command, path []byte) ([]byte, uint16) {
	if a.masterKey == nil {
		return nil, apdu.SwConditionsNotSatisfied
	}

	if cmd.P1&0x0F == keycard.P1ExportKeyCurrent || cmd.P2 != keycard.P2ExportKeyPublicOnly {
		return nil, apdu.SwIncorrectP1P2
	}

	pubKey := ethcrypto.FromECDSAPub(&a.derive(path).PublicKey)

	return tlv(0xA1, tlv(0x80, pubKey)), apdu.SwOK
}

func (a *Applet) sign(cmd *apdu.Command, data []byte) ([]byte, uint16) {
	if a.masterKey == nil {
		return nil, apdu.SwConditionsNotSatisfied
	}

	if cmd.P1&0x0F != keycard.P1SignDerive || len(data) < 32 {
		return nil, apdu.SwIncorrectP1P2
	}

	key := a.derive(data[32:])
	sig, err := ethcrypto.Sign(data[:32], key)
	if err != nil {
		return nil, apdu.SwConditionsNotSatisfied
	}

	if !a.LegacySignatures {
		return tlv(0x80, sig), apdu.SwOK
	}

	der := append(derInteger(sig[:32]), derInteger(sig[32:64])...)
	tpl := append(tlv(0x80, ethcrypto.FromECDSAPub(&key.PublicKey)), tlv(0x30, der)...)

	return tlv(0xA0, tpl), apdu.SwOK
}

func (a *Applet) keyUID() []byte {
	return sha256Of(ethcrypto.FromECDSAPub(&a.masterKey.PublicKey))
}

func (a *Applet) derive(path []byte) *ecdsa.PrivateKey {
	seed := ethcrypto.Keccak256(ethcrypto.FromECDSA(a.masterKey), path)
	key, err := ethcrypto.ToECDSA(seed)
	if err != nil {
		panic(err)
	}

	return key
}

func respond(data []byte, sw uint16) *apdu.Response {
	return &apdu.Response{
		Data: data,
		Sw1:  uint8(sw >> 8),
		Sw2:  uint8(sw),
		Sw:   sw,
	}
}

// tlv encodes a BER TLV, using the 0x81 long form above 127 bytes.
func tlv(tag byte, value []byte) []byte {
	out := []byte{tag}
	if len(value) > 0x7F {
		out = append(out, 0x81)
	}

	out = append(out, byte(len(value)))

	return append(out, value...)
}

// derInteger encodes a big endian unsigned scalar as a DER INTEGER.
func derInteger(b []byte) []byte {
	b = bytes.TrimLeft(b, "\x00")
	if len(b) == 0 || b[0]&0x80 != 0 {
		b = append([]byte{0x00}, b...)
	}

	return tlv(0x02, b)
}

func sha256Of(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}

	return h.Sum(nil)
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}

	return b
}
