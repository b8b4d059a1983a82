package keycard

import (
	"bytes"
	"crypto/ecdsa"
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/status-im/keycard-custody/apdu"
	"github.com/status-im/keycard-custody/crypto"
	"github.com/status-im/keycard-custody/types"
)

var (
	ErrInvalidResponseMAC   = errors.New("invalid response MAC")
	ErrSecureChannelNotOpen = errors.New("secure channel not open")
)

// SecureChannel wraps a types.Channel encrypting and authenticating every command after OPEN SECURE CHANNEL.
type SecureChannel struct {
	c         types.Channel
	open      bool
	secret    []byte
	publicKey *ecdsa.PublicKey
	encKey    []byte
	macKey    []byte
	iv        []byte
}

func NewSecureChannel(c types.Channel) *SecureChannel {
	return &SecureChannel{
		c: c,
	}
}

// GenerateSecret creates a new ephemeral key and the ECDH secret shared with the card public key.
func (sc *SecureChannel) GenerateSecret(cardPubKeyData []byte) error {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return err
	}

	cardPubKey, err := ethcrypto.UnmarshalPubkey(cardPubKeyData)
	if err != nil {
		return err
	}

	sc.publicKey = &key.PublicKey
	sc.secret = crypto.GenerateECDHSharedSecret(key, cardPubKey)

	return nil
}

// Reset closes the session keeping the shared secret.
func (sc *SecureChannel) Reset() {
	sc.open = false
	sc.encKey = nil
	sc.macKey = nil
	sc.iv = nil
}

func (sc *SecureChannel) Init(iv, encKey, macKey []byte) {
	sc.iv = iv
	sc.encKey = encKey
	sc.macKey = macKey
	sc.open = true
}

func (sc *SecureChannel) Secret() []byte {
	return sc.secret
}

func (sc *SecureChannel) PublicKey() *ecdsa.PublicKey {
	return sc.publicKey
}

func (sc *SecureChannel) RawPublicKey() []byte {
	return ethcrypto.FromECDSAPub(sc.publicKey)
}

func (sc *SecureChannel) Send(cmd *apdu.Command) (*apdu.Response, error) {
	if !sc.open {
		return nil, ErrSecureChannelNotOpen
	}

	encData, err := crypto.EncryptData(cmd.Data, sc.encKey, sc.iv)
	if err != nil {
		return nil, err
	}

	meta := make([]byte, 16)
	copy(meta, []byte{cmd.Cla, cmd.Ins, cmd.P1, cmd.P2, byte(len(encData) + 16)})
	if err = sc.updateIV(meta, encData); err != nil {
		return nil, err
	}

	data := make([]byte, 0, len(sc.iv)+len(encData))
	data = append(data, sc.iv...)
	data = append(data, encData...)

	resp, err := sc.c.Send(apdu.NewCommand(cmd.Cla, cmd.Ins, cmd.P1, cmd.P2, data))
	if err != nil {
		return nil, err
	}

	if resp.Sw != apdu.SwOK {
		sc.Reset()
		return nil, apdu.NewErrBadResponse(resp.Sw, "unexpected sw in secure channel")
	}

	if len(resp.Data) < len(sc.iv) {
		return nil, ErrInvalidResponseMAC
	}

	rmeta := make([]byte, 16)
	rmeta[0] = byte(len(resp.Data))
	rmac := resp.Data[:len(sc.iv)]
	rdata := resp.Data[len(sc.iv):]

	plainData, err := crypto.DecryptData(rdata, sc.encKey, sc.iv)
	if err != nil {
		return nil, err
	}

	if err = sc.updateIV(rmeta, rdata); err != nil {
		return nil, err
	}

	if !bytes.Equal(sc.iv, rmac) {
		sc.Reset()
		return nil, ErrInvalidResponseMAC
	}

	return apdu.ParseResponse(plainData)
}

func (sc *SecureChannel) updateIV(meta, data []byte) error {
	mac, err := crypto.CalculateMac(meta, data, sc.macKey)
	if err != nil {
		return err
	}

	sc.iv = mac

	return nil
}

// OneShotEncrypt encrypts the INIT payload with the ECDH secret, no session needed.
func (sc *SecureChannel) OneShotEncrypt(secrets *Secrets) ([]byte, error) {
	data := make([]byte, 0, len(secrets.Pin())+len(secrets.Puk())+32)
	data = append(data, []byte(secrets.Pin())...)
	data = append(data, []byte(secrets.Puk())...)
	data = append(data, secrets.PairingToken()...)

	return crypto.OneShotEncrypt(sc.RawPublicKey(), sc.secret, data)
}
