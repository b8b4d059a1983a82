package custody_test

import (
	"errors"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	keycard "github.com/status-im/keycard-custody"
	"github.com/status-im/keycard-custody/apdu"
	"github.com/status-im/keycard-custody/custody"
	"github.com/status-im/keycard-custody/custody/custodytest"
	"github.com/status-im/keycard-custody/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedChannel answers commands with canned responses, in order.
type scriptedChannel struct {
	responses []*apdu.Response
	sent      []*apdu.Command
}

func (c *scriptedChannel) Send(cmd *apdu.Command) (*apdu.Response, error) {
	c.sent = append(c.sent, cmd)
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func selectResponse(t *testing.T) *apdu.Response {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	pubKey := ethcrypto.FromECDSAPub(&key.PublicKey)

	data := []byte{0x8F, 0x04, 0xDE, 0xAD, 0xBE, 0xEF}
	data = append(data, 0x80, byte(len(pubKey)))
	data = append(data, pubKey...)
	data = append(data, 0x02, 0x02, 0x03, 0x01)
	data = append(data, 0x02, 0x01, 0x04)
	data = append(data, 0x8E, 0x02, 0xCA, 0xFE)
	data = append([]byte{0xA4, byte(len(data))}, data...)

	return &apdu.Response{Data: data, Sw: apdu.SwOK}
}

func TestCommandSetCardSelectApplet(t *testing.T) {
	c := &scriptedChannel{responses: []*apdu.Response{selectResponse(t)}}

	info, err := custody.NewCommandSetCard(c).SelectApplet()
	require.NoError(t, err)
	assert.True(t, info.Initialized)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, info.InstanceUID)
	assert.Equal(t, []byte{0xCA, 0xFE}, info.MasterKeyUID)
	assert.Equal(t, 4, info.FreePairingSlots)
	assert.Equal(t, uint8(0xA4), c.sent[0].Ins)

	hasLe, le := c.sent[0].Le()
	assert.True(t, hasLe)
	assert.Equal(t, uint8(0), le)
}

func TestCommandSetCardPairNoSlots(t *testing.T) {
	c := &scriptedChannel{responses: []*apdu.Response{
		selectResponse(t),
		{Sw: keycard.SwNoAvailablePairingSlots},
	}}
	card := custody.NewCommandSetCard(c)

	_, err := card.SelectApplet()
	require.NoError(t, err)

	_, err = card.Pair("KeycardTest")
	assert.Equal(t, keycard.ErrNoAvailablePairingSlots, err)
	assert.ErrorIs(t, custody.Translate(custody.StagePair, err), custody.ErrNoPairingSlotsRemaining)
}

func TestCommandSetCardActivateInitialized(t *testing.T) {
	c := &scriptedChannel{responses: []*apdu.Response{
		selectResponse(t),
		{Sw: apdu.SwInsNotSupported},
	}}
	card := custody.NewCommandSetCard(c)

	_, err := card.SelectApplet()
	require.NoError(t, err)

	err = card.Activate(testPIN, testPUK, testPassword)
	assert.ErrorIs(t, custody.Translate(custody.StageActivate, err), custody.ErrKeycardAlreadyInitialized)
}

func TestCommandSetCardOpenWithoutPairing(t *testing.T) {
	c := &scriptedChannel{responses: []*apdu.Response{selectResponse(t)}}
	card := custody.NewCommandSetCard(c)

	_, err := card.SelectApplet()
	require.NoError(t, err)

	card.SetPairing([]byte{1}, 0)
	card.ResetPairing()
	assert.Equal(t, keycard.ErrPairingInfoNotSet, card.OpenSecureChannel())
	assert.Len(t, c.sent, 1)
}

func appletSession(applet *custodytest.Applet, s *store.Memory) *custody.Session {
	return custody.NewSession(custody.NewCommandSetCard(applet), s, s, custody.EthereumRecovery{})
}

func TestCommandSetCardOverApplet(t *testing.T) {
	applet := custodytest.NewBlankApplet(uidA)
	s := store.NewMemory()

	address, err := appletSession(applet, s).Initialize(custody.InitializeRequest{
		PIN:             testPIN,
		PUK:             testPUK,
		PairingPassword: testPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, custodytest.DefaultPairingSlots-1, applet.FreeSlots())

	key, found, err := s.FindKey(address)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uidA, key.InstanceUID)
	assert.Len(t, key.MasterKeyUID, 32)

	hash := ethcrypto.Keccak256([]byte("keycard"))

	_, err = appletSession(applet, s).Sign(custody.SignRequest{Hash: hash, Address: address, PIN: "000000"})
	require.ErrorIs(t, err, custody.ErrInvalidPIN)
	var cerr *custody.Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, 2, cerr.RemainingAttempts)

	for _, legacy := range []bool{false, true} {
		applet.LegacySignatures = legacy

		sig, err := appletSession(applet, s).Sign(custody.SignRequest{Hash: hash, Address: address, PIN: testPIN})
		require.NoError(t, err)

		signer, err := custody.EthereumRecovery{}.RecoverAddress(sig, hash)
		require.NoError(t, err)
		assert.Equal(t, address, signer, "legacy: %v", legacy)
	}

	status, err := appletSession(applet, s).Status()
	require.NoError(t, err)
	assert.Equal(t, custody.CardStatus{PINRetries: 3, PUKRetries: 5, HasMasterKey: true}, status)
}

func TestCommandSetCardUnpairOverApplet(t *testing.T) {
	applet := custodytest.NewApplet(uidA, testPIN, testPUK, testPassword)
	s := store.NewMemory()

	address, err := appletSession(applet, s).Pair(custody.PairRequest{PairingPassword: testPassword, PIN: testPIN})
	require.NoError(t, err)

	stale, found, err := s.FindPairing(uidA)
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, appletSession(applet, s).Unpair(custody.UnpairRequest{PIN: testPIN}))
	assert.Equal(t, custodytest.DefaultPairingSlots, applet.FreeSlots())

	_, found, err = s.FindPairing(uidA)
	require.NoError(t, err)
	assert.False(t, found)

	// the card answers a released slot with SW_INCORRECT_P1P2
	require.NoError(t, s.SavePairing(stale))
	_, err = appletSession(applet, s).Sign(custody.SignRequest{Hash: make([]byte, 32), Address: address, PIN: testPIN})
	assert.ErrorIs(t, err, custody.ErrKeycardPairingBecameInvalid)

	again, err := appletSession(applet, s).Pair(custody.PairRequest{PairingPassword: testPassword, PIN: testPIN})
	require.NoError(t, err)
	assert.Equal(t, address, again)
}

func TestCommandSetCardWrongPairingPassword(t *testing.T) {
	applet := custodytest.NewApplet(uidA, testPIN, testPUK, testPassword)
	s := store.NewMemory()

	_, err := appletSession(applet, s).Pair(custody.PairRequest{PairingPassword: "WrongPassword", PIN: testPIN})
	assert.ErrorIs(t, err, custody.ErrInvalidPairingPassword)
	assert.Equal(t, custodytest.DefaultPairingSlots, applet.FreeSlots())
}
