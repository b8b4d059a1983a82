package custody_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	keycard "github.com/status-im/keycard-custody"
	"github.com/status-im/keycard-custody/custody"
	"github.com/status-im/keycard-custody/custody/custodytest"
	"github.com/status-im/keycard-custody/io"
	"github.com/status-im/keycard-custody/store"
	"github.com/status-im/keycard-custody/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	tick    = 10 * time.Millisecond
)

func newService(t *testing.T, transport custody.Transport, card *custodytest.Card, s *store.Memory) *custody.Service {
	service, err := custody.NewService(custody.Config{
		Transport: transport,
		Pairings:  s,
		Keys:      s,
		NewCard: func(types.Channel) custody.Card {
			return card
		},
	})
	require.NoError(t, err)

	return service
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	_, err := custody.NewService(custody.Config{Transport: &custodytest.Transport{}})
	assert.Error(t, err)
}

func TestServiceLifecycle(t *testing.T) {
	for _, async := range []bool{false, true} {
		s := store.NewMemory()
		card := custodytest.NewBlankCard(uidA)
		transport := &custodytest.Transport{Async: async}
		service := newService(t, transport, card, s)

		address, err := service.Initialize(testPIN, testPUK, testPassword, 0)
		require.NoError(t, err)

		hash := make([]byte, 32)
		sig, err := service.Sign(hash, address, testPIN)
		require.NoError(t, err)
		assert.Len(t, sig, 65)

		signer, err := custody.EthereumRecovery{}.RecoverAddress(sig, hash)
		require.NoError(t, err)
		assert.Equal(t, address, signer)

		second, err := service.Pair(testPassword, testPIN, 1)
		require.NoError(t, err)
		assert.NotEqual(t, address, second)

		require.NoError(t, service.Unblock(testPUK, "111111", address))

		status, err := service.Status()
		require.NoError(t, err)
		assert.Equal(t, custodytest.DefaultPINRetries, status.PINRetries)

		info, err := service.Info()
		require.NoError(t, err)
		assert.True(t, info.HasMasterKey())

		require.NoError(t, service.ForgetKey(address))
		_, err = service.Sign(hash, address, "111111")
		assert.ErrorIs(t, err, custody.ErrKeycardKeyNotFound)

		_, found, err := s.FindPairing(uidA)
		require.NoError(t, err)
		assert.True(t, found, "forgetting a key keeps the pairing")

		require.NoError(t, service.Unpair("111111"))
		_, found, err = s.FindPairing(uidA)
		require.NoError(t, err)
		assert.False(t, found)

		assert.Equal(t, 8, transport.Connects())
	}
}

func TestServiceConnectFailures(t *testing.T) {
	scenarios := []struct {
		cause    error
		expected error
		silent   bool
	}{
		{io.ErrCancelled, custody.ErrUserCancelled, true},
		{io.ErrTimeout, custody.ErrTimeout, true},
		{errors.New("reader unplugged"), custody.ErrCommunicationFailed, false},
	}

	for _, s := range scenarios {
		card := custodytest.NewBlankCard(uidA)
		transport := &custodytest.Transport{Err: s.cause, Async: true}
		service := newService(t, transport, card, store.NewMemory())

		_, err := service.Initialize(testPIN, testPUK, testPassword, 0)
		assert.ErrorIs(t, err, s.expected)
		assert.ErrorIs(t, err, s.cause)
		assert.Equal(t, s.silent, custody.IsSilent(err))
		assert.Empty(t, card.Calls)
	}
}

func TestServiceConnectFailureWithoutCause(t *testing.T) {
	service := newService(t, &failingTransport{}, custodytest.NewBlankCard(uidA), store.NewMemory())

	_, err := service.Info()
	assert.Equal(t, custody.ErrUserCancelled, err)
}

func TestServiceIgnoresSecondOutcome(t *testing.T) {
	s := store.NewMemory()
	card := custodytest.NewBlankCard(uidA)
	service := newService(t, &custodytest.Transport{DoubleDeliver: true}, card, s)

	address, err := service.Initialize(testPIN, testPUK, testPassword, 0)
	require.NoError(t, err)
	assert.NotEqual(t, common.Address{}, address)

	_, err = service.Info()
	require.NoError(t, err)
}

func TestServiceSingleFlight(t *testing.T) {
	s := store.NewMemory()
	card := custodytest.NewCard(uidA, testPIN, testPUK, testPassword)
	transport := &custodytest.Transport{Async: true, Hold: make(chan struct{})}
	service := newService(t, transport, card, s)

	var (
		wg   sync.WaitGroup
		info custody.CardInfo
		err  error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		info, err = service.Info()
	}()

	require.Eventually(t, func() bool { return transport.Connects() == 1 }, waitFor, tick)

	_, secondErr := service.Pair(testPassword, testPIN, 0)
	assert.Equal(t, custody.ErrSessionActive, secondErr)
	assert.Equal(t, custody.ErrSessionActive, service.ForgetKey(common.Address{}))

	close(transport.Hold)
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, uidA, info.InstanceUID)
	assert.Equal(t, 1, transport.Connects())

	_, err = service.Info()
	assert.NoError(t, err)
}

func TestServiceValidatesBeforeConnecting(t *testing.T) {
	transport := &custodytest.Transport{}
	service := newService(t, transport, custodytest.NewBlankCard(uidA), store.NewMemory())

	_, err := service.Initialize("12345a", testPUK, testPassword, 0)
	assert.Equal(t, keycard.ErrInvalidPIN, err)

	_, err = service.Pair("", testPIN, 0)
	assert.Equal(t, keycard.ErrInvalidPairingPass, err)

	_, err = service.Sign([]byte{1}, common.Address{}, testPIN)
	assert.Equal(t, custody.ErrInvalidHashLength, err)

	err = service.Unblock("1234", testPIN, common.Address{})
	assert.Equal(t, keycard.ErrInvalidPUK, err)

	err = service.Unpair("")
	assert.Equal(t, keycard.ErrInvalidPIN, err)

	_, err = service.Pair(testPassword, testPIN, 1<<31)
	assert.Equal(t, custody.ErrInvalidPathComponent, err)

	assert.Zero(t, transport.Connects())
}

func TestServiceRefusesUIThread(t *testing.T) {
	service, err := custody.NewService(custody.Config{
		Transport:  &custodytest.Transport{},
		Pairings:   store.NewMemory(),
		Keys:       store.NewMemory(),
		OnUIThread: func() bool { return true },
	})
	require.NoError(t, err)

	assert.Panics(t, func() {
		_, _ = service.Info()
	})
}

func TestServiceGenerateCredentials(t *testing.T) {
	service := newService(t, &custodytest.Transport{}, custodytest.NewBlankCard(uidA), store.NewMemory())

	secrets, err := service.GenerateCredentials()
	require.NoError(t, err)
	assert.NoError(t, keycard.ValidatePIN(secrets.Pin()))
	assert.NoError(t, keycard.ValidatePUK(secrets.Puk()))
	assert.Len(t, secrets.PairingPass(), 12)
}

type failingTransport struct {
	err error
}

func (t *failingTransport) Connect(onConnected func(types.Channel), onFailed func(error)) {
	onFailed(t.err)
}
