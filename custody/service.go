package custody

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	keycard "github.com/status-im/keycard-custody"
	"github.com/status-im/keycard-custody/types"
)

// Transport waits for a card to be presented. Connect must not block the caller for the whole
// exchange: it eventually calls exactly one of onConnected or onFailed. The channel passed to
// onConnected is only valid until onConnected returns. A user dismissing the prompt is reported
// as onFailed(io.ErrCancelled).
type Transport interface {
	Connect(onConnected func(types.Channel), onFailed func(error))
}

// Config holds the collaborators of a Service. Transport, Pairings and Keys are required.
type Config struct {
	Transport Transport
	Pairings  PairingStore
	Keys      KeyStore
	// Recovery defaults to EthereumRecovery.
	Recovery AddressRecovery
	// NewCard builds the card facade for a connected channel. Defaults to NewCommandSetCard.
	NewCard func(types.Channel) Card
	// OnUIThread, when set, reports whether the caller runs on the UI thread. Blocking
	// operations panic when it returns true.
	OnUIThread func() bool
}

// Service exposes the custody use cases. At most one card session runs at a time.
type Service struct {
	transport  Transport
	pairings   PairingStore
	keys       KeyStore
	recovery   AddressRecovery
	newCard    func(types.Channel) Card
	onUIThread func() bool

	mu     sync.Mutex
	active bool
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Transport == nil || cfg.Pairings == nil || cfg.Keys == nil {
		return nil, errors.New("transport, pairing store and key store are required")
	}

	s := &Service{
		transport:  cfg.Transport,
		pairings:   cfg.Pairings,
		keys:       cfg.Keys,
		recovery:   cfg.Recovery,
		newCard:    cfg.NewCard,
		onUIThread: cfg.OnUIThread,
	}

	if s.recovery == nil {
		s.recovery = EthereumRecovery{}
	}

	if s.newCard == nil {
		s.newCard = func(c types.Channel) Card {
			return NewCommandSetCard(c)
		}
	}

	return s, nil
}

// Pair pairs an initialized card and returns the address of the key at pathComponent.
func (s *Service) Pair(pairingPassword, pin string, pathComponent uint32) (common.Address, error) {
	req := PairRequest{PairingPassword: pairingPassword, PIN: pin, PathComponent: pathComponent}
	if err := req.validate(); err != nil {
		return common.Address{}, err
	}

	var address common.Address
	err := s.run("pair", func(session *Session) error {
		var err error
		address, err = session.Pair(req)
		return err
	})

	return address, err
}

// Initialize initializes a blank card and returns the address of the key at pathComponent.
func (s *Service) Initialize(pin, puk, pairingPassword string, pathComponent uint32) (common.Address, error) {
	req := InitializeRequest{PIN: pin, PUK: puk, PairingPassword: pairingPassword, PathComponent: pathComponent}
	if err := req.validate(); err != nil {
		return common.Address{}, err
	}

	var address common.Address
	err := s.run("initialize", func(session *Session) error {
		var err error
		address, err = session.Initialize(req)
		return err
	})

	return address, err
}

// Sign returns the 65 bytes signature of hash made by the card key of address.
func (s *Service) Sign(hash []byte, address common.Address, pin string) ([]byte, error) {
	req := SignRequest{Hash: hash, Address: address, PIN: pin}
	if err := req.validate(); err != nil {
		return nil, err
	}

	var sig []byte
	err := s.run("sign", func(session *Session) error {
		var err error
		sig, err = session.Sign(req)
		return err
	})

	return sig, err
}

// Unblock sets newPIN on the card holding address.
func (s *Service) Unblock(puk, newPIN string, address common.Address) error {
	req := UnblockRequest{PUK: puk, NewPIN: newPIN, Address: address}
	if err := req.validate(); err != nil {
		return err
	}

	return s.run("unblock", func(session *Session) error {
		return session.Unblock(req)
	})
}

// Info returns the snapshot of the presented card.
func (s *Service) Info() (CardInfo, error) {
	var info CardInfo
	err := s.run("info", func(session *Session) error {
		var err error
		info, err = session.Info()
		return err
	})

	return info, err
}

// Status returns the PIN and PUK retry counters of the presented card.
func (s *Service) Status() (CardStatus, error) {
	var status CardStatus
	err := s.run("status", func(session *Session) error {
		var err error
		status, err = session.Status()
		return err
	})

	return status, err
}

// Unpair frees the pairing slot this host holds on the presented card.
func (s *Service) Unpair(pin string) error {
	req := UnpairRequest{PIN: pin}
	if err := req.validate(); err != nil {
		return err
	}

	return s.run("unpair", func(session *Session) error {
		return session.Unpair(req)
	})
}

// GenerateCredentials returns a random PIN, PUK and pairing password for a new card.
func (s *Service) GenerateCredentials() (*keycard.Secrets, error) {
	return keycard.GenerateSecrets()
}

// ForgetKey removes the key of address. The card pairing is kept since slots are shared
// between keys and scarce.
func (s *Service) ForgetKey(address common.Address) error {
	if !s.begin() {
		return ErrSessionActive
	}
	defer s.end()

	if err := s.keys.RemoveKey(address); err != nil {
		return fmt.Errorf("removing key %s: %w", address.Hex(), err)
	}

	logger.Info("key forgotten", "address", address)

	return nil
}

func (s *Service) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return false
	}

	s.active = true

	return true
}

func (s *Service) end() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// run blocks until the transport connects and procedure completes, or the connection fails.
func (s *Service) run(name string, procedure func(*Session) error) error {
	if s.onUIThread != nil && s.onUIThread() {
		panic(fmt.Sprintf("keycard %s must not be called on the UI thread", name))
	}

	if !s.begin() {
		return ErrSessionActive
	}
	defer s.end()

	logger.Debug("waiting for card", "operation", name)

	done := make(chan error, 1)
	var delivered atomic.Bool

	onConnected := func(c types.Channel) {
		if !delivered.CompareAndSwap(false, true) {
			logger.Warn("ignoring connect event after completion", "operation", name)
			return
		}

		session := NewSession(s.newCard(c), s.pairings, s.keys, s.recovery)
		done <- procedure(session)
	}

	onFailed := func(err error) {
		if !delivered.CompareAndSwap(false, true) {
			logger.Warn("ignoring connect failure after completion", "operation", name, "error", err)
			return
		}

		if err == nil {
			done <- ErrUserCancelled
			return
		}

		done <- Translate(StageConnect, err)
	}

	s.transport.Connect(onConnected, onFailed)

	err := <-done
	if err != nil && !IsSilent(err) {
		logger.Error("keycard operation failed", "operation", name, "error", err)
	}

	return err
}
