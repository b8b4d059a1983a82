package custody

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

var logger = log.New("package", "keycard-custody/custody")

// Session runs one procedure against a connected card. A Session borrows its Card and must not
// outlive the connection that produced it.
type Session struct {
	card     Card
	pairings PairingStore
	keys     KeyStore
	recovery AddressRecovery
}

func NewSession(card Card, pairings PairingStore, keys KeyStore, recovery AddressRecovery) *Session {
	return &Session{
		card:     card,
		pairings: pairings,
		keys:     keys,
		recovery: recovery,
	}
}

// Info selects the applet and returns the card snapshot, without opening a secure channel.
func (s *Session) Info() (CardInfo, error) {
	return s.selectApplet()
}

// Pair pairs an initialized card, reusing a stored pairing when possible, and derives the key at
// req.PathComponent.
func (s *Session) Pair(req PairRequest) (common.Address, error) {
	if err := req.validate(); err != nil {
		return common.Address{}, err
	}

	info, err := s.selectApplet()
	if err != nil {
		return common.Address{}, err
	}

	if !info.Initialized {
		return common.Address{}, ErrKeycardNotInitialized
	}

	return s.connectAndDerive(info, req.PairingPassword, req.PIN, req.PathComponent)
}

// Initialize activates a blank card with the given credentials, then pairs and derives like Pair.
func (s *Session) Initialize(req InitializeRequest) (common.Address, error) {
	if err := req.validate(); err != nil {
		return common.Address{}, err
	}

	info, err := s.selectApplet()
	if err != nil {
		return common.Address{}, err
	}

	if info.Initialized {
		return common.Address{}, ErrKeycardAlreadyInitialized
	}

	if err = s.card.Activate(req.PIN, req.PUK, req.PairingPassword); err != nil {
		return common.Address{}, Translate(StageActivate, err)
	}

	logger.Info("card initialized")

	info, err = s.selectApplet()
	if err != nil {
		return common.Address{}, err
	}

	return s.connectAndDerive(info, req.PairingPassword, req.PIN, req.PathComponent)
}

// Sign signs req.Hash with the key stored for req.Address, after checking the connected card is
// the one, with the same master key, that derived it.
func (s *Session) Sign(req SignRequest) ([]byte, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	key, err := s.resolveKey(req.Address)
	if err != nil {
		return nil, err
	}

	if err = s.openForKey(key); err != nil {
		return nil, err
	}

	if err = s.authenticate(req.PIN); err != nil {
		return nil, err
	}

	sig, err := s.card.Sign(req.Hash, key.KeyPath)
	if err != nil {
		return nil, Translate(StageSign, err)
	}

	if len(sig) != 65 {
		return nil, newError(KindInvalidSignature, fmt.Errorf("signature is %d bytes long", len(sig)))
	}

	signer, err := s.recovery.RecoverAddress(sig, req.Hash)
	if err != nil {
		return nil, newError(KindInvalidSignature, err)
	}

	if signer != key.Address {
		logger.Warn("card signed with an unexpected key", "expected", key.Address, "signer", signer)
		return nil, ErrInvalidSigner
	}

	return sig, nil
}

// Unblock sets a new PIN on the card holding req.Address using the PUK.
func (s *Session) Unblock(req UnblockRequest) error {
	if err := req.validate(); err != nil {
		return err
	}

	key, err := s.resolveKey(req.Address)
	if err != nil {
		return err
	}

	if err = s.openForKey(key); err != nil {
		return err
	}

	if err = s.card.Unblock(req.PUK, req.NewPIN); err != nil {
		return Translate(StageUnblock, err)
	}

	logger.Info("pin unblocked", "address", key.Address)

	return nil
}

// Status reads the retry counters of a paired card. No PIN is needed.
func (s *Session) Status() (CardStatus, error) {
	info, err := s.selectApplet()
	if err != nil {
		return CardStatus{}, err
	}

	if !info.Initialized {
		return CardStatus{}, ErrKeycardNotInitialized
	}

	if _, err = s.openStored(info); err != nil {
		return CardStatus{}, err
	}

	status, err := s.card.Status()
	if err != nil {
		return CardStatus{}, Translate(StageStatus, err)
	}

	return status, nil
}

// Unpair releases the pairing slot held by this host and forgets the stored pairing. Keys derived
// on the card are kept: pairing again makes them usable.
func (s *Session) Unpair(req UnpairRequest) error {
	if err := req.validate(); err != nil {
		return err
	}

	info, err := s.selectApplet()
	if err != nil {
		return err
	}

	if !info.Initialized {
		return ErrKeycardNotInitialized
	}

	pairing, err := s.findPairing(info)
	if err != nil {
		return err
	}

	err = s.reopen(pairing)
	if errors.Is(err, errPairingInvalid) {
		logger.Info("pairing already released on the card", "index", pairing.Index)
		return s.removePairing(info.InstanceUID)
	}

	if err != nil {
		return err
	}

	if err = s.authenticate(req.PIN); err != nil {
		return err
	}

	if err = s.card.Unpair(pairing.Index); err != nil {
		return Translate(StageUnpair, err)
	}

	logger.Info("card unpaired", "index", pairing.Index)

	return s.removePairing(info.InstanceUID)
}

func (s *Session) removePairing(instanceUID []byte) error {
	if err := s.pairings.RemovePairing(instanceUID); err != nil {
		return fmt.Errorf("removing pairing: %w", err)
	}

	s.card.ResetPairing()

	return nil
}

func (s *Session) selectApplet() (CardInfo, error) {
	info, err := s.card.SelectApplet()
	if err != nil {
		return CardInfo{}, Translate(StageSelect, err)
	}

	logger.Debug("applet selected", "instanceUID", fmt.Sprintf("%x", info.InstanceUID), "initialized", info.Initialized, "freeSlots", info.FreePairingSlots)

	return info, nil
}

func (s *Session) connectAndDerive(info CardInfo, pairingPassword, pin string, pathComponent uint32) (common.Address, error) {
	if err := s.establishConnection(info, pairingPassword); err != nil {
		return common.Address{}, err
	}

	if err := s.authenticate(pin); err != nil {
		return common.Address{}, err
	}

	masterKeyUID, err := s.ensureMasterKey(info)
	if err != nil {
		return common.Address{}, err
	}

	key, err := s.deriveKey(pathComponent)
	if err != nil {
		return common.Address{}, err
	}

	key.InstanceUID = info.InstanceUID
	key.MasterKeyUID = masterKeyUID

	if err = s.keys.SaveKey(key); err != nil {
		return common.Address{}, fmt.Errorf("saving key %s: %w", key.Address.Hex(), err)
	}

	logger.Info("key derived", "address", key.Address, "path", key.KeyPath)

	return key.Address, nil
}

// establishConnection opens a secure channel with the stored pairing, replacing it with a new
// pairing when the card rejects it.
func (s *Session) establishConnection(info CardInfo, pairingPassword string) error {
	stored, found, err := s.pairings.FindPairing(info.InstanceUID)
	if err != nil {
		return fmt.Errorf("looking up pairing: %w", err)
	}

	if found {
		err = s.reopen(stored)
		if err == nil {
			return nil
		}

		if !errors.Is(err, errPairingInvalid) {
			return err
		}

		logger.Info("stored pairing rejected by the card, pairing again", "index", stored.Index)
		if err = s.removePairing(info.InstanceUID); err != nil {
			return err
		}
	}

	if info.FreePairingSlots <= 0 {
		return ErrNoPairingSlotsRemaining
	}

	pairing, err := s.card.Pair(pairingPassword)
	if err != nil {
		return Translate(StagePair, err)
	}

	err = s.pairings.SavePairing(KeycardPairing{
		InstanceUID: info.InstanceUID,
		Index:       pairing.Index,
		Key:         pairing.Key,
	})
	if err != nil {
		return fmt.Errorf("saving pairing: %w", err)
	}

	logger.Info("card paired", "index", pairing.Index)

	s.card.SetPairing(pairing.Key, pairing.Index)
	if err = s.card.OpenSecureChannel(); err != nil {
		return Translate(StageOpenChannel, err)
	}

	return nil
}

func (s *Session) reopen(pairing KeycardPairing) error {
	s.card.SetPairing(pairing.Key, pairing.Index)
	if err := s.card.OpenSecureChannel(); err != nil {
		return Translate(StageReopen, err)
	}

	return nil
}

func (s *Session) authenticate(pin string) error {
	if err := s.card.Authenticate(pin); err != nil {
		return Translate(StageAuthenticate, err)
	}

	return nil
}

func (s *Session) ensureMasterKey(info CardInfo) ([]byte, error) {
	if info.HasMasterKey() {
		return info.MasterKeyUID, nil
	}

	masterKeyUID, err := s.card.GenerateMasterKey()
	if err != nil {
		return nil, Translate(StageGenerateKey, err)
	}

	logger.Info("master key generated", "keyUID", fmt.Sprintf("%x", masterKeyUID))

	return masterKeyUID, nil
}

func (s *Session) deriveKey(pathComponent uint32) (KeycardKey, error) {
	keyPath := KeyPath(pathComponent)

	pubKey, err := s.card.ExportPublicKey(keyPath, true)
	if err != nil {
		return KeycardKey{}, Translate(StageExportKey, err)
	}

	address, err := s.recovery.AddressFromPublicKey(pubKey)
	if err != nil {
		return KeycardKey{}, Translate(StageExportKey, err)
	}

	return KeycardKey{
		Address:   address,
		KeyPath:   keyPath,
		PublicKey: pubKey,
	}, nil
}

func (s *Session) resolveKey(address common.Address) (KeycardKey, error) {
	key, found, err := s.keys.FindKey(address)
	if err != nil {
		return KeycardKey{}, fmt.Errorf("looking up key %s: %w", address.Hex(), err)
	}

	if !found {
		return KeycardKey{}, ErrKeycardKeyNotFound
	}

	return key, nil
}

// openForKey checks the connected card derived key and opens a secure channel with the stored
// pairing. An invalid pairing is not repaired here since that needs the pairing password.
func (s *Session) openForKey(key KeycardKey) error {
	info, err := s.selectApplet()
	if err != nil {
		return err
	}

	if !bytes.Equal(info.InstanceUID, key.InstanceUID) {
		return ErrUnknownKeycard
	}

	if !bytes.Equal(info.MasterKeyUID, key.MasterKeyUID) {
		return ErrUnknownMasterKey
	}

	_, err = s.openStored(info)

	return err
}

// openStored opens a secure channel with the stored pairing of the selected card.
func (s *Session) openStored(info CardInfo) (KeycardPairing, error) {
	pairing, err := s.findPairing(info)
	if err != nil {
		return KeycardPairing{}, err
	}

	err = s.reopen(pairing)
	if errors.Is(err, errPairingInvalid) {
		return KeycardPairing{}, newError(KindKeycardPairingBecameInvalid, errors.Unwrap(err))
	}

	return pairing, err
}

func (s *Session) findPairing(info CardInfo) (KeycardPairing, error) {
	pairing, found, err := s.pairings.FindPairing(info.InstanceUID)
	if err != nil {
		return KeycardPairing{}, fmt.Errorf("looking up pairing: %w", err)
	}

	if !found {
		return KeycardPairing{}, ErrKeycardNotPaired
	}

	return pairing, nil
}
