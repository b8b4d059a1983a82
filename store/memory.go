// Package store implements the custody pairing and key stores in memory and in a JSON file.
package store

import (
	"encoding/hex"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/status-im/keycard-custody/custody"
)

var (
	_ custody.PairingStore = (*Memory)(nil)
	_ custody.KeyStore     = (*Memory)(nil)
)

// Memory keeps pairings and keys in maps. It is safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	pairings map[string]custody.KeycardPairing
	keys     map[common.Address]custody.KeycardKey
}

func NewMemory() *Memory {
	return &Memory{
		pairings: make(map[string]custody.KeycardPairing),
		keys:     make(map[common.Address]custody.KeycardKey),
	}
}

// SavePairing replaces any pairing stored for the same instance UID.
func (m *Memory) SavePairing(pairing custody.KeycardPairing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pairings[hex.EncodeToString(pairing.InstanceUID)] = clonePairing(pairing)

	return nil
}

func (m *Memory) RemovePairing(instanceUID []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.pairings, hex.EncodeToString(instanceUID))

	return nil
}

func (m *Memory) FindPairing(instanceUID []byte) (custody.KeycardPairing, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pairing, ok := m.pairings[hex.EncodeToString(instanceUID)]
	if !ok {
		return custody.KeycardPairing{}, false, nil
	}

	return clonePairing(pairing), true, nil
}

func (m *Memory) SaveKey(key custody.KeycardKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.keys[key.Address] = cloneKey(key)

	return nil
}

func (m *Memory) RemoveKey(address common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.keys, address)

	return nil
}

func (m *Memory) FindKey(address common.Address) (custody.KeycardKey, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.keys[address]
	if !ok {
		return custody.KeycardKey{}, false, nil
	}

	return cloneKey(key), true, nil
}

// Keys returns every stored key sorted by address.
func (m *Memory) Keys() ([]custody.KeycardKey, error) {
	return m.sortedKeys(), nil
}

func (m *Memory) clone() *Memory {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := NewMemory()
	for uid, p := range m.pairings {
		c.pairings[uid] = clonePairing(p)
	}

	for address, k := range m.keys {
		c.keys[address] = cloneKey(k)
	}

	return c
}

func (m *Memory) sortedKeys() []custody.KeycardKey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]custody.KeycardKey, 0, len(m.keys))
	for _, key := range m.keys {
		keys = append(keys, cloneKey(key))
	}

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Address.Hex() < keys[j].Address.Hex()
	})

	return keys
}

func clonePairing(p custody.KeycardPairing) custody.KeycardPairing {
	p.InstanceUID = common.CopyBytes(p.InstanceUID)
	p.Key = common.CopyBytes(p.Key)
	return p
}

func cloneKey(k custody.KeycardKey) custody.KeycardKey {
	k.InstanceUID = common.CopyBytes(k.InstanceUID)
	k.MasterKeyUID = common.CopyBytes(k.MasterKeyUID)
	k.PublicKey = common.CopyBytes(k.PublicKey)
	return k
}
