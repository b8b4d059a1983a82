package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/status-im/keycard-custody/custody"
)

var logger = log.New("package", "keycard-custody/store")

var (
	_ custody.PairingStore = (*File)(nil)
	_ custody.KeyStore     = (*File)(nil)
)

type fileContent struct {
	Pairings []custody.KeycardPairing `json:"pairings"`
	Keys     []custody.KeycardKey     `json:"keys"`
}

// File is a Memory store written to a JSON file after every change. The file holds pairing keys
// and is created with mode 0600.
type File struct {
	path string

	mu  sync.RWMutex
	mem *Memory
}

// OpenFile loads path, or starts empty if it doesn't exist yet.
func OpenFile(path string) (*File, error) {
	f := &File{
		path: path,
		mem:  NewMemory(),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading store: %w", err)
	}

	var content fileContent
	if err = json.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("decoding store %s: %w", path, err)
	}

	for _, p := range content.Pairings {
		_ = f.mem.SavePairing(p)
	}

	for _, k := range content.Keys {
		_ = f.mem.SaveKey(k)
	}

	logger.Debug("store loaded", "path", path, "pairings", len(content.Pairings), "keys", len(content.Keys))

	return f, nil
}

func (f *File) SavePairing(pairing custody.KeycardPairing) error {
	return f.update(func(m *Memory) error {
		return m.SavePairing(pairing)
	})
}

func (f *File) RemovePairing(instanceUID []byte) error {
	return f.update(func(m *Memory) error {
		return m.RemovePairing(instanceUID)
	})
}

func (f *File) FindPairing(instanceUID []byte) (custody.KeycardPairing, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.mem.FindPairing(instanceUID)
}

func (f *File) SaveKey(key custody.KeycardKey) error {
	return f.update(func(m *Memory) error {
		return m.SaveKey(key)
	})
}

func (f *File) RemoveKey(address common.Address) error {
	return f.update(func(m *Memory) error {
		return m.RemoveKey(address)
	})
}

func (f *File) FindKey(address common.Address) (custody.KeycardKey, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.mem.FindKey(address)
}

// Keys returns every stored key sorted by address.
func (f *File) Keys() ([]custody.KeycardKey, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.mem.Keys()
}

// update applies change to a copy of the content and keeps the copy only once it is on disk.
func (f *File) update(change func(*Memory) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := f.mem.clone()
	if err := change(next); err != nil {
		return err
	}

	if err := f.flush(next); err != nil {
		return err
	}

	f.mem = next

	return nil
}

// flush replaces the file atomically with the content of m.
func (f *File) flush(m *Memory) error {
	content := fileContent{
		Pairings: make([]custody.KeycardPairing, 0),
		Keys:     m.sortedKeys(),
	}

	m.mu.RLock()
	for _, p := range m.pairings {
		content.Pairings = append(content.Pairings, clonePairing(p))
	}
	m.mu.RUnlock()

	sort.Slice(content.Pairings, func(i, j int) bool {
		return string(content.Pairings[i].InstanceUID) < string(content.Pairings[j].InstanceUID)
	})

	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("writing store: %w", err)
	}

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing store: %w", err)
	}

	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing store: %w", err)
	}

	if err = os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing store: %w", err)
	}

	return nil
}
