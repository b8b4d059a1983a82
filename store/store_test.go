package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/status-im/keycard-custody/custody"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pairingKeyStore interface {
	custody.PairingStore
	custody.KeyStore
}

func testPairings(t *testing.T, s pairingKeyStore) {
	uid := []byte{1, 2, 3}

	_, found, err := s.FindPairing(uid)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SavePairing(custody.KeycardPairing{InstanceUID: uid, Index: 1, Key: []byte{0xAA}}))
	require.NoError(t, s.SavePairing(custody.KeycardPairing{InstanceUID: uid, Index: 4, Key: []byte{0xBB}}))
	require.NoError(t, s.SavePairing(custody.KeycardPairing{InstanceUID: []byte{9}, Index: 0, Key: []byte{0xCC}}))

	pairing, found, err := s.FindPairing(uid)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 4, pairing.Index)
	assert.Equal(t, []byte{0xBB}, pairing.Key)

	require.NoError(t, s.RemovePairing(uid))
	_, found, err = s.FindPairing(uid)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = s.FindPairing([]byte{9})
	require.NoError(t, err)
	assert.True(t, found)
}

func testKeys(t *testing.T, s pairingKeyStore) {
	address := common.HexToAddress("0x5b38da6a701c568545dcfcb03fcb875f56beddc4")
	key := custody.KeycardKey{
		Address:      address,
		InstanceUID:  []byte{1},
		MasterKeyUID: []byte{2},
		KeyPath:      custody.KeyPath(3),
		PublicKey:    []byte{4, 5},
	}

	require.NoError(t, s.SavePairing(custody.KeycardPairing{InstanceUID: []byte{1}, Index: 0, Key: []byte{7}}))
	require.NoError(t, s.SaveKey(key))

	stored, found, err := s.FindKey(address)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, key, stored)

	require.NoError(t, s.RemoveKey(address))
	_, found, err = s.FindKey(address)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = s.FindPairing([]byte{1})
	require.NoError(t, err)
	assert.True(t, found, "removing a key keeps the pairing")
}

func TestMemory(t *testing.T) {
	t.Run("pairings", func(t *testing.T) { testPairings(t, NewMemory()) })
	t.Run("keys", func(t *testing.T) { testKeys(t, NewMemory()) })
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.SavePairing(custody.KeycardPairing{InstanceUID: []byte{1}, Key: []byte{2}}))

	pairing, _, err := m.FindPairing([]byte{1})
	require.NoError(t, err)
	pairing.Key[0] = 0xFF

	pairing, _, err = m.FindPairing([]byte{1})
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, pairing.Key)
}

func TestFile(t *testing.T) {
	open := func(t *testing.T) *File {
		f, err := OpenFile(filepath.Join(t.TempDir(), "store.json"))
		require.NoError(t, err)
		return f
	}

	t.Run("pairings", func(t *testing.T) { testPairings(t, open(t)) })
	t.Run("keys", func(t *testing.T) { testKeys(t, open(t)) })
}

func TestFilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	address := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	f, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, f.SavePairing(custody.KeycardPairing{InstanceUID: []byte{1}, Index: 2, Key: []byte{3}}))
	require.NoError(t, f.SaveKey(custody.KeycardKey{Address: address, InstanceUID: []byte{1}, KeyPath: custody.KeyPath(0)}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reopened, err := OpenFile(path)
	require.NoError(t, err)

	pairing, found, err := reopened.FindPairing([]byte{1})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, pairing.Index)

	key, found, err := reopened.FindKey(address)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "m/44'/60'/0'/0/0", key.KeyPath)
	keys, err := reopened.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestOpenFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0600))

	_, err := OpenFile(path)
	assert.Error(t, err)
}

func TestFileKeepsContentWhenWriteFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing", "store.json")
	address := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	f, err := OpenFile(path)
	require.NoError(t, err)

	assert.Error(t, f.SavePairing(custody.KeycardPairing{InstanceUID: []byte{1}, Index: 2, Key: []byte{3}}))
	assert.Error(t, f.SaveKey(custody.KeycardKey{Address: address, KeyPath: custody.KeyPath(0)}))

	_, found, err := f.FindPairing([]byte{1})
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = f.FindKey(address)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "missing"), 0700))
	require.NoError(t, f.SavePairing(custody.KeycardPairing{InstanceUID: []byte{1}, Index: 2, Key: []byte{3}}))

	reopened, err := OpenFile(path)
	require.NoError(t, err)

	_, found, err = reopened.FindPairing([]byte{1})
	require.NoError(t, err)
	assert.True(t, found)

	keys, err := reopened.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}
