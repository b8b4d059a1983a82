// Package sqlstore persists custody pairings and keys in a SQLite database.
package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/status-im/keycard-custody/custody"
	_ "modernc.org/sqlite"
)

var logger = log.New("package", "keycard-custody/sqlstore")

const schema = `
CREATE TABLE IF NOT EXISTS keycard_pairings (
	instance_uid BLOB PRIMARY KEY,
	pairing_index INTEGER NOT NULL,
	pairing_key BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS keycard_keys (
	address TEXT PRIMARY KEY,
	instance_uid BLOB NOT NULL,
	master_key_uid BLOB NOT NULL,
	key_path TEXT NOT NULL,
	public_key BLOB NOT NULL
);
`

var (
	_ custody.PairingStore = (*Store)(nil)
	_ custody.KeyStore     = (*Store)(nil)
)

// Store implements custody.PairingStore and custody.KeyStore on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger.Debug("sqlite store opened", "path", path)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SavePairing replaces any pairing stored for the same instance UID.
func (s *Store) SavePairing(pairing custody.KeycardPairing) error {
	_, err := s.db.Exec(
		`INSERT INTO keycard_pairings (instance_uid, pairing_index, pairing_key) VALUES (?, ?, ?)
		 ON CONFLICT(instance_uid) DO UPDATE SET
		    pairing_index = excluded.pairing_index,
		    pairing_key = excluded.pairing_key`,
		pairing.InstanceUID, pairing.Index, pairing.Key,
	)
	if err != nil {
		return fmt.Errorf("save pairing: %w", err)
	}

	return nil
}

func (s *Store) RemovePairing(instanceUID []byte) error {
	if _, err := s.db.Exec(`DELETE FROM keycard_pairings WHERE instance_uid = ?`, instanceUID); err != nil {
		return fmt.Errorf("remove pairing: %w", err)
	}

	return nil
}

func (s *Store) FindPairing(instanceUID []byte) (custody.KeycardPairing, bool, error) {
	row := s.db.QueryRow(
		`SELECT instance_uid, pairing_index, pairing_key FROM keycard_pairings WHERE instance_uid = ?`,
		instanceUID,
	)

	var pairing custody.KeycardPairing
	if err := row.Scan(&pairing.InstanceUID, &pairing.Index, &pairing.Key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return custody.KeycardPairing{}, false, nil
		}
		return custody.KeycardPairing{}, false, fmt.Errorf("find pairing: %w", err)
	}

	return pairing, true, nil
}

func (s *Store) SaveKey(key custody.KeycardKey) error {
	_, err := s.db.Exec(
		`INSERT INTO keycard_keys (address, instance_uid, master_key_uid, key_path, public_key) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(address) DO UPDATE SET
		    instance_uid = excluded.instance_uid,
		    master_key_uid = excluded.master_key_uid,
		    key_path = excluded.key_path,
		    public_key = excluded.public_key`,
		key.Address.Hex(), nonNil(key.InstanceUID), nonNil(key.MasterKeyUID), key.KeyPath, nonNil(key.PublicKey),
	)
	if err != nil {
		return fmt.Errorf("save key: %w", err)
	}

	return nil
}

func (s *Store) RemoveKey(address common.Address) error {
	if _, err := s.db.Exec(`DELETE FROM keycard_keys WHERE address = ?`, address.Hex()); err != nil {
		return fmt.Errorf("remove key: %w", err)
	}

	return nil
}

func (s *Store) FindKey(address common.Address) (custody.KeycardKey, bool, error) {
	row := s.db.QueryRow(
		`SELECT instance_uid, master_key_uid, key_path, public_key FROM keycard_keys WHERE address = ?`,
		address.Hex(),
	)

	key := custody.KeycardKey{Address: address}
	if err := row.Scan(&key.InstanceUID, &key.MasterKeyUID, &key.KeyPath, &key.PublicKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return custody.KeycardKey{}, false, nil
		}
		return custody.KeycardKey{}, false, fmt.Errorf("find key: %w", err)
	}

	return key, true, nil
}

// Keys returns every stored key sorted by address.
func (s *Store) Keys() ([]custody.KeycardKey, error) {
	rows, err := s.db.Query(
		`SELECT address, instance_uid, master_key_uid, key_path, public_key FROM keycard_keys ORDER BY address`,
	)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []custody.KeycardKey
	for rows.Next() {
		var (
			key     custody.KeycardKey
			address string
		)
		if err = rows.Scan(&address, &key.InstanceUID, &key.MasterKeyUID, &key.KeyPath, &key.PublicKey); err != nil {
			return nil, fmt.Errorf("list keys: %w", err)
		}
		key.Address = common.HexToAddress(address)
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// nonNil keeps empty byte slices from being stored as NULL.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
