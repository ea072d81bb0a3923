package popup

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

const sessionTTL = 24 * time.Hour

var sessionKeyPrefix = []byte("session/")

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

// Store is the popup's own session storage. Persisting the session here is
// what lets a reloaded popup recover the opener origin, which only arrives
// on the initial launch URL.
type Store struct {
	db *badger.DB
}

// OpenStore opens the session store at dir; an empty dir yields an
// in-memory store.
func OpenStore(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cannot open session store: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveSession persists the session under its id.
func (s *Store) SaveSession(sess *Session) error {
	buf, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("cannot serialize session: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(sessionKey(sess.ID), buf).WithTTL(sessionTTL)
		return txn.SetEntry(entry)
	})
}

// GetSession loads a persisted session.
func (s *Store) GetSession(id string) (*Session, error) {
	var sess Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		})
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// DeleteSession removes a session; deleting an unknown session is a no-op.
func (s *Store) DeleteSession(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(sessionKey(id))
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func sessionKey(id string) []byte {
	return append(append([]byte{}, sessionKeyPrefix...), id...)
}
