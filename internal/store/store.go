// Package store persists the credential record for the timed client in
// a local bbolt database. The store is a single-record slot: each
// successful device flow or refresh overwrites the record in one
// transaction, so a crash mid-write leaves either the previous record
// or the new one, never a mix.
package store

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.timed/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	credentialsBucket = []byte("credentials")
	recordKey         = []byte("record")
)

// CredentialRecord is the persisted result of a device flow or token
// refresh. RefreshToken may be empty; without it, expiry cannot be
// extended and a fresh device flow is required.
type CredentialRecord struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope,omitempty"`

	// Subject identifies the authenticated user. It keys cached
	// responses so two users never share cached data.
	Subject string `json:"subject,omitempty"`
}

// Store wraps a bbolt database holding the credential record.
type Store struct {
	db *bolt.DB
}

// Open opens the store at ~/.timed/state.db, creating it if it does
// not exist.
func Open() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}

	return OpenAt(filepath.Join(home, ".timed", "state.db"))
}

// OpenAt opens a store at the given path, creating it if it does not
// exist. Useful for tests that need an isolated database.
func OpenAt(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(credentialsBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Credentials returns the stored record, or nil when none exists.
func (s *Store) Credentials() (*CredentialRecord, error) {
	var rec *CredentialRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(credentialsBucket).Get(recordKey)
		if v == nil {
			return nil
		}

		rec = &CredentialRecord{}

		return json.Unmarshal(v, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}

	return rec, nil
}

// SetCredentials replaces the stored record.
func (s *Store) SetCredentials(rec CredentialRecord) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		return tx.Bucket(credentialsBucket).Put(recordKey, data)
	})
	if err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}

	return nil
}

// ClearCredentials removes the stored record. Clearing an empty store
// is not an error.
func (s *Store) ClearCredentials() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialsBucket).Delete(recordKey)
	})
	if err != nil {
		return fmt.Errorf("clearing credentials: %w", err)
	}

	return nil
}
