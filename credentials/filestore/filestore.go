package filestore

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/scandocs/scandocs-go/credentials"
)

const (
	// All entries live under one namespace directory so Clear wipes them
	// together.
	namespaceDir = "scandocs-session"
	storeFile    = "credentials.bin"
)

var _ credentials.Store = (*Store)(nil)

// storedEntries is the persisted layout: the access token, refresh token and
// serialized profile kept in a single sealed document. Collapsing the three
// entries into one file is what makes SetAll atomic (temp file + rename).
type storedEntries struct {
	AccessToken  string               `json:"access_token"`
	RefreshToken string               `json:"refresh_token"`
	Profile      *credentials.Profile `json:"profile,omitempty"`
}

// Store is a file-backed credentials.Store. The document is encrypted at
// rest with XChaCha20-Poly1305 so tokens never sit on disk in plaintext.
//
// Constructed with an empty directory, storage is treated as unavailable and
// every operation becomes a safe no-op: Get returns nothing, writes succeed
// without persisting. Callers in ephemeral contexts rely on this.
type Store struct {
	path string // empty: storage unavailable
	aead cipher.AEAD
}

// New creates a Store rooted at dir. key must be chacha20poly1305.KeySize
// bytes.
func New(dir string, key []byte) (*Store, error) {
	if dir == "" {
		return &Store{}, nil
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "[filestore.New] invalid key")
	}
	return &Store{
		path: filepath.Join(dir, namespaceDir, storeFile),
		aead: aead,
	}, nil
}

func (s *Store) Get() (*credentials.Credential, *credentials.Profile, error) {
	if s.path == "" {
		return nil, nil, nil
	}
	entries, err := s.read()
	if err != nil {
		return nil, nil, err
	}
	if entries == nil {
		return nil, nil, nil
	}
	var cred *credentials.Credential
	if entries.AccessToken != "" || entries.RefreshToken != "" {
		cred = &credentials.Credential{
			AccessToken:  entries.AccessToken,
			RefreshToken: entries.RefreshToken,
		}
	}
	return cred, entries.Profile, nil
}

func (s *Store) SetAll(cred credentials.Credential, profile credentials.Profile) error {
	if s.path == "" {
		return nil
	}
	p := profile
	return s.write(&storedEntries{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Profile:      &p,
	})
}

func (s *Store) SetProfile(profile credentials.Profile) error {
	if s.path == "" {
		return nil
	}
	entries, err := s.read()
	if err != nil {
		return err
	}
	if entries == nil {
		entries = &storedEntries{}
	}
	p := profile
	entries.Profile = &p
	return s.write(entries)
}

func (s *Store) Clear() error {
	if s.path == "" {
		return nil
	}
	if err := os.RemoveAll(filepath.Dir(s.path)); err != nil {
		return errors.Wrap(err, "[filestore.Clear] remove namespace")
	}
	return nil
}

func (s *Store) read() (*storedEntries, error) {
	sealed, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[filestore.read] read file")
	}
	if len(sealed) < s.aead.NonceSize() {
		return nil, errors.New("[filestore.read] sealed document truncated")
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[filestore.read] decrypt")
	}
	var entries storedEntries
	if err := json.Unmarshal(plaintext, &entries); err != nil {
		return nil, errors.Wrap(err, "[filestore.read] unmarshal")
	}
	return &entries, nil
}

func (s *Store) write(entries *storedEntries) error {
	plaintext, err := json.Marshal(entries)
	if err != nil {
		return errors.Wrap(err, "[filestore.write] marshal")
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return errors.Wrap(err, "[filestore.write] nonce")
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "[filestore.write] create namespace")
	}
	tmp, err := os.CreateTemp(dir, storeFile+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "[filestore.write] create temp")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "[filestore.write] write temp")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "[filestore.write] close temp")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "[filestore.write] replace file")
	}
	return nil
}
