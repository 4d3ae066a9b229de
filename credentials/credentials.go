// Package credentials is the opaque token store collaborator. The
// core never inspects tokens beyond presence and never writes them to
// the dataset cache or logs.
package credentials

import (
	"errors"
	"os"
	"strings"
)

// ErrNoToken means no credential is stored. This is the expected
// state on a fresh install, not a fault.
var ErrNoToken = errors.New("credentials: no token stored")

// Store abstracts credential persistence so the embedding application
// can supply its own secure backend.
type Store interface {
	Save(token string) error
	Load() (string, error)
	Delete() error
}

// FileStore keeps the token in a single owner-readable file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Save(token string) error {
	return os.WriteFile(s.path, []byte(token), 0o600)
}

func (s *FileStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", err
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

func (s *FileStore) Delete() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
