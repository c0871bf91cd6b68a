package auth

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store persists the credential across process restarts: read on boot,
// written on every refresh, cleared on logout.
type Store interface {
	Load() (Credential, error)
	Save(Credential) error
	Clear() error
}

// MemStore is an in-memory Store for tests and ephemeral sessions.
type MemStore struct {
	mu   sync.Mutex
	cred Credential
	has  bool
}

func (m *MemStore) Load() (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.has {
		return Credential{}, ErrNoSession
	}
	return m.cred, nil
}

func (m *MemStore) Save(c Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred, m.has = c, true
	return nil
}

func (m *MemStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred, m.has = Credential{}, false
	return nil
}

// FileStore keeps the credential as a small JSON file under the user
// config directory.
type FileStore struct {
	path string
}

// NewFileStore places the token file under dir, or under the platform
// config dir when dir is empty.
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			base = "."
		}
		dir = filepath.Join(base, "bidfront")
	}
	return &FileStore{path: filepath.Join(dir, "token.json")}
}

func (f *FileStore) Load() (Credential, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Credential{}, ErrNoSession
		}
		return Credential{}, err
	}
	var c Credential
	if err := json.Unmarshal(b, &c); err != nil {
		return Credential{}, err
	}
	if !c.Valid(time.Now()) {
		return Credential{}, ErrNoSession
	}
	return c, nil
}

func (f *FileStore) Save(c Credential) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, b, 0o600)
}

func (f *FileStore) Clear() error {
	err := os.Remove(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
