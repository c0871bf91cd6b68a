package auth

import (
	"sync"
	"time"
)

// State is the process-wide credential holder. Every component reads it;
// only this package writes it (the Coordinator on refresh, Logout on an
// explicit sign-out). Guarded by an explicit mutex since callers live on
// arbitrary goroutines.
type State struct {
	mu    sync.RWMutex
	cred  Credential
	has   bool
	store Store
	now   func() time.Time
}

// NewState builds an empty State backed by the given Store.
func NewState(store Store) *State {
	if store == nil {
		store = &MemStore{}
	}
	return &State{store: store, now: time.Now}
}

// Bootstrap loads any persisted credential. A missing or expired token is
// not an error; the session simply starts logged out.
func (s *State) Bootstrap() error {
	cred, err := s.store.Load()
	if err != nil {
		if err == ErrNoSession {
			return nil
		}
		return err
	}
	s.mu.Lock()
	s.cred, s.has = cred, true
	s.mu.Unlock()
	return nil
}

// Current returns the credential and whether a live session exists.
func (s *State) Current() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.has || !s.cred.Valid(s.now()) {
		return Credential{}, false
	}
	return s.cred, true
}

// Authenticated reports whether a live session exists.
func (s *State) Authenticated() bool {
	_, ok := s.Current()
	return ok
}

// Logout clears the session locally.
func (s *State) Logout() {
	s.clear()
}

// set installs a refreshed credential and persists it. Coordinator only.
func (s *State) set(c Credential) {
	s.mu.Lock()
	s.cred, s.has = c, true
	s.mu.Unlock()
	_ = s.store.Save(c)
}

// clear wipes the credential locally and from the store.
func (s *State) clear() {
	s.mu.Lock()
	s.cred, s.has = Credential{}, false
	s.mu.Unlock()
	_ = s.store.Clear()
}
