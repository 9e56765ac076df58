// Package keychain provides an in-process KeychainAccessor used when no
// OS-native secret store is wired in. See DESIGN.md for why this stays
// on the standard library: none of the reference repos import a
// keychain/secrets-manager client, so there is nothing in the corpus to
// ground a third-party choice on.
package keychain

import (
	"fmt"
	"sync"
)

// Store is a process-local, mutex-guarded secret store implementing
// interp.KeychainAccessor (§4.8 "keychain get/set/delete").
type Store struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{values: make(map[string]string)}
}

func key(service, account string) string {
	return service + "\x00" + account
}

// Get returns the stored secret for service/account.
func (s *Store) Get(service, account string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key(service, account)]
	if !ok {
		return "", fmt.Errorf("keychain: no entry for %s/%s", service, account)
	}
	return v, nil
}

// Set stores or replaces the secret for service/account.
func (s *Store) Set(service, account, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key(service, account)] = value
	return nil
}

// Delete removes the secret for service/account, if present.
func (s *Store) Delete(service, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key(service, account))
	return nil
}
