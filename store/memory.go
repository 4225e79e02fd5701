// Package store provides ProvisioningStore implementations behind a common
// URI-based factory: in-memory, local file system, HashiCorp Vault and
// Amazon S3.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/proxyfleet/provisioning-backend/interfaces"
)

// MemoryStore is an in-process ProvisioningStore, used for tests and
// single-node development setups. All operations are guarded by one lock,
// which makes per-key updates trivially atomic.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[interfaces.UserID]interfaces.User
	proxies       map[string]interfaces.ProxyServer
	verifications map[string]interfaces.DomainVerification
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[interfaces.UserID]interfaces.User),
		proxies:       make(map[string]interfaces.ProxyServer),
		verifications: make(map[string]interfaces.DomainVerification),
	}
}

// GetUser retrieves a user by identity hash.
func (s *MemoryStore) GetUser(ctx context.Context, id interfaces.UserID) (*interfaces.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, interfaces.ErrUserNotFound
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by email via the derived identity hash.
func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*interfaces.User, error) {
	return s.GetUser(ctx, interfaces.NewUserID(email))
}

// AllUsers returns every user, ordered by email for stable output.
func (s *MemoryStore) AllUsers(ctx context.Context) ([]interfaces.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]interfaces.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

// InsertUser persists a new user.
func (s *MemoryStore) InsertUser(ctx context.Context, user *interfaces.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return interfaces.ErrUserExists
	}
	s.users[user.ID] = *user
	return nil
}

// UpdateUser applies mutate to the stored record under the store lock.
func (s *MemoryStore) UpdateUser(ctx context.Context, id interfaces.UserID, mutate func(*interfaces.User) error) (*interfaces.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, interfaces.ErrUserNotFound
	}
	if err := mutate(&user); err != nil {
		return nil, err
	}
	s.users[id] = user
	return &user, nil
}

// DeleteUser removes a user. Absent users are ignored.
func (s *MemoryStore) DeleteUser(ctx context.Context, id interfaces.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.users, id)
	return nil
}

// AllProxyServers returns every proxy server record, ordered by address.
func (s *MemoryStore) AllProxyServers(ctx context.Context) ([]interfaces.ProxyServer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	proxies := make([]interfaces.ProxyServer, 0, len(s.proxies))
	for _, p := range s.proxies {
		proxies = append(proxies, p)
	}
	sort.Slice(proxies, func(i, j int) bool { return proxies[i].Address < proxies[j].Address })
	return proxies, nil
}

// ActiveProxyServers returns the proxy servers marked active.
func (s *MemoryStore) ActiveProxyServers(ctx context.Context) ([]interfaces.ProxyServer, error) {
	all, err := s.AllProxyServers(ctx)
	if err != nil {
		return nil, err
	}

	active := []interfaces.ProxyServer{}
	for _, p := range all {
		if p.Active {
			active = append(active, p)
		}
	}
	return active, nil
}

// InsertProxyServer persists a proxy record, replacing any existing record
// for the same address.
func (s *MemoryStore) InsertProxyServer(ctx context.Context, proxy *interfaces.ProxyServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.proxies[proxy.Address] = *proxy
	return nil
}

// DeleteProxyServer removes the record for the given address.
func (s *MemoryStore) DeleteProxyServer(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.proxies[address]; !ok {
		return interfaces.ErrProxyNotFound
	}
	delete(s.proxies, address)
	return nil
}

// GetOrInsertDefaultDomainVerification returns the record for the domain,
// creating it with the default content on first read.
func (s *MemoryStore) GetOrInsertDefaultDomainVerification(ctx context.Context, domain string) (*interfaces.DomainVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dv, ok := s.verifications[domain]; ok {
		return &dv, nil
	}
	dv := interfaces.DomainVerification{Domain: domain, Content: interfaces.DefaultVerificationContent}
	s.verifications[domain] = dv
	return &dv, nil
}

// UpdateDomainVerification replaces the verification content for a domain.
func (s *MemoryStore) UpdateDomainVerification(ctx context.Context, domain, content string) (*interfaces.DomainVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dv := interfaces.DomainVerification{Domain: domain, Content: content}
	s.verifications[domain] = dv
	return &dv, nil
}
