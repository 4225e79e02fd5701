package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/proxyfleet/provisioning-backend/interfaces"
)

const (
	usersDir         = "users"
	proxiesDir       = "proxies"
	verificationsDir = "verifications"
)

// FileStore is a ProvisioningStore backed by the local file system. Each
// entity is one JSON file under a per-entity subdirectory. A process-wide
// lock serializes writes, which keeps per-key read-modify-write atomic for
// a single server process.
type FileStore struct {
	baseDir string
	mu      sync.Mutex
	log     *slog.Logger
}

// NewFileStore creates a file-backed store rooted at baseDir, creating the
// entity subdirectories if needed.
func NewFileStore(baseDir string, log *slog.Logger) (*FileStore, error) {
	for _, sub := range []string{usersDir, proxiesDir, verificationsDir} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}
	return &FileStore{baseDir: baseDir, log: log}, nil
}

func (s *FileStore) userPath(id interfaces.UserID) string {
	return filepath.Join(s.baseDir, usersDir, id.String()+".json")
}

func (s *FileStore) proxyPath(address string) string {
	return filepath.Join(s.baseDir, proxiesDir, url.PathEscape(address)+".json")
}

func (s *FileStore) verificationPath(domain string) string {
	return filepath.Join(s.baseDir, verificationsDir, url.PathEscape(domain)+".json")
}

func readEntity[T any](path string, notFound error) (*T, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, notFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	var entity T
	if err := json.Unmarshal(data, &entity); err != nil {
		return nil, fmt.Errorf("corrupt record %s: %w", filepath.Base(path), err)
	}
	return &entity, nil
}

func writeEntity(path string, entity any) error {
	data, err := json.MarshalIndent(entity, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

func listEntities[T any](dir string) ([]T, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	entities := []T{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		entity, err := readEntity[T](filepath.Join(dir, entry.Name()), os.ErrNotExist)
		if err != nil {
			// Deleted between the directory scan and the read.
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		entities = append(entities, *entity)
	}
	return entities, nil
}

// GetUser retrieves a user by identity hash.
func (s *FileStore) GetUser(ctx context.Context, id interfaces.UserID) (*interfaces.User, error) {
	return readEntity[interfaces.User](s.userPath(id), interfaces.ErrUserNotFound)
}

// GetUserByEmail retrieves a user by email via the derived identity hash.
func (s *FileStore) GetUserByEmail(ctx context.Context, email string) (*interfaces.User, error) {
	return s.GetUser(ctx, interfaces.NewUserID(email))
}

// AllUsers returns every user, ordered by email.
func (s *FileStore) AllUsers(ctx context.Context) ([]interfaces.User, error) {
	users, err := listEntities[interfaces.User](filepath.Join(s.baseDir, usersDir))
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

// InsertUser persists a new user.
func (s *FileStore) InsertUser(ctx context.Context, user *interfaces.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.userPath(user.ID)); err == nil {
		return interfaces.ErrUserExists
	}
	return writeEntity(s.userPath(user.ID), user)
}

// UpdateUser applies mutate under the store lock and rewrites the record.
func (s *FileStore) UpdateUser(ctx context.Context, id interfaces.UserID, mutate func(*interfaces.User) error) (*interfaces.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := readEntity[interfaces.User](s.userPath(id), interfaces.ErrUserNotFound)
	if err != nil {
		return nil, err
	}
	if err := mutate(user); err != nil {
		return nil, err
	}
	if err := writeEntity(s.userPath(id), user); err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteUser removes a user record. Absent users are ignored.
func (s *FileStore) DeleteUser(ctx context.Context, id interfaces.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.userPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// AllProxyServers returns every proxy record, ordered by address.
func (s *FileStore) AllProxyServers(ctx context.Context) ([]interfaces.ProxyServer, error) {
	proxies, err := listEntities[interfaces.ProxyServer](filepath.Join(s.baseDir, proxiesDir))
	if err != nil {
		return nil, err
	}
	sort.Slice(proxies, func(i, j int) bool { return proxies[i].Address < proxies[j].Address })
	return proxies, nil
}

// ActiveProxyServers returns the proxy servers marked active.
func (s *FileStore) ActiveProxyServers(ctx context.Context) ([]interfaces.ProxyServer, error) {
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

// InsertProxyServer persists a proxy record, replacing any existing one.
func (s *FileStore) InsertProxyServer(ctx context.Context, proxy *interfaces.ProxyServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return writeEntity(s.proxyPath(proxy.Address), proxy)
}

// DeleteProxyServer removes the record for the given address.
func (s *FileStore) DeleteProxyServer(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.proxyPath(address)); err != nil {
		if os.IsNotExist(err) {
			return interfaces.ErrProxyNotFound
		}
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// GetOrInsertDefaultDomainVerification returns the record for the domain,
// creating it with the default content on first read.
func (s *FileStore) GetOrInsertDefaultDomainVerification(ctx context.Context, domain string) (*interfaces.DomainVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dv, err := readEntity[interfaces.DomainVerification](s.verificationPath(domain), os.ErrNotExist)
	if err == nil {
		return dv, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	dv = &interfaces.DomainVerification{Domain: domain, Content: interfaces.DefaultVerificationContent}
	if err := writeEntity(s.verificationPath(domain), dv); err != nil {
		return nil, err
	}
	return dv, nil
}

// UpdateDomainVerification replaces the verification content for a domain.
func (s *FileStore) UpdateDomainVerification(ctx context.Context, domain, content string) (*interfaces.DomainVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dv := &interfaces.DomainVerification{Domain: domain, Content: content}
	if err := writeEntity(s.verificationPath(domain), dv); err != nil {
		return nil, err
	}
	return dv, nil
}
