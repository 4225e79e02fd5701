package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/proxyfleet/provisioning-backend/interfaces"
)

// casAttempts bounds the optimistic-concurrency retry loop on updates.
const casAttempts = 5

// VaultStore is a ProvisioningStore backed by HashiCorp Vault KV v2.
// Records are stored as JSON payloads under per-entity subpaths. Updates use
// the KV v2 check-and-set mechanism, so read-modify-write sequences are
// atomic per key even across processes.
type VaultStore struct {
	client   *api.Client
	kv       *api.KVv2
	mount    string
	basePath string
	log      *slog.Logger
}

// NewVaultStore creates a Vault-backed store.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault token used for authentication
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - basePath: path prefix within the mount (e.g. "provisioning")
//   - log: structured logger for operational insights
func NewVaultStore(address, token, mountPath, basePath string, log *slog.Logger) (*VaultStore, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultStore{
		client:   client,
		kv:       client.KVv2(mountPath),
		mount:    mountPath,
		basePath: basePath,
		log:      log,
	}, nil
}

func (s *VaultStore) path(kind, key string) string {
	return fmt.Sprintf("%s/%s/%s", s.basePath, kind, url.PathEscape(key))
}

// get reads and decodes a record, returning notFound if the secret is absent.
func get[T any](ctx context.Context, s *VaultStore, kind, key string, notFound error) (*T, uint64, error) {
	secret, err := s.kv.Get(ctx, s.path(kind, key))
	if err != nil {
		if errors.Is(err, api.ErrSecretNotFound) {
			return nil, 0, notFound
		}
		return nil, 0, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	payload, ok := secret.Data["payload"].(string)
	if !ok {
		return nil, 0, fmt.Errorf("malformed record at %s", s.path(kind, key))
	}

	var entity T
	if err := json.Unmarshal([]byte(payload), &entity); err != nil {
		return nil, 0, fmt.Errorf("corrupt record at %s: %w", s.path(kind, key), err)
	}

	var version uint64
	if secret.VersionMetadata != nil {
		version = uint64(secret.VersionMetadata.Version)
	}
	return &entity, version, nil
}

func (s *VaultStore) put(ctx context.Context, kind, key string, entity any, opts ...api.KVOption) error {
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	_, err = s.kv.Put(ctx, s.path(kind, key), map[string]interface{}{"payload": string(payload)}, opts...)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *VaultStore) delete(ctx context.Context, kind, key string) error {
	if err := s.kv.DeleteMetadata(ctx, s.path(kind, key)); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// listedKeys extracts the record names from a KV v2 metadata LIST response.
// LIST returns the stored key names verbatim, escaped form included, so each
// name is unescaped exactly once before it can be fed back into path().
func listedKeys(data map[string]interface{}) []string {
	if data == nil {
		return nil
	}
	raw, ok := data["keys"].([]interface{})
	if !ok {
		return nil
	}

	keys := make([]string, 0, len(raw))
	for _, r := range raw {
		name, ok := r.(string)
		if !ok {
			continue
		}
		unescaped, err := url.PathUnescape(name)
		if err != nil {
			continue
		}
		keys = append(keys, unescaped)
	}
	return keys
}

// list returns the decoded records under a per-entity subpath.
func list[T any](ctx context.Context, s *VaultStore, kind string) ([]T, error) {
	listPath := fmt.Sprintf("%s/metadata/%s/%s", s.mount, s.basePath, kind)
	secret, err := s.client.Logical().ListWithContext(ctx, listPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	entities := []T{}
	if secret == nil {
		return entities, nil
	}

	for _, key := range listedKeys(secret.Data) {
		entity, _, err := get[T](ctx, s, kind, key, api.ErrSecretNotFound)
		if err != nil {
			// Deleted between list and read.
			if errors.Is(err, api.ErrSecretNotFound) {
				continue
			}
			return nil, err
		}
		entities = append(entities, *entity)
	}
	return entities, nil
}

// GetUser retrieves a user by identity hash.
func (s *VaultStore) GetUser(ctx context.Context, id interfaces.UserID) (*interfaces.User, error) {
	user, _, err := get[interfaces.User](ctx, s, usersDir, id.String(), interfaces.ErrUserNotFound)
	return user, err
}

// GetUserByEmail retrieves a user by email via the derived identity hash.
func (s *VaultStore) GetUserByEmail(ctx context.Context, email string) (*interfaces.User, error) {
	return s.GetUser(ctx, interfaces.NewUserID(email))
}

// AllUsers returns every user, ordered by email.
func (s *VaultStore) AllUsers(ctx context.Context) ([]interfaces.User, error) {
	users, err := list[interfaces.User](ctx, s, usersDir)
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

// InsertUser persists a new user. The check-and-set option with version 0
// rejects the write if a record already exists.
func (s *VaultStore) InsertUser(ctx context.Context, user *interfaces.User) error {
	if _, err := s.GetUser(ctx, user.ID); err == nil {
		return interfaces.ErrUserExists
	} else if !errors.Is(err, interfaces.ErrUserNotFound) {
		return err
	}
	return s.put(ctx, usersDir, user.ID.String(), user, api.WithCheckAndSet(0))
}

// UpdateUser performs an optimistic-concurrency read-modify-write using the
// KV v2 record version as the check-and-set guard.
func (s *VaultStore) UpdateUser(ctx context.Context, id interfaces.UserID, mutate func(*interfaces.User) error) (*interfaces.User, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		user, version, err := get[interfaces.User](ctx, s, usersDir, id.String(), interfaces.ErrUserNotFound)
		if err != nil {
			return nil, err
		}
		if err := mutate(user); err != nil {
			return nil, err
		}

		err = s.put(ctx, usersDir, id.String(), user, api.WithCheckAndSet(int(version)))
		if err == nil {
			return user, nil
		}
		s.log.Debug("CAS conflict on user update, retrying", "userID", id.String(), "attempt", attempt)
	}
	return nil, fmt.Errorf("%w: user update contention on %s", interfaces.ErrStoreUnavailable, id.String())
}

// DeleteUser removes a user record and its version history.
func (s *VaultStore) DeleteUser(ctx context.Context, id interfaces.UserID) error {
	return s.delete(ctx, usersDir, id.String())
}

// AllProxyServers returns every proxy record, ordered by address.
func (s *VaultStore) AllProxyServers(ctx context.Context) ([]interfaces.ProxyServer, error) {
	proxies, err := list[interfaces.ProxyServer](ctx, s, proxiesDir)
	if err != nil {
		return nil, err
	}
	sort.Slice(proxies, func(i, j int) bool { return proxies[i].Address < proxies[j].Address })
	return proxies, nil
}

// ActiveProxyServers returns the proxy servers marked active.
func (s *VaultStore) ActiveProxyServers(ctx context.Context) ([]interfaces.ProxyServer, error) {
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
func (s *VaultStore) InsertProxyServer(ctx context.Context, proxy *interfaces.ProxyServer) error {
	return s.put(ctx, proxiesDir, proxy.Address, proxy)
}

// DeleteProxyServer removes the record for the given address.
func (s *VaultStore) DeleteProxyServer(ctx context.Context, address string) error {
	if _, _, err := get[interfaces.ProxyServer](ctx, s, proxiesDir, address, interfaces.ErrProxyNotFound); err != nil {
		return err
	}
	return s.delete(ctx, proxiesDir, address)
}

// GetOrInsertDefaultDomainVerification returns the record for the domain,
// creating it with the default content on first read. The creating write
// uses check-and-set version 0, so concurrent first reads converge on a
// single record.
func (s *VaultStore) GetOrInsertDefaultDomainVerification(ctx context.Context, domain string) (*interfaces.DomainVerification, error) {
	dv, _, err := get[interfaces.DomainVerification](ctx, s, verificationsDir, domain, api.ErrSecretNotFound)
	if err == nil {
		return dv, nil
	}
	if !errors.Is(err, api.ErrSecretNotFound) {
		return nil, err
	}

	dv = &interfaces.DomainVerification{Domain: domain, Content: interfaces.DefaultVerificationContent}
	if err := s.put(ctx, verificationsDir, domain, dv, api.WithCheckAndSet(0)); err != nil {
		// Lost the race; read what the winner wrote.
		winner, _, rerr := get[interfaces.DomainVerification](ctx, s, verificationsDir, domain, api.ErrSecretNotFound)
		if rerr == nil {
			return winner, nil
		}
		return nil, err
	}
	return dv, nil
}

// UpdateDomainVerification replaces the verification content for a domain.
func (s *VaultStore) UpdateDomainVerification(ctx context.Context, domain, content string) (*interfaces.DomainVerification, error) {
	dv := &interfaces.DomainVerification{Domain: domain, Content: content}
	if err := s.put(ctx, verificationsDir, domain, dv); err != nil {
		return nil, err
	}
	return dv, nil
}
