package interfaces

import (
	"context"
	"errors"
)

var (
	// ErrStoreUnavailable is returned when the persistence backend is not
	// accessible. This could be due to network issues, authentication
	// failures, or service outages.
	ErrStoreUnavailable = errors.New("provisioning store unavailable")

	// ErrUserExists is returned by InsertUser when a user with the same
	// identity hash is already provisioned.
	ErrUserExists = errors.New("user already provisioned")

	// ErrProxyNotFound is returned when no proxy server record exists for the
	// requested address.
	ErrProxyNotFound = errors.New("proxy server not found")

	// ErrNoActiveProxy is returned when endpoint selection finds no proxy
	// server marked active. Callers must surface this, never default.
	ErrNoActiveProxy = errors.New("no active proxy server")
)

// ProvisioningStore is the persistence boundary for User, ProxyServer and
// DomainVerification entities. Implementations must make insert and update of
// a single record atomic per key; no other locking is required by callers.
type ProvisioningStore interface {
	// GetUser retrieves a user by identity hash.
	// Returns ErrUserNotFound if absent.
	GetUser(ctx context.Context, id UserID) (*User, error)

	// GetUserByEmail retrieves a user by email address. The identity hash is
	// derived from the email, so this is a direct lookup, not a scan.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// AllUsers returns every provisioned user.
	AllUsers(ctx context.Context) ([]User, error)

	// InsertUser persists a new user. Returns ErrUserExists if a user with
	// the same identity hash is already present.
	InsertUser(ctx context.Context, user *User) error

	// UpdateUser applies mutate to the stored record as a single atomic
	// read-modify-write and returns the updated user. Concurrent updates to
	// the same user must not lose writes.
	UpdateUser(ctx context.Context, id UserID, mutate func(*User) error) (*User, error)

	// DeleteUser removes a user. Deleting an absent user is not an error.
	DeleteUser(ctx context.Context, id UserID) error

	// AllProxyServers returns every proxy server record.
	AllProxyServers(ctx context.Context) ([]ProxyServer, error)

	// ActiveProxyServers returns the proxy servers currently marked active.
	ActiveProxyServers(ctx context.Context) ([]ProxyServer, error)

	// InsertProxyServer persists a proxy server record, replacing any
	// existing record for the same address.
	InsertProxyServer(ctx context.Context, proxy *ProxyServer) error

	// DeleteProxyServer removes the record for the given address.
	DeleteProxyServer(ctx context.Context, address string) error

	// GetOrInsertDefaultDomainVerification returns the verification record
	// for the domain, creating it with DefaultVerificationContent if absent.
	// The fallback write is idempotent.
	GetOrInsertDefaultDomainVerification(ctx context.Context, domain string) (*DomainVerification, error)

	// UpdateDomainVerification replaces the verification content for a domain.
	UpdateDomainVerification(ctx context.Context, domain, content string) (*DomainVerification, error)
}
