// Package interfaces defines the core types and contracts of the proxy
// provisioning system. It provides the boundary between components without
// pulling in implementation details.
package interfaces

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// UserID is the stable primary key of a provisioned user: the SHA-256 digest
// of the lowercased email address. Deriving the key from the email keeps it
// stable across email casing and avoids using the plaintext address as a key.
type UserID [32]byte

// NewUserID computes the identity hash for an email address.
func NewUserID(email string) UserID {
	normalized := strings.ToLower(strings.TrimSpace(email))
	return UserID(sha256.Sum256([]byte(normalized)))
}

// NewUserIDFromHex parses a hex-encoded identity hash.
func NewUserIDFromHex(source string) (UserID, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return UserID{}, errors.New("invalid user ID length: hex string must be 64 characters")
	}

	idBytes, err := hex.DecodeString(clean)
	if err != nil {
		return UserID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var id UserID
	copy(id[:], idBytes)
	return id, nil
}

// String returns the hex representation of the identity hash.
func (id UserID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 32-byte hash.
func (id UserID) Bytes() []byte {
	return id[:]
}

// Equal compares two user IDs.
func (id UserID) Equal(other UserID) bool {
	return id == other
}

// User is a provisioned proxy user. The key pair is the credential material
// embedded into invite codes; exactly one private key is live per user at any
// time (rotation overwrites, it does not archive).
type User struct {
	ID         UserID `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
	KeyRevoked bool   `json:"keyRevoked"`
}

// ProxyServer is a proxy endpoint users can be invited to. Records are
// externally managed; this core only reads them for endpoint selection.
type ProxyServer struct {
	Address string `json:"address"`
	Active  bool   `json:"active"`
}

// DefaultVerificationContent is the placeholder stored when a
// DomainVerification record is first read.
const DefaultVerificationContent = "Insert Verification Content Here"

// DomainVerification holds the token proving domain ownership to the
// directory provider. Lazily created with DefaultVerificationContent on
// first read.
type DomainVerification struct {
	Domain  string `json:"domain"`
	Content string `json:"content"`
}

// DirectoryUser is a transient roster entry returned by the directory
// provider. It is never persisted directly; the orchestrator turns selected
// entries into User records.
type DirectoryUser struct {
	PrimaryEmail string `json:"primaryEmail"`
	FullName     string `json:"fullName"`
}

// WatchKind identifies a directory change-notification event type.
type WatchKind string

const (
	WatchDelete    WatchKind = "delete"
	WatchMakeAdmin WatchKind = "makeAdmin"
	WatchUndelete  WatchKind = "undelete"
	WatchUpdate    WatchKind = "update"
)

// AllWatchKinds lists the four observable change kinds, in registration order.
var AllWatchKinds = []WatchKind{WatchDelete, WatchMakeAdmin, WatchUndelete, WatchUpdate}

// Valid reports whether the kind is one of the four observable change kinds.
func (k WatchKind) Valid() bool {
	switch k {
	case WatchDelete, WatchMakeAdmin, WatchUndelete, WatchUpdate:
		return true
	default:
		return false
	}
}

// String returns the kind as sent to the directory provider.
func (k WatchKind) String() string {
	return string(k)
}
