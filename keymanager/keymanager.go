// Package keymanager handles the asymmetric key lifecycle for provisioned
// users: generation, in-place rotation, and the advisory revocation flag.
//
// Keys are ed25519 pairs rendered in OpenSSH form, the format the proxy
// fleet consumes: the public key as an authorized_keys line and the private
// key as an OPENSSH PRIVATE KEY PEM block.
package keymanager

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/proxyfleet/provisioning-backend/interfaces"
	"github.com/proxyfleet/provisioning-backend/metrics"
)

// KeyPair holds an encoded asymmetric key pair.
type KeyPair struct {
	PublicKey  string
	PrivateKey string
}

// Manager implements the key lifecycle against a provisioning store.
type Manager struct {
	store interfaces.ProvisioningStore
	log   *slog.Logger
}

// New creates a key manager backed by the given store.
func New(store interfaces.ProvisioningStore, log *slog.Logger) *Manager {
	return &Manager{store: store, log: log}
}

// GenerateKeyPair produces a fresh ed25519 key pair from cryptographically
// strong randomness. It does not touch any stored state; persisting the
// result is the caller's responsibility.
func (m *Manager) GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to generate key pair: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to encode public key: %w", err)
	}

	pemBlock, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to encode private key: %w", err)
	}

	return KeyPair{
		PublicKey:  strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub))),
		PrivateKey: string(pem.EncodeToMemory(pemBlock)),
	}, nil
}

// RotateKeyPair regenerates a user's key pair and replaces it in place as a
// single atomic update. The previous private key is overwritten, not
// archived: invite codes issued against it become unusable.
func (m *Manager) RotateKeyPair(ctx context.Context, id interfaces.UserID) (*interfaces.User, error) {
	keyPair, err := m.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	user, err := m.store.UpdateUser(ctx, id, func(u *interfaces.User) error {
		u.PublicKey = keyPair.PublicKey
		u.PrivateKey = keyPair.PrivateKey
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.KeyPairsRotated.Inc()
	m.log.Info("Rotated user key pair", "userID", id.String())
	return user, nil
}

// ToggleRevocation flips the user's revocation flag. The flag is advisory
// metadata for downstream authorization; it does not invalidate keys.
func (m *Manager) ToggleRevocation(ctx context.Context, id interfaces.UserID) (*interfaces.User, error) {
	user, err := m.store.UpdateUser(ctx, id, func(u *interfaces.User) error {
		u.KeyRevoked = !u.KeyRevoked
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("Toggled key revocation", "userID", id.String(), "revoked", user.KeyRevoked)
	return user, nil
}
