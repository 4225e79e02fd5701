package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxyfleet/provisioning-backend/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// The memory and file backends share one behavioral contract; both run the
// same test body.
func runStoreTests(t *testing.T, newStore func(t *testing.T) interfaces.ProvisioningStore) {
	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("user_update", func(t *testing.T) { testUserUpdate(t, newStore(t)) })
	t.Run("proxies", func(t *testing.T) { testProxies(t, newStore(t)) })
	t.Run("verifications", func(t *testing.T) { testVerifications(t, newStore(t)) })
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) interfaces.ProvisioningStore {
		return NewMemoryStore()
	})
}

func TestFileStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) interfaces.ProvisioningStore {
		st, err := NewFileStore(t.TempDir(), testLogger())
		require.NoError(t, err)
		return st
	})
}

func testUsers(t *testing.T, st interfaces.ProvisioningStore) {
	ctx := context.Background()

	_, err := st.GetUser(ctx, interfaces.NewUserID("alice@example.com"))
	require.ErrorIs(t, err, interfaces.ErrUserNotFound)

	alice := interfaces.User{
		ID:         interfaces.NewUserID("alice@example.com"),
		Email:      "alice@example.com",
		Name:       "Alice",
		PublicKey:  "ssh-ed25519 AAAA alice",
		PrivateKey: "alice-private",
	}
	bob := interfaces.User{
		ID:    interfaces.NewUserID("bob@example.com"),
		Email: "bob@example.com",
		Name:  "Bob",
	}
	require.NoError(t, st.InsertUser(ctx, &alice))
	require.NoError(t, st.InsertUser(ctx, &bob))

	// Duplicate inserts are rejected.
	err = st.InsertUser(ctx, &alice)
	require.ErrorIs(t, err, interfaces.ErrUserExists)

	got, err := st.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, alice, *got)

	got, err = st.GetUserByEmail(ctx, "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, alice, *got)

	all, err := st.AllUsers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alice@example.com", all[0].Email)
	assert.Equal(t, "bob@example.com", all[1].Email)

	require.NoError(t, st.DeleteUser(ctx, bob.ID))
	_, err = st.GetUser(ctx, bob.ID)
	require.ErrorIs(t, err, interfaces.ErrUserNotFound)

	// Deleting an absent user is not an error.
	require.NoError(t, st.DeleteUser(ctx, bob.ID))
}

func testUserUpdate(t *testing.T, st interfaces.ProvisioningStore) {
	ctx := context.Background()

	id := interfaces.NewUserID("alice@example.com")
	require.NoError(t, st.InsertUser(ctx, &interfaces.User{ID: id, Email: "alice@example.com"}))

	updated, err := st.UpdateUser(ctx, id, func(u *interfaces.User) error {
		u.KeyRevoked = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, updated.KeyRevoked)

	stored, err := st.GetUser(ctx, id)
	require.NoError(t, err)
	assert.True(t, stored.KeyRevoked)

	// A failing mutator leaves the record untouched.
	boom := assert.AnError
	_, err = st.UpdateUser(ctx, id, func(u *interfaces.User) error {
		u.KeyRevoked = false
		return boom
	})
	require.ErrorIs(t, err, boom)

	stored, err = st.GetUser(ctx, id)
	require.NoError(t, err)
	assert.True(t, stored.KeyRevoked)

	_, err = st.UpdateUser(ctx, interfaces.NewUserID("ghost@example.com"), func(u *interfaces.User) error { return nil })
	require.ErrorIs(t, err, interfaces.ErrUserNotFound)
}

func testProxies(t *testing.T, st interfaces.ProvisioningStore) {
	ctx := context.Background()

	all, err := st.AllProxyServers(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, st.InsertProxyServer(ctx, &interfaces.ProxyServer{Address: "proxy-2.example.com", Active: false}))
	require.NoError(t, st.InsertProxyServer(ctx, &interfaces.ProxyServer{Address: "proxy-1.example.com", Active: true}))

	all, err = st.AllProxyServers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "proxy-1.example.com", all[0].Address)

	active, err := st.ActiveProxyServers(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "proxy-1.example.com", active[0].Address)

	// Insert for an existing address replaces the record.
	require.NoError(t, st.InsertProxyServer(ctx, &interfaces.ProxyServer{Address: "proxy-2.example.com", Active: true}))
	active, err = st.ActiveProxyServers(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	require.NoError(t, st.DeleteProxyServer(ctx, "proxy-1.example.com"))
	err = st.DeleteProxyServer(ctx, "proxy-1.example.com")
	require.ErrorIs(t, err, interfaces.ErrProxyNotFound)
}

func testVerifications(t *testing.T, st interfaces.ProvisioningStore) {
	ctx := context.Background()

	dv, err := st.GetOrInsertDefaultDomainVerification(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, "example.com", dv.Domain)
	assert.Equal(t, interfaces.DefaultVerificationContent, dv.Content)

	updated, err := st.UpdateDomainVerification(ctx, "example.com", "token-abc123")
	require.NoError(t, err)
	assert.Equal(t, "token-abc123", updated.Content)

	// A later read returns the stored content, not the default.
	dv, err = st.GetOrInsertDefaultDomainVerification(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, "token-abc123", dv.Content)
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)

	alice := interfaces.User{ID: interfaces.NewUserID("alice@example.com"), Email: "alice@example.com", Name: "Alice"}
	require.NoError(t, first.InsertUser(ctx, &alice))
	require.NoError(t, first.InsertProxyServer(ctx, &interfaces.ProxyServer{Address: "proxy-1.example.com", Active: true}))

	second, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)

	got, err := second.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, alice, *got)

	proxies, err := second.ActiveProxyServers(ctx)
	require.NoError(t, err)
	require.Len(t, proxies, 1)
}

func TestFileStoreListSkipsRecordsRemovedMidListing(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, st.InsertProxyServer(ctx, &interfaces.ProxyServer{Address: "proxy-1.example.com", Active: true}))

	// A dangling symlink reads back as a record deleted between the
	// directory scan and the read.
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone"), filepath.Join(dir, proxiesDir, "ghost.json")))

	proxies, err := st.AllProxyServers(ctx)
	require.NoError(t, err)
	require.Len(t, proxies, 1)
	assert.Equal(t, "proxy-1.example.com", proxies[0].Address)
}

func TestFileStoreListFailsOnCorruptRecord(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, proxiesDir, "bad.json"), []byte("{"), 0o600))

	_, err = st.AllProxyServers(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt record")
}

func TestFileStoreEscapesKeyNames(t *testing.T) {
	ctx := context.Background()
	st, err := NewFileStore(t.TempDir(), testLogger())
	require.NoError(t, err)

	// Addresses with separators must not escape the storage directory.
	addr := "socks5://proxy.example.com:1080/path"
	require.NoError(t, st.InsertProxyServer(ctx, &interfaces.ProxyServer{Address: addr, Active: true}))

	proxies, err := st.AllProxyServers(ctx)
	require.NoError(t, err)
	require.Len(t, proxies, 1)
	assert.Equal(t, addr, proxies[0].Address)

	require.NoError(t, st.DeleteProxyServer(ctx, addr))
}
