package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreFromURIMemory(t *testing.T) {
	st, err := NewStoreFromURI("mem://", testLogger())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, st)
}

func TestNewStoreFromURIFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	st, err := NewStoreFromURI("file://"+dir, testLogger())
	require.NoError(t, err)
	require.IsType(t, &FileStore{}, st)
	assert.DirExists(t, filepath.Join(dir, usersDir))
}

func TestNewStoreFromURIFileRequiresPath(t *testing.T) {
	_, err := NewStoreFromURI("file://", testLogger())
	require.Error(t, err)
}

func TestNewStoreFromURIVaultValidation(t *testing.T) {
	// Token and mount/basepath are both mandatory.
	_, err := NewStoreFromURI("vault://vault.example.com:8200/secret/provisioning", testLogger())
	require.Error(t, err)

	_, err = NewStoreFromURI("vault://token@vault.example.com:8200/secret", testLogger())
	require.Error(t, err)
}

func TestNewStoreFromURIVault(t *testing.T) {
	st, err := NewStoreFromURI("vault://token@vault.example.com:8200/secret/provisioning?tls=true", testLogger())
	require.NoError(t, err)
	require.IsType(t, &VaultStore{}, st)

	vs := st.(*VaultStore)
	assert.Equal(t, "https://vault.example.com:8200", vs.client.Address())
	assert.Equal(t, "secret", vs.mount)
	assert.Equal(t, "provisioning", vs.basePath)
}

func TestNewStoreFromURIS3(t *testing.T) {
	st, err := NewStoreFromURI("s3://access:secret@my-bucket/provisioning?region=eu-west-1", testLogger())
	require.NoError(t, err)
	require.IsType(t, &S3Store{}, st)

	ss := st.(*S3Store)
	assert.Equal(t, "my-bucket", ss.bucket)
	assert.Equal(t, "provisioning", ss.prefix)
}

func TestNewStoreFromURIS3Validation(t *testing.T) {
	_, err := NewStoreFromURI("s3:///prefix", testLogger())
	require.Error(t, err)
}

func TestNewStoreFromURIUnsupportedScheme(t *testing.T) {
	_, err := NewStoreFromURI("postgres://localhost/provisioning", testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store scheme")
}
