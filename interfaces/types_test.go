package interfaces

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUserIDNormalizesEmail(t *testing.T) {
	base := NewUserID("alice@example.com")

	assert.Equal(t, base, NewUserID("Alice@Example.COM"))
	assert.Equal(t, base, NewUserID("  alice@example.com  "))
	assert.NotEqual(t, base, NewUserID("bob@example.com"))
}

func TestUserIDHexRoundTrip(t *testing.T) {
	id := NewUserID("alice@example.com")
	require.Len(t, id.String(), 64)

	parsed, err := NewUserIDFromHex(id.String())
	require.NoError(t, err)
	assert.True(t, id.Equal(parsed))
}

func TestNewUserIDFromHexRejectsMalformed(t *testing.T) {
	_, err := NewUserIDFromHex("not-hex")
	require.Error(t, err)

	_, err = NewUserIDFromHex("abcd")
	require.Error(t, err)
}

func TestWatchKindValid(t *testing.T) {
	for _, kind := range AllWatchKinds {
		assert.True(t, kind.Valid(), kind.String())
	}
	assert.False(t, WatchKind("suspend").Valid())
	assert.False(t, WatchKind("").Valid())
}
