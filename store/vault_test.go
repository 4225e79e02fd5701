package store

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListedKeysUnescapeStoredNames(t *testing.T) {
	addr := "socks5://proxy.example.com:1080/path"

	// A metadata LIST hands back the stored (escaped) key names.
	data := map[string]interface{}{"keys": []interface{}{
		url.PathEscape(addr),
		"plain-name",
		42,
	}}

	keys := listedKeys(data)
	assert.Equal(t, []string{addr, "plain-name"}, keys)
}

func TestListedKeysEmptyResponses(t *testing.T) {
	assert.Nil(t, listedKeys(nil))
	assert.Nil(t, listedKeys(map[string]interface{}{}))
	assert.Empty(t, listedKeys(map[string]interface{}{"keys": []interface{}{}}))
}

func TestVaultPathRoundTripsListedKey(t *testing.T) {
	st, err := NewVaultStore("http://127.0.0.1:8200", "token", "secret", "provisioning", testLogger())
	require.NoError(t, err)

	addr := "socks5://proxy.example.com:1080/path"
	stored := st.path(proxiesDir, addr)

	// Reading back a listed (then unescaped) key must rebuild the exact
	// path the record was written under.
	listed := listedKeys(map[string]interface{}{"keys": []interface{}{url.PathEscape(addr)}})
	require.Len(t, listed, 1)
	assert.Equal(t, stored, st.path(proxiesDir, listed[0]))
}
