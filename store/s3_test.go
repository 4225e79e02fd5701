package store

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestS3Store(t *testing.T, handler http.Handler) *S3Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	st, err := NewS3Store("test-bucket", "provisioning", "us-east-1", srv.URL, "access", "secret", testLogger())
	require.NoError(t, err)
	return st
}

const listOneProxyXML = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult>
  <Name>test-bucket</Name>
  <IsTruncated>false</IsTruncated>
  <Contents><Key>provisioning/proxies/proxy-1.example.com.json</Key></Contents>
</ListBucketResult>`

func TestS3ListPropagatesCorruptRecords(t *testing.T) {
	st := newTestS3Store(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("list-type") == "2" {
			w.Header().Set("Content-Type", "application/xml")
			w.Write([]byte(listOneProxyXML))
			return
		}
		w.Write([]byte("not json"))
	}))

	_, err := st.AllProxyServers(context.Background())
	require.Error(t, err, "a listed but undecodable record must not be dropped silently")
	assert.Contains(t, err.Error(), "corrupt record")
}

func TestS3ListSkipsObjectsRemovedMidListing(t *testing.T) {
	st := newTestS3Store(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("list-type") == "2" {
			w.Header().Set("Content-Type", "application/xml")
			w.Write([]byte(listOneProxyXML))
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>gone</Message></Error>`))
	}))

	proxies, err := st.AllProxyServers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, proxies)
}
