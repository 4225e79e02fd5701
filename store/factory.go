package store

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/proxyfleet/provisioning-backend/interfaces"
)

// NewStoreFromURI creates a ProvisioningStore from a location URI.
//
// Supported schemes:
//   - mem:// - in-process store (tests, development)
//   - file:///var/lib/provisioning - local file system store
//   - vault://token@vault.example.com:8200/secret/provisioning?tls=true
//   - s3://access:secret@bucket/prefix?region=us-east-1&endpoint=...
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func NewStoreFromURI(locationURI string, log *slog.Logger) (interfaces.ProvisioningStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid store URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "mem":
		return NewMemoryStore(), nil
	case "file":
		return createFileStore(u, log)
	case "vault":
		return createVaultStore(u, log)
	case "s3":
		return createS3Store(u, log)
	default:
		return nil, fmt.Errorf("unsupported store scheme: %s", u.Scheme)
	}
}

func createFileStore(u *url.URL, log *slog.Logger) (interfaces.ProvisioningStore, error) {
	baseDir := u.Path
	if u.Host != "" {
		// Relative form like file://data.
		baseDir = u.Host + u.Path
	}
	if baseDir == "" {
		return nil, fmt.Errorf("file store URI requires a path")
	}
	return NewFileStore(baseDir, log)
}

// createVaultStore parses vault://token@host:port/mount/basepath?tls=true.
func createVaultStore(u *url.URL, log *slog.Logger) (interfaces.ProvisioningStore, error) {
	if u.User == nil || u.User.Username() == "" {
		return nil, fmt.Errorf("vault store URI requires a token in the user part")
	}
	token := u.User.Username()

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("vault store URI requires /mount/basepath")
	}

	scheme := "http"
	if u.Query().Get("tls") == "true" {
		scheme = "https"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)

	return NewVaultStore(address, token, parts[0], parts[1], log)
}

// createS3Store parses s3://access:secret@bucket/prefix?region=...&endpoint=...
func createS3Store(u *url.URL, log *slog.Logger) (interfaces.ProvisioningStore, error) {
	bucket := u.Host
	if bucket == "" {
		return nil, fmt.Errorf("s3 store URI requires a bucket")
	}

	region := u.Query().Get("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	return NewS3Store(bucket, strings.Trim(u.Path, "/"), region, u.Query().Get("endpoint"), accessKey, secretKey, log)
}
