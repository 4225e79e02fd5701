// Package invite issues portable invite codes binding a user's credential
// material to a selected proxy endpoint.
//
// An invite code is the base64 URL-safe encoding of a JSON envelope:
//
//	{"networkName":"Cloud","networkData":{"user":...,"pass":...,"host":...}}
//
// The code is opaque text safe to embed in a URL, and decoding reproduces
// the exact envelope. It is a plain bearer credential: no expiry and no
// signature are embedded, downstream consumers perform any further
// validation.
package invite

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/proxyfleet/provisioning-backend/interfaces"
	"github.com/proxyfleet/provisioning-backend/metrics"
)

// NetworkName identifies the network type in the invite envelope.
const NetworkName = "Cloud"

// NetworkData is the credential descriptor inside an invite code.
type NetworkData struct {
	User string `json:"user"`
	Pass string `json:"pass"`
	Host string `json:"host"`
}

// Envelope is the outer structure of a decoded invite code.
type Envelope struct {
	NetworkName string      `json:"networkName"`
	NetworkData NetworkData `json:"networkData"`
}

// Issuer composes invite codes from stored users and the active proxy set.
type Issuer struct {
	store interfaces.ProvisioningStore
	log   *slog.Logger
}

// NewIssuer creates an invite code issuer backed by the given store.
func NewIssuer(store interfaces.ProvisioningStore, log *slog.Logger) *Issuer {
	return &Issuer{store: store, log: log}
}

// SelectProxyEndpoint returns one endpoint chosen uniformly at random among
// the proxy servers currently marked active. Returns ErrNoActiveProxy when
// the active set is empty; this is surfaced, never silently defaulted.
func (i *Issuer) SelectProxyEndpoint(ctx context.Context) (string, error) {
	proxies, err := i.store.ActiveProxyServers(ctx)
	if err != nil {
		return "", fmt.Errorf("could not list active proxy servers: %w", err)
	}
	if len(proxies) == 0 {
		return "", interfaces.ErrNoActiveProxy
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(proxies))))
	if err != nil {
		return "", fmt.Errorf("failed to draw random proxy index: %w", err)
	}
	return proxies[n.Int64()].Address, nil
}

// MakeInviteCode builds and encodes the credential bundle for a user.
// Endpoint selection happens before any encoding work; its failure aborts
// issuance.
func (i *Issuer) MakeInviteCode(ctx context.Context, user *interfaces.User) (string, error) {
	host, err := i.SelectProxyEndpoint(ctx)
	if err != nil {
		return "", err
	}

	code, err := EncodeInviteCode(Envelope{
		NetworkName: NetworkName,
		NetworkData: NetworkData{
			User: user.Email,
			Pass: user.PrivateKey,
			Host: host,
		},
	})
	if err != nil {
		return "", err
	}

	metrics.InvitesIssued.Inc()
	i.log.Info("Issued invite code", "userID", user.ID.String(), "host", host)
	return code, nil
}

// EncodeInviteCode serializes an envelope to its canonical invite code text.
func EncodeInviteCode(env Envelope) (string, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to serialize invite envelope: %w", err)
	}
	return base64.URLEncoding.EncodeToString(payload), nil
}

// DecodeInviteCode parses an invite code back into its envelope. The
// transport encoding is padding-tolerant: codes with stripped '=' padding
// decode the same as padded ones.
func DecodeInviteCode(code string) (Envelope, error) {
	payload, err := base64.URLEncoding.DecodeString(code)
	if err != nil {
		payload, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(code, "="))
		if err != nil {
			return Envelope{}, fmt.Errorf("invalid invite code encoding: %w", err)
		}
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid invite envelope: %w", err)
	}
	return env, nil
}
