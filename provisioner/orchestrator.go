// Package provisioner coordinates directory resolution and user persistence.
// It is the entry point the request-handling layer calls into: it dispatches
// tagged add-user requests to the directory client, registers
// change-notification channels after successful resolution, and performs the
// idempotent bulk insert of selected users.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/proxyfleet/provisioning-backend/interfaces"
	"github.com/proxyfleet/provisioning-backend/keymanager"
	"github.com/proxyfleet/provisioning-backend/metrics"
)

// RequestKind tags an add-user request with its selector type.
type RequestKind int

const (
	// KindNone means no selector was given; resolution is a no-op.
	KindNone RequestKind = iota
	// KindUser resolves a single user identifier.
	KindUser
	// KindGroup expands a group identifier into its members.
	KindGroup
	// KindAll fetches the complete roster.
	KindAll
)

// ParseRequestKind maps the wire selector name to its kind.
func ParseRequestKind(s string) (RequestKind, error) {
	switch s {
	case "", "none":
		return KindNone, nil
	case "user":
		return KindUser, nil
	case "group":
		return KindGroup, nil
	case "all":
		return KindAll, nil
	default:
		return KindNone, fmt.Errorf("unknown request kind: %q", s)
	}
}

// String returns the wire selector name.
func (k RequestKind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindGroup:
		return "group"
	case KindAll:
		return "all"
	default:
		return "none"
	}
}

// AddRequest specifies at most one selector for directory resolution.
// Value carries the user or group identifier and is ignored for None and All.
type AddRequest struct {
	Kind  RequestKind
	Value string
}

// Resolution is the always-renderable outcome of an add-user request:
// either the resolved users, or an empty list with the captured error.
type Resolution struct {
	Users []interfaces.DirectoryUser
	Err   error
}

// KeyGenerator produces fresh credential material for inserted users.
type KeyGenerator interface {
	GenerateKeyPair() (keymanager.KeyPair, error)
}

// Orchestrator wires the directory client, the provisioning store and the
// key generator together.
type Orchestrator struct {
	dir   interfaces.DirectoryService
	store interfaces.ProvisioningStore
	keys  KeyGenerator
	log   *slog.Logger
}

// New creates an orchestrator.
func New(dir interfaces.DirectoryService, store interfaces.ProvisioningStore, keys KeyGenerator, log *slog.Logger) *Orchestrator {
	return &Orchestrator{dir: dir, store: store, keys: keys, log: log}
}

// ResolveAddRequest dispatches the request to the matching directory
// operation. With no selector it returns an empty resolution without
// contacting the directory. On success it registers watch channels for all
// four change kinds; on failure it returns the captured error alongside an
// empty list and registers nothing.
func (o *Orchestrator) ResolveAddRequest(ctx context.Context, req AddRequest) Resolution {
	var users []interfaces.DirectoryUser
	var err error

	switch req.Kind {
	case KindNone:
		return Resolution{}
	case KindUser:
		users, err = o.dir.GetUserAsList(ctx, req.Value)
	case KindGroup:
		users, err = o.dir.GetUsersByGroupKey(ctx, req.Value)
	case KindAll:
		users, err = o.dir.GetUsers(ctx)
	default:
		err = fmt.Errorf("unknown request kind: %d", req.Kind)
	}

	if err != nil {
		o.log.Error("Directory resolution failed", "kind", req.Kind.String(), "err", err)
		return Resolution{Err: err}
	}

	o.registerWatchChannels(ctx)
	return Resolution{Users: users}
}

// registerWatchChannels registers all four change kinds best-effort.
// Individual failures are logged and counted but never fail the caller;
// the channels serve freshness, not correctness of the resolution itself.
func (o *Orchestrator) registerWatchChannels(ctx context.Context) {
	for _, kind := range interfaces.AllWatchKinds {
		if err := o.dir.WatchUsers(ctx, kind); err != nil {
			metrics.WatchRegistrationFailures.Inc()
			o.log.Warn("Watch channel registration failed", "kind", kind.String(), "err", err)
		}
	}
}

// InsertUsers persists the given records as new users with fresh key pairs
// and the revocation flag unset. Records whose identity hash is already
// provisioned are skipped, so re-submitting the same list is a no-op for
// present users. Returns the users actually inserted.
func (o *Orchestrator) InsertUsers(ctx context.Context, records []interfaces.DirectoryUser) ([]interfaces.User, error) {
	inserted := []interfaces.User{}
	for _, rec := range records {
		if rec.PrimaryEmail == "" {
			continue
		}

		id := interfaces.NewUserID(rec.PrimaryEmail)
		if _, err := o.store.GetUser(ctx, id); err == nil {
			continue
		} else if !errors.Is(err, interfaces.ErrUserNotFound) {
			return inserted, err
		}

		keyPair, err := o.keys.GenerateKeyPair()
		if err != nil {
			return inserted, err
		}

		name := rec.FullName
		if name == "" {
			name = rec.PrimaryEmail
		}

		user := interfaces.User{
			ID:         id,
			Email:      rec.PrimaryEmail,
			Name:       name,
			PublicKey:  keyPair.PublicKey,
			PrivateKey: keyPair.PrivateKey,
		}
		if err := o.store.InsertUser(ctx, &user); err != nil {
			if errors.Is(err, interfaces.ErrUserExists) {
				continue
			}
			return inserted, err
		}

		metrics.UsersProvisioned.Inc()
		inserted = append(inserted, user)
	}

	o.log.Info("Inserted users", "requested", len(records), "inserted", len(inserted))
	return inserted, nil
}
