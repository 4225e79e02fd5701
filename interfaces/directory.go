package interfaces

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDirectoryFetchFailed is returned when the directory provider keeps
	// failing after the per-page retry budget is exhausted.
	ErrDirectoryFetchFailed = errors.New("directory fetch failed")

	// ErrGroupNotFound is returned when the provider reports no group for the
	// requested group key.
	ErrGroupNotFound = errors.New("group not found")

	// ErrUserNotFound is returned when a user is absent, either from the
	// directory provider or from the provisioning store.
	ErrUserNotFound = errors.New("user not found")
)

// DirectoryError carries the provider's status and response content for a
// failed directory request. It matches ErrDirectoryFetchFailed under
// errors.Is.
type DirectoryError struct {
	Status int
	Body   string
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("directory fetch failed: status %d: %s", e.Status, e.Body)
}

func (e *DirectoryError) Is(target error) bool {
	return target == ErrDirectoryFetchFailed
}

// DirectoryService resolves organizational users and groups against the
// external directory provider and registers change-notification channels.
// Implementations never persist anything; they return transient roster data
// for the orchestrator to act on.
type DirectoryService interface {
	// GetUsers returns the complete roster, fetched page by page. Either the
	// full roster or an error is returned, never partial results.
	GetUsers(ctx context.Context) ([]DirectoryUser, error)

	// GetUsersByGroupKey expands a group identifier into its member list.
	// Returns ErrGroupNotFound if the provider has no such group.
	GetUsersByGroupKey(ctx context.Context, groupKey string) ([]DirectoryUser, error)

	// GetUserAsList resolves a single user identifier into a one-element
	// list, so callers can treat single-user and bulk resolution uniformly.
	// Returns ErrUserNotFound if the provider has no such user.
	GetUserAsList(ctx context.Context, userKey string) ([]DirectoryUser, error)

	// WatchUsers registers a push-notification channel for one change kind.
	// Re-registration for the same kind is not an error.
	WatchUsers(ctx context.Context, kind WatchKind) error
}
