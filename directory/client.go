// Package directory implements the client for the external directory
// provider. It resolves the organizational roster (full, by group, or by
// single user) over a paginated REST API and registers change-notification
// channels for incremental updates.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/proxyfleet/provisioning-backend/interfaces"
	"github.com/proxyfleet/provisioning-backend/metrics"
)

const (
	// DefaultBaseURL is the directory provider's admin API root.
	DefaultBaseURL = "https://admin.googleapis.com/admin/directory/v1"

	// DefaultCustomer aliases the customer account of the authenticated admin.
	DefaultCustomer = "my_customer"

	// maxPageResults caps the page size of roster and member listings.
	maxPageResults = 500

	// pageFetchRetries is the retry budget for each page fetch.
	pageFetchRetries = 3
)

// Config carries the dependencies and settings for a directory Client.
// The HTTP client is expected to be authenticated already, typically built
// with oauth2.NewClient from an admin token source.
type Config struct {
	// BaseURL overrides the provider API root. Defaults to DefaultBaseURL.
	BaseURL string

	// Customer identifies the customer account. Defaults to DefaultCustomer.
	Customer string

	// HTTPClient performs the authenticated requests. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// WatchAddress is the webhook endpoint registered with watch channels.
	WatchAddress string

	// Log receives operational logging.
	Log *slog.Logger
}

// Client implements interfaces.DirectoryService against the provider's REST
// API. All page fetches go through a retrying HTTP client with a fixed
// per-page budget; the provider's error is surfaced unmodified once the
// budget is exhausted.
type Client struct {
	base      string
	customer  string
	watchAddr string
	http      *retryablehttp.Client
	log       *slog.Logger
}

// NewClient creates a directory client from the provided configuration.
func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	customer := cfg.Customer
	if customer == "" {
		customer = DefaultCustomer
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = pageFetchRetries - 1
	rc.Logger = nil
	// Hand back the provider's final response instead of swallowing it, so
	// the status and content survive retry exhaustion.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if cfg.HTTPClient != nil {
		rc.HTTPClient = cfg.HTTPClient
	}

	return &Client{
		base:      base,
		customer:  customer,
		watchAddr: cfg.WatchAddress,
		http:      rc,
		log:       log,
	}
}

// Wire shapes of the provider API. Only the consumed fields are decoded.
type wireName struct {
	FullName string `json:"fullName"`
}

type wireUser struct {
	PrimaryEmail string   `json:"primaryEmail"`
	Name         wireName `json:"name"`
}

type usersPage struct {
	Users         []wireUser `json:"users"`
	NextPageToken string     `json:"nextPageToken"`
}

type wireMember struct {
	Email string `json:"email"`
	Type  string `json:"type"`
}

type membersPage struct {
	Members       []wireMember `json:"members"`
	NextPageToken string       `json:"nextPageToken"`
}

type watchRequest struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Address string `json:"address"`
}

// GetUsers returns the complete roster of the customer account. Pages are
// fetched in strict sequence, each continuation token depending on the prior
// response; the loop terminates when the response omits a token. On any page
// failure no partial results are returned.
func (c *Client) GetUsers(ctx context.Context) ([]interfaces.DirectoryUser, error) {
	var users []interfaces.DirectoryUser
	pageToken := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		query := url.Values{}
		query.Set("customer", c.customer)
		query.Set("maxResults", strconv.Itoa(maxPageResults))
		query.Set("projection", "full")
		query.Set("orderBy", "email")
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}

		var page usersPage
		if err := c.getJSON(ctx, c.base+"/users?"+query.Encode(), &page); err != nil {
			return nil, err
		}
		metrics.DirectoryPagesFetched.Inc()

		for _, u := range page.Users {
			users = append(users, directoryUser(u))
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	c.log.Debug("Fetched directory roster", "users", len(users))
	return users, nil
}

// GetUsersByGroupKey expands a group into its member users. Member listings
// paginate with the same contract as GetUsers; each USER member is then
// resolved to its full directory record.
func (c *Client) GetUsersByGroupKey(ctx context.Context, groupKey string) ([]interfaces.DirectoryUser, error) {
	var members []wireMember
	pageToken := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		query := url.Values{}
		query.Set("maxResults", strconv.Itoa(maxPageResults))
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}

		u := fmt.Sprintf("%s/groups/%s/members?%s", c.base, url.PathEscape(groupKey), query.Encode())
		var page membersPage
		if err := c.getJSON(ctx, u, &page); err != nil {
			var dirErr *interfaces.DirectoryError
			if isStatus(err, http.StatusNotFound, &dirErr) {
				return nil, fmt.Errorf("%w: %s", interfaces.ErrGroupNotFound, groupKey)
			}
			return nil, err
		}
		metrics.DirectoryPagesFetched.Inc()

		members = append(members, page.Members...)
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	users := []interfaces.DirectoryUser{}
	for _, m := range members {
		if m.Type != "" && m.Type != "USER" {
			continue
		}
		if m.Email == "" {
			continue
		}
		u, err := c.getUser(ctx, m.Email)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	c.log.Debug("Expanded group", "groupKey", groupKey, "members", len(users))
	return users, nil
}

// GetUserAsList resolves a single user identifier into a one-element list.
func (c *Client) GetUserAsList(ctx context.Context, userKey string) ([]interfaces.DirectoryUser, error) {
	u, err := c.getUser(ctx, userKey)
	if err != nil {
		return nil, err
	}
	return []interfaces.DirectoryUser{u}, nil
}

func (c *Client) getUser(ctx context.Context, userKey string) (interfaces.DirectoryUser, error) {
	endpoint := fmt.Sprintf("%s/users/%s?projection=full", c.base, url.PathEscape(userKey))

	var user wireUser
	if err := c.getJSON(ctx, endpoint, &user); err != nil {
		var dirErr *interfaces.DirectoryError
		if isStatus(err, http.StatusNotFound, &dirErr) {
			return interfaces.DirectoryUser{}, fmt.Errorf("%w: %s", interfaces.ErrUserNotFound, userKey)
		}
		return interfaces.DirectoryUser{}, err
	}
	return directoryUser(user), nil
}

// WatchUsers registers a push-notification channel for one change kind. The
// provider deduplicates channels, so re-registration for the same kind is an
// expression of intent, not an error.
func (c *Client) WatchUsers(ctx context.Context, kind interfaces.WatchKind) error {
	if !kind.Valid() {
		return fmt.Errorf("invalid watch kind: %q", kind)
	}

	query := url.Values{}
	query.Set("customer", c.customer)
	query.Set("event", kind.String())

	body := watchRequest{
		ID:      uuid.NewString(),
		Type:    "web_hook",
		Address: c.watchAddr,
	}

	endpoint := c.base + "/users/watch?" + query.Encode()
	if err := c.postJSON(ctx, endpoint, body); err != nil {
		return err
	}

	c.log.Debug("Registered watch channel", "kind", kind.String())
	return nil
}

func directoryUser(u wireUser) interfaces.DirectoryUser {
	name := u.Name.FullName
	if name == "" {
		name = u.PrimaryEmail
	}
	return interfaces.DirectoryUser{PrimaryEmail: u.PrimaryEmail, FullName: name}
}

func isStatus(err error, status int, target **interfaces.DirectoryError) bool {
	if !errors.As(err, target) {
		return false
	}
	return (*target).Status == status
}

// getJSON fetches the URL through the retrying client and decodes the
// response into out.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("could not build directory request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not parse directory response: %w", err)
	}
	return nil
}

// postJSON sends body to the URL through the retrying client. The response
// body is not consumed beyond the status check.
func (c *Client) postJSON(ctx context.Context, endpoint string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("could not encode directory request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return fmt.Errorf("could not build directory request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) do(req *retryablehttp.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.DirectoryFetchErrors.Inc()
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDirectoryFetchFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		metrics.DirectoryFetchErrors.Inc()
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if readErr != nil {
			body = nil
		}
		return nil, &interfaces.DirectoryError{Status: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}
