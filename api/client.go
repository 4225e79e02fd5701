package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Client consumes the provisioning HTTP API.
type Client struct {
	// ServerAddr is the base URL of the provisioning server.
	ServerAddr string

	// HTTPClient performs the requests. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// doJSON issues a request with an optional JSON body and decodes the JSON
// response into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.ServerAddr+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("could not request provisioning endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("provisioning endpoint returned non-200 response: %d", resp.StatusCode)
		}
		return fmt.Errorf("provisioning endpoint returned error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not parse provisioning response: %w", err)
	}
	return nil
}

// ListUsers returns all provisioned users, without key material.
func (c *Client) ListUsers(ctx context.Context) (*UserListResponse, error) {
	var resp UserListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/users", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResolveUsers resolves directory users for provisioning.
func (c *Client) ResolveUsers(ctx context.Context, req ResolveUsersRequest) (*ResolveUsersResponse, error) {
	var resp ResolveUsersResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/users/resolve", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// InsertUsers provisions the listed users.
func (c *Client) InsertUsers(ctx context.Context, req InsertUsersRequest) (*InsertUsersResponse, error) {
	var resp InsertUsersResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/users", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetUser returns a user's details including credential material.
func (c *Client) GetUser(ctx context.Context, id string) (*UserDetail, error) {
	var resp UserDetail
	if err := c.doJSON(ctx, http.MethodGet, "/api/users/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteUser removes a provisioned user.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/users/"+id, nil, nil)
}

// InviteCode issues an invite code for a user.
func (c *Client) InviteCode(ctx context.Context, id string) (*InviteCodeResponse, error) {
	var resp InviteCodeResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/users/"+id+"/invite", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RotateKeyPair replaces a user's key pair and returns the updated details.
func (c *Client) RotateKeyPair(ctx context.Context, id string) (*UserDetail, error) {
	var resp UserDetail
	if err := c.doJSON(ctx, http.MethodPost, "/api/users/"+id+"/keypair", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ToggleRevoked flips a user's revocation flag and returns the updated
// details.
func (c *Client) ToggleRevoked(ctx context.Context, id string) (*UserDetail, error) {
	var resp UserDetail
	if err := c.doJSON(ctx, http.MethodPost, "/api/users/"+id+"/revoked", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListProxies returns all proxy server records.
func (c *Client) ListProxies(ctx context.Context) (*ProxyListResponse, error) {
	var resp ProxyListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/proxies", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddProxy inserts or replaces a proxy server record.
func (c *Client) AddProxy(ctx context.Context, proxy ProxyServerRecord) error {
	return c.doJSON(ctx, http.MethodPost, "/api/proxies", proxy, nil)
}

// RemoveProxy deletes a proxy server record by address.
func (c *Client) RemoveProxy(ctx context.Context, address string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/proxies?address="+url.QueryEscape(address), nil, nil)
}

// GetVerification returns the domain verification record, creating the
// default one on first read.
func (c *Client) GetVerification(ctx context.Context, domain string) (*VerificationResponse, error) {
	var resp VerificationResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/verification/"+url.PathEscape(domain), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateVerification replaces the domain verification content.
func (c *Client) UpdateVerification(ctx context.Context, domain, content string) (*VerificationResponse, error) {
	var resp VerificationResponse
	req := UpdateVerificationRequest{Content: content}
	if err := c.doJSON(ctx, http.MethodPut, "/api/verification/"+url.PathEscape(domain), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckVerification reports whether the stored verification content is
// published in DNS.
func (c *Client) CheckVerification(ctx context.Context, domain string) (*VerificationCheckResponse, error) {
	var resp VerificationCheckResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/verification/"+url.PathEscape(domain)+"/check", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
