// Package api defines the JSON request and response types of the
// provisioning HTTP API, and a client for consuming it.
package api

// UserRecord is an externally-sourced or manually-entered user entry, the
// input shape for resolution results and bulk inserts.
type UserRecord struct {
	PrimaryEmail string `json:"primaryEmail"`
	FullName     string `json:"fullName"`
}

// ResolveUsersRequest selects directory users to provision. Kind is one of
// "none", "user", "group" or "all"; Value carries the user or group
// identifier for the first two.
type ResolveUsersRequest struct {
	Kind  string `json:"kind"`
	Value string `json:"value,omitempty"`
}

// ResolveUsersResponse is the always-renderable resolution outcome: the
// resolved users, or an empty list with the captured error detail.
type ResolveUsersResponse struct {
	Users []UserRecord `json:"users"`
	Error string       `json:"error,omitempty"`
}

// InsertUsersRequest provisions the listed users.
type InsertUsersRequest struct {
	Users []UserRecord `json:"users"`
}

// UserSummary is the list-view shape of a user. It deliberately excludes
// key material.
type UserSummary struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	KeyRevoked bool   `json:"keyRevoked"`
}

// InsertUsersResponse reports the users actually inserted (already
// provisioned entries are skipped).
type InsertUsersResponse struct {
	Inserted []UserSummary `json:"inserted"`
}

// UserListResponse carries the user list view.
type UserListResponse struct {
	Users []UserSummary `json:"users"`
}

// UserDetail is the detail-view shape of a user, including credential
// material for administrative display.
type UserDetail struct {
	UserSummary
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// InviteCodeResponse carries a freshly issued invite code.
type InviteCodeResponse struct {
	InviteCode string `json:"inviteCode"`
}

// ProxyServerRecord is the wire shape of a proxy server entry.
type ProxyServerRecord struct {
	Address string `json:"address"`
	Active  bool   `json:"active"`
}

// ProxyListResponse carries the proxy server list.
type ProxyListResponse struct {
	Proxies []ProxyServerRecord `json:"proxies"`
}

// VerificationResponse carries a domain verification record.
type VerificationResponse struct {
	Domain  string `json:"domain"`
	Content string `json:"content"`
}

// UpdateVerificationRequest replaces the verification content for a domain.
type UpdateVerificationRequest struct {
	Content string `json:"content"`
}

// VerificationCheckResponse reports whether the stored verification content
// is published in the domain's DNS TXT records.
type VerificationCheckResponse struct {
	Domain   string `json:"domain"`
	Verified bool   `json:"verified"`
}
