package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/proxyfleet/provisioning-backend/api"
	"github.com/proxyfleet/provisioning-backend/domainverify"
	"github.com/proxyfleet/provisioning-backend/interfaces"
	"github.com/proxyfleet/provisioning-backend/invite"
	"github.com/proxyfleet/provisioning-backend/keymanager"
	"github.com/proxyfleet/provisioning-backend/provisioner"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// Handler processes HTTP requests for the provisioning service. It exposes
// the orchestrator, invite issuer and key manager over JSON; authentication
// and XSRF protection are expected from middleware in front of it.
type Handler struct {
	orchestrator *provisioner.Orchestrator
	store        interfaces.ProvisioningStore
	keys         *keymanager.Manager
	issuer       *invite.Issuer
	verifier     *domainverify.Verifier
	log          *slog.Logger
}

// NewHandler creates an HTTP request handler with the given dependencies.
func NewHandler(orchestrator *provisioner.Orchestrator, store interfaces.ProvisioningStore, keys *keymanager.Manager, issuer *invite.Issuer, verifier *domainverify.Verifier, log *slog.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		store:        store,
		keys:         keys,
		issuer:       issuer,
		verifier:     verifier,
		log:          log,
	}
}

// RegisterRoutes mounts all API routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/users", h.HandleListUsers)
	r.Post("/api/users", h.HandleInsertUsers)
	r.Post("/api/users/resolve", h.HandleResolveUsers)
	r.Get("/api/users/{user_id}", h.HandleUserDetails)
	r.Delete("/api/users/{user_id}", h.HandleDeleteUser)
	r.Post("/api/users/{user_id}/invite", h.HandleInviteCode)
	r.Post("/api/users/{user_id}/keypair", h.HandleRotateKeyPair)
	r.Post("/api/users/{user_id}/revoked", h.HandleToggleRevoked)
	r.Get("/api/proxies", h.HandleListProxies)
	r.Post("/api/proxies", h.HandleAddProxy)
	r.Delete("/api/proxies", h.HandleRemoveProxy)
	r.Get("/api/verification/{domain}", h.HandleGetVerification)
	r.Put("/api/verification/{domain}", h.HandleUpdateVerification)
	r.Get("/api/verification/{domain}/check", h.HandleCheckVerification)
}

func (h *Handler) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interfaces.ErrUserNotFound), errors.Is(err, interfaces.ErrProxyNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, interfaces.ErrNoActiveProxy):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, interfaces.ErrStoreUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(out); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (interfaces.UserID, bool) {
	id, err := interfaces.NewUserIDFromHex(chi.URLParam(r, "user_id"))
	if err != nil {
		http.Error(w, "invalid user ID format", http.StatusBadRequest)
		return interfaces.UserID{}, false
	}
	return id, true
}

func userSummary(u *interfaces.User) api.UserSummary {
	return api.UserSummary{
		ID:         u.ID.String(),
		Email:      u.Email,
		Name:       u.Name,
		KeyRevoked: u.KeyRevoked,
	}
}

func userDetail(u *interfaces.User) api.UserDetail {
	return api.UserDetail{
		UserSummary: userSummary(u),
		PublicKey:   u.PublicKey,
		PrivateKey:  u.PrivateKey,
	}
}

// HandleListUsers returns all provisioned users. Key material is excluded
// from the list payload.
func (h *Handler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.AllUsers(r.Context())
	if err != nil {
		h.log.Error("Failed to list users", "err", err)
		h.writeError(w, err)
		return
	}

	resp := api.UserListResponse{Users: make([]api.UserSummary, 0, len(users))}
	for i := range users {
		resp.Users = append(resp.Users, userSummary(&users[i]))
	}
	h.writeJSON(w, resp)
}

// HandleResolveUsers resolves directory users for provisioning. Directory
// failures are reported inside the response body, never as a request
// failure: the caller always receives a renderable outcome.
func (h *Handler) HandleResolveUsers(w http.ResponseWriter, r *http.Request) {
	var req api.ResolveUsersRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	kind, err := provisioner.ParseRequestKind(req.Kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resolution := h.orchestrator.ResolveAddRequest(r.Context(), provisioner.AddRequest{Kind: kind, Value: req.Value})

	resp := api.ResolveUsersResponse{Users: make([]api.UserRecord, 0, len(resolution.Users))}
	for _, u := range resolution.Users {
		resp.Users = append(resp.Users, api.UserRecord{PrimaryEmail: u.PrimaryEmail, FullName: u.FullName})
	}
	if resolution.Err != nil {
		resp.Error = resolution.Err.Error()
	}
	h.writeJSON(w, resp)
}

// HandleInsertUsers provisions the listed users with fresh key pairs,
// skipping already-provisioned identities.
func (h *Handler) HandleInsertUsers(w http.ResponseWriter, r *http.Request) {
	var req api.InsertUsersRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	records := make([]interfaces.DirectoryUser, 0, len(req.Users))
	for _, u := range req.Users {
		records = append(records, interfaces.DirectoryUser{PrimaryEmail: u.PrimaryEmail, FullName: u.FullName})
	}

	inserted, err := h.orchestrator.InsertUsers(r.Context(), records)
	if err != nil {
		h.log.Error("Failed to insert users", "err", err)
		h.writeError(w, err)
		return
	}

	resp := api.InsertUsersResponse{Inserted: make([]api.UserSummary, 0, len(inserted))}
	for i := range inserted {
		resp.Inserted = append(resp.Inserted, userSummary(&inserted[i]))
	}
	h.writeJSON(w, resp)
}

// HandleUserDetails returns a user's full record.
func (h *Handler) HandleUserDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}

	user, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, userDetail(user))
}

// HandleDeleteUser removes a provisioned user.
func (h *Handler) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteUser(r.Context(), id); err != nil {
		h.log.Error("Failed to delete user", "err", err, "userID", id.String())
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"deleted"}`))
}

// HandleInviteCode issues an invite code binding the user's credential to a
// randomly selected active proxy endpoint.
func (h *Handler) HandleInviteCode(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}

	user, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	code, err := h.issuer.MakeInviteCode(r.Context(), user)
	if err != nil {
		h.log.Error("Failed to issue invite code", "err", err, "userID", id.String())
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, api.InviteCodeResponse{InviteCode: code})
}

// HandleRotateKeyPair replaces the user's key pair in place.
func (h *Handler) HandleRotateKeyPair(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}

	user, err := h.keys.RotateKeyPair(r.Context(), id)
	if err != nil {
		h.log.Error("Failed to rotate key pair", "err", err, "userID", id.String())
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, userDetail(user))
}

// HandleToggleRevoked flips the user's revocation flag.
func (h *Handler) HandleToggleRevoked(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}

	user, err := h.keys.ToggleRevocation(r.Context(), id)
	if err != nil {
		h.log.Error("Failed to toggle revocation", "err", err, "userID", id.String())
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, userDetail(user))
}

// HandleListProxies returns all proxy server records.
func (h *Handler) HandleListProxies(w http.ResponseWriter, r *http.Request) {
	proxies, err := h.store.AllProxyServers(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := api.ProxyListResponse{Proxies: make([]api.ProxyServerRecord, 0, len(proxies))}
	for _, p := range proxies {
		resp.Proxies = append(resp.Proxies, api.ProxyServerRecord{Address: p.Address, Active: p.Active})
	}
	h.writeJSON(w, resp)
}

// HandleAddProxy inserts or replaces a proxy server record.
func (h *Handler) HandleAddProxy(w http.ResponseWriter, r *http.Request) {
	var req api.ProxyServerRecord
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.Address == "" {
		http.Error(w, "proxy address is required", http.StatusBadRequest)
		return
	}

	proxy := interfaces.ProxyServer{Address: req.Address, Active: req.Active}
	if err := h.store.InsertProxyServer(r.Context(), &proxy); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// HandleRemoveProxy deletes a proxy server record by the address query
// parameter.
func (h *Handler) HandleRemoveProxy(w http.ResponseWriter, r *http.Request) {
	address, err := url.QueryUnescape(r.URL.Query().Get("address"))
	if err != nil || address == "" {
		http.Error(w, "address query parameter is required", http.StatusBadRequest)
		return
	}

	if err := h.store.DeleteProxyServer(r.Context(), address); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"deleted"}`))
}

// HandleGetVerification returns the domain verification record, creating it
// with the default content on first read.
func (h *Handler) HandleGetVerification(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")

	dv, err := h.store.GetOrInsertDefaultDomainVerification(r.Context(), domain)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, api.VerificationResponse{Domain: dv.Domain, Content: dv.Content})
}

// HandleUpdateVerification replaces the domain verification content.
func (h *Handler) HandleUpdateVerification(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")

	var req api.UpdateVerificationRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	dv, err := h.store.UpdateDomainVerification(r.Context(), domain, req.Content)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, api.VerificationResponse{Domain: dv.Domain, Content: dv.Content})
}

// HandleCheckVerification queries DNS for the stored verification content.
func (h *Handler) HandleCheckVerification(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")

	dv, err := h.store.GetOrInsertDefaultDomainVerification(r.Context(), domain)
	if err != nil {
		h.writeError(w, err)
		return
	}

	verified, err := h.verifier.VerifyTXT(r.Context(), domain, dv.Content)
	if err != nil {
		h.log.Warn("Verification check failed", "err", err, "domain", domain)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, api.VerificationCheckResponse{Domain: domain, Verified: verified})
}
