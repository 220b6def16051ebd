package http

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/fixwerk/shopshift/internal/adapter/ws"
	"github.com/fixwerk/shopshift/internal/domain/migration"
	"github.com/fixwerk/shopshift/internal/domain/shop"
	"github.com/fixwerk/shopshift/internal/health"
	"github.com/fixwerk/shopshift/internal/port/statestore"
)

// Migrator is the slice of the coordinator the admin API drives.
type Migrator interface {
	Advance(ctx context.Context, shopID string) error
	Pause(ctx context.Context, shopID string) error
	Resume(ctx context.Context, shopID string) error
	Rollback(ctx context.Context, shopID string) error
	Retry(ctx context.Context, shopID string) error
	Status(ctx context.Context, shopID string) (*migration.Record, int, error)
}

// HealthSource exposes the store health snapshot.
type HealthSource interface {
	Status() []health.ShopHealth
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	State  statestore.Store
	Coord  Migrator
	Health HealthSource
	Hub    *ws.Hub
	Log    *slog.Logger
}

// subdomainRe matches DNS-label-safe subdomains.
var subdomainRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// CreateShop registers a new shop. New shops start on the legacy shared
// store; migration begins only when an operator advances them.
func (h *Handlers) CreateShop(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[shop.CreateRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if !requireField(w, req.Name, "name") || !requireField(w, req.Subdomain, "subdomain") {
		return
	}
	if !subdomainRe.MatchString(req.Subdomain) {
		writeError(w, http.StatusBadRequest, "subdomain must be a valid DNS label")
		return
	}

	s, err := h.State.CreateShop(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "shop creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// ListShops returns all registered shops.
func (h *Handlers) ListShops(w http.ResponseWriter, r *http.Request) {
	handleList(h.State.ListShops)(w, r)
}

// GetShop returns one shop by ID.
func (h *Handlers) GetShop(w http.ResponseWriter, r *http.Request) {
	handleGet(h.State.GetShop, "shop not found")(w, r)
}

// CreateGroup registers a shop group (a chain sharing one admin account).
func (h *Handlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[shop.CreateGroupRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if !requireField(w, req.Name, "name") || !requireField(w, req.OwnerEmail, "owner_email") {
		return
	}

	g, err := h.State.CreateGroup(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "group creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// ListGroups returns all shop groups.
func (h *Handlers) ListGroups(w http.ResponseWriter, r *http.Request) {
	handleList(h.State.ListGroups)(w, r)
}

// GetGroup returns one group with its member shop IDs.
func (h *Handlers) GetGroup(w http.ResponseWriter, r *http.Request) {
	handleGet(h.State.GetGroup, "group not found")(w, r)
}

// AddGroupMember adds an existing shop to a group.
func (h *Handlers) AddGroupMember(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[shop.AddMemberRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if !requireField(w, req.ShopID, "shop_id") {
		return
	}
	if err := h.State.AddGroupMember(r.Context(), urlParam(r, "id"), req.ShopID); err != nil {
		writeDomainError(w, err, "group or shop not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// groupAdvanceResult reports the outcome of advancing one member shop.
type groupAdvanceResult struct {
	ShopID string `json:"shop_id"`
	Error  string `json:"error,omitempty"`
}

// AdvanceGroup starts or resumes the migration of every shop in a group.
// Shops advance independently; one failing does not stop the rest.
func (h *Handlers) AdvanceGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.State.GetGroup(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "group not found")
		return
	}

	results := make([]groupAdvanceResult, 0, len(g.ShopIDs))
	for _, shopID := range g.ShopIDs {
		res := groupAdvanceResult{ShopID: shopID}
		if err := h.Coord.Advance(r.Context(), shopID); err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	writeJSON(w, http.StatusAccepted, results)
}

// StoreHealth returns the reachability snapshot for every migrating shop.
func (h *Handlers) StoreHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Health.Status())
}
