package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/fixwerk/shopshift/internal/domain/migration"
)

// migrationStatus is the admin API view of one shop's migration.
type migrationStatus struct {
	*migration.Record
	PendingDivergence int `json:"pending_divergence"`
}

// GetMigration returns a shop's migration record and pending divergence.
func (h *Handlers) GetMigration(w http.ResponseWriter, r *http.Request) {
	rec, pending, err := h.Coord.Status(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "no migration for shop")
		return
	}
	writeJSON(w, http.StatusOK, migrationStatus{Record: rec, PendingDivergence: pending})
}

// ListMigrations returns every shop's migration record.
func (h *Handlers) ListMigrations(w http.ResponseWriter, r *http.Request) {
	handleList(h.State.ListMigrations)(w, r)
}

// AdvanceMigration starts a shop's migration, or resumes driving it after
// an operator rollback. The pipeline runs asynchronously.
func (h *Handlers) AdvanceMigration(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.Coord.Advance, "advance accepted")
}

// PauseMigration stops the shop's pipeline at the next safe boundary.
func (h *Handlers) PauseMigration(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.Coord.Pause, "pause accepted")
}

// ResumeMigration continues a paused migration from its persisted position.
func (h *Handlers) ResumeMigration(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.Coord.Resume, "resume accepted")
}

// RollbackMigration flips a cutover shop's reads back to the legacy store.
func (h *Handlers) RollbackMigration(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.Coord.Rollback, "rollback executed")
}

// RetryMigration re-enters the phase a failed shop failed from.
func (h *Handlers) RetryMigration(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.Coord.Retry, "retry accepted")
}

type commandResponse struct {
	Status string `json:"status"`
	ShopID string `json:"shop_id"`
}

// command runs one operator command against the shop in the URL.
func (h *Handlers) command(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, shopID string) error, status string) {
	shopID := urlParam(r, "id")
	if err := fn(r.Context(), shopID); err != nil {
		writeDomainError(w, err, "no migration for shop")
		return
	}
	writeJSON(w, http.StatusAccepted, commandResponse{Status: status, ShopID: shopID})
}

// ListReports returns a shop's most recent validation reports.
func (h *Handlers) ListReports(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	reps, err := h.State.ListReports(r.Context(), urlParam(r, "id"), limit)
	if err != nil {
		writeDomainError(w, err, "no reports for shop")
		return
	}
	if reps == nil {
		reps = []migration.Report{}
	}
	writeJSON(w, http.StatusOK, reps)
}
