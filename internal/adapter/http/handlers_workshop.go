package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fixwerk/shopshift/internal/domain/workshop"
	"github.com/fixwerk/shopshift/internal/logger"
	"github.com/fixwerk/shopshift/internal/middleware"
	"github.com/fixwerk/shopshift/internal/port/database"
)

// storeFrom returns the store bound for the request's shop. Routes using
// it must sit behind middleware.ResolveShop.
func storeFrom(w http.ResponseWriter, r *http.Request) (database.ShopStore, bool) {
	st := middleware.StoreFromContext(r.Context())
	if st == nil {
		slog.Error("no shop store bound", "shop_id", logger.ShopID(r.Context()), "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "no shop store bound")
		return nil, false
	}
	return st, true
}

// stamp fills identity and timestamps for a new or updated row. Times are
// truncated to microseconds so both stores round-trip identical values.
func stamp(id *string, createdAt, updatedAt *time.Time) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	if *id == "" {
		*id = uuid.NewString()
	}
	if createdAt.IsZero() {
		*createdAt = now
	}
	*updatedAt = now
}

// ---------------------------------------------------------------------------
// Customers
// ---------------------------------------------------------------------------

func (h *Handlers) ListCustomers(w http.ResponseWriter, r *http.Request) {
	st, ok := storeFrom(w, r)
	if !ok {
		return
	}
	handleList(st.ListCustomers)(w, r)
}

func (h *Handlers) GetCustomer(w http.ResponseWriter, r *http.Request) {
	st, ok := storeFrom(w, r)
	if !ok {
		return
	}
	handleGet(st.GetCustomer, "customer not found")(w, r)
}

func (h *Handlers) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	st, ok := storeFrom(w, r)
	if !ok {
		return
	}
	c, ok := readJSON[workshop.Customer](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if !requireField(w, c.Name, "name") {
		return
	}
	c.ID = ""
	stamp(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err := st.PutCustomer(r.Context(), &c); err != nil {
		writeDomainError(w, err, "customer creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handlers) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	st, ok := storeFrom(w, r)
	if !ok {
		return
	}
	existing, err := st.GetCustomer(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "customer not found")
		return
	}
	patch, ok := readJSON[workshop.Customer](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if patch.Name != "" {
		existing.Name = patch.Name
	}
	if patch.Email != "" {
		existing.Email = patch.Email
	}
	if patch.Phone != "" {
		existing.Phone = patch.Phone
	}
	stamp(&existing.ID, &existing.CreatedAt, &existing.UpdatedAt)
	if err := st.PutCustomer(r.Context(), existing); err != nil {
		writeDomainError(w, err, "customer update failed")
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (h *Handlers) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	st, ok := storeFrom(w, r)
	if !ok {
		return
	}
	handleDelete(st.DeleteCustomer, "customer not found")(w, r)
}

// ---------------------------------------------------------------------------
// Repairs
// ---------------------------------------------------------------------------

func (h *Handlers) ListCustomerRepairs(w http.ResponseWriter, r *http.Request) {
	st, ok := storeFrom(w, r)
	if !ok {
		return
	}
	handleListByParam("id", st.ListRepairs, "customer not found")(w, r)
}

func (h *Handlers) GetRepair(w http.ResponseWriter, r *http.Request) {
	st, ok := storeFrom(w, r)
	if !ok {
		return
	}
	handleGet(st.GetRepair, "repair not found")(w, r)
}

func validRepairStatus(s workshop.RepairStatus) bool {
	switch s {
	case workshop.RepairOpen, workshop.RepairInProcess, workshop.RepairDone, workshop.RepairDelivered:
		return true
	}
	return false
}

func (h *Handlers) CreateRepair(w http.ResponseWriter, r *http.Request) {
	st, ok := storeFrom(w, r)
	if !ok {
		return
	}
	rep, ok := readJSON[workshop.Repair](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if !requireField(w, rep.CustomerID, "customer_id") || !requireField(w, rep.Device, "device") {
		return
	}
	if rep.Status == "" {
		rep.Status = workshop.RepairOpen
	}
	if !validRepairStatus(rep.Status) {
		writeError(w, http.StatusBadRequest, "unknown repair status")
		return
	}
	rep.ID = ""
	stamp(&rep.ID, &rep.CreatedAt, &rep.UpdatedAt)
	if err := st.PutRepair(r.Context(), &rep); err != nil {
		writeDomainError(w, err, "repair creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func (h *Handlers) UpdateRepairStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := storeFrom(w, r)
	if !ok {
		return
	}
	existing, err := st.GetRepair(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "repair not found")
		return
	}
	req, ok := readJSON[struct {
		Status     workshop.RepairStatus `json:"status"`
		PriceCents *int64                `json:"price_cents"`
	}](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if !validRepairStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "unknown repair status")
		return
	}
	existing.Status = req.Status
	if req.PriceCents != nil {
		existing.PriceCents = *req.PriceCents
	}
	stamp(&existing.ID, &existing.CreatedAt, &existing.UpdatedAt)
	if err := st.PutRepair(r.Context(), existing); err != nil {
		writeDomainError(w, err, "repair update failed")
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (h *Handlers) DeleteRepair(w http.ResponseWriter, r *http.Request) {
	st, ok := storeFrom(w, r)
	if !ok {
		return
	}
	handleDelete(st.DeleteRepair, "repair not found")(w, r)
}

// ---------------------------------------------------------------------------
// Invoices
// ---------------------------------------------------------------------------

func (h *Handlers) ListCustomerInvoices(w http.ResponseWriter, r *http.Request) {
	st, ok := storeFrom(w, r)
	if !ok {
		return
	}
	handleListByParam("id", st.ListInvoices, "customer not found")(w, r)
}

func (h *Handlers) GetInvoice(w http.ResponseWriter, r *http.Request) {
	st, ok := storeFrom(w, r)
	if !ok {
		return
	}
	handleGet(st.GetInvoice, "invoice not found")(w, r)
}

func (h *Handlers) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	st, ok := storeFrom(w, r)
	if !ok {
		return
	}
	inv, ok := readJSON[workshop.Invoice](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if !requireField(w, inv.CustomerID, "customer_id") || !requireField(w, inv.Number, "number") {
		return
	}
	if inv.IssuedAt.IsZero() {
		inv.IssuedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	inv.ID = ""
	stamp(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err := st.PutInvoice(r.Context(), &inv); err != nil {
		writeDomainError(w, err, "invoice creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

func (h *Handlers) GetShopSettings(w http.ResponseWriter, r *http.Request) {
	st, ok := storeFrom(w, r)
	if !ok {
		return
	}
	s, err := st.GetSettings(r.Context())
	if err != nil {
		writeDomainError(w, err, "settings not found")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handlers) PutShopSettings(w http.ResponseWriter, r *http.Request) {
	st, ok := storeFrom(w, r)
	if !ok {
		return
	}
	s, ok := readJSON[workshop.Settings](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if s.Values == nil {
		s.Values = map[string]string{}
	}
	// Settings are a single row per shop; keep its identity stable.
	if existing, err := st.GetSettings(r.Context()); err == nil {
		s.ID = existing.ID
	}
	var created time.Time
	stamp(&s.ID, &created, &s.UpdatedAt)
	if err := st.PutSettings(r.Context(), &s); err != nil {
		writeDomainError(w, err, "settings update failed")
		return
	}
	writeJSON(w, http.StatusOK, s)
}
