package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
//
// Admin routes (/api/v1/...) drive the migration control plane and are
// shop-agnostic. App routes (/app/v1/...) carry workshop traffic; they
// pass through resolveShop, which binds the store the shop's migration
// phase routes to.
func MountRoutes(r chi.Router, h *Handlers, resolveShop func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Shops
		r.Get("/shops", h.ListShops)
		r.Post("/shops", h.CreateShop)
		r.Get("/shops/{id}", h.GetShop)

		// Migration control per shop
		r.Get("/shops/{id}/migration", h.GetMigration)
		r.Post("/shops/{id}/migration/advance", h.AdvanceMigration)
		r.Post("/shops/{id}/migration/pause", h.PauseMigration)
		r.Post("/shops/{id}/migration/resume", h.ResumeMigration)
		r.Post("/shops/{id}/migration/rollback", h.RollbackMigration)
		r.Post("/shops/{id}/migration/retry", h.RetryMigration)
		r.Get("/shops/{id}/migration/reports", h.ListReports)

		// Fleet overview
		r.Get("/migrations", h.ListMigrations)
		r.Get("/health/stores", h.StoreHealth)

		// Shop groups
		r.Get("/groups", h.ListGroups)
		r.Post("/groups", h.CreateGroup)
		r.Get("/groups/{id}", h.GetGroup)
		r.Post("/groups/{id}/shops", h.AddGroupMember)
		r.Post("/groups/{id}/advance", h.AdvanceGroup)
	})

	// Workshop traffic, routed by migration phase.
	r.Route("/app/v1", func(r chi.Router) {
		r.Use(resolveShop)

		r.Get("/customers", h.ListCustomers)
		r.Post("/customers", h.CreateCustomer)
		r.Get("/customers/{id}", h.GetCustomer)
		r.Put("/customers/{id}", h.UpdateCustomer)
		r.Delete("/customers/{id}", h.DeleteCustomer)
		r.Get("/customers/{id}/repairs", h.ListCustomerRepairs)
		r.Get("/customers/{id}/invoices", h.ListCustomerInvoices)

		r.Post("/repairs", h.CreateRepair)
		r.Get("/repairs/{id}", h.GetRepair)
		r.Put("/repairs/{id}/status", h.UpdateRepairStatus)
		r.Delete("/repairs/{id}", h.DeleteRepair)

		r.Post("/invoices", h.CreateInvoice)
		r.Get("/invoices/{id}", h.GetInvoice)

		r.Get("/settings", h.GetShopSettings)
		r.Put("/settings", h.PutShopSettings)
	})

	// Liveness and real-time events.
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.Hub != nil {
		r.Get("/ws", h.Hub.HandleWS)
	}
}
