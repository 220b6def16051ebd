package migration

import "time"

// ReadPath names which store currently answers reads for a shop.
type ReadPath string

const (
	ReadLegacy ReadPath = "legacy"
	ReadTenant ReadPath = "tenant"
)

// Record is the per-shop migration state persisted in the control store.
// It is owned exclusively by the coordinator; every other component reads
// it, none but the coordinator writes it.
type Record struct {
	ShopID           string     `json:"shop_id"`
	Phase            Phase      `json:"phase"`
	FailedFrom       Phase      `json:"failed_from,omitempty"` // phase to re-enter on retry
	ReadPath         ReadPath   `json:"read_path"`
	TenantDSN        string     `json:"tenant_dsn,omitempty"` // empty until provisioned
	Paused           bool       `json:"paused"`
	CleanValidations int        `json:"clean_validations"`
	CutoverAt        *time.Time `json:"cutover_at,omitempty"` // start of the stability window
	LastError        string     `json:"last_error,omitempty"`
	LastReport       *Report    `json:"last_report,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// EffectivePhase returns the phase that governs routing behavior: for a
// failed shop that is the phase it failed from, so traffic keeps flowing
// the way it did before the failure.
func (r *Record) EffectivePhase() Phase {
	if r.Phase == PhaseFailed && r.FailedFrom != "" {
		return r.FailedFrom
	}
	return r.Phase
}

// ReadsFromTenant reports whether reads for this shop should hit the
// isolated store right now. The read path flag only takes effect once the
// shop has reached cutover; before that legacy always answers reads.
func (r *Record) ReadsFromTenant() bool {
	return r.EffectivePhase().TenantAuthoritative() && r.ReadPath == ReadTenant
}
