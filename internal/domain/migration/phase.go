// Package migration defines the per-shop migration state model: the phase
// machine, the persisted migration record, backfill cursors, divergence
// records, and validation reports.
package migration

import "fmt"

// Phase represents where a shop currently sits in its migration from the
// legacy shared store to an isolated per-shop store. Phases are strictly
// ordered; no phase may be skipped forward. Failed is an escape hatch
// reachable from any non-terminal phase and left only by operator retry.
type Phase string

const (
	PhaseNotStarted    Phase = "not_started"
	PhaseProvisioning  Phase = "provisioning"
	PhaseDualWrite     Phase = "dual_write"
	PhaseBackfilling   Phase = "backfilling"
	PhaseValidating    Phase = "validating"
	PhaseReadCutover   Phase = "read_cutover"
	PhaseLegacyRetired Phase = "legacy_retired"
	PhaseFailed        Phase = "failed"
)

// phaseOrder maps each forward phase to its position in the pipeline.
var phaseOrder = map[Phase]int{
	PhaseNotStarted:    0,
	PhaseProvisioning:  1,
	PhaseDualWrite:     2,
	PhaseBackfilling:   3,
	PhaseValidating:    4,
	PhaseReadCutover:   5,
	PhaseLegacyRetired: 6,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := phaseOrder[p]
	return ok || p == PhaseFailed
}

// Terminal reports whether the migration is finished for this shop.
func (p Phase) Terminal() bool { return p == PhaseLegacyRetired }

// DualWrites reports whether mutations must be applied to both stores
// while the shop is in this phase.
func (p Phase) DualWrites() bool {
	return p == PhaseDualWrite || p == PhaseBackfilling || p == PhaseValidating
}

// TenantAuthoritative reports whether the isolated shop store is the source
// of truth. Before read cutover the legacy store is always authoritative.
func (p Phase) TenantAuthoritative() bool {
	return p == PhaseReadCutover || p == PhaseLegacyRetired
}

// Next returns the phase that follows p in the forward pipeline.
func (p Phase) Next() (Phase, bool) {
	switch p {
	case PhaseNotStarted:
		return PhaseProvisioning, true
	case PhaseProvisioning:
		return PhaseDualWrite, true
	case PhaseDualWrite:
		return PhaseBackfilling, true
	case PhaseBackfilling:
		return PhaseValidating, true
	case PhaseValidating:
		return PhaseReadCutover, true
	case PhaseReadCutover:
		return PhaseLegacyRetired, true
	default:
		return "", false
	}
}

// CanTransition reports whether moving from -> to is a legal transition:
// one forward step, any non-terminal phase -> Failed, or Failed back into
// the phase that failed (operator retry).
func CanTransition(from, to Phase) bool {
	if from == to {
		return false
	}
	if to == PhaseFailed {
		return from != PhaseLegacyRetired && from != PhaseFailed
	}
	if from == PhaseFailed {
		// Retry re-enters the phase that failed; which phase that was is
		// checked by the coordinator, which remembers it.
		return to.Valid() && to != PhaseFailed && to != PhaseLegacyRetired
	}
	next, ok := from.Next()
	return ok && next == to
}

// MustTransition validates from -> to and returns a descriptive error when
// the transition is illegal.
func MustTransition(from, to Phase) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal phase transition %s -> %s", from, to)
	}
	return nil
}
