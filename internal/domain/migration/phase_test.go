package migration

import (
	"testing"
	"time"
)

func TestPhaseForwardOrder(t *testing.T) {
	want := []Phase{
		PhaseNotStarted, PhaseProvisioning, PhaseDualWrite,
		PhaseBackfilling, PhaseValidating, PhaseReadCutover, PhaseLegacyRetired,
	}
	p := PhaseNotStarted
	for i := 1; i < len(want); i++ {
		next, ok := p.Next()
		if !ok {
			t.Fatalf("no next phase after %s", p)
		}
		if next != want[i] {
			t.Fatalf("after %s expected %s, got %s", p, want[i], next)
		}
		p = next
	}
	if _, ok := PhaseLegacyRetired.Next(); ok {
		t.Fatal("legacy_retired must be terminal")
	}
}

func TestCanTransitionRejectsSkips(t *testing.T) {
	cases := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseNotStarted, PhaseProvisioning, true},
		{PhaseNotStarted, PhaseDualWrite, false},
		{PhaseDualWrite, PhaseValidating, false},
		{PhaseValidating, PhaseReadCutover, true},
		{PhaseReadCutover, PhaseDualWrite, false},
		{PhaseBackfilling, PhaseFailed, true},
		{PhaseLegacyRetired, PhaseFailed, false},
		{PhaseFailed, PhaseProvisioning, true},
		{PhaseFailed, PhaseLegacyRetired, false},
		{PhaseFailed, PhaseFailed, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestDualWritePhases(t *testing.T) {
	for _, p := range []Phase{PhaseDualWrite, PhaseBackfilling, PhaseValidating} {
		if !p.DualWrites() {
			t.Errorf("%s should require dual writes", p)
		}
	}
	for _, p := range []Phase{PhaseNotStarted, PhaseProvisioning, PhaseReadCutover, PhaseLegacyRetired} {
		if p.DualWrites() {
			t.Errorf("%s should not require dual writes", p)
		}
	}
}

func TestRecordReadsFromTenant(t *testing.T) {
	r := &Record{Phase: PhaseValidating, ReadPath: ReadTenant}
	if r.ReadsFromTenant() {
		t.Fatal("reads must stay on legacy before cutover even if the flag is set")
	}

	r = &Record{Phase: PhaseReadCutover, ReadPath: ReadTenant}
	if !r.ReadsFromTenant() {
		t.Fatal("reads should hit the shop store after cutover")
	}

	// Rollback: flag flipped back while still in read_cutover.
	r.ReadPath = ReadLegacy
	if r.ReadsFromTenant() {
		t.Fatal("rollback must send reads back to legacy")
	}
}

func TestRecordEffectivePhase(t *testing.T) {
	r := &Record{Phase: PhaseFailed, FailedFrom: PhaseBackfilling}
	if got := r.EffectivePhase(); got != PhaseBackfilling {
		t.Fatalf("effective phase = %s, want %s", got, PhaseBackfilling)
	}
	if !r.EffectivePhase().DualWrites() {
		t.Fatal("a shop that failed mid-backfill must keep dual-writing")
	}
}

func TestReportClean(t *testing.T) {
	r := &Report{
		ShopID:      "s1",
		GeneratedAt: time.Now(),
		Tables: []TableResult{
			{Table: "customers", LegacyRows: 10, TenantRows: 10},
			{Table: "repairs", LegacyRows: 4, TenantRows: 4},
		},
	}
	if !r.Clean() {
		t.Fatal("matching counts and checksums should be clean")
	}

	r.Tables[1].TenantRows = 3
	if r.Clean() {
		t.Fatal("row count delta must dirty the report")
	}
	if r.MismatchCount() != 1 {
		t.Fatalf("mismatch count = %d, want 1", r.MismatchCount())
	}

	r.Tables[1].TenantRows = 4
	r.Tables[0].ChecksumMismatch = true
	if r.Clean() {
		t.Fatal("checksum mismatch must dirty the report")
	}
}
