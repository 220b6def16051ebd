package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fixwerk/shopshift/internal/domain/migration"
	"github.com/fixwerk/shopshift/internal/port/messagequeue"
	"github.com/fixwerk/shopshift/internal/resilience"
)

// worker is the single driver of one shop's phase machine.
type worker struct {
	shopID string
	wakeCh chan struct{}
}

func newWorker(shopID string) *worker {
	return &worker{shopID: shopID, wakeCh: make(chan struct{}, 1)}
}

// notify wakes the worker without blocking; a pending wakeup coalesces.
func (w *worker) notify() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

// wait parks until a command arrives. Returns false when ctx is done.
func (w *worker) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-w.wakeCh:
		return true
	}
}

// sleep waits up to d, returning early on a command. Returns false when
// ctx is done.
func (w *worker) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-w.wakeCh:
		return true
	case <-t.C:
		return true
	}
}

// run loops a shop through its phases until the migration is terminal,
// parked in Failed, or the coordinator shuts down.
func (c *Coordinator) run(ctx context.Context, w *worker) error {
	log := c.log.With("shop_id", w.shopID)

	for {
		if ctx.Err() != nil {
			return nil
		}

		opctx, cancel := c.opCtx(ctx)
		rec, err := c.d.State.GetMigration(opctx, w.shopID)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("read migration record", "error", err)
			if !w.sleep(ctx, c.retry.Base) {
				return nil
			}
			continue
		}

		switch {
		case rec.Phase.Terminal():
			log.Info("migration complete")
			return nil
		case rec.Phase == migration.PhaseFailed:
			if !w.wait(ctx) {
				return nil
			}
			continue
		case rec.Paused:
			if !w.wait(ctx) {
				return nil
			}
			continue
		}

		if err := c.step(ctx, w, rec); err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, ErrPaused):
				// Loop back; the paused branch parks at the boundary.
			case errors.Is(err, errAwaitOperator):
				if !w.wait(ctx) {
					return nil
				}
			default:
				c.fail(ctx, w.shopID, rec.Phase, err)
			}
		}
	}
}

// step executes the work of the shop's current phase and, when that work
// completes, the transition out of it. Every step is idempotent; a crash
// at any point re-executes the phase from its persisted position.
func (c *Coordinator) step(ctx context.Context, w *worker, rec *migration.Record) error {
	switch rec.Phase {
	case migration.PhaseNotStarted:
		return c.transition(ctx, w.shopID, migration.PhaseNotStarted, migration.PhaseProvisioning)

	case migration.PhaseProvisioning:
		err := c.retry.Do(ctx, func(ctx context.Context) error {
			ctx, cancel := c.opCtx(ctx)
			defer cancel()
			_, err := c.d.Provisioner.Provision(ctx, w.shopID)
			return err
		})
		if err != nil {
			return err
		}
		return c.transition(ctx, w.shopID, migration.PhaseProvisioning, migration.PhaseDualWrite)

	case migration.PhaseDualWrite:
		// Dual writes are a property of the phase itself; the router starts
		// mirroring as soon as the record says so. Nothing to wait for.
		return c.transition(ctx, w.shopID, migration.PhaseDualWrite, migration.PhaseBackfilling)

	case migration.PhaseBackfilling:
		if err := c.backfill(ctx, w); err != nil {
			return err
		}
		return c.transition(ctx, w.shopID, migration.PhaseBackfilling, migration.PhaseValidating)

	case migration.PhaseValidating:
		if err := c.validateUntilClean(ctx, w, rec.CleanValidations); err != nil {
			return err
		}
		if err := c.transition(ctx, w.shopID, migration.PhaseValidating, migration.PhaseReadCutover); err != nil {
			return err
		}
		return c.cutover(ctx, w.shopID)

	case migration.PhaseReadCutover:
		return c.holdStabilityWindow(ctx, w, rec)

	default:
		return fmt.Errorf("unexpected phase %s", rec.Phase)
	}
}

// backfill copies all tables and then drains the divergence queue until
// the shop is converged.
func (c *Coordinator) backfill(ctx context.Context, w *worker) error {
	gate := c.gate(w.shopID)

	// Backfill runs as long as the data set demands; each of its
	// cursor-resumed batches carries its own operation timeout.
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		err := c.d.Sync.Backfill(ctx, w.shopID, gate)
		if errors.Is(err, ErrPaused) {
			return resilience.Permanent(err)
		}
		return err
	})
	if err != nil {
		return err
	}

	stalls := 0
	for {
		if err := gate(ctx); err != nil {
			return err
		}

		opctx, cancel := c.opCtx(ctx)
		n, err := c.d.Sync.Drain(opctx, w.shopID)
		if err != nil {
			cancel()
			return err
		}
		converged, err := c.d.Sync.Converged(opctx, w.shopID)
		cancel()
		if err != nil {
			return err
		}
		if converged {
			return nil
		}

		if n == 0 {
			stalls++
			if stalls >= c.retry.Attempts {
				return fmt.Errorf("divergence queue for shop %s is not draining", w.shopID)
			}
		} else {
			stalls = 0
		}
		if !w.sleep(ctx, c.retry.Base) {
			return ctx.Err()
		}
	}
}

// validateUntilClean runs validation passes until the configured number of
// consecutive clean reports is reached. A dirty report, or divergence
// arriving between reports, resets the counter without reverting the
// phase.
func (c *Coordinator) validateUntilClean(ctx context.Context, w *worker, count int) error {
	gate := c.gate(w.shopID)

	for {
		if err := gate(ctx); err != nil {
			return err
		}

		// Pick up any divergence produced since the last pass.
		drainCtx, cancel := c.opCtx(ctx)
		if _, err := c.d.Sync.Drain(drainCtx, w.shopID); err != nil {
			c.log.Warn("pre-validation drain failed", "shop_id", w.shopID, "error", err)
		}
		cancel()

		var rep *migration.Report
		err := c.retry.Do(ctx, func(ctx context.Context) error {
			ctx, cancel := c.opCtx(ctx)
			defer cancel()
			var err error
			rep, err = c.d.Validator.Validate(ctx, w.shopID)
			return err
		})
		if err != nil {
			return err
		}
		opctx, cancel := c.opCtx(ctx)
		err = c.d.State.SaveReport(opctx, rep)
		cancel()
		if err != nil {
			return err
		}

		clean := rep.Clean()
		if clean {
			opctx, cancel := c.opCtx(ctx)
			converged, err := c.d.Sync.Converged(opctx, w.shopID)
			cancel()
			if err != nil {
				return err
			}
			if converged {
				count++
			} else {
				// A clean snapshot with divergence pending is a race, not
				// confidence.
				count = 0
			}
		} else {
			count = 0
		}

		if c.d.Metrics != nil {
			c.d.Metrics.ValidationOutcome(ctx, w.shopID, clean)
		}
		if c.d.Notifier != nil {
			c.d.Notifier.Notify(messagequeue.EventValidation, rep)
		}
		opctx, cancel = c.opCtx(ctx)
		err = c.d.State.SetCleanValidations(opctx, w.shopID, count)
		cancel()
		if err != nil {
			return err
		}

		if count >= c.d.Cfg.CleanValidations {
			return nil
		}
		if !w.sleep(ctx, c.d.ValidateInterval) {
			return ctx.Err()
		}
	}
}

// cutover flips reads to the shop store and starts the stability window.
func (c *Coordinator) cutover(ctx context.Context, shopID string) error {
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := c.opCtx(ctx)
		defer cancel()
		return c.d.Switcher.SwitchReads(ctx, shopID, migration.ReadTenant)
	})
	if err != nil {
		return err
	}
	opctx, cancel := c.opCtx(ctx)
	err = c.d.State.SetCutoverAt(opctx, shopID, true)
	cancel()
	if err != nil {
		return err
	}
	c.d.Switcher.Invalidate(shopID)
	return nil
}

// holdStabilityWindow keeps the shop in ReadCutover until the window has
// elapsed without interruption, then retires the legacy rows. A rollback
// clears the window start; the worker then parks until the operator
// re-advances. New divergence during the window restarts it.
func (c *Coordinator) holdStabilityWindow(ctx context.Context, w *worker, rec *migration.Record) error {
	opctx, cancel := c.opCtx(ctx)
	defer cancel()

	if !rec.ReadsFromTenant() || rec.CutoverAt == nil {
		if rec.CutoverAt == nil && rec.ReadsFromTenant() {
			// Crash between SwitchReads and SetCutoverAt; restart the window.
			return c.d.State.SetCutoverAt(opctx, w.shopID, true)
		}
		return errAwaitOperator
	}

	pending, err := c.d.State.CountDivergence(opctx, w.shopID)
	if err != nil {
		return err
	}
	if pending > 0 {
		c.log.Warn("divergence during stability window, restarting it",
			"shop_id", w.shopID, "pending", pending)
		if _, err := c.d.Sync.Drain(opctx, w.shopID); err != nil {
			return err
		}
		return c.d.State.SetCutoverAt(opctx, w.shopID, true)
	}

	remaining := rec.CutoverAt.Add(c.d.Cfg.StabilityWindow).Sub(c.clock())
	if remaining > 0 {
		// Sleep in bounded slices so commands and new divergence are seen.
		slice := min(remaining, time.Minute)
		if !w.sleep(ctx, slice) {
			return ctx.Err()
		}
		return nil
	}

	var purged int64
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := c.opCtx(ctx)
		defer cancel()
		var err error
		purged, err = c.d.Retirer.Retire(ctx, w.shopID)
		return err
	})
	if err != nil {
		return err
	}
	c.log.Info("stability window held, legacy retired", "shop_id", w.shopID, "rows", purged)

	return c.transition(ctx, w.shopID, migration.PhaseReadCutover, migration.PhaseLegacyRetired)
}
