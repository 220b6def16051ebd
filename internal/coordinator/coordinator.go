// Package coordinator owns the per-shop migration state machine. One
// worker goroutine per shop drives the phase pipeline; the coordinator is
// the only writer of migration records, which keeps transitions totally
// ordered per shop. Operator commands (pause, resume, rollback, retry)
// persist their effect first and then wake the worker.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fixwerk/shopshift/internal/config"
	"github.com/fixwerk/shopshift/internal/domain"
	"github.com/fixwerk/shopshift/internal/domain/migration"
	"github.com/fixwerk/shopshift/internal/port/messagequeue"
	"github.com/fixwerk/shopshift/internal/resilience"
	"github.com/fixwerk/shopshift/internal/syncer"
)

// ErrPaused is returned from inside a phase step when the shop's paused
// flag is set; the worker parks at the boundary it reached.
var ErrPaused = errors.New("migration paused")

// errAwaitOperator parks the worker until an operator command arrives.
var errAwaitOperator = errors.New("awaiting operator command")

// State is the slice of the control-plane store the coordinator needs.
type State interface {
	GetMigration(ctx context.Context, shopID string) (*migration.Record, error)
	CreateMigration(ctx context.Context, shopID string) (*migration.Record, error)
	ListMigrations(ctx context.Context) ([]migration.Record, error)
	UpdatePhase(ctx context.Context, shopID string, from, to migration.Phase, failedFrom migration.Phase) error
	SetCutoverAt(ctx context.Context, shopID string, set bool) error
	SetPaused(ctx context.Context, shopID string, paused bool) error
	SetLastError(ctx context.Context, shopID, msg string) error
	SetCleanValidations(ctx context.Context, shopID string, n int) error
	SaveReport(ctx context.Context, rep *migration.Report) error
	CountDivergence(ctx context.Context, shopID string) (int, error)
}

// Provisioner creates isolated shop stores.
type Provisioner interface {
	Provision(ctx context.Context, shopID string) (string, error)
}

// Synchronizer backfills and drains divergence queues.
type Synchronizer interface {
	Backfill(ctx context.Context, shopID string, gate syncer.Gate) error
	Drain(ctx context.Context, shopID string) (int, error)
	Converged(ctx context.Context, shopID string) (bool, error)
}

// Validator compares the two stores of a shop.
type Validator interface {
	Validate(ctx context.Context, shopID string) (*migration.Report, error)
}

// Switcher flips the read path and invalidates routing caches.
type Switcher interface {
	SwitchReads(ctx context.Context, shopID string, target migration.ReadPath) error
	Invalidate(shopID string)
}

// Retirer purges retired shops from the legacy store.
type Retirer interface {
	Retire(ctx context.Context, shopID string) (int64, error)
}

// Notifier pushes coordinator events to connected dashboards. May be nil.
type Notifier interface {
	Notify(event string, payload any)
}

// Recorder counts coordinator outcomes for telemetry. May be nil.
type Recorder interface {
	PhaseTransition(ctx context.Context, shopID string, from, to migration.Phase)
	ValidationOutcome(ctx context.Context, shopID string, clean bool)
}

// Deps carries the coordinator's collaborators.
type Deps struct {
	Cfg              config.Coordinator
	ValidateInterval time.Duration
	State            State
	Provisioner      Provisioner
	Sync             Synchronizer
	Validator        Validator
	Switcher         Switcher
	Retirer          Retirer
	Queue            messagequeue.Queue // may be nil
	Notifier         Notifier           // may be nil
	Metrics          Recorder           // may be nil
	Log              *slog.Logger
}

// Coordinator drives every shop's migration.
type Coordinator struct {
	d     Deps
	retry resilience.RetryPolicy
	clock func() time.Time
	log   *slog.Logger

	mu      sync.Mutex
	workers map[string]*worker
	g       *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a Coordinator.
func New(d Deps) *Coordinator {
	return &Coordinator{
		d: d,
		retry: resilience.RetryPolicy{
			Attempts: d.Cfg.RetryAttempts,
			Base:     d.Cfg.RetryBase,
			Cap:      d.Cfg.RetryCap,
		},
		clock:   time.Now,
		log:     d.Log.With("component", "coordinator"),
		workers: make(map[string]*worker),
	}
}

// Start recovers workers for every unfinished migration and begins
// processing. The passed context bounds the life of all workers.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.g, c.ctx = errgroup.WithContext(c.ctx)
	c.mu.Unlock()

	recs, err := c.d.State.ListMigrations(ctx)
	if err != nil {
		return fmt.Errorf("recover migrations: %w", err)
	}
	for _, rec := range recs {
		if rec.Phase.Terminal() {
			continue
		}
		c.ensureWorker(rec.ShopID)
		c.log.Info("recovered migration worker", "shop_id", rec.ShopID, "phase", string(rec.Phase))
	}
	return nil
}

// Stop cancels all workers and waits for them to park.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel, g := c.cancel, c.g
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if g != nil {
		_ = g.Wait()
	}
}

// ensureWorker starts the shop's worker goroutine if it is not running.
func (c *Coordinator) ensureWorker(shopID string) *worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.workers[shopID]; ok {
		return w
	}
	w := newWorker(shopID)
	c.workers[shopID] = w
	ctx := c.ctx
	c.g.Go(func() error {
		defer c.dropWorker(shopID)
		return c.run(ctx, w)
	})
	return w
}

func (c *Coordinator) dropWorker(shopID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.workers, shopID)
}

func (c *Coordinator) wake(shopID string) {
	c.mu.Lock()
	w, ok := c.workers[shopID]
	c.mu.Unlock()
	if ok {
		w.notify()
	}
}

// Advance starts (or resumes driving) a shop's migration. For a shop with
// no record yet, the record is created in NotStarted first. For a shop
// whose cutover was rolled back, Advance re-executes the cutover.
// Re-issuing Advance on a running migration is a no-op.
func (c *Coordinator) Advance(ctx context.Context, shopID string) error {
	rec, err := c.d.State.GetMigration(ctx, shopID)
	if errors.Is(err, domain.ErrNotFound) {
		rec, err = c.d.State.CreateMigration(ctx, shopID)
	}
	if err != nil {
		return fmt.Errorf("advance shop %s: %w", shopID, err)
	}
	if rec.Phase.Terminal() {
		return nil
	}

	if rec.Phase == migration.PhaseReadCutover && !rec.ReadsFromTenant() {
		if err := c.recutover(ctx, shopID); err != nil {
			return err
		}
	}

	c.ensureWorker(shopID)
	c.wake(shopID)
	return nil
}

// recutover re-enters cutover after an operator rollback: reads flip back
// to the shop store and the stability window restarts from zero.
func (c *Coordinator) recutover(ctx context.Context, shopID string) error {
	if err := c.d.Switcher.SwitchReads(ctx, shopID, migration.ReadTenant); err != nil {
		return fmt.Errorf("advance shop %s: %w", shopID, err)
	}
	if err := c.d.State.SetCutoverAt(ctx, shopID, true); err != nil {
		return fmt.Errorf("advance shop %s: %w", shopID, err)
	}
	c.d.Switcher.Invalidate(shopID)
	c.log.Info("cutover re-entered", "shop_id", shopID)
	return nil
}

// Pause stops the shop's pipeline at the next phase boundary or backfill
// batch. The persisted cursor keeps the exact resume position.
func (c *Coordinator) Pause(ctx context.Context, shopID string) error {
	if err := c.d.State.SetPaused(ctx, shopID, true); err != nil {
		return fmt.Errorf("pause shop %s: %w", shopID, err)
	}
	c.d.Switcher.Invalidate(shopID)
	c.wake(shopID)
	c.log.Info("migration paused", "shop_id", shopID)
	return nil
}

// Resume clears the paused flag and wakes the worker.
func (c *Coordinator) Resume(ctx context.Context, shopID string) error {
	if err := c.d.State.SetPaused(ctx, shopID, false); err != nil {
		return fmt.Errorf("resume shop %s: %w", shopID, err)
	}
	c.d.Switcher.Invalidate(shopID)
	c.ensureWorker(shopID)
	c.wake(shopID)
	c.log.Info("migration resumed", "shop_id", shopID)
	return nil
}

// Rollback flips a cutover shop's reads back to the legacy store. The
// shop stays in ReadCutover with its stability window cleared; retirement
// cannot happen until an operator re-advances and a fresh window elapses.
func (c *Coordinator) Rollback(ctx context.Context, shopID string) error {
	rec, err := c.d.State.GetMigration(ctx, shopID)
	if err != nil {
		return fmt.Errorf("rollback shop %s: %w", shopID, err)
	}
	if rec.Phase == migration.PhaseLegacyRetired {
		return fmt.Errorf("rollback shop %s: legacy store already retired: %w", shopID, domain.ErrPhaseTransition)
	}
	if rec.Phase != migration.PhaseReadCutover {
		return fmt.Errorf("rollback shop %s: phase %s has nothing to roll back: %w",
			shopID, rec.Phase, domain.ErrPhaseTransition)
	}

	if err := c.d.Switcher.SwitchReads(ctx, shopID, migration.ReadLegacy); err != nil {
		return fmt.Errorf("rollback shop %s: %w", shopID, err)
	}
	if err := c.d.State.SetCutoverAt(ctx, shopID, false); err != nil {
		return fmt.Errorf("rollback shop %s: %w", shopID, err)
	}
	c.d.Switcher.Invalidate(shopID)
	c.wake(shopID)
	c.log.Warn("read path rolled back to legacy", "shop_id", shopID)
	return nil
}

// Retry re-enters the phase a failed shop failed from. Only valid from
// Failed; the re-entered phase re-executes idempotently in full.
func (c *Coordinator) Retry(ctx context.Context, shopID string) error {
	rec, err := c.d.State.GetMigration(ctx, shopID)
	if err != nil {
		return fmt.Errorf("retry shop %s: %w", shopID, err)
	}
	if rec.Phase != migration.PhaseFailed {
		return fmt.Errorf("retry shop %s: phase is %s, not failed: %w",
			shopID, rec.Phase, domain.ErrPhaseTransition)
	}
	target := rec.FailedFrom
	if target == "" {
		target = migration.PhaseNotStarted
	}

	if err := c.d.State.UpdatePhase(ctx, shopID, migration.PhaseFailed, target, ""); err != nil {
		return fmt.Errorf("retry shop %s: %w", shopID, err)
	}
	if err := c.d.State.SetLastError(ctx, shopID, ""); err != nil {
		return fmt.Errorf("retry shop %s: %w", shopID, err)
	}
	c.d.Switcher.Invalidate(shopID)
	c.announce(ctx, shopID, migration.PhaseFailed, target)
	c.ensureWorker(shopID)
	c.wake(shopID)
	c.log.Info("failed migration retried", "shop_id", shopID, "phase", string(target))
	return nil
}

// Status returns a shop's migration record and pending divergence count.
func (c *Coordinator) Status(ctx context.Context, shopID string) (*migration.Record, int, error) {
	rec, err := c.d.State.GetMigration(ctx, shopID)
	if err != nil {
		return nil, 0, err
	}
	n, err := c.d.State.CountDivergence(ctx, shopID)
	if err != nil {
		return nil, 0, err
	}
	return rec, n, nil
}

// opCtx bounds one store or adapter call with the configured operation
// timeout, so a hung query fails the attempt instead of wedging the
// shop's worker. A zero timeout leaves the caller's context untouched.
func (c *Coordinator) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.d.Cfg.OpTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.d.Cfg.OpTimeout)
}

// transition performs one validated, CAS-guarded phase move and announces it.
func (c *Coordinator) transition(ctx context.Context, shopID string, from, to migration.Phase) error {
	if err := migration.MustTransition(from, to); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPhaseTransition, err)
	}
	opctx, cancel := c.opCtx(ctx)
	err := c.d.State.UpdatePhase(opctx, shopID, from, to, "")
	cancel()
	if err != nil {
		return err
	}
	c.d.Switcher.Invalidate(shopID)
	c.announce(ctx, shopID, from, to)
	c.log.Info("phase transition", "shop_id", shopID, "from", string(from), "to", string(to))
	return nil
}

// fail records an unrecoverable step error and parks the shop in Failed.
func (c *Coordinator) fail(ctx context.Context, shopID string, from migration.Phase, cause error) {
	c.log.Error("phase step failed", "shop_id", shopID, "phase", string(from), "error", cause)

	opctx, cancel := c.opCtx(ctx)
	defer cancel()
	if err := c.d.State.UpdatePhase(opctx, shopID, from, migration.PhaseFailed, from); err != nil {
		c.log.Error("record failure state", "shop_id", shopID, "error", err)
		return
	}
	if err := c.d.State.SetLastError(opctx, shopID, cause.Error()); err != nil {
		c.log.Error("record failure reason", "shop_id", shopID, "error", err)
	}
	c.d.Switcher.Invalidate(shopID)
	c.announce(ctx, shopID, from, migration.PhaseFailed)
}

func (c *Coordinator) announce(ctx context.Context, shopID string, from, to migration.Phase) {
	if c.d.Metrics != nil {
		c.d.Metrics.PhaseTransition(ctx, shopID, from, to)
	}
	ev := messagequeue.PhaseChangedEvent{ShopID: shopID, From: string(from), To: string(to)}
	if c.d.Notifier != nil {
		c.d.Notifier.Notify(messagequeue.EventPhaseChanged, ev)
	}
	if c.d.Queue == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	subject := fmt.Sprintf("%s.%s", messagequeue.SubjectPhaseChanged, shopID)
	if err := c.d.Queue.Publish(ctx, subject, data); err != nil {
		c.log.Warn("publish phase event failed", "shop_id", shopID, "error", err)
	}
}

// gate is checked between backfill batches and validation passes.
func (c *Coordinator) gate(shopID string) syncer.Gate {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		opctx, cancel := c.opCtx(ctx)
		rec, err := c.d.State.GetMigration(opctx, shopID)
		cancel()
		if err != nil {
			return err
		}
		if rec.Paused {
			return ErrPaused
		}
		return nil
	}
}
