// Package syncer moves data from the legacy shared store into isolated
// shop stores: the cursor-resumed backfill copy and the replay of queued
// divergence records. Both operations are idempotent row upserts, so a
// crash mid-batch costs at most one re-copied batch.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fixwerk/shopshift/internal/adapter/otel"
	"github.com/fixwerk/shopshift/internal/config"
	"github.com/fixwerk/shopshift/internal/domain"
	"github.com/fixwerk/shopshift/internal/domain/migration"
	"github.com/fixwerk/shopshift/internal/port/messagequeue"
	"github.com/fixwerk/shopshift/internal/schema"
)

// State is the slice of the control-plane store the syncer needs.
type State interface {
	GetCursor(ctx context.Context, shopID, table string) (*migration.SyncCursor, error)
	SaveCursor(ctx context.Context, cur *migration.SyncCursor) error
	DequeueDivergence(ctx context.Context, shopID string, limit int) ([]migration.DivergenceRecord, error)
	ResolveDivergence(ctx context.Context, id string) error
	RequeueDivergence(ctx context.Context, id string) error
	CountDivergence(ctx context.Context, shopID string) (int, error)
}

// Source opens raw table access to a shop's stores.
type Source interface {
	Legacy(ctx context.Context, shopID string) (TableReader, func(), error)
	Tenant(ctx context.Context, shopID string) (TableWriter, func(), error)
}

// Recorder counts copied rows for telemetry. May be nil.
type Recorder interface {
	BackfillCopied(ctx context.Context, shopID, table string, rows int)
}

// Notifier pushes backfill progress to connected dashboards. May be nil.
type Notifier interface {
	Notify(event string, payload any)
}

// Gate is called between batches; returning an error stops the backfill
// at a batch boundary. The coordinator uses it to implement pause.
type Gate func(ctx context.Context) error

// Syncer copies legacy rows into isolated stores and replays divergences.
type Syncer struct {
	cfg      config.Sync
	state    State
	src      Source
	queue    messagequeue.Queue // may be nil
	metrics  Recorder           // may be nil
	notifier Notifier           // may be nil
	log      *slog.Logger
}

// New creates a Syncer.
func New(cfg config.Sync, state State, src Source, queue messagequeue.Queue,
	metrics Recorder, notifier Notifier, log *slog.Logger) *Syncer {
	return &Syncer{
		cfg:      cfg,
		state:    state,
		src:      src,
		queue:    queue,
		metrics:  metrics,
		notifier: notifier,
		log:      log.With("component", "syncer"),
	}
}

// opCtx bounds one batch copy or replay with the configured operation
// timeout. A zero timeout leaves the caller's context untouched.
func (s *Syncer) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.OpTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.OpTimeout)
}

// Backfill copies every workshop table for one shop, resuming from the
// persisted cursor. It returns once all tables are caught up to the rows
// that existed when their last batch was read; rows written after that
// are covered by dual writes.
func (s *Syncer) Backfill(ctx context.Context, shopID string, gate Gate) error {
	for _, t := range schema.Tables() {
		if err := s.backfillTable(ctx, shopID, t, gate); err != nil {
			return fmt.Errorf("backfill %s for shop %s: %w", t.Name, shopID, err)
		}
	}
	return nil
}

func (s *Syncer) backfillTable(ctx context.Context, shopID string, t schema.Table, gate Gate) error {
	ctx, span := otel.StartBackfillSpan(ctx, shopID, t.Name)
	defer span.End()

	curCtx, cancel := s.opCtx(ctx)
	cur, err := s.state.GetCursor(curCtx, shopID, t.Name)
	cancel()
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		cur = &migration.SyncCursor{ShopID: shopID, Table: t.Name}
	}

	legacy, releaseLegacy, err := s.src.Legacy(ctx, shopID)
	if err != nil {
		return err
	}
	defer releaseLegacy()
	tenant, releaseTenant, err := s.src.Tenant(ctx, shopID)
	if err != nil {
		return err
	}
	defer releaseTenant()

	for {
		if gate != nil {
			if err := gate(ctx); err != nil {
				return err
			}
		}

		copied, err := s.copyBatch(ctx, shopID, t, legacy, tenant, cur)
		if err != nil {
			return err
		}
		if copied < s.cfg.BatchSize {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.BatchInterval):
		}
	}
}

// copyBatch reads one batch from the legacy store, upserts it into the
// tenant store, and advances the persisted cursor. The whole batch runs
// under one operation-timeout context so a hung query cannot stall the
// shop's worker indefinitely.
func (s *Syncer) copyBatch(ctx context.Context, shopID string, t schema.Table,
	legacy TableReader, tenant TableWriter, cur *migration.SyncCursor) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := legacy.ReadBatch(ctx, t, cur.LastKey, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		if err := tenant.WriteRow(ctx, t, row); err != nil {
			return 0, err
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}

	key, err := rowKey(t, rows[len(rows)-1])
	if err != nil {
		return 0, err
	}
	cur.LastKey = key
	cur.LastUpdatedAt = time.Now().UTC()
	if err := s.state.SaveCursor(ctx, cur); err != nil {
		return 0, err
	}

	s.log.Debug("backfill batch copied", "shop_id", shopID, "table", t.Name,
		"rows", len(rows), "last_key", key)
	if s.metrics != nil {
		s.metrics.BackfillCopied(ctx, shopID, t.Name, len(rows))
	}
	s.publishProgress(ctx, shopID, t.Name, len(rows))
	return len(rows), nil
}

// Drain replays queued divergence records for one shop: the current legacy
// row wins, a vanished legacy row becomes a delete. It returns how many
// records were resolved; failed replays go back on the queue.
func (s *Syncer) Drain(ctx context.Context, shopID string) (int, error) {
	deqCtx, cancel := s.opCtx(ctx)
	recs, err := s.state.DequeueDivergence(deqCtx, shopID, s.cfg.DrainBatch)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("drain shop %s: %w", shopID, err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	legacy, releaseLegacy, err := s.src.Legacy(ctx, shopID)
	if err != nil {
		s.requeueAll(ctx, recs)
		return 0, fmt.Errorf("drain shop %s: %w", shopID, err)
	}
	defer releaseLegacy()
	tenant, releaseTenant, err := s.src.Tenant(ctx, shopID)
	if err != nil {
		s.requeueAll(ctx, recs)
		return 0, fmt.Errorf("drain shop %s: %w", shopID, err)
	}
	defer releaseTenant()

	resolved := 0
	for _, rec := range recs {
		if err := s.replay(ctx, legacy, tenant, rec); err != nil {
			s.log.Warn("divergence replay failed", "shop_id", shopID,
				"table", rec.Table, "key", rec.Key, "retries", rec.Retries, "error", err)
			if err := s.state.RequeueDivergence(ctx, rec.ID); err != nil {
				s.log.Error("requeue divergence failed", "id", rec.ID, "error", err)
			}
			continue
		}
		if err := s.state.ResolveDivergence(ctx, rec.ID); err != nil {
			return resolved, fmt.Errorf("resolve divergence %s: %w", rec.ID, err)
		}
		resolved++
	}
	return resolved, nil
}

func (s *Syncer) replay(ctx context.Context, legacy TableReader, tenant TableWriter, rec migration.DivergenceRecord) error {
	t, ok := schema.TableByName(rec.Table)
	if !ok {
		return fmt.Errorf("unknown table %s", rec.Table)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row, err := legacy.ReadRow(ctx, t, rec.Key)
	if err != nil {
		return err
	}
	if row == nil {
		// The legacy row is gone, so the divergence was a missed delete.
		return tenant.DeleteRow(ctx, t, rec.Key)
	}
	return tenant.WriteRow(ctx, t, row)
}

func (s *Syncer) requeueAll(ctx context.Context, recs []migration.DivergenceRecord) {
	for _, rec := range recs {
		if err := s.state.RequeueDivergence(ctx, rec.ID); err != nil {
			s.log.Error("requeue divergence failed", "id", rec.ID, "error", err)
		}
	}
}

// Converged reports whether a shop has no pending divergence records.
func (s *Syncer) Converged(ctx context.Context, shopID string) (bool, error) {
	n, err := s.state.CountDivergence(ctx, shopID)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// SubscribeDivergence drains a shop's queue whenever the dual-write proxy
// announces a new divergence, so replay latency is not bounded by the
// coordinator's polling interval.
func (s *Syncer) SubscribeDivergence(ctx context.Context) (func(), error) {
	if s.queue == nil {
		return func() {}, nil
	}
	subject := messagequeue.SubjectDivergence + ".>"
	return s.queue.Subscribe(ctx, subject, func(_ string, data []byte) error {
		var ev messagequeue.DivergenceEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode divergence event: %w", err)
		}
		if _, err := s.Drain(ctx, ev.ShopID); err != nil {
			return err
		}
		return nil
	})
}

func (s *Syncer) publishProgress(ctx context.Context, shopID, table string, rows int) {
	ev := messagequeue.BackfillProgressEvent{ShopID: shopID, Table: table, Rows: rows}
	if s.notifier != nil {
		s.notifier.Notify(messagequeue.EventBackfill, ev)
	}
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	subject := fmt.Sprintf("%s.%s", messagequeue.SubjectBackfillProgress, shopID)
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		s.log.Warn("publish backfill progress failed", "error", err)
	}
}

// rowKey extracts the key column value from a descriptor-ordered row.
func rowKey(t schema.Table, row []any) (string, error) {
	for i, c := range t.Columns {
		if c == t.Key {
			k, ok := row[i].(string)
			if !ok {
				return "", fmt.Errorf("key column %s of %s is %T, want string", t.Key, t.Name, row[i])
			}
			return k, nil
		}
	}
	return "", fmt.Errorf("table %s has no key column %s", t.Name, t.Key)
}
