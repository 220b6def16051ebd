package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fixwerk/shopshift/internal/domain"
	"github.com/fixwerk/shopshift/internal/domain/migration"
	"github.com/fixwerk/shopshift/internal/domain/shop"
)

// StateStore implements statestore.Store on the control-plane pool.
type StateStore struct {
	q Querier
}

// NewStateStore creates a StateStore over the given querier.
func NewStateStore(q Querier) *StateStore {
	return &StateStore{q: q}
}

// --- Shops ---

func (s *StateStore) CreateShop(ctx context.Context, req shop.CreateRequest) (*shop.Shop, error) {
	if req.Name == "" || req.Subdomain == "" {
		return nil, fmt.Errorf("name and subdomain are required: %w", domain.ErrValidation)
	}

	now := time.Now().UTC()
	sh := &shop.Shop{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Subdomain: req.Subdomain,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.q.Exec(ctx,
		`INSERT INTO shops (id, name, subdomain, enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sh.ID, sh.Name, sh.Subdomain, sh.Enabled, sh.CreatedAt, sh.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("subdomain %s already taken: %w", req.Subdomain, domain.ErrConflict)
		}
		return nil, fmt.Errorf("create shop: %w", err)
	}
	return sh, nil
}

func (s *StateStore) GetShop(ctx context.Context, id string) (*shop.Shop, error) {
	return s.shopBy(ctx, "id", id)
}

func (s *StateStore) GetShopBySubdomain(ctx context.Context, subdomain string) (*shop.Shop, error) {
	return s.shopBy(ctx, "subdomain", subdomain)
}

func (s *StateStore) shopBy(ctx context.Context, col, val string) (*shop.Shop, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, name, subdomain, enabled, created_at, updated_at
		 FROM shops WHERE `+col+` = $1`, val)

	var sh shop.Shop
	if err := row.Scan(&sh.ID, &sh.Name, &sh.Subdomain, &sh.Enabled, &sh.CreatedAt, &sh.UpdatedAt); err != nil {
		return nil, notFoundWrap(err, "get shop %s", val)
	}
	return &sh, nil
}

func (s *StateStore) ListShops(ctx context.Context) ([]shop.Shop, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, name, subdomain, enabled, created_at, updated_at
		 FROM shops ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list shops: %w", err)
	}
	defer rows.Close()

	var shops []shop.Shop
	for rows.Next() {
		var sh shop.Shop
		if err := rows.Scan(&sh.ID, &sh.Name, &sh.Subdomain, &sh.Enabled, &sh.CreatedAt, &sh.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan shop: %w", err)
		}
		shops = append(shops, sh)
	}
	return shops, rows.Err()
}

// --- Shop groups ---

func (s *StateStore) CreateGroup(ctx context.Context, req shop.CreateGroupRequest) (*shop.Group, error) {
	if req.Name == "" || req.OwnerEmail == "" {
		return nil, fmt.Errorf("name and owner_email are required: %w", domain.ErrValidation)
	}

	g := &shop.Group{
		ID:         uuid.New().String(),
		Name:       req.Name,
		OwnerEmail: req.OwnerEmail,
		CreatedAt:  time.Now().UTC(),
	}

	_, err := s.q.Exec(ctx,
		`INSERT INTO shop_groups (id, name, owner_email, created_at) VALUES ($1, $2, $3, $4)`,
		g.ID, g.Name, g.OwnerEmail, g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return g, nil
}

func (s *StateStore) GetGroup(ctx context.Context, id string) (*shop.Group, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, name, owner_email, created_at FROM shop_groups WHERE id = $1`, id)

	var g shop.Group
	if err := row.Scan(&g.ID, &g.Name, &g.OwnerEmail, &g.CreatedAt); err != nil {
		return nil, notFoundWrap(err, "get group %s", id)
	}

	rows, err := s.q.Query(ctx,
		`SELECT shop_id FROM shop_group_members WHERE group_id = $1 ORDER BY shop_id`, id)
	if err != nil {
		return nil, fmt.Errorf("get group members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		g.ShopIDs = append(g.ShopIDs, sid)
	}
	return &g, rows.Err()
}

func (s *StateStore) ListGroups(ctx context.Context) ([]shop.Group, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, name, owner_email, created_at FROM shop_groups ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []shop.Group
	for rows.Next() {
		var g shop.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.OwnerEmail, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *StateStore) AddGroupMember(ctx context.Context, groupID, shopID string) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO shop_group_members (group_id, shop_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, groupID, shopID)
	if err != nil {
		if isFKViolation(err) {
			return fmt.Errorf("add member %s to group %s: %w", shopID, groupID, domain.ErrNotFound)
		}
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

// --- Migration records ---

const migrationColumns = `shop_id, phase, failed_from, read_path, tenant_dsn, paused,
	clean_validations, cutover_at, last_error, last_report, created_at, updated_at`

func (s *StateStore) CreateMigration(ctx context.Context, shopID string) (*migration.Record, error) {
	now := time.Now().UTC()
	rec := &migration.Record{
		ShopID:    shopID,
		Phase:     migration.PhaseNotStarted,
		ReadPath:  migration.ReadLegacy,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.q.Exec(ctx,
		`INSERT INTO shop_migrations (shop_id, phase, read_path, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.ShopID, string(rec.Phase), string(rec.ReadPath), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("migration for shop %s already exists: %w", shopID, domain.ErrConflict)
		}
		if isFKViolation(err) {
			return nil, fmt.Errorf("shop %s: %w", shopID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("create migration: %w", err)
	}
	return rec, nil
}

func (s *StateStore) GetMigration(ctx context.Context, shopID string) (*migration.Record, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+migrationColumns+` FROM shop_migrations WHERE shop_id = $1`, shopID)

	rec, err := scanMigration(row)
	if err != nil {
		return nil, notFoundWrap(err, "get migration %s", shopID)
	}
	return rec, nil
}

func (s *StateStore) ListMigrations(ctx context.Context) ([]migration.Record, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+migrationColumns+` FROM shop_migrations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	defer rows.Close()

	var recs []migration.Record
	for rows.Next() {
		rec, err := scanMigration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func scanMigration(row scannable) (*migration.Record, error) {
	var (
		rec        migration.Record
		phase      string
		failedFrom string
		readPath   string
		report     []byte
	)
	err := row.Scan(&rec.ShopID, &phase, &failedFrom, &readPath, &rec.TenantDSN,
		&rec.Paused, &rec.CleanValidations, &rec.CutoverAt, &rec.LastError,
		&report, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Phase = migration.Phase(phase)
	rec.FailedFrom = migration.Phase(failedFrom)
	rec.ReadPath = migration.ReadPath(readPath)
	if len(report) > 0 {
		var rep migration.Report
		if err := json.Unmarshal(report, &rep); err != nil {
			return nil, fmt.Errorf("unmarshal report: %w", err)
		}
		rec.LastReport = &rep
	}
	return &rec, nil
}

// UpdatePhase moves a shop from one phase to another only if the stored
// phase still matches from. A zero-row update means another process moved
// the shop first; the caller must re-read and decide again.
func (s *StateStore) UpdatePhase(ctx context.Context, shopID string, from, to migration.Phase, failedFrom migration.Phase) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE shop_migrations
		 SET phase = $3, failed_from = $4, updated_at = now()
		 WHERE shop_id = $1 AND phase = $2`,
		shopID, string(from), string(to), string(failedFrom))
	if err != nil {
		return fmt.Errorf("update phase %s: %w", shopID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("phase of shop %s is no longer %s: %w", shopID, from, domain.ErrConflict)
	}
	return nil
}

func (s *StateStore) SetTenantDSN(ctx context.Context, shopID, dsn string) error {
	return s.setColumn(ctx, shopID, "tenant_dsn", dsn)
}

func (s *StateStore) SetReadPath(ctx context.Context, shopID string, path migration.ReadPath) error {
	return s.setColumn(ctx, shopID, "read_path", string(path))
}

func (s *StateStore) SetCutoverAt(ctx context.Context, shopID string, set bool) error {
	var val *time.Time
	if set {
		now := time.Now().UTC()
		val = &now
	}
	return s.setColumn(ctx, shopID, "cutover_at", val)
}

func (s *StateStore) SetPaused(ctx context.Context, shopID string, paused bool) error {
	return s.setColumn(ctx, shopID, "paused", paused)
}

func (s *StateStore) SetLastError(ctx context.Context, shopID, msg string) error {
	return s.setColumn(ctx, shopID, "last_error", msg)
}

func (s *StateStore) SetCleanValidations(ctx context.Context, shopID string, n int) error {
	return s.setColumn(ctx, shopID, "clean_validations", n)
}

func (s *StateStore) setColumn(ctx context.Context, shopID, col string, val any) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE shop_migrations SET `+col+` = $2, updated_at = now() WHERE shop_id = $1`,
		shopID, val)
	return execExpectOne(tag, err, "set %s for shop %s", col, shopID)
}

// --- Backfill cursors ---

func (s *StateStore) GetCursor(ctx context.Context, shopID, table string) (*migration.SyncCursor, error) {
	row := s.q.QueryRow(ctx,
		`SELECT shop_id, table_name, last_key, last_updated_at
		 FROM sync_cursors WHERE shop_id = $1 AND table_name = $2`, shopID, table)

	var cur migration.SyncCursor
	if err := row.Scan(&cur.ShopID, &cur.Table, &cur.LastKey, &cur.LastUpdatedAt); err != nil {
		return nil, notFoundWrap(err, "get cursor %s/%s", shopID, table)
	}
	return &cur, nil
}

func (s *StateStore) SaveCursor(ctx context.Context, cur *migration.SyncCursor) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO sync_cursors (shop_id, table_name, last_key, last_updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (shop_id, table_name) DO UPDATE
		 SET last_key = $3, last_updated_at = $4`,
		cur.ShopID, cur.Table, cur.LastKey, cur.LastUpdatedAt)
	if err != nil {
		return fmt.Errorf("save cursor %s/%s: %w", cur.ShopID, cur.Table, err)
	}
	return nil
}

// --- Divergence queue ---

func (s *StateStore) EnqueueDivergence(ctx context.Context, rec *migration.DivergenceRecord) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO divergence_queue (id, shop_id, table_name, row_key, attempted_at, retries)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET attempted_at = $5, retries = $6, in_flight = false`,
		rec.ID, rec.ShopID, rec.Table, rec.Key, rec.AttemptedAt, rec.Retries)
	if err != nil {
		return fmt.Errorf("enqueue divergence: %w", err)
	}
	return nil
}

// DequeueDivergence claims up to limit pending records for one shop. The
// claim flips in_flight so concurrent drainers never replay the same row;
// a claimed record either gets resolved or requeued.
func (s *StateStore) DequeueDivergence(ctx context.Context, shopID string, limit int) ([]migration.DivergenceRecord, error) {
	rows, err := s.q.Query(ctx,
		`UPDATE divergence_queue SET in_flight = true
		 WHERE id IN (
		     SELECT id FROM divergence_queue
		     WHERE shop_id = $1 AND NOT in_flight
		     ORDER BY attempted_at
		     LIMIT $2
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, shop_id, table_name, row_key, attempted_at, retries`,
		shopID, limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue divergence: %w", err)
	}
	defer rows.Close()

	var recs []migration.DivergenceRecord
	for rows.Next() {
		var rec migration.DivergenceRecord
		if err := rows.Scan(&rec.ID, &rec.ShopID, &rec.Table, &rec.Key, &rec.AttemptedAt, &rec.Retries); err != nil {
			return nil, fmt.Errorf("scan divergence: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *StateStore) ResolveDivergence(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM divergence_queue WHERE id = $1`, id)
	return execExpectOne(tag, err, "resolve divergence %s", id)
}

func (s *StateStore) RequeueDivergence(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE divergence_queue
		 SET in_flight = false, retries = retries + 1, attempted_at = now()
		 WHERE id = $1`, id)
	return execExpectOne(tag, err, "requeue divergence %s", id)
}

func (s *StateStore) CountDivergence(ctx context.Context, shopID string) (int, error) {
	row := s.q.QueryRow(ctx,
		`SELECT count(*) FROM divergence_queue WHERE shop_id = $1`, shopID)

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count divergence: %w", err)
	}
	return n, nil
}

// --- Validation reports ---

func (s *StateStore) SaveReport(ctx context.Context, rep *migration.Report) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	_, err = s.q.Exec(ctx,
		`INSERT INTO validation_reports (shop_id, report, generated_at) VALUES ($1, $2, $3)`,
		rep.ShopID, data, rep.GeneratedAt)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}

	// Keep the latest report on the migration record for quick status reads.
	_, err = s.q.Exec(ctx,
		`UPDATE shop_migrations SET last_report = $2, updated_at = now() WHERE shop_id = $1`,
		rep.ShopID, data)
	if err != nil {
		return fmt.Errorf("save latest report: %w", err)
	}
	return nil
}

func (s *StateStore) ListReports(ctx context.Context, shopID string, limit int) ([]migration.Report, error) {
	rows, err := s.q.Query(ctx,
		`SELECT report FROM validation_reports
		 WHERE shop_id = $1 ORDER BY generated_at DESC LIMIT $2`, shopID, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var reps []migration.Report
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		var rep migration.Report
		if err := json.Unmarshal(data, &rep); err != nil {
			return nil, fmt.Errorf("unmarshal report: %w", err)
		}
		reps = append(reps, rep)
	}
	return reps, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isFKViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
