package ledger

// store.go — SQLite persistence for the financial log.
//
// Tables:
//   actions         — one row per attempted action, success or failure
//   revenue_events  — append-only income (yield, slashes, attestation fees)
//   cost_events     — append-only spend (model calls, compute)
//   resolved_stakes — stakes this agent settled, for attestation history
//   run_state       — scalar cursors between cycles
//
// Financial rows are never updated or deleted. The connection runs the
// audit-trail profile: WAL with synchronous(FULL) so an acknowledged append
// survives a crash, auto_vacuum(NONE) because the file only grows.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/keeperlabs/stakekeeper/internal/domain"
	_ "modernc.org/sqlite"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS actions (
    id             TEXT PRIMARY KEY,   -- local UUID
    ts             DATETIME NOT NULL,
    action         TEXT NOT NULL,
    description    TEXT NOT NULL DEFAULT '',
    tx_id          TEXT NOT NULL DEFAULT '',
    stable_amount  REAL NOT NULL DEFAULT 0,
    native_amount  REAL NOT NULL DEFAULT 0,
    success        INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS actions_ts ON actions(ts DESC);

CREATE TABLE IF NOT EXISTS revenue_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ts          DATETIME NOT NULL,
    source      TEXT NOT NULL,
    amount      REAL NOT NULL,
    tx_id       TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS revenue_ts ON revenue_events(ts);
CREATE INDEX IF NOT EXISTS revenue_source ON revenue_events(source);

CREATE TABLE IF NOT EXISTS cost_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ts          DATETIME NOT NULL,
    category    TEXT NOT NULL,
    amount      REAL NOT NULL,
    tx_id       TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS cost_ts ON cost_events(ts);
CREATE INDEX IF NOT EXISTS cost_category ON cost_events(category);

CREATE TABLE IF NOT EXISTS resolved_stakes (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    ts             DATETIME NOT NULL,
    staker         TEXT NOT NULL,
    stake_id       INTEGER NOT NULL,
    amount         REAL NOT NULL,
    asset          INTEGER NOT NULL DEFAULT 0,
    duration_days  INTEGER NOT NULL,
    success_days   INTEGER NOT NULL,
    forfeited      REAL NOT NULL DEFAULT 0,
    tx_id          TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS resolved_staker ON resolved_stakes(staker);

CREATE TABLE IF NOT EXISTS run_state (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at DATETIME NOT NULL
);
`

// Store implements ports.Ledger on a single SQLite file.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the ledger at the given path with the audit-trail
// pragma profile and applies the schema.
func New(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path +
			"?_pragma=journal_mode(WAL)" +
			"&_pragma=synchronous(FULL)" + // fsync after every append
			"&_pragma=auto_vacuum(NONE)" + // append-only file, never shrink
			"&_pragma=foreign_keys(1)" +
			"&_pragma=wal_autocheckpoint(1000)" +
			"&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger.New: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger.New: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Appends ─────────────────────────────────────────────────────────────────

// AppendAction records one attempted action, failed or not.
func (s *Store) AppendAction(ctx context.Context, a domain.ActionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actions (id, ts, action, description, tx_id, stable_amount, native_amount, success)
		VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.Timestamp.UTC(), string(a.Action), a.Description, a.TxID,
		a.StableAmount, a.NativeAmount, boolToInt(a.Success),
	)
	if err != nil {
		return &domain.LedgerWriteError{Table: "actions", Err: err}
	}
	return nil
}

// AppendRevenue records one income event.
func (s *Store) AppendRevenue(ctx context.Context, r domain.RevenueEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revenue_events (ts, source, amount, tx_id, description)
		VALUES (?,?,?,?,?)`,
		r.Timestamp.UTC(), string(r.Source), r.Amount, r.TxID, r.Description,
	)
	if err != nil {
		return &domain.LedgerWriteError{Table: "revenue_events", Err: err}
	}
	return nil
}

// AppendCost records one spend event.
func (s *Store) AppendCost(ctx context.Context, c domain.CostEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_events (ts, category, amount, tx_id, description)
		VALUES (?,?,?,?,?)`,
		c.Timestamp.UTC(), string(c.Category), c.Amount, c.TxID, c.Description,
	)
	if err != nil {
		return &domain.LedgerWriteError{Table: "cost_events", Err: err}
	}
	return nil
}

// AppendResolvedStake records a settlement this agent executed.
func (s *Store) AppendResolvedStake(ctx context.Context, r domain.ResolvedStake) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resolved_stakes (ts, staker, stake_id, amount, asset, duration_days, success_days, forfeited, tx_id)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		r.Timestamp.UTC(), r.Staker, r.StakeID, r.Amount, int(r.Asset),
		r.DurationDays, r.SuccessDays, r.Forfeited, r.TxID,
	)
	if err != nil {
		return &domain.LedgerWriteError{Table: "resolved_stakes", Err: err}
	}
	return nil
}

// ─── Run state ───────────────────────────────────────────────────────────────

// GetState reads one scalar cursor. The second return is false when the key
// has never been written.
func (s *Store) GetState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM run_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ledger.GetState: %s: %w", key, err)
	}
	return value, true, nil
}

// SetState upserts one scalar cursor.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_state (key, value, updated_at) VALUES (?,?,?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return &domain.LedgerWriteError{Table: "run_state", Err: err}
	}
	return nil
}

// ─── Aggregates ──────────────────────────────────────────────────────────────

// TotalRevenue sums all income rows.
func (s *Store) TotalRevenue(ctx context.Context) (float64, error) {
	return s.sumColumn(ctx, "revenue_events")
}

// TotalCosts sums all spend rows.
func (s *Store) TotalCosts(ctx context.Context) (float64, error) {
	return s.sumColumn(ctx, "cost_events")
}

func (s *Store) sumColumn(ctx context.Context, table string) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM `+table).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("ledger: sum %s: %w", table, err)
	}
	return total, nil
}

// RevenueBySource groups income by source tag.
func (s *Store) RevenueBySource(ctx context.Context) (map[string]float64, error) {
	return s.groupAmounts(ctx, `SELECT source, COALESCE(SUM(amount), 0) FROM revenue_events GROUP BY source`)
}

// CostsByCategory groups spend by category tag.
func (s *Store) CostsByCategory(ctx context.Context) (map[string]float64, error) {
	return s.groupAmounts(ctx, `SELECT category, COALESCE(SUM(amount), 0) FROM cost_events GROUP BY category`)
}

func (s *Store) groupAmounts(ctx context.Context, query string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ledger: group amounts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var key string
		var amount float64
		if err := rows.Scan(&key, &amount); err != nil {
			return nil, fmt.Errorf("ledger: scan group row: %w", err)
		}
		out[key] = amount
	}
	return out, rows.Err()
}

// RecentActions returns the newest action rows, bounded by limit.
func (s *Store) RecentActions(ctx context.Context, limit int) ([]domain.ActionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, action, description, tx_id, stable_amount, native_amount, success
		FROM actions ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger.RecentActions: query: %w", err)
	}
	defer rows.Close()

	var actions []domain.ActionRecord
	for rows.Next() {
		var a domain.ActionRecord
		var actionStr string
		var successInt int
		if err := rows.Scan(&a.ID, &a.Timestamp, &actionStr, &a.Description,
			&a.TxID, &a.StableAmount, &a.NativeAmount, &successInt); err != nil {
			return nil, fmt.Errorf("ledger.RecentActions: scan row: %w", err)
		}
		a.Action = domain.ActionType(actionStr)
		a.Success = successInt != 0
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// Series returns the cumulative revenue/cost curve, one point per financial
// event in time order.
func (s *Store) Series(ctx context.Context) ([]domain.SeriesPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, amount, 'revenue' AS kind FROM revenue_events
		UNION ALL
		SELECT ts, amount, 'cost' AS kind FROM cost_events
		ORDER BY ts ASC`)
	if err != nil {
		return nil, fmt.Errorf("ledger.Series: query: %w", err)
	}
	defer rows.Close()

	var (
		points  []domain.SeriesPoint
		revenue float64
		cost    float64
	)
	for rows.Next() {
		var ts time.Time
		var amount float64
		var kind string
		if err := rows.Scan(&ts, &amount, &kind); err != nil {
			return nil, fmt.Errorf("ledger.Series: scan row: %w", err)
		}
		if kind == "revenue" {
			revenue += amount
		} else {
			cost += amount
		}
		points = append(points, domain.SeriesPoint{Timestamp: ts, Revenue: revenue, Cost: cost})
	}
	return points, rows.Err()
}

// StakeHistory returns the stakes this agent resolved for one wallet,
// oldest first. Hex case is ignored so checksummed and lowercase forms
// match.
func (s *Store) StakeHistory(ctx context.Context, staker string) ([]domain.ResolvedStake, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, staker, stake_id, amount, asset, duration_days, success_days, forfeited, tx_id
		FROM resolved_stakes WHERE staker = ? COLLATE NOCASE ORDER BY ts ASC`, staker)
	if err != nil {
		return nil, fmt.Errorf("ledger.StakeHistory: query: %w", err)
	}
	defer rows.Close()

	var out []domain.ResolvedStake
	for rows.Next() {
		var r domain.ResolvedStake
		var assetInt int
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Staker, &r.StakeID, &r.Amount,
			&assetInt, &r.DurationDays, &r.SuccessDays, &r.Forfeited, &r.TxID); err != nil {
			return nil, fmt.Errorf("ledger.StakeHistory: scan row: %w", err)
		}
		r.Asset = domain.AssetKind(assetInt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
