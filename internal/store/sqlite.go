package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tradeagent/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ Ledger = (*SQLiteStore)(nil)
var _ MonitorStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id            INTEGER PRIMARY KEY,
	cash          REAL NOT NULL DEFAULT 0,
	market_value  REAL NOT NULL DEFAULT 0,
	total_assets  REAL NOT NULL DEFAULT 0,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	code              TEXT PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	volume            INTEGER NOT NULL DEFAULT 0,
	volume_available  INTEGER NOT NULL DEFAULT 0,
	avg_price         REAL NOT NULL DEFAULT 0,
	current_price     REAL NOT NULL DEFAULT 0,
	market_value      REAL NOT NULL DEFAULT 0,
	profit            REAL NOT NULL DEFAULT 0,
	last_updated      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	order_id    TEXT PRIMARY KEY,
	code        TEXT NOT NULL,
	action      TEXT NOT NULL,
	price       REAL NOT NULL,
	volume      INTEGER NOT NULL,
	commission  REAL NOT NULL DEFAULT 0,
	reason      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'FILLED',
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_code ON orders(code);
CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at);

CREATE TABLE IF NOT EXISTS price_monitors (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	code           TEXT NOT NULL,
	trigger_price  REAL NOT NULL,
	operator       TEXT NOT NULL,
	monitor_type   TEXT NOT NULL DEFAULT '',
	reason         TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'ACTIVE',
	is_active      INTEGER NOT NULL DEFAULT 1,
	warning_sent   INTEGER NOT NULL DEFAULT 0,
	triggered_at   TEXT,
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitors_status ON price_monitors(status, is_active);
`

// SQLiteStore implements Ledger and MonitorStore backed by a SQLite
// database in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies
// the schema, and returns a ready-to-use store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// EnsureAccount seeds the singleton account with initialCash if it does not
// exist yet. Safe to call on every startup.
func (s *SQLiteStore) EnsureAccount(ctx context.Context, initialCash float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO accounts (id, cash, market_value, total_assets, updated_at)
		VALUES (1, ?, 0, ?, ?)`,
		initialCash, initialCash, formatTime(time.Now()))
	return err
}

// ---------------------------------------------------------------------------
// Ledger implementation
// ---------------------------------------------------------------------------

// GetAccount returns the singleton account snapshot.
func (s *SQLiteStore) GetAccount(ctx context.Context) (domain.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`SELECT id, cash, market_value, total_assets, updated_at FROM accounts WHERE id = 1`))
}

// GetPosition returns the position for an instrument, or ErrNotFound.
func (s *SQLiteStore) GetPosition(ctx context.Context, code string) (domain.Position, error) {
	return scanPosition(s.db.QueryRowContext(ctx,
		`SELECT code, name, volume, volume_available, avg_price, current_price, market_value, profit, last_updated
		 FROM positions WHERE code = ?`, code))
}

// ListPositions returns snapshots of all held positions, ordered by code.
func (s *SQLiteStore) ListPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, name, volume, volume_available, avg_price, current_price, market_value, profit, last_updated
		 FROM positions ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ListOrders returns the most recent orders, newest first.
func (s *SQLiteStore) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT order_id, code, action, price, volume, commission, reason, status, created_at
		 FROM orders ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		var createdAt string
		if err := rows.Scan(&o.OrderID, &o.Code, &o.Action, &o.Price, &o.Volume,
			&o.Commission, &o.Reason, &o.Status, &createdAt); err != nil {
			return nil, err
		}
		o.CreatedAt = parseTime(createdAt)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UpdatePositionQuote refreshes current_price, market_value, and profit from
// a fresh price. A no-op when the position does not exist.
func (s *SQLiteStore) UpdatePositionQuote(ctx context.Context, code string, price float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE positions
		SET current_price = ?,
		    market_value  = ROUND(volume * ?, 2),
		    profit        = ROUND((? - avg_price) * volume, 2),
		    last_updated  = ?
		WHERE code = ?`,
		price, price, price, formatTime(time.Now()), code)
	return err
}

// SettlePositions makes every held share available to sell. Idempotent: the
// WHERE clause means a second call in the same window touches zero rows.
func (s *SQLiteStore) SettlePositions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE positions SET volume_available = volume, last_updated = ?
		WHERE volume_available <> volume`, formatTime(time.Now()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// WithLedgerTx runs fn inside a single transaction.
func (s *SQLiteStore) WithLedgerTx(ctx context.Context, fn func(tx *LedgerTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&LedgerTx{tx: tx, ctx: ctx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// LedgerTx exposes the ledger mutations available inside a transaction.
type LedgerTx struct {
	tx  *sql.Tx
	ctx context.Context
}

// Account returns the account row as seen by this transaction.
func (t *LedgerTx) Account() (domain.Account, error) {
	return scanAccount(t.tx.QueryRowContext(t.ctx,
		`SELECT id, cash, market_value, total_assets, updated_at FROM accounts WHERE id = 1`))
}

// SaveAccount writes the account's monetary fields.
func (t *LedgerTx) SaveAccount(a domain.Account) error {
	_, err := t.tx.ExecContext(t.ctx, `
		UPDATE accounts SET cash = ?, market_value = ?, total_assets = ?, updated_at = ?
		WHERE id = 1`,
		a.Cash, a.MarketValue, a.TotalAssets, formatTime(time.Now()))
	return err
}

// Position returns the position for an instrument, or ErrNotFound.
func (t *LedgerTx) Position(code string) (domain.Position, error) {
	return scanPosition(t.tx.QueryRowContext(t.ctx,
		`SELECT code, name, volume, volume_available, avg_price, current_price, market_value, profit, last_updated
		 FROM positions WHERE code = ?`, code))
}

// UpsertPosition inserts or replaces the position row.
func (t *LedgerTx) UpsertPosition(p domain.Position) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO positions (code, name, volume, volume_available, avg_price, current_price, market_value, profit, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			volume = excluded.volume,
			volume_available = excluded.volume_available,
			avg_price = excluded.avg_price,
			current_price = excluded.current_price,
			market_value = excluded.market_value,
			profit = excluded.profit,
			last_updated = excluded.last_updated`,
		p.Code, p.Name, p.Volume, p.VolumeAvailable, p.AvgPrice,
		p.CurrentPrice, p.MarketValue, p.Profit, formatTime(time.Now()))
	return err
}

// DeletePosition removes the position row for an instrument.
func (t *LedgerTx) DeletePosition(code string) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM positions WHERE code = ?`, code)
	return err
}

// AppendOrder inserts one row into the append-only order log.
func (t *LedgerTx) AppendOrder(o domain.Order) error {
	created := o.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO orders (order_id, code, action, price, volume, commission, reason, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OrderID, o.Code, o.Action, o.Price, o.Volume, o.Commission,
		o.Reason, o.Status, formatTime(created))
	return err
}

// PositionsMarketValue returns the sum of position market values as seen by
// this transaction.
func (t *LedgerTx) PositionsMarketValue() (float64, error) {
	var total float64
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT COALESCE(SUM(market_value), 0) FROM positions`).Scan(&total)
	return total, err
}

// ---------------------------------------------------------------------------
// MonitorStore implementation
// ---------------------------------------------------------------------------

// CreateMonitor inserts a new ACTIVE monitor and returns its id.
func (s *SQLiteStore) CreateMonitor(ctx context.Context, m domain.PriceMonitor) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO price_monitors (code, trigger_price, operator, monitor_type, reason, status, is_active, warning_sent, created_at)
		VALUES (?, ?, ?, ?, ?, 'ACTIVE', 1, 0, ?)`,
		m.Code, m.TriggerPrice, m.Operator, m.MonitorType, m.Reason, formatTime(time.Now()))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListActiveMonitors returns ACTIVE records whose kill-switch is on.
func (s *SQLiteStore) ListActiveMonitors(ctx context.Context) ([]domain.PriceMonitor, error) {
	return s.queryMonitors(ctx,
		`SELECT id, code, trigger_price, operator, monitor_type, reason, status, is_active, warning_sent, triggered_at, created_at
		 FROM price_monitors WHERE status = 'ACTIVE' AND is_active = 1 ORDER BY id`)
}

// ListMonitors returns all monitor records, newest first.
func (s *SQLiteStore) ListMonitors(ctx context.Context) ([]domain.PriceMonitor, error) {
	return s.queryMonitors(ctx,
		`SELECT id, code, trigger_price, operator, monitor_type, reason, status, is_active, warning_sent, triggered_at, created_at
		 FROM price_monitors ORDER BY id DESC`)
}

// HasActiveMonitor reports whether an ACTIVE record already watches the same
// code and direction.
func (s *SQLiteStore) HasActiveMonitor(ctx context.Context, code string, op domain.Operator) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM price_monitors WHERE code = ? AND operator = ? AND status = 'ACTIVE' AND is_active = 1`,
		code, op).Scan(&n)
	return n > 0, err
}

// MarkWarningSent is a compare-and-set on warning_sent: the update applies
// only while the flag is still false, so exactly one of any number of
// concurrent callers observes success.
func (s *SQLiteStore) MarkWarningSent(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE price_monitors SET warning_sent = 1 WHERE id = ? AND warning_sent = 0`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkTriggered is a compare-and-set on status: the ACTIVE→TRIGGERED
// transition applies only while the record is still ACTIVE.
func (s *SQLiteStore) MarkTriggered(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE price_monitors SET status = 'TRIGGERED', triggered_at = ? WHERE id = ? AND status = 'ACTIVE'`,
		formatTime(at), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ClearMonitors deletes all monitor records.
func (s *SQLiteStore) ClearMonitors(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM price_monitors`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) queryMonitors(ctx context.Context, query string) ([]domain.PriceMonitor, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var monitors []domain.PriceMonitor
	for rows.Next() {
		var m domain.PriceMonitor
		var isActive, warningSent int
		var triggeredAt sql.NullString
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Code, &m.TriggerPrice, &m.Operator, &m.MonitorType,
			&m.Reason, &m.Status, &isActive, &warningSent, &triggeredAt, &createdAt); err != nil {
			return nil, err
		}
		m.IsActive = isActive != 0
		m.WarningSent = warningSent != 0
		if triggeredAt.Valid {
			t := parseTime(triggeredAt.String)
			m.TriggeredAt = &t
		}
		m.CreatedAt = parseTime(createdAt)
		monitors = append(monitors, m)
	}
	return monitors, rows.Err()
}

// ---------------------------------------------------------------------------
// Row scanning
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (domain.Account, error) {
	var a domain.Account
	var updatedAt string
	err := row.Scan(&a.ID, &a.Cash, &a.MarketValue, &a.TotalAssets, &updatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

func scanPosition(row rowScanner) (domain.Position, error) {
	var p domain.Position
	var lastUpdated string
	err := row.Scan(&p.Code, &p.Name, &p.Volume, &p.VolumeAvailable, &p.AvgPrice,
		&p.CurrentPrice, &p.MarketValue, &p.Profit, &lastUpdated)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.LastUpdated = parseTime(lastUpdated)
	return p, nil
}

// Timestamps are stored as RFC3339 text to stay independent of driver
// time handling.

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
