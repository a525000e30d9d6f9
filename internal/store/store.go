// Package store persists the trading ledger (account, positions, orders),
// the price-monitor records, and daily bar history. Reads return value
// snapshots; ledger mutations go through a single transaction per call.
package store

import (
	"context"
	"errors"
	"time"

	"tradeagent/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Ledger is the durable store for Account, Position, and Order rows. All
// mutating access runs inside WithLedgerTx so a half-updated triple is never
// observable.
type Ledger interface {
	// GetAccount returns the singleton account snapshot.
	GetAccount(ctx context.Context) (domain.Account, error)

	// GetPosition returns the position for an instrument, or ErrNotFound.
	GetPosition(ctx context.Context, code string) (domain.Position, error)

	// ListPositions returns snapshots of all held positions.
	ListPositions(ctx context.Context) ([]domain.Position, error)

	// ListOrders returns the most recent orders, newest first.
	ListOrders(ctx context.Context, limit int) ([]domain.Order, error)

	// UpdatePositionQuote refreshes the read-mostly valuation fields of a
	// position from a fresh price. Not part of the ledger invariants.
	UpdatePositionQuote(ctx context.Context, code string, price float64) error

	// SettlePositions makes every held share available to sell, lifting the
	// T+1 restriction. Idempotent. Returns the number of rows touched.
	SettlePositions(ctx context.Context) (int64, error)

	// WithLedgerTx runs fn inside a single transaction; any error rolls the
	// whole unit back.
	WithLedgerTx(ctx context.Context, fn func(tx *LedgerTx) error) error
}

// MonitorStore is the durable store for price-monitor records. The two Mark
// methods are conditional writes: they succeed only when the expected prior
// state still holds, which is what keeps overlapping poll cycles from
// double-firing the same record.
type MonitorStore interface {
	// CreateMonitor inserts a new ACTIVE monitor and returns its id.
	CreateMonitor(ctx context.Context, m domain.PriceMonitor) (int64, error)

	// ListActiveMonitors returns records with status ACTIVE and the
	// is_active switch on.
	ListActiveMonitors(ctx context.Context) ([]domain.PriceMonitor, error)

	// ListMonitors returns all monitor records, newest first.
	ListMonitors(ctx context.Context) ([]domain.PriceMonitor, error)

	// HasActiveMonitor reports whether an ACTIVE record already watches the
	// same code and direction.
	HasActiveMonitor(ctx context.Context, code string, op domain.Operator) (bool, error)

	// MarkWarningSent flips warning_sent on the record only if it is
	// currently false. Returns true when this call won the flip.
	MarkWarningSent(ctx context.Context, id int64) (bool, error)

	// MarkTriggered moves the record from ACTIVE to TRIGGERED only if it is
	// still ACTIVE. Returns true when this call won the transition.
	MarkTriggered(ctx context.Context, id int64, at time.Time) (bool, error)

	// ClearMonitors deletes all monitor records (daily reset).
	ClearMonitors(ctx context.Context) (int64, error)
}

// BarStore persists and retrieves daily bar history used as analysis
// context.
type BarStore interface {
	// WriteDailyBars persists a batch of bars, merging with existing data.
	WriteDailyBars(ctx context.Context, bars []domain.DailyBar) error

	// ReadDailyBars returns bars for the code within [start, end], dates
	// formatted YYYYMMDD, ascending by trade date.
	ReadDailyBars(ctx context.Context, code, start, end string) ([]domain.DailyBar, error)

	// ListCodes returns all instrument codes with stored bars.
	ListCodes(ctx context.Context) ([]string, error)
}
