// Package quote retrieves market data: real-time prices, quote snapshots,
// daily bars, and per-stock screening metrics. The rest of the system only
// depends on the Provider interface; failures surface as ErrUnavailable and
// are recovered by skipping the instrument for the current cycle.
package quote

import (
	"context"
	"errors"

	"tradeagent/internal/domain"
)

// ErrUnavailable is returned when the provider has no data for a code.
var ErrUnavailable = errors.New("quote unavailable")

// Provider is the market-data collaborator contract.
type Provider interface {
	// GetPrice returns the last price for an instrument.
	GetPrice(ctx context.Context, code string) (float64, error)

	// GetBatchPrices returns last prices for a set of instruments. Codes
	// with no data are simply absent from the result.
	GetBatchPrices(ctx context.Context, codes []string) (map[string]float64, error)

	// GetSnapshot returns a detailed real-time quote.
	GetSnapshot(ctx context.Context, code string) (*domain.QuoteSnapshot, error)

	// GetDailyBars returns daily bars within [start, end], dates YYYYMMDD,
	// ascending.
	GetDailyBars(ctx context.Context, code, start, end string) ([]domain.DailyBar, error)

	// GetDailyMetrics returns screening indicators for every listed stock
	// on the given trade date.
	GetDailyMetrics(ctx context.Context, tradeDate string) ([]domain.DailyMetric, error)

	// GetName returns the display name for an instrument, or "" when
	// unknown.
	GetName(ctx context.Context, code string) (string, error)
}
