// Package trader is the execution engine: it applies buy and sell
// instructions to the ledger as single atomic transactions, computes
// weighted-average cost and T+1 availability, and appends the order log.
package trader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tradeagent/internal/domain"
	"tradeagent/internal/metrics"
	"tradeagent/internal/store"
	"tradeagent/internal/util"
)

// Rejection reasons. All are deterministic given current ledger state and
// are recovered locally by the caller; none is fatal.
var (
	// ErrInsufficientBudget means the budget rounds down to zero lots at
	// the reference price.
	ErrInsufficientBudget = errors.New("budget below one lot at reference price")

	// ErrInsufficientFunds means the lot cost exceeds available cash.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNoPosition means no position row exists for the instrument.
	ErrNoPosition = errors.New("no position held")

	// ErrNothingAvailable is the T+1 guard: the computed sell volume is
	// zero because every held share was bought today.
	ErrNothingAvailable = errors.New("no shares available to sell")
)

// LotSize is the minimum buy increment in shares.
const LotSize = 100

// Trader executes ledger mutations. All monetary amounts are rounded to two
// decimals at computation boundaries.
type Trader struct {
	ledger store.Ledger
	log    *slog.Logger
}

// New creates a Trader over the given ledger store.
func New(ledger store.Ledger, log *slog.Logger) *Trader {
	return &Trader{ledger: ledger, log: log}
}

// ExecuteBuy buys as many whole lots of the instrument as the budget covers
// at the reference price. The debit, position upsert, and order append
// commit as one transaction. Newly bought shares are not available to sell
// until the next settlement (volumeAvailable is unchanged for an existing
// position and zero for a new one).
func (t *Trader) ExecuteBuy(ctx context.Context, code, name string, budget, refPrice float64, reason string) (string, error) {
	if refPrice <= 0 {
		return "", fmt.Errorf("invalid reference price %.2f for %s", refPrice, code)
	}

	volume := int64(budget/refPrice/LotSize) * LotSize
	if volume == 0 {
		t.log.Warn("buy rejected: budget too low", "code", code, "budget", budget, "price", refPrice)
		metrics.OrderRejected("insufficient_budget")
		return "", ErrInsufficientBudget
	}
	cost := util.Round2(float64(volume) * refPrice)

	err := t.ledger.WithLedgerTx(ctx, func(tx *store.LedgerTx) error {
		acct, err := tx.Account()
		if err != nil {
			return err
		}
		if cost > acct.Cash {
			return ErrInsufficientFunds
		}

		pos, err := tx.Position(code)
		switch {
		case err == nil:
			// Weighted-average entry price; availability untouched (T+1).
			newVolume := pos.Volume + volume
			pos.AvgPrice = util.Round2((pos.AvgPrice*float64(pos.Volume) + cost) / float64(newVolume))
			pos.Volume = newVolume
			if name != "" {
				pos.Name = name
			}
		case errors.Is(err, store.ErrNotFound):
			pos = domain.Position{
				Code:            code,
				Name:            name,
				Volume:          volume,
				VolumeAvailable: 0,
				AvgPrice:        refPrice,
			}
		default:
			return err
		}
		pos.CurrentPrice = refPrice
		pos.MarketValue = util.Round2(float64(pos.Volume) * refPrice)
		pos.Profit = util.Round2((refPrice - pos.AvgPrice) * float64(pos.Volume))
		if err := tx.UpsertPosition(pos); err != nil {
			return err
		}

		mv, err := tx.PositionsMarketValue()
		if err != nil {
			return err
		}
		acct.Cash = util.Round2(acct.Cash - cost)
		acct.MarketValue = util.Round2(mv)
		acct.TotalAssets = util.Round2(acct.Cash + acct.MarketValue)
		if err := tx.SaveAccount(acct); err != nil {
			return err
		}

		return tx.AppendOrder(domain.Order{
			OrderID:   uuid.NewString(),
			Code:      code,
			Action:    domain.OrderActionBuy,
			Price:     refPrice,
			Volume:    volume,
			Reason:    reason,
			Status:    domain.OrderStatusFilled,
			CreatedAt: time.Now(),
		})
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			t.log.Warn("buy rejected: insufficient funds", "code", code, "cost", cost)
			metrics.OrderRejected("insufficient_funds")
		}
		return "", err
	}

	t.log.Info("executed buy", "code", code, "volume", volume, "price", refPrice)
	metrics.OrderExecuted("BUY")
	return resultLine("BUY", code, name, volume, refPrice), nil
}

// ExecuteSell sells from the instrument's available shares: the whole
// available volume for SELL_ALL, half (integer division) for SELL_HALF.
// The credit, position update or delete, and order append commit as one
// transaction.
func (t *Trader) ExecuteSell(ctx context.Context, code, name, mode string, refPrice float64, reason string) (string, error) {
	if refPrice <= 0 {
		return "", fmt.Errorf("invalid reference price %.2f for %s", refPrice, code)
	}

	var sellVolume int64
	err := t.ledger.WithLedgerTx(ctx, func(tx *store.LedgerTx) error {
		pos, err := tx.Position(code)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoPosition
		}
		if err != nil {
			return err
		}

		switch mode {
		case domain.ActionSellAll:
			sellVolume = pos.VolumeAvailable
		case domain.ActionSellHalf:
			sellVolume = pos.VolumeAvailable / 2
		default:
			return fmt.Errorf("unknown sell mode %q", mode)
		}
		if sellVolume == 0 {
			return ErrNothingAvailable
		}

		proceeds := util.Round2(float64(sellVolume) * refPrice)

		pos.Volume -= sellVolume
		pos.VolumeAvailable -= sellVolume
		if pos.Volume == 0 {
			if err := tx.DeletePosition(code); err != nil {
				return err
			}
		} else {
			pos.CurrentPrice = refPrice
			pos.MarketValue = util.Round2(float64(pos.Volume) * refPrice)
			pos.Profit = util.Round2((refPrice - pos.AvgPrice) * float64(pos.Volume))
			if err := tx.UpsertPosition(pos); err != nil {
				return err
			}
		}

		acct, err := tx.Account()
		if err != nil {
			return err
		}
		mv, err := tx.PositionsMarketValue()
		if err != nil {
			return err
		}
		acct.Cash = util.Round2(acct.Cash + proceeds)
		acct.MarketValue = util.Round2(mv)
		acct.TotalAssets = util.Round2(acct.Cash + acct.MarketValue)
		if err := tx.SaveAccount(acct); err != nil {
			return err
		}

		return tx.AppendOrder(domain.Order{
			OrderID:   uuid.NewString(),
			Code:      code,
			Action:    domain.OrderActionSell,
			Price:     refPrice,
			Volume:    sellVolume,
			Reason:    reason,
			Status:    domain.OrderStatusFilled,
			CreatedAt: time.Now(),
		})
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNoPosition):
			metrics.OrderRejected("no_position")
		case errors.Is(err, ErrNothingAvailable):
			t.log.Warn("sell rejected by T+1 guard", "code", code)
			metrics.OrderRejected("nothing_available")
		}
		return "", err
	}

	t.log.Info("executed sell", "code", code, "volume", sellVolume, "price", refPrice)
	metrics.OrderExecuted("SELL")
	return resultLine("SELL", code, name, sellVolume, refPrice), nil
}

// SettlePositions lifts the T+1 restriction for shares held overnight.
// Idempotent within a settlement window.
func (t *Trader) SettlePositions(ctx context.Context) error {
	n, err := t.ledger.SettlePositions(ctx)
	if err != nil {
		return err
	}
	t.log.Info("settled positions", "updated", n)
	return nil
}

// ExecuteOrders applies a mixed list of instructions sequentially. Each
// instruction is its own transaction; a failure is logged and skipped so
// the remaining instructions still run. Risk-control synonyms STOP_LOSS and
// TAKE_PROFIT map to SELL_ALL. Returns one result line per successful
// instruction.
func (t *Trader) ExecuteOrders(ctx context.Context, instructions []domain.Instruction) []string {
	var results []string
	for _, in := range instructions {
		action := in.Action
		if action == domain.ActionStopLoss || action == domain.ActionTakeProfit {
			action = domain.ActionSellAll
		}

		var line string
		var err error
		switch action {
		case domain.ActionBuy:
			line, err = t.ExecuteBuy(ctx, in.Code, in.Name, in.Budget, in.Price, in.Reason)
		case domain.ActionSellAll, domain.ActionSellHalf:
			line, err = t.ExecuteSell(ctx, in.Code, in.Name, action, in.Price, in.Reason)
		default:
			err = fmt.Errorf("unknown action %q", in.Action)
		}
		if err != nil {
			t.log.Error("instruction failed", "code", in.Code, "action", in.Action, "error", err)
			continue
		}
		results = append(results, line)
	}
	return results
}

func resultLine(action, code, name string, volume int64, price float64) string {
	if name != "" {
		return fmt.Sprintf("%s %s(%s): %d @ %.2f", action, code, name, volume, price)
	}
	return fmt.Sprintf("%s %s: %d @ %.2f", action, code, volume, price)
}
