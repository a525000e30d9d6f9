// Package risk enforces pre-trade limits on instructions before they reach
// the execution engine: a confidence floor on recommendations, a per-stock
// budget ceiling on batched buys, and hard caps on ad-hoc trigger trades.
package risk

import (
	"log/slog"

	"tradeagent/internal/domain"
	"tradeagent/internal/util"
)

// Fixed thresholds carried over from the strategy as-is. They are named
// here rather than re-derived; see the configuration docs for tuning the
// configurable limits.
const (
	// MinConfidence is the floor below which a recommendation produces no
	// instruction. HOLD never produces one regardless of confidence.
	MinConfidence = 7.0

	// WarnBandPct is the distance, in percent of the trigger price, inside
	// which a monitor emits its one-shot pre-alert.
	WarnBandPct = 1.0

	// MinTriggerDistancePct is the minimum distance, in percent of current
	// price, required between a new monitor's trigger and the market.
	MinTriggerDistancePct = 0.5

	// TriggerCashFloor is the minimum account cash for a trigger-driven buy.
	TriggerCashFloor = 5000.0

	// TriggerBudgetCap is the hard ceiling on a single trigger-driven buy.
	TriggerBudgetCap = TriggerCashFloor * 10

	// TriggerCashFraction caps a trigger-driven buy at this fraction of cash.
	TriggerCashFraction = 0.2
)

// Gate applies the risk policy at both call sites: the batched daily buy
// decision and the single ad-hoc trigger decision.
type Gate struct {
	maxPositionPct float64
	maxBuyCount    int
	log            *slog.Logger
}

// NewGate creates a Gate. maxPositionPct is the fraction of total assets
// allowed in a single buy (1.0 means no cap beyond total assets);
// maxBuyCount caps how many instruments one batch pass may buy.
func NewGate(maxPositionPct float64, maxBuyCount int, log *slog.Logger) *Gate {
	return &Gate{
		maxPositionPct: maxPositionPct,
		maxBuyCount:    maxBuyCount,
		log:            log,
	}
}

// MaxBuyCount returns the per-pass instrument cap.
func (g *Gate) MaxBuyCount() int { return g.maxBuyCount }

// MaxSinglePosition returns the per-stock budget ceiling for the given
// total assets, rounded to two decimals.
func (g *Gate) MaxSinglePosition(totalAssets float64) float64 {
	return util.Round2(totalAssets * g.maxPositionPct)
}

// FilterBuyCandidates keeps only BUY recommendations at or above the
// confidence floor.
func (g *Gate) FilterBuyCandidates(reports []domain.Recommendation) []domain.Recommendation {
	var out []domain.Recommendation
	for _, r := range reports {
		if r.Action == domain.ActionBuy && r.Confidence >= MinConfidence {
			out = append(out, r)
		}
	}
	return out
}

// ApplyBuyLimits enforces the batch-path policy on budgeted allocations:
// at most maxBuyCount instruments, and no single budget above the
// per-stock ceiling. Over-budget allocations are clamped, never dropped.
func (g *Gate) ApplyBuyLimits(allocs []domain.BuyAllocation, totalAssets float64) []domain.BuyAllocation {
	if len(allocs) > g.maxBuyCount {
		g.log.Warn("buy count capped", "requested", len(allocs), "max", g.maxBuyCount)
		allocs = allocs[:g.maxBuyCount]
	}

	maxSingle := g.MaxSinglePosition(totalAssets)
	out := make([]domain.BuyAllocation, 0, len(allocs))
	for _, a := range allocs {
		if a.Budget > maxSingle {
			g.log.Warn("buy budget clamped", "code", a.Code, "budget", a.Budget, "max", maxSingle)
			a.Budget = maxSingle
		}
		out = append(out, a)
	}
	return out
}

// DecideOnTrigger converts a single trigger-driven recommendation into an
// instruction, or returns nil with a human-readable reason when the policy
// rejects it. pos is nil when no position is held.
func (g *Gate) DecideOnTrigger(rec domain.Recommendation, acct domain.Account, pos *domain.Position) (*domain.Instruction, string) {
	if rec.Action == domain.ActionHold || rec.Action == domain.ActionWait {
		return nil, "analysis recommends holding"
	}
	if rec.Confidence < MinConfidence {
		g.log.Info("trigger recommendation below confidence floor",
			"code", rec.Code, "action", rec.Action, "confidence", rec.Confidence)
		return nil, "confidence below floor"
	}

	switch rec.Action {
	case domain.ActionBuy:
		if acct.Cash <= TriggerCashFloor {
			return nil, "cash below trigger-buy floor"
		}
		budget := TriggerBudgetCap
		if frac := util.Round2(acct.Cash * TriggerCashFraction); frac < budget {
			budget = frac
		}
		return &domain.Instruction{
			Code:   rec.Code,
			Action: domain.ActionBuy,
			Budget: budget,
			Reason: rec.Reason,
		}, ""

	case domain.ActionSellAll, domain.ActionSellHalf, domain.ActionStopLoss, domain.ActionTakeProfit:
		if pos == nil || pos.VolumeAvailable == 0 {
			return nil, "no sellable position"
		}
		// Trigger sells always release the full available volume.
		action := rec.Action
		if action == domain.ActionSellHalf {
			action = domain.ActionSellAll
		}
		return &domain.Instruction{
			Code:   rec.Code,
			Name:   pos.Name,
			Action: action,
			Reason: rec.Reason,
		}, ""
	}

	g.log.Warn("unknown recommendation action", "code", rec.Code, "action", rec.Action)
	return nil, "unknown action"
}
