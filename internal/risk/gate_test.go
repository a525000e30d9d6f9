package risk

import (
	"io"
	"log/slog"
	"testing"

	"tradeagent/internal/domain"
)

func testGate(maxPct float64, maxCount int) *Gate {
	return NewGate(maxPct, maxCount, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFilterBuyCandidates(t *testing.T) {
	g := testGate(1.0, 2)

	reports := []domain.Recommendation{
		{Code: "A", Action: domain.ActionBuy, Confidence: 8.5},
		{Code: "B", Action: domain.ActionBuy, Confidence: 6.9},
		{Code: "C", Action: domain.ActionWait, Confidence: 9.0},
		{Code: "D", Action: domain.ActionBuy, Confidence: 7.0},
	}
	got := g.FilterBuyCandidates(reports)
	if len(got) != 2 {
		t.Fatalf("kept %d candidates, want 2", len(got))
	}
	if got[0].Code != "A" || got[1].Code != "D" {
		t.Errorf("kept %v, want A and D", got)
	}
}

func TestApplyBuyLimitsClampsAndCaps(t *testing.T) {
	g := testGate(0.1, 2)

	allocs := []domain.BuyAllocation{
		{Code: "A", Budget: 50000},
		{Code: "B", Budget: 5000},
		{Code: "C", Budget: 8000},
	}
	// totalAssets 100000 × 0.1 → ceiling 10000 per stock; count capped at 2.
	got := g.ApplyBuyLimits(allocs, 100000)
	if len(got) != 2 {
		t.Fatalf("got %d allocations, want 2", len(got))
	}
	if got[0].Budget != 10000 {
		t.Errorf("A budget = %v, want clamped 10000", got[0].Budget)
	}
	if got[1].Budget != 5000 {
		t.Errorf("B budget = %v, want untouched 5000", got[1].Budget)
	}
}

func TestDecideOnTriggerConfidenceFloor(t *testing.T) {
	g := testGate(1.0, 2)
	acct := domain.Account{Cash: 100000}

	in, reason := g.DecideOnTrigger(domain.Recommendation{
		Code: "600519.SH", Action: domain.ActionBuy, Confidence: 6.5,
	}, acct, nil)
	if in != nil {
		t.Fatalf("instruction = %+v, want nil below floor", in)
	}
	if reason == "" {
		t.Error("want a rejection reason")
	}

	// HOLD never yields an instruction regardless of confidence.
	in, _ = g.DecideOnTrigger(domain.Recommendation{
		Code: "600519.SH", Action: domain.ActionHold, Confidence: 1.0,
	}, acct, nil)
	if in != nil {
		t.Fatalf("HOLD produced instruction %+v", in)
	}
}

func TestDecideOnTriggerBuyBudget(t *testing.T) {
	g := testGate(1.0, 2)

	// Fractional cap binds: 20% of 100000 = 20000 < 50000.
	in, _ := g.DecideOnTrigger(domain.Recommendation{
		Code: "600519.SH", Action: domain.ActionBuy, Confidence: 9,
	}, domain.Account{Cash: 100000}, nil)
	if in == nil {
		t.Fatal("instruction is nil")
	}
	if in.Budget != 20000 {
		t.Errorf("Budget = %v, want 20000", in.Budget)
	}

	// Hard cap binds: 20% of 1000000 = 200000 > 50000.
	in, _ = g.DecideOnTrigger(domain.Recommendation{
		Code: "600519.SH", Action: domain.ActionBuy, Confidence: 9,
	}, domain.Account{Cash: 1000000}, nil)
	if in == nil {
		t.Fatal("instruction is nil")
	}
	if in.Budget != 50000 {
		t.Errorf("Budget = %v, want hard cap 50000", in.Budget)
	}

	// Cash at the floor: no buy.
	in, reason := g.DecideOnTrigger(domain.Recommendation{
		Code: "600519.SH", Action: domain.ActionBuy, Confidence: 9,
	}, domain.Account{Cash: 5000}, nil)
	if in != nil {
		t.Fatalf("instruction = %+v, want nil at cash floor", in)
	}
	if reason == "" {
		t.Error("want a rejection reason")
	}
}

func TestDecideOnTriggerSell(t *testing.T) {
	g := testGate(1.0, 2)
	acct := domain.Account{Cash: 100000}

	// No position: rejected.
	in, _ := g.DecideOnTrigger(domain.Recommendation{
		Code: "600519.SH", Action: domain.ActionStopLoss, Confidence: 9,
	}, acct, nil)
	if in != nil {
		t.Fatalf("instruction = %+v, want nil without position", in)
	}

	// Held but nothing available (T+1): rejected.
	held := &domain.Position{Code: "600519.SH", Volume: 500, VolumeAvailable: 0}
	in, _ = g.DecideOnTrigger(domain.Recommendation{
		Code: "600519.SH", Action: domain.ActionTakeProfit, Confidence: 9,
	}, acct, held)
	if in != nil {
		t.Fatalf("instruction = %+v, want nil with zero available", in)
	}

	// Sellable: instruction requests the full available volume.
	held.VolumeAvailable = 500
	in, _ = g.DecideOnTrigger(domain.Recommendation{
		Code: "600519.SH", Action: domain.ActionSellHalf, Confidence: 9, Reason: "trim",
	}, acct, held)
	if in == nil {
		t.Fatal("instruction is nil")
	}
	if in.Action != domain.ActionSellAll {
		t.Errorf("Action = %q, want SELL_ALL (trigger sells take full volume)", in.Action)
	}
}
