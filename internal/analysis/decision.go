package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"tradeagent/internal/domain"
)

// DecisionMaker turns analyst buy candidates into budgeted allocations.
type DecisionMaker struct {
	client ChatClient
	log    *slog.Logger
}

// NewDecisionMaker creates a DecisionMaker over the given chat client.
func NewDecisionMaker(client ChatClient, log *slog.Logger) *DecisionMaker {
	return &DecisionMaker{client: client, log: log}
}

type decisionData struct {
	Cash              float64
	Holdings          string
	MaxBuyCount       int
	MaxSinglePosition float64
	Reports           []domain.Recommendation
}

type decisionReply struct {
	Orders []domain.BuyAllocation `json:"orders"`
}

// AllocateBuys asks the model to distribute the available cash over the buy
// candidates. holdings lists codes already in the portfolio; the limits are
// advisory here and enforced again by the risk gate.
func (d *DecisionMaker) AllocateBuys(ctx context.Context, acct domain.Account, holdings []string, reports []domain.Recommendation, maxSinglePosition float64, maxBuyCount int) ([]domain.BuyAllocation, error) {
	if len(reports) == 0 {
		return nil, nil
	}

	prompt, err := renderPrompt("decision.tmpl", decisionData{
		Cash:              acct.Cash,
		Holdings:          strings.Join(holdings, ", "),
		MaxBuyCount:       maxBuyCount,
		MaxSinglePosition: maxSinglePosition,
		Reports:           reports,
	})
	if err != nil {
		return nil, err
	}

	d.log.Info("allocating buys", "candidates", len(reports), "cash", acct.Cash)
	reply, err := d.client.Complete(ctx, prompt, true)
	if err != nil {
		return nil, err
	}

	var out decisionReply
	if err := decodeJSON(reply, &out); err != nil {
		return nil, fmt.Errorf("parsing allocations: %w", err)
	}

	allocs := out.Orders[:0]
	for _, o := range out.Orders {
		if o.Code == "" || o.Budget <= 0 {
			d.log.Warn("dropping malformed allocation", "code", o.Code, "budget", o.Budget)
			continue
		}
		allocs = append(allocs, o)
	}
	return allocs, nil
}
