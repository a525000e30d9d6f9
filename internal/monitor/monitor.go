// Package monitor implements the price-trigger service: a polled set of
// stored price conditions that fire at most once each. State moves strictly
// ACTIVE to TRIGGERED through conditional updates, so overlapping poll
// cycles cannot double-fire a record, and the record is locked before any
// network call is made on its behalf.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"tradeagent/internal/domain"
	"tradeagent/internal/metrics"
	"tradeagent/internal/notify"
	"tradeagent/internal/quote"
	"tradeagent/internal/risk"
	"tradeagent/internal/store"
	"tradeagent/internal/trader"
	"tradeagent/internal/util"
)

// ErrTooClose is returned when a new monitor's trigger price is within the
// minimum distance of the current market price.
var ErrTooClose = errors.New("monitor: trigger too close to current price")

// ErrDuplicate is returned when an active monitor already watches the same
// code and direction.
var ErrDuplicate = errors.New("monitor: duplicate active monitor")

// TriggerAnalyst is the analysis contract the service needs when a monitor
// fires.
type TriggerAnalyst interface {
	AnalyzeTrigger(ctx context.Context, mon domain.PriceMonitor, price float64, snap *domain.QuoteSnapshot, pos *domain.Position) (*domain.Recommendation, error)
}

// Service polls active monitors against live prices and handles warnings
// and triggers.
type Service struct {
	monitors store.MonitorStore
	ledger   store.Ledger
	quotes   quote.Provider
	analyst  TriggerAnalyst
	gate     *risk.Gate
	trader   *trader.Trader
	notifier notify.Notifier
	log      *slog.Logger
}

// New creates a monitor Service.
func New(monitors store.MonitorStore, ledger store.Ledger, quotes quote.Provider, analyst TriggerAnalyst, gate *risk.Gate, tr *trader.Trader, notifier notify.Notifier, log *slog.Logger) *Service {
	return &Service{
		monitors: monitors,
		ledger:   ledger,
		quotes:   quotes,
		analyst:  analyst,
		gate:     gate,
		trader:   tr,
		notifier: notifier,
		log:      log,
	}
}

// RunCheck executes one poll cycle: fetch prices for all active monitors,
// send pre-alerts for records inside the warning band, and process fired
// conditions. Per-record failures are logged and do not abort the cycle.
func (s *Service) RunCheck(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.ObservePollCycle(time.Since(start)) }()

	active, err := s.monitors.ListActiveMonitors(ctx)
	if err != nil {
		return fmt.Errorf("listing monitors: %w", err)
	}
	if len(active) == 0 {
		return nil
	}

	codes := uniqueCodes(active)
	prices, err := s.quotes.GetBatchPrices(ctx, codes)
	if err != nil {
		metrics.CollaboratorError("quote")
		return fmt.Errorf("fetching prices: %w", err)
	}

	type fired struct {
		mon   domain.PriceMonitor
		price float64
	}
	var triggered []fired

	for _, m := range active {
		price, ok := prices[m.Code]
		if !ok {
			continue
		}
		if m.Fires(price) {
			triggered = append(triggered, fired{m, price})
			continue
		}
		if !m.WarningSent {
			s.maybeWarn(ctx, m, price)
		}
	}

	for _, f := range triggered {
		s.handleTrigger(ctx, f.mon, f.price)
	}
	return nil
}

// maybeWarn sends the one-shot pre-alert when the price is inside the
// warning band. The flag flip is conditional; only the winner notifies.
func (s *Service) maybeWarn(ctx context.Context, m domain.PriceMonitor, price float64) {
	diffPct := math.Abs(price-m.TriggerPrice) / m.TriggerPrice * 100
	if diffPct > risk.WarnBandPct {
		return
	}

	won, err := s.monitors.MarkWarningSent(ctx, m.ID)
	if err != nil {
		s.log.Error("marking warning sent", "monitor_id", m.ID, "err", err)
		return
	}
	if !won {
		return
	}

	direction := "approaching UP to"
	if m.Operator == domain.OperatorLT {
		direction = "approaching DOWN to"
	}
	msg := fmt.Sprintf("[Pre-Alert] %s is %s %.2f. Current: %.2f (Diff: %.2f%%)",
		m.Code, direction, m.TriggerPrice, price, diffPct)
	if err := s.notifier.SendText(ctx, msg); err != nil {
		metrics.CollaboratorError("notify")
	}
	metrics.WarningSent()
	s.log.Info("sent pre-alert", "code", m.Code, "monitor_id", m.ID, "diff_pct", diffPct)
}

// handleTrigger processes one fired monitor. The record is locked first: a
// lost conditional update means another cycle owns this trigger, and this
// cycle walks away without side effects.
func (s *Service) handleTrigger(ctx context.Context, m domain.PriceMonitor, price float64) {
	won, err := s.monitors.MarkTriggered(ctx, m.ID, time.Now())
	if err != nil {
		s.log.Error("locking trigger", "monitor_id", m.ID, "err", err)
		return
	}
	if !won {
		s.log.Info("trigger already claimed", "monitor_id", m.ID)
		return
	}

	s.log.Info("processing trigger", "code", m.Code, "monitor_id", m.ID,
		"price", price, "target", m.TriggerPrice, "operator", m.Operator)

	// Best effort: analysis proceeds on price alone if the snapshot fails.
	snap, err := s.quotes.GetSnapshot(ctx, m.Code)
	if err != nil {
		metrics.CollaboratorError("quote")
		s.log.Warn("snapshot unavailable for trigger", "code", m.Code, "err", err)
		snap = nil
	}

	var pos *domain.Position
	if p, err := s.ledger.GetPosition(ctx, m.Code); err == nil {
		pos = &p
	} else if !errors.Is(err, store.ErrNotFound) {
		s.log.Error("loading position for trigger", "code", m.Code, "err", err)
		metrics.TriggerProcessed("error")
		return
	}

	rec, err := s.analyst.AnalyzeTrigger(ctx, m, price, snap, pos)
	if err != nil {
		metrics.CollaboratorError("llm")
		s.log.Error("trigger analysis failed", "code", m.Code, "err", err)
		msg := fmt.Sprintf("[Trigger] %s crossed %.2f but analysis failed, no action taken", m.Code, m.TriggerPrice)
		if err := s.notifier.SendText(ctx, msg); err != nil {
			metrics.CollaboratorError("notify")
		}
		metrics.TriggerProcessed("analysis_error")
		return
	}

	acct, err := s.ledger.GetAccount(ctx)
	if err != nil {
		s.log.Error("loading account for trigger", "code", m.Code, "err", err)
		metrics.TriggerProcessed("error")
		return
	}

	instr, why := s.gate.DecideOnTrigger(*rec, acct, pos)
	if instr == nil {
		s.log.Info("trigger analyzed, no action", "code", m.Code, "reason", why)
		msg := fmt.Sprintf("[Trigger] %s crossed %.2f, analyzed, no action (%s)", m.Code, m.TriggerPrice, why)
		if err := s.notifier.SendText(ctx, msg); err != nil {
			metrics.CollaboratorError("notify")
		}
		metrics.TriggerProcessed("no_action")
		return
	}
	instr.Price = price

	results := s.trader.ExecuteOrders(ctx, []domain.Instruction{*instr})
	if len(results) == 0 {
		s.log.Error("trigger order rejected", "code", m.Code, "action", instr.Action)
		msg := fmt.Sprintf("[Trigger] %s crossed %.2f, %s order rejected by execution", m.Code, m.TriggerPrice, instr.Action)
		if err := s.notifier.SendText(ctx, msg); err != nil {
			metrics.CollaboratorError("notify")
		}
		metrics.TriggerProcessed("failed")
		return
	}

	msg := fmt.Sprintf("**[Trigger Executed]**\n\n%s\n\n**Reason:** %s", results[0], rec.Reason)
	if err := s.notifier.SendMarkdown(ctx, "Trigger: "+m.Code, msg); err != nil {
		metrics.CollaboratorError("notify")
	}
	metrics.TriggerProcessed("executed")
}

// CreateFromSetup validates and stores a monitor proposed by analysis.
// currentPrice anchors the distance check.
func (s *Service) CreateFromSetup(ctx context.Context, code string, setup domain.MonitorSetup, currentPrice float64) (int64, error) {
	if setup.TriggerPrice <= 0 {
		return 0, fmt.Errorf("monitor: invalid trigger price %v", setup.TriggerPrice)
	}
	if setup.Operator != domain.OperatorGT && setup.Operator != domain.OperatorLT {
		return 0, fmt.Errorf("monitor: invalid operator %q", setup.Operator)
	}
	if currentPrice > 0 {
		distPct := math.Abs(setup.TriggerPrice-currentPrice) / currentPrice * 100
		if distPct < risk.MinTriggerDistancePct {
			return 0, fmt.Errorf("%w: %.2f vs %.2f (%.2f%%)",
				ErrTooClose, setup.TriggerPrice, currentPrice, distPct)
		}
	}

	exists, err := s.monitors.HasActiveMonitor(ctx, code, setup.Operator)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, fmt.Errorf("%w: %s %s", ErrDuplicate, code, setup.Operator)
	}

	id, err := s.monitors.CreateMonitor(ctx, domain.PriceMonitor{
		Code:         code,
		TriggerPrice: util.Round2(setup.TriggerPrice),
		Operator:     setup.Operator,
		MonitorType:  setup.MonitorType,
		Reason:       setup.Reason,
		Status:       domain.MonitorActive,
		IsActive:     true,
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("monitor created", "code", code, "monitor_id", id,
		"trigger", setup.TriggerPrice, "operator", setup.Operator, "type", setup.MonitorType)
	return id, nil
}

// ResetDaily drops all monitor records. Run before each trading day so the
// morning analysis starts from a clean set.
func (s *Service) ResetDaily(ctx context.Context) error {
	n, err := s.monitors.ClearMonitors(ctx)
	if err != nil {
		return err
	}
	s.log.Info("monitors cleared", "count", n)
	return nil
}

func uniqueCodes(monitors []domain.PriceMonitor) []string {
	seen := make(map[string]bool, len(monitors))
	var codes []string
	for _, m := range monitors {
		if !seen[m.Code] {
			seen[m.Code] = true
			codes = append(codes, m.Code)
		}
	}
	return codes
}
