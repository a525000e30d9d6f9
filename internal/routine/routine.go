// Package routine implements the scheduled trading workflows: the
// pre-market scan/analyze/buy pass, the midday risk check, the pre-close
// position review, and the after-hours data sync. Each routine is a single
// entry point invoked by the scheduler or by a one-shot CLI flag.
package routine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"tradeagent/internal/domain"
	"tradeagent/internal/metrics"
	"tradeagent/internal/monitor"
	"tradeagent/internal/news"
	"tradeagent/internal/notify"
	"tradeagent/internal/quote"
	"tradeagent/internal/risk"
	"tradeagent/internal/store"
	"tradeagent/internal/trader"
	"tradeagent/internal/util"
)

// historyBars caps how many stored daily bars are fed to one analysis call.
const historyBars = 30

// syncConcurrency bounds the parallel per-code fetches in DataSync.
const syncConcurrency = 4

// Analyst is the per-instrument analysis contract the routines need.
type Analyst interface {
	AnalyzePreMarket(ctx context.Context, code string, bars []domain.DailyBar, newsContext string) (*domain.Recommendation, error)
	AnalyzeIntraday(ctx context.Context, snap *domain.QuoteSnapshot, pos *domain.Position, newsContext string) (*domain.Recommendation, error)
	AnalyzePreClose(ctx context.Context, pos domain.Position, snap *domain.QuoteSnapshot) (*domain.Recommendation, error)
}

// Allocator is the budget-allocation contract.
type Allocator interface {
	AllocateBuys(ctx context.Context, acct domain.Account, holdings []string, reports []domain.Recommendation, maxSinglePosition float64, maxBuyCount int) ([]domain.BuyAllocation, error)
}

// NewsFetcher fetches headline context for one instrument.
type NewsFetcher interface {
	Fetch(ctx context.Context, query string, limit int) ([]news.Article, error)
}

// Options carries the strategy settings the routines read from config.
type Options struct {
	Watchlist        []string
	EnableAutoMining bool
	ScanLimit        int
	NewsLimit        int

	// TestMode sends a notification even when a routine took no action, so
	// the push channel can be verified end to end.
	TestMode bool
}

// Routines wires the collaborators behind the scheduled workflows.
type Routines struct {
	opts     Options
	ledger   store.Ledger
	bars     store.BarStore
	quotes   quote.Provider
	news     NewsFetcher
	analyst  Analyst
	decider  Allocator
	gate     *risk.Gate
	trader   *trader.Trader
	monitors *monitor.Service
	notifier notify.Notifier
	cal      *util.TradingCalendar
	log      *slog.Logger
}

// New creates the routine set.
func New(opts Options, ledger store.Ledger, bars store.BarStore, quotes quote.Provider, nf NewsFetcher, analyst Analyst, decider Allocator, gate *risk.Gate, tr *trader.Trader, monitors *monitor.Service, notifier notify.Notifier, cal *util.TradingCalendar, log *slog.Logger) *Routines {
	return &Routines{
		opts:     opts,
		ledger:   ledger,
		bars:     bars,
		quotes:   quotes,
		news:     nf,
		analyst:  analyst,
		decider:  decider,
		gate:     gate,
		trader:   tr,
		monitors: monitors,
		notifier: notifier,
		cal:      cal,
		log:      log,
	}
}

// PreMarket runs the morning pass: settle yesterday's buys, rebuild the
// monitor set, analyze the candidate pool, and place the allocated buys.
func (r *Routines) PreMarket(ctx context.Context) error {
	r.log.Info("pre-market routine starting")

	if err := r.trader.SettlePositions(ctx); err != nil {
		return fmt.Errorf("settling positions: %w", err)
	}
	if err := r.monitors.ResetDaily(ctx); err != nil {
		return fmt.Errorf("resetting monitors: %w", err)
	}

	candidates := r.candidatePool(ctx)

	var reports []domain.Recommendation
	for _, code := range candidates {
		bars, err := r.recentBars(ctx, code)
		if err != nil {
			r.log.Warn("history unavailable, skipping", "code", code, "err", err)
			continue
		}

		newsCtx := ""
		if r.opts.NewsLimit > 0 {
			articles, err := r.news.Fetch(ctx, code, r.opts.NewsLimit)
			if err != nil {
				metrics.CollaboratorError("news")
				r.log.Warn("news fetch failed", "code", code, "err", err)
			}
			newsCtx = news.FormatContext(articles)
		}

		rec, err := r.analyst.AnalyzePreMarket(ctx, code, bars, newsCtx)
		if err != nil {
			metrics.CollaboratorError("llm")
			r.log.Error("pre-market analysis failed", "code", code, "err", err)
			continue
		}
		r.log.Info("pre-market report", "code", code, "action", rec.Action, "confidence", rec.Confidence)
		reports = append(reports, *rec)

		if rec.Monitor != nil {
			r.createMonitor(ctx, code, *rec.Monitor, lastClose(bars))
		}
	}

	executed, suggested := r.runBuyDecision(ctx, reports)

	if len(suggested) > 0 {
		var b strings.Builder
		b.WriteString("**Pre-Market Report**\n\n")
		b.WriteString("**Buy decisions:**\n")
		for _, s := range suggested {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		if len(executed) > 0 {
			b.WriteString("\n**Executed:**\n")
			for _, l := range executed {
				fmt.Fprintf(&b, "- %s\n", l)
			}
		} else {
			b.WriteString("\nNo orders executed (insufficient funds or invalid price).")
		}
		if err := r.notifier.SendMarkdown(ctx, "Pre-Market", b.String()); err != nil {
			metrics.CollaboratorError("notify")
		}
	} else {
		if r.opts.TestMode {
			r.notifier.SendMarkdown(ctx, "Pre-Market", "**Pre-Market Report**\n\nNo buy plan today.")
		}
		r.log.Info("no buy plan today")
	}

	r.publishAccount(ctx)
	r.log.Info("pre-market routine finished")
	return nil
}

// Midday runs the intraday pass: review held positions for exits or
// add-ons, review the unheld watchlist for entries, then pool the buy
// candidates through one allocation decision.
func (r *Routines) Midday(ctx context.Context) error {
	r.log.Info("midday routine starting")

	positions, err := r.ledger.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("listing positions: %w", err)
	}

	var executed []string
	var buyReports []domain.Recommendation
	held := make(map[string]bool, len(positions))

	for _, pos := range positions {
		held[pos.Code] = true
		snap, err := r.quotes.GetSnapshot(ctx, pos.Code)
		if err != nil {
			metrics.CollaboratorError("quote")
			r.log.Warn("snapshot unavailable", "code", pos.Code, "err", err)
			continue
		}
		if err := r.ledger.UpdatePositionQuote(ctx, pos.Code, snap.Price); err != nil {
			r.log.Warn("quote refresh failed", "code", pos.Code, "err", err)
		}
		pos.CurrentPrice = snap.Price

		rec, err := r.analyst.AnalyzeIntraday(ctx, snap, &pos, "")
		if err != nil {
			metrics.CollaboratorError("llm")
			r.log.Error("intraday analysis failed", "code", pos.Code, "err", err)
			continue
		}

		switch rec.Action {
		case domain.ActionSellAll, domain.ActionSellHalf:
			line, err := r.trader.ExecuteSell(ctx, pos.Code, pos.Name, rec.Action, snap.Price, rec.Reason)
			if err != nil {
				r.log.Error("midday sell failed", "code", pos.Code, "err", err)
				continue
			}
			executed = append(executed, line)
		case domain.ActionBuy:
			r.log.Info("analyst suggests adding to position", "code", pos.Code)
			buyReports = append(buyReports, *rec)
		}
	}

	for _, code := range r.opts.Watchlist {
		if held[code] {
			continue
		}
		snap, err := r.quotes.GetSnapshot(ctx, code)
		if err != nil {
			metrics.CollaboratorError("quote")
			continue
		}
		rec, err := r.analyst.AnalyzeIntraday(ctx, snap, nil, "")
		if err != nil {
			metrics.CollaboratorError("llm")
			r.log.Error("intraday analysis failed", "code", code, "err", err)
			continue
		}
		if rec.Action == domain.ActionBuy {
			buyReports = append(buyReports, *rec)
		}
	}

	buyLines, _ := r.runBuyDecision(ctx, buyReports)
	executed = append(executed, buyLines...)

	if len(executed) > 0 {
		var b strings.Builder
		b.WriteString("**Midday Report**\n\n**Executed:**\n")
		for _, l := range executed {
			fmt.Fprintf(&b, "- %s\n", l)
		}
		if err := r.notifier.SendMarkdown(ctx, "Midday", b.String()); err != nil {
			metrics.CollaboratorError("notify")
		}
	} else {
		if r.opts.TestMode {
			r.notifier.SendMarkdown(ctx, "Midday", "**Midday Report**\n\nNo action taken.")
		}
		r.log.Info("midday check finished, no action")
	}

	r.publishAccount(ctx)
	return nil
}

// PreClose runs the late-session pass: review every held position and exit
// the ones the analysis wants closed before the bell.
func (r *Routines) PreClose(ctx context.Context) error {
	r.log.Info("pre-close routine starting")

	positions, err := r.ledger.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("listing positions: %w", err)
	}
	if len(positions) == 0 {
		r.log.Info("no positions held")
		return nil
	}

	var executed []string
	for _, pos := range positions {
		snap, err := r.quotes.GetSnapshot(ctx, pos.Code)
		if err != nil {
			metrics.CollaboratorError("quote")
			r.log.Warn("snapshot unavailable", "code", pos.Code, "err", err)
			snap = nil
		} else {
			if err := r.ledger.UpdatePositionQuote(ctx, pos.Code, snap.Price); err != nil {
				r.log.Warn("quote refresh failed", "code", pos.Code, "err", err)
			}
			pos.CurrentPrice = snap.Price
		}

		rec, err := r.analyst.AnalyzePreClose(ctx, pos, snap)
		if err != nil {
			metrics.CollaboratorError("llm")
			r.log.Error("pre-close analysis failed", "code", pos.Code, "err", err)
			continue
		}
		if rec.Action != domain.ActionSellAll && rec.Action != domain.ActionSellHalf {
			continue
		}

		line, err := r.trader.ExecuteSell(ctx, pos.Code, pos.Name, rec.Action, pos.CurrentPrice, rec.Reason)
		if err != nil {
			r.log.Error("pre-close sell failed", "code", pos.Code, "err", err)
			continue
		}
		executed = append(executed, line)
	}

	if len(executed) > 0 {
		var b strings.Builder
		b.WriteString("**Pre-Close Report**\n\n**Exits:**\n")
		for _, l := range executed {
			fmt.Fprintf(&b, "- %s\n", l)
		}
		if err := r.notifier.SendMarkdown(ctx, "Pre-Close", b.String()); err != nil {
			metrics.CollaboratorError("notify")
		}
	} else {
		if r.opts.TestMode {
			r.notifier.SendMarkdown(ctx, "Pre-Close", "**Pre-Close Report**\n\nPositions stable, nothing sold.")
		}
		r.log.Info("positions stable, nothing sold")
	}

	r.publishAccount(ctx)
	return nil
}

// DataSync appends the latest daily bars for the watchlist and every held
// position, fanning out with bounded parallelism.
func (r *Routines) DataSync(ctx context.Context) error {
	r.log.Info("data sync starting")

	codes := map[string]bool{}
	for _, c := range r.opts.Watchlist {
		codes[c] = true
	}
	positions, err := r.ledger.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("listing positions: %w", err)
	}
	for _, p := range positions {
		codes[p.Code] = true
	}
	// Instruments with existing history stay current even after they leave
	// the watchlist.
	tracked, err := r.bars.ListCodes(ctx)
	if err != nil {
		r.log.Error("listing tracked codes", "err", err)
	}
	for _, c := range tracked {
		codes[c] = true
	}

	now := r.cal.Now()
	end := now.Format("20060102")
	start := now.AddDate(0, -1, 0).Format("20060102")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(syncConcurrency)
	for code := range codes {
		g.Go(func() error {
			fetched, err := r.quotes.GetDailyBars(gctx, code, start, end)
			if err != nil {
				metrics.CollaboratorError("quote")
				r.log.Error("bar fetch failed", "code", code, "err", err)
				return nil
			}
			if len(fetched) == 0 {
				return nil
			}
			if err := r.bars.WriteDailyBars(gctx, fetched); err != nil {
				return fmt.Errorf("writing bars for %s: %w", code, err)
			}
			r.log.Info("bars appended", "code", code, "count", len(fetched))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.log.Info("data sync finished")
	return nil
}

// candidatePool returns the watchlist, optionally widened by the hot-stock
// scan, deduplicated and sorted for a stable analysis order.
func (r *Routines) candidatePool(ctx context.Context) []string {
	set := make(map[string]bool, len(r.opts.Watchlist))
	for _, c := range r.opts.Watchlist {
		set[c] = true
	}

	if r.opts.EnableAutoMining {
		tradeDate := r.cal.LastTradeDate(r.cal.Now())
		scanned, err := quote.ScanHotStocks(ctx, r.quotes, tradeDate, r.opts.ScanLimit)
		if err != nil {
			metrics.CollaboratorError("quote")
			r.log.Warn("hot-stock scan failed", "err", err)
		} else if len(scanned) > 0 {
			r.log.Info("scan added candidates", "codes", scanned)
			for _, c := range scanned {
				set[c] = true
			}
		}
	}

	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// recentBars returns up to historyBars stored daily bars for the code,
// backfilling a year of history from the provider on first sight.
func (r *Routines) recentBars(ctx context.Context, code string) ([]domain.DailyBar, error) {
	now := r.cal.Now()
	end := now.Format("20060102")
	start := now.AddDate(-1, 0, 0).Format("20060102")

	stored, err := r.bars.ReadDailyBars(ctx, code, start, end)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		fetched, err := r.quotes.GetDailyBars(ctx, code, start, end)
		if err != nil {
			return nil, err
		}
		if len(fetched) > 0 {
			if err := r.bars.WriteDailyBars(ctx, fetched); err != nil {
				r.log.Warn("bar backfill write failed", "code", code, "err", err)
			}
		}
		stored = fetched
	}

	if len(stored) > historyBars {
		stored = stored[len(stored)-historyBars:]
	}
	return stored, nil
}

// runBuyDecision filters the reports through the risk gate, asks the
// allocator for budgets, clamps them, and executes the buys. Returns the
// executed result lines and the human-readable suggestions.
func (r *Routines) runBuyDecision(ctx context.Context, reports []domain.Recommendation) (executed, suggested []string) {
	candidates := r.gate.FilterBuyCandidates(reports)
	if len(candidates) == 0 {
		return nil, nil
	}

	acct, err := r.ledger.GetAccount(ctx)
	if err != nil {
		r.log.Error("loading account", "err", err)
		return nil, nil
	}
	positions, err := r.ledger.ListPositions(ctx)
	if err != nil {
		r.log.Error("listing positions", "err", err)
		return nil, nil
	}
	holdings := make([]string, 0, len(positions))
	for _, p := range positions {
		holdings = append(holdings, p.Code)
	}

	allocs, err := r.decider.AllocateBuys(ctx, acct, holdings, candidates,
		r.gate.MaxSinglePosition(acct.TotalAssets), r.gate.MaxBuyCount())
	if err != nil {
		metrics.CollaboratorError("llm")
		r.log.Error("buy allocation failed", "err", err)
		return nil, nil
	}
	allocs = r.gate.ApplyBuyLimits(allocs, acct.TotalAssets)

	for _, a := range allocs {
		price, err := r.quotes.GetPrice(ctx, a.Code)
		if err != nil || price <= 0 {
			metrics.CollaboratorError("quote")
			r.log.Warn("no reference price, skipping buy", "code", a.Code, "err", err)
			continue
		}
		name, err := r.quotes.GetName(ctx, a.Code)
		if err != nil {
			name = ""
		}

		suggested = append(suggested, fmt.Sprintf("%s (%s): budget %.2f", a.Code, orUnknown(name), a.Budget))

		line, err := r.trader.ExecuteBuy(ctx, a.Code, name, a.Budget, price, a.Reason)
		if err != nil {
			r.log.Error("buy failed", "code", a.Code, "err", err)
			continue
		}
		executed = append(executed, line)
	}
	return executed, suggested
}

// createMonitor stores an analysis-proposed monitor, resolving the anchor
// price from the latest close or a live quote.
func (r *Routines) createMonitor(ctx context.Context, code string, setup domain.MonitorSetup, anchor float64) {
	if anchor <= 0 {
		if p, err := r.quotes.GetPrice(ctx, code); err == nil {
			anchor = p
		}
	}
	if _, err := r.monitors.CreateFromSetup(ctx, code, setup, anchor); err != nil {
		r.log.Warn("monitor not created", "code", code, "err", err)
	}
}

// publishAccount refreshes the account gauges after a routine.
func (r *Routines) publishAccount(ctx context.Context) {
	acct, err := r.ledger.GetAccount(ctx)
	if err != nil {
		return
	}
	metrics.SetAccount(acct.Cash, acct.TotalAssets)
}

func lastClose(bars []domain.DailyBar) float64 {
	if len(bars) == 0 {
		return 0
	}
	return bars[len(bars)-1].Close
}

func orUnknown(name string) string {
	if name == "" {
		return "unknown"
	}
	return name
}
