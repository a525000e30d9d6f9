package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"tradeagent/internal/domain"
	"tradeagent/internal/notify"
	"tradeagent/internal/quote"
	"tradeagent/internal/risk"
	"tradeagent/internal/store"
	"tradeagent/internal/trader"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeQuotes serves fixed prices.
type fakeQuotes struct {
	quote.Provider
	prices map[string]float64
}

func (f *fakeQuotes) GetBatchPrices(_ context.Context, codes []string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, c := range codes {
		if p, ok := f.prices[c]; ok {
			out[c] = p
		}
	}
	return out, nil
}

func (f *fakeQuotes) GetSnapshot(_ context.Context, code string) (*domain.QuoteSnapshot, error) {
	p, ok := f.prices[code]
	if !ok {
		return nil, quote.ErrUnavailable
	}
	return &domain.QuoteSnapshot{Code: code, Price: p}, nil
}

// fakeAnalyst returns a fixed recommendation and counts calls.
type fakeAnalyst struct {
	mu    sync.Mutex
	rec   *domain.Recommendation
	err   error
	calls int
}

func (f *fakeAnalyst) AnalyzeTrigger(_ context.Context, mon domain.PriceMonitor, _ float64, _ *domain.QuoteSnapshot, _ *domain.Position) (*domain.Recommendation, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	rec := *f.rec
	rec.Code = mon.Code
	return &rec, nil
}

// recordingNotifier captures sent messages.
type recordingNotifier struct {
	mu        sync.Mutex
	texts     []string
	markdowns []string
}

func (r *recordingNotifier) SendText(_ context.Context, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, msg)
	return nil
}

func (r *recordingNotifier) SendMarkdown(_ context.Context, title, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markdowns = append(r.markdowns, title+"\n"+text)
	return nil
}

var _ notify.Notifier = (*recordingNotifier)(nil)

type fixture struct {
	store    *store.SQLiteStore
	svc      *Service
	quotes   *fakeQuotes
	analyst  *fakeAnalyst
	notifier *recordingNotifier
	trader   *trader.Trader
}

func newFixture(t *testing.T, cash float64) *fixture {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.EnsureAccount(context.Background(), cash); err != nil {
		t.Fatalf("seeding account: %v", err)
	}

	log := testLogger()
	quotes := &fakeQuotes{prices: map[string]float64{}}
	analyst := &fakeAnalyst{}
	notifier := &recordingNotifier{}
	tr := trader.New(st, log)
	gate := risk.NewGate(1.0, 2, log)
	svc := New(st, st, quotes, analyst, gate, tr, notifier, log)

	return &fixture{store: st, svc: svc, quotes: quotes, analyst: analyst, notifier: notifier, trader: tr}
}

func (f *fixture) addMonitor(t *testing.T, code string, trigger float64, op domain.Operator) int64 {
	t.Helper()
	id, err := f.store.CreateMonitor(context.Background(), domain.PriceMonitor{
		Code:         code,
		TriggerPrice: trigger,
		Operator:     op,
		MonitorType:  "STOP_LOSS",
		Reason:       "test",
		Status:       domain.MonitorActive,
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("creating monitor: %v", err)
	}
	return id
}

func TestRunCheckNoMonitors(t *testing.T) {
	f := newFixture(t, 100000)
	if err := f.svc.RunCheck(context.Background()); err != nil {
		t.Fatalf("RunCheck: %v", err)
	}
}

func TestRunCheckWarningBand(t *testing.T) {
	f := newFixture(t, 100000)
	f.addMonitor(t, "600519.SH", 100, domain.OperatorGT)
	f.quotes.prices["600519.SH"] = 99.5 // 0.5% away, inside the 1% band

	if err := f.svc.RunCheck(context.Background()); err != nil {
		t.Fatalf("RunCheck: %v", err)
	}
	if len(f.notifier.texts) != 1 {
		t.Fatalf("got %d warnings, want 1", len(f.notifier.texts))
	}

	// A second cycle in the band must not warn again.
	if err := f.svc.RunCheck(context.Background()); err != nil {
		t.Fatalf("RunCheck: %v", err)
	}
	if len(f.notifier.texts) != 1 {
		t.Errorf("got %d warnings after second cycle, want 1", len(f.notifier.texts))
	}
	if f.analyst.calls != 0 {
		t.Errorf("analyst called %d times in warning band", f.analyst.calls)
	}
}

func TestRunCheckOutsideWarningBand(t *testing.T) {
	f := newFixture(t, 100000)
	f.addMonitor(t, "600519.SH", 100, domain.OperatorGT)
	f.quotes.prices["600519.SH"] = 95 // 5% away

	if err := f.svc.RunCheck(context.Background()); err != nil {
		t.Fatalf("RunCheck: %v", err)
	}
	if len(f.notifier.texts) != 0 {
		t.Errorf("got %d warnings, want 0", len(f.notifier.texts))
	}
}

func TestRunCheckTriggerInclusive(t *testing.T) {
	f := newFixture(t, 100000)
	f.addMonitor(t, "600519.SH", 100, domain.OperatorGT)
	f.quotes.prices["600519.SH"] = 100 // exactly at trigger fires
	f.analyst.rec = &domain.Recommendation{Action: domain.ActionWait, Confidence: 9, Reason: "stand by"}

	if err := f.svc.RunCheck(context.Background()); err != nil {
		t.Fatalf("RunCheck: %v", err)
	}
	if f.analyst.calls != 1 {
		t.Fatalf("analyst calls = %d, want 1", f.analyst.calls)
	}

	active, err := f.store.ListActiveMonitors(context.Background())
	if err != nil {
		t.Fatalf("listing monitors: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("monitor still active after trigger")
	}
}

func TestTriggerExecutesBuy(t *testing.T) {
	f := newFixture(t, 100000)
	f.addMonitor(t, "600519.SH", 100, domain.OperatorLT)
	f.quotes.prices["600519.SH"] = 99
	f.analyst.rec = &domain.Recommendation{Action: domain.ActionBuy, Confidence: 8, Reason: "dip entry"}

	if err := f.svc.RunCheck(context.Background()); err != nil {
		t.Fatalf("RunCheck: %v", err)
	}

	pos, err := f.store.GetPosition(context.Background(), "600519.SH")
	if err != nil {
		t.Fatalf("position not created: %v", err)
	}
	// Budget is min(50000, 20% of 100000) = 20000; at 99 that is 200 shares.
	if pos.Volume != 200 {
		t.Errorf("volume = %d, want 200", pos.Volume)
	}
	if len(f.notifier.markdowns) != 1 {
		t.Errorf("got %d markdown notifications, want 1", len(f.notifier.markdowns))
	}
}

func TestTriggerStopLossSellsAll(t *testing.T) {
	f := newFixture(t, 100000)
	ctx := context.Background()

	tr := f.trader
	if _, err := tr.ExecuteBuy(ctx, "600519.SH", "Moutai", 20000, 100, "entry"); err != nil {
		t.Fatalf("seeding position: %v", err)
	}
	if err := tr.SettlePositions(ctx); err != nil {
		t.Fatalf("settling: %v", err)
	}

	f.addMonitor(t, "600519.SH", 95, domain.OperatorLT)
	f.quotes.prices["600519.SH"] = 94
	f.analyst.rec = &domain.Recommendation{Action: domain.ActionStopLoss, Confidence: 9, Reason: "support broken"}

	if err := f.svc.RunCheck(ctx); err != nil {
		t.Fatalf("RunCheck: %v", err)
	}

	if _, err := f.store.GetPosition(ctx, "600519.SH"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("position error = %v, want ErrNotFound after full exit", err)
	}
}

func TestTriggerLowConfidenceNoAction(t *testing.T) {
	f := newFixture(t, 100000)
	f.addMonitor(t, "600519.SH", 100, domain.OperatorGT)
	f.quotes.prices["600519.SH"] = 101
	f.analyst.rec = &domain.Recommendation{Action: domain.ActionBuy, Confidence: 5, Reason: "weak"}

	if err := f.svc.RunCheck(context.Background()); err != nil {
		t.Fatalf("RunCheck: %v", err)
	}

	if _, err := f.store.GetPosition(context.Background(), "600519.SH"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unexpected position after low-confidence trigger")
	}
	// Record is consumed even when no instruction results.
	active, _ := f.store.ListActiveMonitors(context.Background())
	if len(active) != 0 {
		t.Errorf("monitor still active")
	}
	if len(f.notifier.texts) != 1 {
		t.Fatalf("got %d text notifications, want 1", len(f.notifier.texts))
	}
	if !strings.Contains(f.notifier.texts[0], "no action") {
		t.Errorf("notification %q does not report the no-action outcome", f.notifier.texts[0])
	}
}

func TestTriggerAnalysisErrorConsumesMonitor(t *testing.T) {
	f := newFixture(t, 100000)
	f.addMonitor(t, "600519.SH", 100, domain.OperatorGT)
	f.quotes.prices["600519.SH"] = 101
	f.analyst.err = errors.New("llm down")

	if err := f.svc.RunCheck(context.Background()); err != nil {
		t.Fatalf("RunCheck: %v", err)
	}
	active, _ := f.store.ListActiveMonitors(context.Background())
	if len(active) != 0 {
		t.Errorf("monitor still active after analysis failure")
	}
	if len(f.notifier.texts) != 1 {
		t.Fatalf("got %d text notifications, want 1", len(f.notifier.texts))
	}
	if !strings.Contains(f.notifier.texts[0], "analysis failed") {
		t.Errorf("notification %q does not report the analysis failure", f.notifier.texts[0])
	}
}

func TestTriggerExecutionRejectedNotifies(t *testing.T) {
	// Cash 6000 passes the trigger-buy floor but yields a budget of 1200,
	// below one lot at 101, so the order is rejected at execution.
	f := newFixture(t, 6000)
	f.addMonitor(t, "600519.SH", 100, domain.OperatorGT)
	f.quotes.prices["600519.SH"] = 101
	f.analyst.rec = &domain.Recommendation{Action: domain.ActionBuy, Confidence: 9, Reason: "breakout"}

	if err := f.svc.RunCheck(context.Background()); err != nil {
		t.Fatalf("RunCheck: %v", err)
	}

	if _, err := f.store.GetPosition(context.Background(), "600519.SH"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unexpected position after rejected buy")
	}
	if len(f.notifier.markdowns) != 0 {
		t.Errorf("got %d markdown notifications, want 0", len(f.notifier.markdowns))
	}
	if len(f.notifier.texts) != 1 {
		t.Fatalf("got %d text notifications, want 1", len(f.notifier.texts))
	}
	if !strings.Contains(f.notifier.texts[0], "rejected by execution") {
		t.Errorf("notification %q does not report the rejection", f.notifier.texts[0])
	}
}

func TestConcurrentCyclesFireOnce(t *testing.T) {
	f := newFixture(t, 100000)
	f.addMonitor(t, "600519.SH", 100, domain.OperatorGT)
	f.quotes.prices["600519.SH"] = 101
	f.analyst.rec = &domain.Recommendation{Action: domain.ActionWait, Confidence: 9, Reason: "stand by"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.svc.RunCheck(context.Background())
		}()
	}
	wg.Wait()

	if f.analyst.calls != 1 {
		t.Errorf("analyst calls = %d, want exactly 1 across concurrent cycles", f.analyst.calls)
	}
}

func TestCreateFromSetup(t *testing.T) {
	f := newFixture(t, 100000)
	ctx := context.Background()

	setup := domain.MonitorSetup{TriggerPrice: 95, Operator: domain.OperatorLT, MonitorType: "STOP_LOSS", Reason: "support"}
	id, err := f.svc.CreateFromSetup(ctx, "600519.SH", setup, 100)
	if err != nil {
		t.Fatalf("CreateFromSetup: %v", err)
	}
	if id == 0 {
		t.Error("id = 0")
	}

	// Same code and direction again is a duplicate.
	if _, err := f.svc.CreateFromSetup(ctx, "600519.SH", setup, 100); !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}

	// Opposite direction is allowed.
	up := domain.MonitorSetup{TriggerPrice: 110, Operator: domain.OperatorGT, MonitorType: "TAKE_PROFIT", Reason: "target"}
	if _, err := f.svc.CreateFromSetup(ctx, "600519.SH", up, 100); err != nil {
		t.Errorf("opposite direction rejected: %v", err)
	}
}

func TestCreateFromSetupTooClose(t *testing.T) {
	f := newFixture(t, 100000)
	setup := domain.MonitorSetup{TriggerPrice: 100.2, Operator: domain.OperatorGT, MonitorType: "BREAKOUT", Reason: "x"}
	if _, err := f.svc.CreateFromSetup(context.Background(), "600519.SH", setup, 100); !errors.Is(err, ErrTooClose) {
		t.Errorf("err = %v, want ErrTooClose", err)
	}
}

func TestCreateFromSetupInvalid(t *testing.T) {
	f := newFixture(t, 100000)
	ctx := context.Background()
	if _, err := f.svc.CreateFromSetup(ctx, "600519.SH", domain.MonitorSetup{TriggerPrice: 0, Operator: domain.OperatorGT}, 100); err == nil {
		t.Error("zero trigger accepted")
	}
	if _, err := f.svc.CreateFromSetup(ctx, "600519.SH", domain.MonitorSetup{TriggerPrice: 95, Operator: "between"}, 100); err == nil {
		t.Error("bad operator accepted")
	}
}

func TestResetDaily(t *testing.T) {
	f := newFixture(t, 100000)
	ctx := context.Background()
	f.addMonitor(t, "600519.SH", 100, domain.OperatorGT)
	f.addMonitor(t, "000001.SZ", 10, domain.OperatorLT)

	if err := f.svc.ResetDaily(ctx); err != nil {
		t.Fatalf("ResetDaily: %v", err)
	}
	all, err := f.store.ListMonitors(ctx)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("got %d monitors after reset, want 0", len(all))
	}
}
