package analysis

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"tradeagent/internal/domain"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

func renderPrompt(name string, data any) (string, error) {
	var b strings.Builder
	if err := prompts.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return b.String(), nil
}

// Analyst reviews instruments and positions and produces structured
// recommendations.
type Analyst struct {
	client ChatClient
	log    *slog.Logger
	now    func() time.Time
}

// NewAnalyst creates an Analyst over the given chat client.
func NewAnalyst(client ChatClient, log *slog.Logger) *Analyst {
	return &Analyst{client: client, log: log, now: time.Now}
}

func (a *Analyst) recommend(ctx context.Context, promptName string, data any) (*domain.Recommendation, error) {
	prompt, err := renderPrompt(promptName, data)
	if err != nil {
		return nil, err
	}
	reply, err := a.client.Complete(ctx, prompt, true)
	if err != nil {
		return nil, err
	}
	var rec domain.Recommendation
	if err := decodeJSON(reply, &rec); err != nil {
		return nil, fmt.Errorf("parsing recommendation: %w", err)
	}
	return &rec, nil
}

type preMarketData struct {
	Now  string
	Code string
	Bars []domain.DailyBar
	News string
}

// AnalyzePreMarket reviews recent history and news for one instrument and
// recommends BUY or WAIT, optionally with a price monitor to set.
func (a *Analyst) AnalyzePreMarket(ctx context.Context, code string, bars []domain.DailyBar, newsContext string) (*domain.Recommendation, error) {
	a.log.Info("analyzing pre-market", "code", code, "bars", len(bars))
	rec, err := a.recommend(ctx, "pre_market.tmpl", preMarketData{
		Now:  a.now().Format("2006-01-02 15:04:05"),
		Code: code,
		Bars: bars,
		News: newsContext,
	})
	if err != nil {
		return nil, err
	}
	rec.Code = code
	return rec, nil
}

type intradayData struct {
	Now      string
	Code     string
	Price    float64
	Open     float64
	High     float64
	Low      float64
	PreClose float64
	Held     bool
	Volume   int64
	AvgPrice float64
	PnLPct   float64
	News     string
}

// AnalyzeIntraday assesses an instrument mid-session. pos may be nil when
// the instrument is not held.
func (a *Analyst) AnalyzeIntraday(ctx context.Context, snap *domain.QuoteSnapshot, pos *domain.Position, newsContext string) (*domain.Recommendation, error) {
	data := intradayData{
		Now:      a.now().Format("2006-01-02 15:04:05"),
		Code:     snap.Code,
		Price:    snap.Price,
		Open:     snap.Open,
		High:     snap.High,
		Low:      snap.Low,
		PreClose: snap.PreClose,
		News:     newsContext,
	}
	if pos != nil {
		data.Held = true
		data.Volume = pos.Volume
		data.AvgPrice = pos.AvgPrice
		data.PnLPct = pos.PnLPct()
	}
	a.log.Info("analyzing intraday", "code", snap.Code, "held", data.Held)
	rec, err := a.recommend(ctx, "intraday.tmpl", data)
	if err != nil {
		return nil, err
	}
	rec.Code = snap.Code
	return rec, nil
}

type preCloseData struct {
	Now      string
	Code     string
	Volume   int64
	AvgPrice float64
	Price    float64
	PnLPct   float64
	Open     float64
	High     float64
	Low      float64
	PreClose float64
}

// AnalyzePreClose reviews a held position before the close and recommends
// keeping or exiting it.
func (a *Analyst) AnalyzePreClose(ctx context.Context, pos domain.Position, snap *domain.QuoteSnapshot) (*domain.Recommendation, error) {
	data := preCloseData{
		Now:      a.now().Format("2006-01-02 15:04:05"),
		Code:     pos.Code,
		Volume:   pos.Volume,
		AvgPrice: pos.AvgPrice,
		Price:    pos.CurrentPrice,
		PnLPct:   pos.PnLPct(),
	}
	if snap != nil {
		data.Price = snap.Price
		data.Open = snap.Open
		data.High = snap.High
		data.Low = snap.Low
		data.PreClose = snap.PreClose
	}
	a.log.Info("analyzing pre-close", "code", pos.Code, "pnl_pct", data.PnLPct)
	rec, err := a.recommend(ctx, "pre_close.tmpl", data)
	if err != nil {
		return nil, err
	}
	rec.Code = pos.Code
	return rec, nil
}

type triggerData struct {
	Code         string
	TriggerPrice float64
	Operator     string
	MonitorType  string
	Reason       string
	Price        float64
	HasSnapshot  bool
	Open         float64
	High         float64
	Low          float64
	PreClose     float64
	Bid          float64
	Ask          float64
	Held         bool
	Volume       int64
	AvgPrice     float64
	PnLPct       float64
}

// AnalyzeTrigger evaluates a fired price monitor. snap and pos may be nil.
func (a *Analyst) AnalyzeTrigger(ctx context.Context, mon domain.PriceMonitor, price float64, snap *domain.QuoteSnapshot, pos *domain.Position) (*domain.Recommendation, error) {
	data := triggerData{
		Code:         mon.Code,
		TriggerPrice: mon.TriggerPrice,
		Operator:     string(mon.Operator),
		MonitorType:  mon.MonitorType,
		Reason:       mon.Reason,
		Price:        price,
	}
	if snap != nil {
		data.HasSnapshot = true
		data.Open = snap.Open
		data.High = snap.High
		data.Low = snap.Low
		data.PreClose = snap.PreClose
		data.Bid = snap.Bid
		data.Ask = snap.Ask
	}
	if pos != nil {
		data.Held = true
		data.Volume = pos.Volume
		data.AvgPrice = pos.AvgPrice
		data.PnLPct = pos.PnLPct()
	}
	a.log.Info("analyzing trigger", "code", mon.Code, "monitor_id", mon.ID, "price", price)
	rec, err := a.recommend(ctx, "trigger.tmpl", data)
	if err != nil {
		return nil, err
	}
	rec.Code = mon.Code
	return rec, nil
}
