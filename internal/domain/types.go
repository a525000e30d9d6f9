// Package domain defines the plain value types shared across the trading
// agent: ledger records, price monitors, quotes, and analysis results.
package domain

import (
	"math"
	"time"
)

// OrderAction is the direction recorded on an executed order.
type OrderAction string

const (
	OrderActionBuy  OrderAction = "BUY"
	OrderActionSell OrderAction = "SELL"
)

// Recommendation actions produced by the analysis collaborators. BUY and the
// sell family flow into instructions; HOLD and WAIT produce nothing.
const (
	ActionBuy        = "BUY"
	ActionSellAll    = "SELL_ALL"
	ActionSellHalf   = "SELL_HALF"
	ActionStopLoss   = "STOP_LOSS"
	ActionTakeProfit = "TAKE_PROFIT"
	ActionHold       = "HOLD"
	ActionWait       = "WAIT"
)

// OrderStatus values for the append-only order log.
const (
	OrderStatusFilled    = "FILLED"
	OrderStatusCancelled = "CANCELLED"
)

// Account is the single simulated trading account (id 1).
type Account struct {
	ID          int64
	Cash        float64
	MarketValue float64
	TotalAssets float64
	UpdatedAt   time.Time
}

// Position is the current holding for one instrument. Volume counts all
// shares held; VolumeAvailable counts the shares eligible to sell today
// (T+1: shares bought today become available after settlement).
type Position struct {
	Code            string
	Name            string
	Volume          int64
	VolumeAvailable int64
	AvgPrice        float64
	CurrentPrice    float64
	MarketValue     float64
	Profit          float64
	LastUpdated     time.Time
}

// PnLPct returns the unrealized profit percentage against the average entry
// price, rounded to two decimals.
func (p Position) PnLPct() float64 {
	if p.AvgPrice <= 0 {
		return 0
	}
	return math.Round((p.CurrentPrice-p.AvgPrice)/p.AvgPrice*100*100) / 100
}

// Order is one row of the append-only trade log. Never mutated after insert.
type Order struct {
	OrderID    string
	Code       string
	Action     OrderAction
	Price      float64
	Volume     int64
	Commission float64
	Reason     string
	Status     string
	CreatedAt  time.Time
}

// MonitorStatus is the lifecycle state of a price monitor. TRIGGERED is
// terminal; a new record must be created to watch the same condition again.
type MonitorStatus string

const (
	MonitorActive    MonitorStatus = "ACTIVE"
	MonitorTriggered MonitorStatus = "TRIGGERED"
)

// Operator selects the firing direction of a price monitor.
type Operator string

const (
	OperatorGT Operator = "gt" // fires when price >= trigger
	OperatorLT Operator = "lt" // fires when price <= trigger
)

// PriceMonitor is a stored price condition watched by the monitor service.
type PriceMonitor struct {
	ID           int64
	Code         string
	TriggerPrice float64
	Operator     Operator
	MonitorType  string
	Reason       string
	Status       MonitorStatus
	IsActive     bool
	WarningSent  bool
	TriggeredAt  *time.Time
	CreatedAt    time.Time
}

// Fires reports whether the monitor condition is met at the given price.
// Both operators are inclusive of the trigger price.
func (m PriceMonitor) Fires(price float64) bool {
	switch m.Operator {
	case OperatorGT:
		return price >= m.TriggerPrice
	case OperatorLT:
		return price <= m.TriggerPrice
	}
	return false
}

// QuoteSnapshot is a detailed real-time quote for one instrument.
type QuoteSnapshot struct {
	Code     string
	Name     string
	Price    float64
	Open     float64
	High     float64
	Low      float64
	PreClose float64
	Bid      float64
	Ask      float64
	Volume   int64
	Time     time.Time
}

// DailyBar is one day of OHLCV history for an instrument.
type DailyBar struct {
	Code      string
	TradeDate string // YYYYMMDD
	Open      float64
	High      float64
	Low       float64
	Close     float64
	PreClose  float64
	Change    float64
	PctChg    float64
	Volume    float64
	Amount    float64
}

// DailyMetric is one day of per-stock screening indicators used by the
// market scanner.
type DailyMetric struct {
	Code         string
	Close        float64
	TurnoverRate float64
	VolumeRatio  float64
	PctChg       float64
}

// MonitorSetup is a watch condition proposed by the analysis step.
type MonitorSetup struct {
	TriggerPrice float64  `json:"trigger_price"`
	Operator     Operator `json:"operator"`
	MonitorType  string   `json:"monitor_type"`
	Reason       string   `json:"reason"`
}

// Recommendation is the structured output of an analysis call. The core
// consumes its declared fields and never interprets the free-text reason.
type Recommendation struct {
	Code       string        `json:"code"`
	Action     string        `json:"action"`
	Confidence float64       `json:"confidence"`
	Reason     string        `json:"reason"`
	PriceLimit float64       `json:"price_limit,omitempty"`
	Monitor    *MonitorSetup `json:"monitor,omitempty"`
}

// BuyAllocation is a budgeted buy produced by the decision step, before the
// risk gate clamps it.
type BuyAllocation struct {
	Code   string  `json:"code"`
	Budget float64 `json:"budget"`
	Reason string  `json:"reason"`
}

// Instruction is a single buy or sell request handed to the execution
// engine. Budget applies to buys only; sells derive volume from the
// position's available shares.
type Instruction struct {
	Code   string
	Name   string
	Action string
	Budget float64
	Price  float64
	Reason string
}
