package httpapi

// AccountResponse is the account snapshot.
type AccountResponse struct {
	Cash        float64 `json:"cash"`
	MarketValue float64 `json:"marketValue"`
	TotalAssets float64 `json:"totalAssets"`
	UpdatedAt   string  `json:"updatedAt"`
}

// PositionResponse is one held position.
type PositionResponse struct {
	Code            string  `json:"code"`
	Name            string  `json:"name"`
	Volume          int64   `json:"volume"`
	VolumeAvailable int64   `json:"volumeAvailable"`
	AvgPrice        float64 `json:"avgPrice"`
	CurrentPrice    float64 `json:"currentPrice"`
	MarketValue     float64 `json:"marketValue"`
	PnLPct          float64 `json:"pnlPct"`
}

// OrderResponse is one row of the trade log.
type OrderResponse struct {
	OrderID   string  `json:"orderId"`
	Code      string  `json:"code"`
	Action    string  `json:"action"`
	Price     float64 `json:"price"`
	Volume    int64   `json:"volume"`
	Reason    string  `json:"reason"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"createdAt"`
}

// MonitorResponse is one price monitor record.
type MonitorResponse struct {
	ID           int64   `json:"id"`
	Code         string  `json:"code"`
	TriggerPrice float64 `json:"triggerPrice"`
	Operator     string  `json:"operator"`
	MonitorType  string  `json:"monitorType"`
	Reason       string  `json:"reason"`
	Status       string  `json:"status"`
	WarningSent  bool    `json:"warningSent"`
	TriggeredAt  string  `json:"triggeredAt,omitempty"`
	CreatedAt    string  `json:"createdAt"`
}
