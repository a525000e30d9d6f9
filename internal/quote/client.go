package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"tradeagent/internal/domain"
	"tradeagent/internal/util"
)

// HTTPClient implements Provider against a tushare-style JSON API: every
// request is a POST carrying an api name, a token, parameters, and the
// wanted fields; every response is a column-oriented table.
type HTTPClient struct {
	baseURL string
	token   string
	httpc   *http.Client
	limiter *util.RateLimiter
	log     *slog.Logger
}

// Compile-time interface check.
var _ Provider = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the given endpoint. The timeout bounds
// every request; perMinute paces the outbound call rate.
func NewHTTPClient(baseURL, token string, timeout time.Duration, perMinute int, log *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: timeout},
		limiter: util.NewRateLimiter(perMinute),
		log:     log,
	}
}

// --- wire format ---

type apiRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields,omitempty"`
}

type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Fields []string `json:"fields"`
		Items  [][]any  `json:"items"`
	} `json:"data"`
}

// call performs one API request and returns the rows as field-name maps.
// A transient failure gets a single retry.
func (c *HTTPClient) call(ctx context.Context, apiName string, params map[string]string, fields string) ([]map[string]any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(apiRequest{
		APIName: apiName,
		Token:   c.token,
		Params:  params,
		Fields:  fields,
	})
	if err != nil {
		return nil, err
	}

	var out apiResponse
	err = util.Retry(ctx, 2, time.Second, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: status %d", apiName, resp.StatusCode)
		}
		out = apiResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return err
		}
		if out.Code != 0 {
			return fmt.Errorf("%s: api error %d: %s", apiName, out.Code, out.Msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]any, 0, len(out.Data.Items))
	for _, item := range out.Data.Items {
		row := make(map[string]any, len(out.Data.Fields))
		for i, f := range out.Data.Fields {
			if i < len(item) {
				row[f] = item[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// --- Provider implementation ---

// GetPrice returns the last traded price for an instrument.
func (c *HTTPClient) GetPrice(ctx context.Context, code string) (float64, error) {
	rows, err := c.call(ctx, "realtime_quote", map[string]string{"ts_code": code}, "ts_code,price,close")
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, ErrUnavailable
	}
	if p := asFloat(rows[0]["price"]); p > 0 {
		return p, nil
	}
	if p := asFloat(rows[0]["close"]); p > 0 {
		return p, nil
	}
	return 0, ErrUnavailable
}

// GetBatchPrices fetches last prices for a set of instruments in one call.
func (c *HTTPClient) GetBatchPrices(ctx context.Context, codes []string) (map[string]float64, error) {
	if len(codes) == 0 {
		return map[string]float64{}, nil
	}
	rows, err := c.call(ctx, "realtime_quote",
		map[string]string{"ts_code": joinCodes(codes)}, "ts_code,price,close")
	if err != nil {
		return nil, err
	}

	prices := make(map[string]float64, len(rows))
	for _, row := range rows {
		code, _ := row["ts_code"].(string)
		if code == "" {
			continue
		}
		p := asFloat(row["price"])
		if p <= 0 {
			p = asFloat(row["close"])
		}
		if p > 0 {
			prices[code] = p
		}
	}
	return prices, nil
}

// GetSnapshot returns the full real-time quote for an instrument.
func (c *HTTPClient) GetSnapshot(ctx context.Context, code string) (*domain.QuoteSnapshot, error) {
	rows, err := c.call(ctx, "realtime_quote", map[string]string{"ts_code": code},
		"ts_code,name,price,open,high,low,pre_close,bid,ask,volume")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrUnavailable
	}

	row := rows[0]
	snap := &domain.QuoteSnapshot{
		Code:     code,
		Price:    asFloat(row["price"]),
		Open:     asFloat(row["open"]),
		High:     asFloat(row["high"]),
		Low:      asFloat(row["low"]),
		PreClose: asFloat(row["pre_close"]),
		Bid:      asFloat(row["bid"]),
		Ask:      asFloat(row["ask"]),
		Volume:   int64(asFloat(row["volume"])),
		Time:     time.Now(),
	}
	if name, ok := row["name"].(string); ok {
		snap.Name = name
	}
	if snap.Price <= 0 {
		return nil, ErrUnavailable
	}
	return snap, nil
}

// GetDailyBars returns daily bars within [start, end], ascending by date.
func (c *HTTPClient) GetDailyBars(ctx context.Context, code, start, end string) ([]domain.DailyBar, error) {
	rows, err := c.call(ctx, "daily",
		map[string]string{"ts_code": code, "start_date": start, "end_date": end},
		"ts_code,trade_date,open,high,low,close,pre_close,change,pct_chg,vol,amount")
	if err != nil {
		return nil, err
	}

	bars := make([]domain.DailyBar, 0, len(rows))
	for _, row := range rows {
		date, _ := row["trade_date"].(string)
		bars = append(bars, domain.DailyBar{
			Code:      code,
			TradeDate: date,
			Open:      asFloat(row["open"]),
			High:      asFloat(row["high"]),
			Low:       asFloat(row["low"]),
			Close:     asFloat(row["close"]),
			PreClose:  asFloat(row["pre_close"]),
			Change:    asFloat(row["change"]),
			PctChg:    asFloat(row["pct_chg"]),
			Volume:    asFloat(row["vol"]),
			Amount:    asFloat(row["amount"]),
		})
	}
	// The API returns newest first; callers want ascending.
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// GetDailyMetrics returns screening indicators for all stocks on a date.
func (c *HTTPClient) GetDailyMetrics(ctx context.Context, tradeDate string) ([]domain.DailyMetric, error) {
	rows, err := c.call(ctx, "daily_basic",
		map[string]string{"trade_date": tradeDate},
		"ts_code,close,turnover_rate,volume_ratio,pct_chg")
	if err != nil {
		return nil, err
	}

	metrics := make([]domain.DailyMetric, 0, len(rows))
	for _, row := range rows {
		code, _ := row["ts_code"].(string)
		if code == "" {
			continue
		}
		metrics = append(metrics, domain.DailyMetric{
			Code:         code,
			Close:        asFloat(row["close"]),
			TurnoverRate: asFloat(row["turnover_rate"]),
			VolumeRatio:  asFloat(row["volume_ratio"]),
			PctChg:       asFloat(row["pct_chg"]),
		})
	}
	return metrics, nil
}

// GetName returns the display name for an instrument, or "" when unknown.
func (c *HTTPClient) GetName(ctx context.Context, code string) (string, error) {
	rows, err := c.call(ctx, "stock_basic", map[string]string{"ts_code": code}, "ts_code,name")
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	name, _ := rows[0]["name"].(string)
	return name, nil
}

// asFloat coerces the loosely typed JSON table cells to float64.
func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0
		}
		return f
	case json.Number:
		f, _ := x.Float64()
		return f
	}
	return 0
}

func joinCodes(codes []string) string {
	out := ""
	for i, c := range codes {
		if i > 0 {
			out += ","
		}
		out += c
	}
	return out
}
