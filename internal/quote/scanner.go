package quote

import (
	"context"
	"sort"

	"tradeagent/internal/domain"
)

// Screening thresholds for the hot-stock scan: actively traded names on
// elevated volume with a meaningful but not limit-up gain.
const (
	scanMinTurnoverRate = 5.0
	scanMinVolumeRatio  = 1.5
	scanMinPctChg       = 3.0
	scanMaxPctChg       = 9.5
)

// ScanHotStocks screens the whole market on a trade date and returns up to
// limit candidate codes, strongest volume ratio first.
func ScanHotStocks(ctx context.Context, p Provider, tradeDate string, limit int) ([]string, error) {
	metrics, err := p.GetDailyMetrics(ctx, tradeDate)
	if err != nil {
		return nil, err
	}

	var candidates []domain.DailyMetric
	for _, m := range metrics {
		if m.TurnoverRate > scanMinTurnoverRate &&
			m.VolumeRatio > scanMinVolumeRatio &&
			m.PctChg > scanMinPctChg &&
			m.PctChg < scanMaxPctChg {
			candidates = append(candidates, m)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].VolumeRatio > candidates[j].VolumeRatio
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	codes := make([]string, 0, len(candidates))
	for _, m := range candidates {
		codes = append(codes, m.Code)
	}
	return codes, nil
}
