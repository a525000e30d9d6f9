package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/parquet-go/parquet-go"

	"tradeagent/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetBarStore)(nil)

// ParquetBarStore implements BarStore using Parquet files on disk, one file
// per instrument and year:
//
//	<DataDir>/cn/daily/<CODE>/<YYYY>.parquet
type ParquetBarStore struct {
	DataDir string
}

// NewParquetBarStore creates a ParquetBarStore rooted at the given data
// directory.
func NewParquetBarStore(dataDir string) *ParquetBarStore {
	return &ParquetBarStore{DataDir: dataDir}
}

// barRecord is the on-disk Parquet schema for daily bars.
type barRecord struct {
	Code      string  `parquet:"code"`
	TradeDate string  `parquet:"trade_date"` // YYYYMMDD
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	PreClose  float64 `parquet:"pre_close"`
	Change    float64 `parquet:"change"`
	PctChg    float64 `parquet:"pct_chg"`
	Volume    float64 `parquet:"volume"`
	Amount    float64 `parquet:"amount"`
}

// WriteDailyBars writes bars grouped by instrument and year, merging with
// any bars already on disk for the same file.
func (s *ParquetBarStore) WriteDailyBars(_ context.Context, bars []domain.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		code string
		year string
	}
	groups := make(map[key][]barRecord)
	for _, b := range bars {
		if len(b.TradeDate) < 4 {
			return fmt.Errorf("bad trade date %q for %s", b.TradeDate, b.Code)
		}
		k := key{code: b.Code, year: b.TradeDate[:4]}
		groups[k] = append(groups[k], barRecord{
			Code:      b.Code,
			TradeDate: b.TradeDate,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			PreClose:  b.PreClose,
			Change:    b.Change,
			PctChg:    b.PctChg,
			Volume:    b.Volume,
			Amount:    b.Amount,
		})
	}

	for k, records := range groups {
		path := s.barPath(k.code, k.year)

		// Read existing records to merge; a missing file means a fresh year.
		existing, _ := readParquetFile[barRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%s: %w", k.code, k.year, err)
		}
	}
	return nil
}

// ReadDailyBars reads bars for the code within [start, end], ascending by
// trade date. Years with no file are skipped.
func (s *ParquetBarStore) ReadDailyBars(_ context.Context, code, start, end string) ([]domain.DailyBar, error) {
	startYear, err := strconv.Atoi(yearOf(start))
	if err != nil {
		return nil, fmt.Errorf("bad start date %q", start)
	}
	endYear, err := strconv.Atoi(yearOf(end))
	if err != nil {
		return nil, fmt.Errorf("bad end date %q", end)
	}

	var bars []domain.DailyBar
	for year := startYear; year <= endYear; year++ {
		path := s.barPath(code, strconv.Itoa(year))
		records, err := readParquetFile[barRecord](path)
		if err != nil {
			continue
		}
		for _, r := range records {
			if r.TradeDate < start || r.TradeDate > end {
				continue
			}
			bars = append(bars, domain.DailyBar{
				Code:      r.Code,
				TradeDate: r.TradeDate,
				Open:      r.Open,
				High:      r.High,
				Low:       r.Low,
				Close:     r.Close,
				PreClose:  r.PreClose,
				Change:    r.Change,
				PctChg:    r.PctChg,
				Volume:    r.Volume,
				Amount:    r.Amount,
			})
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].TradeDate < bars[j].TradeDate })
	return bars, nil
}

// ListCodes returns all instrument codes with stored bars.
func (s *ParquetBarStore) ListCodes(_ context.Context) ([]string, error) {
	dir := filepath.Join(s.DataDir, "cn", "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var codes []string
	for _, e := range entries {
		if e.IsDir() {
			codes = append(codes, e.Name())
		}
	}
	sort.Strings(codes)
	return codes, nil
}

// barPath returns the filesystem path for a bar Parquet file.
func (s *ParquetBarStore) barPath(code, year string) string {
	return filepath.Join(s.DataDir, "cn", "daily", code, year+".parquet")
}

func yearOf(date string) string {
	if len(date) < 4 {
		return date
	}
	return date[:4]
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

// mergeBarRecords deduplicates by (code, trade_date), preferring incoming
// records. Results are sorted by trade date.
func mergeBarRecords(existing, incoming []barRecord) []barRecord {
	type key struct {
		code string
		date string
	}
	seen := make(map[key]barRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Code, r.TradeDate}] = r
	}
	for _, r := range incoming {
		seen[key{r.Code, r.TradeDate}] = r
	}

	merged := make([]barRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].TradeDate < merged[j].TradeDate })
	return merged
}
