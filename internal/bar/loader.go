package bar

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jax-quant/backtest/internal/timeframe"
)

// LoadCSV reads an OHLCV CSV file into a []Bar, sorted ascending by time.
// Expected header (case-insensitive): time,open,high,low,close,volume.
// Adapted from the teacher's libs/dataset.LoadCSV, swapping float64 columns
// for decimal.Decimal so price arithmetic downstream stays exact.
func LoadCSV(path string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bar: opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("bar: reading header of %s: %w", path, err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idx := func(name string) (int, error) {
		i, ok := col[name]
		if !ok {
			return 0, fmt.Errorf("bar: %s missing column %q", path, name)
		}
		return i, nil
	}

	timeCol, err := idx("time")
	if err != nil {
		return nil, err
	}
	openCol, err := idx("open")
	if err != nil {
		return nil, err
	}
	highCol, err := idx("high")
	if err != nil {
		return nil, err
	}
	lowCol, err := idx("low")
	if err != nil {
		return nil, err
	}
	closeCol, err := idx("close")
	if err != nil {
		return nil, err
	}
	volCol, err := idx("volume")
	if err != nil {
		return nil, err
	}

	dateFormats := []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}
	parseTime := func(s string) (time.Time, error) {
		s = strings.TrimSpace(s)
		for _, layout := range dateFormats {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised time format %q", s)
	}

	var bars []Bar
	lineNo := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bar: %s line %d: %w", path, lineNo+1, err)
		}
		lineNo++

		t, err := parseTime(row[timeCol])
		if err != nil {
			return nil, fmt.Errorf("bar: %s line %d time: %w", path, lineNo, err)
		}
		o, err := decimal.NewFromString(strings.TrimSpace(row[openCol]))
		if err != nil {
			return nil, fmt.Errorf("bar: %s line %d open: %w", path, lineNo, err)
		}
		h, err := decimal.NewFromString(strings.TrimSpace(row[highCol]))
		if err != nil {
			return nil, fmt.Errorf("bar: %s line %d high: %w", path, lineNo, err)
		}
		l, err := decimal.NewFromString(strings.TrimSpace(row[lowCol]))
		if err != nil {
			return nil, fmt.Errorf("bar: %s line %d low: %w", path, lineNo, err)
		}
		c, err := decimal.NewFromString(strings.TrimSpace(row[closeCol]))
		if err != nil {
			return nil, fmt.Errorf("bar: %s line %d close: %w", path, lineNo, err)
		}
		v, err := decimal.NewFromString(strings.TrimSpace(row[volCol]))
		if err != nil {
			return nil, fmt.Errorf("bar: %s line %d volume: %w", path, lineNo, err)
		}

		bars = append(bars, Bar{Time: t, Open: o, High: h, Low: l, Close: c, Volume: v})
	}

	return bars, nil
}

// LoadSeries reads a CSV file and registers it on the store as one series
// under tf. A zero tf is stored as it is; no timeframe is inferred from
// the spacing between bars.
func LoadSeries(store *Store, path, symbol string, kind Kind, tf timeframe.Timeframe) error {
	bars, err := LoadCSV(path)
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		return fmt.Errorf("bar: %s has no rows", path)
	}
	store.AddSeries(symbol, kind, tf, bars)
	return nil
}
