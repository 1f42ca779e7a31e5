package funding

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LoadCSV reads a funding schedule CSV (time,rate,mark_price) into a
// []Event, in the same column-by-header-name style as bar.LoadCSV.
func LoadCSV(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("funding: opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("funding: reading header of %s: %w", path, err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idx := func(name string) (int, error) {
		i, ok := col[name]
		if !ok {
			return 0, fmt.Errorf("funding: %s missing column %q", path, name)
		}
		return i, nil
	}

	timeCol, err := idx("time")
	if err != nil {
		return nil, err
	}
	rateCol, err := idx("rate")
	if err != nil {
		return nil, err
	}
	markCol, err := idx("mark_price")
	if err != nil {
		return nil, err
	}

	var events []Event
	lineNo := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("funding: %s line %d: %w", path, lineNo+1, err)
		}
		lineNo++

		t, err := time.Parse(time.RFC3339, strings.TrimSpace(row[timeCol]))
		if err != nil {
			return nil, fmt.Errorf("funding: %s line %d time: %w", path, lineNo, err)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(row[rateCol]))
		if err != nil {
			return nil, fmt.Errorf("funding: %s line %d rate: %w", path, lineNo, err)
		}
		mark, err := decimal.NewFromString(strings.TrimSpace(row[markCol]))
		if err != nil {
			return nil, fmt.Errorf("funding: %s line %d mark_price: %w", path, lineNo, err)
		}

		events = append(events, Event{Time: t.UTC(), Rate: rate, MarkPrice: mark})
	}

	return events, nil
}
