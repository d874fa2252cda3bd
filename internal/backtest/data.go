package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"bitkub-grid-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// LoadCandlesCSV reads candles from a CSV with columns
// timestamp,open,high,low,close,volume. The timestamp is unix seconds. A
// header row is detected and skipped. Rows outside [start, end) are dropped
// when either bound is non-zero.
func LoadCandlesCSV(path string, start, end time.Time) ([]models.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candle file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 6

	var candles []models.Candle
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read candle file line %d: %w", line+1, err)
		}
		line++

		if line == 1 {
			if _, err := strconv.ParseInt(record[0], 10, 64); err != nil {
				continue // header row
			}
		}

		c, err := parseCandleRecord(record)
		if err != nil {
			return nil, fmt.Errorf("candle file line %d: %w", line, err)
		}
		if !start.IsZero() && c.Time.Before(start) {
			continue
		}
		if !end.IsZero() && !c.Time.Before(end) {
			continue
		}
		candles = append(candles, c)
	}

	for i := 1; i < len(candles); i++ {
		if !candles[i].Time.After(candles[i-1].Time) {
			return nil, fmt.Errorf("candles not strictly ascending at index %d (%s)",
				i, candles[i].Time.Format(time.RFC3339))
		}
	}
	return candles, nil
}

func parseCandleRecord(record []string) (models.Candle, error) {
	ts, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("bad timestamp %q", record[0])
	}

	fields := make([]decimal.Decimal, 5)
	for i, raw := range record[1:6] {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return models.Candle{}, fmt.Errorf("bad value %q", raw)
		}
		fields[i] = d
	}
	return models.Candle{
		Time:   time.Unix(ts, 0).UTC(),
		Open:   fields[0],
		High:   fields[1],
		Low:    fields[2],
		Close:  fields[3],
		Volume: fields[4],
	}, nil
}
