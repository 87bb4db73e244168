package persistence

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"spotarb/internal/models"
)

// CSVReader loads a quote history file for the Backtester when
// backtest.data_source is "csv" (§4.9). Grounded on
// sawpanic-cryptorun/internal/data/cold/csv.go's header-driven column
// mapping, generalized from that reader's order-book envelope shape to
// this domain's flat Quote rows.
type CSVReader struct{}

// NewCSVReader builds a reader with the venue/symbol/bid/ask/timestamp
// column-name variants recognized by LoadFile.
func NewCSVReader() *CSVReader { return &CSVReader{} }

var csvColumnAliases = map[string]string{
	"ts": "timestamp", "time": "timestamp", "datetime": "timestamp",
	"pair": "symbol", "instrument": "symbol",
	"exchange": "venue", "source": "venue",
	"bid": "bid_price", "best_bid": "bid_price",
	"ask": "ask_price", "best_ask": "ask_price",
	"bid_qty": "bid_size", "bid_volume": "bid_size",
	"ask_qty": "ask_size", "ask_volume": "ask_size",
}

// LoadFile reads path and returns its rows as Quotes, ordered as they
// appear in the file (callers sort afterward if a strict merge across
// multiple files is needed).
func (r *CSVReader) LoadFile(path string) ([]models.Quote, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("persistence: open csv %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("persistence: read csv header %s: %w", path, err)
	}
	cols := r.mapColumns(header)

	required := []string{"timestamp", "venue", "symbol", "bid_price", "ask_price"}
	for _, c := range required {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("persistence: csv %s missing required column %q", path, c)
		}
	}

	var out []models.Quote
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("persistence: read csv row %s: %w", path, err)
		}
		q, err := r.parseRecord(record, cols)
		if err != nil {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (r *CSVReader) mapColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		if alias, ok := csvColumnAliases[name]; ok {
			name = alias
		}
		cols[name] = i
	}
	return cols
}

func (r *CSVReader) parseRecord(record []string, cols map[string]int) (models.Quote, error) {
	get := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return record[idx]
	}

	ts, err := parseCSVTimestamp(get("timestamp"))
	if err != nil {
		return models.Quote{}, err
	}

	bidPrice, _ := strconv.ParseFloat(get("bid_price"), 64)
	askPrice, _ := strconv.ParseFloat(get("ask_price"), 64)
	bidSize, _ := strconv.ParseFloat(get("bid_size"), 64)
	askSize, _ := strconv.ParseFloat(get("ask_size"), 64)

	return models.Quote{
		Venue:     get("venue"),
		Symbol:    symbolFromString(get("symbol")),
		BidPrice:  bidPrice,
		BidSize:   bidSize,
		AskPrice:  askPrice,
		AskSize:   askSize,
		Timestamp: ts,
	}, nil
}

var csvTimestampFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05.000",
}

func parseCSVTimestamp(raw string) (time.Time, error) {
	for _, layout := range csvTimestampFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if unix > 1e12 {
			return time.UnixMilli(unix), nil
		}
		return time.Unix(unix, 0), nil
	}
	return time.Time{}, fmt.Errorf("persistence: unrecognized timestamp %q", raw)
}
