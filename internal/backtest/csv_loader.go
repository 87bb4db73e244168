package backtest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"spotarb/internal/models"
	"spotarb/internal/persistence"
)

// CSVLoader satisfies QuoteLoader by reading one "<venue>_<symbol>.csv"
// file per venue/symbol pair out of dir, mirroring
// arbot/backtester.py's _load_from_csv file-naming convention.
type CSVLoader struct {
	dir    string
	reader *persistence.CSVReader
}

// NewCSVLoader builds a loader reading CSV files from dir.
func NewCSVLoader(dir string) *CSVLoader {
	return &CSVLoader{dir: dir, reader: persistence.NewCSVReader()}
}

// LoadQuotes reads every venue/symbol file found under dir, filtering
// rows outside [from, to]. Files that don't exist for a given pair are
// skipped, matching the original's "CSV file not found, skipping" log.
func (l *CSVLoader) LoadQuotes(_ context.Context, venues, symbols []string, from, to time.Time) ([]models.Quote, error) {
	var out []models.Quote
	for _, venue := range venues {
		for _, symbol := range symbols {
			path := filepath.Join(l.dir, fmt.Sprintf("%s_%s.csv", venue, symbol))
			quotes, err := l.reader.LoadFile(path)
			if err != nil {
				continue
			}
			for _, q := range quotes {
				if q.Timestamp.Before(from) || q.Timestamp.After(to) {
					continue
				}
				out = append(out, q)
			}
		}
	}
	return out, nil
}
