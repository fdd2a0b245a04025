// Package history persists the per-retailer price archive as CSV tables: one file per
// retailer, one row per product and price type, one column per date.
package history

import (
	"context"
	"encoding/csv"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/shelfscout/backend/internal/domain"
	"github.com/shelfscout/backend/internal/logging"
	"github.com/shopspring/decimal"
)

const (
	filePrefix    = "history_"
	fileSuffix    = ".csv"
	productColumn = "Product"
)

// CSVStore is a domain.HistoryStore backed by history_<Retailer>.csv files.
// Writes to one retailer's file are serialized; each write replaces the file atomically.
type CSVStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// NewCSVStore creates the store, creating dir if needed
func NewCSVStore(dir string) (*CSVStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create history directory", goerr.V("dir", dir))
	}
	return &CSVStore{
		dir:   dir,
		locks: make(map[string]*sync.RWMutex),
	}, nil
}

// RowKey is the archive row name for a product and price type, e.g. "Coke - Regular"
func RowKey(product string, priceType domain.PriceType) string {
	if priceType == domain.PriceMembership {
		return product + " - Membership"
	}
	return product + " - Regular"
}

// Record sets the price for (retailer, product, priceType, date). A same-day write replaces
// the earlier value. A product seen for the first time gets both of its rows.
func (s *CSVStore) Record(ctx context.Context, retailer, product string, priceType domain.PriceType, date string, price decimal.Decimal) error {
	lock := s.lock(retailer)
	lock.Lock()
	defer lock.Unlock()

	path := s.path(retailer)
	t, err := readTable(path)
	if err != nil {
		return goerr.Wrap(domain.ErrHistoryWrite, "failed to read history before write",
			goerr.V("retailer", retailer), goerr.V("cause", err.Error()))
	}

	t.ensureRow(RowKey(product, domain.PriceRegular))
	t.ensureRow(RowKey(product, domain.PriceMembership))
	t.set(RowKey(product, priceType), date, price.String())

	if err := t.writeAtomic(path); err != nil {
		return goerr.Wrap(domain.ErrHistoryWrite, "failed to write history",
			goerr.V("retailer", retailer), goerr.V("cause", err.Error()))
	}

	logging.From(ctx).Debug("[HISTORY] recorded", "retailer", retailer, "product", product,
		"price_type", priceType, "date", date, "price", price.String())
	return nil
}

// LowestEver returns the lowest positive price ever recorded for the key. The earliest date wins ties.
func (s *CSVStore) LowestEver(ctx context.Context, retailer, product string, priceType domain.PriceType) (domain.HistoricalPrice, bool, error) {
	lock := s.lock(retailer)
	lock.RLock()
	defer lock.RUnlock()

	t, err := readTable(s.path(retailer))
	if err != nil {
		return domain.HistoricalPrice{}, false, goerr.Wrap(err, "failed to read history", goerr.V("retailer", retailer))
	}

	low, ok := t.lowest(RowKey(product, priceType))
	if !ok {
		return domain.HistoricalPrice{}, false, nil
	}
	low.Retailer = retailer
	low.Product = product
	low.PriceType = priceType
	return low, true, nil
}

// LowestEverAcrossRetailers scans every retailer file in name order. Unreadable files are skipped.
func (s *CSVStore) LowestEverAcrossRetailers(ctx context.Context, product string, priceType domain.PriceType) (domain.HistoricalPrice, bool, error) {
	retailers, err := s.Retailers()
	if err != nil {
		return domain.HistoricalPrice{}, false, err
	}

	var best domain.HistoricalPrice
	found := false
	for _, retailer := range retailers {
		low, ok, err := s.LowestEver(ctx, retailer, product, priceType)
		if err != nil {
			logging.From(ctx).Warn("[HISTORY] skipping unreadable history", "retailer", retailer, "error", err)
			continue
		}
		if ok && (!found || low.Price.LessThan(best.Price)) {
			best, found = low, true
		}
	}
	return best, found, nil
}

// Retailers lists the retailers that have a history file, sorted by name
func (s *CSVStore) Retailers() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list history files")
	}
	sort.Strings(matches)

	retailers := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), filePrefix), fileSuffix)
		if name != "" {
			retailers = append(retailers, name)
		}
	}
	return retailers, nil
}

func (s *CSVStore) path(retailer string) string {
	return filepath.Join(s.dir, filePrefix+retailer+fileSuffix)
}

func (s *CSVStore) lock(retailer string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[retailer]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[retailer] = l
	}
	return l
}

// table is one retailer file in memory. Every row has len(dates) cells; "" is an empty cell.
type table struct {
	dates []string
	rows  map[string][]string
}

func readTable(path string) (*table, error) {
	t := &table{rows: make(map[string][]string)}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return t, nil
	}

	header := records[0]
	if len(header) == 0 || strings.TrimPrefix(header[0], "\ufeff") != productColumn {
		return nil, goerr.New("history header must start with Product", goerr.V("path", path))
	}
	t.dates = append(t.dates, header[1:]...)

	for _, rec := range records[1:] {
		if len(rec) == 0 || rec[0] == "" {
			continue
		}
		cells := make([]string, len(t.dates))
		copy(cells, rec[1:])
		t.rows[rec[0]] = cells
	}
	return t, nil
}

func (t *table) ensureRow(key string) {
	if _, ok := t.rows[key]; !ok {
		t.rows[key] = make([]string, len(t.dates))
	}
}

func (t *table) set(key, date, value string) {
	col := -1
	for i, d := range t.dates {
		if d == date {
			col = i
			break
		}
	}
	if col < 0 {
		t.dates = append(t.dates, date)
		for k, cells := range t.rows {
			t.rows[k] = append(cells, "")
		}
		col = len(t.dates) - 1
	}
	t.ensureRow(key)
	t.rows[key][col] = value
}

func (t *table) lowest(key string) (domain.HistoricalPrice, bool) {
	cells, ok := t.rows[key]
	if !ok {
		return domain.HistoricalPrice{}, false
	}

	var low domain.HistoricalPrice
	found := false
	for i, cell := range cells {
		p, ok := parseCell(cell)
		if !ok {
			continue
		}
		if !found || p.LessThan(low.Price) {
			low = domain.HistoricalPrice{Date: t.dates[i], Price: p}
			found = true
		}
	}
	return low, found
}

// parseCell reads a stored price. Empty, non-numeric and non-positive cells are not prices.
func parseCell(cell string) (decimal.Decimal, bool) {
	cell = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(cell), "£"))
	if cell == "" {
		return decimal.Zero, false
	}
	p, err := decimal.NewFromString(cell)
	if err != nil || !p.IsPositive() {
		return decimal.Zero, false
	}
	return p, true
}

// writeAtomic writes rows sorted by key to a temp file and renames it over path
func (t *table) writeAtomic(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".history-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := csv.NewWriter(tmp)
	header := append([]string{productColumn}, t.dates...)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return err
	}

	keys := make([]string, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := w.Write(append([]string{k}, t.rows[k]...)); err != nil {
			tmp.Close()
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
