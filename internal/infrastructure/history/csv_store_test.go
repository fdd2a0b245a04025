package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shelfscout/backend/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newStore(t *testing.T) (*CSVStore, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "history")
	store, err := NewCSVStore(dir)
	require.NoError(t, err)
	return store, dir
}

func TestCSVStore_RecordAndLowestEver(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	require.NoError(t, store.Record(ctx, "Tesco", "Coke", domain.PriceRegular, "2026-01-01", dec("1.50")))
	require.NoError(t, store.Record(ctx, "Tesco", "Coke", domain.PriceRegular, "2026-01-02", dec("1.20")))
	require.NoError(t, store.Record(ctx, "Tesco", "Coke", domain.PriceRegular, "2026-01-03", dec("1.35")))

	low, ok, err := store.LowestEver(ctx, "Tesco", "Coke", domain.PriceRegular)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, low.Price.Equal(dec("1.20")), "got %s", low.Price)
	assert.Equal(t, "2026-01-02", low.Date)
	assert.Equal(t, "Tesco", low.Retailer)
	assert.Equal(t, "Coke", low.Product)
	assert.Equal(t, domain.PriceRegular, low.PriceType)

	_, ok, err = store.LowestEver(ctx, "Tesco", "Coke", domain.PriceMembership)
	require.NoError(t, err)
	assert.False(t, ok, "membership row exists but holds no prices")
}

func TestCSVStore_SameDayOverwrites(t *testing.T) {
	ctx := context.Background()
	store, dir := newStore(t)

	require.NoError(t, store.Record(ctx, "Aldi", "Tea", domain.PriceRegular, "2026-02-01", dec("2.00")))
	require.NoError(t, store.Record(ctx, "Aldi", "Tea", domain.PriceRegular, "2026-02-01", dec("2.10")))

	low, ok, err := store.LowestEver(ctx, "Aldi", "Tea", domain.PriceRegular)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, low.Price.Equal(dec("2.10")), "latest write should win, got %s", low.Price)

	data, err := os.ReadFile(filepath.Join(dir, "history_Aldi.csv"))
	require.NoError(t, err)
	assert.Equal(t, "Product,2026-02-01\nTea - Membership,\nTea - Regular,2.1\n", string(data))
}

func TestCSVStore_FileLayout(t *testing.T) {
	ctx := context.Background()
	store, dir := newStore(t)

	require.NoError(t, store.Record(ctx, "Lidl", "Milk", domain.PriceRegular, "2026-01-01", dec("0.95")))
	require.NoError(t, store.Record(ctx, "Lidl", "Bread", domain.PriceMembership, "2026-01-02", dec("1.05")))
	require.NoError(t, store.Record(ctx, "Lidl", "Bread", domain.PriceRegular, "2026-01-02", dec("1.25")))

	data, err := os.ReadFile(filepath.Join(dir, "history_Lidl.csv"))
	require.NoError(t, err)

	want := "Product,2026-01-01,2026-01-02\n" +
		"Bread - Membership,,1.05\n" +
		"Bread - Regular,,1.25\n" +
		"Milk - Membership,,\n" +
		"Milk - Regular,0.95,\n"
	assert.Equal(t, want, string(data))
}

func TestCSVStore_ReadsExistingArchive(t *testing.T) {
	ctx := context.Background()
	store, dir := newStore(t)

	archive := "Product,2025-11-01,2025-11-08,2025-11-15\n" +
		"\"Ferrero Raffaello, 230g - Regular\",4.5,,4.25\n" +
		"\"Ferrero Raffaello, 230g - Membership\",£3.75,n/a,0\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "history_Sainsburys.csv"), []byte(archive), 0o644))

	low, ok, err := store.LowestEver(ctx, "Sainsburys", "Ferrero Raffaello, 230g", domain.PriceRegular)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, low.Price.Equal(dec("4.25")))
	assert.Equal(t, "2025-11-15", low.Date)

	low, ok, err = store.LowestEver(ctx, "Sainsburys", "Ferrero Raffaello, 230g", domain.PriceMembership)
	require.NoError(t, err)
	require.True(t, ok, "currency prefix should be tolerated")
	assert.True(t, low.Price.Equal(dec("3.75")))

	// appending a new date keeps the existing columns
	require.NoError(t, store.Record(ctx, "Sainsburys", "Ferrero Raffaello, 230g", domain.PriceRegular, "2025-11-22", dec("3.99")))
	data, err := os.ReadFile(filepath.Join(dir, "history_Sainsburys.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Product,2025-11-01,2025-11-08,2025-11-15,2025-11-22\n")
	assert.Contains(t, string(data), "\"Ferrero Raffaello, 230g - Regular\",4.5,,4.25,3.99\n")
}

func TestCSVStore_LowestEverAcrossRetailers(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	_, ok, err := store.LowestEverAcrossRetailers(ctx, "Coke", domain.PriceRegular)
	require.NoError(t, err)
	assert.False(t, ok, "empty archive")

	require.NoError(t, store.Record(ctx, "Tesco", "Coke", domain.PriceRegular, "2026-01-01", dec("1.50")))
	require.NoError(t, store.Record(ctx, "Morrisons", "Coke", domain.PriceRegular, "2026-01-03", dec("1.00")))
	require.NoError(t, store.Record(ctx, "Aldi", "Coke", domain.PriceRegular, "2026-01-04", dec("1.00")))
	require.NoError(t, store.Record(ctx, "Aldi", "Coke", domain.PriceMembership, "2026-01-04", dec("0.80")))

	low, ok, err := store.LowestEverAcrossRetailers(ctx, "Coke", domain.PriceRegular)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Aldi", low.Retailer, "ties go to the first retailer file in name order")
	assert.True(t, low.Price.Equal(dec("1.00")))

	low, ok, err = store.LowestEverAcrossRetailers(ctx, "Coke", domain.PriceMembership)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Aldi", low.Retailer)
	assert.True(t, low.Price.Equal(dec("0.80")))
}

func TestCSVStore_SkipsCorruptFileAcrossRetailers(t *testing.T) {
	ctx := context.Background()
	store, dir := newStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "history_Broken.csv"), []byte("not,a,history\n"), 0o644))
	require.NoError(t, store.Record(ctx, "Tesco", "Coke", domain.PriceRegular, "2026-01-01", dec("1.50")))

	low, ok, err := store.LowestEverAcrossRetailers(ctx, "Coke", domain.PriceRegular)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Tesco", low.Retailer)

	_, _, err = store.LowestEver(ctx, "Broken", "Coke", domain.PriceRegular)
	assert.Error(t, err)

	err = store.Record(ctx, "Broken", "Coke", domain.PriceRegular, "2026-01-01", dec("1.50"))
	assert.ErrorIs(t, err, domain.ErrHistoryWrite)
}

func TestCSVStore_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			product := fmt.Sprintf("product-%02d", i)
			p := decimal.NewFromInt(int64(i + 1))
			assert.NoError(t, store.Record(ctx, "Tesco", product, domain.PriceRegular, "2026-01-01", p))
		}()
	}
	wg.Wait()

	for i := range 20 {
		low, ok, err := store.LowestEver(ctx, "Tesco", fmt.Sprintf("product-%02d", i), domain.PriceRegular)
		require.NoError(t, err)
		require.True(t, ok, "product-%02d lost", i)
		assert.True(t, low.Price.Equal(decimal.NewFromInt(int64(i+1))))
	}

	retailers, err := store.Retailers()
	require.NoError(t, err)
	assert.Equal(t, []string{"Tesco"}, retailers, "no temp files may be left behind")
}

func TestParseCell(t *testing.T) {
	tests := []struct {
		cell string
		want string
		ok   bool
	}{
		{"1.20", "1.2", true},
		{" £0.85 ", "0.85", true},
		{"", "", false},
		{"nan", "", false},
		{"0", "", false},
		{"-1.00", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.cell, func(t *testing.T) {
			got, ok := parseCell(tt.cell)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, got.Equal(dec(tt.want)), "got %s", got)
			}
		})
	}
}
