package market

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/vehicle-valuation/internal/cache"
	"github.com/yourorg/vehicle-valuation/internal/model"
)

var ts = time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

func signal(brand, mdl string, year int, trend float64) model.MarketSignal {
	return model.MarketSignal{Brand: brand, Model: mdl, Year: year, TrendPercent: trend, ReferencePrice: 20000, Timestamp: ts}
}

func TestStaticSource_Lookup(t *testing.T) {
	src := NewStaticSource(
		signal("BMW", "3 Series", 2019, 2.0),
		signal("BMW", "X5", 2021, 4.0),
		signal("BMW", "5 Series", 2012, 9.0),
		signal("Toyota", "Corolla", 2010, 1.0),
	)

	tests := []struct {
		name      string
		q         Query
		wantFound bool
		wantMatch Match
		wantTrend float64
	}{
		{"exact, case-insensitive", Query{Brand: "bmw", Model: "3 SERIES", Year: 2019}, true, MatchExact, 2.0},
		{"fuzzy picks closest eligible year", Query{Brand: "BMW", Model: "i3", Year: 2020}, true, MatchFuzzy, 2.0},
		{"fuzzy ignores pre-2015 signals", Query{Brand: "BMW", Model: "1 Series", Year: 2012}, true, MatchFuzzy, 2.0},
		{"fuzzy prefers nearer newer year", Query{Brand: "BMW", Model: "X3", Year: 2022}, true, MatchFuzzy, 4.0},
		{"brand with only old signals", Query{Brand: "Toyota", Model: "Yaris", Year: 2010}, false, "", 0},
		{"unknown brand", Query{Brand: "Lada", Model: "Niva", Year: 2020}, false, "", 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, found, err := src.Lookup(context.Background(), tc.q)
			require.NoError(t, err)
			assert.Equal(t, tc.wantFound, found)
			if tc.wantFound {
				assert.Equal(t, tc.wantMatch, res.Match)
				assert.Equal(t, tc.wantTrend, res.Signal.TrendPercent)
			}
		})
	}
}

func TestStaticSource_FuzzyTieBreaksOnFreshness(t *testing.T) {
	older := signal("Audi", "A3", 2018, 1.0)
	newer := signal("Audi", "A6", 2020, 3.0)
	newer.Timestamp = ts.Add(time.Hour)
	src := NewStaticSource(older, newer)

	res, found, err := src.Lookup(context.Background(), Query{Brand: "Audi", Model: "A4", Year: 2019})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "A6", res.Signal.Model)
}

func TestStaticSource_Upsert(t *testing.T) {
	src := NewStaticSource(signal("BMW", "X5", 2021, 4.0))
	src.Upsert(signal("bmw", "x5", 2021, -1.5))
	assert.Equal(t, 1, src.Len())

	res, found, err := src.Lookup(context.Background(), Query{Brand: "BMW", Model: "X5", Year: 2021})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, -1.5, res.Signal.TrendPercent)

	res, _, _ = src.Lookup(context.Background(), Query{Brand: "BMW", Model: "X1", Year: 2021})
	assert.Equal(t, -1.5, res.Signal.TrendPercent, "fuzzy list must see the replacement")
}

func TestLoadStaticFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signals.json")
	body := `[{"brand":"Audi","model":"A4","year":2018,"trend_percent":3,"reference_price":21000,"timestamp":"2024-06-01T00:00:00Z"}]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	src, err := LoadStaticFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, src.Len())

	_, err = LoadStaticFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

type countingSource struct {
	calls int
	res   Result
	found bool
	err   error
}

func (c *countingSource) Lookup(context.Context, Query) (Result, bool, error) {
	c.calls++
	return c.res, c.found, c.err
}

func TestCachedSource(t *testing.T) {
	ctx := context.Background()
	q := Query{Brand: "Audi", Model: "A4", Year: 2018}

	t.Run("hit after first lookup", func(t *testing.T) {
		up := &countingSource{res: Result{Signal: signal("Audi", "A4", 2018, 3), Match: MatchExact}, found: true}
		c := NewCachedSource(up, cache.NewMemoryStore(), time.Hour)

		for i := 0; i < 3; i++ {
			res, found, err := c.Lookup(ctx, q)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, 3.0, res.Signal.TrendPercent)
			assert.True(t, res.Signal.Timestamp.Equal(ts))
		}
		assert.Equal(t, 1, up.calls)
	})

	t.Run("misses are not cached", func(t *testing.T) {
		up := &countingSource{}
		c := NewCachedSource(up, cache.NewMemoryStore(), time.Hour)

		_, found, err := c.Lookup(ctx, q)
		require.NoError(t, err)
		assert.False(t, found)
		_, _, _ = c.Lookup(ctx, q)
		assert.Equal(t, 2, up.calls)
	})

	t.Run("upstream error passes through", func(t *testing.T) {
		up := &countingSource{err: errors.New("feed down")}
		c := NewCachedSource(up, cache.NewMemoryStore(), time.Hour)

		_, _, err := c.Lookup(ctx, q)
		assert.EqualError(t, err, "feed down")
	})

	t.Run("corrupt entry falls back to upstream", func(t *testing.T) {
		store := cache.NewMemoryStore()
		require.NoError(t, store.Set(ctx, cacheKeyPrefix+q.Key(), []byte("{not json"), time.Hour))
		up := &countingSource{res: Result{Signal: signal("Audi", "A4", 2018, 3), Match: MatchExact}, found: true}
		c := NewCachedSource(up, store, time.Hour)

		_, found, err := c.Lookup(ctx, q)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, 1, up.calls)
	})
}
