package store

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartswipe/syncclient/logger"
	"smartswipe/syncclient/services/cache"
	"smartswipe/syncclient/services/metrics"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(opts ...Option) (*Store, *cache.MemoryService, *fakeClock) {
	backend := cache.NewMemoryService()
	clock := &fakeClock{t: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now), WithLogger(logger.Nop())}, opts...)
	return New(backend, opts...), backend, clock
}

type summary struct {
	TotalCashback  float64            `json:"total_cashback"`
	CashbackByCard map[string]float64 `json:"cashback_by_card"`
	Months         []string           `json:"months"`
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "accounts_u1", KeyFor(KindAccounts, "u1").String())
	assert.Equal(t, "card_details_Citi Double Cash", KeyFor(KindCardDetails, "Citi Double Cash").String())
	assert.Equal(t, "optimal_cashback_u1", KeyFor(KindOptimalCashback, "u1").String())
}

func TestEntryValid(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	window := 15 * time.Minute

	testCases := []struct {
		name string
		age  time.Duration
		want bool
	}{
		{"fresh", time.Minute, true},
		{"just inside", window - time.Millisecond, true},
		{"exact boundary is expired", window, false},
		{"old", 20 * time.Minute, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := Entry[int]{Data: 1, Timestamp: now.Add(-tc.age).UnixMilli()}
			assert.Equal(t, tc.want, e.Valid(now, window))
		})
	}

	ancient := Entry[int]{Timestamp: 0}
	assert.True(t, ancient.Valid(now, 0), "a zero window never expires")
}

func TestSetGetRoundTrip(t *testing.T) {
	s, _, clock := newTestStore()
	key := KeyFor(KindCashback, "u1")
	in := summary{
		TotalCashback:  42.5,
		CashbackByCard: map[string]float64{"Citi Double Cash": 12.25, "Amex Gold": 30.25},
		Months:         []string{"2026-09", "2026-10"},
	}

	require.NoError(t, s.Set(key, in))

	entry, ok := Get[summary](s, key)
	require.True(t, ok)
	assert.Equal(t, in, entry.Data)
	assert.Equal(t, clock.Now().UnixMilli(), entry.Timestamp)
}

func TestGetFreshHonoursKindWindow(t *testing.T) {
	m := metrics.NewMetrics()
	s, _, clock := newTestStore(WithMetrics(m))

	accounts := KeyFor(KindAccounts, "u1")
	cards := KeyFor(KindCardDetails, "Amex Gold")
	require.NoError(t, s.Set(accounts, []string{"a"}))
	require.NoError(t, s.Set(cards, map[string]string{"card_type": "Amex Gold"}))

	_, ok := GetFresh[[]string](s, accounts)
	assert.True(t, ok)

	clock.Advance(5 * time.Minute)
	_, ok = GetFresh[[]string](s, accounts)
	assert.False(t, ok, "accounts expire after five minutes")

	// The stale entry is still readable without the window
	_, ok = Get[[]string](s, accounts)
	assert.True(t, ok)

	clock.Advance(24 * time.Hour)
	_, ok = GetFresh[map[string]string](s, cards)
	assert.True(t, ok, "card details never expire on their own")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("accounts", metrics.OutcomeHit))+
		testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("card_details", metrics.OutcomeHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("accounts", metrics.OutcomeStale)))
}

func TestWithWindowOverride(t *testing.T) {
	s, _, clock := newTestStore(WithWindow(KindAccounts, time.Minute))
	key := KeyFor(KindAccounts, "u1")
	require.NoError(t, s.Set(key, 1))

	clock.Advance(time.Minute)
	_, ok := GetFresh[int](s, key)
	assert.False(t, ok)
}

func TestCorruptEntriesAreDropped(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
	}{
		{"not json", "{oops"},
		{"missing timestamp", `{"data":{"total_cashback":1}}`},
		{"missing data", `{"timestamp":123}`},
		{"wrong data shape", `{"data":"text","timestamp":123}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, backend, _ := newTestStore()
			key := KeyFor(KindCashback, "u1")
			require.NoError(t, backend.Set(key.String(), []byte(tc.raw), 0))

			_, ok := Get[summary](s, key)
			assert.False(t, ok)

			_, err := backend.Get(key.String())
			assert.ErrorIs(t, err, cache.ErrCacheMiss, "corrupt entries are removed")
		})
	}
}

func TestClearByPrefix(t *testing.T) {
	s, backend, _ := newTestStore()
	require.NoError(t, s.Set(KeyFor(KindCardDetails, "A"), 1))
	require.NoError(t, s.Set(KeyFor(KindCardDetails, "B"), 2))
	require.NoError(t, s.Set(KeyFor(KindCashback, "u1"), 3))
	require.NoError(t, s.Set(KeyFor(KindOptimalCashback, "u1"), 4))

	removed, err := s.ClearKind(KindCardDetails)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	removed, err = s.ClearKind(KindCashback)
	require.NoError(t, err)
	assert.Equal(t, 1, removed, "cashback_ must not match optimal_cashback_")

	keys, err := backend.Keys("")
	require.NoError(t, err)
	assert.Equal(t, []string{"optimal_cashback_u1"}, keys)
}

func TestClearUser(t *testing.T) {
	s, backend, _ := newTestStore()
	for _, kind := range UserKinds {
		require.NoError(t, s.Set(KeyFor(kind, "u1"), 1))
		require.NoError(t, s.Set(KeyFor(kind, "u2"), 1))
	}

	require.NoError(t, s.ClearUser("u1", UserKinds...))

	keys, err := backend.Keys("")
	require.NoError(t, err)
	assert.Len(t, keys, len(UserKinds))
	for _, k := range keys {
		assert.Contains(t, k, "u2")
	}
}
