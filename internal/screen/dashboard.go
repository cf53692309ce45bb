package screen

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"smartswipe/syncclient/internal"
	"smartswipe/syncclient/internal/loader"
	"smartswipe/syncclient/internal/store"
	"smartswipe/syncclient/services/api"
)

// NotAvailable labels a stat that has no data
const NotAvailable = "N/A"

// DashboardState is what the dashboard renders
type DashboardState struct {
	Cashback  loader.State[api.CashbackSummary]
	Optimal   loader.State[api.OptimalCashback]
	Summary   loader.State[api.TransactionSummary]
	IsLoading bool
}

// CategoryStat is the category with the largest spend
type CategoryStat struct {
	Category   string
	Amount     decimal.Decimal
	Percentage int64
}

// CardStat is the card that earned the most cashback
type CardStat struct {
	Card   string
	Amount decimal.Decimal
}

// Dashboard shows cashback, the optimal-card recommendation and the
// transaction summary. Every loader follows TopicRewardsChanged.
type Dashboard struct {
	cashback *loader.Loader[api.CashbackSummary]
	optimal  *loader.Loader[api.OptimalCashback]
	summary  *loader.Loader[api.TransactionSummary]
}

// NewDashboard creates the dashboard for userID
func NewDashboard(deps *internal.Dependencies, userID string) *Dashboard {
	return &Dashboard{
		cashback: loader.New(
			deps.Store,
			store.KeyFor(store.KindCashback, userID),
			func(ctx context.Context) (api.CashbackSummary, error) {
				return deps.API.GetCashbackSummary(ctx, userID)
			},
			api.EmptyCashbackSummary,
			loaderOptions(deps, "cashback", true)...,
		),
		optimal: loader.New(
			deps.Store,
			store.KeyFor(store.KindOptimalCashback, userID),
			func(ctx context.Context) (api.OptimalCashback, error) {
				return deps.API.GetOptimalCashback(ctx, userID)
			},
			api.EmptyOptimalCashback,
			loaderOptions(deps, "optimal_cashback", true)...,
		),
		summary: loader.New(
			deps.Store,
			store.KeyFor(store.KindTransactionSummary, userID),
			func(ctx context.Context) (api.TransactionSummary, error) {
				return deps.API.GetTransactionSummary(ctx, userID)
			},
			api.EmptyTransactionSummary,
			loaderOptions(deps, "transaction_summary", true)...,
		),
	}
}

// Name identifies the screen
func (d *Dashboard) Name() string { return "dashboard" }

// Mount shows cached data and revalidates all three resources
func (d *Dashboard) Mount(ctx context.Context) {
	d.cashback.Mount(ctx)
	d.optimal.Mount(ctx)
	d.summary.Mount(ctx)
}

// Wait blocks until background revalidation is over
func (d *Dashboard) Wait() {
	d.cashback.Wait()
	d.optimal.Wait()
	d.summary.Wait()
}

// Load loads the three resources concurrently and returns the first failure.
// A failing resource does not cancel the others.
func (d *Dashboard) Load(ctx context.Context, force bool) error {
	var g errgroup.Group
	g.Go(func() error { return d.cashback.Load(ctx, force).Err })
	g.Go(func() error { return d.optimal.Load(ctx, force).Err })
	g.Go(func() error { return d.summary.Load(ctx, force).Err })
	return g.Wait()
}

// Refresh reloads everything bypassing the cache
func (d *Dashboard) Refresh(ctx context.Context) error {
	return d.Load(ctx, true)
}

// State returns the current view state
func (d *Dashboard) State() DashboardState {
	s := DashboardState{
		Cashback: d.cashback.Snapshot(),
		Optimal:  d.optimal.Snapshot(),
		Summary:  d.summary.Snapshot(),
	}
	s.IsLoading = s.Cashback.IsLoading || s.Optimal.IsLoading || s.Summary.IsLoading
	return s
}

// TopCategory returns the category with the largest spend and its share of
// all categorized spend
func (d *Dashboard) TopCategory() CategoryStat {
	categories := d.summary.Snapshot().Value.Categories
	if len(categories) == 0 {
		return CategoryStat{Category: NotAvailable, Amount: decimal.Zero}
	}

	names := make([]string, 0, len(categories))
	total := decimal.Zero
	for name, bucket := range categories {
		names = append(names, name)
		total = total.Add(bucket.Amount.Abs())
	}
	sort.Slice(names, func(i, j int) bool {
		ai, aj := categories[names[i]].Amount.Abs(), categories[names[j]].Amount.Abs()
		if !ai.Equal(aj) {
			return ai.GreaterThan(aj)
		}
		return names[i] < names[j]
	})

	top := names[0]
	amount := categories[top].Amount.Abs()
	if total.IsZero() {
		total = decimal.NewFromInt(1)
	}
	name := capitalize(top)
	if isBlank(name) {
		name = NotAvailable
	}
	return CategoryStat{
		Category:   name,
		Amount:     amount,
		Percentage: amount.Div(total).Mul(decimal.NewFromInt(100)).Round(0).IntPart(),
	}
}

// TopCard returns the card that earned the most cashback
func (d *Dashboard) TopCard() CardStat {
	byCard := d.cashback.Snapshot().Value.CashbackByCard
	best := CardStat{Card: NotAvailable, Amount: decimal.Zero}
	found := false
	for card, amount := range byCard {
		if !found || amount.GreaterThan(best.Amount) || (amount.Equal(best.Amount) && card < best.Card) {
			best = CardStat{Card: card, Amount: amount}
			found = true
		}
	}
	return best
}

// Close releases the bus subscriptions and stops background work
func (d *Dashboard) Close() {
	d.cashback.Close()
	d.optimal.Close()
	d.summary.Close()
}
