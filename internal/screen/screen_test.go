package screen

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"smartswipe/syncclient/config"
	"smartswipe/syncclient/internal"
	"smartswipe/syncclient/internal/store"
	"smartswipe/syncclient/logger"
	"smartswipe/syncclient/services/api"
	"smartswipe/syncclient/services/bus"
	"smartswipe/syncclient/services/cache"
	"smartswipe/syncclient/services/metrics"
)

const testUser = "u1"

// fakeBackend serves canned resources and counts calls per operation
type fakeBackend struct {
	mu    sync.Mutex
	calls map[string]int

	accounts     []api.LinkedAccount
	accountsErr  error
	removeErr    error
	exchanged    []api.LinkedAccount
	exchangeErr  error
	transactions []api.Transaction
	txErr        error
	summary      api.TransactionSummary
	cashback     api.CashbackSummary
	cashbackErr  error
	optimal      api.OptimalCashback
	optimalDelay time.Duration
	cards        map[string]api.CardRewardDetails
	cardDelay    time.Duration
}

var _ internal.Backend = (*fakeBackend)(nil)

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		calls:    map[string]int{},
		accounts: []api.LinkedAccount{{ID: "a1", Name: "Checking"}, {ID: "a2", Name: "Savings"}},
		cashback: api.CashbackSummary{
			TotalCashback:  decimal.NewFromInt(42),
			CashbackByCard: map[string]decimal.Decimal{"Citi Double Cash": decimal.NewFromInt(30), "American Express Gold": decimal.NewFromInt(12)},
			SpendingByCard: map[string]decimal.Decimal{},
		},
		optimal: api.EmptyOptimalCashback(),
		summary: api.TransactionSummary{
			TotalTransactions: 3,
			Categories: map[string]api.Bucket{
				"food":   {Count: 2, Amount: decimal.NewFromInt(75)},
				"travel": {Count: 1, Amount: decimal.NewFromInt(25)},
			},
		},
		cards: map[string]api.CardRewardDetails{},
	}
}

func (f *fakeBackend) hit(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeBackend) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeBackend) Health(ctx context.Context) error {
	f.hit("Health")
	return nil
}

func (f *fakeBackend) GetAccounts(ctx context.Context, userID string) ([]api.LinkedAccount, error) {
	f.hit("GetAccounts")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.LinkedAccount(nil), f.accounts...), f.accountsErr
}

func (f *fakeBackend) RemoveAccount(ctx context.Context, accountID, userID string) error {
	f.hit("RemoveAccount")
	return f.removeErr
}

func (f *fakeBackend) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	f.hit("CreateLinkToken")
	return "link-" + userID, nil
}

func (f *fakeBackend) ExchangeToken(ctx context.Context, publicToken, userID string) ([]api.LinkedAccount, error) {
	f.hit("ExchangeToken")
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	f.mu.Lock()
	f.accounts = append(f.accounts, f.exchanged...)
	f.mu.Unlock()
	return f.exchanged, nil
}

func (f *fakeBackend) GetTransactions(ctx context.Context, userID string) ([]api.Transaction, error) {
	f.hit("GetTransactions")
	return f.transactions, f.txErr
}

func (f *fakeBackend) GetTransactionSummary(ctx context.Context, userID string) (api.TransactionSummary, error) {
	f.hit("GetTransactionSummary")
	return f.summary, nil
}

func (f *fakeBackend) GetCashbackSummary(ctx context.Context, userID string) (api.CashbackSummary, error) {
	f.hit("GetCashbackSummary")
	return f.cashback, f.cashbackErr
}

func (f *fakeBackend) GetOptimalCashback(ctx context.Context, userID string) (api.OptimalCashback, error) {
	f.hit("GetOptimalCashback")
	if err := sleepCtx(ctx, f.optimalDelay); err != nil {
		return api.OptimalCashback{}, err
	}
	return f.optimal, nil
}

func (f *fakeBackend) GetCardRewardDetails(ctx context.Context, cardName string, force bool) (api.CardRewardDetails, error) {
	f.hit("GetCardRewardDetails")
	f.hit("card:" + cardName)
	if err := sleepCtx(ctx, f.cardDelay); err != nil {
		return api.CardRewardDetails{}, err
	}
	if d, ok := f.cards[cardName]; ok {
		return d, nil
	}
	return api.CardRewardDetails{
		CardType:         cardName,
		RewardCategories: []string{"1% on everything"},
	}, nil
}

// sleepCtx waits for d unless ctx ends first
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newDeps(backend *fakeBackend) (*internal.Dependencies, *bus.LocalBus) {
	b := bus.NewLocalBus(nil)
	cfg := config.LoadConfig()
	cfg.LinkPollInterval = time.Millisecond
	cfg.LinkPollAttempts = 3
	cfg.LinkWidgetTimeout = time.Second
	return &internal.Dependencies{
		Config:  cfg,
		Store:   store.New(cache.NewMemoryService(), store.WithLogger(logger.Nop())),
		Bus:     b,
		API:     backend,
		Metrics: metrics.NewMetrics(),
	}, b
}
