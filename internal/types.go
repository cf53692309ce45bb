package internal

import (
	"context"

	"smartswipe/syncclient/config"
	"smartswipe/syncclient/internal/linkwidget"
	"smartswipe/syncclient/internal/store"
	"smartswipe/syncclient/services/api"
	"smartswipe/syncclient/services/bus"
	"smartswipe/syncclient/services/metrics"
)

// Backend is the set of resource fetchers the screens use
type Backend interface {
	Health(ctx context.Context) error
	GetAccounts(ctx context.Context, userID string) ([]api.LinkedAccount, error)
	RemoveAccount(ctx context.Context, accountID, userID string) error
	CreateLinkToken(ctx context.Context, userID string) (string, error)
	ExchangeToken(ctx context.Context, publicToken, userID string) ([]api.LinkedAccount, error)
	GetTransactions(ctx context.Context, userID string) ([]api.Transaction, error)
	GetTransactionSummary(ctx context.Context, userID string) (api.TransactionSummary, error)
	GetCashbackSummary(ctx context.Context, userID string) (api.CashbackSummary, error)
	GetOptimalCashback(ctx context.Context, userID string) (api.OptimalCashback, error)
	GetCardRewardDetails(ctx context.Context, cardName string, force bool) (api.CardRewardDetails, error)
}

var _ Backend = (*api.Client)(nil)

// Dependencies holds all service dependencies
type Dependencies struct {
	Config  *config.Config
	Store   *store.Store
	Bus     bus.Bus
	API     Backend
	Widget  linkwidget.Widget
	Metrics *metrics.Metrics
}
