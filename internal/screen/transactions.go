package screen

import (
	"context"

	"smartswipe/syncclient/internal"
	"smartswipe/syncclient/internal/loader"
	"smartswipe/syncclient/internal/store"
	"smartswipe/syncclient/services/api"
)

// FilterAll selects every transaction
const FilterAll = "all"

// TransactionsErrorMessage is shown when transactions cannot be loaded
const TransactionsErrorMessage = "Could not load transactions. Please try again later."

// TransactionsState is what the transactions view renders
type TransactionsState struct {
	Transactions      []api.Transaction
	IsLoading         bool
	IsRefreshing      bool
	HasLinkedAccounts bool
	// Error is a user-facing message, empty when there is nothing to report
	Error string
}

// Transactions lists recent transactions
type Transactions struct {
	txs *loader.Loader[[]api.Transaction]
}

// NewTransactions creates the transactions screen for userID
func NewTransactions(deps *internal.Dependencies, userID string) *Transactions {
	return &Transactions{
		txs: loader.New(
			deps.Store,
			store.KeyFor(store.KindTransactions, userID),
			func(ctx context.Context) ([]api.Transaction, error) {
				return deps.API.GetTransactions(ctx, userID)
			},
			func() []api.Transaction { return []api.Transaction{} },
			loaderOptions(deps, "transactions", true)...,
		),
	}
}

// Name identifies the screen
func (t *Transactions) Name() string { return "transactions" }

// Mount shows cached transactions and revalidates them
func (t *Transactions) Mount(ctx context.Context) {
	t.txs.Mount(ctx)
}

// Wait blocks until background revalidation is over
func (t *Transactions) Wait() {
	t.txs.Wait()
}

// Load loads transactions, from the cache unless force is set
func (t *Transactions) Load(ctx context.Context, force bool) TransactionsState {
	t.txs.Load(ctx, force)
	return t.State()
}

// Refresh reloads transactions bypassing the cache
func (t *Transactions) Refresh(ctx context.Context) error {
	return t.txs.Load(ctx, true).Err
}

// State returns the current view state
func (t *Transactions) State() TransactionsState {
	s := t.txs.Snapshot()
	state := TransactionsState{
		Transactions:      s.Value,
		IsLoading:         s.IsLoading,
		IsRefreshing:      s.IsRefreshing,
		HasLinkedAccounts: !s.NoLinkedAccounts,
	}
	if state.Transactions == nil {
		state.Transactions = []api.Transaction{}
	}
	if s.Err != nil {
		state.Error = TransactionsErrorMessage
	}
	return state
}

// Categories returns FilterAll followed by every primary category in order
// of first appearance
func (t *Transactions) Categories() []string {
	categories := []string{FilterAll}
	seen := map[string]struct{}{}
	for _, tx := range t.txs.Snapshot().Value {
		c := tx.Category.Primary()
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		categories = append(categories, c)
	}
	return categories
}

// Filter returns the transactions whose primary category is category
func (t *Transactions) Filter(category string) []api.Transaction {
	all := t.txs.Snapshot().Value
	if category == FilterAll || category == "" {
		return all
	}
	out := make([]api.Transaction, 0, len(all))
	for _, tx := range all {
		if tx.Category.Primary() == category {
			out = append(out, tx)
		}
	}
	return out
}

// DisplayCategory renders a category label for the view
func DisplayCategory(category string) string {
	if category == FilterAll {
		return "All"
	}
	return capitalize(category)
}

// Close stops background work
func (t *Transactions) Close() {
	t.txs.Close()
}
