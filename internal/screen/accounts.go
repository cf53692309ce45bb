package screen

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"smartswipe/syncclient/internal"
	"smartswipe/syncclient/internal/linkwidget"
	"smartswipe/syncclient/internal/loader"
	"smartswipe/syncclient/internal/store"
	"smartswipe/syncclient/logger"
	"smartswipe/syncclient/services/api"
)

// RemovePrompt is shown before an account is unlinked
const RemovePrompt = "Are you sure you want to remove this account?"

// AccountsState is what the linked-accounts view renders
type AccountsState struct {
	Accounts   loader.State[[]api.LinkedAccount]
	LinkToken  string
	IsRemoving bool
	// IsLinking is set between a widget success and the end of the follow-up refresh
	IsLinking bool
}

// Accounts manages linked bank accounts and the linking flow
type Accounts struct {
	deps     *internal.Dependencies
	userID   string
	accounts *loader.Loader[[]api.LinkedAccount]
	link     *linkwidget.Adapter
	log      *logger.Logger

	mu       sync.Mutex
	removing bool
	linking  bool
}

// NewAccounts creates the accounts screen for userID
func NewAccounts(deps *internal.Dependencies, userID string) *Accounts {
	a := &Accounts{
		deps:   deps,
		userID: userID,
		log:    logger.ForScreen("accounts").WithField("user_id", userID),
	}
	a.accounts = loader.New(
		deps.Store,
		store.KeyFor(store.KindAccounts, userID),
		func(ctx context.Context) ([]api.LinkedAccount, error) {
			return deps.API.GetAccounts(ctx, userID)
		},
		func() []api.LinkedAccount { return []api.LinkedAccount{} },
		loaderOptions(deps, "accounts", false)...,
	)

	opts := []linkwidget.Option{}
	if deps.Metrics != nil {
		opts = append(opts, linkwidget.WithMetrics(deps.Metrics))
	}
	if cfg := deps.Config; cfg != nil {
		opts = append(opts,
			linkwidget.WithPolling(cfg.LinkPollInterval, cfg.LinkPollAttempts),
			linkwidget.WithTimeout(cfg.LinkWidgetTimeout),
		)
	}
	a.link = linkwidget.NewAdapter(deps.Widget, deps.API, userID, a.refreshForLink, opts...)
	return a
}

// Name identifies the screen
func (a *Accounts) Name() string { return "accounts" }

// Mount shows cached accounts and fetches a link token and fresh accounts
// concurrently
func (a *Accounts) Mount(ctx context.Context) error {
	a.accounts.Mount(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := a.link.FetchLinkToken(gctx); err != nil {
			return fmt.Errorf("failed to create link token: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.accounts.Wait()
		return nil
	})
	return g.Wait()
}

// Refresh reloads the accounts bypassing the cache
func (a *Accounts) Refresh(ctx context.Context) error {
	return a.accounts.Load(ctx, true).Err
}

// State returns the current view state
func (a *Accounts) State() AccountsState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AccountsState{
		Accounts:   a.accounts.Snapshot(),
		LinkToken:  a.link.LinkToken(),
		IsRemoving: a.removing,
		IsLinking:  a.linking,
	}
}

// Remove unlinks accountID after confirm approves it. The account leaves
// the local list and cache only once the backend confirmed the removal.
func (a *Accounts) Remove(ctx context.Context, accountID string, confirm Confirmer) (bool, error) {
	if confirm == nil || !confirm.Confirm(RemovePrompt) {
		a.log.Debug().Str("account_id", accountID).Msg("Account removal declined")
		return false, nil
	}

	a.mu.Lock()
	a.removing = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.removing = false
		a.mu.Unlock()
	}()

	if err := a.deps.API.RemoveAccount(ctx, accountID, a.userID); err != nil {
		a.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to remove account")
		return false, err
	}

	err := a.accounts.Mutate(func(current []api.LinkedAccount) []api.LinkedAccount {
		kept := make([]api.LinkedAccount, 0, len(current))
		for _, acc := range current {
			if acc.ID != accountID {
				kept = append(kept, acc)
			}
		}
		return kept
	})
	if err != nil {
		a.log.Warn().Err(err).Msg("Failed to cache account list")
	}

	a.log.Info().Str("account_id", accountID).Msg("Account removed")
	return true, a.accountsChanged(ctx)
}

// Link opens the linking widget and blocks until the flow ends
func (a *Accounts) Link(ctx context.Context, onProgress func(refreshing bool), onCancel func()) linkwidget.Outcome {
	progress := func(refreshing bool) {
		a.mu.Lock()
		a.linking = refreshing
		a.mu.Unlock()
		if onProgress != nil {
			onProgress(refreshing)
		}
	}

	outcome := a.link.Open(ctx, progress, onCancel)
	if outcome.Kind == linkwidget.OutcomeSuccess {
		if err := a.accountsChanged(ctx); err != nil {
			a.log.Warn().Err(err).Msg("Failed to invalidate summaries after linking")
		}
	}
	return outcome
}

// Close stops background work
func (a *Accounts) Close() {
	a.accounts.Close()
}

func (a *Accounts) refreshForLink(ctx context.Context) ([]api.LinkedAccount, error) {
	state := a.accounts.Load(ctx, true)
	if state.Err != nil {
		return nil, state.Err
	}
	return state.Value, nil
}

func (a *Accounts) accountsChanged(ctx context.Context) error {
	if err := invalidateSummaries(ctx, a.deps, a.userID); err != nil {
		return fmt.Errorf("failed to invalidate summaries: %w", err)
	}
	return nil
}
