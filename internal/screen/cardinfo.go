package screen

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"smartswipe/syncclient/internal"
	"smartswipe/syncclient/internal/rewards"
	"smartswipe/syncclient/internal/store"
	"smartswipe/syncclient/logger"
	clienterrors "smartswipe/syncclient/pkg/errors"
	"smartswipe/syncclient/services/api"
)

// maxCardFetches bounds concurrent card detail requests
const maxCardFetches = 4

// CardInfoState is what the card info view renders
type CardInfoState struct {
	Cards     []api.CardRewardDetails
	IsLoading bool
	// Failed maps card names to the error that kept them off the list
	Failed map[string]error
}

// CardInfo shows the reward details of the user's cards. Details are
// fetched lazily and kept until RefreshAll.
type CardInfo struct {
	deps   *internal.Dependencies
	userID string
	group  singleflight.Group
	log    *logger.Logger

	mu    sync.Mutex
	state CardInfoState
}

// NewCardInfo creates the card info screen for userID
func NewCardInfo(deps *internal.Dependencies, userID string) *CardInfo {
	return &CardInfo{
		deps:   deps,
		userID: userID,
		log:    logger.ForScreen("card_info").WithField("user_id", userID),
		state:  CardInfoState{Cards: []api.CardRewardDetails{}, Failed: map[string]error{}},
	}
}

// Name identifies the screen
func (c *CardInfo) Name() string { return "card_info" }

// CardNames returns the cards of the cached cashback summary, or the
// default cards when it names none
func (c *CardInfo) CardNames() []string {
	entry, ok := store.Get[api.CashbackSummary](c.deps.Store, store.KeyFor(store.KindCashback, c.userID))
	if ok {
		names := entry.Data.CardNames()
		if len(names) > 0 {
			sort.Strings(names)
			return names
		}
	}
	return append([]string(nil), rewards.DefaultCards...)
}

// Details returns the reward details of one card, fetching them once when
// they are not cached. Concurrent calls for the same card share a fetch,
// which outlives a caller that gives up.
func (c *CardInfo) Details(ctx context.Context, name string) (api.CardRewardDetails, error) {
	if isBlank(name) {
		return api.CardRewardDetails{}, clienterrors.NewValidation("Details", "card name is required")
	}
	key := store.KeyFor(store.KindCardDetails, name)
	if entry, ok := store.GetFresh[api.CardRewardDetails](c.deps.Store, key); ok {
		return entry.Data, nil
	}

	ch := c.group.DoChan(name, func() (interface{}, error) {
		fctx := context.WithoutCancel(ctx)
		details, err := c.deps.API.GetCardRewardDetails(fctx, name, false)
		if err != nil {
			return nil, err
		}
		details, err = rewards.Normalize(name, details)
		if err != nil {
			return nil, err
		}
		if err := c.deps.Store.Set(key, details); err != nil {
			c.log.Warn().Err(err).Str("card", name).Msg("Failed to cache card details")
		}
		return details, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return api.CardRewardDetails{}, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return api.CardRewardDetails{}, res.Err
	}
	if res.Shared {
		c.log.Debug().Str("card", name).Msg("Shared card details fetch")
	}
	return res.Val.(api.CardRewardDetails), nil
}

// Load resolves the details of every card. Cards that fail are left out
// and reported in the state.
func (c *CardInfo) Load(ctx context.Context) CardInfoState {
	c.mu.Lock()
	c.state.IsLoading = true
	c.mu.Unlock()

	names := c.CardNames()
	details := make([]*api.CardRewardDetails, len(names))
	failures := make([]error, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxCardFetches)
	for i, name := range names {
		g.Go(func() error {
			d, err := c.Details(gctx, name)
			if err != nil {
				failures[i] = err
				return nil
			}
			details[i] = &d
			return nil
		})
	}
	_ = g.Wait()

	state := CardInfoState{Cards: make([]api.CardRewardDetails, 0, len(names)), Failed: map[string]error{}}
	for i, name := range names {
		if details[i] != nil {
			state.Cards = append(state.Cards, *details[i])
			continue
		}
		state.Failed[name] = failures[i]
		c.log.Warn().Err(failures[i]).Str("card", name).Msg("Card details unavailable")
	}

	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	return state
}

// Refresh loads card details that are not cached yet
func (c *CardInfo) Refresh(ctx context.Context) error {
	state := c.Load(ctx)
	if len(state.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(state.Failed))
	for name, err := range state.Failed {
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return errors.Join(errs...)
}

// State returns the current view state
func (c *CardInfo) State() CardInfoState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RefreshAll drops every cached card detail and summary, then tells every
// mounted screen to reload
func (c *CardInfo) RefreshAll(ctx context.Context) error {
	removed, err := c.deps.Store.ClearKind(store.KindCardDetails)
	if err != nil {
		return fmt.Errorf("failed to clear card details: %w", err)
	}
	c.log.Info().Int("cards", removed).Msg("Cleared card details")

	c.mu.Lock()
	c.state = CardInfoState{Cards: []api.CardRewardDetails{}, Failed: map[string]error{}}
	c.mu.Unlock()

	return invalidateSummaries(ctx, c.deps, c.userID)
}
