// Package screen holds the per-view state machines: linked accounts,
// dashboard, transactions and card info. Each one is mounted for a user,
// serves cached data at once and keeps it fresh in the background.
package screen

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"smartswipe/syncclient/internal"
	"smartswipe/syncclient/internal/loader"
	"smartswipe/syncclient/internal/store"
	"smartswipe/syncclient/services/bus"
)

// Refresher is a mounted screen the worker revalidates periodically
type Refresher interface {
	Name() string
	Refresh(ctx context.Context) error
}

// Confirmer asks the user to approve a destructive action
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer
type ConfirmFunc func(prompt string) bool

// Confirm calls f
func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// loaderOptions builds the options shared by every screen loader. Bound
// loaders invalidate themselves on TopicRewardsChanged.
func loaderOptions(deps *internal.Dependencies, name string, bound bool) []loader.Option {
	opts := []loader.Option{loader.WithName(name)}
	if deps.Metrics != nil {
		opts = append(opts, loader.WithMetrics(deps.Metrics))
	}
	if bound && deps.Bus != nil {
		opts = append(opts, loader.WithBus(deps.Bus, bus.TopicRewardsChanged))
	}
	return opts
}

// invalidateSummaries drops everything derived from the linked accounts
// and tells the other screens about it
func invalidateSummaries(ctx context.Context, deps *internal.Dependencies, userID string) error {
	if err := deps.Store.ClearUser(userID, store.SummaryKinds...); err != nil {
		return err
	}
	if deps.Bus == nil {
		return nil
	}
	return deps.Bus.Publish(ctx, bus.TopicRewardsChanged)
}

// capitalize upper-cases the first letter
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
