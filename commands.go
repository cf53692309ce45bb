package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"smartswipe/syncclient/helpers"
	"smartswipe/syncclient/internal"
	"smartswipe/syncclient/internal/linkwidget"
	"smartswipe/syncclient/internal/rewards"
	"smartswipe/syncclient/internal/screen"
	"smartswipe/syncclient/logger"
	"smartswipe/syncclient/services/worker"
)

// Subcommands
const (
	commandSync       = "sync"
	commandLink       = "link"
	commandRemove     = "remove"
	commandRefreshAll = "refresh-all"
	commandLogout     = "logout"
)

// stdin answers confirmation prompts
var stdin io.Reader = os.Stdin

// runCommand dispatches a subcommand for userID
func runCommand(ctx context.Context, command string, args []string, deps *internal.Dependencies, services *Services, userID string) error {
	switch command {
	case commandSync:
		return runSync(ctx, deps, userID)
	case commandLink:
		return runLink(ctx, deps, userID)
	case commandRemove:
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <account-id>", commandRemove)
		}
		return runRemove(ctx, deps, userID, args[0])
	case commandRefreshAll:
		return screen.NewCardInfo(deps, userID).RefreshAll(ctx)
	case commandLogout:
		return services.Session.Logout()
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// runSync mounts every screen and keeps it fresh until ctx is cancelled
func runSync(ctx context.Context, deps *internal.Dependencies, userID string) error {
	log := logger.ForComponent("sync").WithField("user_id", userID)

	if err := deps.API.Health(ctx); err != nil {
		log.Warn().Err(err).Msg("Backend health check failed, serving cached data")
	}

	accounts := screen.NewAccounts(deps, userID)
	defer accounts.Close()
	dashboard := screen.NewDashboard(deps, userID)
	defer dashboard.Close()
	transactions := screen.NewTransactions(deps, userID)
	defer transactions.Close()
	cards := screen.NewCardInfo(deps, userID)

	if err := accounts.Mount(ctx); err != nil {
		log.Warn().Err(err).Msg("Accounts mounted with errors")
	}
	dashboard.Mount(ctx)
	transactions.Mount(ctx)
	dashboard.Wait()
	transactions.Wait()
	for _, card := range cards.Load(ctx).Cards {
		shown, more := rewards.Highlights(card.RewardCategories)
		log.Debug().Str("card", card.CardType).Strs("highlights", shown).Int("more", more).Msg("Card rewards")
	}

	top := dashboard.TopCategory()
	log.Info().
		Int("accounts", len(accounts.State().Accounts.Value)).
		Int("transactions", len(transactions.State().Transactions)).
		Str("top_category", top.Category).
		Int64("top_category_pct", top.Percentage).
		Str("top_card", dashboard.TopCard().Card).
		Msg("Screens mounted")

	w := worker.NewWorker(
		ctx,
		[]screen.Refresher{accounts, dashboard, transactions, cards},
		helpers.NewLogger(deps.Config.ErrorLogFile),
		deps.Config.RefreshInterval,
	)
	log.Info().Dur("interval", deps.Config.RefreshInterval).Msg("Starting revalidation worker")
	return w.Start()
}

// runLink runs the account linking flow once
func runLink(ctx context.Context, deps *internal.Dependencies, userID string) error {
	log := logger.ForComponent("link").WithField("user_id", userID)

	accounts := screen.NewAccounts(deps, userID)
	defer accounts.Close()
	if err := accounts.Mount(ctx); err != nil {
		return err
	}

	outcome := accounts.Link(ctx,
		func(refreshing bool) {
			if refreshing {
				log.Info().Msg("Refreshing accounts...")
			}
		},
		func() { log.Info().Msg("Linking cancelled") },
	)

	switch outcome.Kind {
	case linkwidget.OutcomeSuccess:
		log.Info().Int("accounts", len(outcome.Accounts)).Int("linked", len(outcome.Linked)).Msg("Account linked")
		return nil
	case linkwidget.OutcomeError:
		return outcome.Err
	case linkwidget.OutcomeSkipped:
		return fmt.Errorf("no link token available")
	default:
		return nil
	}
}

// runRemove unlinks one account after asking on stdin
func runRemove(ctx context.Context, deps *internal.Dependencies, userID, accountID string) error {
	accounts := screen.NewAccounts(deps, userID)
	defer accounts.Close()
	if err := accounts.Refresh(ctx); err != nil {
		return err
	}

	confirm := screen.ConfirmFunc(func(prompt string) bool {
		fmt.Printf("%s [y/N] ", prompt)
		answer, _ := bufio.NewReader(stdin).ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes"
	})

	removed, err := accounts.Remove(ctx, accountID, confirm)
	if err != nil {
		return err
	}
	if removed {
		logger.Info("Removed account %s", accountID)
	}
	return nil
}
