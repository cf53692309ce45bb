package linkwidget

import (
	"context"
	"sync"
	"time"

	"smartswipe/syncclient/logger"
	clienterrors "smartswipe/syncclient/pkg/errors"
	"smartswipe/syncclient/services/api"
	"smartswipe/syncclient/services/metrics"
)

// State of the adapter
type State int

const (
	StateIdle State = iota
	StateScriptLoading
	StateWidgetOpen
	StateExchangeInFlight
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScriptLoading:
		return "script_loading"
	case StateWidgetOpen:
		return "widget_open"
	case StateExchangeInFlight:
		return "exchange_in_flight"
	default:
		return "unknown"
	}
}

// OutcomeKind says how a link flow ended
type OutcomeKind int

const (
	// OutcomeSkipped means nothing was opened
	OutcomeSkipped OutcomeKind = iota
	OutcomeSuccess
	OutcomeCancelled
	OutcomeError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeSuccess:
		return "success"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome is the single result of Open
type Outcome struct {
	Kind OutcomeKind
	// Accounts is the refreshed account list after a success
	Accounts []api.LinkedAccount
	// Linked holds the accounts the exchange reported
	Linked []api.LinkedAccount
	Err    error
}

// Backend is the part of the API client the adapter needs
type Backend interface {
	CreateLinkToken(ctx context.Context, userID string) (string, error)
	ExchangeToken(ctx context.Context, publicToken, userID string) ([]api.LinkedAccount, error)
}

// RefreshFunc force-refreshes the accounts resource, bypassing the cache
type RefreshFunc func(ctx context.Context) ([]api.LinkedAccount, error)

// Adapter runs link flows for one user
type Adapter struct {
	widget  Widget
	backend Backend
	refresh RefreshFunc
	userID  string

	pollInterval time.Duration
	pollAttempts int
	timeout      time.Duration

	metrics *metrics.Metrics
	log     *logger.Logger

	mu        sync.Mutex
	state     State
	linkToken string
}

// Option configures an Adapter
type Option func(*Adapter)

// WithPolling sets how accounts are polled after an exchange
func WithPolling(interval time.Duration, attempts int) Option {
	return func(a *Adapter) {
		a.pollInterval = interval
		a.pollAttempts = attempts
	}
}

// WithTimeout bounds how long the widget may stay open
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		a.timeout = d
	}
}

// WithMetrics counts outcomes on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) {
		a.metrics = m
	}
}

// NewAdapter creates an adapter for userID
func NewAdapter(widget Widget, backend Backend, userID string, refresh RefreshFunc, opts ...Option) *Adapter {
	a := &Adapter{
		widget:       widget,
		backend:      backend,
		refresh:      refresh,
		userID:       userID,
		pollInterval: time.Second,
		pollAttempts: 10,
		log:          logger.ForLink().WithField("user_id", userID),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.pollAttempts < 1 {
		a.pollAttempts = 1
	}
	return a
}

// State returns the current state
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// LinkToken returns the token the next Open will use
func (a *Adapter) LinkToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.linkToken
}

// SetLinkToken stores a token obtained from the backend
func (a *Adapter) SetLinkToken(token string) {
	a.mu.Lock()
	a.linkToken = token
	a.mu.Unlock()
}

// FetchLinkToken asks the backend for a new token and stores it
func (a *Adapter) FetchLinkToken(ctx context.Context) (string, error) {
	token, err := a.backend.CreateLinkToken(ctx, a.userID)
	if err != nil {
		return "", err
	}
	a.SetLinkToken(token)
	return token, nil
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Open shows the widget and blocks until the flow ends.
//
// onProgress(true) is called once the widget reports success and
// onProgress(false) once the follow-up refresh is over, whatever its
// result. onCancel is called at most once, only when the widget closes
// without a success. Either callback may be nil.
func (a *Adapter) Open(ctx context.Context, onProgress func(refreshing bool), onCancel func()) (outcome Outcome) {
	defer func() {
		if a.metrics != nil {
			a.metrics.LinkOutcomesTotal.WithLabelValues(outcome.Kind.String()).Inc()
		}
		a.log.Info().Str("outcome", outcome.Kind.String()).Err(outcome.Err).Msg("Link flow finished")
	}()

	a.mu.Lock()
	token := a.linkToken
	if token == "" || a.userID == "" {
		a.mu.Unlock()
		return Outcome{Kind: OutcomeSkipped}
	}
	if a.state != StateIdle {
		a.mu.Unlock()
		return Outcome{Kind: OutcomeSkipped, Err: clienterrors.NewWidget("Open", "a link flow is already running", nil)}
	}
	a.state = StateScriptLoading
	a.mu.Unlock()

	defer a.setState(StateIdle)

	a.widget.RemoveAll()
	script, err := a.widget.Load(ctx)
	if err != nil {
		return Outcome{Kind: OutcomeError, Err: clienterrors.NewWidget("Load", "failed to load widget script", err)}
	}
	defer a.widget.Remove(script)

	success := make(chan string, 1)
	exit := make(chan *ExitError, 1)
	handler, err := a.widget.Create(script, Config{
		Token: token,
		OnSuccess: func(publicToken string) {
			select {
			case success <- publicToken:
			default:
			}
		},
		OnExit: func(err *ExitError) {
			select {
			case exit <- err:
			default:
			}
		},
	})
	if err != nil {
		return Outcome{Kind: OutcomeError, Err: clienterrors.NewWidget("Create", "failed to create widget", err)}
	}

	waitCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	a.setState(StateWidgetOpen)
	if err := handler.Open(waitCtx); err != nil {
		return Outcome{Kind: OutcomeError, Err: clienterrors.NewWidget("Open", "failed to open widget", err)}
	}

	var cancelOnce sync.Once
	cancelled := func() {
		if onCancel != nil {
			cancelOnce.Do(onCancel)
		}
	}

	select {
	case publicToken := <-success:
		a.setState(StateExchangeInFlight)
		return a.complete(ctx, publicToken, onProgress)

	case exitErr := <-exit:
		// A success racing the exit still wins
		select {
		case publicToken := <-success:
			a.setState(StateExchangeInFlight)
			return a.complete(ctx, publicToken, onProgress)
		default:
		}
		cancelled()
		if exitErr != nil {
			return Outcome{Kind: OutcomeError, Err: clienterrors.NewWidget("Exit", "widget closed with an error", exitErr)}
		}
		return Outcome{Kind: OutcomeCancelled}

	case <-waitCtx.Done():
		cancelled()
		return Outcome{Kind: OutcomeCancelled, Err: waitCtx.Err()}
	}
}

// complete exchanges the public token and waits for the new accounts
func (a *Adapter) complete(ctx context.Context, publicToken string, onProgress func(bool)) Outcome {
	if onProgress != nil {
		onProgress(true)
		defer onProgress(false)
	}

	linked, err := a.backend.ExchangeToken(ctx, publicToken, a.userID)
	if err != nil {
		return Outcome{Kind: OutcomeError, Err: err}
	}

	// The used token is single-use either way
	a.SetLinkToken("")
	if _, err := a.FetchLinkToken(ctx); err != nil {
		a.log.Warn().Err(err).Msg("Failed to obtain a fresh link token")
	}

	accounts, err := a.awaitAccounts(ctx, linked)
	if err != nil {
		return Outcome{Kind: OutcomeError, Linked: linked, Err: err}
	}
	return Outcome{Kind: OutcomeSuccess, Accounts: accounts, Linked: linked}
}

// awaitAccounts refreshes accounts until every linked account shows up or
// the attempts run out
func (a *Adapter) awaitAccounts(ctx context.Context, linked []api.LinkedAccount) ([]api.LinkedAccount, error) {
	var (
		accounts []api.LinkedAccount
		err      error
	)
	for attempt := 1; attempt <= a.pollAttempts; attempt++ {
		accounts, err = a.refresh(ctx)
		if err == nil && containsAll(accounts, linked) {
			a.log.Debug().Int("attempt", attempt).Int("accounts", len(accounts)).Msg("Linked accounts visible")
			return accounts, nil
		}
		if err != nil && !clienterrors.IsRetryable(err) {
			return nil, err
		}
		if attempt == a.pollAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.pollInterval):
		}
	}
	if err != nil {
		return nil, err
	}

	a.log.Warn().Int("attempts", a.pollAttempts).Msg("Linked accounts not yet visible, using latest list")
	return accounts, nil
}

func containsAll(accounts, want []api.LinkedAccount) bool {
	ids := make(map[string]struct{}, len(accounts))
	for _, acc := range accounts {
		ids[acc.ID] = struct{}{}
	}
	for _, acc := range want {
		if _, ok := ids[acc.ID]; !ok {
			return false
		}
	}
	return true
}
