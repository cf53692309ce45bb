package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"smartswipe/syncclient/helpers"
	"smartswipe/syncclient/logger"
	clienterrors "smartswipe/syncclient/pkg/errors"
	"smartswipe/syncclient/services/metrics"
)

// TokenSource supplies the bearer credential attached to every request
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed TokenSource
type StaticToken string

// Token returns the token itself
func (s StaticToken) Token() string { return string(s) }

// Client talks to the SmartSwipe backend. Its methods are the resource
// fetchers: they never read or write any cache.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	metrics *metrics.Metrics
	log     *logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTokenSource sets where bearer tokens come from
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithMetrics records fetch counts and durations on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a backend client rooted at baseURL (e.g. http://127.0.0.1:5001/api)
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    helpers.NewClient(timeout),
		log:     logger.ForAPI(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTokenSource replaces the token source after construction
func (c *Client) SetTokenSource(ts TokenSource) {
	c.tokens = ts
}

// Health checks that the backend is up
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, "Health", http.MethodGet, "/health", nil)
	return err
}

// Signup creates an account and returns the new session
func (c *Client) Signup(ctx context.Context, data SignupData) (AuthResponse, error) {
	return call[AuthResponse](ctx, c, "Signup", http.MethodPost, "/auth/signup", data, "")
}

// Login authenticates with email and password
func (c *Client) Login(ctx context.Context, data LoginData) (AuthResponse, error) {
	return call[AuthResponse](ctx, c, "Login", http.MethodPost, "/auth/login", data, "")
}

// Me returns the user behind the current credential
func (c *Client) Me(ctx context.Context) (AuthResponse, error) {
	return call[AuthResponse](ctx, c, "Me", http.MethodGet, "/auth/me", nil, "")
}

// UpdateProfile changes the user's name or email
func (c *Client) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) error {
	_, err := c.do(ctx, "UpdateProfile", http.MethodPatch, "/auth/users/"+url.PathEscape(userID), update)
	return err
}

// GetAccounts lists the user's linked accounts
func (c *Client) GetAccounts(ctx context.Context, userID string) ([]LinkedAccount, error) {
	path := helpers.WithQuery("/plaid/accounts", map[string]string{"user_id": userID})
	accounts, err := call[[]LinkedAccount](ctx, c, "GetAccounts", http.MethodGet, path, nil, "accounts")
	if err != nil {
		return nil, err
	}
	if accounts == nil {
		accounts = []LinkedAccount{}
	}
	return accounts, nil
}

// CreateLinkToken obtains a one-use token to open the linking widget
func (c *Client) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	body := map[string]string{"userId": userID}
	token, err := call[string](ctx, c, "CreateLinkToken", http.MethodPost, "/plaid/create-link-token", body, "link_token")
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", clienterrors.NewValidation("CreateLinkToken", "backend returned an empty link token")
	}
	return token, nil
}

// ExchangeToken trades the widget's public token for a durable credential
// held by the backend and returns the accounts it linked
func (c *Client) ExchangeToken(ctx context.Context, publicToken, userID string) ([]LinkedAccount, error) {
	body := map[string]string{"public_token": publicToken, "userId": userID}
	accounts, err := call[[]LinkedAccount](ctx, c, "ExchangeToken", http.MethodPost, "/plaid/exchange-token", body, "accounts")
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// RemoveAccount unlinks one account
func (c *Client) RemoveAccount(ctx context.Context, accountID, userID string) error {
	path := helpers.WithQuery("/plaid/accounts/"+url.PathEscape(accountID), map[string]string{"user_id": userID})
	_, err := c.do(ctx, "RemoveAccount", http.MethodDelete, path, nil)
	return err
}

// GetTransactions lists recent transactions across linked accounts.
// It fails with a NoLinkedAccounts error when nothing is linked yet.
func (c *Client) GetTransactions(ctx context.Context, userID string) ([]Transaction, error) {
	path := helpers.WithQuery("/transactions", map[string]string{"user_id": userID})
	txs, err := call[[]Transaction](ctx, c, "GetTransactions", http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []Transaction{}
	}
	return txs, nil
}

// GetTransactionSummary returns aggregated transaction statistics
func (c *Client) GetTransactionSummary(ctx context.Context, userID string) (TransactionSummary, error) {
	path := helpers.WithQuery("/transactions/summary", map[string]string{"user_id": userID})
	return call[TransactionSummary](ctx, c, "GetTransactionSummary", http.MethodGet, path, nil, "")
}

// GetCashbackSummary returns the cashback earned per card
func (c *Client) GetCashbackSummary(ctx context.Context, userID string) (CashbackSummary, error) {
	path := helpers.WithQuery("/transactions/cashback", map[string]string{"user_id": userID})
	return call[CashbackSummary](ctx, c, "GetCashbackSummary", http.MethodGet, path, nil, "")
}

// GetOptimalCashback returns the backend's best-card recommendation
func (c *Client) GetOptimalCashback(ctx context.Context, userID string) (OptimalCashback, error) {
	path := helpers.WithQuery("/transactions/optimal-cashback", map[string]string{"user_id": userID})
	return call[OptimalCashback](ctx, c, "GetOptimalCashback", http.MethodGet, path, nil, "")
}

// GetCardRewardDetails looks up the reward structure of a card by name.
// force asks the backend to bypass its own lookup cache.
func (c *Client) GetCardRewardDetails(ctx context.Context, cardName string, force bool) (CardRewardDetails, error) {
	params := map[string]string{"name": cardName}
	if force {
		params["refresh"] = "true"
	}
	path := helpers.WithQuery("/cards/rewards", params)
	return call[CardRewardDetails](ctx, c, "GetCardRewardDetails", http.MethodGet, path, nil, "")
}

// call performs a request and decodes its (possibly enveloped) body into T
func call[T any](ctx context.Context, c *Client, op, method, path string, body any, field string) (T, error) {
	var out T
	resp, err := c.do(ctx, op, method, path, body)
	if err != nil {
		return out, err
	}
	if err := decodeBody(resp.Body, field, &out); err != nil {
		e := clienterrors.New(clienterrors.ErrorTypeServer, op, "malformed response body", err)
		e.Status = resp.StatusCode
		e.Body = string(resp.Body)
		return out, e
	}
	return out, nil
}

// do sends one request and maps failures onto the client error taxonomy
func (c *Client) do(ctx context.Context, op, method, path string, body any) (*helpers.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, clienterrors.NewValidation(op, fmt.Sprintf("cannot encode request: %v", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, helpers.JoinPath(c.baseURL, path), reader)
	if err != nil {
		return nil, clienterrors.NewValidation(op, fmt.Sprintf("cannot build request: %v", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := helpers.Do(ctx, c.http, req)
	if c.metrics != nil {
		c.metrics.FetchDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		c.observe(op, "network_error")
		c.log.Debug().Err(err).Str("op", op).Msg("Request failed without response")
		return nil, clienterrors.NewNetwork(op, err)
	}

	if resp.OK() {
		if msg := embeddedError(resp.Body); msg != "" {
			c.observe(op, "server_error")
			return nil, clienterrors.NewServer(op, resp.StatusCode, string(resp.Body))
		}
		c.observe(op, "ok")
		return resp, nil
	}

	if resp.StatusCode == http.StatusNotFound && errorCode(resp.Body) == clienterrors.NoLinkedAccountsCode {
		c.observe(op, "no_linked_accounts")
		return nil, clienterrors.NewNoLinkedAccounts(op)
	}

	c.observe(op, "server_error")
	c.log.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Str("request_id", resp.RequestID).
		Msg("Backend returned an error status")
	return nil, clienterrors.NewServer(op, resp.StatusCode, string(resp.Body))
}

func (c *Client) observe(op, result string) {
	if c.metrics != nil {
		c.metrics.FetchesTotal.WithLabelValues(op, result).Inc()
	}
}
