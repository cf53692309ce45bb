package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"smartswipe/syncclient/config"
	"smartswipe/syncclient/internal/session"
	"smartswipe/syncclient/internal/store"
	"smartswipe/syncclient/services/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBackend mimics the SmartSwipe REST API for one user
type testBackend struct {
	mu       sync.Mutex
	calls    map[string]int
	accounts []api.LinkedAccount
	server   *httptest.Server
}

func newTestBackend(t *testing.T) *testBackend {
	b := &testBackend{
		calls: make(map[string]int),
		accounts: []api.LinkedAccount{
			{ID: "a1", Name: "Checking", InstitutionName: "Chase", Mask: "1111"},
			{ID: "a2", Name: "Sapphire", InstitutionName: "Chase", Mask: "2222"},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		b.hit("login")
		writeJSON(w, map[string]any{
			"message": "Login successful",
			"user":    map[string]string{"id": "u1", "email": "ada@example.com", "name": "Ada"},
			"session": map[string]string{"access_token": "jwt-u1", "token_type": "bearer"},
		})
	})
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		b.hit("health")
		writeJSON(w, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/api/auth/me", b.authed(func(w http.ResponseWriter, r *http.Request) {
		b.hit("me")
		writeJSON(w, map[string]any{
			"user": map[string]string{"id": "u1", "email": "ada@example.com", "name": "Ada"},
		})
	}))
	mux.HandleFunc("/api/plaid/accounts", b.authed(func(w http.ResponseWriter, r *http.Request) {
		b.hit("accounts")
		b.mu.Lock()
		defer b.mu.Unlock()
		writeJSON(w, map[string]any{"accounts": b.accounts})
	}))
	mux.HandleFunc("/api/plaid/accounts/", b.authed(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		b.hit("remove")
		id := strings.TrimPrefix(r.URL.Path, "/api/plaid/accounts/")
		b.mu.Lock()
		kept := b.accounts[:0]
		for _, acc := range b.accounts {
			if acc.ID != id {
				kept = append(kept, acc)
			}
		}
		b.accounts = kept
		b.mu.Unlock()
		writeJSON(w, map[string]bool{"success": true})
	}))
	mux.HandleFunc("/api/plaid/create-link-token", b.authed(func(w http.ResponseWriter, r *http.Request) {
		b.hit("link_token")
		writeJSON(w, map[string]string{"link_token": "link-sandbox-1"})
	}))
	mux.HandleFunc("/api/transactions", b.authed(func(w http.ResponseWriter, r *http.Request) {
		b.hit("transactions")
		w.Write([]byte(`[{"id":"t1","name":"Blue Bottle","amount":4.5,"category":["Food and Drink","Coffee Shop"],"account_id":"a2"},
			{"id":"t2","name":"United","amount":420,"category":["Travel","Airlines"],"account_id":"a2"}]`))
	}))
	mux.HandleFunc("/api/transactions/summary", b.authed(func(w http.ResponseWriter, r *http.Request) {
		b.hit("summary")
		w.Write([]byte(`{"total_transactions":2,"total_amount":424.5,"categories":{"Food and Drink":{"count":1,"amount":4.5},"Travel":{"count":1,"amount":420}}}`))
	}))
	mux.HandleFunc("/api/transactions/cashback", b.authed(func(w http.ResponseWriter, r *http.Request) {
		b.hit("cashback")
		w.Write([]byte(`{"status":"success","data":{"total_cashback":12.75,"cashback_by_card":{"Chase Sapphire Preferred":12.75},"spending_by_card":{"Chase Sapphire Preferred":424.5}}}`))
	}))
	mux.HandleFunc("/api/transactions/optimal-cashback", b.authed(func(w http.ResponseWriter, r *http.Request) {
		b.hit("optimal")
		w.Write([]byte(`{"status":"success","data":{"actual_total_cashback":12.75,"optimal_total_cashback":14,"optimal_cashback_by_card":{},"optimal_spending_by_card":{},"top_improvement_opportunities":[]}}`))
	}))
	mux.HandleFunc("/api/cards/rewards", b.authed(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		b.hit("card:" + name)
		writeJSON(w, map[string]any{
			"card_type":         name,
			"reward_categories": []string{},
			"extra_info":        map[string]string{"annual_fee": "$95"},
			"raw_content":       "<h2>Rewards</h2><ul><li>3x dining</li><li>2x travel</li></ul>",
		})
	}))

	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

// authed rejects requests without the session's bearer token
func (b *testBackend) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer jwt-u1" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (b *testBackend) hit(name string) {
	b.mu.Lock()
	b.calls[name]++
	b.mu.Unlock()
}

func (b *testBackend) count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func testConfig(t *testing.T, backend *testBackend) *config.Config {
	cfg := config.LoadConfig()
	cfg.APIURL = backend.server.URL + "/api"
	cfg.APITimeout = 2 * time.Second
	cfg.CacheBackend = config.CacheBackendFile
	cfg.CacheFile = filepath.Join(t.TempDir(), "cache.json")
	cfg.BusBackend = config.BusBackendLocal
	cfg.RefreshInterval = 20 * time.Millisecond
	cfg.LinkCallbackAddr = "127.0.0.1:0"
	cfg.ErrorLogFile = filepath.Join(t.TempDir(), "errors.log")
	cfg.MetricsAddr = ""
	cfg.Email = "ada@example.com"
	cfg.Password = "secret"
	require.NoError(t, cfg.Validate())
	return cfg
}

func startServices(t *testing.T, ctx context.Context, cfg *config.Config) *Services {
	services, err := initializeServices(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(services.Cleanup)
	return services
}

// TestIntegrationSyncKeepsScreensWarm signs in, mounts every screen and lets
// the worker revalidate them a few times
func TestIntegrationSyncKeepsScreensWarm(t *testing.T) {
	backend := newTestBackend(t)
	cfg := testConfig(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	services := startServices(t, ctx, cfg)

	user, err := authenticate(ctx, cfg, services)
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, 1, backend.count("login"))

	deps := services.Dependencies(cfg)
	done := make(chan error, 1)
	go func() { done <- runCommand(ctx, commandSync, nil, deps, services, user.ID) }()

	assert.Eventually(t, func() bool {
		return backend.count("cashback") >= 3 && backend.count("transactions") >= 3
	}, 5*time.Second, 10*time.Millisecond, "worker keeps revalidating")

	assert.Equal(t, 1, backend.count("health"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sync did not stop after cancel")
	}

	for _, key := range []store.Key{
		store.KeyFor(store.KindAccounts, "u1"),
		store.KeyFor(store.KindCashback, "u1"),
		store.KeyFor(store.KindOptimalCashback, "u1"),
		store.KeyFor(store.KindTransactionSummary, "u1"),
		store.KeyFor(store.KindTransactions, "u1"),
	} {
		_, err := services.Cache.Get(key.String())
		assert.NoError(t, err, key.String())
	}

	details, ok := store.Get[api.CardRewardDetails](services.Store, store.KeyFor(store.KindCardDetails, "Chase Sapphire Preferred"))
	require.True(t, ok)
	assert.Equal(t, []string{"3x dining", "2x travel"}, details.Data.RewardCategories)
	assert.Equal(t, 1, backend.count("card:Chase Sapphire Preferred"), "card details are fetched once")
}

// TestIntegrationSessionSurvivesRestart reopens the same cache file
func TestIntegrationSessionSurvivesRestart(t *testing.T) {
	backend := newTestBackend(t)
	cfg := testConfig(t, backend)
	ctx := context.Background()

	first := startServices(t, ctx, cfg)
	_, err := authenticate(ctx, cfg, first)
	require.NoError(t, err)
	first.Cleanup()

	cfg.Email, cfg.Password = "", ""
	second := startServices(t, ctx, cfg)
	user, err := authenticate(ctx, cfg, second)
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "jwt-u1", second.Session.Token())
	assert.Equal(t, 1, backend.count("login"), "the saved session is reused")
	assert.Equal(t, 1, backend.count("me"), "the saved session is verified")

	require.NoError(t, runCommand(ctx, commandLogout, nil, second.Dependencies(cfg), second, user.ID))
	_, err = second.Cache.Get(session.TokenKey)
	assert.Error(t, err)

	third := startServices(t, ctx, cfg)
	_, err = authenticate(ctx, cfg, third)
	assert.Error(t, err, "no session and no credentials")
}

// TestIntegrationRejectedSessionSignsInAgain replaces a saved token the
// backend no longer accepts
func TestIntegrationRejectedSessionSignsInAgain(t *testing.T) {
	backend := newTestBackend(t)
	cfg := testConfig(t, backend)
	ctx := context.Background()

	services := startServices(t, ctx, cfg)
	require.NoError(t, services.Cache.Set(session.UserKey, []byte(`{"id":"u1","email":"ada@example.com"}`), 0))
	require.NoError(t, services.Cache.Set(session.TokenKey, []byte("expired"), 0))
	require.NoError(t, services.Store.Set(store.KeyFor(store.KindAccounts, "u1"), []api.LinkedAccount{{ID: "stale"}}))

	user, err := authenticate(ctx, cfg, services)
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, 1, backend.count("login"))
	assert.Equal(t, "jwt-u1", services.Session.Token())

	_, ok := store.Get[[]api.LinkedAccount](services.Store, store.KeyFor(store.KindAccounts, "u1"))
	assert.False(t, ok, "the rejected session's cached data is dropped")
}

// TestIntegrationRemoveAndRefreshAll unlinks an account and drops derived data
func TestIntegrationRemoveAndRefreshAll(t *testing.T) {
	backend := newTestBackend(t)
	cfg := testConfig(t, backend)
	ctx := context.Background()

	services := startServices(t, ctx, cfg)
	user, err := authenticate(ctx, cfg, services)
	require.NoError(t, err)
	deps := services.Dependencies(cfg)

	require.NoError(t, services.Store.Set(store.KeyFor(store.KindCashback, user.ID), api.EmptyCashbackSummary()))
	require.NoError(t, services.Store.Set(store.KeyFor(store.KindCardDetails, "Chase Sapphire Preferred"), api.CardRewardDetails{CardType: "Chase Sapphire Preferred"}))

	stdin = strings.NewReader("n\n")
	require.NoError(t, runCommand(ctx, commandRemove, []string{"a1"}, deps, services, user.ID))
	assert.Zero(t, backend.count("remove"), "declined removal never reaches the backend")

	stdin = strings.NewReader("y\n")
	t.Cleanup(func() { stdin = strings.NewReader("") })
	require.NoError(t, runCommand(ctx, commandRemove, []string{"a1"}, deps, services, user.ID))
	assert.Equal(t, 1, backend.count("remove"))

	accounts, ok := store.Get[[]api.LinkedAccount](services.Store, store.KeyFor(store.KindAccounts, user.ID))
	require.True(t, ok)
	assert.Equal(t, []api.LinkedAccount{{ID: "a2", Name: "Sapphire", InstitutionName: "Chase", Mask: "2222"}}, accounts.Data)

	_, ok = store.Get[api.CashbackSummary](services.Store, store.KeyFor(store.KindCashback, user.ID))
	assert.False(t, ok, "summaries are dropped with the account")

	require.NoError(t, runCommand(ctx, commandRefreshAll, nil, deps, services, user.ID))
	keys, err := services.Cache.Keys(store.KindCardDetails.Prefix())
	require.NoError(t, err)
	assert.Empty(t, keys)

	assert.Error(t, runCommand(ctx, "bogus", nil, deps, services, user.ID))
	assert.Error(t, runCommand(ctx, commandRemove, nil, deps, services, user.ID))
}
