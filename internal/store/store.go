// Package store keeps typed, timestamped resource snapshots on top of a
// durable key/value backend.
//
// Every value is written as a {data, timestamp} envelope under a key built
// from a resource Kind and an id (user id or card name). Reads never fail:
// anything that cannot be decoded is dropped and reported as a miss.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"smartswipe/syncclient/logger"
	clienterrors "smartswipe/syncclient/pkg/errors"
	"smartswipe/syncclient/services/cache"
	"smartswipe/syncclient/services/metrics"
)

// Kind identifies a cached resource
type Kind int

const (
	KindAccounts Kind = iota
	KindCashback
	KindOptimalCashback
	KindTransactionSummary
	KindTransactions
	KindCardDetails
)

type kindInfo struct {
	prefix string
	window time.Duration
}

// A zero window never expires; those entries live until cleared.
var kinds = map[Kind]kindInfo{
	KindAccounts:           {"accounts", 5 * time.Minute},
	KindCashback:           {"cashback", 15 * time.Minute},
	KindOptimalCashback:    {"optimal_cashback", 15 * time.Minute},
	KindTransactionSummary: {"transaction_summary", 15 * time.Minute},
	KindTransactions:       {"transactions", 15 * time.Minute},
	KindCardDetails:        {"card_details", 0},
}

// UserKinds are the kinds keyed by user id
var UserKinds = []Kind{KindAccounts, KindCashback, KindOptimalCashback, KindTransactionSummary, KindTransactions}

// SummaryKinds are derived from the linked accounts and go stale when they change
var SummaryKinds = []Kind{KindCashback, KindOptimalCashback, KindTransactionSummary, KindTransactions}

// Prefix returns the key prefix of the kind, without the separator
func (k Kind) Prefix() string {
	if info, ok := kinds[k]; ok {
		return info.prefix
	}
	return fmt.Sprintf("kind%d", int(k))
}

// DefaultWindow returns the built-in freshness window of the kind
func (k Kind) DefaultWindow() time.Duration {
	return kinds[k].window
}

func (k Kind) String() string {
	return k.Prefix()
}

// Key addresses one cached resource
type Key struct {
	Kind Kind
	ID   string
}

// KeyFor builds a key
func KeyFor(kind Kind, id string) Key {
	return Key{Kind: kind, ID: id}
}

// String renders the backend key, e.g. "accounts_u1"
func (k Key) String() string {
	return k.Kind.Prefix() + "_" + k.ID
}

// Entry is the stored envelope
type Entry[T any] struct {
	Data      T     `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

// Valid reports whether the entry is younger than window at now.
// Entries exactly window old are expired; a non-positive window never expires.
func (e Entry[T]) Valid(now time.Time, window time.Duration) bool {
	if window <= 0 {
		return true
	}
	return now.UnixMilli()-e.Timestamp < window.Milliseconds()
}

// StoredAt returns the write time of the entry
func (e Entry[T]) StoredAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// rawEntry detects envelopes missing either member
type rawEntry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp *int64          `json:"timestamp"`
}

// Store is the typed cache service
type Store struct {
	backend cache.CacheService
	windows map[Kind]time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	log     *logger.Logger
}

// Option configures a Store
type Option func(*Store)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithWindow overrides the freshness window of a kind
func WithWindow(kind Kind, window time.Duration) Option {
	return func(s *Store) {
		s.windows[kind] = window
	}
}

// WithMetrics records lookups on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithLogger replaces the component logger
func WithLogger(l *logger.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// New creates a store over backend
func New(backend cache.CacheService, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		windows: make(map[Kind]time.Duration, len(kinds)),
		now:     time.Now,
	}
	for k, info := range kinds {
		s.windows[k] = info.window
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.ForStore()
	}
	return s
}

// Backend returns the underlying key/value backend
func (s *Store) Backend() cache.CacheService {
	return s.backend
}

// Now returns the store clock's current time
func (s *Store) Now() time.Time {
	return s.now()
}

// Window returns the freshness window applied to kind
func (s *Store) Window(kind Kind) time.Duration {
	return s.windows[kind]
}

// Get returns the entry under key regardless of its age
func Get[T any](s *Store, key Key) (Entry[T], bool) {
	var entry Entry[T]

	k := key.String()
	data, err := s.backend.Get(k)
	if errors.Is(err, cache.ErrCacheMiss) {
		s.observe(key.Kind, metrics.OutcomeMiss)
		return entry, false
	}
	if err != nil {
		s.log.Warn().Err(err).Str("key", k).Msg("Cache backend read failed")
		s.observe(key.Kind, metrics.OutcomeMiss)
		return entry, false
	}

	var raw rawEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		s.dropCorrupt(key, err)
		return entry, false
	}
	if raw.Timestamp == nil || raw.Data == nil {
		s.dropCorrupt(key, errors.New("missing data or timestamp"))
		return entry, false
	}
	if err := json.Unmarshal(raw.Data, &entry.Data); err != nil {
		s.dropCorrupt(key, err)
		return entry, false
	}
	entry.Timestamp = *raw.Timestamp
	return entry, true
}

// GetFresh returns the entry under key only while it is inside its kind's window
func GetFresh[T any](s *Store, key Key) (Entry[T], bool) {
	entry, ok := Get[T](s, key)
	if !ok {
		return entry, false
	}
	if !entry.Valid(s.now(), s.Window(key.Kind)) {
		s.observe(key.Kind, metrics.OutcomeStale)
		return entry, false
	}
	s.observe(key.Kind, metrics.OutcomeHit)
	return entry, true
}

// Set writes data under key stamped with the current time
func (s *Store) Set(key Key, data any) error {
	payload, err := json.Marshal(Entry[any]{Data: data, Timestamp: s.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.backend.Set(key.String(), payload, 0); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// Clear removes the entry under key
func (s *Store) Clear(key Key) error {
	if err := s.backend.Delete(key.String()); err != nil {
		return fmt.Errorf("failed to clear %s: %w", key, err)
	}
	return nil
}

// ClearByPrefix removes every entry whose key starts with prefix and
// returns how many were removed
func (s *Store) ClearByPrefix(prefix string) (int, error) {
	keys, err := s.backend.Keys(prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list %q: %w", prefix, err)
	}
	removed := 0
	for _, k := range keys {
		if err := s.backend.Delete(k); err != nil {
			return removed, fmt.Errorf("failed to clear %s: %w", k, err)
		}
		removed++
	}
	return removed, nil
}

// ClearKind removes every entry of kind
func (s *Store) ClearKind(kind Kind) (int, error) {
	return s.ClearByPrefix(kind.Prefix() + "_")
}

// ClearUser removes the entries of the given kinds keyed by userID
func (s *Store) ClearUser(userID string, kinds ...Kind) error {
	var errs []error
	for _, kind := range kinds {
		if err := s.Clear(KeyFor(kind, userID)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) dropCorrupt(key Key, cause error) {
	err := clienterrors.NewCacheCorrupt(key.String(), cause)
	s.log.Warn().Err(err).Msg("Dropping unreadable cache entry")
	s.observe(key.Kind, metrics.OutcomeCorrupt)
	if delErr := s.backend.Delete(key.String()); delErr != nil {
		s.log.Warn().Err(delErr).Str("key", key.String()).Msg("Failed to drop cache entry")
	}
}

func (s *Store) observe(kind Kind, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.CacheLookupsTotal.WithLabelValues(kind.Prefix(), outcome).Inc()
}
