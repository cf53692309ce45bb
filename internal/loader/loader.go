// Package loader implements the cache-aware data loader shared by every
// screen: serve from the store when possible, fetch when not, and never let
// a superseded request overwrite a newer one.
package loader

import (
	"context"
	"sync"
	"time"

	"smartswipe/syncclient/internal/store"
	"smartswipe/syncclient/logger"
	clienterrors "smartswipe/syncclient/pkg/errors"
	"smartswipe/syncclient/services/bus"
	"smartswipe/syncclient/services/metrics"
)

// Fetcher retrieves the resource from the backend
type Fetcher[T any] func(ctx context.Context) (T, error)

// State is a point-in-time view of a loader
type State[T any] struct {
	Value     T
	HasValue  bool
	IsLoading bool
	// IsRefreshing is set instead of IsLoading when a value is already shown
	IsRefreshing bool
	// NoLinkedAccounts marks the valid empty state; Err is nil when it is set
	NoLinkedAccounts bool
	Err              error
	UpdatedAt        time.Time
}

type settings struct {
	name    string
	bus     bus.Bus
	topic   bus.Topic
	metrics *metrics.Metrics
	log     *logger.Logger
}

// Option configures a Loader
type Option func(*settings)

// WithName labels logs and metrics; defaults to the key's kind
func WithName(name string) Option {
	return func(s *settings) {
		s.name = name
	}
}

// WithBus binds the loader to topic on b: every publication invalidates it
func WithBus(b bus.Bus, topic bus.Topic) Option {
	return func(s *settings) {
		s.bus = b
		s.topic = topic
	}
}

// WithMetrics counts discarded results on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithLogger replaces the component logger
func WithLogger(l *logger.Logger) Option {
	return func(s *settings) {
		s.log = l
	}
}

// Loader keeps one cached resource in sync for one view
type Loader[T any] struct {
	settings
	store *store.Store
	key   store.Key
	fetch Fetcher[T]
	empty func() T

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	state    State[T]
	issued   uint64
	applied  uint64
	closed   bool
	sub      bus.Subscription
	onChange func(State[T])
}

// New creates a loader for key. empty builds the value shown when nothing
// could be loaded; nil means the zero value.
func New[T any](s *store.Store, key store.Key, fetch Fetcher[T], empty func() T, opts ...Option) *Loader[T] {
	l := &Loader[T]{
		store: s,
		key:   key,
		fetch: fetch,
		empty: empty,
	}
	for _, opt := range opts {
		opt(&l.settings)
	}
	if l.name == "" {
		l.name = key.Kind.String()
	}
	if l.log == nil {
		l.log = logger.ForLoader(l.name)
	}
	if l.empty == nil {
		l.empty = func() T {
			var zero T
			return zero
		}
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	return l
}

// Key returns the store key the loader reads and writes
func (l *Loader[T]) Key() store.Key {
	return l.key
}

// OnChange registers fn to receive every new state
func (l *Loader[T]) OnChange(fn func(State[T])) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

// Snapshot returns the current state
func (l *Loader[T]) Snapshot() State[T] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Mount shows whatever the store holds, fresh or not, then revalidates in
// the background and starts listening on the bus
func (l *Loader[T]) Mount(ctx context.Context) State[T] {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return l.Snapshot()
	}
	l.cancel()
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.mu.Unlock()

	if entry, ok := store.Get[T](l.store, l.key); ok {
		l.applyCached(entry)
	}

	l.background(func(ctx context.Context) {
		l.load(ctx)
	})

	if l.bus != nil {
		l.mu.Lock()
		if l.sub == nil {
			l.sub = l.bus.Subscribe(l.topic, l.handle)
		}
		l.mu.Unlock()
	}

	return l.Snapshot()
}

// handle runs on the bus delivery path, so the work goes to the background
func (l *Loader[T]) handle(topic bus.Topic) {
	l.log.Debug().Str("topic", string(topic)).Msg("Invalidation received")
	l.background(func(ctx context.Context) {
		l.Invalidate(ctx)
	})
}

// Load serves a fresh cache entry unless force is set, otherwise fetches
func (l *Loader[T]) Load(ctx context.Context, force bool) State[T] {
	if !force {
		if entry, ok := store.GetFresh[T](l.store, l.key); ok {
			l.applyCached(entry)
			return l.Snapshot()
		}
	}
	return l.load(ctx)
}

// Invalidate drops the cache entry and fetches again
func (l *Loader[T]) Invalidate(ctx context.Context) State[T] {
	if err := l.store.Clear(l.key); err != nil {
		l.log.Warn().Err(err).Msg("Failed to clear cache entry")
	}
	return l.Load(ctx, true)
}

// Mutate applies fn to the current value and stores the result. It
// supersedes every request still in flight.
func (l *Loader[T]) Mutate(fn func(T) T) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.issued++
	l.applied = l.issued

	current := l.state.Value
	if !l.state.HasValue {
		current = l.empty()
	}
	next := fn(current)

	l.state.Value = next
	l.state.HasValue = true
	l.state.Err = nil
	l.state.IsLoading = false
	l.state.IsRefreshing = false
	l.state.UpdatedAt = l.store.Now()
	err := l.store.Set(l.key, next)
	snapshot, notify := l.state, l.onChange
	l.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}
	return err
}

// Wait blocks until background work started by Mount or the bus is done
func (l *Loader[T]) Wait() {
	l.wg.Wait()
}

// Close unsubscribes from the bus and discards every later result
func (l *Loader[T]) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	sub := l.sub
	l.sub = nil
	l.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	l.cancel()
	l.wg.Wait()
}

func (l *Loader[T]) background(fn func(ctx context.Context)) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	ctx := l.ctx
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		fn(ctx)
	}()
}

// applyCached shows a stored entry unless the state already holds
// something newer
func (l *Loader[T]) applyCached(entry store.Entry[T]) {
	l.mu.Lock()
	if l.closed || (l.state.HasValue && !entry.StoredAt().After(l.state.UpdatedAt)) {
		l.mu.Unlock()
		return
	}
	l.state.Value = entry.Data
	l.state.HasValue = true
	l.state.NoLinkedAccounts = false
	l.state.Err = nil
	l.state.UpdatedAt = entry.StoredAt()
	snapshot, notify := l.state, l.onChange
	l.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}
}

// load runs one fetch under a fresh request token
func (l *Loader[T]) load(ctx context.Context) State[T] {
	l.mu.Lock()
	if l.closed {
		defer l.mu.Unlock()
		return l.state
	}
	l.issued++
	token := l.issued
	if l.state.HasValue {
		l.state.IsRefreshing = true
	} else {
		l.state.IsLoading = true
	}
	snapshot, notify := l.state, l.onChange
	l.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}

	value, err := l.fetch(ctx)

	l.mu.Lock()
	if l.closed || token <= l.applied {
		l.mu.Unlock()
		if l.metrics != nil {
			l.metrics.DiscardedResults.WithLabelValues(l.name).Inc()
		}
		l.log.Debug().Uint64("token", token).Msg("Discarding superseded result")
		return l.Snapshot()
	}
	l.applied = token

	switch {
	case err == nil:
		l.state.Value = value
		l.state.HasValue = true
		l.state.NoLinkedAccounts = false
		l.state.Err = nil
		l.state.UpdatedAt = l.store.Now()
		if setErr := l.store.Set(l.key, value); setErr != nil {
			l.log.Warn().Err(setErr).Msg("Failed to cache fetched value")
		}
	case clienterrors.IsNoLinkedAccounts(err):
		l.state.Value = l.empty()
		l.state.HasValue = true
		l.state.NoLinkedAccounts = true
		l.state.Err = nil
		l.state.UpdatedAt = l.store.Now()
		if clearErr := l.store.Clear(l.key); clearErr != nil {
			l.log.Warn().Err(clearErr).Msg("Failed to clear cache entry")
		}
	default:
		l.state.Err = err
		if !l.state.HasValue {
			l.state.Value = l.empty()
		}
		l.log.Warn().Err(err).Bool("has_value", l.state.HasValue).Msg("Fetch failed")
	}

	if token == l.issued {
		l.state.IsLoading = false
		l.state.IsRefreshing = false
	}
	snapshot, notify = l.state, l.onChange
	l.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}
	return snapshot
}
