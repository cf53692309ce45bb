package bus

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"smartswipe/syncclient/logger"
	"smartswipe/syncclient/services/metrics"
)

type subscriber struct {
	id      string
	handler Handler
	// mu is held while the handler runs so Unsubscribe can wait it out
	mu     sync.Mutex
	active bool
}

// LocalBus delivers topics to subscribers in this process
type LocalBus struct {
	mu      sync.RWMutex
	subs    map[Topic]map[string]*subscriber
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewLocalBus creates an in-process bus; m may be nil
func NewLocalBus(m *metrics.Metrics) *LocalBus {
	return &LocalBus{
		subs:    make(map[Topic]map[string]*subscriber),
		metrics: m,
		log:     logger.ForBus().WithField("backend", "local"),
	}
}

// Publish calls every subscriber of topic synchronously, in no particular order
func (b *LocalBus) Publish(ctx context.Context, topic Topic) error {
	if b.metrics != nil {
		b.metrics.InvalidationsTotal.WithLabelValues(string(topic), "published").Inc()
	}
	b.deliver(topic)
	return nil
}

// deliver fans topic out to the current subscribers
func (b *LocalBus) deliver(topic Topic) {
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs[topic]))
	for _, s := range b.subs[topic] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	b.log.Debug().Str("topic", string(topic)).Int("subscribers", len(targets)).Msg("Delivering invalidation")

	for _, s := range targets {
		s.mu.Lock()
		if s.active {
			s.handler(topic)
			if b.metrics != nil {
				b.metrics.InvalidationsTotal.WithLabelValues(string(topic), "delivered").Inc()
			}
		}
		s.mu.Unlock()
	}
}

// Subscribe registers handler for topic
func (b *LocalBus) Subscribe(topic Topic, handler Handler) Subscription {
	s := &subscriber{id: uuid.NewString(), handler: handler, active: true}

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]*subscriber)
	}
	b.subs[topic][s.id] = s
	b.mu.Unlock()

	return &localSubscription{bus: b, topic: topic, sub: s}
}

// Subscribers returns the number of live subscriptions on topic
func (b *LocalBus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close drops every subscription
func (b *LocalBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[Topic]map[string]*subscriber)
	b.mu.Unlock()

	for _, byID := range subs {
		for _, s := range byID {
			s.mu.Lock()
			s.active = false
			s.mu.Unlock()
		}
	}
	return nil
}

type localSubscription struct {
	bus   *LocalBus
	topic Topic
	sub   *subscriber
	once  sync.Once
}

// Unsubscribe removes the subscription; it waits for a running delivery to
// finish, so it must not be called from inside the handler itself
func (s *localSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs[s.topic], s.sub.id)
		if len(s.bus.subs[s.topic]) == 0 {
			delete(s.bus.subs, s.topic)
		}
		s.bus.mu.Unlock()

		s.sub.mu.Lock()
		s.sub.active = false
		s.sub.mu.Unlock()
	})
}
