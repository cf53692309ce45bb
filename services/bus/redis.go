package bus

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"smartswipe/syncclient/logger"
	"smartswipe/syncclient/services/metrics"
)

// RedisBus implements Bus on Redis pub/sub so that every client sharing the
// cache sees invalidations published by the others. Local subscribers are
// served by an embedded LocalBus; a publication is delivered locally right
// away and relayed to other processes tagged with this bus's origin id.
type RedisBus struct {
	local   *LocalBus
	client  *redis.Client
	pubsub  *redis.PubSub
	ctx     context.Context
	cancel  context.CancelFunc
	channel string
	origin  string
	metrics *metrics.Metrics
	log     *logger.Logger
	done    chan struct{}
}

// NewRedisBus creates a Redis-backed bus listening on "<channel>:*"
func NewRedisBus(ctx context.Context, addr string, db int, channel string, m *metrics.Metrics) *RedisBus {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	return newRedisBus(ctx, client, channel, m)
}

func newRedisBus(ctx context.Context, client *redis.Client, channel string, m *metrics.Metrics) *RedisBus {
	ctx, cancel := context.WithCancel(ctx)
	b := &RedisBus{
		local:   NewLocalBus(m),
		client:  client,
		ctx:     ctx,
		cancel:  cancel,
		channel: channel,
		origin:  uuid.NewString(),
		metrics: m,
		log:     logger.ForBus().WithField("backend", "redis"),
		done:    make(chan struct{}),
	}
	b.pubsub = client.PSubscribe(ctx, channel+":*")
	go b.relay()
	return b
}

// Ping checks the connection
func (b *RedisBus) Ping() error {
	return b.client.Ping(b.ctx).Err()
}

// Publish delivers topic locally and announces it to the other processes
func (b *RedisBus) Publish(ctx context.Context, topic Topic) error {
	if err := b.local.Publish(ctx, topic); err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel+":"+string(topic), b.origin).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for topic
func (b *RedisBus) Subscribe(topic Topic, handler Handler) Subscription {
	return b.local.Subscribe(topic, handler)
}

// Close stops the relay and closes the Redis connection
func (b *RedisBus) Close() error {
	b.cancel()
	err := b.pubsub.Close()
	<-b.done
	if cerr := b.client.Close(); err == nil {
		err = cerr
	}
	b.local.Close()
	return err
}

// relay forwards publications from other processes to local subscribers
func (b *RedisBus) relay() {
	defer close(b.done)
	prefix := b.channel + ":"
	for msg := range b.pubsub.Channel() {
		if msg.Payload == b.origin {
			continue
		}
		topic := Topic(strings.TrimPrefix(msg.Channel, prefix))
		b.log.Debug().Str("topic", string(topic)).Str("origin", msg.Payload).Msg("Received remote invalidation")
		if b.metrics != nil {
			b.metrics.InvalidationsTotal.WithLabelValues(string(topic), "received").Inc()
		}
		b.local.deliver(topic)
	}
}
