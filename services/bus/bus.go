package bus

import "context"

// Topic names an invalidation signal; events carry no payload
type Topic string

// TopicRewardsChanged tells every mounted view that reward and summary data
// must be re-derived from scratch
const TopicRewardsChanged Topic = "rewards_changed"

// Handler receives a published topic
type Handler func(topic Topic)

// Subscription is released with Unsubscribe; after it returns the handler
// is never called again
type Subscription interface {
	Unsubscribe()
}

// Bus represents a publish/subscribe invalidation channel
type Bus interface {
	// Publish delivers topic to every current subscriber
	Publish(ctx context.Context, topic Topic) error

	// Subscribe registers handler for topic
	Subscribe(topic Topic, handler Handler) Subscription

	// Close releases the bus connection
	Close() error
}
