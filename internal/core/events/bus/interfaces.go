package bus

import (
	"time"

	"github.com/zeusync/simcore/internal/core/ecs"
)

// EventBus is an in-process pub/sub bus.
//
// Delivery is synchronous in the publisher's goroutine and follows
// subscription order. Handler errors are joined and returned from Publish.
// Topics scope subscriptions; the default topic is "".
type EventBus interface {
	Publish(event Event) error
	PublishToTopic(topic string, event Event) error
	// PublishWithFilters drops the event without error if any filter rejects it.
	PublishWithFilters(event Event, filters ...EventFilter) error
	PublishBatch(events ...Event) error

	Subscribe(eventType string, handler EventHandler) (Subscription, error)
	SubscribeTopic(topic, eventType string, handler EventHandler) (Subscription, error)
	// Unsubscribe cancels sub. Nil is allowed.
	Unsubscribe(sub Subscription) error

	CreateTopic(name string) error
	GetTopics() []TopicInfo

	// Metrics are only collected while at least one observer is registered.
	AddObserver(obs EventBusObserver)
	RemoveObserver(obs EventBusObserver)
	GetMetrics() EventBusMetrics
}

// Event is an immutable message. Type is the routing key.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
}

type (
	EventHandler func(event Event) error
	EventFilter  func(event Event) bool
)

type Subscription interface {
	ID() string
	EventType() string
	IsActive() bool
	Cancel() error
}

// EventBusObserver is notified about deliveries. Observers must return quickly.
type EventBusObserver interface {
	OnPublish(topic, eventType string, event Event)
	OnDelivered(topic, eventType string, handlers int, err error, durationMicros int64)
}

type EventBusMetrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	DroppedByFilters  uint64
	SubscribersActive uint64
	Topics            uint64
}

type TopicInfo struct {
	Name       string
	EventTypes int
	Subs       int
}

// Component lifecycle events published by the world.
const (
	ComponentAdded   = "component.added"
	ComponentRemoved = "component.removed"
	EntityDestroyed  = "entity.destroyed"
)

// ComponentChange is the payload of ComponentAdded and ComponentRemoved.
// Component is only safe to read during delivery; after a removal its slot
// may be reused.
type ComponentChange struct {
	Entity    ecs.Entity
	Kind      ecs.TypeKey
	Component *ecs.Component
}
