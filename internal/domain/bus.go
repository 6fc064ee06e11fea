package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (single node) or NATS (clustered).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `json:"type" koanf:"type" validate:"oneof=channel nats"`

	ChannelBufferSize int `json:"channelBufferSize" koanf:"channel_buffer_size"`

	NATSUrl           string `json:"natsUrl" koanf:"nats_url"`
	NATSToken         string `json:"-" koanf:"nats_token"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" koanf:"nats_max_reconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" koanf:"nats_reconnect_wait"` // seconds

	// NATSQueueGroup makes replicas share each subscription's messages.
	NATSQueueGroup string `json:"natsQueueGroup" koanf:"nats_queue_group"`
	// NATSSubjectPrefix namespaces every topic, e.g. "staging." on a shared server.
	NATSSubjectPrefix string `json:"natsSubjectPrefix" koanf:"nats_subject_prefix"`
}

// Standard topic names.
const (
	TopicScanRequested     = "kestrel.scan.requested"
	TopicScanCompleted     = "kestrel.scan.completed"
	TopicAlertRaised       = "kestrel.alert.raised"
	TopicAlertTransitioned = "kestrel.alert.transitioned"
	TopicHealingAction     = "kestrel.healing.action"
	TopicNotification      = "kestrel.notification"
)
