package messagebus

import (
	"context"

	"github.com/jordanhubbard/quill/pkg/messages"
)

// EventPublisher abstracts event publishing for testability.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload map[string]any) error
}

// EventSubscriber abstracts event subscription for testability.
type EventSubscriber interface {
	SubscribeEvents(eventType string, handler func(*messages.EventMessage)) error
}

// HumanInputPublisher abstracts posting user answers for testability.
type HumanInputPublisher interface {
	PublishHumanInput(ctx context.Context, msg *messages.HumanInputMessage) error
}

// HumanInputSubscriber abstracts the resume channel for testability.
type HumanInputSubscriber interface {
	SubscribeHumanInput(handler func(*messages.HumanInputMessage)) error
}

// Verify NatsMessageBus implements all interfaces at compile time.
var (
	_ EventPublisher       = (*NatsMessageBus)(nil)
	_ EventSubscriber      = (*NatsMessageBus)(nil)
	_ HumanInputPublisher  = (*NatsMessageBus)(nil)
	_ HumanInputSubscriber = (*NatsMessageBus)(nil)
)
