// Package messagebus connects the engine to NATS JetStream: lifecycle
// events go out, human input comes back in.
package messagebus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/quill/pkg/messages"
	"github.com/nats-io/nats.go"
)

// NatsMessageBus implements a message bus using NATS with JetStream
type NatsMessageBus struct {
	conn           *nats.Conn
	js             nats.JetStreamContext
	subscriptions  map[string]*nats.Subscription
	streamName     string
	url            string
	consumerPrefix string
}

// Config holds NATS configuration
type Config struct {
	URL            string        // NATS server URL (e.g., "nats://nats:4222")
	StreamName     string        // JetStream stream name (default: "QUILL")
	Timeout        time.Duration // Connection timeout
	ConsumerPrefix string        // Prefix for durable consumer names (for test isolation)
}

// NewNatsMessageBus creates a new NATS message bus with JetStream
func NewNatsMessageBus(cfg Config) (*NatsMessageBus, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "QUILL"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	mb := &NatsMessageBus{
		conn:           nc,
		js:             js,
		subscriptions:  make(map[string]*nats.Subscription),
		streamName:     cfg.StreamName,
		url:            cfg.URL,
		consumerPrefix: cfg.ConsumerPrefix,
	}

	if err := mb.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	log.Printf("Connected to NATS at %s with JetStream stream %s", cfg.URL, cfg.StreamName)
	return mb, nil
}

// ensureStream creates or updates the JetStream stream.
// Uses LimitsPolicy (not WorkQueue) so that multiple consumers can
// subscribe to the same subjects, required for event fan-out.
func (mb *NatsMessageBus) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      mb.streamName,
		Subjects:  []string{"quill.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024, // 1GB
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	}

	_, err := mb.js.StreamInfo(mb.streamName)
	if err != nil {
		if _, err := mb.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		log.Printf("Created JetStream stream: %s", mb.streamName)
		return nil
	}

	if _, err := mb.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

// Publish sends an execution lifecycle event. Satisfies the engine's
// EventSink; JetStream publishing is asynchronous enough not to block the
// step loop on consumer availability.
func (mb *NatsMessageBus) Publish(ctx context.Context, eventType string, payload map[string]any) error {
	event := &messages.EventMessage{
		ID:        fmt.Sprintf("evt-%s", uuid.New().String()[:8]),
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	subject := fmt.Sprintf("quill.events.%s", eventType)
	return mb.publish(subject, event)
}

// PublishHumanInput posts a user answer for a paused execution. Used by the
// CLI and tests; the server side normally receives these from the outside.
func (mb *NatsMessageBus) PublishHumanInput(ctx context.Context, msg *messages.HumanInputMessage) error {
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("hin-%s", uuid.New().String()[:8])
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	subject := fmt.Sprintf("quill.input.%s", msg.ExecutionID)
	return mb.publish(subject, msg)
}

func (mb *NatsMessageBus) publish(subject string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := mb.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", subject, err)
	}
	return nil
}

// SubscribeEvents subscribes to lifecycle events of one type, or all types
// with eventType "*".
func (mb *NatsMessageBus) SubscribeEvents(eventType string, handler func(*messages.EventMessage)) error {
	subject := fmt.Sprintf("quill.events.%s", eventType)
	consumerName := fmt.Sprintf("events-%s", eventType)
	if eventType == "*" {
		consumerName = "events-all"
	}

	return mb.subscribe(subject, consumerName, func(msg *nats.Msg) {
		var event messages.EventMessage
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("Failed to unmarshal event message: %v", err)
			msg.Nak()
			return
		}
		handler(&event)
		msg.Ack()
	})
}

// SubscribeHumanInput subscribes to user answers for all executions. The
// handler is expected to resume the named execution.
func (mb *NatsMessageBus) SubscribeHumanInput(handler func(*messages.HumanInputMessage)) error {
	subject := "quill.input.*"
	consumerName := "input-all"

	return mb.subscribe(subject, consumerName, func(msg *nats.Msg) {
		var input messages.HumanInputMessage
		if err := json.Unmarshal(msg.Data, &input); err != nil {
			log.Printf("Failed to unmarshal human input message: %v", err)
			msg.Nak()
			return
		}
		handler(&input)
		msg.Ack()
	})
}

// prefixConsumer adds the optional consumer prefix for namespace isolation
func (mb *NatsMessageBus) prefixConsumer(name string) string {
	if mb.consumerPrefix != "" {
		return mb.consumerPrefix + "-" + name
	}
	return name
}

// subscribe is the internal method to set up durable subscriptions
func (mb *NatsMessageBus) subscribe(subject, consumerName string, handler nats.MsgHandler) error {
	prefixed := mb.prefixConsumer(consumerName)
	sub, err := mb.js.Subscribe(subject, handler,
		nats.Durable(prefixed),
		nats.AckExplicit(),
		nats.MaxDeliver(3),
		nats.AckWait(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	mb.subscriptions[subject] = sub
	log.Printf("Subscribed to %s with consumer %s", subject, prefixed)
	return nil
}

// Unsubscribe removes a subscription
func (mb *NatsMessageBus) Unsubscribe(subject string) error {
	sub, ok := mb.subscriptions[subject]
	if !ok {
		return fmt.Errorf("no subscription found for %s", subject)
	}

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", subject, err)
	}

	delete(mb.subscriptions, subject)
	return nil
}

// Close closes all subscriptions and the NATS connection
func (mb *NatsMessageBus) Close() error {
	for subject := range mb.subscriptions {
		_ = mb.Unsubscribe(subject)
	}
	mb.conn.Close()
	log.Printf("Closed NATS connection")
	return nil
}

// Health returns the health status of the NATS connection
func (mb *NatsMessageBus) Health() error {
	if mb.conn.IsClosed() {
		return fmt.Errorf("NATS connection is closed")
	}
	if !mb.conn.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}
	if _, err := mb.js.StreamInfo(mb.streamName); err != nil {
		return fmt.Errorf("JetStream stream %s is unhealthy: %w", mb.streamName, err)
	}
	return nil
}
