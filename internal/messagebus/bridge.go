package messagebus

import (
	"context"
	"log"

	"github.com/jordanhubbard/quill/internal/execution"
	"github.com/jordanhubbard/quill/pkg/messages"
)

// Resumer re-enters a paused execution with user input.
type Resumer interface {
	ResumeExecution(ctx context.Context, executionID string, userInput map[string]any, threadID string) (*execution.Execution, error)
}

// Bridge feeds human input messages from the bus into the engine. Resume
// errors are logged, not fatal: a malformed or stale answer must not take
// the subscription down.
type Bridge struct {
	resumer Resumer
	bus     HumanInputSubscriber
}

// NewBridge creates a bridge between the bus and the engine.
func NewBridge(resumer Resumer, bus HumanInputSubscriber) *Bridge {
	return &Bridge{resumer: resumer, bus: bus}
}

// Start subscribes to the human input channel. Handlers run on the bus's
// delivery goroutine.
func (b *Bridge) Start(ctx context.Context) error {
	return b.bus.SubscribeHumanInput(func(msg *messages.HumanInputMessage) {
		if msg.ExecutionID == "" {
			log.Printf("[Bridge] Dropping human input %s with no execution id", msg.ID)
			return
		}
		exec, err := b.resumer.ResumeExecution(ctx, msg.ExecutionID, msg.Input, msg.ThreadID)
		if err != nil {
			log.Printf("[Bridge] Failed to resume execution %s: %v", msg.ExecutionID, err)
			return
		}
		log.Printf("[Bridge] Resumed execution %s, now %s at node %s", exec.ID, exec.Status, exec.CurrentNodeID)
	})
}
