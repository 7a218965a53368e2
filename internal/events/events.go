package events

import "context"

// Stream carrying all escrow lifecycle events.
const StreamEscrow = "events:escrow"

// Event types
const (
	EventEscrowCreated       = "escrow_created"
	EventEscrowStatusChanged = "escrow_status_changed"
	EventMilestoneReleased   = "milestone_released"
	EventDisputeOpened       = "dispute_opened"
	EventDisputeResolved     = "dispute_resolved"
	EventPaymentSettled      = "payment_settled"
	EventPaymentFailed       = "payment_failed"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
