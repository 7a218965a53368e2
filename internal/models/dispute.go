package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Dispute statuses
const (
	DisputeStatusOpened      = "opened"
	DisputeStatusUnderReview = "under_review"
	DisputeStatusEscalated   = "escalated"
	DisputeStatusResolved    = "resolved"
)

type DisputeCase struct {
	ID          uuid.UUID `json:"id"`
	EscrowID    uuid.UUID `json:"escrow_id"`
	OpenedByID  uuid.UUID `json:"opened_by_id"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason"`
	Description string    `json:"description"`
	Evidence    []string  `json:"evidence"`

	Resolution     *string          `json:"resolution,omitempty"`
	AdjustedAmount *decimal.Decimal `json:"adjusted_amount,omitempty"`
	OpenedAt       time.Time        `json:"opened_at"`
	ResolvedAt     *time.Time       `json:"resolved_at,omitempty"`
}

// IsOpen reports whether the dispute still blocks the escrow.
func (d *DisputeCase) IsOpen() bool {
	return d.Status == DisputeStatusOpened || d.Status == DisputeStatusUnderReview || d.Status == DisputeStatusEscalated
}

// CountOpenDisputes counts disputes still blocking an escrow. The escrow
// leaves disputed only when this reaches zero.
func CountOpenDisputes(disputes []DisputeCase) int {
	n := 0
	for i := range disputes {
		if disputes[i].IsOpen() {
			n++
		}
	}
	return n
}
