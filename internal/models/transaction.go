package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction types
const (
	TxTypeDeposit           = "deposit"
	TxTypeMilestoneRelease  = "milestone_release"
	TxTypeRefund            = "refund"
	TxTypeFee               = "fee"
	TxTypeDisputeResolution = "dispute_resolution"
)

// Transaction statuses. Ledger entries are append-only: the status is the
// only mutable field and it moves forward once, to a terminal value.
const (
	TxStatusPending    = "pending"
	TxStatusProcessing = "processing"
	TxStatusCompleted  = "completed"
	TxStatusFailed     = "failed"
)

var validTxStatusChanges = map[string][]string{
	TxStatusPending:    {TxStatusProcessing, TxStatusCompleted, TxStatusFailed},
	TxStatusProcessing: {TxStatusCompleted, TxStatusFailed},
	TxStatusCompleted:  {},
	TxStatusFailed:     {},
}

func IsValidTxStatusChange(from, to string) bool {
	allowed, ok := validTxStatusChanges[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminalTxStatus(status string) bool {
	return status == TxStatusCompleted || status == TxStatusFailed
}

type PaymentTransaction struct {
	ID          uuid.UUID        `json:"id"`
	EscrowID    uuid.UUID        `json:"escrow_id"`
	Type        string           `json:"type"`
	Amount      decimal.Decimal  `json:"amount"`
	Currency    string           `json:"currency"`
	Status      string           `json:"status"`
	Method      string           `json:"method,omitempty"`
	Description string           `json:"description"`
	Reference   *string          `json:"reference,omitempty"`
	Fee         *decimal.Decimal `json:"fee,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}
