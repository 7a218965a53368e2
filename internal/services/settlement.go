package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/medivoyage/backend/internal/events"
	"github.com/medivoyage/backend/internal/models"
	"go.uber.org/zap"
)

// SettleProcessing reconciles transactions awaiting settlement against the
// gateway. Each transaction is handled independently so one bad record does
// not stall the batch. Safe to re-run at any time.
func (s *EscrowService) SettleProcessing(ctx context.Context, limit int) (int, error) {
	txs, err := s.txRepo.ListProcessing(ctx, limit)
	if err != nil {
		return 0, err
	}

	settled := 0
	for i := range txs {
		if err := s.SettleTransaction(ctx, &txs[i]); err != nil {
			s.log.Warn("settlement failed",
				zap.String("transaction_id", txs[i].ID.String()), zap.Error(err))
			continue
		}
		if models.IsTerminalTxStatus(txs[i].Status) {
			settled++
		}
	}
	return settled, nil
}

// SettleTransaction checks one processing transaction with the gateway and
// applies the outcome: a completed deposit activates the escrow, a completed
// refund moves it to refunded, a failure only marks the ledger entry so the
// operation can be retried.
func (s *EscrowService) SettleTransaction(ctx context.Context, t *models.PaymentTransaction) error {
	status, err := s.gateway.CheckStatus(ctx, t)
	if err != nil {
		return err
	}
	if status == models.TxStatusProcessing {
		return nil
	}

	if err := s.txRepo.UpdateStatus(ctx, nil, t.ID, t.Status, status); err != nil {
		return err
	}
	t.Status = status

	if status == models.TxStatusFailed {
		_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
			Type: events.EventPaymentFailed,
			Payload: map[string]any{
				"escrow_id":      t.EscrowID.String(),
				"transaction_id": t.ID.String(),
				"type":           t.Type,
			},
		})
		return nil
	}

	switch t.Type {
	case models.TxTypeDeposit:
		escrow, err := s.escrowRepo.GetByID(ctx, t.EscrowID)
		if err != nil {
			return err
		}
		if escrow.Status == models.EscrowStatusCancelled {
			return s.refundSettledDeposit(ctx, escrow, t)
		}
		if _, err := s.Activate(ctx, t.EscrowID, nil, "system"); err != nil {
			return fmt.Errorf("activate after deposit settlement: %w", err)
		}
	case models.TxTypeRefund:
		escrow, err := s.escrowRepo.GetByID(ctx, t.EscrowID)
		if err != nil {
			return err
		}
		// A cancelled or already-refunded escrow keeps its status: the money
		// went back, the record stands.
		if models.IsValidEscrowTransition(escrow.Status, models.EscrowStatusRefunded) {
			if err := s.transition(ctx, nil, escrow, models.EscrowStatusRefunded, nil, "system"); err != nil {
				return fmt.Errorf("refund settlement: %w", err)
			}
		}
	}

	_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventPaymentSettled,
		Payload: map[string]any{
			"escrow_id":      t.EscrowID.String(),
			"transaction_id": t.ID.String(),
			"type":           t.Type,
			"amount":         t.Amount.String(),
		},
	})
	return nil
}

// refundSettledDeposit returns a charge that completed after its escrow was
// cancelled. The captured funds have nowhere to go, so they are pushed back
// through the gateway as a refund.
func (s *EscrowService) refundSettledDeposit(ctx context.Context, escrow *models.Escrow, deposit *models.PaymentTransaction) error {
	tx := &models.PaymentTransaction{
		ID:          uuid.New(),
		EscrowID:    escrow.ID,
		Type:        models.TxTypeRefund,
		Amount:      deposit.Amount,
		Currency:    deposit.Currency,
		Status:      models.TxStatusProcessing,
		Description: "Deposit returned after cancellation",
		Metadata:    map[string]any{"deposit_id": deposit.ID.String()},
	}
	if err := s.txRepo.Create(ctx, nil, tx); err != nil {
		// Another writer already put a refund on its way back.
		if errors.Is(err, models.ErrInvalidState) {
			return nil
		}
		return err
	}

	if ref, err := s.gateway.InitiateCharge(ctx, tx); err != nil {
		s.log.Warn("gateway refund initiation failed",
			zap.String("transaction_id", tx.ID.String()), zap.Error(err))
	} else {
		tx.Reference = &ref
		_ = s.txRepo.SetReference(ctx, tx.ID, ref)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "deposit_returned_after_cancellation",
		EntityType: "escrow",
		EntityID:   &escrow.ID,
		Meta:       map[string]any{"deposit_id": deposit.ID.String(), "refund_id": tx.ID.String(), "amount": deposit.Amount.String()},
	})
	return nil
}

// SweepAutoRelease releases milestones whose estimated date plus the escrow's
// auto-release grace period has passed with no open dispute.
func (s *EscrowService) SweepAutoRelease(ctx context.Context, limit int) (int, error) {
	ids, err := s.escrowRepo.ListAutoReleaseDue(ctx, limit)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, id := range ids {
		if _, err := s.ReleaseNext(ctx, id, nil, "system"); err != nil {
			// Losing the race to a manual release is fine.
			if errorsIsAny(err, models.ErrAlreadyReleased, models.ErrInvalidState) {
				continue
			}
			s.log.Warn("auto release failed", zap.String("escrow_id", id.String()), zap.Error(err))
			continue
		}
		released++
	}
	return released, nil
}

// SweepExpired cancels escrows that were never funded before their expiry.
func (s *EscrowService) SweepExpired(ctx context.Context, limit int) (int, error) {
	ids, err := s.escrowRepo.ListExpiredUnfunded(ctx, limit)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, id := range ids {
		if err := s.Cancel(ctx, id, "expired before funding", nil, "system"); err != nil {
			s.log.Warn("expiry cancel failed", zap.String("escrow_id", id.String()), zap.Error(err))
			continue
		}
		cancelled++
	}
	return cancelled, nil
}

func errorsIsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
