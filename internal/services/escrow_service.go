package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/medivoyage/backend/internal/config"
	"github.com/medivoyage/backend/internal/events"
	"github.com/medivoyage/backend/internal/models"
	"github.com/medivoyage/backend/internal/repositories"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type EscrowService struct {
	pool        *pgxpool.Pool
	escrowRepo  *repositories.EscrowRepo
	txRepo      *repositories.TransactionRepo
	disputeRepo *repositories.DisputeRepo
	auditRepo   *repositories.AuditRepo
	gateway     *GatewayClient
	publisher   events.Publisher
	cfg         *config.Config
	log         *zap.Logger
}

func NewEscrowService(
	pool *pgxpool.Pool,
	escrowRepo *repositories.EscrowRepo,
	txRepo *repositories.TransactionRepo,
	disputeRepo *repositories.DisputeRepo,
	auditRepo *repositories.AuditRepo,
	gateway *GatewayClient,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		pool:        pool,
		escrowRepo:  escrowRepo,
		txRepo:      txRepo,
		disputeRepo: disputeRepo,
		auditRepo:   auditRepo,
		gateway:     gateway,
		publisher:   publisher,
		cfg:         cfg,
		log:         log,
	}
}

// transition validates and performs a status transition with audit logging
// and event publishing. The guarded update means at most one of two racing
// callers succeeds.
func (s *EscrowService) transition(ctx context.Context, db repositories.DB, escrow *models.Escrow, newStatus string, actorID *uuid.UUID, actorType string) error {
	if !models.IsValidEscrowTransition(escrow.Status, newStatus) {
		return fmt.Errorf("%w: cannot move escrow from %s to %s", models.ErrInvalidState, escrow.Status, newStatus)
	}

	oldStatus := escrow.Status
	if err := s.escrowRepo.UpdateStatus(ctx, db, escrow.ID, oldStatus, newStatus); err != nil {
		return err
	}
	escrow.Status = newStatus

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   actorType,
		Action:      fmt.Sprintf("escrow_status_%s_to_%s", oldStatus, newStatus),
		EntityType:  "escrow",
		EntityID:    &escrow.ID,
		Meta:        map[string]any{"old_status": oldStatus, "new_status": newStatus},
	})

	_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventEscrowStatusChanged,
		Payload: map[string]any{
			"escrow_id":  escrow.ID.String(),
			"old_status": oldStatus,
			"new_status": newStatus,
		},
	})

	return nil
}

type CreateEscrowInput struct {
	QuoteID    string
	Amount     decimal.Decimal
	Currency   string
	PatientID  uuid.UUID
	SurgeonID  uuid.UUID
	HospitalID uuid.UUID
}

// CreateEscrow opens an escrow for an accepted quote: computes fees, expands
// the default milestone schedule and applies the configured terms.
func (s *EscrowService) CreateEscrow(ctx context.Context, in CreateEscrowInput, actorID uuid.UUID) (*models.Escrow, error) {
	if in.QuoteID == "" {
		return nil, fmt.Errorf("%w: quote_id is required", models.ErrValidation)
	}
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	if in.Currency == "" {
		in.Currency = "USD"
	}
	if !models.IsSupportedCurrency(in.Currency) {
		return nil, fmt.Errorf("%w: unsupported currency %q", models.ErrValidation, in.Currency)
	}
	if existing, err := s.escrowRepo.GetByQuoteID(ctx, in.QuoteID); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: escrow already exists for quote %s", models.ErrValidation, in.QuoteID)
	}

	now := time.Now()
	fees := models.ComputeFees(in.Amount, in.Currency, s.cfg.FeePolicy())
	expiresAt := now.AddDate(0, 0, s.cfg.EscrowExpiryDays)

	escrow := &models.Escrow{
		ID:         uuid.New(),
		QuoteID:    in.QuoteID,
		PatientID:  in.PatientID,
		SurgeonID:  in.SurgeonID,
		HospitalID: in.HospitalID,
		Amount:     in.Amount,
		Currency:   in.Currency,
		Status:     models.EscrowStatusCreated,

		EscrowFee:             fees.EscrowFee,
		ProcessingFee:         fees.ProcessingFee,
		CurrencyConversionFee: fees.ConversionFee,

		AcceptedMethods: models.DefaultPaymentMethods(),
		Security: models.SecuritySettings{
			IPAllowlist:           []string{},
			SessionTimeoutMinutes: s.cfg.SessionTimeoutMinutes,
		},
		Terms: models.EscrowTerms{
			AutoReleaseDays:   s.cfg.AutoReleaseDays,
			DisputeWindowDays: s.cfg.DisputeWindowDays,
			RefundPolicy:      s.cfg.RefundPolicy,
		},
		ExpiresAt: &expiresAt,
	}
	escrow.Milestones = models.BuildMilestones(escrow.ID, now)

	if err := s.escrowRepo.Create(ctx, escrow); err != nil {
		return nil, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &actorID,
		ActorType:   "user",
		Action:      "escrow_created",
		EntityType:  "escrow",
		EntityID:    &escrow.ID,
		Meta:        map[string]any{"quote_id": in.QuoteID, "amount": in.Amount.String(), "currency": in.Currency},
	})
	_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventEscrowCreated,
		Payload: map[string]any{
			"escrow_id": escrow.ID.String(),
			"quote_id":  in.QuoteID,
		},
	})

	return escrow, nil
}

func (s *EscrowService) GetEscrow(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	return s.escrowRepo.GetByID(ctx, id)
}

func (s *EscrowService) ListEscrows(ctx context.Context, f repositories.EscrowFilter) ([]models.Escrow, error) {
	return s.escrowRepo.List(ctx, f)
}

// ProcessPayment records the escrow deposit and hands it to the gateway.
// The returned transaction is in processing status; settlement is applied
// asynchronously by the settlement poller. A second deposit attempt while
// one is pending or completed is rejected.
func (s *EscrowService) ProcessPayment(ctx context.Context, escrowID uuid.UUID, amount decimal.Decimal, method string, reference *string, actorID uuid.UUID) (*models.PaymentTransaction, error) {
	escrow, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if escrow.Status != models.EscrowStatusCreated && escrow.Status != models.EscrowStatusPendingPayment {
		return nil, fmt.Errorf("%w: escrow is %s", models.ErrInvalidState, escrow.Status)
	}

	funded, err := s.txRepo.HasActiveDeposit(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if funded {
		return nil, fmt.Errorf("%w: a deposit is already pending or completed", models.ErrAlreadyFunded)
	}

	if !amount.Equal(escrow.Amount) {
		return nil, fmt.Errorf("%w: deposit must equal the escrow amount %s", models.ErrValidation, escrow.Amount)
	}
	if !s.methodAccepted(escrow, method) {
		return nil, fmt.Errorf("%w: payment method %q not accepted", models.ErrValidation, method)
	}

	fee := escrow.ProcessingFee
	tx := &models.PaymentTransaction{
		ID:          uuid.New(),
		EscrowID:    escrowID,
		Type:        models.TxTypeDeposit,
		Amount:      amount,
		Currency:    escrow.Currency,
		Status:      models.TxStatusProcessing,
		Method:      method,
		Description: "Escrow deposit",
		Reference:   reference,
		Fee:         &fee,
	}
	if err := s.txRepo.Create(ctx, nil, tx); err != nil {
		return nil, err
	}

	if escrow.Status == models.EscrowStatusCreated {
		if err := s.transition(ctx, nil, escrow, models.EscrowStatusPendingPayment, &actorID, "user"); err != nil {
			return nil, err
		}
	}

	// Initiation failures are not fatal: the settlement poller re-checks the
	// charge and the deposit can be retried once this one fails.
	if ref, err := s.gateway.InitiateCharge(ctx, tx); err != nil {
		s.log.Warn("gateway charge initiation failed",
			zap.String("transaction_id", tx.ID.String()), zap.Error(err))
	} else if tx.Reference == nil || *tx.Reference == "" {
		tx.Reference = &ref
		_ = s.txRepo.SetReference(ctx, tx.ID, ref)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &actorID,
		ActorType:   "user",
		Action:      "deposit_initiated",
		EntityType:  "escrow",
		EntityID:    &escrowID,
		Meta:        map[string]any{"transaction_id": tx.ID.String(), "amount": amount.String(), "method": method},
	})

	return tx, nil
}

// Activate moves a funded escrow to active. It requires a completed deposit;
// settlement normally calls this, but it is also exposed for reconciliation.
func (s *EscrowService) Activate(ctx context.Context, id uuid.UUID, actorID *uuid.UUID, actorType string) (*models.Escrow, error) {
	escrow, err := s.escrowRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if escrow.Status == models.EscrowStatusActive {
		return escrow, nil
	}

	funded, err := s.txRepo.HasCompletedDeposit(ctx, id)
	if err != nil {
		return nil, err
	}
	if !funded {
		return nil, fmt.Errorf("%w: escrow has no completed deposit", models.ErrInvalidState)
	}

	if err := s.transition(ctx, nil, escrow, models.EscrowStatusActive, actorID, actorType); err != nil {
		return nil, err
	}
	_ = s.escrowRepo.TouchActivity(ctx, id)
	return escrow, nil
}

// ReleaseMilestone releases the named milestone's share to the provider.
// Release follows schedule order, requires an active escrow, and exactly one
// of two concurrent calls for the same milestone succeeds.
func (s *EscrowService) ReleaseMilestone(ctx context.Context, escrowID uuid.UUID, name, reason string, actorID *uuid.UUID, actorType string) (*models.PaymentTransaction, error) {
	escrow, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if err := escrow.CanRelease(name); err != nil {
		return nil, err
	}
	m := escrow.MilestoneByName(name)
	amount := escrow.MilestoneAmount(m)

	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback(ctx)

	// Re-check under a row lock: a dispute opened after the pool read must
	// block the release, and the lock holds off the dispute's status flip
	// until this transaction settles.
	status, err := s.escrowRepo.LockStatus(ctx, dbTx, escrowID)
	if err != nil {
		return nil, err
	}
	if status != models.EscrowStatusActive {
		return nil, fmt.Errorf("%w: escrow is %s", models.ErrInvalidState, status)
	}

	if err := s.escrowRepo.ReleaseMilestone(ctx, dbTx, escrowID, name); err != nil {
		return nil, err
	}

	// In-ledger bookkeeping completes synchronously; the external payout to
	// the provider is a separate downstream concern.
	ptx := &models.PaymentTransaction{
		ID:          uuid.New(),
		EscrowID:    escrowID,
		Type:        models.TxTypeMilestoneRelease,
		Amount:      amount,
		Currency:    escrow.Currency,
		Status:      models.TxStatusCompleted,
		Description: fmt.Sprintf("Release of %s milestone (%d%%)", name, m.Percent),
		Metadata:    map[string]any{"milestone": name, "reason": reason},
	}
	if err := s.txRepo.Create(ctx, dbTx, ptx); err != nil {
		return nil, err
	}

	m.Released = true
	completed := escrow.AllReleased()
	if completed {
		if err := s.escrowRepo.UpdateStatus(ctx, dbTx, escrowID, models.EscrowStatusActive, models.EscrowStatusCompleted); err != nil {
			return nil, err
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   actorType,
		Action:      "milestone_released",
		EntityType:  "escrow",
		EntityID:    &escrowID,
		Meta:        map[string]any{"milestone": name, "amount": amount.String(), "reason": reason},
	})
	_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventMilestoneReleased,
		Payload: map[string]any{
			"escrow_id": escrowID.String(),
			"milestone": name,
			"amount":    amount.String(),
		},
	})
	if completed {
		escrow.Status = models.EscrowStatusCompleted
		_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
			Type: events.EventEscrowStatusChanged,
			Payload: map[string]any{
				"escrow_id":  escrowID.String(),
				"old_status": models.EscrowStatusActive,
				"new_status": models.EscrowStatusCompleted,
			},
		})
	}

	return ptx, nil
}

// ReleaseNext releases the first unreleased milestone in schedule order.
// A fully released escrow is forced to completed, as a no-op when already
// there.
func (s *EscrowService) ReleaseNext(ctx context.Context, escrowID uuid.UUID, actorID *uuid.UUID, actorType string) (*models.Escrow, error) {
	escrow, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	next := escrow.NextUnreleased()
	if next == nil {
		if escrow.Status == models.EscrowStatusActive {
			if err := s.transition(ctx, nil, escrow, models.EscrowStatusCompleted, actorID, actorType); err != nil {
				return nil, err
			}
		}
		return escrow, nil
	}

	if _, err := s.ReleaseMilestone(ctx, escrowID, next.Name, "scheduled release", actorID, actorType); err != nil {
		return nil, err
	}
	return s.escrowRepo.GetByID(ctx, escrowID)
}

// Refund initiates a refund of funds still held in escrow. The transaction
// settles asynchronously; only a completed settlement moves the escrow to
// refunded.
func (s *EscrowService) Refund(ctx context.Context, escrowID uuid.UUID, reason string, amount *decimal.Decimal, actorID *uuid.UUID, actorType string) (*models.PaymentTransaction, error) {
	escrow, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	refundAmount := escrow.Amount
	if amount != nil {
		refundAmount = *amount
	}
	if err := escrow.ValidateRefund(refundAmount); err != nil {
		return nil, err
	}

	// A deposit still settling must reach a terminal status first; refunding
	// a charge that may never complete would pay out money never received.
	settling, err := s.txRepo.HasProcessingDeposit(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if settling {
		return nil, fmt.Errorf("%w: deposit is still settling", models.ErrInvalidState)
	}

	pending, err := s.txRepo.HasProcessingRefund(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, fmt.Errorf("%w: a refund is already processing", models.ErrInvalidState)
	}

	tx := &models.PaymentTransaction{
		ID:          uuid.New(),
		EscrowID:    escrowID,
		Type:        models.TxTypeRefund,
		Amount:      refundAmount,
		Currency:    escrow.Currency,
		Status:      models.TxStatusProcessing,
		Description: "Escrow refund",
		Metadata:    map[string]any{"reason": reason},
	}
	if err := s.txRepo.Create(ctx, nil, tx); err != nil {
		return nil, err
	}

	if ref, err := s.gateway.InitiateCharge(ctx, tx); err != nil {
		s.log.Warn("gateway refund initiation failed",
			zap.String("transaction_id", tx.ID.String()), zap.Error(err))
	} else {
		tx.Reference = &ref
		_ = s.txRepo.SetReference(ctx, tx.ID, ref)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   actorType,
		Action:      "refund_initiated",
		EntityType:  "escrow",
		EntityID:    &escrowID,
		Meta:        map[string]any{"transaction_id": tx.ID.String(), "amount": refundAmount.String(), "reason": reason},
	})

	return tx, nil
}

// OpenDispute places a hold on the escrow. Additional disputes may be opened
// while one is already pending.
func (s *EscrowService) OpenDispute(ctx context.Context, escrowID, openedByID uuid.UUID, reason, description string, evidence []string) (*models.DisputeCase, error) {
	escrow, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	switch escrow.Status {
	case models.EscrowStatusActive:
		if err := s.transition(ctx, nil, escrow, models.EscrowStatusDisputed, &openedByID, "user"); err != nil {
			return nil, err
		}
	case models.EscrowStatusDisputed:
	default:
		return nil, fmt.Errorf("%w: cannot dispute an escrow that is %s", models.ErrInvalidState, escrow.Status)
	}

	if evidence == nil {
		evidence = []string{}
	}
	dispute := &models.DisputeCase{
		ID:          uuid.New(),
		EscrowID:    escrowID,
		OpenedByID:  openedByID,
		Status:      models.DisputeStatusOpened,
		Reason:      reason,
		Description: description,
		Evidence:    evidence,
	}
	if err := s.disputeRepo.Create(ctx, nil, dispute); err != nil {
		return nil, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &openedByID,
		ActorType:   "user",
		Action:      "dispute_opened",
		EntityType:  "escrow",
		EntityID:    &escrowID,
		Meta:        map[string]any{"dispute_id": dispute.ID.String(), "reason": reason},
	})
	_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventDisputeOpened,
		Payload: map[string]any{
			"escrow_id":  escrowID.String(),
			"dispute_id": dispute.ID.String(),
			"reason":     reason,
		},
	})

	return dispute, nil
}

// ReviewDispute moves an opened dispute under review.
func (s *EscrowService) ReviewDispute(ctx context.Context, escrowID, disputeID uuid.UUID, actorID uuid.UUID) (*models.DisputeCase, error) {
	if _, err := s.disputeRepo.GetByID(ctx, escrowID, disputeID); err != nil {
		return nil, err
	}
	err := s.disputeRepo.UpdateStatus(ctx, disputeID, []string{models.DisputeStatusOpened}, models.DisputeStatusUnderReview)
	if err != nil {
		return nil, err
	}
	return s.disputeRepo.GetByID(ctx, escrowID, disputeID)
}

// EscalateDispute flags a dispute for senior review. The escrow stays
// blocked until resolution.
func (s *EscrowService) EscalateDispute(ctx context.Context, escrowID, disputeID uuid.UUID, actorID uuid.UUID) (*models.DisputeCase, error) {
	if _, err := s.disputeRepo.GetByID(ctx, escrowID, disputeID); err != nil {
		return nil, err
	}
	err := s.disputeRepo.UpdateStatus(ctx, disputeID,
		[]string{models.DisputeStatusOpened, models.DisputeStatusUnderReview}, models.DisputeStatusEscalated)
	if err != nil {
		return nil, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &actorID,
		ActorType:   "user",
		Action:      "dispute_escalated",
		EntityType:  "escrow",
		EntityID:    &escrowID,
		Meta:        map[string]any{"dispute_id": disputeID.String()},
	})

	return s.disputeRepo.GetByID(ctx, escrowID, disputeID)
}

// ResolveDispute closes the dispute. The escrow returns to active only when
// no other dispute remains open. A settlement amount appends a
// dispute_resolution ledger entry.
func (s *EscrowService) ResolveDispute(ctx context.Context, escrowID, disputeID uuid.UUID, resolution string, amount *decimal.Decimal, actorID uuid.UUID) (*models.DisputeCase, error) {
	escrow, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if _, err := s.disputeRepo.GetByID(ctx, escrowID, disputeID); err != nil {
		return nil, err
	}

	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback(ctx)

	if err := s.disputeRepo.Resolve(ctx, dbTx, disputeID, resolution, amount); err != nil {
		return nil, err
	}

	if amount != nil {
		ptx := &models.PaymentTransaction{
			ID:          uuid.New(),
			EscrowID:    escrowID,
			Type:        models.TxTypeDisputeResolution,
			Amount:      *amount,
			Currency:    escrow.Currency,
			Status:      models.TxStatusCompleted,
			Description: "Dispute settlement adjustment",
			Metadata:    map[string]any{"dispute_id": disputeID.String()},
		}
		if err := s.txRepo.Create(ctx, dbTx, ptx); err != nil {
			return nil, err
		}
	}

	open, err := s.disputeRepo.CountOpen(ctx, dbTx, escrowID)
	if err != nil {
		return nil, err
	}
	reopened := open == 0 && escrow.Status == models.EscrowStatusDisputed
	if reopened {
		if err := s.escrowRepo.UpdateStatus(ctx, dbTx, escrowID, models.EscrowStatusDisputed, models.EscrowStatusActive); err != nil {
			return nil, err
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &actorID,
		ActorType:   "user",
		Action:      "dispute_resolved",
		EntityType:  "escrow",
		EntityID:    &escrowID,
		Meta:        map[string]any{"dispute_id": disputeID.String(), "resolution": resolution},
	})
	_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventDisputeResolved,
		Payload: map[string]any{
			"escrow_id":  escrowID.String(),
			"dispute_id": disputeID.String(),
		},
	})
	if reopened {
		_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
			Type: events.EventEscrowStatusChanged,
			Payload: map[string]any{
				"escrow_id":  escrowID.String(),
				"old_status": models.EscrowStatusDisputed,
				"new_status": models.EscrowStatusActive,
			},
		})
	}

	return s.disputeRepo.GetByID(ctx, escrowID, disputeID)
}

type SecurityUpdate struct {
	TwoFactorEnabled      *bool
	IPAllowlist           []string
	DeviceVerification    *bool
	SessionTimeoutMinutes *int
}

// UpdateSecuritySettings merges the supplied fields into the escrow's
// security settings. Idempotent.
func (s *EscrowService) UpdateSecuritySettings(ctx context.Context, escrowID uuid.UUID, upd SecurityUpdate) (*models.Escrow, error) {
	escrow, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	sec := escrow.Security
	if upd.TwoFactorEnabled != nil {
		sec.TwoFactorEnabled = *upd.TwoFactorEnabled
	}
	if upd.IPAllowlist != nil {
		sec.IPAllowlist = upd.IPAllowlist
	}
	if upd.DeviceVerification != nil {
		sec.DeviceVerification = *upd.DeviceVerification
	}
	if upd.SessionTimeoutMinutes != nil {
		sec.SessionTimeoutMinutes = *upd.SessionTimeoutMinutes
	}

	if err := s.escrowRepo.UpdateSecurity(ctx, escrowID, sec); err != nil {
		return nil, err
	}
	escrow.Security = sec
	return escrow, nil
}

// AddPaymentMethod accepts an additional payment method. Idempotent.
func (s *EscrowService) AddPaymentMethod(ctx context.Context, escrowID uuid.UUID, method string) (*models.Escrow, error) {
	if !models.IsKnownPaymentMethod(method) {
		return nil, fmt.Errorf("%w: unknown payment method %q", models.ErrValidation, method)
	}
	if _, err := s.escrowRepo.GetByID(ctx, escrowID); err != nil {
		return nil, err
	}
	if err := s.escrowRepo.AddPaymentMethod(ctx, escrowID, method); err != nil {
		return nil, err
	}
	return s.escrowRepo.GetByID(ctx, escrowID)
}

// Cancel voids a non-terminal escrow, e.g. when a booking falls through or
// the escrow expires unfunded.
func (s *EscrowService) Cancel(ctx context.Context, escrowID uuid.UUID, reason string, actorID *uuid.UUID, actorType string) error {
	escrow, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, nil, escrow, models.EscrowStatusCancelled, actorID, actorType); err != nil {
		return err
	}
	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   actorType,
		Action:      "escrow_cancelled",
		EntityType:  "escrow",
		EntityID:    &escrowID,
		Meta:        map[string]any{"reason": reason},
	})
	return nil
}

// Analytics returns the computed summary view of one escrow.
func (s *EscrowService) Analytics(ctx context.Context, escrowID uuid.UUID) (*models.EscrowSummary, error) {
	escrow, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	txs, err := s.txRepo.ListByEscrow(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	disputes, err := s.disputeRepo.ListByEscrow(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	summary := escrow.Summarize(txs, disputes, time.Now())
	return &summary, nil
}

func (s *EscrowService) ListTransactions(ctx context.Context, escrowID uuid.UUID) ([]models.PaymentTransaction, error) {
	if _, err := s.escrowRepo.GetByID(ctx, escrowID); err != nil {
		return nil, err
	}
	return s.txRepo.ListByEscrow(ctx, escrowID)
}

func (s *EscrowService) ListDisputes(ctx context.Context, escrowID uuid.UUID) ([]models.DisputeCase, error) {
	if _, err := s.escrowRepo.GetByID(ctx, escrowID); err != nil {
		return nil, err
	}
	return s.disputeRepo.ListByEscrow(ctx, escrowID)
}

func (s *EscrowService) GetEscrowEvents(ctx context.Context, escrowID uuid.UUID) ([]models.AuditLog, error) {
	return s.auditRepo.GetByEntity(ctx, "escrow", escrowID, 100, 0)
}

func (s *EscrowService) methodAccepted(escrow *models.Escrow, method string) bool {
	if !models.IsKnownPaymentMethod(method) {
		return false
	}
	for _, m := range escrow.AcceptedMethods {
		if m == method {
			return true
		}
	}
	return false
}
