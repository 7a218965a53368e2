package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/medivoyage/backend/internal/http/dto"
	"github.com/medivoyage/backend/internal/middleware"
	"github.com/medivoyage/backend/internal/models"
	"github.com/medivoyage/backend/internal/repositories"
	"github.com/medivoyage/backend/internal/services"
	"go.uber.org/zap"
)

type EscrowHandler struct {
	escrowService *services.EscrowService
	log           *zap.Logger
}

func NewEscrowHandler(escrowService *services.EscrowService, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrowService: escrowService, log: log}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrMilestoneNotFound),
		errors.Is(err, models.ErrDisputeNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, models.ErrValidation),
		errors.Is(err, models.ErrInvalidRefundAmount):
		return fiber.StatusBadRequest
	case errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrAlreadyFunded),
		errors.Is(err, models.ErrAlreadyReleased),
		errors.Is(err, models.ErrOutOfSequence):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func (h *EscrowHandler) fail(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		h.log.Error("escrow request failed",
			zap.String("path", c.Path()), zap.Error(err))
		return c.Status(status).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: err.Error()})
}

func (h *EscrowHandler) CreateEscrow(c *fiber.Ctx) error {
	var req dto.CreateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid patient_id"})
	}
	surgeonID, err := uuid.Parse(req.SurgeonID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid surgeon_id"})
	}
	hospitalID, err := uuid.Parse(req.HospitalID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid hospital_id"})
	}

	actorID := middleware.GetUserID(c)
	escrow, err := h.escrowService.CreateEscrow(c.Context(), services.CreateEscrowInput{
		QuoteID:    req.QuoteID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		PatientID:  patientID,
		SurgeonID:  surgeonID,
		HospitalID: hospitalID,
	}, actorID)
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) GetEscrow(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	escrow, err := h.escrowService.GetEscrow(c.Context(), id)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) ListEscrows(c *fiber.Ctx) error {
	filter := repositories.EscrowFilter{
		Limit:  20,
		Offset: 0,
	}

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}

	userID := middleware.GetUserID(c)
	switch middleware.GetRole(c) {
	case "patient":
		filter.PatientID = &userID
	case "surgeon":
		filter.SurgeonID = &userID
	case "hospital":
		filter.HospitalID = &userID
	case "admin":
		// Admins see everything, optionally narrowed by query.
		if v := c.Query("patient_id"); v != "" {
			if id, err := uuid.Parse(v); err == nil {
				filter.PatientID = &id
			}
		}
	default:
		filter.PatientID = &userID
	}

	escrows, err := h.escrowService.ListEscrows(c.Context(), filter)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: escrows})
}

func (h *EscrowHandler) ProcessPayment(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	var req dto.ProcessPaymentRequest
	if err := c.BodyParser(&req); err != nil || req.Method == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "method is required"})
	}

	actorID := middleware.GetUserID(c)
	tx, err := h.escrowService.ProcessPayment(c.Context(), id, req.Amount, req.Method, req.Reference, actorID)
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(dto.SuccessResponse{OK: true, Data: tx})
}

func (h *EscrowHandler) Activate(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	actorID := middleware.GetUserID(c)
	escrow, err := h.escrowService.Activate(c.Context(), id, &actorID, middleware.GetRole(c))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) ReleaseMilestone(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}
	name := c.Params("name")
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "milestone name is required"})
	}

	var req dto.ReleaseMilestoneRequest
	_ = c.BodyParser(&req)

	actorID := middleware.GetUserID(c)
	tx, err := h.escrowService.ReleaseMilestone(c.Context(), id, name, req.Reason, &actorID, middleware.GetRole(c))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: tx})
}

func (h *EscrowHandler) ReleaseNext(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	actorID := middleware.GetUserID(c)
	escrow, err := h.escrowService.ReleaseNext(c.Context(), id, &actorID, middleware.GetRole(c))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) Refund(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	var req dto.RefundRequest
	if err := c.BodyParser(&req); err != nil || req.Reason == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "reason is required"})
	}

	actorID := middleware.GetUserID(c)
	tx, err := h.escrowService.Refund(c.Context(), id, req.Reason, req.Amount, &actorID, middleware.GetRole(c))
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(dto.SuccessResponse{OK: true, Data: tx})
}

func (h *EscrowHandler) Cancel(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	var req dto.CancelEscrowRequest
	_ = c.BodyParser(&req)

	actorID := middleware.GetUserID(c)
	if err := h.escrowService.Cancel(c.Context(), id, req.Reason, &actorID, middleware.GetRole(c)); err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *EscrowHandler) OpenDispute(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	var req dto.OpenDisputeRequest
	if err := c.BodyParser(&req); err != nil || req.Reason == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "reason is required"})
	}

	actorID := middleware.GetUserID(c)
	dispute, err := h.escrowService.OpenDispute(c.Context(), id, actorID, req.Reason, req.Description, req.Evidence)
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dispute})
}

func (h *EscrowHandler) ListDisputes(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	disputes, err := h.escrowService.ListDisputes(c.Context(), id)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: disputes})
}

func (h *EscrowHandler) disputeIDs(c *fiber.Ctx) (uuid.UUID, uuid.UUID, error) {
	escrowID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, errors.New("invalid escrow id")
	}
	disputeID, err := uuid.Parse(c.Params("disputeId"))
	if err != nil {
		return uuid.Nil, uuid.Nil, errors.New("invalid dispute id")
	}
	return escrowID, disputeID, nil
}

func (h *EscrowHandler) ReviewDispute(c *fiber.Ctx) error {
	escrowID, disputeID, err := h.disputeIDs(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	dispute, err := h.escrowService.ReviewDispute(c.Context(), escrowID, disputeID, middleware.GetUserID(c))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: dispute})
}

func (h *EscrowHandler) EscalateDispute(c *fiber.Ctx) error {
	escrowID, disputeID, err := h.disputeIDs(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	dispute, err := h.escrowService.EscalateDispute(c.Context(), escrowID, disputeID, middleware.GetUserID(c))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: dispute})
}

func (h *EscrowHandler) ResolveDispute(c *fiber.Ctx) error {
	escrowID, disputeID, err := h.disputeIDs(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	var req dto.ResolveDisputeRequest
	if err := c.BodyParser(&req); err != nil || req.Resolution == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "resolution is required"})
	}

	dispute, err := h.escrowService.ResolveDispute(c.Context(), escrowID, disputeID, req.Resolution, req.Amount, middleware.GetUserID(c))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: dispute})
}

func (h *EscrowHandler) UpdateSecurity(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	var req dto.UpdateSecurityRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	escrow, err := h.escrowService.UpdateSecuritySettings(c.Context(), id, services.SecurityUpdate{
		TwoFactorEnabled:      req.TwoFactorEnabled,
		IPAllowlist:           req.IPAllowlist,
		DeviceVerification:    req.DeviceVerification,
		SessionTimeoutMinutes: req.SessionTimeoutMinutes,
	})
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) AddPaymentMethod(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	var req dto.AddPaymentMethodRequest
	if err := c.BodyParser(&req); err != nil || req.Method == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "method is required"})
	}

	escrow, err := h.escrowService.AddPaymentMethod(c.Context(), id, req.Method)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) Analytics(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	summary, err := h.escrowService.Analytics(c.Context(), id)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: summary})
}

func (h *EscrowHandler) ListTransactions(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	txs, err := h.escrowService.ListTransactions(c.Context(), id)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: txs})
}

func (h *EscrowHandler) GetEscrowEvents(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	logs, err := h.escrowService.GetEscrowEvents(c.Context(), id)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}
