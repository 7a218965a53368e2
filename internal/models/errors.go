package models

import "errors"

// Sentinel errors for the escrow domain. Callers match with errors.Is;
// the HTTP layer maps them to status codes.
var (
	ErrNotFound            = errors.New("escrow not found")
	ErrMilestoneNotFound   = errors.New("milestone not found")
	ErrDisputeNotFound     = errors.New("dispute not found")
	ErrInvalidState        = errors.New("invalid state")
	ErrAlreadyFunded       = errors.New("escrow already funded")
	ErrAlreadyReleased     = errors.New("milestone already released")
	ErrOutOfSequence       = errors.New("milestone out of sequence")
	ErrValidation          = errors.New("validation failed")
	ErrInvalidRefundAmount = errors.New("invalid refund amount")
	ErrPaymentFailed       = errors.New("payment failed")
)
