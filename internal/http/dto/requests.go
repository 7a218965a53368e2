package dto

import "github.com/shopspring/decimal"

type CreateEscrowRequest struct {
	QuoteID    string          `json:"quote_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	PatientID  string          `json:"patient_id"`
	SurgeonID  string          `json:"surgeon_id"`
	HospitalID string          `json:"hospital_id"`
}

type ProcessPaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference *string         `json:"reference,omitempty"`
}

type ReleaseMilestoneRequest struct {
	Reason string `json:"reason,omitempty"`
}

type RefundRequest struct {
	Reason string           `json:"reason"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

type OpenDisputeRequest struct {
	Reason      string   `json:"reason"`
	Description string   `json:"description,omitempty"`
	Evidence    []string `json:"evidence,omitempty"`
}

type ResolveDisputeRequest struct {
	Resolution string           `json:"resolution"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
}

type UpdateSecurityRequest struct {
	TwoFactorEnabled      *bool    `json:"two_factor_enabled,omitempty"`
	IPAllowlist           []string `json:"ip_allowlist,omitempty"`
	DeviceVerification    *bool    `json:"device_verification,omitempty"`
	SessionTimeoutMinutes *int     `json:"session_timeout_minutes,omitempty"`
}

type AddPaymentMethodRequest struct {
	Method string `json:"method"`
}

type CancelEscrowRequest struct {
	Reason string `json:"reason,omitempty"`
}
