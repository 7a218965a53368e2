package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Escrow statuses
const (
	EscrowStatusCreated        = "created"
	EscrowStatusPendingPayment = "pending_payment"
	EscrowStatusActive         = "active"
	EscrowStatusDisputed       = "disputed"
	EscrowStatusCompleted      = "completed"
	EscrowStatusRefunded       = "refunded"
	EscrowStatusCancelled      = "cancelled"
)

// Valid state transitions: from -> []to.
// Refunded is reached only when a refund transaction settles, so every
// non-terminal status keeps a path to it.
var ValidEscrowTransitions = map[string][]string{
	EscrowStatusCreated:        {EscrowStatusPendingPayment, EscrowStatusRefunded, EscrowStatusCancelled},
	EscrowStatusPendingPayment: {EscrowStatusActive, EscrowStatusRefunded, EscrowStatusCancelled},
	EscrowStatusActive:         {EscrowStatusDisputed, EscrowStatusCompleted, EscrowStatusRefunded, EscrowStatusCancelled},
	EscrowStatusDisputed:       {EscrowStatusActive, EscrowStatusRefunded, EscrowStatusCancelled},
	EscrowStatusCompleted:      {},
	EscrowStatusRefunded:       {},
	EscrowStatusCancelled:      {},
}

func IsValidEscrowTransition(from, to string) bool {
	allowed, ok := ValidEscrowTransitions[from]
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

// Milestone stage names, in canonical release order.
// Recovery is a recognized stage but carries no share in the default
// schedule; the four-stage schedule below is authoritative.
const (
	MilestoneTeleConsult = "teleconsult"
	MilestoneAdmission   = "admission"
	MilestoneSurgery     = "surgery"
	MilestoneRecovery    = "recovery"
	MilestoneDischarge   = "discharge"
)

// MilestoneSpec describes one stage of the default release schedule.
type MilestoneSpec struct {
	Name         string
	Percent      int
	Requirements []string
	Documents    []string
}

// DefaultMilestoneSchedule is the staged release plan applied to every new
// escrow. Percentages must sum to 100.
var DefaultMilestoneSchedule = []MilestoneSpec{
	{
		Name:         MilestoneTeleConsult,
		Percent:      10,
		Requirements: []string{"Teleconsultation completed", "Treatment plan confirmed by surgeon"},
		Documents:    []string{"consultation_summary", "treatment_plan"},
	},
	{
		Name:         MilestoneAdmission,
		Percent:      40,
		Requirements: []string{"Patient admitted to hospital", "Pre-operative assessment cleared"},
		Documents:    []string{"admission_record", "preop_assessment"},
	},
	{
		Name:         MilestoneSurgery,
		Percent:      40,
		Requirements: []string{"Surgery performed", "Operative report filed"},
		Documents:    []string{"operative_report"},
	},
	{
		Name:         MilestoneDischarge,
		Percent:      10,
		Requirements: []string{"Patient discharged", "Aftercare instructions delivered"},
		Documents:    []string{"discharge_summary", "aftercare_plan"},
	},
}

// MilestoneEstimateOffsetDays maps each stage to its estimated date offset
// from escrow creation. Recovery keeps an offset even though it is absent
// from the default schedule.
var MilestoneEstimateOffsetDays = map[string]int{
	MilestoneTeleConsult: 7,
	MilestoneAdmission:   30,
	MilestoneSurgery:     45,
	MilestoneRecovery:    60,
	MilestoneDischarge:   75,
}

type Milestone struct {
	ID            uuid.UUID  `json:"id"`
	EscrowID      uuid.UUID  `json:"escrow_id"`
	Name          string     `json:"name"`
	Position      int        `json:"position"`
	Percent       int        `json:"percent"`
	Released      bool       `json:"released"`
	ReleasedAt    *time.Time `json:"released_at,omitempty"`
	Requirements  []string   `json:"requirements"`
	Documents     []string   `json:"documents"`
	EstimatedDate time.Time  `json:"estimated_date"`
	ActualDate    *time.Time `json:"actual_date,omitempty"`
}

type SecuritySettings struct {
	TwoFactorEnabled      bool       `json:"two_factor_enabled"`
	IPAllowlist           []string   `json:"ip_allowlist"`
	DeviceVerification    bool       `json:"device_verification"`
	SessionTimeoutMinutes int        `json:"session_timeout_minutes"`
	LastActivity          *time.Time `json:"last_activity,omitempty"`
}

type EscrowTerms struct {
	AutoReleaseDays   int    `json:"auto_release_days"`
	DisputeWindowDays int    `json:"dispute_window_days"`
	RefundPolicy      string `json:"refund_policy"`
}

// Payment methods
const (
	MethodCreditCard   = "credit_card"
	MethodBankTransfer = "bank_transfer"
	MethodPayPal       = "paypal"
	MethodInsurance    = "insurance"
	MethodFinancing    = "financing"
)

func DefaultPaymentMethods() []string {
	return []string{MethodCreditCard, MethodBankTransfer, MethodPayPal}
}

func IsKnownPaymentMethod(m string) bool {
	switch m {
	case MethodCreditCard, MethodBankTransfer, MethodPayPal, MethodInsurance, MethodFinancing:
		return true
	}
	return false
}

type Escrow struct {
	ID         uuid.UUID `json:"id"`
	QuoteID    string    `json:"quote_id"`
	PatientID  uuid.UUID `json:"patient_id"`
	SurgeonID  uuid.UUID `json:"surgeon_id"`
	HospitalID uuid.UUID `json:"hospital_id"`

	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Status   string          `json:"status"`

	EscrowFee             decimal.Decimal `json:"escrow_fee"`
	ProcessingFee         decimal.Decimal `json:"processing_fee"`
	CurrencyConversionFee decimal.Decimal `json:"currency_conversion_fee"`

	Milestones      []Milestone      `json:"milestones"`
	AcceptedMethods []string         `json:"accepted_methods"`
	Security        SecuritySettings `json:"security"`
	Terms           EscrowTerms      `json:"terms"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// FeePolicy holds the fee schedule in basis points plus the flat floors.
type FeePolicy struct {
	EscrowFeeBPS     int
	EscrowFeeMin     decimal.Decimal
	ProcessingFeeBPS int
	ProcessingFeeMin decimal.Decimal
	ConversionFeeBPS int
}

func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		EscrowFeeBPS:     200,
		EscrowFeeMin:     decimal.NewFromInt(50),
		ProcessingFeeBPS: 100,
		ProcessingFeeMin: decimal.NewFromInt(25),
		ConversionFeeBPS: 150,
	}
}

type Fees struct {
	EscrowFee     decimal.Decimal
	ProcessingFee decimal.Decimal
	ConversionFee decimal.Decimal
}

var bpsDivisor = decimal.NewFromInt(10000)

// ComputeFees applies the fee schedule to an escrow amount. The currency
// conversion fee applies only to non-USD escrows.
func ComputeFees(amount decimal.Decimal, currency string, p FeePolicy) Fees {
	escrowFee := amount.Mul(decimal.NewFromInt(int64(p.EscrowFeeBPS))).Div(bpsDivisor)
	if escrowFee.LessThan(p.EscrowFeeMin) {
		escrowFee = p.EscrowFeeMin
	}
	processingFee := amount.Mul(decimal.NewFromInt(int64(p.ProcessingFeeBPS))).Div(bpsDivisor)
	if processingFee.LessThan(p.ProcessingFeeMin) {
		processingFee = p.ProcessingFeeMin
	}
	conversionFee := decimal.Zero
	if currency != "USD" {
		conversionFee = amount.Mul(decimal.NewFromInt(int64(p.ConversionFeeBPS))).Div(bpsDivisor)
	}
	return Fees{EscrowFee: escrowFee, ProcessingFee: processingFee, ConversionFee: conversionFee}
}

// supportedCurrencies covers the corridors the portal quotes in.
var supportedCurrencies = map[string]struct{}{
	"USD": {}, "EUR": {}, "GBP": {}, "INR": {}, "THB": {}, "TRY": {},
	"MXN": {}, "AED": {}, "SGD": {}, "MYR": {}, "KRW": {}, "BRL": {},
}

func IsSupportedCurrency(code string) bool {
	_, ok := supportedCurrencies[code]
	return ok
}

// BuildMilestones expands the default schedule into milestone rows for a new
// escrow, with estimated dates offset from the creation time.
func BuildMilestones(escrowID uuid.UUID, createdAt time.Time) []Milestone {
	ms := make([]Milestone, 0, len(DefaultMilestoneSchedule))
	for i, spec := range DefaultMilestoneSchedule {
		ms = append(ms, Milestone{
			ID:            uuid.New(),
			EscrowID:      escrowID,
			Name:          spec.Name,
			Position:      i,
			Percent:       spec.Percent,
			Requirements:  spec.Requirements,
			Documents:     spec.Documents,
			EstimatedDate: createdAt.AddDate(0, 0, MilestoneEstimateOffsetDays[spec.Name]),
		})
	}
	return ms
}

func (e *Escrow) MilestoneByName(name string) *Milestone {
	for i := range e.Milestones {
		if e.Milestones[i].Name == name {
			return &e.Milestones[i]
		}
	}
	return nil
}

// NextUnreleased returns the first unreleased milestone in schedule order,
// or nil if every milestone has been released.
func (e *Escrow) NextUnreleased() *Milestone {
	for i := range e.Milestones {
		if !e.Milestones[i].Released {
			return &e.Milestones[i]
		}
	}
	return nil
}

func (e *Escrow) AllReleased() bool {
	return e.NextUnreleased() == nil
}

// CanRelease checks whether the named milestone is eligible for release:
// the escrow must be active, the milestone must exist and be unreleased,
// and every earlier milestone must already be released.
func (e *Escrow) CanRelease(name string) error {
	if e.Status != EscrowStatusActive {
		return fmt.Errorf("%w: escrow is %s", ErrInvalidState, e.Status)
	}
	m := e.MilestoneByName(name)
	if m == nil {
		return fmt.Errorf("%w: %s", ErrMilestoneNotFound, name)
	}
	if m.Released {
		return fmt.Errorf("%w: %s", ErrAlreadyReleased, name)
	}
	for i := range e.Milestones {
		if e.Milestones[i].Position < m.Position && !e.Milestones[i].Released {
			return fmt.Errorf("%w: %s is pending before %s", ErrOutOfSequence, e.Milestones[i].Name, name)
		}
	}
	return nil
}

// MilestoneAmount is the share of the escrow total gated by one milestone.
func (e *Escrow) MilestoneAmount(m *Milestone) decimal.Decimal {
	return e.Amount.Mul(decimal.NewFromInt(int64(m.Percent))).Div(decimal.NewFromInt(100))
}

// ReleasedAmount sums the shares of all released milestones.
func (e *Escrow) ReleasedAmount() decimal.Decimal {
	total := decimal.Zero
	for i := range e.Milestones {
		if e.Milestones[i].Released {
			total = total.Add(e.MilestoneAmount(&e.Milestones[i]))
		}
	}
	return total
}

// RemainingAmount is what is still held in escrow.
func (e *Escrow) RemainingAmount() decimal.Decimal {
	return e.Amount.Sub(e.ReleasedAmount())
}

// ValidateRefund checks a refund request against the escrow state and the
// funds still held. A refund may never exceed what has not been released.
func (e *Escrow) ValidateRefund(amount decimal.Decimal) error {
	switch e.Status {
	case EscrowStatusCreated, EscrowStatusPendingPayment, EscrowStatusActive, EscrowStatusDisputed:
	default:
		return fmt.Errorf("%w: escrow is %s", ErrInvalidState, e.Status)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: refund amount must be positive", ErrValidation)
	}
	if amount.GreaterThan(e.RemainingAmount()) {
		return fmt.Errorf("%w: %s exceeds remaining %s", ErrInvalidRefundAmount, amount, e.RemainingAmount())
	}
	return nil
}

// EscrowSummary is the analytics view of one escrow.
type EscrowSummary struct {
	TotalAmount         decimal.Decimal `json:"total_amount"`
	ReleasedAmount      decimal.Decimal `json:"released_amount"`
	RemainingAmount     decimal.Decimal `json:"remaining_amount"`
	TotalFees           decimal.Decimal `json:"total_fees"`
	MilestonesCompleted int             `json:"milestones_completed"`
	MilestonesTotal     int             `json:"milestones_total"`
	ActiveDisputes      int             `json:"active_disputes"`
	DaysUntilExpiry     *int            `json:"days_until_expiry,omitempty"`
}

// Summarize computes the analytics view. Transactions supply the fee total;
// disputes supply the active-dispute count.
func (e *Escrow) Summarize(txs []PaymentTransaction, disputes []DisputeCase, now time.Time) EscrowSummary {
	s := EscrowSummary{
		TotalAmount:     e.Amount,
		ReleasedAmount:  e.ReleasedAmount(),
		RemainingAmount: e.RemainingAmount(),
		TotalFees:       decimal.Zero,
		MilestonesTotal: len(e.Milestones),
	}
	for i := range e.Milestones {
		if e.Milestones[i].Released {
			s.MilestonesCompleted++
		}
	}
	for i := range txs {
		if txs[i].Fee != nil {
			s.TotalFees = s.TotalFees.Add(*txs[i].Fee)
		}
	}
	s.ActiveDisputes = CountOpenDisputes(disputes)
	if e.ExpiresAt != nil {
		days := int(e.ExpiresAt.Sub(now).Hours() / 24)
		s.DaysUntilExpiry = &days
	}
	return s
}
