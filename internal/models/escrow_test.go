package models

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestIsValidEscrowTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{EscrowStatusCreated, EscrowStatusPendingPayment, true},
		{EscrowStatusPendingPayment, EscrowStatusActive, true},
		{EscrowStatusActive, EscrowStatusCompleted, true},

		// Dispute loop
		{EscrowStatusActive, EscrowStatusDisputed, true},
		{EscrowStatusDisputed, EscrowStatusActive, true},

		// Refund settles from any non-terminal status
		{EscrowStatusCreated, EscrowStatusRefunded, true},
		{EscrowStatusPendingPayment, EscrowStatusRefunded, true},
		{EscrowStatusActive, EscrowStatusRefunded, true},
		{EscrowStatusDisputed, EscrowStatusRefunded, true},

		// Cancellation paths
		{EscrowStatusCreated, EscrowStatusCancelled, true},
		{EscrowStatusPendingPayment, EscrowStatusCancelled, true},
		{EscrowStatusActive, EscrowStatusCancelled, true},
		{EscrowStatusDisputed, EscrowStatusCancelled, true},

		// Invalid transitions
		{EscrowStatusCreated, EscrowStatusActive, false},
		{EscrowStatusCreated, EscrowStatusCompleted, false},
		{EscrowStatusPendingPayment, EscrowStatusCompleted, false},
		{EscrowStatusCompleted, EscrowStatusRefunded, false},
		{EscrowStatusCompleted, EscrowStatusDisputed, false},
		{EscrowStatusRefunded, EscrowStatusActive, false},
		{EscrowStatusCancelled, EscrowStatusActive, false},
		{EscrowStatusDisputed, EscrowStatusCompleted, false},
		{"nonexistent", EscrowStatusActive, false},
		{EscrowStatusActive, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidEscrowTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidEscrowTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestAllStatusesHaveTransitionEntry(t *testing.T) {
	allStatuses := []string{
		EscrowStatusCreated, EscrowStatusPendingPayment, EscrowStatusActive,
		EscrowStatusDisputed, EscrowStatusCompleted, EscrowStatusRefunded,
		EscrowStatusCancelled,
	}

	for _, status := range allStatuses {
		if _, ok := ValidEscrowTransitions[status]; !ok {
			t.Errorf("status %q missing from ValidEscrowTransitions map", status)
		}
	}
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	terminal := []string{EscrowStatusCompleted, EscrowStatusRefunded, EscrowStatusCancelled}
	for _, status := range terminal {
		transitions := ValidEscrowTransitions[status]
		if len(transitions) != 0 {
			t.Errorf("terminal status %q should have no transitions, got %v", status, transitions)
		}
	}
}

func TestDefaultScheduleSumsTo100(t *testing.T) {
	sum := 0
	for _, spec := range DefaultMilestoneSchedule {
		sum += spec.Percent
	}
	if sum != 100 {
		t.Errorf("default schedule percentages sum to %d, want 100", sum)
	}
}

func TestDefaultSchedulePercentages(t *testing.T) {
	want := map[string]int{
		MilestoneTeleConsult: 10,
		MilestoneAdmission:   40,
		MilestoneSurgery:     40,
		MilestoneDischarge:   10,
	}
	if len(DefaultMilestoneSchedule) != len(want) {
		t.Fatalf("schedule has %d stages, want %d", len(DefaultMilestoneSchedule), len(want))
	}
	for _, spec := range DefaultMilestoneSchedule {
		if want[spec.Name] != spec.Percent {
			t.Errorf("stage %q has %d%%, want %d%%", spec.Name, spec.Percent, want[spec.Name])
		}
	}
}

func TestEveryStageHasEstimateOffset(t *testing.T) {
	for _, spec := range DefaultMilestoneSchedule {
		if _, ok := MilestoneEstimateOffsetDays[spec.Name]; !ok {
			t.Errorf("stage %q missing estimate offset", spec.Name)
		}
	}
	// Recovery stays mapped even though it carries no release share.
	if MilestoneEstimateOffsetDays[MilestoneRecovery] != 60 {
		t.Errorf("recovery offset = %d, want 60", MilestoneEstimateOffsetDays[MilestoneRecovery])
	}
}

func TestComputeFees(t *testing.T) {
	policy := DefaultFeePolicy()

	tests := []struct {
		name       string
		amount     string
		currency   string
		escrow     string
		processing string
		conversion string
	}{
		{"above floors USD", "5200", "USD", "104", "52", "0"},
		{"below floors USD", "1000", "USD", "50", "25", "0"},
		{"at crossover", "2500", "USD", "50", "25", "0"},
		{"large amount", "50000", "USD", "1000", "500", "0"},
		{"non-USD adds conversion", "10000", "EUR", "200", "100", "150"},
		{"tiny non-USD", "100", "THB", "50", "25", "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fees := ComputeFees(decimal.RequireFromString(tt.amount), tt.currency, policy)
			if !fees.EscrowFee.Equal(decimal.RequireFromString(tt.escrow)) {
				t.Errorf("escrow fee = %s, want %s", fees.EscrowFee, tt.escrow)
			}
			if !fees.ProcessingFee.Equal(decimal.RequireFromString(tt.processing)) {
				t.Errorf("processing fee = %s, want %s", fees.ProcessingFee, tt.processing)
			}
			if !fees.ConversionFee.Equal(decimal.RequireFromString(tt.conversion)) {
				t.Errorf("conversion fee = %s, want %s", fees.ConversionFee, tt.conversion)
			}
		})
	}
}

func TestIsSupportedCurrency(t *testing.T) {
	for _, code := range []string{"USD", "EUR", "INR", "THB"} {
		if !IsSupportedCurrency(code) {
			t.Errorf("expected %q to be supported", code)
		}
	}
	for _, code := range []string{"", "usd", "XXX", "BTC"} {
		if IsSupportedCurrency(code) {
			t.Errorf("expected %q to be unsupported", code)
		}
	}
}

func newTestEscrow(t *testing.T, amount string) *Escrow {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id := uuid.New()
	exp := now.AddDate(0, 0, 30)
	return &Escrow{
		ID:         id,
		QuoteID:    "Q1",
		PatientID:  uuid.New(),
		SurgeonID:  uuid.New(),
		HospitalID: uuid.New(),
		Amount:     decimal.RequireFromString(amount),
		Currency:   "USD",
		Status:     EscrowStatusActive,
		Milestones: BuildMilestones(id, now),
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  &exp,
	}
}

func TestBuildMilestonesEstimates(t *testing.T) {
	e := newTestEscrow(t, "5200")
	if len(e.Milestones) != 4 {
		t.Fatalf("built %d milestones, want 4", len(e.Milestones))
	}
	for i, m := range e.Milestones {
		if m.Position != i {
			t.Errorf("milestone %q position = %d, want %d", m.Name, m.Position, i)
		}
		wantDate := e.CreatedAt.AddDate(0, 0, MilestoneEstimateOffsetDays[m.Name])
		if !m.EstimatedDate.Equal(wantDate) {
			t.Errorf("milestone %q estimated date = %v, want %v", m.Name, m.EstimatedDate, wantDate)
		}
		if m.Released {
			t.Errorf("milestone %q should start unreleased", m.Name)
		}
		if len(m.Requirements) == 0 || len(m.Documents) == 0 {
			t.Errorf("milestone %q missing requirements/documents", m.Name)
		}
	}
}

func TestCanRelease(t *testing.T) {
	tests := []struct {
		name      string
		status    string
		released  []string
		milestone string
		wantErr   error
	}{
		{"first in order", EscrowStatusActive, nil, MilestoneTeleConsult, nil},
		{"second after first", EscrowStatusActive, []string{MilestoneTeleConsult}, MilestoneAdmission, nil},
		{"skip ahead", EscrowStatusActive, nil, MilestoneSurgery, ErrOutOfSequence},
		{"already released", EscrowStatusActive, []string{MilestoneTeleConsult}, MilestoneTeleConsult, ErrAlreadyReleased},
		{"unknown name", EscrowStatusActive, nil, "checkup", ErrMilestoneNotFound},
		{"recovery not scheduled", EscrowStatusActive, nil, MilestoneRecovery, ErrMilestoneNotFound},
		{"blocked while disputed", EscrowStatusDisputed, []string{MilestoneTeleConsult}, MilestoneAdmission, ErrInvalidState},
		{"blocked before funding", EscrowStatusCreated, nil, MilestoneTeleConsult, ErrInvalidState},
		{"blocked when cancelled", EscrowStatusCancelled, nil, MilestoneTeleConsult, ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEscrow(t, "5200")
			e.Status = tt.status
			for _, name := range tt.released {
				m := e.MilestoneByName(name)
				m.Released = true
			}
			err := e.CanRelease(tt.milestone)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("CanRelease(%q) = %v, want nil", tt.milestone, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CanRelease(%q) = %v, want %v", tt.milestone, err, tt.wantErr)
			}
		})
	}
}

func TestMilestoneAmounts(t *testing.T) {
	e := newTestEscrow(t, "5200")

	m := e.MilestoneByName(MilestoneTeleConsult)
	if got := e.MilestoneAmount(m); !got.Equal(decimal.RequireFromString("520")) {
		t.Errorf("teleconsult share = %s, want 520", got)
	}
	m = e.MilestoneByName(MilestoneSurgery)
	if got := e.MilestoneAmount(m); !got.Equal(decimal.RequireFromString("2080")) {
		t.Errorf("surgery share = %s, want 2080", got)
	}

	// Shares of all milestones always rebuild the full amount.
	total := decimal.Zero
	for i := range e.Milestones {
		total = total.Add(e.MilestoneAmount(&e.Milestones[i]))
	}
	if !total.Equal(e.Amount) {
		t.Errorf("milestone shares sum to %s, want %s", total, e.Amount)
	}
}

func TestReleasedAndRemaining(t *testing.T) {
	e := newTestEscrow(t, "5200")

	if !e.ReleasedAmount().Equal(decimal.Zero) {
		t.Errorf("fresh escrow released = %s, want 0", e.ReleasedAmount())
	}
	if !e.RemainingAmount().Equal(e.Amount) {
		t.Errorf("fresh escrow remaining = %s, want %s", e.RemainingAmount(), e.Amount)
	}

	e.MilestoneByName(MilestoneTeleConsult).Released = true
	e.MilestoneByName(MilestoneAdmission).Released = true

	if !e.ReleasedAmount().Equal(decimal.RequireFromString("2600")) {
		t.Errorf("released = %s, want 2600", e.ReleasedAmount())
	}
	if !e.RemainingAmount().Equal(decimal.RequireFromString("2600")) {
		t.Errorf("remaining = %s, want 2600", e.RemainingAmount())
	}
}

func TestNextUnreleasedFollowsOrder(t *testing.T) {
	e := newTestEscrow(t, "5200")

	order := []string{MilestoneTeleConsult, MilestoneAdmission, MilestoneSurgery, MilestoneDischarge}
	for _, want := range order {
		next := e.NextUnreleased()
		if next == nil {
			t.Fatalf("NextUnreleased() = nil, want %q", want)
		}
		if next.Name != want {
			t.Fatalf("NextUnreleased() = %q, want %q", next.Name, want)
		}
		next.Released = true
	}
	if !e.AllReleased() {
		t.Error("AllReleased() = false after releasing every milestone")
	}
	if e.NextUnreleased() != nil {
		t.Error("NextUnreleased() should be nil when everything is released")
	}
}

func TestValidateRefund(t *testing.T) {
	tests := []struct {
		name     string
		status   string
		released []string
		amount   string
		wantErr  error
	}{
		{"full amount before funding", EscrowStatusCreated, nil, "5200", nil},
		{"full amount while active", EscrowStatusActive, nil, "5200", nil},
		{"partial while active", EscrowStatusActive, nil, "1000", nil},
		{"exactly the remaining amount", EscrowStatusActive, []string{MilestoneTeleConsult}, "4680", nil},
		{"one over the remaining amount", EscrowStatusActive, []string{MilestoneTeleConsult}, "4681", ErrInvalidRefundAmount},
		{"full amount after a release", EscrowStatusActive, []string{MilestoneTeleConsult}, "5200", ErrInvalidRefundAmount},
		{"nothing left to refund", EscrowStatusActive, []string{MilestoneTeleConsult, MilestoneAdmission, MilestoneSurgery, MilestoneDischarge}, "1", ErrInvalidRefundAmount},
		{"zero amount", EscrowStatusActive, nil, "0", ErrValidation},
		{"negative amount", EscrowStatusActive, nil, "-100", ErrValidation},
		{"while disputed", EscrowStatusDisputed, nil, "5200", nil},
		{"completed escrow", EscrowStatusCompleted, nil, "1", ErrInvalidState},
		{"already refunded", EscrowStatusRefunded, nil, "1", ErrInvalidState},
		{"cancelled escrow", EscrowStatusCancelled, nil, "1", ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEscrow(t, "5200")
			e.Status = tt.status
			for _, name := range tt.released {
				e.MilestoneByName(name).Released = true
			}
			err := e.ValidateRefund(decimal.RequireFromString(tt.amount))
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateRefund(%s) = %v, want nil", tt.amount, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateRefund(%s) = %v, want %v", tt.amount, err, tt.wantErr)
			}
		})
	}
}

func TestResolvingLastDisputeUnblocksEscrow(t *testing.T) {
	disputes := []DisputeCase{
		{Status: DisputeStatusOpened},
		{Status: DisputeStatusResolved},
	}

	// One dispute still open: the escrow stays disputed.
	if got := CountOpenDisputes(disputes); got != 1 {
		t.Fatalf("open disputes = %d, want 1", got)
	}

	// Resolving the last open dispute leaves zero blockers, and disputed
	// has a valid path back to active. Never stuck disputed with nothing open.
	disputes[0].Status = DisputeStatusResolved
	if got := CountOpenDisputes(disputes); got != 0 {
		t.Fatalf("open disputes = %d, want 0", got)
	}
	if !IsValidEscrowTransition(EscrowStatusDisputed, EscrowStatusActive) {
		t.Error("disputed escrow must be able to return to active")
	}

	// Escalated and under-review disputes keep blocking.
	for _, status := range []string{DisputeStatusUnderReview, DisputeStatusEscalated} {
		blocking := []DisputeCase{{Status: DisputeStatusResolved}, {Status: status}}
		if got := CountOpenDisputes(blocking); got != 1 {
			t.Errorf("open disputes with one %s = %d, want 1", status, got)
		}
	}
}

func TestSummarize(t *testing.T) {
	e := newTestEscrow(t, "5200")
	e.MilestoneByName(MilestoneTeleConsult).Released = true

	fee1 := decimal.RequireFromString("52")
	fee2 := decimal.RequireFromString("10")
	txs := []PaymentTransaction{
		{Type: TxTypeDeposit, Status: TxStatusCompleted, Fee: &fee1},
		{Type: TxTypeMilestoneRelease, Status: TxStatusCompleted, Fee: &fee2},
		{Type: TxTypeMilestoneRelease, Status: TxStatusCompleted},
	}
	disputes := []DisputeCase{
		{Status: DisputeStatusOpened},
		{Status: DisputeStatusResolved},
		{Status: DisputeStatusUnderReview},
	}

	now := e.CreatedAt.AddDate(0, 0, 10)
	s := e.Summarize(txs, disputes, now)

	if !s.TotalAmount.Equal(e.Amount) {
		t.Errorf("total = %s, want %s", s.TotalAmount, e.Amount)
	}
	if !s.ReleasedAmount.Equal(decimal.RequireFromString("520")) {
		t.Errorf("released = %s, want 520", s.ReleasedAmount)
	}
	if !s.RemainingAmount.Equal(s.TotalAmount.Sub(s.ReleasedAmount)) {
		t.Errorf("remaining %s != total %s - released %s", s.RemainingAmount, s.TotalAmount, s.ReleasedAmount)
	}
	if !s.TotalFees.Equal(decimal.RequireFromString("62")) {
		t.Errorf("fees = %s, want 62", s.TotalFees)
	}
	if s.MilestonesCompleted != 1 || s.MilestonesTotal != 4 {
		t.Errorf("milestones = %d/%d, want 1/4", s.MilestonesCompleted, s.MilestonesTotal)
	}
	if s.ActiveDisputes != 2 {
		t.Errorf("active disputes = %d, want 2", s.ActiveDisputes)
	}
	if s.DaysUntilExpiry == nil || *s.DaysUntilExpiry != 20 {
		t.Errorf("days until expiry = %v, want 20", s.DaysUntilExpiry)
	}

	e.ExpiresAt = nil
	s = e.Summarize(nil, nil, now)
	if s.DaysUntilExpiry != nil {
		t.Errorf("days until expiry = %v, want nil without expiry", *s.DaysUntilExpiry)
	}
}
