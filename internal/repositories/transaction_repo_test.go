package repositories

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/medivoyage/backend/internal/models"
)

func TestMapLedgerInsertError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			"racing deposit loses with AlreadyFunded",
			&pgconn.PgError{Code: "23505", ConstraintName: "uq_transactions_live_deposit"},
			models.ErrAlreadyFunded,
		},
		{
			"racing refund loses with InvalidState",
			&pgconn.PgError{Code: "23505", ConstraintName: "uq_transactions_settling_refund"},
			models.ErrInvalidState,
		},
		{
			"wrapped violation still maps",
			fmt.Errorf("scan: %w", &pgconn.PgError{Code: "23505", ConstraintName: "uq_transactions_live_deposit"}),
			models.ErrAlreadyFunded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapLedgerInsertError(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("mapLedgerInsertError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestMapLedgerInsertErrorPassthrough(t *testing.T) {
	for _, err := range []error{
		nil,
		errors.New("connection refused"),
		&pgconn.PgError{Code: "23503", ConstraintName: "payment_transactions_escrow_id_fkey"},
		&pgconn.PgError{Code: "23505", ConstraintName: "some_other_index"},
	} {
		if got := mapLedgerInsertError(err); !errors.Is(got, err) {
			t.Errorf("mapLedgerInsertError(%v) = %v, want the error unchanged", err, got)
		}
	}
}

func TestMapEscrowInsertError(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "escrows_quote_id_key"}
	got := mapEscrowInsertError(dup, "Q1")
	if !errors.Is(got, models.ErrValidation) {
		t.Errorf("duplicate quote = %v, want ErrValidation", got)
	}

	other := errors.New("connection refused")
	if got := mapEscrowInsertError(other, "Q1"); !errors.Is(got, other) {
		t.Errorf("non-violation = %v, want the error unchanged", got)
	}
}
