package models

import "testing"

func TestIsValidTxStatusChange(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		{TxStatusPending, TxStatusProcessing, true},
		{TxStatusPending, TxStatusCompleted, true},
		{TxStatusPending, TxStatusFailed, true},
		{TxStatusProcessing, TxStatusCompleted, true},
		{TxStatusProcessing, TxStatusFailed, true},

		// Terminal statuses never move again
		{TxStatusCompleted, TxStatusFailed, false},
		{TxStatusCompleted, TxStatusProcessing, false},
		{TxStatusFailed, TxStatusCompleted, false},
		{TxStatusFailed, TxStatusProcessing, false},

		// No backward moves
		{TxStatusProcessing, TxStatusPending, false},
		{TxStatusCompleted, TxStatusPending, false},

		{"nonexistent", TxStatusCompleted, false},
		{TxStatusPending, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidTxStatusChange(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTxStatusChange(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestIsTerminalTxStatus(t *testing.T) {
	if !IsTerminalTxStatus(TxStatusCompleted) || !IsTerminalTxStatus(TxStatusFailed) {
		t.Error("completed and failed are terminal")
	}
	if IsTerminalTxStatus(TxStatusPending) || IsTerminalTxStatus(TxStatusProcessing) {
		t.Error("pending and processing are not terminal")
	}
}

func TestDisputeIsOpen(t *testing.T) {
	open := []string{DisputeStatusOpened, DisputeStatusUnderReview, DisputeStatusEscalated}
	for _, status := range open {
		d := DisputeCase{Status: status}
		if !d.IsOpen() {
			t.Errorf("dispute in %q should count as open", status)
		}
	}
	d := DisputeCase{Status: DisputeStatusResolved}
	if d.IsOpen() {
		t.Error("resolved dispute should not count as open")
	}
}
