package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/medivoyage/backend/internal/models"
	"github.com/shopspring/decimal"
)

func testTransaction() *models.PaymentTransaction {
	return &models.PaymentTransaction{
		ID:       uuid.New(),
		EscrowID: uuid.New(),
		Type:     models.TxTypeDeposit,
		Amount:   decimal.NewFromInt(5200),
		Currency: "USD",
		Status:   models.TxStatusProcessing,
		Method:   models.MethodCreditCard,
	}
}

func TestGatewaySandboxAutoCompletes(t *testing.T) {
	g := NewGatewayClient("http://unreachable.invalid", true)
	tx := testTransaction()

	ref, err := g.InitiateCharge(context.Background(), tx)
	if err != nil {
		t.Fatalf("InitiateCharge: %v", err)
	}
	if ref == "" {
		t.Fatal("expected a sandbox reference")
	}

	status, err := g.CheckStatus(context.Background(), tx)
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if status != models.TxStatusCompleted {
		t.Fatalf("expected completed in sandbox, got %s", status)
	}
}

func TestGatewayInitiateCharge(t *testing.T) {
	tx := testTransaction()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/internal/charges" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req gatewayChargeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.TransactionID != tx.ID.String() {
			t.Errorf("transaction_id = %s, want %s", req.TransactionID, tx.ID)
		}
		if req.Amount != "5200" {
			t.Errorf("amount = %s, want 5200", req.Amount)
		}
		_ = json.NewEncoder(w).Encode(gatewayChargeResponse{Reference: "ch_123", Status: "processing"})
	}))
	defer srv.Close()

	g := NewGatewayClient(srv.URL, false)
	ref, err := g.InitiateCharge(context.Background(), tx)
	if err != nil {
		t.Fatalf("InitiateCharge: %v", err)
	}
	if ref != "ch_123" {
		t.Fatalf("reference = %s, want ch_123", ref)
	}
}

func TestGatewayInitiateChargeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	g := NewGatewayClient(srv.URL, false)
	_, err := g.InitiateCharge(context.Background(), testTransaction())
	if err == nil {
		t.Fatal("expected error for rejected charge")
	}
}

func TestGatewayCheckStatus(t *testing.T) {
	tests := []struct {
		name     string
		reported string
		want     string
		wantErr  bool
	}{
		{"completed", "completed", models.TxStatusCompleted, false},
		{"failed", "failed", models.TxStatusFailed, false},
		{"still processing", "processing", models.TxStatusProcessing, false},
		{"unknown status", "weird", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(gatewayStatusResponse{Status: tt.reported})
			}))
			defer srv.Close()

			g := NewGatewayClient(srv.URL, false)
			got, err := g.CheckStatus(context.Background(), testTransaction())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("CheckStatus: %v", err)
			}
			if got != tt.want {
				t.Fatalf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestGatewayCheckStatusUsesReference(t *testing.T) {
	tx := testTransaction()
	ref := "ch_abc"
	tx.Reference = &ref

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/charges/ch_abc" {
			t.Errorf("path = %s, want /internal/charges/ch_abc", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(gatewayStatusResponse{Status: "completed"})
	}))
	defer srv.Close()

	g := NewGatewayClient(srv.URL, false)
	if _, err := g.CheckStatus(context.Background(), tx); err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
}
