package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/medivoyage/backend/internal/models"
)

// GatewayClient talks to the internal payment processor. Charges and refunds
// are initiated here and settled asynchronously; the settlement poller calls
// CheckStatus until the processor reports a terminal state.
//
// In sandbox mode there is no processor: initiation mints a reference and
// CheckStatus reports completed, which keeps local and staging environments
// self-contained.
type GatewayClient struct {
	baseURL string
	sandbox bool
	client  *http.Client
}

func NewGatewayClient(baseURL string, sandbox bool) *GatewayClient {
	return &GatewayClient{
		baseURL: baseURL,
		sandbox: sandbox,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type gatewayChargeRequest struct {
	TransactionID string `json:"transaction_id"`
	EscrowID      string `json:"escrow_id"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Method        string `json:"method,omitempty"`
}

type gatewayChargeResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// InitiateCharge submits the transaction to the processor and returns the
// processor's reference.
func (g *GatewayClient) InitiateCharge(ctx context.Context, t *models.PaymentTransaction) (string, error) {
	if g.sandbox {
		return "sandbox-" + t.ID.String(), nil
	}

	body, err := json.Marshal(gatewayChargeRequest{
		TransactionID: t.ID.String(),
		EscrowID:      t.EscrowID.String(),
		Type:          t.Type,
		Amount:        t.Amount.String(),
		Currency:      t.Currency,
		Method:        t.Method,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/internal/charges", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: gateway returned %d", models.ErrPaymentFailed, resp.StatusCode)
	}

	var out gatewayChargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Reference, nil
}

type gatewayStatusResponse struct {
	Status string `json:"status"` // processing, completed, failed
}

// CheckStatus asks the processor for the current state of a charge.
func (g *GatewayClient) CheckStatus(ctx context.Context, t *models.PaymentTransaction) (string, error) {
	if g.sandbox {
		return models.TxStatusCompleted, nil
	}

	ref := t.ID.String()
	if t.Reference != nil && *t.Reference != "" {
		ref = *t.Reference
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/internal/charges/"+ref, nil)
	if err != nil {
		return "", err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("gateway status check returned %d", resp.StatusCode)
	}

	var out gatewayStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	switch out.Status {
	case models.TxStatusCompleted, models.TxStatusFailed, models.TxStatusProcessing:
		return out.Status, nil
	default:
		return "", fmt.Errorf("gateway reported unknown status %q", out.Status)
	}
}
