/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Wallet:
    WalletDTO

  Transactions:
    TransactionDTO, TransactionPageDTO, ApplyTransactionRequest

  Tenants:
    TenantDTO, SaveTenantRequest

  Audit:
    AuditRecordDTO

  Verification:
    VerifyResultDTO, DriftDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

MONEY REPRESENTATION:
  Amounts are serialized as decimal strings ("120.50"), never floats.
  Clients parse them with their own decimal library.

VALIDATION:
  Validation is done in handlers and the processor, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - wallet/types.go: Domain model behind them
*/
package api

import (
	"time"

	"github.com/warp/wallet-engine/wallet"
)

// =============================================================================
// WALLET TYPES
// =============================================================================

// WalletDTO represents a wallet balance summary in API responses.
type WalletDTO struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	TenantID        string `json:"tenant_id"`
	Currency        string `json:"currency"`
	DepositBalance  string `json:"deposit_balance"`
	CreditLimit     string `json:"credit_limit"`
	CreditUsed      string `json:"credit_used"`
	AvailableCredit string `json:"available_credit"`
	SpendingPower   string `json:"spending_power"`
	Version         int64  `json:"version"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

func toWalletDTO(w wallet.Wallet) WalletDTO {
	return WalletDTO{
		ID:              string(w.ID),
		UserID:          string(w.UserID),
		TenantID:        string(w.TenantID),
		Currency:        string(w.Currency),
		DepositBalance:  w.DepositBalance.Value.String(),
		CreditLimit:     w.CreditLimit.Value.String(),
		CreditUsed:      w.CreditUsed.Value.String(),
		AvailableCredit: w.AvailableCredit().Value.String(),
		SpendingPower:   w.SpendingPower().Value.String(),
		Version:         w.Version,
		UpdatedAt:       w.UpdatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// TRANSACTION TYPES
// =============================================================================

// TransactionDTO represents one committed ledger row.
type TransactionDTO struct {
	ID              string `json:"id"`
	WalletID        string `json:"wallet_id"`
	Type            string `json:"type"`
	Amount          string `json:"amount"`
	Target          string `json:"target,omitempty"`
	DepositAfter    string `json:"deposit_after"`
	CreditUsedAfter string `json:"credit_used_after"`
	RelatedOrderID  string `json:"related_order_id,omitempty"`
	ActorID         string `json:"actor_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func toTransactionDTO(tx wallet.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:              string(tx.ID),
		WalletID:        string(tx.WalletID),
		Type:            string(tx.Type),
		Amount:          tx.Amount.Value.String(),
		Target:          string(tx.Target),
		DepositAfter:    tx.DepositAfter.Value.String(),
		CreditUsedAfter: tx.CreditUsedAfter.Value.String(),
		RelatedOrderID:  tx.RelatedOrderID,
		ActorID:         tx.ActorID,
		Reason:          tx.Reason,
		CreatedAt:       tx.CreatedAt.Format(time.RFC3339),
	}
}

// TransactionPageDTO wraps one page of history with the cursor for the next.
type TransactionPageDTO struct {
	Transactions []TransactionDTO `json:"transactions"`
	NextCursor   string           `json:"next_cursor,omitempty"`
}

// ApplyTransactionRequest is the request body for applying a transaction
// to a wallet.
type ApplyTransactionRequest struct {
	Type           string `json:"type"`
	Amount         string `json:"amount"`
	Target         string `json:"target,omitempty"`
	RelatedOrderID string `json:"related_order_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// =============================================================================
// TENANT TYPES
// =============================================================================

// TenantDTO represents a tenant registry row.
type TenantDTO struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Currency           string `json:"currency"`
	DefaultCreditLimit string `json:"default_credit_limit"`
	CreatedAt          string `json:"created_at,omitempty"`
}

func toTenantDTO(t wallet.Tenant) TenantDTO {
	return TenantDTO{
		ID:                 string(t.ID),
		Name:               t.Name,
		Currency:           string(t.Currency),
		DefaultCreditLimit: t.DefaultCreditLimit.String(),
		CreatedAt:          t.CreatedAt.Format(time.RFC3339),
	}
}

// SaveTenantRequest registers or updates a tenant's wallet defaults.
type SaveTenantRequest struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Currency           string `json:"currency"`
	DefaultCreditLimit string `json:"default_credit_limit"`
}

// =============================================================================
// AUDIT TYPES
// =============================================================================

// AuditRecordDTO represents one audit log row.
type AuditRecordDTO struct {
	ID               string `json:"id"`
	TransactionID    string `json:"transaction_id,omitempty"`
	WalletID         string `json:"wallet_id"`
	ActorID          string `json:"actor_id,omitempty"`
	Type             string `json:"type"`
	Amount           string `json:"amount"`
	DepositBefore    string `json:"deposit_before"`
	DepositAfter     string `json:"deposit_after"`
	CreditUsedBefore string `json:"credit_used_before"`
	CreditUsedAfter  string `json:"credit_used_after"`
	Status           string `json:"status"`
	Detail           string `json:"detail,omitempty"`
	CreatedAt        string `json:"created_at"`
}

func toAuditRecordDTO(rec wallet.AuditRecord) AuditRecordDTO {
	return AuditRecordDTO{
		ID:               rec.ID,
		TransactionID:    string(rec.TransactionID),
		WalletID:         string(rec.WalletID),
		ActorID:          rec.ActorID,
		Type:             string(rec.Type),
		Amount:           rec.Amount.Value.String(),
		DepositBefore:    rec.DepositBefore.Value.String(),
		DepositAfter:     rec.DepositAfter.Value.String(),
		CreditUsedBefore: rec.CreditUsedBefore.Value.String(),
		CreditUsedAfter:  rec.CreditUsedAfter.Value.String(),
		Status:           string(rec.Status),
		Detail:           rec.Detail,
		CreatedAt:        rec.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// VERIFICATION TYPES
// =============================================================================

// DriftDTO describes one mismatch between the ledger and the stored
// projection or after-balances.
type DriftDTO struct {
	WalletID      string `json:"wallet_id"`
	TransactionID string `json:"transaction_id,omitempty"`
	Field         string `json:"field"`
	Expected      string `json:"expected"`
	Stored        string `json:"stored"`
}

// VerifyResultDTO summarizes a ledger verification pass.
type VerifyResultDTO struct {
	WalletsChecked int        `json:"wallets_checked"`
	Drifts         []DriftDTO `json:"drifts"`
	CheckedAt      string     `json:"checked_at"`
}

func toDriftDTOs(drifts []*wallet.LedgerDriftError) []DriftDTO {
	dtos := make([]DriftDTO, len(drifts))
	for i, d := range drifts {
		dtos[i] = DriftDTO{
			WalletID:      string(d.WalletID),
			TransactionID: string(d.TransactionID),
			Field:         d.Field,
			Expected:      d.Expected.Value.String(),
			Stored:        d.Stored.Value.String(),
		}
	}
	return dtos
}

// =============================================================================
// SCENARIO TYPES
// =============================================================================

// ScenarioDTO describes one loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
