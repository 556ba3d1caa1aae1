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

MONEY:
  Monetary fields cross the wire as decimal strings ("1234.56").
  ledger.ParseCents converts inbound strings (banker's rounding to the
  cent); Cents.String formats outbound values. Raw integer cents never
  appear in the JSON contract.

DATES:
  Bank-ledger dates use "2006-01-02". Timestamps use RFC 3339.

VALIDATION:
  Request types carry go-playground/validator struct tags. Handlers run
  the validator after decoding and map failures to 400 responses.

SEE ALSO:
  - handlers.go: decode -> validate -> engine call flow
  - ledger/money.go: ParseCents / Cents.String
*/
package api

import (
	"time"

	"github.com/crechebooks/ledger-engine/allocation"
	"github.com/crechebooks/ledger-engine/ledger"
	"github.com/crechebooks/ledger-engine/reconcile"
)

// dateLayout is the wire format for bank-ledger dates.
const dateLayout = "2006-01-02"

// =============================================================================
// ACTOR
// =============================================================================

// ActorDTO identifies who initiated a mutation. AI_AUTO actors must
// carry a match confidence in [0,1]; USER actors must not.
type ActorDTO struct {
	ID         string   `json:"id" validate:"required"`
	Type       string   `json:"type" validate:"required,oneof=USER AI_AUTO"`
	Confidence *float64 `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
}

func (a ActorDTO) allocationActor() allocation.Actor {
	return allocation.Actor{
		ID:         a.ID,
		Type:       ledger.ActorType(a.Type),
		Confidence: a.Confidence,
	}
}

func (a ActorDTO) reconcileActor() reconcile.Actor {
	return reconcile.Actor{ID: a.ID}
}

// =============================================================================
// ALLOCATION
// =============================================================================

// AllocationLine is one invoice/amount pair within an allocation request.
type AllocationLine struct {
	InvoiceID string `json:"invoice_id" validate:"required"`
	Amount    string `json:"amount" validate:"required"`
}

// AllocateRequest applies one bank transaction against one or more
// invoices as a single atomic unit.
type AllocateRequest struct {
	TransactionID string           `json:"transaction_id" validate:"required"`
	Allocations   []AllocationLine `json:"allocations" validate:"min=1,dive"`
	Actor         ActorDTO         `json:"actor"`
}

// AllocationResultDTO is the response to a successful allocation call.
// Unallocated is the transaction value left over after the call; an
// overpayment's excess surfaces here rather than on any invoice.
type AllocationResultDTO struct {
	Payments    []PaymentDTO `json:"payments"`
	Invoices    []InvoiceDTO `json:"invoices"`
	Unallocated string       `json:"unallocated"`
	SyncStatus  string       `json:"sync_status"`
}

// ReverseRequest undoes a previous allocation.
type ReverseRequest struct {
	Reason string   `json:"reason" validate:"required"`
	Actor  ActorDTO `json:"actor"`
}

// PaymentDTO represents one allocation in API responses.
type PaymentDTO struct {
	ID             string   `json:"id"`
	TransactionID  string   `json:"transaction_id"`
	InvoiceID      string   `json:"invoice_id"`
	Amount         string   `json:"amount"`
	Classification string   `json:"classification"`
	ActorType      string   `json:"actor_type"`
	Confidence     *float64 `json:"confidence,omitempty"`
	PaymentDate    string   `json:"payment_date"`
	Reference      string   `json:"reference,omitempty"`
	IsReversed     bool     `json:"is_reversed"`
	ReversedAt     string   `json:"reversed_at,omitempty"`
	ReversalReason string   `json:"reversal_reason,omitempty"`
	CreatedAt      string   `json:"created_at"`
}

// =============================================================================
// INVOICE
// =============================================================================

// InvoiceDTO represents an invoice balance in API responses.
type InvoiceDTO struct {
	ID          string `json:"id"`
	Total       string `json:"total"`
	AmountPaid  string `json:"amount_paid"`
	Outstanding string `json:"outstanding"`
	Status      string `json:"status"`
	Reference   string `json:"reference,omitempty"`
	UpdatedAt   string `json:"updated_at"`
}

// InvoiceDetailDTO is an invoice with its full payment history,
// reversed payments included.
type InvoiceDetailDTO struct {
	Invoice  InvoiceDTO   `json:"invoice"`
	Payments []PaymentDTO `json:"payments"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// ReconcileRequest runs a reconciliation over one account and period.
type ReconcileRequest struct {
	Account        string   `json:"account" validate:"required"`
	PeriodStart    string   `json:"period_start" validate:"required"`
	PeriodEnd      string   `json:"period_end" validate:"required"`
	OpeningBalance string   `json:"opening_balance" validate:"required"`
	StatedClosing  string   `json:"stated_closing" validate:"required"`
	Actor          ActorDTO `json:"actor"`
}

// UnreconcileRequest reopens a reconciled period for correction.
type UnreconcileRequest struct {
	Account     string   `json:"account" validate:"required"`
	PeriodStart string   `json:"period_start" validate:"required"`
	PeriodEnd   string   `json:"period_end" validate:"required"`
	Reason      string   `json:"reason" validate:"required"`
	Actor       ActorDTO `json:"actor"`
}

// ReconciliationDTO represents a reconciliation run in API responses.
type ReconciliationDTO struct {
	ID                string `json:"id"`
	Account           string `json:"account"`
	PeriodStart       string `json:"period_start"`
	PeriodEnd         string `json:"period_end"`
	OpeningBalance    string `json:"opening_balance"`
	TotalCredits      string `json:"total_credits"`
	TotalDebits       string `json:"total_debits"`
	CalculatedClosing string `json:"calculated_closing"`
	StatedClosing     string `json:"stated_closing"`
	Discrepancy       string `json:"discrepancy"`
	Status            string `json:"status"`
	TransactionCount  int    `json:"transaction_count"`
	CompletedAt       string `json:"completed_at,omitempty"`
	CreatedAt         string `json:"created_at"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionDTO represents a bank transaction in API responses.
type TransactionDTO struct {
	ID           string `json:"id"`
	Account      string `json:"account"`
	Date         string `json:"date"`
	Amount       string `json:"amount"`
	IsCredit     bool   `json:"is_credit"`
	Reference    string `json:"reference,omitempty"`
	IsReconciled bool   `json:"is_reconciled"`
	CreatedAt    string `json:"created_at"`
}

// MatchRequest links transactions under a shared statement reference.
type MatchRequest struct {
	TransactionIDs []string `json:"transaction_ids" validate:"min=1,dive,required"`
	Reference      string   `json:"reference" validate:"required"`
	Actor          ActorDTO `json:"actor"`
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditEntryDTO represents one audit trail entry.
type AuditEntryDTO struct {
	ID         string         `json:"id"`
	Timestamp  string         `json:"timestamp"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// DOMAIN -> DTO MAPPERS
// =============================================================================

func toPaymentDTO(p ledger.Payment) PaymentDTO {
	dto := PaymentDTO{
		ID:             string(p.ID),
		TransactionID:  string(p.TransactionID),
		InvoiceID:      string(p.InvoiceID),
		Amount:         p.Amount.String(),
		Classification: string(p.Classification),
		ActorType:      string(p.ActorType),
		Confidence:     p.Confidence,
		PaymentDate:    p.PaymentDate.Format(dateLayout),
		Reference:      p.Reference,
		IsReversed:     p.IsReversed,
		ReversalReason: p.ReversalReason,
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
	}
	if p.ReversedAt != nil {
		dto.ReversedAt = p.ReversedAt.Format(time.RFC3339)
	}
	return dto
}

func toPaymentDTOs(payments []ledger.Payment) []PaymentDTO {
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	return dtos
}

func toInvoiceDTO(inv ledger.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:          string(inv.ID),
		Total:       inv.Total.String(),
		AmountPaid:  inv.AmountPaid.String(),
		Outstanding: inv.Outstanding().String(),
		Status:      string(inv.Status),
		Reference:   inv.Reference,
		UpdatedAt:   inv.UpdatedAt.Format(time.RFC3339),
	}
}

func toReconciliationDTO(r ledger.Reconciliation) ReconciliationDTO {
	dto := ReconciliationDTO{
		ID:                string(r.ID),
		Account:           string(r.Account),
		PeriodStart:       r.PeriodStart.Format(dateLayout),
		PeriodEnd:         r.PeriodEnd.Format(dateLayout),
		OpeningBalance:    r.OpeningBalance.String(),
		TotalCredits:      r.TotalCredits.String(),
		TotalDebits:       r.TotalDebits.String(),
		CalculatedClosing: r.CalculatedClosing.String(),
		StatedClosing:     r.StatedClosing.String(),
		Discrepancy:       r.Discrepancy.String(),
		Status:            string(r.Status),
		TransactionCount:  r.TransactionCount,
		CreatedAt:         r.CreatedAt.Format(time.RFC3339),
	}
	if r.CompletedAt != nil {
		dto.CompletedAt = r.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:           string(tx.ID),
		Account:      string(tx.Account),
		Date:         tx.Date.Format(dateLayout),
		Amount:       tx.Amount.String(),
		IsCredit:     tx.IsCredit,
		Reference:    tx.Reference,
		IsReconciled: tx.IsReconciled,
		CreatedAt:    tx.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toAuditEntryDTO(e ledger.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:         e.ID,
		Timestamp:  e.Timestamp.Format(time.RFC3339Nano),
		ActorID:    e.ActorID,
		Action:     string(e.Action),
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Detail:     e.Detail,
	}
}
