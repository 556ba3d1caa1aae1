/*
types.go - Core entities for payment allocation and bank reconciliation

PURPOSE:
  Defines the plain data records the engine operates on. Entities are
  flat structs with explicit id fields, never live object graphs: every
  cross-entity read goes through the Store interfaces, so the engines
  stay unit-testable against the in-memory store.

ENTITIES:
  Transaction    - One bank ledger line (credit or debit)
  Invoice        - Amount owed by a family, with a running paid total
  Payment        - One allocation of a transaction against an invoice
  Reconciliation - One account/period check against a stated balance
  SyncRecord     - Outbox row for the external accounting-ledger sync

TENANCY:
  Every entity carries a TenantID and every store lookup is scoped by
  it. An id that exists under another tenant is NotFound, not forbidden.

SEE ALSO:
  - money.go: The Cents amount type
  - store.go: Persistence interfaces over these entities
*/
package ledger

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

// TenantID identifies one childcare center's books.
type TenantID string

// AccountID identifies a bank account within a tenant.
type AccountID string

// TransactionID identifies a bank ledger line.
type TransactionID string

// InvoiceID identifies an invoice.
type InvoiceID string

// PaymentID identifies an allocation record.
type PaymentID string

// ReconciliationID identifies a reconciliation run record.
type ReconciliationID string

// =============================================================================
// TRANSACTION - A bank ledger line
// =============================================================================

// Transaction is one line of a bank account's ledger. The import
// pipeline creates these; the engines only flip IsReconciled and set
// Reference (manual matching). Amount is signed: credits are positive,
// debits negative.
type Transaction struct {
	ID           TransactionID
	TenantID     TenantID
	Account      AccountID
	Date         time.Time // date-granular, UTC midnight
	Amount       Cents
	IsCredit     bool
	Reference    string
	IsReconciled bool
	CreatedAt    time.Time
}

// =============================================================================
// INVOICE
// =============================================================================

// InvoiceStatus is a pure function of AmountPaid vs Total; it is stored
// denormalized but recomputed on every balance change.
type InvoiceStatus string

const (
	InvoiceSent          InvoiceStatus = "SENT"
	InvoicePartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoicePaid          InvoiceStatus = "PAID"
)

// StatusFor returns the invoice status implied by a paid/total pair.
func StatusFor(amountPaid, total Cents) InvoiceStatus {
	switch {
	case amountPaid.IsZero():
		return InvoiceSent
	case amountPaid < total:
		return InvoicePartiallyPaid
	default:
		return InvoicePaid
	}
}

// Invoice is an amount owed. Invariant: 0 <= AmountPaid <= Total.
// Only the allocation engine mutates AmountPaid and Status.
type Invoice struct {
	ID         InvoiceID
	TenantID   TenantID
	Total      Cents
	AmountPaid Cents
	Status     InvoiceStatus
	Reference  string
	UpdatedAt  time.Time
}

// Outstanding returns the unpaid remainder of the invoice.
func (i Invoice) Outstanding() Cents {
	return i.Total.Sub(i.AmountPaid)
}

// =============================================================================
// PAYMENT - One allocation of a transaction against an invoice
// =============================================================================

// MatchClassification describes the allocated amount relative to the
// invoice's outstanding balance at allocation time.
type MatchClassification string

const (
	MatchExact       MatchClassification = "EXACT"
	MatchPartial     MatchClassification = "PARTIAL"
	MatchOverpayment MatchClassification = "OVERPAYMENT"
)

// ActorType distinguishes human-confirmed allocations from unattended
// automatic matching.
type ActorType string

const (
	ActorUser   ActorType = "USER"
	ActorAIAuto ActorType = "AI_AUTO"
)

// Payment links one Transaction to one Invoice. Immutable once created
// except for the reversal fields, which are written exactly once.
// Amount is always positive and never exceeds either the invoice's
// outstanding balance or the transaction's unallocated remainder at
// creation time.
type Payment struct {
	ID             PaymentID
	TenantID       TenantID
	TransactionID  TransactionID
	InvoiceID      InvoiceID
	Amount         Cents
	Classification MatchClassification
	ActorType      ActorType
	Confidence     *float64 // set only when ActorType == ActorAIAuto
	PaymentDate    time.Time
	Reference      string
	IsReversed     bool
	ReversedAt     *time.Time
	ReversalReason string
	CreatedAt      time.Time
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// ReconciliationStatus is the outcome of a reconciliation run.
type ReconciliationStatus string

const (
	ReconReconciled  ReconciliationStatus = "RECONCILED"
	ReconDiscrepancy ReconciliationStatus = "DISCREPANCY"
	ReconInProgress  ReconciliationStatus = "IN_PROGRESS"
)

// Reconciliation records one check of an account/period window against
// a stated bank closing balance. One row per (tenant, account, period);
// a DISCREPANCY run is overwritten by the next run, a RECONCILED run is
// immutable until explicitly reopened.
type Reconciliation struct {
	ID                ReconciliationID
	TenantID          TenantID
	Account           AccountID
	PeriodStart       time.Time
	PeriodEnd         time.Time
	OpeningBalance    Cents
	TotalCredits      Cents
	TotalDebits       Cents
	CalculatedClosing Cents // OpeningBalance + TotalCredits - TotalDebits
	StatedClosing     Cents
	Discrepancy       Cents // StatedClosing - CalculatedClosing
	Status            ReconciliationStatus
	TransactionCount  int
	CompletedAt       *time.Time // set when Status is RECONCILED
	CreatedAt         time.Time
}

// Period returns the window this reconciliation covers.
func (r Reconciliation) Period() Period {
	return Period{Start: r.PeriodStart, End: r.PeriodEnd}
}

// =============================================================================
// LEDGER SYNC - Outbox records for the external accounting system
// =============================================================================

// SyncStatus is the state of one external-ledger sync attempt.
// PENDING and FAILED never block or reverse local state; local books
// are authoritative and sync is eventually consistent.
type SyncStatus string

const (
	SyncSkipped SyncStatus = "SKIPPED"
	SyncPending SyncStatus = "PENDING"
	SyncSuccess SyncStatus = "SUCCESS"
	SyncFailed  SyncStatus = "FAILED"
)

// SyncRecord is one outbox row, written in the same store transaction
// as the payment it describes and drained by the background dispatcher.
type SyncRecord struct {
	ID        string
	TenantID  TenantID
	PaymentID PaymentID
	Status    SyncStatus
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}
