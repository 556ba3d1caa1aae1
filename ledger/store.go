/*
store.go - Persistence interfaces between the engines and the database

PURPOSE:
  Defines the collaborator contracts the engines run against. The two
  engines never reach around these interfaces: every cross-entity read
  and every mutation goes through a Store, so the same logic runs
  unchanged over sqlite in production and the in-memory store in tests.

KEY INTERFACES:
  InvoiceStore        Invoice lookup and balance updates
  TransactionStore    Bank ledger lines per tenant/account/period
  PaymentStore        Allocation records (insert + reversal mark only)
  ReconciliationStore One record per account/period window
  AuditSink/AuditLog  Append-only change log, plus the query side
  SyncQueue           Outbox rows for the external ledger sync
  TxStore             Store plus WithTx for atomic multi-write ops

ATOMICITY CONTRACT:
  Every mutating engine operation runs inside a single WithTx call:
  invoice update, payment insert, transaction flag flips, audit write,
  and sync enqueue commit together or not at all. An audit append
  failure aborts the whole transaction - a change that cannot be
  audited did not happen.

IMMUTABILITY CONTRACT:
  Payments have no update beyond MarkPaymentReversed and no delete.
  Transactions have no delete; the engines may only flip IsReconciled
  and set Reference. Reconciliations are upserted per window.

IMPLEMENTATIONS:
  - store/sqlite: production store (WAL, immediate transactions)
  - ledger/store: in-memory store (snapshot rollback) for tests/demo

SEE ALSO:
  - allocation/engine.go, reconcile/engine.go: The only callers that mutate
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// COLLABORATOR STORES
// =============================================================================

// InvoiceStore holds invoice totals and running paid amounts.
type InvoiceStore interface {
	// GetInvoice returns the invoice or a NotFoundError. Lookups are
	// tenant-scoped: an id under another tenant is NotFound.
	GetInvoice(ctx context.Context, tenantID TenantID, id InvoiceID) (*Invoice, error)

	// PutInvoice inserts or replaces an invoice. Used by the import
	// pipeline, seeding, and tests; the engines never create invoices.
	PutInvoice(ctx context.Context, inv Invoice) error

	// UpdateInvoiceBalance sets the running paid amount and the status
	// derived from it. The only invoice mutation the engines perform.
	UpdateInvoiceBalance(ctx context.Context, tenantID TenantID, id InvoiceID, amountPaid Cents, status InvoiceStatus) error
}

// TransactionStore holds bank ledger lines.
type TransactionStore interface {
	// GetTransaction returns the ledger line or a NotFoundError.
	GetTransaction(ctx context.Context, tenantID TenantID, id TransactionID) (*Transaction, error)

	// PutTransaction inserts or replaces a ledger line. Import/seeding
	// only.
	PutTransaction(ctx context.Context, tx Transaction) error

	// ListByAccountAndPeriod returns the account's lines dated inside
	// the period, both bounds inclusive, ordered by date.
	ListByAccountAndPeriod(ctx context.Context, tenantID TenantID, account AccountID, p Period) ([]Transaction, error)

	// MarkReconciled flips IsReconciled on the given lines. Reconcile
	// sets it, unreconcile clears it; nothing else touches the flag.
	MarkReconciled(ctx context.Context, tenantID TenantID, ids []TransactionID, reconciled bool) error

	// SetTransactionReference writes the free-text reference used by
	// manual matching.
	SetTransactionReference(ctx context.Context, tenantID TenantID, id TransactionID, reference string) error
}

// PaymentStore holds allocation records.
type PaymentStore interface {
	// GetPayment returns the payment or a NotFoundError.
	GetPayment(ctx context.Context, tenantID TenantID, id PaymentID) (*Payment, error)

	// SavePayment inserts a new payment record.
	SavePayment(ctx context.Context, p Payment) error

	// MarkPaymentReversed writes the reversal fields exactly once.
	// The record itself is never deleted.
	MarkPaymentReversed(ctx context.Context, tenantID TenantID, id PaymentID, reversedAt time.Time, reason string) error

	// ListPaymentsByInvoice returns all payments (reversed included)
	// against an invoice, ordered by creation.
	ListPaymentsByInvoice(ctx context.Context, tenantID TenantID, id InvoiceID) ([]Payment, error)

	// ListPaymentsByTransaction returns all payments funded by a
	// transaction, ordered by creation. The allocation engine sums the
	// non-reversed ones to know the unallocated remainder.
	ListPaymentsByTransaction(ctx context.Context, tenantID TenantID, id TransactionID) ([]Payment, error)
}

// ReconciliationStore holds one record per (tenant, account, period).
type ReconciliationStore interface {
	// GetReconciliation returns the record for the exact window, or
	// nil when no run has touched it yet.
	GetReconciliation(ctx context.Context, tenantID TenantID, account AccountID, p Period) (*Reconciliation, error)

	// SaveReconciliation upserts the record for its window.
	SaveReconciliation(ctx context.Context, r Reconciliation) error

	// ListReconciliations returns an account's records, newest first.
	ListReconciliations(ctx context.Context, tenantID TenantID, account AccountID) ([]Reconciliation, error)
}

// =============================================================================
// AUDIT LOG - Append-only, written inside the same transaction
// =============================================================================

// AuditAction identifies what happened.
type AuditAction string

const (
	AuditPaymentAllocated    AuditAction = "payment_allocated"
	AuditPaymentReversed     AuditAction = "payment_reversed"
	AuditPeriodReconciled    AuditAction = "period_reconciled"
	AuditPeriodDiscrepancy   AuditAction = "period_discrepancy"
	AuditPeriodReopened      AuditAction = "period_reopened"
	AuditTransactionsMatched AuditAction = "transactions_matched"
)

// AuditEntry records who did what to which entity.
type AuditEntry struct {
	ID         string
	TenantID   TenantID
	Timestamp  time.Time
	ActorID    string
	Action     AuditAction
	EntityType string // "payment", "invoice", "transaction", "reconciliation"
	EntityID   string
	Detail     map[string]any
}

// AuditSink is the write side. Append failures are fatal to the
// enclosing store transaction.
type AuditSink interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
}

// AuditLog adds the query side for back-office use.
type AuditLog interface {
	AuditSink
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// AuditFilter narrows an audit query. Zero fields match everything for
// the tenant.
type AuditFilter struct {
	TenantID   TenantID
	EntityType string
	EntityID   string
	ActorID    string
	Actions    []AuditAction
	From       *time.Time
	To         *time.Time
	Limit      int
}

// =============================================================================
// LEDGER SYNC OUTBOX
// =============================================================================

// SyncQueue is the outbox for the external accounting-ledger sync.
// Enqueue happens in the same transaction as the payment; the
// dispatcher drains PENDING rows outside any engine operation.
type SyncQueue interface {
	EnqueueSync(ctx context.Context, rec SyncRecord) error
	ListSyncByStatus(ctx context.Context, status SyncStatus, limit int) ([]SyncRecord, error)
	UpdateSync(ctx context.Context, rec SyncRecord) error
}

// =============================================================================
// AGGREGATE STORE
// =============================================================================

// Store is everything the engines and the service layer persist through.
type Store interface {
	InvoiceStore
	TransactionStore
	PaymentStore
	ReconciliationStore
	AuditLog
	SyncQueue
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within one atomic transaction. If fn returns
	// an error the transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
