/*
errors.go - Error taxonomy for the allocation and reconciliation engines

PURPOSE:
  One taxonomy, three sentinel roots:
    ErrNotFound      - entity missing, or present under another tenant
    ErrInvalidInput  - caller sent something malformed
    ErrBusinessRule  - input was well-formed but the books forbid it
  Structured error types carry the ids and amounts a caller needs to
  act, and Unwrap() to the sentinel so errors.Is works across layers.

  Nothing here is retried internally. A failed call is reported once,
  synchronously, and must be retried by the caller with corrected input.

USAGE:
  if ledger.IsRuleViolation(err) { ... }

  var oa *ledger.OverAllocationError
  if errors.As(err, &oa) {
      fmt.Println(oa.Available)
  }

SEE ALSO:
  - api/handlers.go: Maps the taxonomy to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a transaction, invoice, payment, or
	// reconciliation does not exist for the given tenant. A cross-tenant
	// reference reports the same way as a missing row.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed requests: empty
	// allocation lists, non-positive amounts, bad periods, bad actors.
	ErrInvalidInput = errors.New("invalid input")

	// ErrBusinessRule is returned when a well-formed request would
	// violate the books: debit used as a payment source, allocation sum
	// over the transaction amount, double reversal, touching a
	// reconciled period, re-reconciling a reconciled period.
	ErrBusinessRule = errors.New("business rule violation")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError identifies the missing entity.
type NotFoundError struct {
	Kind     string // "invoice", "transaction", "payment", "reconciliation"
	TenantID TenantID
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found for tenant %s", e.Kind, e.ID, e.TenantID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError reports one malformed field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// OverAllocationError reports an allocation request that exceeds the
// transaction's unallocated remainder.
type OverAllocationError struct {
	TransactionID TransactionID
	Requested     Cents
	Available     Cents
}

func (e *OverAllocationError) Error() string {
	return fmt.Sprintf("allocation of %s exceeds unallocated %s on transaction %s",
		e.Requested, e.Available, e.TransactionID)
}

func (e *OverAllocationError) Unwrap() error { return ErrBusinessRule }

// AlreadyReversedError reports a second reversal attempt on a payment.
type AlreadyReversedError struct {
	PaymentID PaymentID
}

func (e *AlreadyReversedError) Error() string {
	return fmt.Sprintf("payment %s is already reversed", e.PaymentID)
}

func (e *AlreadyReversedError) Unwrap() error { return ErrBusinessRule }

// ReconciledPeriodError reports a mutation blocked because the
// transaction sits inside a reconciled period. The period must be
// explicitly reopened first.
type ReconciledPeriodError struct {
	TransactionID TransactionID
	Account       AccountID
}

func (e *ReconciledPeriodError) Error() string {
	return fmt.Sprintf("transaction %s on account %s belongs to a reconciled period; unreconcile the period first",
		e.TransactionID, e.Account)
}

func (e *ReconciledPeriodError) Unwrap() error { return ErrBusinessRule }

// AlreadyReconciledError reports a reconcile run against a period that
// is already RECONCILED.
type AlreadyReconciledError struct {
	Account AccountID
	Period  Period
}

func (e *AlreadyReconciledError) Error() string {
	return fmt.Sprintf("account %s period %s is already reconciled", e.Account, e.Period)
}

func (e *AlreadyReconciledError) Unwrap() error { return ErrBusinessRule }

// RuleError covers the remaining business-rule violations with a stable
// code and a human-readable detail.
type RuleError struct {
	Code   RuleCode
	Detail string
}

// RuleCode identifies a business rule for programmatic handling.
type RuleCode string

const (
	// RuleDebitSource: a debit transaction cannot fund an allocation.
	RuleDebitSource RuleCode = "debit_source"

	// RuleInvoiceSettled: the invoice has no outstanding balance left.
	RuleInvoiceSettled RuleCode = "invoice_settled"

	// RuleNotReconciled: unreconcile called on a period that is not
	// currently RECONCILED.
	RuleNotReconciled RuleCode = "not_reconciled"
)

func (e *RuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *RuleError) Unwrap() error { return ErrBusinessRule }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether err is a missing-entity error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidInput reports whether err is a malformed-request error.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsRuleViolation reports whether err is a business-rule violation.
func IsRuleViolation(err error) bool {
	return errors.Is(err, ErrBusinessRule)
}
