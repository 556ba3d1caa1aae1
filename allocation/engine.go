/*
engine.go - Payment allocation engine

PURPOSE:
  Applies incoming bank-credit transactions against outstanding
  invoices, producing Payment records, and reverses individual payments.
  The engine is the only code that mutates invoice balances.

CLASSIFICATION:
  Each allocation is classified against the invoice's outstanding
  balance at allocation time:
    requested == outstanding  -> EXACT
    requested <  outstanding  -> PARTIAL
    requested >  outstanding  -> OVERPAYMENT (only outstanding is
      allocated; the excess is reported back as unallocated, never
      silently discarded)

ATOMICITY:
  AllocateMany is one atomic unit: a failure on allocation k rolls back
  allocations 1..k-1 from the same call. Every invoice update, payment
  insert, audit entry, and sync enqueue happens inside one WithTx.

REVERSAL:
  A payment is reversed at most once; a second attempt is an error, not
  a no-op. Reversal inside a reconciled period is blocked until the
  period is explicitly reopened. Reversed payments are retained forever.

SYNC:
  With SyncLedger enabled, each created payment enqueues a PENDING
  outbox row in the same transaction; the dispatcher drains it later.
  Sync state never blocks or reverses a local allocation.

SEE ALSO:
  - ledger/store.go: The collaborator interfaces this engine runs on
  - reconcile/engine.go: Flips the IsReconciled flag this engine honors
*/
package allocation

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/crechebooks/ledger-engine/ledger"
)

// Actor identifies who requested an allocation or reversal. Human
// actors carry no confidence; automatic matchers must supply one in
// [0, 1].
type Actor struct {
	ID         string
	Type       ledger.ActorType
	Confidence *float64
}

// Request is one invoice/amount pair within an allocation call.
type Request struct {
	InvoiceID ledger.InvoiceID
	Amount    ledger.Cents
}

// Result aggregates the outcome of one allocation call.
type Result struct {
	Payments          []ledger.Payment
	UpdatedInvoiceIDs []ledger.InvoiceID

	// Unallocated is the transaction's remaining unallocated amount
	// after this call: overpayment excess ends up here.
	Unallocated ledger.Cents

	// SyncStatus is SKIPPED when no ledger sync is configured,
	// otherwise PENDING for the enqueued outbox rows.
	SyncStatus ledger.SyncStatus
}

// Engine is the payment allocation engine. Safe for concurrent use; all
// mutations run inside Store.WithTx.
type Engine struct {
	Store ledger.TxStore
	Log   *logrus.Logger

	// SyncLedger enables the external accounting-ledger outbox.
	SyncLedger bool
}

// NewEngine creates an allocation engine. log may be nil for library use.
func NewEngine(store ledger.TxStore, log *logrus.Logger) *Engine {
	return &Engine{Store: store, Log: log}
}

// Allocate applies a single invoice/amount pair against a transaction.
func (e *Engine) Allocate(ctx context.Context, tenantID ledger.TenantID, txID ledger.TransactionID, invoiceID ledger.InvoiceID, amount ledger.Cents, actor Actor) (*Result, error) {
	return e.AllocateMany(ctx, tenantID, txID, []Request{{InvoiceID: invoiceID, Amount: amount}}, actor)
}

// AllocateMany applies a list of invoice/amount pairs against a single
// credit transaction as one atomic unit.
func (e *Engine) AllocateMany(ctx context.Context, tenantID ledger.TenantID, txID ledger.TransactionID, reqs []Request, actor Actor) (*Result, error) {
	if tenantID == "" {
		return nil, &ledger.ValidationError{Field: "tenant_id", Reason: "required"}
	}
	if txID == "" {
		return nil, &ledger.ValidationError{Field: "transaction_id", Reason: "required"}
	}
	if len(reqs) == 0 {
		return nil, &ledger.ValidationError{Field: "allocations", Reason: "at least one allocation is required"}
	}
	for i, r := range reqs {
		if r.InvoiceID == "" {
			return nil, &ledger.ValidationError{Field: fmt.Sprintf("allocations[%d].invoice_id", i), Reason: "required"}
		}
		if !r.Amount.IsPositive() {
			return nil, &ledger.ValidationError{Field: fmt.Sprintf("allocations[%d].amount_cents", i), Reason: "must be a positive integer"}
		}
	}
	if err := validateActor(actor); err != nil {
		return nil, err
	}

	result := &Result{SyncStatus: ledger.SyncSkipped}

	err := e.Store.WithTx(ctx, func(s ledger.Store) error {
		tx, err := s.GetTransaction(ctx, tenantID, txID)
		if err != nil {
			return err
		}
		if !tx.IsCredit {
			return &ledger.RuleError{
				Code:   ledger.RuleDebitSource,
				Detail: fmt.Sprintf("transaction %s is a debit and cannot fund allocations", tx.ID),
			}
		}
		if tx.IsReconciled {
			return &ledger.ReconciledPeriodError{TransactionID: tx.ID, Account: tx.Account}
		}

		available, err := unallocatedAmount(ctx, s, tx)
		if err != nil {
			return err
		}

		var requested ledger.Cents
		for _, r := range reqs {
			requested = requested.Add(r.Amount)
		}
		if requested > available {
			return &ledger.OverAllocationError{TransactionID: tx.ID, Requested: requested, Available: available}
		}

		now := time.Now().UTC()
		var allocated ledger.Cents

		for _, r := range reqs {
			inv, err := s.GetInvoice(ctx, tenantID, r.InvoiceID)
			if err != nil {
				return err
			}
			outstanding := inv.Outstanding()
			if !outstanding.IsPositive() {
				return &ledger.RuleError{
					Code:   ledger.RuleInvoiceSettled,
					Detail: fmt.Sprintf("invoice %s has no outstanding balance", inv.ID),
				}
			}

			classification, amount := classify(r.Amount, outstanding)

			newPaid := inv.AmountPaid.Add(amount)
			if err := s.UpdateInvoiceBalance(ctx, tenantID, inv.ID, newPaid, ledger.StatusFor(newPaid, inv.Total)); err != nil {
				return err
			}

			payment := ledger.Payment{
				ID:             ledger.PaymentID(uuid.NewString()),
				TenantID:       tenantID,
				TransactionID:  tx.ID,
				InvoiceID:      inv.ID,
				Amount:         amount,
				Classification: classification,
				ActorType:      actor.Type,
				Confidence:     copyConfidence(actor.Confidence),
				PaymentDate:    tx.Date,
				Reference:      tx.Reference,
				CreatedAt:      now,
			}
			if err := s.SavePayment(ctx, payment); err != nil {
				return err
			}

			err = s.AppendAudit(ctx, ledger.AuditEntry{
				ID:         uuid.NewString(),
				TenantID:   tenantID,
				Timestamp:  now,
				ActorID:    actor.ID,
				Action:     ledger.AuditPaymentAllocated,
				EntityType: "payment",
				EntityID:   string(payment.ID),
				Detail: map[string]any{
					"invoice_id":     string(inv.ID),
					"transaction_id": string(tx.ID),
					"amount_cents":   int64(amount),
					"classification": string(classification),
				},
			})
			if err != nil {
				return fmt.Errorf("audit append failed: %w", err)
			}

			if e.SyncLedger {
				rec := ledger.SyncRecord{
					ID:        uuid.NewString(),
					TenantID:  tenantID,
					PaymentID: payment.ID,
					Status:    ledger.SyncPending,
					CreatedAt: now,
					UpdatedAt: now,
				}
				if err := s.EnqueueSync(ctx, rec); err != nil {
					return err
				}
			}

			allocated = allocated.Add(amount)
			result.Payments = append(result.Payments, payment)
			result.UpdatedInvoiceIDs = append(result.UpdatedInvoiceIDs, inv.ID)
		}

		result.Unallocated = available.Sub(allocated)
		if e.SyncLedger {
			result.SyncStatus = ledger.SyncPending
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger().WithFields(logrus.Fields{
		"tenant_id":      tenantID,
		"transaction_id": txID,
		"payments":       len(result.Payments),
		"unallocated":    int64(result.Unallocated),
	}).Info("transaction allocated")

	return result, nil
}

// Reverse undoes a single payment. The payment record is retained with
// its reversal fields set; the invoice balance is decremented and its
// status recomputed.
func (e *Engine) Reverse(ctx context.Context, tenantID ledger.TenantID, paymentID ledger.PaymentID, reason string, actor Actor) (*ledger.Payment, error) {
	if tenantID == "" {
		return nil, &ledger.ValidationError{Field: "tenant_id", Reason: "required"}
	}
	if paymentID == "" {
		return nil, &ledger.ValidationError{Field: "payment_id", Reason: "required"}
	}
	if strings.TrimSpace(reason) == "" {
		return nil, &ledger.ValidationError{Field: "reason", Reason: "required"}
	}
	if err := validateActor(actor); err != nil {
		return nil, err
	}

	var reversed *ledger.Payment

	err := e.Store.WithTx(ctx, func(s ledger.Store) error {
		p, err := s.GetPayment(ctx, tenantID, paymentID)
		if err != nil {
			return err
		}
		if p.IsReversed {
			return &ledger.AlreadyReversedError{PaymentID: p.ID}
		}

		tx, err := s.GetTransaction(ctx, tenantID, p.TransactionID)
		if err != nil {
			return err
		}
		if tx.IsReconciled {
			return &ledger.ReconciledPeriodError{TransactionID: tx.ID, Account: tx.Account}
		}

		inv, err := s.GetInvoice(ctx, tenantID, p.InvoiceID)
		if err != nil {
			return err
		}
		newPaid := inv.AmountPaid.Sub(p.Amount)
		if newPaid.IsNegative() {
			return fmt.Errorf("reversing payment %s would drive invoice %s below zero", p.ID, inv.ID)
		}
		if err := s.UpdateInvoiceBalance(ctx, tenantID, inv.ID, newPaid, ledger.StatusFor(newPaid, inv.Total)); err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := s.MarkPaymentReversed(ctx, tenantID, p.ID, now, reason); err != nil {
			return err
		}

		err = s.AppendAudit(ctx, ledger.AuditEntry{
			ID:         uuid.NewString(),
			TenantID:   tenantID,
			Timestamp:  now,
			ActorID:    actor.ID,
			Action:     ledger.AuditPaymentReversed,
			EntityType: "payment",
			EntityID:   string(p.ID),
			Detail: map[string]any{
				"invoice_id":     string(p.InvoiceID),
				"transaction_id": string(p.TransactionID),
				"amount_cents":   int64(p.Amount),
				"reason":         reason,
			},
		})
		if err != nil {
			return fmt.Errorf("audit append failed: %w", err)
		}

		p.IsReversed = true
		p.ReversedAt = &now
		p.ReversalReason = reason
		reversed = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger().WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"payment_id": paymentID,
		"reason":     reason,
	}).Info("payment reversed")

	return reversed, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// classify compares the requested amount to the invoice's outstanding
// balance and returns the classification plus the amount actually
// allocated.
func classify(requested, outstanding ledger.Cents) (ledger.MatchClassification, ledger.Cents) {
	switch {
	case requested == outstanding:
		return ledger.MatchExact, requested
	case requested < outstanding:
		return ledger.MatchPartial, requested
	default:
		return ledger.MatchOverpayment, outstanding
	}
}

// unallocatedAmount is the transaction amount minus all non-reversed
// payments already funded by it.
func unallocatedAmount(ctx context.Context, s ledger.Store, tx *ledger.Transaction) (ledger.Cents, error) {
	prior, err := s.ListPaymentsByTransaction(ctx, tx.TenantID, tx.ID)
	if err != nil {
		return 0, err
	}
	available := tx.Amount
	for _, p := range prior {
		if !p.IsReversed {
			available = available.Sub(p.Amount)
		}
	}
	return available, nil
}

func validateActor(a Actor) error {
	if a.ID == "" {
		return &ledger.ValidationError{Field: "actor.id", Reason: "required"}
	}
	switch a.Type {
	case ledger.ActorUser:
		if a.Confidence != nil {
			return &ledger.ValidationError{Field: "actor.confidence", Reason: "only automatic matches carry a confidence score"}
		}
	case ledger.ActorAIAuto:
		if a.Confidence == nil {
			return &ledger.ValidationError{Field: "actor.confidence", Reason: "required for automatic matches"}
		}
		if *a.Confidence < 0 || *a.Confidence > 1 {
			return &ledger.ValidationError{Field: "actor.confidence", Reason: "must be between 0 and 1"}
		}
	default:
		return &ledger.ValidationError{Field: "actor.type", Reason: "must be USER or AI_AUTO"}
	}
	return nil
}

func copyConfidence(c *float64) *float64 {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}

var nopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

func (e *Engine) logger() *logrus.Logger {
	if e.Log != nil {
		return e.Log
	}
	return nopLogger
}
