/*
engine.go - Bank reconciliation engine

PURPOSE:
  Verifies that an account's ledger activity for a period agrees with
  the bank's stated closing balance, and manages the reconciled state
  of the period's transactions.

ALGORITHM:
  calculated  = opening + sum(credits) - sum(|debits|)
  discrepancy = stated - calculated

  |discrepancy| <= 1 cent  -> RECONCILED: every transaction in the
    window is flagged IsReconciled and the record becomes immutable
    until explicitly reopened. The 1-cent band absorbs rounding noise
    only, not real mismatches.
  otherwise                -> DISCREPANCY: the record is persisted with
    the computed discrepancy, transactions stay unflagged, and the run
    can be repeated after correction.

  An empty window reconciles trivially when stated == opening within
  the band. A RECONCILED window rejects further runs until Unreconcile.

SEE ALSO:
  - allocation/engine.go: Honors the IsReconciled flag set here
  - ledger/types.go: Reconciliation record fields
*/
package reconcile

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

// ToleranceCents is the fixed reconciliation tolerance band. One cent
// of discrepancy is treated as rounding noise; anything larger is a
// real mismatch.
const ToleranceCents = ledger.Cents(1)

// Input is one reconciliation request.
type Input struct {
	Account        ledger.AccountID
	Period         ledger.Period
	OpeningBalance ledger.Cents
	StatedClosing  ledger.Cents
}

// MatchInput links transactions under a shared reference for manual
// discrepancy resolution.
type MatchInput struct {
	TransactionIDs []ledger.TransactionID
	Reference      string
}

// Actor identifies who ran the operation, for the audit log.
type Actor struct {
	ID string
}

// Engine is the bank reconciliation engine. Safe for concurrent use;
// all mutations run inside Store.WithTx.
type Engine struct {
	Store ledger.TxStore
	Log   *logrus.Logger
}

// NewEngine creates a reconciliation engine. log may be nil for library
// use.
func NewEngine(store ledger.TxStore, log *logrus.Logger) *Engine {
	return &Engine{Store: store, Log: log}
}

// Reconcile checks one account/period window against a stated closing
// balance and persists the outcome.
func (e *Engine) Reconcile(ctx context.Context, tenantID ledger.TenantID, in Input, actor Actor) (*ledger.Reconciliation, error) {
	if err := validateScope(tenantID, in.Account, in.Period); err != nil {
		return nil, err
	}
	if actor.ID == "" {
		return nil, &ledger.ValidationError{Field: "actor.id", Reason: "required"}
	}

	var rec *ledger.Reconciliation

	err := e.Store.WithTx(ctx, func(s ledger.Store) error {
		existing, err := s.GetReconciliation(ctx, tenantID, in.Account, in.Period)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status == ledger.ReconReconciled {
			return &ledger.AlreadyReconciledError{Account: in.Account, Period: in.Period}
		}

		txs, err := s.ListByAccountAndPeriod(ctx, tenantID, in.Account, in.Period)
		if err != nil {
			return err
		}

		var credits, debits ledger.Cents
		ids := make([]ledger.TransactionID, 0, len(txs))
		for _, tx := range txs {
			if tx.IsCredit {
				credits = credits.Add(tx.Amount)
			} else {
				debits = debits.Add(tx.Amount.Abs())
			}
			ids = append(ids, tx.ID)
		}

		calculated := in.OpeningBalance.Add(credits).Sub(debits)
		discrepancy := in.StatedClosing.Sub(calculated)

		now := time.Now().UTC()
		r := ledger.Reconciliation{
			ID:                newRunID(existing),
			TenantID:          tenantID,
			Account:           in.Account,
			PeriodStart:       in.Period.Start,
			PeriodEnd:         in.Period.End,
			OpeningBalance:    in.OpeningBalance,
			TotalCredits:      credits,
			TotalDebits:       debits,
			CalculatedClosing: calculated,
			StatedClosing:     in.StatedClosing,
			Discrepancy:       discrepancy,
			TransactionCount:  len(txs),
			CreatedAt:         now,
		}

		action := ledger.AuditPeriodDiscrepancy
		if discrepancy.Abs() <= ToleranceCents {
			r.Status = ledger.ReconReconciled
			r.CompletedAt = &now
			action = ledger.AuditPeriodReconciled
			if len(ids) > 0 {
				if err := s.MarkReconciled(ctx, tenantID, ids, true); err != nil {
					return err
				}
			}
		} else {
			r.Status = ledger.ReconDiscrepancy
		}

		if err := s.SaveReconciliation(ctx, r); err != nil {
			return err
		}

		err = s.AppendAudit(ctx, ledger.AuditEntry{
			ID:         uuid.NewString(),
			TenantID:   tenantID,
			Timestamp:  now,
			ActorID:    actor.ID,
			Action:     action,
			EntityType: "reconciliation",
			EntityID:   string(r.ID),
			Detail: map[string]any{
				"account":           string(in.Account),
				"period":            in.Period.String(),
				"transaction_count": len(txs),
				"discrepancy_cents": int64(discrepancy),
			},
		})
		if err != nil {
			return fmt.Errorf("audit append failed: %w", err)
		}

		rec = &r
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger().WithFields(logrus.Fields{
		"tenant_id":   tenantID,
		"account":     in.Account,
		"period":      in.Period.String(),
		"status":      rec.Status,
		"discrepancy": int64(rec.Discrepancy),
	}).Info("reconciliation run completed")

	return rec, nil
}

// GetUnmatched returns the window's transactions that are not yet
// reconciled, for discrepancy-resolution workflows.
func (e *Engine) GetUnmatched(ctx context.Context, tenantID ledger.TenantID, account ledger.AccountID, p ledger.Period) ([]ledger.Transaction, error) {
	if err := validateScope(tenantID, account, p); err != nil {
		return nil, err
	}

	txs, err := e.Store.ListByAccountAndPeriod(ctx, tenantID, account, p)
	if err != nil {
		return nil, err
	}
	unmatched := make([]ledger.Transaction, 0, len(txs))
	for _, tx := range txs {
		if !tx.IsReconciled {
			unmatched = append(unmatched, tx)
		}
	}
	return unmatched, nil
}

// MatchTransactions links transactions under a shared free-text
// reference. Any transaction already inside a RECONCILED period rejects
// the whole call; the period must be reopened first.
func (e *Engine) MatchTransactions(ctx context.Context, tenantID ledger.TenantID, in MatchInput, actor Actor) ([]ledger.Transaction, error) {
	if tenantID == "" {
		return nil, &ledger.ValidationError{Field: "tenant_id", Reason: "required"}
	}
	if len(in.TransactionIDs) == 0 {
		return nil, &ledger.ValidationError{Field: "transaction_ids", Reason: "at least one transaction is required"}
	}
	if strings.TrimSpace(in.Reference) == "" {
		return nil, &ledger.ValidationError{Field: "reference", Reason: "required"}
	}
	if actor.ID == "" {
		return nil, &ledger.ValidationError{Field: "actor.id", Reason: "required"}
	}

	var matched []ledger.Transaction

	err := e.Store.WithTx(ctx, func(s ledger.Store) error {
		now := time.Now().UTC()
		for _, id := range in.TransactionIDs {
			tx, err := s.GetTransaction(ctx, tenantID, id)
			if err != nil {
				return err
			}
			if tx.IsReconciled {
				return &ledger.ReconciledPeriodError{TransactionID: tx.ID, Account: tx.Account}
			}
			if err := s.SetTransactionReference(ctx, tenantID, id, in.Reference); err != nil {
				return err
			}
			tx.Reference = in.Reference
			matched = append(matched, *tx)
		}

		idStrings := make([]string, len(in.TransactionIDs))
		for i, id := range in.TransactionIDs {
			idStrings[i] = string(id)
		}
		err := s.AppendAudit(ctx, ledger.AuditEntry{
			ID:         uuid.NewString(),
			TenantID:   tenantID,
			Timestamp:  now,
			ActorID:    actor.ID,
			Action:     ledger.AuditTransactionsMatched,
			EntityType: "transaction",
			EntityID:   idStrings[0],
			Detail: map[string]any{
				"transaction_ids": idStrings,
				"reference":       in.Reference,
			},
		})
		if err != nil {
			return fmt.Errorf("audit append failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return matched, nil
}

// Unreconcile explicitly reopens a RECONCILED period: every transaction
// in the window is unflagged and the record drops to IN_PROGRESS. The
// record is retained; the period may then be re-reconciled and payments
// inside it reversed.
func (e *Engine) Unreconcile(ctx context.Context, tenantID ledger.TenantID, account ledger.AccountID, p ledger.Period, reason string, actor Actor) (*ledger.Reconciliation, error) {
	if err := validateScope(tenantID, account, p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, &ledger.ValidationError{Field: "reason", Reason: "required"}
	}
	if actor.ID == "" {
		return nil, &ledger.ValidationError{Field: "actor.id", Reason: "required"}
	}

	var reopened *ledger.Reconciliation

	err := e.Store.WithTx(ctx, func(s ledger.Store) error {
		rec, err := s.GetReconciliation(ctx, tenantID, account, p)
		if err != nil {
			return err
		}
		if rec == nil {
			return &ledger.NotFoundError{Kind: "reconciliation", TenantID: tenantID, ID: fmt.Sprintf("%s %s", account, p)}
		}
		if rec.Status != ledger.ReconReconciled {
			return &ledger.RuleError{
				Code:   ledger.RuleNotReconciled,
				Detail: fmt.Sprintf("account %s period %s is not reconciled", account, p),
			}
		}

		txs, err := s.ListByAccountAndPeriod(ctx, tenantID, account, p)
		if err != nil {
			return err
		}
		if len(txs) > 0 {
			ids := make([]ledger.TransactionID, len(txs))
			for i, tx := range txs {
				ids[i] = tx.ID
			}
			if err := s.MarkReconciled(ctx, tenantID, ids, false); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		rec.Status = ledger.ReconInProgress
		rec.CompletedAt = nil
		if err := s.SaveReconciliation(ctx, *rec); err != nil {
			return err
		}

		err = s.AppendAudit(ctx, ledger.AuditEntry{
			ID:         uuid.NewString(),
			TenantID:   tenantID,
			Timestamp:  now,
			ActorID:    actor.ID,
			Action:     ledger.AuditPeriodReopened,
			EntityType: "reconciliation",
			EntityID:   string(rec.ID),
			Detail: map[string]any{
				"account": string(account),
				"period":  p.String(),
				"reason":  reason,
			},
		})
		if err != nil {
			return fmt.Errorf("audit append failed: %w", err)
		}

		reopened = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger().WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"account":   account,
		"period":    p.String(),
		"reason":    reason,
	}).Warn("period reopened")

	return reopened, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func validateScope(tenantID ledger.TenantID, account ledger.AccountID, p ledger.Period) error {
	if tenantID == "" {
		return &ledger.ValidationError{Field: "tenant_id", Reason: "required"}
	}
	if account == "" {
		return &ledger.ValidationError{Field: "account", Reason: "required"}
	}
	return p.Validate()
}

// newRunID keeps the record id stable across re-runs of the same
// window so a DISCREPANCY run and its later correction share history.
func newRunID(existing *ledger.Reconciliation) ledger.ReconciliationID {
	if existing != nil {
		return existing.ID
	}
	return ledger.ReconciliationID(uuid.NewString())
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
