/*
demo.go - Demonstration tenant seed data

PURPOSE:
  Seeds a demonstration tenant with invoices and bank transactions so
  a fresh install has something to allocate and reconcile against.
  Everything goes through the normal store API; the engines treat the
  demo tenant like any other.

SEEDED DATA (tenant "demo-center", account "operating"):
  Invoices:
    inv-emma-jan    500.00  January tuition, unpaid
    inv-liam-jan    980.00  January tuition, unpaid
    inv-olivia-jan  455.00  January tuition + excursion, unpaid
  Bank transactions:
    txn-dep-001     500.00  credit, exact-match candidate for Emma
    txn-dep-002     600.00  credit, partial candidate for Liam
    txn-dep-003     480.00  credit, overpayment candidate for Olivia
    txn-fee-001      12.50  debit, bank account fee

  Reconciling January with opening 0.00 and stated closing 1567.50
  balances exactly once all three deposits and the fee are in.

USAGE:
  Enabled by the --demo flag / DEMO_SEED env var; runs on startup and
  upserts, so repeated starts are harmless.

SEE ALSO:
  - factory/factory.go: Invokes the seed when demo mode is on
  - cmd/server/main.go: The --demo flag
*/
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/crechebooks/ledger-engine/ledger"
)

// DemoTenant is the tenant id all demo rows live under.
const DemoTenant ledger.TenantID = "demo-center"

// DemoAccount is the bank account the demo transactions post to.
const DemoAccount ledger.AccountID = "operating"

// SeedDemo populates the demo tenant. Rows are upserted in place;
// other tenants are untouched.
func SeedDemo(ctx context.Context, store ledger.TxStore, log *logrus.Logger) error {
	jan := func(day int) time.Time {
		return time.Date(2026, time.January, day, 0, 0, 0, 0, time.UTC)
	}

	invoices := []struct {
		id        ledger.InvoiceID
		total     string
		reference string
	}{
		{"inv-emma-jan", "500.00", "Emma Wilson - January tuition"},
		{"inv-liam-jan", "980.00", "Liam Chen - January tuition"},
		{"inv-olivia-jan", "455.00", "Olivia Brown - January tuition + excursion"},
	}

	transactions := []struct {
		id        ledger.TransactionID
		day       int
		amount    string
		isCredit  bool
		reference string
	}{
		{"txn-dep-001", 6, "500.00", true, "OSKO DEPOSIT WILSON"},
		{"txn-dep-002", 13, "600.00", true, "TRANSFER CHEN FAMILY"},
		{"txn-dep-003", 20, "480.00", true, "DIRECT CREDIT BROWN"},
		{"txn-fee-001", 31, "12.50", false, "ACCOUNT SERVICE FEE"},
	}

	err := store.WithTx(ctx, func(s ledger.Store) error {
		for _, in := range invoices {
			total, err := ledger.ParseCents(in.total)
			if err != nil {
				return fmt.Errorf("failed to parse demo invoice total: %w", err)
			}
			inv := ledger.Invoice{
				ID:         in.id,
				TenantID:   DemoTenant,
				Total:      total,
				AmountPaid: 0,
				Status:     ledger.InvoiceSent,
				Reference:  in.reference,
			}
			if err := s.PutInvoice(ctx, inv); err != nil {
				return fmt.Errorf("failed to seed invoice %s: %w", in.id, err)
			}
		}

		for _, tr := range transactions {
			amount, err := ledger.ParseCents(tr.amount)
			if err != nil {
				return fmt.Errorf("failed to parse demo transaction amount: %w", err)
			}
			if !tr.isCredit {
				// Amounts in the table read as magnitudes; debits are
				// stored negative.
				amount = amount.Neg()
			}
			tx := ledger.Transaction{
				ID:        tr.id,
				TenantID:  DemoTenant,
				Account:   DemoAccount,
				Date:      jan(tr.day),
				Amount:    amount,
				IsCredit:  tr.isCredit,
				Reference: tr.reference,
			}
			if err := s.PutTransaction(ctx, tx); err != nil {
				return fmt.Errorf("failed to seed transaction %s: %w", tr.id, err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"tenant":       DemoTenant,
		"invoices":     len(invoices),
		"transactions": len(transactions),
	}).Info("demo tenant seeded")
	return nil
}
