package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crechebooks/ledger-engine/ledger"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name  string
		paid  ledger.Cents
		total ledger.Cents
		want  ledger.InvoiceStatus
	}{
		{"nothing paid", 0, 500000, ledger.InvoiceSent},
		{"partially paid", 200000, 500000, ledger.InvoicePartiallyPaid},
		{"one cent short", 499999, 500000, ledger.InvoicePartiallyPaid},
		{"fully paid", 500000, 500000, ledger.InvoicePaid},
		{"zero-total invoice", 0, 0, ledger.InvoiceSent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ledger.StatusFor(tt.paid, tt.total))
		})
	}
}

func TestInvoice_Outstanding(t *testing.T) {
	inv := ledger.Invoice{Total: 500000, AmountPaid: 200000}
	assert.Equal(t, ledger.Cents(300000), inv.Outstanding())

	settled := ledger.Invoice{Total: 500000, AmountPaid: 500000}
	assert.True(t, settled.Outstanding().IsZero())
}

func TestReconciliation_Period(t *testing.T) {
	rec := ledger.Reconciliation{
		PeriodStart: ledger.Date(2026, 1, 1),
		PeriodEnd:   ledger.Date(2026, 1, 31),
	}

	p := rec.Period()
	assert.True(t, p.Contains(ledger.Date(2026, 1, 15)))
	assert.False(t, p.Contains(ledger.Date(2026, 2, 1)))
}
