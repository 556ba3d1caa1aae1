/*
demo_test.go - Demo seed data tests

The seeded numbers are load-bearing for demos: January must reconcile
cleanly against the documented closing balance.
*/
package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crechebooks/ledger-engine/allocation"
	"github.com/crechebooks/ledger-engine/api"
	"github.com/crechebooks/ledger-engine/ledger"
	"github.com/crechebooks/ledger-engine/ledger/store"
	"github.com/crechebooks/ledger-engine/reconcile"
)

func demoJanuary(t *testing.T) ledger.Period {
	t.Helper()
	p, err := ledger.NewPeriod(
		time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, time.January, 31, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	return p
}

func TestSeedDemo_JanuaryReconcilesAgainstDocumentedClosing(t *testing.T) {
	// GIVEN: A freshly seeded demo tenant
	st := store.NewTxMemory()
	ctx := context.Background()
	require.NoError(t, api.SeedDemo(ctx, st, quietLogger()))

	// WHEN: Reconciling January with the documented closing balance
	engine := reconcile.NewEngine(st, quietLogger())
	rec, err := engine.Reconcile(ctx, api.DemoTenant, reconcile.Input{
		Account:        api.DemoAccount,
		Period:         demoJanuary(t),
		OpeningBalance: 0,
		StatedClosing:  156750,
	}, reconcile.Actor{ID: "demo"})

	// THEN: All four lines balance exactly
	require.NoError(t, err)
	assert.Equal(t, ledger.ReconReconciled, rec.Status)
	assert.Equal(t, 4, rec.TransactionCount)
	assert.Equal(t, ledger.Cents(158000), rec.TotalCredits)
	assert.Equal(t, ledger.Cents(1250), rec.TotalDebits)
}

func TestSeedDemo_RepeatedSeedingIsHarmless(t *testing.T) {
	// GIVEN: The seed applied twice
	st := store.NewTxMemory()
	ctx := context.Background()
	require.NoError(t, api.SeedDemo(ctx, st, quietLogger()))
	require.NoError(t, api.SeedDemo(ctx, st, quietLogger()))

	// THEN: Rows are upserted, not duplicated
	txs, err := st.ListByAccountAndPeriod(ctx, api.DemoTenant, api.DemoAccount, demoJanuary(t))
	require.NoError(t, err)
	assert.Len(t, txs, 4)

	inv, err := st.GetInvoice(ctx, api.DemoTenant, "inv-emma-jan")
	require.NoError(t, err)
	assert.Equal(t, ledger.Cents(50000), inv.Total)
	assert.True(t, inv.AmountPaid.IsZero())
}

func TestSeedDemo_SupportsTheAllocationWalkthrough(t *testing.T) {
	// GIVEN: The seeded demo tenant
	st := store.NewTxMemory()
	ctx := context.Background()
	require.NoError(t, api.SeedDemo(ctx, st, quietLogger()))

	alloc := allocation.NewEngine(st, quietLogger())
	actor := allocation.Actor{ID: "demo", Type: ledger.ActorUser}

	// WHEN: Walking the three documented match cases
	exact, err := alloc.Allocate(ctx, api.DemoTenant, "txn-dep-001", "inv-emma-jan", 50000, actor)
	require.NoError(t, err)
	partial, err := alloc.Allocate(ctx, api.DemoTenant, "txn-dep-002", "inv-liam-jan", 60000, actor)
	require.NoError(t, err)
	over, err := alloc.Allocate(ctx, api.DemoTenant, "txn-dep-003", "inv-olivia-jan", 48000, actor)
	require.NoError(t, err)

	// THEN: Each case classifies as documented
	assert.Equal(t, ledger.MatchExact, exact.Payments[0].Classification)
	assert.Equal(t, ledger.MatchPartial, partial.Payments[0].Classification)
	assert.Equal(t, ledger.MatchOverpayment, over.Payments[0].Classification)
	assert.Equal(t, ledger.Cents(2500), over.Unallocated)
}
