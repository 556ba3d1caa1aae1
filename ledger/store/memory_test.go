package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crechebooks/ledger-engine/ledger"
	"github.com/crechebooks/ledger-engine/ledger/store"
)

const (
	tenantNorth = ledger.TenantID("creche-north")
	tenantSouth = ledger.TenantID("creche-south")
	acctMain    = ledger.AccountID("operating-account")
)

func january() ledger.Period {
	p, _ := ledger.NewPeriod(ledger.Date(2026, 1, 1), ledger.Date(2026, 1, 31))
	return p
}

func TestMemory_TenantScoping(t *testing.T) {
	// GIVEN the same invoice id under two tenants
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.PutInvoice(ctx, ledger.Invoice{ID: "inv-1", TenantID: tenantNorth, Total: 500000}))
	require.NoError(t, m.PutInvoice(ctx, ledger.Invoice{ID: "inv-1", TenantID: tenantSouth, Total: 999}))

	// WHEN reading under each tenant
	north, err := m.GetInvoice(ctx, tenantNorth, "inv-1")
	require.NoError(t, err)
	south, err := m.GetInvoice(ctx, tenantSouth, "inv-1")
	require.NoError(t, err)

	// THEN each tenant sees only its own row
	assert.Equal(t, ledger.Cents(500000), north.Total)
	assert.Equal(t, ledger.Cents(999), south.Total)

	// AND a tenant that has no such row gets NotFound
	_, err = m.GetInvoice(ctx, "creche-east", "inv-1")
	assert.True(t, ledger.IsNotFound(err))
}

func TestMemory_GetReconciliationMissingIsNilNil(t *testing.T) {
	m := store.NewMemory()

	rec, err := m.GetReconciliation(context.Background(), tenantNorth, acctMain, january())

	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMemory_SaveReconciliationUpsertsByWindow(t *testing.T) {
	// GIVEN a DISCREPANCY record for January
	m := store.NewMemory()
	ctx := context.Background()
	rec := ledger.Reconciliation{
		ID:          "rec-1",
		TenantID:    tenantNorth,
		Account:     acctMain,
		PeriodStart: ledger.Date(2026, 1, 1),
		PeriodEnd:   ledger.Date(2026, 1, 31),
		Status:      ledger.ReconDiscrepancy,
	}
	require.NoError(t, m.SaveReconciliation(ctx, rec))

	// WHEN saving the same window again with a new status
	rec.Status = ledger.ReconReconciled
	require.NoError(t, m.SaveReconciliation(ctx, rec))

	// THEN there is still exactly one row for the window
	got, err := m.GetReconciliation(ctx, tenantNorth, acctMain, january())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ledger.ReconReconciled, got.Status)

	all, err := m.ListReconciliations(ctx, tenantNorth, acctMain)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemory_ListByAccountAndPeriodSortsByDate(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	for _, tx := range []ledger.Transaction{
		{ID: "tx-late", TenantID: tenantNorth, Account: acctMain, Date: ledger.Date(2026, 1, 28), Amount: 100, IsCredit: true},
		{ID: "tx-early", TenantID: tenantNorth, Account: acctMain, Date: ledger.Date(2026, 1, 2), Amount: 100, IsCredit: true},
		{ID: "tx-other-acct", TenantID: tenantNorth, Account: "savings", Date: ledger.Date(2026, 1, 10), Amount: 100, IsCredit: true},
		{ID: "tx-other-tenant", TenantID: tenantSouth, Account: acctMain, Date: ledger.Date(2026, 1, 10), Amount: 100, IsCredit: true},
	} {
		require.NoError(t, m.PutTransaction(ctx, tx))
	}

	txs, err := m.ListByAccountAndPeriod(ctx, tenantNorth, acctMain, january())
	require.NoError(t, err)

	require.Len(t, txs, 2)
	assert.Equal(t, ledger.TransactionID("tx-early"), txs[0].ID)
	assert.Equal(t, ledger.TransactionID("tx-late"), txs[1].ID)
}

func TestMemory_SavePaymentRejectsDuplicateID(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	p := ledger.Payment{ID: "pay-1", TenantID: tenantNorth, Amount: 100}

	require.NoError(t, m.SavePayment(ctx, p))
	assert.Error(t, m.SavePayment(ctx, p))
}

func TestTxMemory_RollbackRestoresEveryContainer(t *testing.T) {
	// GIVEN a store with one row of each kind
	tm := store.NewTxMemory()
	ctx := context.Background()
	require.NoError(t, tm.PutInvoice(ctx, ledger.Invoice{ID: "inv-1", TenantID: tenantNorth, Total: 500000, Status: ledger.InvoiceSent}))
	require.NoError(t, tm.PutTransaction(ctx, ledger.Transaction{ID: "tx-1", TenantID: tenantNorth, Account: acctMain, Date: ledger.Date(2026, 1, 15), Amount: 500000, IsCredit: true}))

	boom := errors.New("boom")

	// WHEN a transaction mutates everything and then fails
	err := tm.WithTx(ctx, func(s ledger.Store) error {
		if err := s.UpdateInvoiceBalance(ctx, tenantNorth, "inv-1", 500000, ledger.InvoicePaid); err != nil {
			return err
		}
		if err := s.MarkReconciled(ctx, tenantNorth, []ledger.TransactionID{"tx-1"}, true); err != nil {
			return err
		}
		if err := s.SavePayment(ctx, ledger.Payment{ID: "pay-1", TenantID: tenantNorth, TransactionID: "tx-1", InvoiceID: "inv-1", Amount: 500000}); err != nil {
			return err
		}
		if err := s.SaveReconciliation(ctx, ledger.Reconciliation{ID: "rec-1", TenantID: tenantNorth, Account: acctMain, PeriodStart: ledger.Date(2026, 1, 1), PeriodEnd: ledger.Date(2026, 1, 31)}); err != nil {
			return err
		}
		if err := s.AppendAudit(ctx, ledger.AuditEntry{ID: "aud-1", TenantID: tenantNorth, Action: ledger.AuditPaymentAllocated}); err != nil {
			return err
		}
		if err := s.EnqueueSync(ctx, ledger.SyncRecord{ID: "sync-1", TenantID: tenantNorth, Status: ledger.SyncPending}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// THEN every write is rolled back
	inv, err := tm.GetInvoice(ctx, tenantNorth, "inv-1")
	require.NoError(t, err)
	assert.True(t, inv.AmountPaid.IsZero())
	assert.Equal(t, ledger.InvoiceSent, inv.Status)

	tx, err := tm.GetTransaction(ctx, tenantNorth, "tx-1")
	require.NoError(t, err)
	assert.False(t, tx.IsReconciled)

	_, err = tm.GetPayment(ctx, tenantNorth, "pay-1")
	assert.True(t, ledger.IsNotFound(err))

	rec, err := tm.GetReconciliation(ctx, tenantNorth, acctMain, january())
	require.NoError(t, err)
	assert.Nil(t, rec)

	entries, err := tm.QueryAudit(ctx, ledger.AuditFilter{TenantID: tenantNorth})
	require.NoError(t, err)
	assert.Empty(t, entries)

	pending, err := tm.ListSyncByStatus(ctx, ledger.SyncPending, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestTxMemory_CommitKeepsWrites(t *testing.T) {
	tm := store.NewTxMemory()
	ctx := context.Background()

	err := tm.WithTx(ctx, func(s ledger.Store) error {
		return s.PutInvoice(ctx, ledger.Invoice{ID: "inv-1", TenantID: tenantNorth, Total: 100})
	})
	require.NoError(t, err)

	inv, err := tm.GetInvoice(ctx, tenantNorth, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Cents(100), inv.Total)
}

func TestMemory_QueryAuditFilters(t *testing.T) {
	// GIVEN entries across tenants, actions, and times
	m := store.NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	entries := []ledger.AuditEntry{
		{ID: "a1", TenantID: tenantNorth, Timestamp: base, ActorID: "admin@north", Action: ledger.AuditPaymentAllocated, EntityType: "payment", EntityID: "pay-1"},
		{ID: "a2", TenantID: tenantNorth, Timestamp: base.Add(time.Hour), ActorID: "admin@north", Action: ledger.AuditPaymentReversed, EntityType: "payment", EntityID: "pay-1"},
		{ID: "a3", TenantID: tenantNorth, Timestamp: base.Add(2 * time.Hour), ActorID: "bot", Action: ledger.AuditPaymentAllocated, EntityType: "payment", EntityID: "pay-2"},
		{ID: "a4", TenantID: tenantSouth, Timestamp: base, ActorID: "admin@south", Action: ledger.AuditPaymentAllocated, EntityType: "payment", EntityID: "pay-9"},
	}
	for _, e := range entries {
		require.NoError(t, m.AppendAudit(ctx, e))
	}

	// Tenant filter
	got, err := m.QueryAudit(ctx, ledger.AuditFilter{TenantID: tenantNorth})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	// Action filter
	got, err = m.QueryAudit(ctx, ledger.AuditFilter{TenantID: tenantNorth, Actions: []ledger.AuditAction{ledger.AuditPaymentReversed}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a2", got[0].ID)

	// Entity filter
	got, err = m.QueryAudit(ctx, ledger.AuditFilter{TenantID: tenantNorth, EntityType: "payment", EntityID: "pay-1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// Actor filter
	got, err = m.QueryAudit(ctx, ledger.AuditFilter{TenantID: tenantNorth, ActorID: "bot"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// Time window
	from := base.Add(30 * time.Minute)
	to := base.Add(90 * time.Minute)
	got, err = m.QueryAudit(ctx, ledger.AuditFilter{TenantID: tenantNorth, From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a2", got[0].ID)

	// Limit
	got, err = m.QueryAudit(ctx, ledger.AuditFilter{TenantID: tenantNorth, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMemory_SyncQueueLifecycle(t *testing.T) {
	// GIVEN two pending outbox rows
	m := store.NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()
	for _, id := range []string{"sync-1", "sync-2"} {
		require.NoError(t, m.EnqueueSync(ctx, ledger.SyncRecord{
			ID: id, TenantID: tenantNorth, PaymentID: "pay-1",
			Status: ledger.SyncPending, CreatedAt: now, UpdatedAt: now,
		}))
	}

	// Duplicate ids are rejected
	assert.Error(t, m.EnqueueSync(ctx, ledger.SyncRecord{ID: "sync-1"}))

	// WHEN one row succeeds and one fails
	pending, err := m.ListSyncByStatus(ctx, ledger.SyncPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	first := pending[0]
	first.Status = ledger.SyncSuccess
	first.Attempts = 1
	require.NoError(t, m.UpdateSync(ctx, first))

	second := pending[1]
	second.Status = ledger.SyncFailed
	second.Attempts = 1
	second.LastError = "connection refused"
	require.NoError(t, m.UpdateSync(ctx, second))

	// THEN the queue reflects both outcomes
	pending, err = m.ListSyncByStatus(ctx, ledger.SyncPending, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	failed, err := m.ListSyncByStatus(ctx, ledger.SyncFailed, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "connection refused", failed[0].LastError)

	// Unknown rows cannot be updated
	assert.Error(t, m.UpdateSync(ctx, ledger.SyncRecord{ID: "sync-404"}))
}
