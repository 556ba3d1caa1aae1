/*
dispatcher_test.go - Sync outbox dispatcher tests

Covers the drain loop: success, retry-until-exhausted, terminal
failures, and the start/stop lifecycle.
*/
package api_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crechebooks/ledger-engine/allocation"
	"github.com/crechebooks/ledger-engine/api"
	"github.com/crechebooks/ledger-engine/ledger"
	"github.com/crechebooks/ledger-engine/ledger/store"
)

// captureTarget records published payments and can be told to fail.
type captureTarget struct {
	mu       sync.Mutex
	payments []ledger.Payment
	err      error
}

func (c *captureTarget) Publish(ctx context.Context, p ledger.Payment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.payments = append(c.payments, p)
	return nil
}

func (c *captureTarget) published() []ledger.Payment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ledger.Payment(nil), c.payments...)
}

// allocateWithOutbox seeds one invoice/transaction pair and allocates
// it with sync enabled, leaving one PENDING record in the outbox.
func allocateWithOutbox(t *testing.T, st *store.TxMemory) ledger.PaymentID {
	t.Helper()
	seedInvoice(t, st, "inv-1", 50000)
	seedTransaction(t, st, "txn-1", 6, 50000, true)

	alloc := allocation.NewEngine(st, quietLogger())
	alloc.SyncLedger = true

	result, err := alloc.Allocate(context.Background(), testTenant, "txn-1", "inv-1", 50000,
		allocation.Actor{ID: "admin@north", Type: ledger.ActorUser})
	require.NoError(t, err)
	require.Equal(t, ledger.SyncPending, result.SyncStatus)
	return result.Payments[0].ID
}

func pendingRecords(t *testing.T, st *store.TxMemory) []ledger.SyncRecord {
	t.Helper()
	recs, err := st.ListSyncByStatus(context.Background(), ledger.SyncPending, 100)
	require.NoError(t, err)
	return recs
}

func TestSyncDispatcher_DrainsPendingRecords(t *testing.T) {
	// GIVEN: One PENDING outbox record from an allocation
	st := store.NewTxMemory()
	paymentID := allocateWithOutbox(t, st)
	target := &captureTarget{}

	d := api.NewSyncDispatcher(st, target, quietLogger())

	// WHEN: Draining once
	d.RunNow()

	// THEN: The payment reached the target and the record is SUCCESS
	published := target.published()
	require.Len(t, published, 1)
	assert.Equal(t, paymentID, published[0].ID)

	assert.Empty(t, pendingRecords(t, st))

	done, err := st.ListSyncByStatus(context.Background(), ledger.SyncSuccess, 100)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, 1, done[0].Attempts)
	assert.Empty(t, done[0].LastError)
}

func TestSyncDispatcher_RetriesUntilExhausted(t *testing.T) {
	// GIVEN: A target that always fails and a two-attempt budget
	st := store.NewTxMemory()
	allocateWithOutbox(t, st)
	target := &captureTarget{err: errors.New("ledger API unreachable")}

	d := api.NewSyncDispatcher(st, target, quietLogger())
	d.MaxAttempts = 2

	// WHEN: The first drain fails
	d.RunNow()

	// THEN: The record stays PENDING with the error recorded
	pending := pendingRecords(t, st)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Contains(t, pending[0].LastError, "unreachable")

	// WHEN: The second drain exhausts the budget
	d.RunNow()

	// THEN: The record parks as FAILED and later drains skip it
	assert.Empty(t, pendingRecords(t, st))

	failed, err := st.ListSyncByStatus(context.Background(), ledger.SyncFailed, 100)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].Attempts)

	d.RunNow()
	failed, err = st.ListSyncByStatus(context.Background(), ledger.SyncFailed, 100)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].Attempts)
}

func TestSyncDispatcher_MissingPaymentFailsTerminally(t *testing.T) {
	// GIVEN: An outbox record pointing at a payment that never existed
	st := store.NewTxMemory()
	err := st.EnqueueSync(context.Background(), ledger.SyncRecord{
		ID:        "sync-orphan",
		TenantID:  testTenant,
		PaymentID: "pay-ghost",
		Status:    ledger.SyncPending,
	})
	require.NoError(t, err)

	target := &captureTarget{}
	d := api.NewSyncDispatcher(st, target, quietLogger())

	// WHEN: Draining
	d.RunNow()

	// THEN: The record fails immediately, no retries can help
	assert.Empty(t, target.published())

	failed, err := st.ListSyncByStatus(context.Background(), ledger.SyncFailed, 100)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "sync-orphan", failed[0].ID)
}

func TestSyncDispatcher_StartStopLifecycle(t *testing.T) {
	// GIVEN: A pending record and a long tick interval
	st := store.NewTxMemory()
	allocateWithOutbox(t, st)
	target := &captureTarget{}

	d := api.NewSyncDispatcher(st, target, quietLogger())
	d.Interval = time.Hour

	// WHEN: Starting and stopping
	d.Start()
	d.Stop()

	// THEN: The startup drain ran exactly once before shutdown
	assert.Len(t, target.published(), 1)
	assert.Empty(t, pendingRecords(t, st))
}

func TestSyncDispatcher_NilTargetNeverStarts(t *testing.T) {
	st := store.NewTxMemory()
	allocateWithOutbox(t, st)

	d := api.NewSyncDispatcher(st, nil, quietLogger())
	d.Start()
	d.Stop()

	// Outbox untouched
	assert.Len(t, pendingRecords(t, st), 1)
}
