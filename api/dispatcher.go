/*
dispatcher.go - Background ledger-sync dispatcher

PURPOSE:
  Drains the ledger sync outbox. Successful allocations enqueue a
  PENDING sync record in the same transaction as the payment; this
  dispatcher periodically picks PENDING records up in batches and
  pushes each payment to the external accounting ledger through a
  pluggable SyncTarget, recording the outcome per record.

DESIGN:
  - Runs a background goroutine with a configurable drain interval
  - A failed publish bumps the attempt count and keeps the record
    PENDING for the next drain; after MaxAttempts it goes FAILED
  - Sync state never touches payments, invoices, or reconciliations:
    local books are authoritative, sync is eventually consistent

CONFIGURATION:
  - Interval:    How often to drain (default: 30 seconds)
  - BatchSize:   Max records per drain (default: 50)
  - MaxAttempts: Publishes before a record goes FAILED (default: 5)

USAGE:
  d := NewSyncDispatcher(store, target, log)
  d.Start()
  // ... later
  d.Stop()

SEE ALSO:
  - allocation/engine.go: Enqueues the PENDING records
  - ledger/store.go: SyncQueue interface
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/crechebooks/ledger-engine/config"
	"github.com/crechebooks/ledger-engine/ledger"
)

// SyncTarget publishes one payment to the external accounting ledger.
// Implementations must be safe for concurrent use.
type SyncTarget interface {
	Publish(ctx context.Context, p ledger.Payment) error
}

// LogTarget is a stand-in target that records what would be pushed.
// Deployments without an external ledger configured run with this.
type LogTarget struct {
	Log *logrus.Logger
}

func (t LogTarget) Publish(ctx context.Context, p ledger.Payment) error {
	t.Log.WithFields(logrus.Fields{
		"payment_id": p.ID,
		"invoice_id": p.InvoiceID,
		"amount":     p.Amount.String(),
	}).Info("ledger sync publish")
	return nil
}

// SyncDispatcher drains the sync outbox on a ticker.
type SyncDispatcher struct {
	Store       ledger.TxStore
	Target      SyncTarget
	Log         *logrus.Logger
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSyncDispatcher creates a dispatcher with default pacing.
func NewSyncDispatcher(store ledger.TxStore, target SyncTarget, log *logrus.Logger) *SyncDispatcher {
	return &SyncDispatcher{
		Store:       store,
		Target:      target,
		Log:         log,
		Interval:    30 * time.Second,
		BatchSize:   50,
		MaxAttempts: 5,
		stop:        make(chan bool),
	}
}

// Start begins the background drain loop.
func (d *SyncDispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Target == nil {
		d.Log.Info("sync dispatcher disabled, no target configured")
		return
	}

	d.ticker = time.NewTicker(d.Interval)
	d.wg.Add(1)

	go d.run()

	d.Log.WithField("interval", d.Interval.String()).Info("sync dispatcher started")
}

// Stop halts the drain loop and waits for an in-flight drain to finish.
func (d *SyncDispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ticker != nil {
		d.ticker.Stop()
		close(d.stop)
		d.wg.Wait()
		d.Log.Info("sync dispatcher stopped")
	}
}

func (d *SyncDispatcher) run() {
	defer d.wg.Done()

	// Drain immediately on start
	d.drain()

	for {
		select {
		case <-d.ticker.C:
			d.drain()
		case <-d.stop:
			return
		}
	}
}

// RunNow triggers an immediate drain (for testing/admin).
func (d *SyncDispatcher) RunNow() {
	d.drain()
}

func (d *SyncDispatcher) drain() {
	ctx := context.Background()

	records, err := d.Store.ListSyncByStatus(ctx, ledger.SyncPending, d.BatchSize)
	if err != nil {
		config.LogError(d.Log, "api", "drain", "list pending sync records", nil, err)
		return
	}
	if len(records) == 0 {
		return
	}

	succeeded := 0
	failed := 0
	for _, rec := range records {
		if d.dispatch(ctx, rec) {
			succeeded++
		} else {
			failed++
		}
	}

	d.Log.WithFields(logrus.Fields{
		"succeeded": succeeded,
		"failed":    failed,
	}).Info("sync drain completed")
}

// dispatch pushes one record and writes the attempt outcome back.
// A publish failure keeps the record PENDING until MaxAttempts is
// reached, then parks it as FAILED for back-office inspection.
func (d *SyncDispatcher) dispatch(ctx context.Context, rec ledger.SyncRecord) bool {
	rec.Attempts++

	payment, err := d.Store.GetPayment(ctx, rec.TenantID, rec.PaymentID)
	if err != nil {
		// No payment to push; a retry cannot fix this.
		rec.Status = ledger.SyncFailed
		rec.LastError = err.Error()
		d.updateRecord(ctx, rec)
		return false
	}

	if err := d.Target.Publish(ctx, *payment); err != nil {
		rec.LastError = err.Error()
		if rec.Attempts >= d.MaxAttempts {
			rec.Status = ledger.SyncFailed
			d.Log.WithFields(logrus.Fields{
				"sync_id":  rec.ID,
				"attempts": rec.Attempts,
			}).WithError(err).Warn("sync record exhausted retries")
		}
		d.updateRecord(ctx, rec)
		return false
	}

	rec.Status = ledger.SyncSuccess
	rec.LastError = ""
	d.updateRecord(ctx, rec)
	return true
}

func (d *SyncDispatcher) updateRecord(ctx context.Context, rec ledger.SyncRecord) {
	if err := d.Store.UpdateSync(ctx, rec); err != nil {
		config.LogError(d.Log, "api", "updateRecord", "update sync record", rec.ID, err)
	}
}
