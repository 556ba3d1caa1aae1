// Package store provides the in-memory ledger.TxStore used by tests
// and demo seeding. Behaviorally equivalent to store/sqlite for every
// engine-visible contract.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/crechebooks/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	invoices  map[entityKey]ledger.Invoice
	txs       []ledger.Transaction
	txIndex   map[entityKey]int
	payments  []ledger.Payment
	payIndex  map[entityKey]int
	recons    map[reconKey]ledger.Reconciliation
	audit     []ledger.AuditEntry
	syncRecs  []ledger.SyncRecord
	syncIndex map[string]int
}

type entityKey struct {
	Tenant ledger.TenantID
	ID     string
}

type reconKey struct {
	Tenant  ledger.TenantID
	Account ledger.AccountID
	Start   time.Time
	End     time.Time
}

func NewMemory() *Memory {
	return &Memory{
		invoices:  make(map[entityKey]ledger.Invoice),
		txIndex:   make(map[entityKey]int),
		payIndex:  make(map[entityKey]int),
		recons:    make(map[reconKey]ledger.Reconciliation),
		syncIndex: make(map[string]int),
	}
}

// =============================================================================
// INVOICES
// =============================================================================

func (m *Memory) GetInvoice(_ context.Context, tenantID ledger.TenantID, id ledger.InvoiceID) (*ledger.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getInvoiceLocked(tenantID, id)
}

func (m *Memory) getInvoiceLocked(tenantID ledger.TenantID, id ledger.InvoiceID) (*ledger.Invoice, error) {
	inv, ok := m.invoices[entityKey{tenantID, string(id)}]
	if !ok {
		return nil, &ledger.NotFoundError{Kind: "invoice", TenantID: tenantID, ID: string(id)}
	}
	return &inv, nil
}

func (m *Memory) PutInvoice(_ context.Context, inv ledger.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putInvoiceLocked(inv)
}

func (m *Memory) putInvoiceLocked(inv ledger.Invoice) error {
	m.invoices[entityKey{inv.TenantID, string(inv.ID)}] = inv
	return nil
}

func (m *Memory) UpdateInvoiceBalance(_ context.Context, tenantID ledger.TenantID, id ledger.InvoiceID, amountPaid ledger.Cents, status ledger.InvoiceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateInvoiceBalanceLocked(tenantID, id, amountPaid, status)
}

func (m *Memory) updateInvoiceBalanceLocked(tenantID ledger.TenantID, id ledger.InvoiceID, amountPaid ledger.Cents, status ledger.InvoiceStatus) error {
	k := entityKey{tenantID, string(id)}
	inv, ok := m.invoices[k]
	if !ok {
		return &ledger.NotFoundError{Kind: "invoice", TenantID: tenantID, ID: string(id)}
	}
	inv.AmountPaid = amountPaid
	inv.Status = status
	inv.UpdatedAt = time.Now().UTC()
	m.invoices[k] = inv
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (m *Memory) GetTransaction(_ context.Context, tenantID ledger.TenantID, id ledger.TransactionID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransactionLocked(tenantID, id)
}

func (m *Memory) getTransactionLocked(tenantID ledger.TenantID, id ledger.TransactionID) (*ledger.Transaction, error) {
	idx, ok := m.txIndex[entityKey{tenantID, string(id)}]
	if !ok {
		return nil, &ledger.NotFoundError{Kind: "transaction", TenantID: tenantID, ID: string(id)}
	}
	tx := m.txs[idx]
	return &tx, nil
}

func (m *Memory) PutTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putTransactionLocked(tx)
}

func (m *Memory) putTransactionLocked(tx ledger.Transaction) error {
	k := entityKey{tx.TenantID, string(tx.ID)}
	if idx, ok := m.txIndex[k]; ok {
		m.txs[idx] = tx
		return nil
	}
	m.txs = append(m.txs, tx)
	m.txIndex[k] = len(m.txs) - 1
	return nil
}

func (m *Memory) ListByAccountAndPeriod(_ context.Context, tenantID ledger.TenantID, account ledger.AccountID, p ledger.Period) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listByAccountAndPeriodLocked(tenantID, account, p)
}

func (m *Memory) listByAccountAndPeriodLocked(tenantID ledger.TenantID, account ledger.AccountID, p ledger.Period) ([]ledger.Transaction, error) {
	var result []ledger.Transaction
	for _, tx := range m.txs {
		if tx.TenantID == tenantID && tx.Account == account && p.Contains(tx.Date) {
			result = append(result, tx)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})
	return result, nil
}

func (m *Memory) MarkReconciled(_ context.Context, tenantID ledger.TenantID, ids []ledger.TransactionID, reconciled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markReconciledLocked(tenantID, ids, reconciled)
}

func (m *Memory) markReconciledLocked(tenantID ledger.TenantID, ids []ledger.TransactionID, reconciled bool) error {
	for _, id := range ids {
		idx, ok := m.txIndex[entityKey{tenantID, string(id)}]
		if !ok {
			return &ledger.NotFoundError{Kind: "transaction", TenantID: tenantID, ID: string(id)}
		}
		m.txs[idx].IsReconciled = reconciled
	}
	return nil
}

func (m *Memory) SetTransactionReference(_ context.Context, tenantID ledger.TenantID, id ledger.TransactionID, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setTransactionReferenceLocked(tenantID, id, reference)
}

func (m *Memory) setTransactionReferenceLocked(tenantID ledger.TenantID, id ledger.TransactionID, reference string) error {
	idx, ok := m.txIndex[entityKey{tenantID, string(id)}]
	if !ok {
		return &ledger.NotFoundError{Kind: "transaction", TenantID: tenantID, ID: string(id)}
	}
	m.txs[idx].Reference = reference
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *Memory) GetPayment(_ context.Context, tenantID ledger.TenantID, id ledger.PaymentID) (*ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPaymentLocked(tenantID, id)
}

func (m *Memory) getPaymentLocked(tenantID ledger.TenantID, id ledger.PaymentID) (*ledger.Payment, error) {
	idx, ok := m.payIndex[entityKey{tenantID, string(id)}]
	if !ok {
		return nil, &ledger.NotFoundError{Kind: "payment", TenantID: tenantID, ID: string(id)}
	}
	p := m.payments[idx]
	return &p, nil
}

func (m *Memory) SavePayment(_ context.Context, p ledger.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.savePaymentLocked(p)
}

func (m *Memory) savePaymentLocked(p ledger.Payment) error {
	k := entityKey{p.TenantID, string(p.ID)}
	if _, ok := m.payIndex[k]; ok {
		return fmt.Errorf("payment %s already exists", p.ID)
	}
	m.payments = append(m.payments, p)
	m.payIndex[k] = len(m.payments) - 1
	return nil
}

func (m *Memory) MarkPaymentReversed(_ context.Context, tenantID ledger.TenantID, id ledger.PaymentID, reversedAt time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markPaymentReversedLocked(tenantID, id, reversedAt, reason)
}

func (m *Memory) markPaymentReversedLocked(tenantID ledger.TenantID, id ledger.PaymentID, reversedAt time.Time, reason string) error {
	idx, ok := m.payIndex[entityKey{tenantID, string(id)}]
	if !ok {
		return &ledger.NotFoundError{Kind: "payment", TenantID: tenantID, ID: string(id)}
	}
	at := reversedAt
	m.payments[idx].IsReversed = true
	m.payments[idx].ReversedAt = &at
	m.payments[idx].ReversalReason = reason
	return nil
}

func (m *Memory) ListPaymentsByInvoice(_ context.Context, tenantID ledger.TenantID, id ledger.InvoiceID) ([]ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPaymentsByInvoiceLocked(tenantID, id)
}

func (m *Memory) listPaymentsByInvoiceLocked(tenantID ledger.TenantID, id ledger.InvoiceID) ([]ledger.Payment, error) {
	var result []ledger.Payment
	for _, p := range m.payments {
		if p.TenantID == tenantID && p.InvoiceID == id {
			result = append(result, p)
		}
	}
	return result, nil
}

func (m *Memory) ListPaymentsByTransaction(_ context.Context, tenantID ledger.TenantID, id ledger.TransactionID) ([]ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPaymentsByTransactionLocked(tenantID, id)
}

func (m *Memory) listPaymentsByTransactionLocked(tenantID ledger.TenantID, id ledger.TransactionID) ([]ledger.Payment, error) {
	var result []ledger.Payment
	for _, p := range m.payments {
		if p.TenantID == tenantID && p.TransactionID == id {
			result = append(result, p)
		}
	}
	return result, nil
}

// =============================================================================
// RECONCILIATIONS
// =============================================================================

func (m *Memory) GetReconciliation(_ context.Context, tenantID ledger.TenantID, account ledger.AccountID, p ledger.Period) (*ledger.Reconciliation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getReconciliationLocked(tenantID, account, p)
}

func (m *Memory) getReconciliationLocked(tenantID ledger.TenantID, account ledger.AccountID, p ledger.Period) (*ledger.Reconciliation, error) {
	rec, ok := m.recons[reconKey{tenantID, account, p.Start, p.End}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) SaveReconciliation(_ context.Context, r ledger.Reconciliation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveReconciliationLocked(r)
}

func (m *Memory) saveReconciliationLocked(r ledger.Reconciliation) error {
	m.recons[reconKey{r.TenantID, r.Account, r.PeriodStart, r.PeriodEnd}] = r
	return nil
}

func (m *Memory) ListReconciliations(_ context.Context, tenantID ledger.TenantID, account ledger.AccountID) ([]ledger.Reconciliation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listReconciliationsLocked(tenantID, account)
}

func (m *Memory) listReconciliationsLocked(tenantID ledger.TenantID, account ledger.AccountID) ([]ledger.Reconciliation, error) {
	var result []ledger.Reconciliation
	for _, r := range m.recons {
		if r.TenantID == tenantID && r.Account == account {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].PeriodStart.Equal(result[j].PeriodStart) {
			return result[i].PeriodStart.After(result[j].PeriodStart)
		}
		return result[i].PeriodEnd.After(result[j].PeriodEnd)
	})
	return result, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry ledger.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendAuditLocked(entry)
}

func (m *Memory) appendAuditLocked(entry ledger.AuditEntry) error {
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryAuditLocked(filter)
}

func (m *Memory) queryAuditLocked(filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	var result []ledger.AuditEntry
	for _, e := range m.audit {
		if !auditMatches(e, filter) {
			continue
		}
		result = append(result, e)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func auditMatches(e ledger.AuditEntry, f ledger.AuditFilter) bool {
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if e.Action == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}

// =============================================================================
// LEDGER SYNC QUEUE
// =============================================================================

func (m *Memory) EnqueueSync(_ context.Context, rec ledger.SyncRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enqueueSyncLocked(rec)
}

func (m *Memory) enqueueSyncLocked(rec ledger.SyncRecord) error {
	if _, ok := m.syncIndex[rec.ID]; ok {
		return fmt.Errorf("sync record %s already exists", rec.ID)
	}
	m.syncRecs = append(m.syncRecs, rec)
	m.syncIndex[rec.ID] = len(m.syncRecs) - 1
	return nil
}

func (m *Memory) ListSyncByStatus(_ context.Context, status ledger.SyncStatus, limit int) ([]ledger.SyncRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSyncByStatusLocked(status, limit)
}

func (m *Memory) listSyncByStatusLocked(status ledger.SyncStatus, limit int) ([]ledger.SyncRecord, error) {
	var result []ledger.SyncRecord
	for _, rec := range m.syncRecs {
		if rec.Status != status {
			continue
		}
		result = append(result, rec)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *Memory) UpdateSync(_ context.Context, rec ledger.SyncRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateSyncLocked(rec)
}

func (m *Memory) updateSyncLocked(rec ledger.SyncRecord) error {
	idx, ok := m.syncIndex[rec.ID]
	if !ok {
		return fmt.Errorf("sync record %s does not exist", rec.ID)
	}
	m.syncRecs[idx] = rec
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction. For the memory store this is
// simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snap := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snap)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		invoices:  make(map[entityKey]ledger.Invoice, len(tm.invoices)),
		txIndex:   make(map[entityKey]int, len(tm.txIndex)),
		payIndex:  make(map[entityKey]int, len(tm.payIndex)),
		recons:    make(map[reconKey]ledger.Reconciliation, len(tm.recons)),
		syncIndex: make(map[string]int, len(tm.syncIndex)),
	}
	for k, v := range tm.invoices {
		s.invoices[k] = v
	}
	s.txs = append([]ledger.Transaction{}, tm.txs...)
	for k, v := range tm.txIndex {
		s.txIndex[k] = v
	}
	s.payments = append([]ledger.Payment{}, tm.payments...)
	for k, v := range tm.payIndex {
		s.payIndex[k] = v
	}
	for k, v := range tm.recons {
		s.recons[k] = v
	}
	s.audit = append([]ledger.AuditEntry{}, tm.audit...)
	s.syncRecs = append([]ledger.SyncRecord{}, tm.syncRecs...)
	for k, v := range tm.syncIndex {
		s.syncIndex[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.invoices = s.invoices
	tm.txs = s.txs
	tm.txIndex = s.txIndex
	tm.payments = s.payments
	tm.payIndex = s.payIndex
	tm.recons = s.recons
	tm.audit = s.audit
	tm.syncRecs = s.syncRecs
	tm.syncIndex = s.syncIndex
}

type memorySnapshot struct {
	invoices  map[entityKey]ledger.Invoice
	txs       []ledger.Transaction
	txIndex   map[entityKey]int
	payments  []ledger.Payment
	payIndex  map[entityKey]int
	recons    map[reconKey]ledger.Reconciliation
	audit     []ledger.AuditEntry
	syncRecs  []ledger.SyncRecord
	syncIndex map[string]int
}

// txMemoryView runs against the parent's containers under the lock
// already held by WithTx.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) GetInvoice(_ context.Context, tenantID ledger.TenantID, id ledger.InvoiceID) (*ledger.Invoice, error) {
	return tv.parent.getInvoiceLocked(tenantID, id)
}

func (tv *txMemoryView) PutInvoice(_ context.Context, inv ledger.Invoice) error {
	return tv.parent.putInvoiceLocked(inv)
}

func (tv *txMemoryView) UpdateInvoiceBalance(_ context.Context, tenantID ledger.TenantID, id ledger.InvoiceID, amountPaid ledger.Cents, status ledger.InvoiceStatus) error {
	return tv.parent.updateInvoiceBalanceLocked(tenantID, id, amountPaid, status)
}

func (tv *txMemoryView) GetTransaction(_ context.Context, tenantID ledger.TenantID, id ledger.TransactionID) (*ledger.Transaction, error) {
	return tv.parent.getTransactionLocked(tenantID, id)
}

func (tv *txMemoryView) PutTransaction(_ context.Context, tx ledger.Transaction) error {
	return tv.parent.putTransactionLocked(tx)
}

func (tv *txMemoryView) ListByAccountAndPeriod(_ context.Context, tenantID ledger.TenantID, account ledger.AccountID, p ledger.Period) ([]ledger.Transaction, error) {
	return tv.parent.listByAccountAndPeriodLocked(tenantID, account, p)
}

func (tv *txMemoryView) MarkReconciled(_ context.Context, tenantID ledger.TenantID, ids []ledger.TransactionID, reconciled bool) error {
	return tv.parent.markReconciledLocked(tenantID, ids, reconciled)
}

func (tv *txMemoryView) SetTransactionReference(_ context.Context, tenantID ledger.TenantID, id ledger.TransactionID, reference string) error {
	return tv.parent.setTransactionReferenceLocked(tenantID, id, reference)
}

func (tv *txMemoryView) GetPayment(_ context.Context, tenantID ledger.TenantID, id ledger.PaymentID) (*ledger.Payment, error) {
	return tv.parent.getPaymentLocked(tenantID, id)
}

func (tv *txMemoryView) SavePayment(_ context.Context, p ledger.Payment) error {
	return tv.parent.savePaymentLocked(p)
}

func (tv *txMemoryView) MarkPaymentReversed(_ context.Context, tenantID ledger.TenantID, id ledger.PaymentID, reversedAt time.Time, reason string) error {
	return tv.parent.markPaymentReversedLocked(tenantID, id, reversedAt, reason)
}

func (tv *txMemoryView) ListPaymentsByInvoice(_ context.Context, tenantID ledger.TenantID, id ledger.InvoiceID) ([]ledger.Payment, error) {
	return tv.parent.listPaymentsByInvoiceLocked(tenantID, id)
}

func (tv *txMemoryView) ListPaymentsByTransaction(_ context.Context, tenantID ledger.TenantID, id ledger.TransactionID) ([]ledger.Payment, error) {
	return tv.parent.listPaymentsByTransactionLocked(tenantID, id)
}

func (tv *txMemoryView) GetReconciliation(_ context.Context, tenantID ledger.TenantID, account ledger.AccountID, p ledger.Period) (*ledger.Reconciliation, error) {
	return tv.parent.getReconciliationLocked(tenantID, account, p)
}

func (tv *txMemoryView) SaveReconciliation(_ context.Context, r ledger.Reconciliation) error {
	return tv.parent.saveReconciliationLocked(r)
}

func (tv *txMemoryView) ListReconciliations(_ context.Context, tenantID ledger.TenantID, account ledger.AccountID) ([]ledger.Reconciliation, error) {
	return tv.parent.listReconciliationsLocked(tenantID, account)
}

func (tv *txMemoryView) AppendAudit(_ context.Context, entry ledger.AuditEntry) error {
	return tv.parent.appendAuditLocked(entry)
}

func (tv *txMemoryView) QueryAudit(_ context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	return tv.parent.queryAuditLocked(filter)
}

func (tv *txMemoryView) EnqueueSync(_ context.Context, rec ledger.SyncRecord) error {
	return tv.parent.enqueueSyncLocked(rec)
}

func (tv *txMemoryView) ListSyncByStatus(_ context.Context, status ledger.SyncStatus, limit int) ([]ledger.SyncRecord, error) {
	return tv.parent.listSyncByStatusLocked(status, limit)
}

func (tv *txMemoryView) UpdateSync(_ context.Context, rec ledger.SyncRecord) error {
	return tv.parent.updateSyncLocked(rec)
}
