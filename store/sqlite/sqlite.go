/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.TxStore over a single SQLite file. In production the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  ledger.Store:   Invoices, bank transactions, payments, reconciliations,
                  audit log, sync queue
  ledger.TxStore: WithTx wrapping all of the above in one transaction

TENANCY:
  Every table carries tenant_id and every statement filters on it.
  Primary keys are (tenant_id, id) so the same external id can exist
  under two tenants without collision.

MONEY:
  All amounts are INTEGER cents. CHECK constraints keep invoice balances
  inside 0 <= amount_paid <= total and payment amounts positive, so a
  bug upstream cannot persist corrupt books.

TRANSACTIONS:
  The connection opens with _txlock=immediate: BEGIN takes the write
  lock up front, so a WithTx body never fails a lock upgrade halfway
  through its writes. A sync.RWMutex additionally serializes writers
  in-process, same as the in-memory store.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := allocation.NewEngine(store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions and atomicity contract
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/crechebooks/ledger-engine/ledger"
)

const dateLayout = "2006-01-02"

// timestampLayout pads fractional seconds to fixed width so stored
// timestamps compare lexicographically in range scans.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: the store serializes writers itself, and a
	// :memory: database only exists on the connection that created it.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Invoices: amount owed per family, with the running paid total
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		total_cents INTEGER NOT NULL,
		amount_paid_cents INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		reference TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id),
		CHECK (total_cents >= 0),
		CHECK (amount_paid_cents >= 0 AND amount_paid_cents <= total_cents)
	);

	-- Bank ledger lines. Dates are stored as YYYY-MM-DD so period
	-- range scans compare lexicographically.
	CREATE TABLE IF NOT EXISTS bank_transactions (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		account TEXT NOT NULL,
		date TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		is_credit BOOLEAN NOT NULL,
		reference TEXT,
		is_reconciled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	-- Period listing is the reconciliation hot path
	CREATE INDEX IF NOT EXISTS idx_bank_transactions_account_date
		ON bank_transactions(tenant_id, account, date);

	-- Payments: one allocation of a transaction against an invoice.
	-- Never updated except for the reversal columns, never deleted.
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		invoice_id TEXT NOT NULL,
		amount_cents INTEGER NOT NULL CHECK (amount_cents > 0),
		classification TEXT NOT NULL,
		actor_type TEXT NOT NULL,
		confidence REAL,
		payment_date TEXT NOT NULL,
		reference TEXT,
		is_reversed BOOLEAN NOT NULL DEFAULT FALSE,
		reversed_at TEXT,
		reversal_reason TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_payments_invoice
		ON payments(tenant_id, invoice_id);
	-- Unallocated-remainder lookups sum payments per transaction
	CREATE INDEX IF NOT EXISTS idx_payments_transaction
		ON payments(tenant_id, transaction_id);

	-- Reconciliations: one row per (tenant, account, period) window
	CREATE TABLE IF NOT EXISTS reconciliations (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		account TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		opening_balance_cents INTEGER NOT NULL,
		total_credits_cents INTEGER NOT NULL,
		total_debits_cents INTEGER NOT NULL,
		calculated_closing_cents INTEGER NOT NULL,
		stated_closing_cents INTEGER NOT NULL,
		discrepancy_cents INTEGER NOT NULL,
		status TEXT NOT NULL,
		transaction_count INTEGER NOT NULL DEFAULT 0,
		completed_at TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id),
		UNIQUE (tenant_id, account, period_start, period_end)
	);

	-- Audit log (append-only; no UPDATE or DELETE statements exist)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_tenant_time
		ON audit_log(tenant_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_entity
		ON audit_log(tenant_id, entity_type, entity_id);

	-- Outbox for the external accounting-ledger sync
	CREATE TABLE IF NOT EXISTS ledger_sync_queue (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		payment_id TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sync_queue_status
		ON ledger_sync_queue(status, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// queryer is satisfied by both *sql.DB and *sql.Tx, so every statement
// below runs identically inside and outside WithTx. Reads inside a
// transaction must go through the transaction or they would not see its
// own uncommitted writes.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// INVOICES (ledger.InvoiceStore)
// =============================================================================

func (s *Store) GetInvoice(ctx context.Context, tenantID ledger.TenantID, id ledger.InvoiceID) (*ledger.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getInvoice(ctx, s.db, tenantID, id)
}

func getInvoice(ctx context.Context, q queryer, tenantID ledger.TenantID, id ledger.InvoiceID) (*ledger.Invoice, error) {
	var (
		inv       ledger.Invoice
		reference sql.NullString
		updatedAt string
	)

	err := q.QueryRowContext(ctx,
		`SELECT id, tenant_id, total_cents, amount_paid_cents, status, reference, updated_at
		 FROM invoices WHERE tenant_id = ? AND id = ?`,
		tenantID, id,
	).Scan(&inv.ID, &inv.TenantID, &inv.Total, &inv.AmountPaid, &inv.Status, &reference, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, &ledger.NotFoundError{Kind: "invoice", TenantID: tenantID, ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	inv.Reference = reference.String
	inv.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &inv, nil
}

func (s *Store) PutInvoice(ctx context.Context, inv ledger.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putInvoice(ctx, s.db, inv)
}

func putInvoice(ctx context.Context, q queryer, inv ledger.Invoice) error {
	query := `
		INSERT INTO invoices (id, tenant_id, total_cents, amount_paid_cents, status, reference, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			total_cents = excluded.total_cents,
			amount_paid_cents = excluded.amount_paid_cents,
			status = excluded.status,
			reference = excluded.reference,
			updated_at = excluded.updated_at
	`

	_, err := q.ExecContext(ctx, query,
		inv.ID, inv.TenantID, int64(inv.Total), int64(inv.AmountPaid),
		string(inv.Status), nullString(inv.Reference),
		orNow(inv.UpdatedAt).Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to put invoice: %w", err)
	}
	return nil
}

func (s *Store) UpdateInvoiceBalance(ctx context.Context, tenantID ledger.TenantID, id ledger.InvoiceID, amountPaid ledger.Cents, status ledger.InvoiceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateInvoiceBalance(ctx, s.db, tenantID, id, amountPaid, status)
}

func updateInvoiceBalance(ctx context.Context, q queryer, tenantID ledger.TenantID, id ledger.InvoiceID, amountPaid ledger.Cents, status ledger.InvoiceStatus) error {
	res, err := q.ExecContext(ctx,
		`UPDATE invoices SET amount_paid_cents = ?, status = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ?`,
		int64(amountPaid), string(status), time.Now().UTC().Format(time.RFC3339),
		tenantID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update invoice balance: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return &ledger.NotFoundError{Kind: "invoice", TenantID: tenantID, ID: string(id)}
	}
	return nil
}

// =============================================================================
// BANK TRANSACTIONS (ledger.TransactionStore)
// =============================================================================

func (s *Store) GetTransaction(ctx context.Context, tenantID ledger.TenantID, id ledger.TransactionID) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransaction(ctx, s.db, tenantID, id)
}

func getTransaction(ctx context.Context, q queryer, tenantID ledger.TenantID, id ledger.TransactionID) (*ledger.Transaction, error) {
	txs, err := queryTransactions(ctx, q,
		selectTransaction+` WHERE tenant_id = ? AND id = ?`,
		tenantID, id,
	)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, &ledger.NotFoundError{Kind: "transaction", TenantID: tenantID, ID: string(id)}
	}
	return &txs[0], nil
}

func (s *Store) PutTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putTransaction(ctx, s.db, tx)
}

func putTransaction(ctx context.Context, q queryer, tx ledger.Transaction) error {
	query := `
		INSERT INTO bank_transactions
		(id, tenant_id, account, date, amount_cents, is_credit, reference, is_reconciled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			account = excluded.account,
			date = excluded.date,
			amount_cents = excluded.amount_cents,
			is_credit = excluded.is_credit,
			reference = excluded.reference,
			is_reconciled = excluded.is_reconciled
	`

	_, err := q.ExecContext(ctx, query,
		tx.ID, tx.TenantID, tx.Account,
		ledger.Day(tx.Date).Format(dateLayout),
		int64(tx.Amount), tx.IsCredit, nullString(tx.Reference), tx.IsReconciled,
		orNow(tx.CreatedAt).Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to put transaction: %w", err)
	}
	return nil
}

func (s *Store) ListByAccountAndPeriod(ctx context.Context, tenantID ledger.TenantID, account ledger.AccountID, p ledger.Period) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listByAccountAndPeriod(ctx, s.db, tenantID, account, p)
}

func listByAccountAndPeriod(ctx context.Context, q queryer, tenantID ledger.TenantID, account ledger.AccountID, p ledger.Period) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, q,
		selectTransaction+`
		 WHERE tenant_id = ? AND account = ? AND date >= ? AND date <= ?
		 ORDER BY date ASC, created_at ASC`,
		tenantID, account,
		p.Start.Format(dateLayout), p.End.Format(dateLayout),
	)
}

func (s *Store) MarkReconciled(ctx context.Context, tenantID ledger.TenantID, ids []ledger.TransactionID, reconciled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markReconciled(ctx, s.db, tenantID, ids, reconciled)
}

func markReconciled(ctx context.Context, q queryer, tenantID ledger.TenantID, ids []ledger.TransactionID, reconciled bool) error {
	for _, id := range ids {
		res, err := q.ExecContext(ctx,
			`UPDATE bank_transactions SET is_reconciled = ? WHERE tenant_id = ? AND id = ?`,
			reconciled, tenantID, id,
		)
		if err != nil {
			return fmt.Errorf("failed to mark transaction reconciled: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return &ledger.NotFoundError{Kind: "transaction", TenantID: tenantID, ID: string(id)}
		}
	}
	return nil
}

func (s *Store) SetTransactionReference(ctx context.Context, tenantID ledger.TenantID, id ledger.TransactionID, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setTransactionReference(ctx, s.db, tenantID, id, reference)
}

func setTransactionReference(ctx context.Context, q queryer, tenantID ledger.TenantID, id ledger.TransactionID, reference string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE bank_transactions SET reference = ? WHERE tenant_id = ? AND id = ?`,
		nullString(reference), tenantID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set transaction reference: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return &ledger.NotFoundError{Kind: "transaction", TenantID: tenantID, ID: string(id)}
	}
	return nil
}

const selectTransaction = `
	SELECT id, tenant_id, account, date, amount_cents, is_credit, reference, is_reconciled, created_at
	FROM bank_transactions`

func queryTransactions(ctx context.Context, q queryer, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx        ledger.Transaction
		date      string
		reference sql.NullString
		createdAt string
	)

	err := rows.Scan(&tx.ID, &tx.TenantID, &tx.Account, &date,
		&tx.Amount, &tx.IsCredit, &reference, &tx.IsReconciled, &createdAt)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.Date, _ = time.Parse(dateLayout, date)
	tx.Reference = reference.String
	tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return tx, nil
}

// =============================================================================
// PAYMENTS (ledger.PaymentStore)
// =============================================================================

func (s *Store) GetPayment(ctx context.Context, tenantID ledger.TenantID, id ledger.PaymentID) (*ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPayment(ctx, s.db, tenantID, id)
}

func getPayment(ctx context.Context, q queryer, tenantID ledger.TenantID, id ledger.PaymentID) (*ledger.Payment, error) {
	payments, err := queryPayments(ctx, q,
		selectPayment+` WHERE tenant_id = ? AND id = ?`,
		tenantID, id,
	)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, &ledger.NotFoundError{Kind: "payment", TenantID: tenantID, ID: string(id)}
	}
	return &payments[0], nil
}

func (s *Store) SavePayment(ctx context.Context, p ledger.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return savePayment(ctx, s.db, p)
}

func savePayment(ctx context.Context, q queryer, p ledger.Payment) error {
	query := `
		INSERT INTO payments
		(id, tenant_id, transaction_id, invoice_id, amount_cents, classification, actor_type,
		 confidence, payment_date, reference, is_reversed, reversed_at, reversal_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var confidence sql.NullFloat64
	if p.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *p.Confidence, Valid: true}
	}
	var reversedAt *string
	if p.ReversedAt != nil {
		t := p.ReversedAt.UTC().Format(time.RFC3339)
		reversedAt = &t
	}

	_, err := q.ExecContext(ctx, query,
		p.ID, p.TenantID, p.TransactionID, p.InvoiceID,
		int64(p.Amount), string(p.Classification), string(p.ActorType),
		confidence,
		ledger.Day(p.PaymentDate).Format(dateLayout),
		nullString(p.Reference),
		p.IsReversed, reversedAt, nullString(p.ReversalReason),
		orNow(p.CreatedAt).Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("payment %s already exists", p.ID)
		}
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

func (s *Store) MarkPaymentReversed(ctx context.Context, tenantID ledger.TenantID, id ledger.PaymentID, reversedAt time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markPaymentReversed(ctx, s.db, tenantID, id, reversedAt, reason)
}

func markPaymentReversed(ctx context.Context, q queryer, tenantID ledger.TenantID, id ledger.PaymentID, reversedAt time.Time, reason string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE payments SET is_reversed = TRUE, reversed_at = ?, reversal_reason = ?
		 WHERE tenant_id = ? AND id = ?`,
		reversedAt.UTC().Format(time.RFC3339), reason, tenantID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark payment reversed: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return &ledger.NotFoundError{Kind: "payment", TenantID: tenantID, ID: string(id)}
	}
	return nil
}

func (s *Store) ListPaymentsByInvoice(ctx context.Context, tenantID ledger.TenantID, id ledger.InvoiceID) ([]ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPaymentsByInvoice(ctx, s.db, tenantID, id)
}

func listPaymentsByInvoice(ctx context.Context, q queryer, tenantID ledger.TenantID, id ledger.InvoiceID) ([]ledger.Payment, error) {
	return queryPayments(ctx, q,
		selectPayment+`
		 WHERE tenant_id = ? AND invoice_id = ?
		 ORDER BY created_at ASC`,
		tenantID, id,
	)
}

func (s *Store) ListPaymentsByTransaction(ctx context.Context, tenantID ledger.TenantID, id ledger.TransactionID) ([]ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPaymentsByTransaction(ctx, s.db, tenantID, id)
}

func listPaymentsByTransaction(ctx context.Context, q queryer, tenantID ledger.TenantID, id ledger.TransactionID) ([]ledger.Payment, error) {
	return queryPayments(ctx, q,
		selectPayment+`
		 WHERE tenant_id = ? AND transaction_id = ?
		 ORDER BY created_at ASC`,
		tenantID, id,
	)
}

const selectPayment = `
	SELECT id, tenant_id, transaction_id, invoice_id, amount_cents, classification, actor_type,
	       confidence, payment_date, reference, is_reversed, reversed_at, reversal_reason, created_at
	FROM payments`

func queryPayments(ctx context.Context, q queryer, query string, args ...any) ([]ledger.Payment, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []ledger.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanPayment(rows *sql.Rows) (ledger.Payment, error) {
	var (
		p              ledger.Payment
		confidence     sql.NullFloat64
		paymentDate    string
		reference      sql.NullString
		reversedAt     sql.NullString
		reversalReason sql.NullString
		createdAt      string
	)

	err := rows.Scan(&p.ID, &p.TenantID, &p.TransactionID, &p.InvoiceID,
		&p.Amount, &p.Classification, &p.ActorType,
		&confidence, &paymentDate, &reference,
		&p.IsReversed, &reversedAt, &reversalReason, &createdAt)
	if err != nil {
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}

	if confidence.Valid {
		c := confidence.Float64
		p.Confidence = &c
	}
	p.PaymentDate, _ = time.Parse(dateLayout, paymentDate)
	p.Reference = reference.String
	if reversedAt.Valid {
		t, _ := time.Parse(time.RFC3339, reversedAt.String)
		p.ReversedAt = &t
	}
	p.ReversalReason = reversalReason.String
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return p, nil
}

// =============================================================================
// RECONCILIATIONS (ledger.ReconciliationStore)
// =============================================================================

func (s *Store) GetReconciliation(ctx context.Context, tenantID ledger.TenantID, account ledger.AccountID, p ledger.Period) (*ledger.Reconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getReconciliation(ctx, s.db, tenantID, account, p)
}

func getReconciliation(ctx context.Context, q queryer, tenantID ledger.TenantID, account ledger.AccountID, p ledger.Period) (*ledger.Reconciliation, error) {
	recs, err := queryReconciliations(ctx, q,
		selectReconciliation+`
		 WHERE tenant_id = ? AND account = ? AND period_start = ? AND period_end = ?`,
		tenantID, account,
		p.Start.Format(dateLayout), p.End.Format(dateLayout),
	)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

func (s *Store) SaveReconciliation(ctx context.Context, r ledger.Reconciliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveReconciliation(ctx, s.db, r)
}

func saveReconciliation(ctx context.Context, q queryer, r ledger.Reconciliation) error {
	query := `
		INSERT INTO reconciliations
		(id, tenant_id, account, period_start, period_end, opening_balance_cents,
		 total_credits_cents, total_debits_cents, calculated_closing_cents,
		 stated_closing_cents, discrepancy_cents, status, transaction_count,
		 completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, account, period_start, period_end) DO UPDATE SET
			opening_balance_cents = excluded.opening_balance_cents,
			total_credits_cents = excluded.total_credits_cents,
			total_debits_cents = excluded.total_debits_cents,
			calculated_closing_cents = excluded.calculated_closing_cents,
			stated_closing_cents = excluded.stated_closing_cents,
			discrepancy_cents = excluded.discrepancy_cents,
			status = excluded.status,
			transaction_count = excluded.transaction_count,
			completed_at = excluded.completed_at
	`

	var completedAt *string
	if r.CompletedAt != nil {
		t := r.CompletedAt.UTC().Format(time.RFC3339)
		completedAt = &t
	}

	_, err := q.ExecContext(ctx, query,
		r.ID, r.TenantID, r.Account,
		r.PeriodStart.Format(dateLayout), r.PeriodEnd.Format(dateLayout),
		int64(r.OpeningBalance), int64(r.TotalCredits), int64(r.TotalDebits),
		int64(r.CalculatedClosing), int64(r.StatedClosing), int64(r.Discrepancy),
		string(r.Status), r.TransactionCount,
		completedAt, orNow(r.CreatedAt).Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save reconciliation: %w", err)
	}
	return nil
}

func (s *Store) ListReconciliations(ctx context.Context, tenantID ledger.TenantID, account ledger.AccountID) ([]ledger.Reconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listReconciliations(ctx, s.db, tenantID, account)
}

func listReconciliations(ctx context.Context, q queryer, tenantID ledger.TenantID, account ledger.AccountID) ([]ledger.Reconciliation, error) {
	return queryReconciliations(ctx, q,
		selectReconciliation+`
		 WHERE tenant_id = ? AND account = ?
		 ORDER BY period_start DESC, period_end DESC`,
		tenantID, account,
	)
}

const selectReconciliation = `
	SELECT id, tenant_id, account, period_start, period_end, opening_balance_cents,
	       total_credits_cents, total_debits_cents, calculated_closing_cents,
	       stated_closing_cents, discrepancy_cents, status, transaction_count,
	       completed_at, created_at
	FROM reconciliations`

func queryReconciliations(ctx context.Context, q queryer, query string, args ...any) ([]ledger.Reconciliation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliations: %w", err)
	}
	defer rows.Close()

	var recs []ledger.Reconciliation
	for rows.Next() {
		var (
			r           ledger.Reconciliation
			periodStart string
			periodEnd   string
			completedAt sql.NullString
			createdAt   string
		)
		err := rows.Scan(&r.ID, &r.TenantID, &r.Account, &periodStart, &periodEnd,
			&r.OpeningBalance, &r.TotalCredits, &r.TotalDebits,
			&r.CalculatedClosing, &r.StatedClosing, &r.Discrepancy,
			&r.Status, &r.TransactionCount, &completedAt, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation: %w", err)
		}

		r.PeriodStart, _ = time.Parse(dateLayout, periodStart)
		r.PeriodEnd, _ = time.Parse(dateLayout, periodEnd)
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339, completedAt.String)
			r.CompletedAt = &t
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// =============================================================================
// AUDIT LOG (ledger.AuditLog)
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry ledger.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAudit(ctx, s.db, entry)
}

func appendAudit(ctx context.Context, q queryer, entry ledger.AuditEntry) error {
	detailJSON, _ := json.Marshal(entry.Detail)

	_, err := q.ExecContext(ctx,
		`INSERT INTO audit_log (id, tenant_id, timestamp, actor_id, action, entity_type, entity_id, detail_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TenantID,
		orNow(entry.Timestamp).Format(timestampLayout),
		entry.ActorID, string(entry.Action), entry.EntityType, entry.EntityID,
		string(detailJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) QueryAudit(ctx context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryAudit(ctx, s.db, filter)
}

func queryAudit(ctx context.Context, q queryer, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	query := `SELECT id, tenant_id, timestamp, actor_id, action, entity_type, entity_id, detail_json
	          FROM audit_log`

	var conds []string
	var args []any
	if filter.TenantID != "" {
		conds = append(conds, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.EntityType != "" {
		conds = append(conds, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		conds = append(conds, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.ActorID != "" {
		conds = append(conds, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if len(filter.Actions) > 0 {
		placeholders := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			placeholders[i] = "?"
			args = append(args, string(a))
		}
		conds = append(conds, "action IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.From != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.From.UTC().Format(timestampLayout))
	}
	if filter.To != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, filter.To.UTC().Format(timestampLayout))
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []ledger.AuditEntry
	for rows.Next() {
		var (
			e          ledger.AuditEntry
			timestamp  string
			detailJSON sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &timestamp, &e.ActorID,
			&e.Action, &e.EntityType, &e.EntityID, &detailJSON); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		e.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		if detailJSON.Valid && detailJSON.String != "" {
			json.Unmarshal([]byte(detailJSON.String), &e.Detail)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// SYNC QUEUE (ledger.SyncQueue)
// =============================================================================

func (s *Store) EnqueueSync(ctx context.Context, rec ledger.SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return enqueueSync(ctx, s.db, rec)
}

func enqueueSync(ctx context.Context, q queryer, rec ledger.SyncRecord) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO ledger_sync_queue (id, tenant_id, payment_id, status, attempts, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TenantID, rec.PaymentID, string(rec.Status),
		rec.Attempts, nullString(rec.LastError),
		orNow(rec.CreatedAt).Format(time.RFC3339),
		orNow(rec.UpdatedAt).Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("sync record %s already exists", rec.ID)
		}
		return fmt.Errorf("failed to enqueue sync record: %w", err)
	}
	return nil
}

func (s *Store) ListSyncByStatus(ctx context.Context, status ledger.SyncStatus, limit int) ([]ledger.SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSyncByStatus(ctx, s.db, status, limit)
}

func listSyncByStatus(ctx context.Context, q queryer, status ledger.SyncStatus, limit int) ([]ledger.SyncRecord, error) {
	query := `SELECT id, tenant_id, payment_id, status, attempts, last_error, created_at, updated_at
	          FROM ledger_sync_queue
	          WHERE status = ?
	          ORDER BY created_at ASC`
	args := []any{string(status)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync queue: %w", err)
	}
	defer rows.Close()

	var recs []ledger.SyncRecord
	for rows.Next() {
		var (
			rec       ledger.SyncRecord
			lastError sql.NullString
			createdAt string
			updatedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.PaymentID, &rec.Status,
			&rec.Attempts, &lastError, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync record: %w", err)
		}

		rec.LastError = lastError.String
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *Store) UpdateSync(ctx context.Context, rec ledger.SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateSync(ctx, s.db, rec)
}

func updateSync(ctx context.Context, q queryer, rec ledger.SyncRecord) error {
	res, err := q.ExecContext(ctx,
		`UPDATE ledger_sync_queue SET status = ?, attempts = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		string(rec.Status), rec.Attempts, nullString(rec.LastError),
		time.Now().UTC().Format(time.RFC3339), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync record: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("sync record %s does not exist", rec.ID)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every statement through the open *sql.Tx. The parent's
// mutex is held for the whole WithTx call, so no locking here.
type txStore struct {
	q queryer
}

func (ts *txStore) GetInvoice(ctx context.Context, tenantID ledger.TenantID, id ledger.InvoiceID) (*ledger.Invoice, error) {
	return getInvoice(ctx, ts.q, tenantID, id)
}

func (ts *txStore) PutInvoice(ctx context.Context, inv ledger.Invoice) error {
	return putInvoice(ctx, ts.q, inv)
}

func (ts *txStore) UpdateInvoiceBalance(ctx context.Context, tenantID ledger.TenantID, id ledger.InvoiceID, amountPaid ledger.Cents, status ledger.InvoiceStatus) error {
	return updateInvoiceBalance(ctx, ts.q, tenantID, id, amountPaid, status)
}

func (ts *txStore) GetTransaction(ctx context.Context, tenantID ledger.TenantID, id ledger.TransactionID) (*ledger.Transaction, error) {
	return getTransaction(ctx, ts.q, tenantID, id)
}

func (ts *txStore) PutTransaction(ctx context.Context, tx ledger.Transaction) error {
	return putTransaction(ctx, ts.q, tx)
}

func (ts *txStore) ListByAccountAndPeriod(ctx context.Context, tenantID ledger.TenantID, account ledger.AccountID, p ledger.Period) ([]ledger.Transaction, error) {
	return listByAccountAndPeriod(ctx, ts.q, tenantID, account, p)
}

func (ts *txStore) MarkReconciled(ctx context.Context, tenantID ledger.TenantID, ids []ledger.TransactionID, reconciled bool) error {
	return markReconciled(ctx, ts.q, tenantID, ids, reconciled)
}

func (ts *txStore) SetTransactionReference(ctx context.Context, tenantID ledger.TenantID, id ledger.TransactionID, reference string) error {
	return setTransactionReference(ctx, ts.q, tenantID, id, reference)
}

func (ts *txStore) GetPayment(ctx context.Context, tenantID ledger.TenantID, id ledger.PaymentID) (*ledger.Payment, error) {
	return getPayment(ctx, ts.q, tenantID, id)
}

func (ts *txStore) SavePayment(ctx context.Context, p ledger.Payment) error {
	return savePayment(ctx, ts.q, p)
}

func (ts *txStore) MarkPaymentReversed(ctx context.Context, tenantID ledger.TenantID, id ledger.PaymentID, reversedAt time.Time, reason string) error {
	return markPaymentReversed(ctx, ts.q, tenantID, id, reversedAt, reason)
}

func (ts *txStore) ListPaymentsByInvoice(ctx context.Context, tenantID ledger.TenantID, id ledger.InvoiceID) ([]ledger.Payment, error) {
	return listPaymentsByInvoice(ctx, ts.q, tenantID, id)
}

func (ts *txStore) ListPaymentsByTransaction(ctx context.Context, tenantID ledger.TenantID, id ledger.TransactionID) ([]ledger.Payment, error) {
	return listPaymentsByTransaction(ctx, ts.q, tenantID, id)
}

func (ts *txStore) GetReconciliation(ctx context.Context, tenantID ledger.TenantID, account ledger.AccountID, p ledger.Period) (*ledger.Reconciliation, error) {
	return getReconciliation(ctx, ts.q, tenantID, account, p)
}

func (ts *txStore) SaveReconciliation(ctx context.Context, r ledger.Reconciliation) error {
	return saveReconciliation(ctx, ts.q, r)
}

func (ts *txStore) ListReconciliations(ctx context.Context, tenantID ledger.TenantID, account ledger.AccountID) ([]ledger.Reconciliation, error) {
	return listReconciliations(ctx, ts.q, tenantID, account)
}

func (ts *txStore) AppendAudit(ctx context.Context, entry ledger.AuditEntry) error {
	return appendAudit(ctx, ts.q, entry)
}

func (ts *txStore) QueryAudit(ctx context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	return queryAudit(ctx, ts.q, filter)
}

func (ts *txStore) EnqueueSync(ctx context.Context, rec ledger.SyncRecord) error {
	return enqueueSync(ctx, ts.q, rec)
}

func (ts *txStore) ListSyncByStatus(ctx context.Context, status ledger.SyncStatus, limit int) ([]ledger.SyncRecord, error) {
	return listSyncByStatus(ctx, ts.q, status, limit)
}

func (ts *txStore) UpdateSync(ctx context.Context, rec ledger.SyncRecord) error {
	return updateSync(ctx, ts.q, rec)
}

var (
	_ ledger.TxStore = (*Store)(nil)
	_ ledger.Store   = (*txStore)(nil)
)

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"payments", "reconciliations", "bank_transactions", "invoices", "audit_log", "ledger_sync_queue"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
