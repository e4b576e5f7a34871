/*
Package sqlite provides a SQLite-backed ledger.Store.

PURPOSE:
  The default embedded store. A single file (or ":memory:") holds the
  three ledger tables; every lifecycle operation runs in one SQL
  transaction so balance and ledger rows commit together.

KEY TABLES:
  suppliers:       One row per supplier, including total_outstanding
  procurements:    Purchases; line items, payment and delivery as JSON
  supplier_ledger: Purchase and payment entries (never deleted)

MONEY AND TIME:
  Amounts are stored as decimal TEXT ("1250.50") to avoid float drift.
  Timestamps are stored as RFC3339Nano in UTC.

CONCURRENCY:
  SQLite allows one writer. The store holds a sync.RWMutex across each
  transaction and keeps a single connection open, so ":memory:" databases
  are shared by every query. SQLITE_BUSY and SQLITE_LOCKED surface as
  ledger.ErrConcurrentModification, which the service retries.

WAL MODE:
  Opened with WAL so readers in other processes do not block the writer.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := ledger.NewService(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/storetest: Contract suite
  - store/postgres: Server deployment
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/supplier-ledger/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.Store = (*Store)(nil)

// New opens (and migrates) a SQLite database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the schema. Safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS suppliers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		bank_name TEXT NOT NULL DEFAULT '',
		bank_account TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		total_outstanding TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_suppliers_name ON suppliers(name);

	CREATE TABLE IF NOT EXISTS procurements (
		id TEXT PRIMARY KEY,
		reference TEXT NOT NULL UNIQUE,
		supplier_id TEXT NOT NULL REFERENCES suppliers(id),
		supplier_name TEXT NOT NULL,
		purchase_date TEXT NOT NULL,
		items_json TEXT NOT NULL,
		grand_total TEXT NOT NULL,
		is_paid INTEGER NOT NULL DEFAULT 0,
		payment_json TEXT,
		is_delivered INTEGER NOT NULL DEFAULT 0,
		delivery_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_procurements_supplier
		ON procurements(supplier_id, purchase_date DESC);

	-- Ledger rows outlive their procurement, so procurement_id is not a foreign key.
	CREATE TABLE IF NOT EXISTS supplier_ledger (
		id TEXT PRIMARY KEY,
		supplier_id TEXT NOT NULL REFERENCES suppliers(id),
		supplier_name TEXT NOT NULL,
		procurement_id TEXT,
		entry_type TEXT NOT NULL CHECK (entry_type IN ('purchase', 'payment')),
		amount_due TEXT NOT NULL DEFAULT '0',
		amount_paid TEXT NOT NULL DEFAULT '0',
		running_balance TEXT NOT NULL DEFAULT '0',
		reference TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		sort_order INTEGER NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		deleted_at TEXT,
		original_amount TEXT NOT NULL DEFAULT '0',
		void_reason TEXT NOT NULL DEFAULT '',
		transferred_to TEXT NOT NULL DEFAULT '',
		entry_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_supplier_ledger_supplier
		ON supplier_ledger(supplier_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_supplier_ledger_procurement
		ON supplier_ledger(procurement_id) WHERE procurement_id IS NOT NULL;
	`

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// STORE (reads outside a transaction)
// =============================================================================

func (s *Store) GetSupplier(ctx context.Context, id ledger.SupplierID) (ledger.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.GetSupplier(ctx, id)
}

func (s *Store) ListSuppliers(ctx context.Context) ([]ledger.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListSuppliers(ctx)
}

func (s *Store) GetProcurement(ctx context.Context, id ledger.ProcurementID) (ledger.Procurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.GetProcurement(ctx, id)
}

func (s *Store) ListProcurements(ctx context.Context, filter ledger.ProcurementFilter) ([]ledger.Procurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListProcurements(ctx, filter)
}

func (s *Store) EntriesBySupplier(ctx context.Context, id ledger.SupplierID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.EntriesBySupplier(ctx, id)
}

func (s *Store) EntriesByProcurement(ctx context.Context, id ledger.ProcurementID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.EntriesByProcurement(ctx, id)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(ctx, queries{sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements ledger.Tx over any querier.
type queries struct {
	q querier
}

// =============================================================================
// SUPPLIERS
// =============================================================================

const supplierColumns = `id, name, bank_name, bank_account, notes, total_outstanding, created_at, updated_at`

func (qs queries) SaveSupplier(ctx context.Context, sup ledger.Supplier) error {
	_, err := qs.q.ExecContext(ctx, `
		INSERT INTO suppliers (`+supplierColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			bank_name = excluded.bank_name,
			bank_account = excluded.bank_account,
			notes = excluded.notes,
			total_outstanding = excluded.total_outstanding,
			updated_at = excluded.updated_at
	`,
		sup.ID, sup.Name, sup.BankName, sup.BankAccount, sup.Notes,
		sup.TotalOutstanding.String(), formatTime(sup.CreatedAt), formatTime(sup.UpdatedAt),
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to save supplier: %w", err))
	}
	return nil
}

func (qs queries) GetSupplier(ctx context.Context, id ledger.SupplierID) (ledger.Supplier, error) {
	row := qs.q.QueryRowContext(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = ?`, id)
	sup, err := scanSupplier(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Supplier{}, ledger.SupplierNotFound(id)
	}
	return sup, err
}

func (qs queries) ListSuppliers(ctx context.Context) ([]ledger.Supplier, error) {
	rows, err := qs.q.QueryContext(ctx, `SELECT `+supplierColumns+` FROM suppliers ORDER BY name, id`)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query suppliers: %w", err))
	}
	defer rows.Close()

	var out []ledger.Supplier
	for rows.Next() {
		sup, err := scanSupplier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sup)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSupplier(row scanner) (ledger.Supplier, error) {
	var (
		sup                  ledger.Supplier
		outstanding          string
		createdAt, updatedAt string
	)
	err := row.Scan(&sup.ID, &sup.Name, &sup.BankName, &sup.BankAccount, &sup.Notes,
		&outstanding, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sup, err
		}
		return sup, fmt.Errorf("failed to scan supplier: %w", err)
	}
	if sup.TotalOutstanding, err = decimal.NewFromString(outstanding); err != nil {
		return sup, fmt.Errorf("supplier %s: bad total_outstanding %q: %w", sup.ID, outstanding, err)
	}
	sup.CreatedAt = parseTime(createdAt)
	sup.UpdatedAt = parseTime(updatedAt)
	return sup, nil
}

// =============================================================================
// PROCUREMENTS
// =============================================================================

const procurementColumns = `id, reference, supplier_id, supplier_name, purchase_date, items_json, grand_total,
	is_paid, payment_json, is_delivered, delivery_json, created_at, updated_at`

func (qs queries) SaveProcurement(ctx context.Context, p ledger.Procurement) error {
	itemsJSON, err := json.Marshal(p.Items)
	if err != nil {
		return fmt.Errorf("failed to encode items: %w", err)
	}
	paymentJSON, err := optionalJSON(p.Payment)
	if err != nil {
		return fmt.Errorf("failed to encode payment: %w", err)
	}
	deliveryJSON, err := optionalJSON(p.Delivery)
	if err != nil {
		return fmt.Errorf("failed to encode delivery: %w", err)
	}

	_, err = qs.q.ExecContext(ctx, `
		INSERT INTO procurements (`+procurementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			reference = excluded.reference,
			supplier_id = excluded.supplier_id,
			supplier_name = excluded.supplier_name,
			purchase_date = excluded.purchase_date,
			items_json = excluded.items_json,
			grand_total = excluded.grand_total,
			is_paid = excluded.is_paid,
			payment_json = excluded.payment_json,
			is_delivered = excluded.is_delivered,
			delivery_json = excluded.delivery_json,
			updated_at = excluded.updated_at
	`,
		p.ID, p.Reference, p.SupplierID, p.SupplierName, formatTime(p.PurchaseDate),
		string(itemsJSON), p.GrandTotal.String(),
		p.IsPaid, paymentJSON, p.IsDelivered, deliveryJSON,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to save procurement: %w", err))
	}
	return nil
}

func (qs queries) GetProcurement(ctx context.Context, id ledger.ProcurementID) (ledger.Procurement, error) {
	row := qs.q.QueryRowContext(ctx, `SELECT `+procurementColumns+` FROM procurements WHERE id = ?`, id)
	p, err := scanProcurement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Procurement{}, ledger.ProcurementNotFound(id)
	}
	return p, err
}

func (qs queries) ListProcurements(ctx context.Context, filter ledger.ProcurementFilter) ([]ledger.Procurement, error) {
	query := `SELECT ` + procurementColumns + ` FROM procurements`
	var args []any
	if filter.SupplierID != "" {
		query += ` WHERE supplier_id = ?`
		args = append(args, filter.SupplierID)
	}
	query += ` ORDER BY purchase_date DESC, created_at DESC, id`

	rows, err := qs.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query procurements: %w", err))
	}
	defer rows.Close()

	var out []ledger.Procurement
	for rows.Next() {
		p, err := scanProcurement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (qs queries) DeleteProcurement(ctx context.Context, id ledger.ProcurementID) error {
	res, err := qs.q.ExecContext(ctx, `DELETE FROM procurements WHERE id = ?`, id)
	if err != nil {
		return mapError(fmt.Errorf("failed to delete procurement: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ProcurementNotFound(id)
	}
	return nil
}

func scanProcurement(row scanner) (ledger.Procurement, error) {
	var (
		p                         ledger.Procurement
		purchaseDate, grandTotal  string
		itemsJSON                 string
		paymentJSON, deliveryJSON sql.NullString
		createdAt, updatedAt      string
	)
	err := row.Scan(&p.ID, &p.Reference, &p.SupplierID, &p.SupplierName, &purchaseDate,
		&itemsJSON, &grandTotal, &p.IsPaid, &paymentJSON, &p.IsDelivered, &deliveryJSON,
		&createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan procurement: %w", err)
	}

	if p.GrandTotal, err = decimal.NewFromString(grandTotal); err != nil {
		return p, fmt.Errorf("procurement %s: bad grand_total %q: %w", p.ID, grandTotal, err)
	}
	if err := json.Unmarshal([]byte(itemsJSON), &p.Items); err != nil {
		return p, fmt.Errorf("procurement %s: bad items_json: %w", p.ID, err)
	}
	if paymentJSON.Valid {
		p.Payment = &ledger.PaymentInfo{}
		if err := json.Unmarshal([]byte(paymentJSON.String), p.Payment); err != nil {
			return p, fmt.Errorf("procurement %s: bad payment_json: %w", p.ID, err)
		}
	}
	if deliveryJSON.Valid {
		p.Delivery = &ledger.DeliveryInfo{}
		if err := json.Unmarshal([]byte(deliveryJSON.String), p.Delivery); err != nil {
			return p, fmt.Errorf("procurement %s: bad delivery_json: %w", p.ID, err)
		}
	}
	p.PurchaseDate = parseTime(purchaseDate)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

const entryColumns = `id, supplier_id, supplier_name, procurement_id, entry_type, amount_due, amount_paid,
	running_balance, reference, description, sort_order, is_deleted, deleted_at,
	original_amount, void_reason, transferred_to, entry_date, created_at`

func (qs queries) SaveEntry(ctx context.Context, e ledger.Entry) error {
	var deletedAt sql.NullString
	if e.DeletedAt != nil {
		deletedAt = sql.NullString{String: formatTime(*e.DeletedAt), Valid: true}
	}

	_, err := qs.q.ExecContext(ctx, `
		INSERT INTO supplier_ledger (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount_due = excluded.amount_due,
			amount_paid = excluded.amount_paid,
			running_balance = excluded.running_balance,
			description = excluded.description,
			is_deleted = excluded.is_deleted,
			deleted_at = excluded.deleted_at,
			original_amount = excluded.original_amount,
			void_reason = excluded.void_reason,
			transferred_to = excluded.transferred_to,
			entry_date = excluded.entry_date
	`,
		e.ID, e.SupplierID, e.SupplierName, nullString(string(e.ProcurementID)), e.Type,
		e.AmountDue.String(), e.AmountPaid.String(), e.RunningBalance.String(),
		e.Reference, e.Description, e.SortOrder, e.IsDeleted, deletedAt,
		e.OriginalAmount.String(), e.VoidReason, e.TransferredTo,
		formatTime(e.EntryDate), formatTime(e.CreatedAt),
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to save ledger entry: %w", err))
	}
	return nil
}

func (qs queries) EntriesBySupplier(ctx context.Context, id ledger.SupplierID) ([]ledger.Entry, error) {
	return qs.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM supplier_ledger WHERE supplier_id = ? ORDER BY created_at, id`, id)
}

func (qs queries) EntriesByProcurement(ctx context.Context, id ledger.ProcurementID) ([]ledger.Entry, error) {
	return qs.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM supplier_ledger WHERE procurement_id = ? ORDER BY created_at, id`, id)
}

func (qs queries) queryEntries(ctx context.Context, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := qs.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query ledger: %w", err))
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row scanner) (ledger.Entry, error) {
	var (
		e                              ledger.Entry
		procurementID, deletedAt       sql.NullString
		amountDue, amountPaid, running string
		original, entryDate, createdAt string
	)
	err := row.Scan(&e.ID, &e.SupplierID, &e.SupplierName, &procurementID, &e.Type,
		&amountDue, &amountPaid, &running, &e.Reference, &e.Description, &e.SortOrder,
		&e.IsDeleted, &deletedAt, &original, &e.VoidReason, &e.TransferredTo,
		&entryDate, &createdAt)
	if err != nil {
		return e, fmt.Errorf("failed to scan ledger entry: %w", err)
	}

	for _, f := range []struct {
		dst *decimal.Decimal
		raw string
		col string
	}{
		{&e.AmountDue, amountDue, "amount_due"},
		{&e.AmountPaid, amountPaid, "amount_paid"},
		{&e.RunningBalance, running, "running_balance"},
		{&e.OriginalAmount, original, "original_amount"},
	} {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return e, fmt.Errorf("ledger entry %s: bad %s %q: %w", e.ID, f.col, f.raw, err)
		}
	}

	e.ProcurementID = ledger.ProcurementID(procurementID.String)
	if deletedAt.Valid {
		at := parseTime(deletedAt.String)
		e.DeletedAt = &at
	}
	e.EntryDate = parseTime(entryDate)
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func optionalJSON[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// mapError turns SQLite contention into ledger.ErrConcurrentModification.
// A duplicate procurement reference is treated the same way: the retried
// operation generates a fresh reference.
func mapError(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.Code == sqlite3.ErrBusy, se.Code == sqlite3.ErrLocked:
		return fmt.Errorf("%w: %v", ledger.ErrConcurrentModification, err)
	case se.ExtendedCode == sqlite3.ErrConstraintUnique:
		return fmt.Errorf("%w: duplicate key: %v", ledger.ErrConcurrentModification, err)
	default:
		return err
	}
}
