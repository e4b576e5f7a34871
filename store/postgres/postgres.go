/*
Package postgres provides a PostgreSQL-backed ledger.Store on pgx/v5.

PURPOSE:
  Server deployments where several ledgerd instances share one database.

ISOLATION:
  Every WithTx runs SERIALIZABLE. Serialization failures (40001) and
  deadlocks (40P01) surface as ledger.ErrConcurrentModification and are
  retried by the service. A duplicate procurement reference (23505) is
  reported the same way so the retry draws a fresh reference.

MONEY:
  Amounts are NUMERIC(18,2). Values cross the wire as text to keep
  decimal.Decimal exact in both directions.

SEE ALSO:
  - store/sqlite: Embedded equivalent with the same schema shape
  - ledger/storetest: Contract suite
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/supplier-ledger/ledger"
)

// Store implements ledger.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ ledger.Store = (*Store)(nil)

// New connects to dsn and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return s, nil
}

// NewFromPool wraps an existing pool without migrating.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS suppliers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		bank_name TEXT NOT NULL DEFAULT '',
		bank_account TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		total_outstanding NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (total_outstanding >= 0),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_suppliers_name ON suppliers(name)`,
	`CREATE TABLE IF NOT EXISTS procurements (
		id TEXT PRIMARY KEY,
		reference TEXT NOT NULL UNIQUE,
		supplier_id TEXT NOT NULL REFERENCES suppliers(id),
		supplier_name TEXT NOT NULL,
		purchase_date TIMESTAMPTZ NOT NULL,
		items JSONB NOT NULL,
		grand_total NUMERIC(18,2) NOT NULL,
		is_paid BOOLEAN NOT NULL DEFAULT FALSE,
		payment JSONB,
		is_delivered BOOLEAN NOT NULL DEFAULT FALSE,
		delivery JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_procurements_supplier ON procurements(supplier_id, purchase_date DESC)`,
	`CREATE TABLE IF NOT EXISTS supplier_ledger (
		id TEXT PRIMARY KEY,
		supplier_id TEXT NOT NULL REFERENCES suppliers(id),
		supplier_name TEXT NOT NULL,
		procurement_id TEXT,
		entry_type TEXT NOT NULL CHECK (entry_type IN ('purchase', 'payment')),
		amount_due NUMERIC(18,2) NOT NULL DEFAULT 0,
		amount_paid NUMERIC(18,2) NOT NULL DEFAULT 0,
		running_balance NUMERIC(18,2) NOT NULL DEFAULT 0,
		reference TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		sort_order INT NOT NULL,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at TIMESTAMPTZ,
		original_amount NUMERIC(18,2) NOT NULL DEFAULT 0,
		void_reason TEXT NOT NULL DEFAULT '',
		transferred_to TEXT NOT NULL DEFAULT '',
		entry_date TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_supplier_ledger_supplier ON supplier_ledger(supplier_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_supplier_ledger_procurement ON supplier_ledger(procurement_id)`,
}

// Migrate creates the schema. Safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// WithTx wraps fn in a serializable transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapError(fmt.Errorf("begin tx: %w", err))
	}
	if err := fn(ctx, queries{tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *Store) GetSupplier(ctx context.Context, id ledger.SupplierID) (ledger.Supplier, error) {
	return queries{s.pool}.GetSupplier(ctx, id)
}

func (s *Store) ListSuppliers(ctx context.Context) ([]ledger.Supplier, error) {
	return queries{s.pool}.ListSuppliers(ctx)
}

func (s *Store) GetProcurement(ctx context.Context, id ledger.ProcurementID) (ledger.Procurement, error) {
	return queries{s.pool}.GetProcurement(ctx, id)
}

func (s *Store) ListProcurements(ctx context.Context, filter ledger.ProcurementFilter) ([]ledger.Procurement, error) {
	return queries{s.pool}.ListProcurements(ctx, filter)
}

func (s *Store) EntriesBySupplier(ctx context.Context, id ledger.SupplierID) ([]ledger.Entry, error) {
	return queries{s.pool}.EntriesBySupplier(ctx, id)
}

func (s *Store) EntriesByProcurement(ctx context.Context, id ledger.ProcurementID) ([]ledger.Entry, error) {
	return queries{s.pool}.EntriesByProcurement(ctx, id)
}

// =============================================================================
// QUERIES
// =============================================================================

// dbtx is satisfied by *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db dbtx
}

const supplierSelect = `SELECT id, name, bank_name, bank_account, notes, total_outstanding::text, created_at, updated_at FROM suppliers`

func (q queries) SaveSupplier(ctx context.Context, sup ledger.Supplier) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO suppliers (id, name, bank_name, bank_account, notes, total_outstanding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			bank_name = EXCLUDED.bank_name,
			bank_account = EXCLUDED.bank_account,
			notes = EXCLUDED.notes,
			total_outstanding = EXCLUDED.total_outstanding,
			updated_at = EXCLUDED.updated_at`,
		string(sup.ID), sup.Name, sup.BankName, sup.BankAccount, sup.Notes,
		sup.TotalOutstanding.String(), sup.CreatedAt, sup.UpdatedAt,
	)
	if err != nil {
		return mapError(fmt.Errorf("save supplier: %w", err))
	}
	return nil
}

func (q queries) GetSupplier(ctx context.Context, id ledger.SupplierID) (ledger.Supplier, error) {
	sup, err := scanSupplier(q.db.QueryRow(ctx, supplierSelect+` WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Supplier{}, ledger.SupplierNotFound(id)
	}
	return sup, err
}

func (q queries) ListSuppliers(ctx context.Context) ([]ledger.Supplier, error) {
	rows, err := q.db.Query(ctx, supplierSelect+` ORDER BY name, id`)
	if err != nil {
		return nil, mapError(fmt.Errorf("list suppliers: %w", err))
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

func scanSupplier(row pgx.Row) (ledger.Supplier, error) {
	var (
		sup         ledger.Supplier
		id          string
		outstanding string
	)
	if err := row.Scan(&id, &sup.Name, &sup.BankName, &sup.BankAccount, &sup.Notes,
		&outstanding, &sup.CreatedAt, &sup.UpdatedAt); err != nil {
		return sup, err
	}
	sup.ID = ledger.SupplierID(id)
	var err error
	if sup.TotalOutstanding, err = decimal.NewFromString(outstanding); err != nil {
		return sup, fmt.Errorf("supplier %s: bad total_outstanding: %w", id, err)
	}
	return sup, nil
}

const procurementSelect = `SELECT id, reference, supplier_id, supplier_name, purchase_date, items::text,
	grand_total::text, is_paid, payment::text, is_delivered, delivery::text, created_at, updated_at
	FROM procurements`

func (q queries) SaveProcurement(ctx context.Context, p ledger.Procurement) error {
	items, err := json.Marshal(p.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	payment, err := optionalJSON(p.Payment)
	if err != nil {
		return fmt.Errorf("encode payment: %w", err)
	}
	delivery, err := optionalJSON(p.Delivery)
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}

	_, err = q.db.Exec(ctx, `
		INSERT INTO procurements (id, reference, supplier_id, supplier_name, purchase_date, items,
			grand_total, is_paid, payment, is_delivered, delivery, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::text::jsonb, $7::text::numeric, $8, $9::text::jsonb, $10, $11::text::jsonb, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			reference = EXCLUDED.reference,
			supplier_id = EXCLUDED.supplier_id,
			supplier_name = EXCLUDED.supplier_name,
			purchase_date = EXCLUDED.purchase_date,
			items = EXCLUDED.items,
			grand_total = EXCLUDED.grand_total,
			is_paid = EXCLUDED.is_paid,
			payment = EXCLUDED.payment,
			is_delivered = EXCLUDED.is_delivered,
			delivery = EXCLUDED.delivery,
			updated_at = EXCLUDED.updated_at`,
		string(p.ID), p.Reference, string(p.SupplierID), p.SupplierName, p.PurchaseDate, string(items),
		p.GrandTotal.String(), p.IsPaid, payment, p.IsDelivered, delivery, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return mapError(fmt.Errorf("save procurement: %w", err))
	}
	return nil
}

func (q queries) GetProcurement(ctx context.Context, id ledger.ProcurementID) (ledger.Procurement, error) {
	p, err := scanProcurement(q.db.QueryRow(ctx, procurementSelect+` WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Procurement{}, ledger.ProcurementNotFound(id)
	}
	return p, err
}

func (q queries) ListProcurements(ctx context.Context, filter ledger.ProcurementFilter) ([]ledger.Procurement, error) {
	rows, err := q.db.Query(ctx, procurementSelect+`
		WHERE ($1 = '' OR supplier_id = $1)
		ORDER BY purchase_date DESC, created_at DESC, id`, string(filter.SupplierID))
	if err != nil {
		return nil, mapError(fmt.Errorf("list procurements: %w", err))
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

func (q queries) DeleteProcurement(ctx context.Context, id ledger.ProcurementID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM procurements WHERE id = $1`, string(id))
	if err != nil {
		return mapError(fmt.Errorf("delete procurement: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return ledger.ProcurementNotFound(id)
	}
	return nil
}

func scanProcurement(row pgx.Row) (ledger.Procurement, error) {
	var (
		p                 ledger.Procurement
		id, supplierID    string
		items, grandTotal string
		payment, delivery *string
	)
	if err := row.Scan(&id, &p.Reference, &supplierID, &p.SupplierName, &p.PurchaseDate, &items,
		&grandTotal, &p.IsPaid, &payment, &p.IsDelivered, &delivery, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	p.ID = ledger.ProcurementID(id)
	p.SupplierID = ledger.SupplierID(supplierID)

	var err error
	if p.GrandTotal, err = decimal.NewFromString(grandTotal); err != nil {
		return p, fmt.Errorf("procurement %s: bad grand_total: %w", id, err)
	}
	if err := json.Unmarshal([]byte(items), &p.Items); err != nil {
		return p, fmt.Errorf("procurement %s: bad items: %w", id, err)
	}
	if payment != nil {
		p.Payment = &ledger.PaymentInfo{}
		if err := json.Unmarshal([]byte(*payment), p.Payment); err != nil {
			return p, fmt.Errorf("procurement %s: bad payment: %w", id, err)
		}
	}
	if delivery != nil {
		p.Delivery = &ledger.DeliveryInfo{}
		if err := json.Unmarshal([]byte(*delivery), p.Delivery); err != nil {
			return p, fmt.Errorf("procurement %s: bad delivery: %w", id, err)
		}
	}
	return p, nil
}

const entrySelect = `SELECT id, supplier_id, supplier_name, COALESCE(procurement_id, ''), entry_type,
	amount_due::text, amount_paid::text, running_balance::text, reference, description, sort_order,
	is_deleted, deleted_at, original_amount::text, void_reason, transferred_to, entry_date, created_at
	FROM supplier_ledger`

func (q queries) SaveEntry(ctx context.Context, e ledger.Entry) error {
	var procurementID *string
	if e.ProcurementID != "" {
		id := string(e.ProcurementID)
		procurementID = &id
	}

	_, err := q.db.Exec(ctx, `
		INSERT INTO supplier_ledger (id, supplier_id, supplier_name, procurement_id, entry_type,
			amount_due, amount_paid, running_balance, reference, description, sort_order,
			is_deleted, deleted_at, original_amount, void_reason, transferred_to, entry_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7::text::numeric, $8::text::numeric, $9, $10, $11,
			$12, $13, $14::text::numeric, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			amount_due = EXCLUDED.amount_due,
			amount_paid = EXCLUDED.amount_paid,
			running_balance = EXCLUDED.running_balance,
			description = EXCLUDED.description,
			is_deleted = EXCLUDED.is_deleted,
			deleted_at = EXCLUDED.deleted_at,
			original_amount = EXCLUDED.original_amount,
			void_reason = EXCLUDED.void_reason,
			transferred_to = EXCLUDED.transferred_to,
			entry_date = EXCLUDED.entry_date`,
		string(e.ID), string(e.SupplierID), e.SupplierName, procurementID, string(e.Type),
		e.AmountDue.String(), e.AmountPaid.String(), e.RunningBalance.String(), e.Reference, e.Description, e.SortOrder,
		e.IsDeleted, e.DeletedAt, e.OriginalAmount.String(), string(e.VoidReason), string(e.TransferredTo),
		e.EntryDate, e.CreatedAt,
	)
	if err != nil {
		return mapError(fmt.Errorf("save ledger entry: %w", err))
	}
	return nil
}

func (q queries) EntriesBySupplier(ctx context.Context, id ledger.SupplierID) ([]ledger.Entry, error) {
	return q.queryEntries(ctx, entrySelect+` WHERE supplier_id = $1 ORDER BY created_at, id`, string(id))
}

func (q queries) EntriesByProcurement(ctx context.Context, id ledger.ProcurementID) ([]ledger.Entry, error) {
	return q.queryEntries(ctx, entrySelect+` WHERE procurement_id = $1 ORDER BY created_at, id`, string(id))
}

func (q queries) queryEntries(ctx context.Context, sql string, args ...any) ([]ledger.Entry, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("query ledger: %w", err))
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

func scanEntry(row pgx.Row) (ledger.Entry, error) {
	var (
		e                                        ledger.Entry
		id, supplierID, procurementID, entryType string
		voidReason, transferredTo                string
		amountDue, amountPaid, running, original string
		deletedAt                                *time.Time
	)
	if err := row.Scan(&id, &supplierID, &e.SupplierName, &procurementID, &entryType,
		&amountDue, &amountPaid, &running, &e.Reference, &e.Description, &e.SortOrder,
		&e.IsDeleted, &deletedAt, &original, &voidReason, &transferredTo, &e.EntryDate, &e.CreatedAt); err != nil {
		return e, fmt.Errorf("scan ledger entry: %w", err)
	}
	e.ID = ledger.EntryID(id)
	e.SupplierID = ledger.SupplierID(supplierID)
	e.ProcurementID = ledger.ProcurementID(procurementID)
	e.Type = ledger.EntryType(entryType)
	e.VoidReason = ledger.VoidReason(voidReason)
	e.TransferredTo = ledger.SupplierID(transferredTo)
	e.DeletedAt = deletedAt

	for _, f := range []struct {
		dst *decimal.Decimal
		raw string
	}{
		{&e.AmountDue, amountDue},
		{&e.AmountPaid, amountPaid},
		{&e.RunningBalance, running},
		{&e.OriginalAmount, original},
	} {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return e, fmt.Errorf("ledger entry %s: bad amount %q: %w", id, f.raw, err)
		}
		*f.dst = d
	}
	return e, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func optionalJSON[T any](v *T) (*string, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// SQLSTATE codes treated as retryable contention.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation:
		return fmt.Errorf("%w: %v", ledger.ErrConcurrentModification, err)
	default:
		return err
	}
}
