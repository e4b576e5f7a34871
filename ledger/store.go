/*
store.go - Persistence interface for suppliers, procurements and ledger entries

PURPOSE:
  Defines the boundary between the ledger engine and the database.
  Implementations: ledger/store (memory), store/sqlite, store/postgres.

TRANSACTIONS:
  Every lifecycle operation runs inside WithTx. The Tx handed to the
  callback can both read and write, and all of its reads observe the
  transaction's own writes. If the callback returns an error nothing is
  committed.

CONFLICTS:
  Implementations report write contention (SQLITE_BUSY, serialization
  failures) as ErrConcurrentModification so the service can retry.

NOT FOUND:
  Get* methods return a *NotFoundError (errors.Is(err, ErrNotFound)).

SEE ALSO:
  - storetest/: Contract suite every implementation runs
*/
package ledger

import "context"

// Reader holds the read operations shared by Store and Tx.
type Reader interface {
	GetSupplier(ctx context.Context, id SupplierID) (Supplier, error)
	ListSuppliers(ctx context.Context) ([]Supplier, error)

	GetProcurement(ctx context.Context, id ProcurementID) (Procurement, error)
	ListProcurements(ctx context.Context, filter ProcurementFilter) ([]Procurement, error)

	// EntriesBySupplier returns every entry of a supplier, in no particular order.
	EntriesBySupplier(ctx context.Context, id SupplierID) ([]Entry, error)

	// EntriesByProcurement returns every entry sharing the procurement id,
	// across all suppliers the procurement has lived under.
	EntriesByProcurement(ctx context.Context, id ProcurementID) ([]Entry, error)
}

// Tx is the transactional view passed to WithTx callbacks.
type Tx interface {
	Reader

	// SaveSupplier inserts or replaces a supplier.
	SaveSupplier(ctx context.Context, s Supplier) error

	// SaveProcurement inserts or replaces a procurement.
	SaveProcurement(ctx context.Context, p Procurement) error

	// DeleteProcurement hard-deletes a procurement.
	DeleteProcurement(ctx context.Context, id ProcurementID) error

	// SaveEntry inserts or replaces a ledger entry. Entries are never deleted.
	SaveEntry(ctx context.Context, e Entry) error
}

// Store is the full persistence interface used by Service.
type Store interface {
	Reader

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// ProcurementFilter narrows ListProcurements. Zero value lists everything.
type ProcurementFilter struct {
	SupplierID SupplierID
}

// Matches reports whether p passes the filter.
func (f ProcurementFilter) Matches(p Procurement) bool {
	return f.SupplierID == "" || p.SupplierID == f.SupplierID
}
