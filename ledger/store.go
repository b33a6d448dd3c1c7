/*
store.go - Persistence contracts for the ledger engine

PURPOSE:
  Defines the interface between the engine and the underlying store. The
  engine only assumes a document-style store with point reads, filtered
  queries and atomic multi-record transactions; the concrete technology
  lives behind these interfaces (see store/sqlite).

KEY INTERFACES:
  Reader:      Point reads and filtered queries (outside any transaction)
  Tx:          The read+write surface available inside a transaction
  Store:       Reader plus WithTx, the transactional scope
  ClientStore: Client records, managed outside the payment protocol

TRANSACTIONAL CONTRACT:
  WithTx runs fn against a consistent snapshot. Either every write made
  through the Tx commits together or none do. On contention the store
  re-executes or fails with ErrTransientConflict after a bounded number of
  retries; fn must therefore be safe to re-run. Two transactions touching
  different orders proceed in parallel; transactions on the same order (or
  the shared counter) serialize.

SEE ALSO:
  - engine.go: Every public operation is one WithTx scope
  - store/sqlite/sqlite.go: Concrete implementation
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// READ SURFACE
// =============================================================================

// Reader provides point reads and filtered queries. List results are
// ordered by creation time, newest first.
type Reader interface {
	Order(ctx context.Context, id OrderID) (*Order, error)
	Orders(ctx context.Context) ([]Order, error)
	OrdersByClient(ctx context.Context, clientID ClientID) ([]Order, error)

	Payment(ctx context.Context, id PaymentID) (*Payment, error)
	Payments(ctx context.Context) ([]Payment, error)
	PaymentsByOrder(ctx context.Context, orderID OrderID) ([]Payment, error)
	PaymentsByClient(ctx context.Context, clientID ClientID) ([]Payment, error)

	// History returns the order's audit trail in append order.
	History(ctx context.Context, orderID OrderID) ([]HistoryEntry, error)

	// OrdersDueBy returns installment orders whose next due date is on or
	// before the given day and which are not fully paid.
	OrdersDueBy(ctx context.Context, day time.Time) ([]Order, error)
}

// =============================================================================
// TRANSACTIONAL SURFACE
// =============================================================================

// Tx is the surface available inside a WithTx scope. Reads through a Tx see
// the transaction's own writes.
type Tx interface {
	Order(ctx context.Context, id OrderID) (*Order, error)
	Payment(ctx context.Context, id PaymentID) (*Payment, error)
	PaymentsByOrder(ctx context.Context, orderID OrderID) ([]Payment, error)
	CountPaymentsByOrder(ctx context.Context, orderID OrderID) (int, error)

	InsertOrder(ctx context.Context, o *Order) error
	UpdateOrder(ctx context.Context, o *Order) error
	DeleteOrder(ctx context.Context, id OrderID) error

	InsertPayment(ctx context.Context, p *Payment) error
	UpdatePayment(ctx context.Context, p *Payment) error
	DeletePayment(ctx context.Context, id PaymentID) error

	// AppendHistory appends one audit entry to the order's history. The
	// store assigns the sequence number. Entries are never reordered,
	// mutated or removed.
	AppendHistory(ctx context.Context, orderID OrderID, e HistoryEntry) error

	// NextSequence atomically increments the named counter and returns the
	// new value. No two callers ever observe the same value.
	NextSequence(ctx context.Context, name string) (int64, error)
}

// Store is the engine's collaborator: reads plus the transactional scope.
type Store interface {
	Reader

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back and the error is returned unchanged.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// =============================================================================
// CLIENTS
// =============================================================================

// ClientStore manages client records. Clients are referenced by the engine
// but never mutated by it.
type ClientStore interface {
	Client(ctx context.Context, id ClientID) (*Client, error)
	Clients(ctx context.Context, onlyActive bool) ([]Client, error)
	InsertClient(ctx context.Context, c *Client) error
	UpdateClient(ctx context.Context, c *Client) error
}
