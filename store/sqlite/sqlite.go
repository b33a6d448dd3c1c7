/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.Store, ledger.Reader and ledger.ClientStore using
  SQLite. In production the same patterns apply to PostgreSQL - only minor
  SQL dialect differences.

KEY TABLES:
  clients:        Client records (not touched by the payment protocol)
  orders:         Orders with their derived aggregate fields
  payments:       Payment records, indexed by order and by client
  order_history:  Append-only audit trail per order
  counters:       Single-row-per-name atomic sequence counters

TRANSACTIONS:
  WithTx opens an immediate transaction so writers serialize at BEGIN
  rather than failing mid-transaction. SQLITE_BUSY/SQLITE_LOCKED trigger a
  bounded retry of the whole function; once the budget is exhausted the
  call fails with ledger.ErrTransientConflict and no partial state.

  A process-local RWMutex additionally serializes writers within one
  process, matching how this store is deployed (single writer per node,
  WAL for concurrent readers).

DECIMALS:
  Money columns are TEXT holding decimal.Decimal strings; parsing back
  through decimal.NewFromString keeps amounts exact.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/orders.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/engine.go: The operations that run inside WithTx
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/otk/order-ledger/ledger"
)

const defaultTxRetries = 5

// Store implements the ledger storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	// MaxTxRetries bounds how often WithTx re-runs a conflicted
	// transaction before failing with ErrTransientConflict.
	MaxTxRetries int
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.Contains(dbPath, ":memory:") {
		// Every pooled connection would otherwise get its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, MaxTxRetries: defaultTxRetries}
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
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT,
		email TEXT,
		notes TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_clients_active ON clients(active);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		order_number INTEGER NOT NULL UNIQUE,
		order_code TEXT NOT NULL UNIQUE,
		client_id TEXT NOT NULL,
		description TEXT NOT NULL,
		total TEXT NOT NULL,
		payment_mode TEXT NOT NULL,
		installment_count INTEGER NOT NULL DEFAULT 0,
		installment_amount TEXT,
		first_due_date TEXT,
		next_due_date TEXT,
		preorder BOOLEAN NOT NULL DEFAULT FALSE,
		fulfillment_date TEXT,
		amount_paid TEXT NOT NULL,
		balance TEXT NOT NULL,
		fully_paid BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL,
		installments_paid INTEGER NOT NULL DEFAULT 0,
		installments_remaining INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_client ON orders(client_id);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
	CREATE INDEX IF NOT EXISTS idx_orders_next_due
		ON orders(next_due_date) WHERE next_due_date IS NOT NULL;

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		payment_mode TEXT NOT NULL,
		planned_installments INTEGER NOT NULL DEFAULT 0,
		installment_amount TEXT,
		amount TEXT NOT NULL,
		installment_index INTEGER NOT NULL DEFAULT 0,
		medium TEXT,
		confirmed BOOLEAN NOT NULL DEFAULT FALSE,
		note TEXT,
		recorded_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_order ON payments(order_id);
	CREATE INDEX IF NOT EXISTS idx_payments_client ON payments(client_id);
	CREATE INDEX IF NOT EXISTS idx_payments_created ON payments(created_at DESC);

	-- Append-only audit trail. Rows are only ever inserted; seq preserves
	-- append order per order_id.
	CREATE TABLE IF NOT EXISTS order_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT NOT NULL,
		at TEXT NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT NOT NULL,
		actor TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_history_order ON order_history(order_id, seq);

	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		last_number INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONAL SCOPE (ledger.Store interface)
// =============================================================================

// WithTx executes fn within an immediate transaction, retrying the whole
// function a bounded number of times on lock contention.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	retries := s.MaxTxRetries
	if retries <= 0 {
		retries = defaultTxRetries
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		lastErr = err
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}

	return fmt.Errorf("transaction retry budget exhausted: %w",
		errors.Join(ledger.ErrTransientConflict, lastErr))
}

func (s *Store) runTx(ctx context.Context, fn func(ledger.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStorage("failed to begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txView{s: s, tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return wrapStorage("failed to commit transaction", err)
	}
	return nil
}

// txView adapts an open *sql.Tx to the ledger.Tx interface.
type txView struct {
	s  *Store
	tx *sql.Tx
}

func (v *txView) Order(ctx context.Context, id ledger.OrderID) (*ledger.Order, error) {
	return v.s.getOrder(ctx, v.tx, id)
}

func (v *txView) Payment(ctx context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	return v.s.getPayment(ctx, v.tx, id)
}

func (v *txView) PaymentsByOrder(ctx context.Context, orderID ledger.OrderID) ([]ledger.Payment, error) {
	return v.s.queryPayments(ctx, v.tx,
		`WHERE order_id = ? ORDER BY created_at DESC, rowid DESC`, string(orderID))
}

func (v *txView) CountPaymentsByOrder(ctx context.Context, orderID ledger.OrderID) (int, error) {
	var count int
	err := v.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payments WHERE order_id = ?`, string(orderID)).Scan(&count)
	if err != nil {
		return 0, wrapStorage("failed to count payments", err)
	}
	return count, nil
}

func (v *txView) InsertOrder(ctx context.Context, o *ledger.Order) error {
	return v.s.insertOrder(ctx, v.tx, o)
}

func (v *txView) UpdateOrder(ctx context.Context, o *ledger.Order) error {
	return v.s.updateOrder(ctx, v.tx, o)
}

func (v *txView) DeleteOrder(ctx context.Context, id ledger.OrderID) error {
	// The order's history goes with it; there is nothing left to audit.
	if _, err := v.tx.ExecContext(ctx,
		`DELETE FROM order_history WHERE order_id = ?`, string(id)); err != nil {
		return wrapStorage("failed to delete order history", err)
	}
	res, err := v.tx.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, string(id))
	if err != nil {
		return wrapStorage("failed to delete order", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ledger.NotFoundError{Kind: "order", ID: string(id)}
	}
	return nil
}

func (v *txView) InsertPayment(ctx context.Context, p *ledger.Payment) error {
	return v.s.insertPayment(ctx, v.tx, p)
}

func (v *txView) UpdatePayment(ctx context.Context, p *ledger.Payment) error {
	return v.s.updatePayment(ctx, v.tx, p)
}

func (v *txView) DeletePayment(ctx context.Context, id ledger.PaymentID) error {
	res, err := v.tx.ExecContext(ctx, `DELETE FROM payments WHERE id = ?`, string(id))
	if err != nil {
		return wrapStorage("failed to delete payment", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ledger.NotFoundError{Kind: "payment", ID: string(id)}
	}
	return nil
}

func (v *txView) AppendHistory(ctx context.Context, orderID ledger.OrderID, e ledger.HistoryEntry) error {
	_, err := v.tx.ExecContext(ctx, `
		INSERT INTO order_history (order_id, at, kind, detail, actor)
		VALUES (?, ?, ?, ?, ?)`,
		string(orderID),
		e.At.UTC().Format(time.RFC3339Nano),
		string(e.Kind),
		e.Detail,
		nullString(e.Actor),
	)
	if err != nil {
		return wrapStorage("failed to append history entry", err)
	}
	return nil
}

func (v *txView) NextSequence(ctx context.Context, name string) (int64, error) {
	var next int64
	err := v.tx.QueryRowContext(ctx, `
		INSERT INTO counters (name, last_number) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET last_number = last_number + 1
		RETURNING last_number`,
		name,
	).Scan(&next)
	if err != nil {
		return 0, wrapStorage("failed to increment counter", err)
	}
	return next, nil
}

// =============================================================================
// ORDERS (ledger.Reader interface)
// =============================================================================

const orderColumns = `id, order_number, order_code, client_id, description, total,
	payment_mode, installment_count, installment_amount, first_due_date, next_due_date,
	preorder, fulfillment_date, amount_paid, balance, fully_paid, status,
	installments_paid, installments_remaining, created_at, updated_at`

// Order returns a single order by id.
func (s *Store) Order(ctx context.Context, id ledger.OrderID) (*ledger.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getOrder(ctx, s.db, id)
}

// Orders returns all orders, newest first.
func (s *Store) Orders(ctx context.Context) ([]ledger.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryOrders(ctx, s.db, `ORDER BY created_at DESC, rowid DESC`)
}

// OrdersByClient returns a client's orders, newest first.
func (s *Store) OrdersByClient(ctx context.Context, clientID ledger.ClientID) ([]ledger.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryOrders(ctx, s.db,
		`WHERE client_id = ? ORDER BY created_at DESC, rowid DESC`, string(clientID))
}

// OrdersDueBy returns unpaid installment orders due on or before the given
// day, soonest first.
func (s *Store) OrdersDueBy(ctx context.Context, day time.Time) ([]ledger.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryOrders(ctx, s.db, `
		WHERE payment_mode = ? AND fully_paid = FALSE
		  AND next_due_date IS NOT NULL AND next_due_date <= ?
		ORDER BY next_due_date ASC`,
		string(ledger.ModeInstallment), day.UTC().Format(time.RFC3339Nano))
}

func (s *Store) getOrder(ctx context.Context, q querier, id ledger.OrderID) (*ledger.Order, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, string(id))

	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "order", ID: string(id)}
	}
	if err != nil {
		return nil, wrapStorage("failed to read order", err)
	}
	return o, nil
}

func (s *Store) queryOrders(ctx context.Context, q querier, clause string, args ...any) ([]ledger.Order, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders `+clause, args...)
	if err != nil {
		return nil, wrapStorage("failed to query orders", err)
	}
	defer rows.Close()

	var orders []ledger.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, wrapStorage("failed to scan order", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (s *Store) insertOrder(ctx context.Context, q querier, o *ledger.Order) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(o.ID),
		o.Number,
		o.Code,
		string(o.ClientID),
		o.Description,
		o.Total.String(),
		string(o.Mode),
		o.InstallmentCount,
		nullDecimal(o.InstallmentAmount),
		nullTime(o.FirstDueDate),
		nullTime(o.NextDueDate),
		o.Preorder,
		nullTime(o.FulfillmentDate),
		o.AmountPaid.String(),
		o.Balance.String(),
		o.FullyPaid,
		string(o.Status),
		o.InstallmentsPaid,
		o.InstallmentsRemaining,
		o.CreatedAt.UTC().Format(time.RFC3339Nano),
		o.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return wrapStorage("failed to insert order", err)
	}
	return nil
}

func (s *Store) updateOrder(ctx context.Context, q querier, o *ledger.Order) error {
	res, err := q.ExecContext(ctx, `
		UPDATE orders SET
			description = ?, total = ?, payment_mode = ?,
			installment_count = ?, installment_amount = ?,
			first_due_date = ?, next_due_date = ?,
			preorder = ?, fulfillment_date = ?,
			amount_paid = ?, balance = ?, fully_paid = ?, status = ?,
			installments_paid = ?, installments_remaining = ?,
			updated_at = ?
		WHERE id = ?`,
		o.Description,
		o.Total.String(),
		string(o.Mode),
		o.InstallmentCount,
		nullDecimal(o.InstallmentAmount),
		nullTime(o.FirstDueDate),
		nullTime(o.NextDueDate),
		o.Preorder,
		nullTime(o.FulfillmentDate),
		o.AmountPaid.String(),
		o.Balance.String(),
		o.FullyPaid,
		string(o.Status),
		o.InstallmentsPaid,
		o.InstallmentsRemaining,
		o.UpdatedAt.UTC().Format(time.RFC3339Nano),
		string(o.ID),
	)
	if err != nil {
		return wrapStorage("failed to update order", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ledger.NotFoundError{Kind: "order", ID: string(o.ID)}
	}
	return nil
}

func scanOrder(row interface{ Scan(dest ...any) error }) (*ledger.Order, error) {
	var (
		o                 ledger.Order
		id, clientID      string
		total, paid, bal  string
		mode, status      string
		instAmount        sql.NullString
		firstDue, nextDue sql.NullString
		fulfillment       sql.NullString
		createdAt, updAt  string
	)

	err := row.Scan(
		&id, &o.Number, &o.Code, &clientID, &o.Description, &total,
		&mode, &o.InstallmentCount, &instAmount, &firstDue, &nextDue,
		&o.Preorder, &fulfillment, &paid, &bal, &o.FullyPaid, &status,
		&o.InstallmentsPaid, &o.InstallmentsRemaining, &createdAt, &updAt,
	)
	if err != nil {
		return nil, err
	}

	o.ID = ledger.OrderID(id)
	o.ClientID = ledger.ClientID(clientID)
	o.Total = ledger.MustDecimal(total)
	o.Mode = ledger.PaymentMode(mode)
	o.AmountPaid = ledger.MustDecimal(paid)
	o.Balance = ledger.MustDecimal(bal)
	o.Status = ledger.OrderStatus(status)
	if instAmount.Valid {
		o.InstallmentAmount = ledger.MustDecimal(instAmount.String)
	}
	o.FirstDueDate = parseNullTime(firstDue)
	o.NextDueDate = parseNullTime(nextDue)
	o.FulfillmentDate = parseNullTime(fulfillment)
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updAt)
	return &o, nil
}

// =============================================================================
// PAYMENTS (ledger.Reader interface)
// =============================================================================

const paymentColumns = `id, order_id, client_id, payment_mode, planned_installments,
	installment_amount, amount, installment_index, medium, confirmed, note,
	recorded_by, created_at`

// Payment returns a single payment by id.
func (s *Store) Payment(ctx context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPayment(ctx, s.db, id)
}

// Payments returns all payments, newest first.
func (s *Store) Payments(ctx context.Context) ([]ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryPayments(ctx, s.db, `ORDER BY created_at DESC, rowid DESC`)
}

// PaymentsByOrder returns an order's payments, newest first.
func (s *Store) PaymentsByOrder(ctx context.Context, orderID ledger.OrderID) ([]ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryPayments(ctx, s.db,
		`WHERE order_id = ? ORDER BY created_at DESC, rowid DESC`, string(orderID))
}

// PaymentsByClient returns a client's payments, newest first.
func (s *Store) PaymentsByClient(ctx context.Context, clientID ledger.ClientID) ([]ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryPayments(ctx, s.db,
		`WHERE client_id = ? ORDER BY created_at DESC, rowid DESC`, string(clientID))
}

func (s *Store) getPayment(ctx context.Context, q querier, id ledger.PaymentID) (*ledger.Payment, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = ?`, string(id))

	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "payment", ID: string(id)}
	}
	if err != nil {
		return nil, wrapStorage("failed to read payment", err)
	}
	return p, nil
}

func (s *Store) queryPayments(ctx context.Context, q querier, clause string, args ...any) ([]ledger.Payment, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments `+clause, args...)
	if err != nil {
		return nil, wrapStorage("failed to query payments", err)
	}
	defer rows.Close()

	var payments []ledger.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, wrapStorage("failed to scan payment", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func (s *Store) insertPayment(ctx context.Context, q querier, p *ledger.Payment) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(p.ID),
		string(p.OrderID),
		string(p.ClientID),
		string(p.Mode),
		p.PlannedInstallments,
		nullDecimal(p.InstallmentAmount),
		p.Amount.String(),
		p.InstallmentIndex,
		nullString(p.Medium),
		p.Confirmed,
		nullString(p.Note),
		nullString(p.RecordedBy),
		p.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return wrapStorage("failed to insert payment", err)
	}
	return nil
}

func (s *Store) updatePayment(ctx context.Context, q querier, p *ledger.Payment) error {
	// Only the correctable fields; identity and snapshots stay frozen.
	res, err := q.ExecContext(ctx, `
		UPDATE payments SET amount = ?, medium = ?, confirmed = ?, note = ?
		WHERE id = ?`,
		p.Amount.String(),
		nullString(p.Medium),
		p.Confirmed,
		nullString(p.Note),
		string(p.ID),
	)
	if err != nil {
		return wrapStorage("failed to update payment", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ledger.NotFoundError{Kind: "payment", ID: string(p.ID)}
	}
	return nil
}

func scanPayment(row interface{ Scan(dest ...any) error }) (*ledger.Payment, error) {
	var (
		p                        ledger.Payment
		id, orderID, clientID    string
		mode, amount             string
		instAmount               sql.NullString
		medium, note, recordedBy sql.NullString
		createdAt                string
	)

	err := row.Scan(
		&id, &orderID, &clientID, &mode, &p.PlannedInstallments,
		&instAmount, &amount, &p.InstallmentIndex, &medium, &p.Confirmed,
		&note, &recordedBy, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	p.ID = ledger.PaymentID(id)
	p.OrderID = ledger.OrderID(orderID)
	p.ClientID = ledger.ClientID(clientID)
	p.Mode = ledger.PaymentMode(mode)
	p.Amount = ledger.MustDecimal(amount)
	if instAmount.Valid {
		p.InstallmentAmount = ledger.MustDecimal(instAmount.String)
	}
	p.Medium = medium.String
	p.Note = note.String
	p.RecordedBy = recordedBy.String
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// =============================================================================
// HISTORY (ledger.Reader interface)
// =============================================================================

// History returns the order's audit trail in append order.
func (s *Store) History(ctx context.Context, orderID ledger.OrderID) ([]ledger.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, at, kind, detail, actor
		FROM order_history
		WHERE order_id = ?
		ORDER BY seq ASC`, string(orderID))
	if err != nil {
		return nil, wrapStorage("failed to query history", err)
	}
	defer rows.Close()

	var entries []ledger.HistoryEntry
	for rows.Next() {
		var (
			e     ledger.HistoryEntry
			at    string
			kind  string
			actor sql.NullString
		)
		if err := rows.Scan(&e.Seq, &at, &kind, &e.Detail, &actor); err != nil {
			return nil, wrapStorage("failed to scan history entry", err)
		}
		e.At = parseTime(at)
		e.Kind = ledger.HistoryKind(kind)
		e.Actor = actor.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// CLIENTS (ledger.ClientStore interface)
// =============================================================================

const clientColumns = `id, name, phone, email, notes, active, created_at, updated_at`

// Client returns a single client by id.
func (s *Store) Client(ctx context.Context, id ledger.ClientID) (*ledger.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = ?`, string(id))

	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "client", ID: string(id)}
	}
	if err != nil {
		return nil, wrapStorage("failed to read client", err)
	}
	return c, nil
}

// Clients returns all clients, newest first. With onlyActive, deactivated
// clients are filtered out.
func (s *Store) Clients(ctx context.Context, onlyActive bool) ([]ledger.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + clientColumns + ` FROM clients ORDER BY created_at DESC, rowid DESC`
	if onlyActive {
		query = `SELECT ` + clientColumns + ` FROM clients WHERE active = TRUE ORDER BY created_at DESC, rowid DESC`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapStorage("failed to query clients", err)
	}
	defer rows.Close()

	var clients []ledger.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, wrapStorage("failed to scan client", err)
		}
		clients = append(clients, *c)
	}
	return clients, rows.Err()
}

// InsertClient stores a new client record.
func (s *Store) InsertClient(ctx context.Context, c *ledger.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (`+clientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(c.ID),
		c.Name,
		nullString(c.Phone),
		nullString(c.Email),
		nullString(c.Notes),
		c.Active,
		c.CreatedAt.UTC().Format(time.RFC3339Nano),
		c.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return wrapStorage("failed to insert client", err)
	}
	return nil
}

// UpdateClient stores changes to an existing client record.
func (s *Store) UpdateClient(ctx context.Context, c *ledger.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE clients SET name = ?, phone = ?, email = ?, notes = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		c.Name,
		nullString(c.Phone),
		nullString(c.Email),
		nullString(c.Notes),
		c.Active,
		c.UpdatedAt.UTC().Format(time.RFC3339Nano),
		string(c.ID),
	)
	if err != nil {
		return wrapStorage("failed to update client", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ledger.NotFoundError{Kind: "client", ID: string(c.ID)}
	}
	return nil
}

func scanClient(row interface{ Scan(dest ...any) error }) (*ledger.Client, error) {
	var (
		c                   ledger.Client
		id                  string
		phone, email, notes sql.NullString
		createdAt, updAt    string
	)

	err := row.Scan(&id, &c.Name, &phone, &email, &notes, &c.Active, &createdAt, &updAt)
	if err != nil {
		return nil, err
	}

	c.ID = ledger.ClientID(id)
	c.Phone = phone.String
	c.Email = email.String
	c.Notes = notes.String
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updAt)
	return &c, nil
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

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullDecimal(d decimal.Decimal) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func wrapStorage(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ledger.ErrStorageFailure, err))
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}
