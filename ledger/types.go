/*
Package ledger implements the order/payment consistency engine.

PURPOSE:
  This package contains the domain model and the transactional protocol that
  keeps an order's aggregate financial state (amount paid, balance, status,
  installment progress) consistent with its payment history at all times,
  including under corrective edits and deletes of historical payments.

KEY CONCEPTS IN THIS FILE (types.go):
  - Client:       The owner of orders; referenced by id, never mutated here
  - Order:        A billable unit with derived financial state and history
  - Payment:      A money transfer applied (or pending) against one order
  - HistoryEntry: An append-only audit record of a state change

DESIGN PRINCIPLES:
  1. Derived state: Order aggregates are never set by callers, only computed
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for ids prevents mixing order/payment/client ids
  4. Auditability: Every state change appends a history entry

SEE ALSO:
  - engine.go: The public operations (create, register, edit, delete)
  - recalc.go: Aggregate recalculation (incremental and full rebuild)
  - plan.go:   Installment schedule arithmetic
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClientID string
type OrderID string
type PaymentID string

func NewOrderID() OrderID     { return OrderID(uuid.NewString()) }
func NewPaymentID() PaymentID { return PaymentID(uuid.NewString()) }
func NewClientID() ClientID   { return ClientID(uuid.NewString()) }

// =============================================================================
// PAYMENT MODE & ORDER STATUS
// =============================================================================

// PaymentMode describes how an order is expected to be paid.
type PaymentMode string

const (
	ModeSingle      PaymentMode = "single"       // One payment for the full total
	ModeInstallment PaymentMode = "installment"  // N equal, monthly-spaced dues
	ModeOpenBalance PaymentMode = "open_balance" // Arbitrary partials up to the balance
)

func (m PaymentMode) Valid() bool {
	switch m {
	case ModeSingle, ModeInstallment, ModeOpenBalance:
		return true
	}
	return false
}

// OrderStatus is purely derived from the confirmed payment total.
// Callers never set it directly.
type OrderStatus string

const (
	StatusPending       OrderStatus = "pending"
	StatusPartiallyPaid OrderStatus = "partially_paid"
	StatusPaid          OrderStatus = "paid"
)

// =============================================================================
// CLIENT
// =============================================================================

// Client owns orders. The engine only references clients by id; client
// records are managed through ClientStore and never touched by the
// payment protocol.
type Client struct {
	ID        ClientID
	Name      string
	Phone     string
	Email     string
	Notes     string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// ORDER
// =============================================================================

// Order is a billable unit of work owned by a client.
//
// The derived block (AmountPaid through InstallmentsRemaining, plus
// NextDueDate) must satisfy the aggregate invariants after every committed
// operation; see recalc.go.
type Order struct {
	ID     OrderID
	Number int64  // raw sequence value
	Code   string // e.g. "OTK-000123"

	// Terms
	ClientID    ClientID
	Description string
	Total       decimal.Decimal
	Mode        PaymentMode

	// Installment terms (Mode == ModeInstallment only)
	InstallmentCount  int             // planned installments
	InstallmentAmount decimal.Decimal // Total / InstallmentCount, unrounded
	FirstDueDate      *time.Time
	NextDueDate       *time.Time // nil once all installments are paid

	// Preorder terms
	Preorder        bool
	FulfillmentDate *time.Time

	// Derived ledger state
	AmountPaid            decimal.Decimal
	Balance               decimal.Decimal
	FullyPaid             bool
	Status                OrderStatus
	InstallmentsPaid      int
	InstallmentsRemaining int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// PAYMENT
// =============================================================================

// Payment records one money transfer against an order.
//
// ClientID, Mode, PlannedInstallments and InstallmentAmount are snapshots
// taken from the order at insert time so payment rows render without a join.
// They are informational only; the order remains authoritative.
//
// Payments are immutable except for Amount, Medium, Confirmed and Note,
// which may be corrected through Engine.EditPayment.
type Payment struct {
	ID      PaymentID
	OrderID OrderID

	// Snapshots from the order at insert time
	ClientID            ClientID
	Mode                PaymentMode
	PlannedInstallments int
	InstallmentAmount   decimal.Decimal

	Amount           decimal.Decimal
	InstallmentIndex int // 1-based; 0 when not an installment payment
	Medium           string
	Confirmed        bool
	Note             string

	RecordedBy string
	CreatedAt  time.Time
}

// =============================================================================
// HISTORY
// =============================================================================

// HistoryKind is the closed set of audit event kinds.
type HistoryKind string

const (
	HistoryStatusChange   HistoryKind = "status_change"
	HistoryPaymentRecord  HistoryKind = "payment_recorded"
	HistoryPaymentEdited  HistoryKind = "payment_edited"
	HistoryPaymentDeleted HistoryKind = "payment_deleted"
	HistoryNote           HistoryKind = "note"
)

// HistoryEntry is one immutable audit record. Entries are appended within
// the same transaction as the state change that caused them and are never
// reordered, mutated or removed.
type HistoryEntry struct {
	Seq    int64 // assigned by the store, strictly increasing per order
	At     time.Time
	Kind   HistoryKind
	Detail string
	Actor  string
}

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
