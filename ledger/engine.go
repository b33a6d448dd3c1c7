/*
engine.go - The public ledger operations

PURPOSE:
  Orchestrates the transactional protocol. Each public operation executes
  as a single atomic transaction scoped to the order it touches: either
  every effect (payment write, aggregate update, history append, counter
  increment) commits together, or none do.

OPERATIONS:
  CreateOrder     New order, pending, code from the sequence counter
  RegisterPayment Insert payment + incremental aggregate update
  EditPayment     Correct amount/medium/confirmed/note + full rebuild
  DeletePayment   Remove payment + full rebuild (irreversible)
  DeleteOrder     Guarded delete: only pending orders with no payments
  AppendNote      Free-text history entry, no financial effect

CONCURRENCY:
  The engine holds no state of its own; serialization comes from the
  store's transactional scope. Two concurrent RegisterPayment calls on the
  same order serialize, the second observing the first's effects. Calls on
  different orders proceed in parallel. A caller that abandons a request
  leaves no partial effect.

ERROR CONTRACT:
  All business-rule checks run before any write; see errors.go for the
  taxonomy and propagation rules.
*/
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Engine exposes the public ledger operations over a transactional store.
type Engine struct {
	Store  Store
	Prefix string // order code prefix

	// Now stamps created_at/updated_at and history timestamps.
	// Overridable in tests.
	Now func() time.Time
}

func NewEngine(store Store) *Engine {
	return &Engine{
		Store:  store,
		Prefix: DefaultCodePrefix,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// CREATE ORDER
// =============================================================================

type CreateOrderInput struct {
	ClientID    ClientID
	Description string
	Total       decimal.Decimal
	Mode        PaymentMode

	// Installment terms (Mode == ModeInstallment)
	InstallmentCount int
	FirstDueDate     *time.Time

	// Preorder terms
	Preorder        bool
	FulfillmentDate *time.Time

	Actor string
}

// CreateOrder creates a new pending order with a code issued from the
// shared sequence counter and one "order created" history entry.
func (e *Engine) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := e.Now()
	var created *Order

	err := e.Store.WithTx(ctx, func(tx Tx) error {
		seq, err := tx.NextSequence(ctx, orderCounter)
		if err != nil {
			return err
		}

		o := &Order{
			ID:          NewOrderID(),
			Number:      seq,
			Code:        FormatCode(e.Prefix, seq),
			ClientID:    in.ClientID,
			Description: in.Description,
			Total:       in.Total,
			Mode:        in.Mode,

			Preorder:        in.Preorder,
			FulfillmentDate: in.FulfillmentDate,

			AmountPaid: decimal.Zero,
			Balance:    in.Total,
			Status:     StatusPending,

			CreatedAt: now,
			UpdatedAt: now,
		}

		if in.Mode == ModeInstallment {
			o.InstallmentCount = in.InstallmentCount
			o.InstallmentAmount = InstallmentAmount(in.Total, in.InstallmentCount)
			o.InstallmentsRemaining = in.InstallmentCount
			o.FirstDueDate = in.FirstDueDate
			o.NextDueDate = in.FirstDueDate
		}

		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, o.ID, orderCreatedEntry(now, in.Actor)); err != nil {
			return err
		}

		created = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (in CreateOrderInput) validate() error {
	if in.ClientID == "" {
		return &ValidationError{Field: "client_id", Message: "client id is required"}
	}
	if !in.Total.IsPositive() {
		return &ValidationError{Field: "total", Message: "total must be positive"}
	}
	if !in.Mode.Valid() {
		return &ValidationError{Field: "mode", Message: "unknown payment mode"}
	}
	if in.Mode == ModeInstallment && in.InstallmentCount <= 0 {
		return &ValidationError{Field: "installment_count", Message: "installment orders need a positive installment count"}
	}
	if in.Preorder && in.FulfillmentDate == nil {
		return &ValidationError{Field: "fulfillment_date", Message: "preorders need a fulfillment date"}
	}
	return nil
}

// =============================================================================
// REGISTER PAYMENT
// =============================================================================

type RegisterPaymentInput struct {
	OrderID   OrderID
	Amount    decimal.Decimal
	Medium    string
	Confirmed bool
	Note      string
	Actor     string
}

// RegisterPayment inserts a payment against the order.
//
// Confirmed payments update the aggregate incrementally and append one
// history entry. Unconfirmed payments only bump the order's updated_at;
// their amount does not count toward the balance until an edit confirms
// them. Confirmed open-balance payments exceeding the remaining balance
// are rejected; other modes clamp the balance at zero instead.
func (e *Engine) RegisterPayment(ctx context.Context, in RegisterPaymentInput) (*Payment, error) {
	if !in.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "amount must be positive"}
	}

	now := e.Now()
	var recorded *Payment

	err := e.Store.WithTx(ctx, func(tx Tx) error {
		o, err := tx.Order(ctx, in.OrderID)
		if err != nil {
			return err
		}

		if in.Confirmed && o.Mode == ModeOpenBalance && in.Amount.GreaterThan(o.Balance) {
			return &OverpaymentError{OrderID: o.ID, Amount: in.Amount, Balance: o.Balance}
		}

		p := &Payment{
			ID:      NewPaymentID(),
			OrderID: o.ID,

			ClientID:            o.ClientID,
			Mode:                o.Mode,
			PlannedInstallments: o.InstallmentCount,
			InstallmentAmount:   o.InstallmentAmount,

			Amount:     in.Amount,
			Medium:     in.Medium,
			Confirmed:  in.Confirmed,
			Note:       in.Note,
			RecordedBy: in.Actor,
			CreatedAt:  now,
		}

		if in.Confirmed && o.Mode == ModeInstallment && o.InstallmentCount > 0 {
			next := o.InstallmentsPaid + 1
			if next > o.InstallmentCount {
				next = o.InstallmentCount
			}
			p.InstallmentIndex = next
		}

		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}

		if !in.Confirmed {
			o.UpdatedAt = now
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return err
			}
			recorded = p
			return nil
		}

		ApplyPayment(o, in.Amount, now)
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, o.ID, paymentRecordedEntry(now, in.Amount, in.Actor)); err != nil {
			return err
		}

		recorded = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recorded, nil
}

// =============================================================================
// EDIT PAYMENT
// =============================================================================

// PaymentChanges holds the correctable payment fields. Nil means "leave
// unchanged".
type PaymentChanges struct {
	Amount    *decimal.Decimal
	Medium    *string
	Confirmed *bool
	Note      *string
}

// EditPayment applies corrections to a payment, appends a history entry
// describing the amount delta, and runs a full rebuild of the owning
// order's aggregate from the complete payment list.
//
// The open-balance overpayment rule is deliberately not re-checked here;
// the rebuild floors the balance at zero. This mirrors the observed
// behavior of the corrective path and is a policy decision, not an
// omission.
func (e *Engine) EditPayment(ctx context.Context, id PaymentID, changes PaymentChanges, actor string) (*Payment, error) {
	if changes.Amount != nil && !changes.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "amount must be positive"}
	}

	now := e.Now()
	var edited *Payment

	err := e.Store.WithTx(ctx, func(tx Tx) error {
		p, err := tx.Payment(ctx, id)
		if err != nil {
			return err
		}
		o, err := tx.Order(ctx, p.OrderID)
		if err != nil {
			return err
		}

		oldAmount := p.Amount
		if changes.Amount != nil {
			p.Amount = *changes.Amount
		}
		if changes.Medium != nil {
			p.Medium = *changes.Medium
		}
		if changes.Confirmed != nil {
			p.Confirmed = *changes.Confirmed
		}
		if changes.Note != nil {
			p.Note = *changes.Note
		}

		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}

		by := actor
		if by == "" {
			by = p.RecordedBy
		}
		if err := tx.AppendHistory(ctx, o.ID, paymentEditedEntry(now, oldAmount, p.Amount, by)); err != nil {
			return err
		}

		payments, err := tx.PaymentsByOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		Rebuild(o, payments, now)
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}

		edited = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return edited, nil
}

// =============================================================================
// DELETE PAYMENT
// =============================================================================

// DeletePayment physically removes a payment, appends a history entry and
// rebuilds the owning order from the remaining payments. Irreversible.
func (e *Engine) DeletePayment(ctx context.Context, id PaymentID, actor string) error {
	now := e.Now()

	return e.Store.WithTx(ctx, func(tx Tx) error {
		p, err := tx.Payment(ctx, id)
		if err != nil {
			return err
		}
		o, err := tx.Order(ctx, p.OrderID)
		if err != nil {
			return err
		}

		if err := tx.DeletePayment(ctx, id); err != nil {
			return err
		}

		by := actor
		if by == "" {
			by = p.RecordedBy
		}
		if err := tx.AppendHistory(ctx, o.ID, paymentDeletedEntry(now, p.Amount, by)); err != nil {
			return err
		}

		payments, err := tx.PaymentsByOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		Rebuild(o, payments, now)
		return tx.UpdateOrder(ctx, o)
	})
}

// =============================================================================
// DELETE ORDER
// =============================================================================

// DeleteOrder removes an order. Permitted only while the order is pending
// with nothing paid and no payment records at all, verified by a fresh
// read inside the transaction. The order's history goes with it.
func (e *Engine) DeleteOrder(ctx context.Context, id OrderID, actor string) error {
	return e.Store.WithTx(ctx, func(tx Tx) error {
		o, err := tx.Order(ctx, id)
		if err != nil {
			return err
		}

		if o.AmountPaid.IsPositive() || o.Status != StatusPending {
			return &PreconditionError{Message: "order has recorded payments and cannot be deleted"}
		}
		count, err := tx.CountPaymentsByOrder(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return &PreconditionError{Message: "order has payment records and cannot be deleted"}
		}

		return tx.DeleteOrder(ctx, id)
	})
}

// =============================================================================
// NOTES
// =============================================================================

// AppendNote adds a free-text history entry to an order without touching
// its financial state.
func (e *Engine) AppendNote(ctx context.Context, id OrderID, text, actor string) error {
	if strings.TrimSpace(text) == "" {
		return &ValidationError{Field: "text", Message: "note text is required"}
	}

	now := e.Now()
	return e.Store.WithTx(ctx, func(tx Tx) error {
		o, err := tx.Order(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, o.ID, noteEntry(now, text, actor)); err != nil {
			return err
		}
		o.UpdatedAt = now
		return tx.UpdateOrder(ctx, o)
	})
}
