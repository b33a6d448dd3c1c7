/*
recalc.go - Order aggregate recalculation

PURPOSE:
  Derives an order's financial state from its confirmed payments. Two modes:

  INCREMENTAL (ApplyPayment):
    Used by RegisterPayment. Trusts the order's current aggregate as correct
    and folds in one newly confirmed amount. Valid only inside the same
    transaction that inserts the payment.

  FULL REBUILD (Rebuild):
    Used by EditPayment and DeletePayment. Re-sums every confirmed payment
    and recomputes every derived field from scratch. Idempotent and
    order-independent, so it is the single source of truth after any
    correction to history.

WHY TWO MODES?
  Incremental update is an optimization for the append-only hot path.
  Patching the aggregate after an edit or delete would require tracking
  deltas that are easy to get wrong (a payment flipping between confirmed
  and unconfirmed, an amount changing sign of the remaining balance), so
  any mutation of history falls back to the full rebuild.

INVARIANTS (hold after every committed operation):
  - AmountPaid = sum of confirmed payment amounts
  - Balance    = max(Total - AmountPaid, 0)
  - FullyPaid  <=> Balance == 0 && Total > 0
  - Status     = paid | partially_paid | pending per AmountPaid
  - installment mode: InstallmentsPaid = min(floor(AmountPaid/InstallmentAmount), count)
  - NextDueDate = FirstDueDate + InstallmentsPaid months; nil when complete
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApplyPayment folds one newly confirmed payment amount into the order's
// aggregate state. Incremental mode: trusts the prior aggregate, so it must
// run inside the same transaction that inserts the payment.
func ApplyPayment(o *Order, amount decimal.Decimal, now time.Time) {
	recompute(o, o.AmountPaid.Add(amount), now)
}

// Rebuild recomputes every derived field of the order from the complete
// payment list, counting only confirmed payments. Safe to call repeatedly.
func Rebuild(o *Order, payments []Payment, now time.Time) {
	paid := decimal.Zero
	for _, p := range payments {
		if p.Confirmed {
			paid = paid.Add(p.Amount)
		}
	}
	recompute(o, paid, now)
}

// recompute derives all aggregate fields from an authoritative paid total.
func recompute(o *Order, paid decimal.Decimal, now time.Time) {
	o.AmountPaid = paid

	balance := o.Total.Sub(paid)
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	o.Balance = balance
	o.FullyPaid = balance.IsZero() && o.Total.IsPositive()

	switch {
	case o.FullyPaid:
		o.Status = StatusPaid
	case paid.IsPositive() && balance.IsPositive():
		o.Status = StatusPartiallyPaid
	default:
		o.Status = StatusPending
	}

	if o.Mode == ModeInstallment && o.InstallmentCount > 0 && o.InstallmentAmount.IsPositive() {
		covered := int(paid.Div(o.InstallmentAmount).IntPart())
		if covered > o.InstallmentCount {
			covered = o.InstallmentCount
		}
		o.InstallmentsPaid = covered
		o.InstallmentsRemaining = o.InstallmentCount - covered
		o.NextDueDate = NextDueDate(o.FirstDueDate, o.InstallmentCount, covered, o.FullyPaid)
	}

	o.UpdatedAt = now
}
