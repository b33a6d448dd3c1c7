/*
plan.go - Installment schedule arithmetic

PURPOSE:
  Pure, side-effect-free functions computing the per-installment amount and
  the due-date schedule from an order's terms. The engine calls these at
  order creation and whenever the installments-paid count changes.

SCHEDULE:
  Installment k (0-indexed by installments already paid) is due at
  firstDue + k months. The per-installment amount is total/count with no
  rounding; display-time rounding is the caller's concern.

MONTH ROLLOVER:
  When the due day does not exist in the target month (e.g. Jan 31 one
  month later), the date is clamped to the last day of the target month
  (Feb 28/29), not rolled into the following month.
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INSTALLMENT AMOUNT
// =============================================================================

// InstallmentAmount returns total/count without rounding.
// Returns zero when count <= 0.
func InstallmentAmount(total decimal.Decimal, count int) decimal.Decimal {
	if count <= 0 {
		return decimal.Zero
	}
	return total.Div(decimal.NewFromInt(int64(count)))
}

// =============================================================================
// DUE DATES
// =============================================================================

// DueDate returns the due date for the next unpaid installment given the
// number of installments already paid: firstDue + paid months.
func DueDate(firstDue time.Time, paid int) time.Time {
	return AddMonthsClamped(firstDue, paid)
}

// NextDueDate returns the due date of the next unpaid installment, or nil
// when the schedule is complete (all installments paid or the order fully
// paid), or when the order has no first due date on record.
func NextDueDate(firstDue *time.Time, planned, paid int, fullyPaid bool) *time.Time {
	if firstDue == nil || planned <= 0 {
		return nil
	}
	if paid >= planned || fullyPaid {
		return nil
	}
	due := DueDate(*firstDue, paid)
	return &due
}

// AddMonthsClamped adds n calendar months to t, clamping the day to the
// last day of the target month when t's day does not exist there.
func AddMonthsClamped(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	firstOfTarget := time.Date(year, month+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if last := daysInMonth(firstOfTarget); day > last {
		day = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
