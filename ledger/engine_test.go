package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otk/order-ledger/ledger"
	"github.com/otk/order-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*ledger.Engine, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return ledger.NewEngine(store), store
}

func createOrder(t *testing.T, e *ledger.Engine, in ledger.CreateOrderInput) *ledger.Order {
	t.Helper()
	o, err := e.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	return o
}

func openBalanceInput(total int64) ledger.CreateOrderInput {
	return ledger.CreateOrderInput{
		ClientID:    "client-1",
		Description: "ad-hoc work",
		Total:       decimal.NewFromInt(total),
		Mode:        ledger.ModeOpenBalance,
		Actor:       "admin-1",
	}
}

func installmentInput(total int64, count int, firstDue time.Time) ledger.CreateOrderInput {
	return ledger.CreateOrderInput{
		ClientID:         "client-1",
		Description:      "installment plan",
		Total:            decimal.NewFromInt(total),
		Mode:             ledger.ModeInstallment,
		InstallmentCount: count,
		FirstDueDate:     &firstDue,
		Actor:            "admin-1",
	}
}

func payInput(orderID ledger.OrderID, amount int64) ledger.RegisterPaymentInput {
	return ledger.RegisterPaymentInput{
		OrderID:   orderID,
		Amount:    decimal.NewFromInt(amount),
		Medium:    "transfer",
		Confirmed: true,
		Actor:     "admin-1",
	}
}

// =============================================================================
// CREATE ORDER
// =============================================================================

func TestCreateOrder_AssignsSequentialCodes(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	first := createOrder(t, e, openBalanceInput(100))
	second := createOrder(t, e, openBalanceInput(200))

	assert.Equal(t, "OTK-000001", first.Code)
	assert.Equal(t, "OTK-000002", second.Code)
	assert.Equal(t, int64(1), first.Number)
	assert.Equal(t, int64(2), second.Number)

	// Fresh engine on the same store continues the sequence.
	third, err := ledger.NewEngine(e.Store).CreateOrder(ctx, openBalanceInput(50))
	require.NoError(t, err)
	assert.Equal(t, "OTK-000003", third.Code)
}

func TestCreateOrder_StartsPendingWithFullBalance(t *testing.T) {
	e, store := newTestEngine(t)

	o := createOrder(t, e, openBalanceInput(100))

	assert.Equal(t, ledger.StatusPending, o.Status)
	assert.True(t, o.AmountPaid.IsZero())
	assert.True(t, o.Balance.Equal(decimal.NewFromInt(100)))
	assert.False(t, o.FullyPaid)

	history, err := store.History(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ledger.HistoryStatusChange, history[0].Kind)
	assert.Equal(t, "order created, pending", history[0].Detail)
	assert.Equal(t, "admin-1", history[0].Actor)
}

func TestCreateOrder_InstallmentTerms(t *testing.T) {
	e, _ := newTestEngine(t)
	firstDue := date(2024, time.January, 15)

	o := createOrder(t, e, installmentInput(300, 3, firstDue))

	assert.Equal(t, 3, o.InstallmentCount)
	assert.True(t, o.InstallmentAmount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 0, o.InstallmentsPaid)
	assert.Equal(t, 3, o.InstallmentsRemaining)
	if assert.NotNil(t, o.NextDueDate) {
		assert.Equal(t, firstDue, *o.NextDueDate)
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	// Non-positive total
	in := openBalanceInput(0)
	_, err := e.CreateOrder(ctx, in)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	// Installment mode without a count
	in = installmentInput(300, 0, date(2024, time.January, 15))
	_, err = e.CreateOrder(ctx, in)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	// Preorder without a fulfillment date
	in = openBalanceInput(100)
	in.Preorder = true
	_, err = e.CreateOrder(ctx, in)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestCreateOrder_ConcurrentCodesAreUniqueAndContiguous(t *testing.T) {
	// GIVEN: N callers racing to create orders
	// THEN: N distinct codes, contiguous from the counter's prior value

	e, _ := newTestEngine(t)
	ctx := context.Background()
	const n = 10

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = make(map[string]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := e.CreateOrder(ctx, openBalanceInput(10))
			if err != nil {
				return
			}
			mu.Lock()
			codes[o.Code] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, codes, n, "every creation must get its own code")
	for i := 1; i <= n; i++ {
		assert.True(t, codes[fmt.Sprintf("OTK-%06d", i)], "missing code for sequence %d", i)
	}
}

// =============================================================================
// REGISTER PAYMENT
// =============================================================================

func TestRegisterPayment_OrderNotFound(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.RegisterPayment(context.Background(), payInput("missing", 10))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestRegisterPayment_OpenBalanceRejectsOverpayment(t *testing.T) {
	// GIVEN: An open-balance order with balance 100
	// WHEN: A confirmed payment of 101 arrives
	// THEN: ValidationError, and the order is untouched

	e, store := newTestEngine(t)
	ctx := context.Background()
	o := createOrder(t, e, openBalanceInput(100))

	_, err := e.RegisterPayment(ctx, payInput(o.ID, 101))
	assert.ErrorIs(t, err, ledger.ErrValidation)
	var overErr *ledger.OverpaymentError
	assert.ErrorAs(t, err, &overErr)

	reloaded, err := store.Order(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.AmountPaid.IsZero(), "rejected payment must leave no trace")
	payments, err := store.PaymentsByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, payments, "no orphaned payment record")

	// Exactly the balance is accepted and completes the order.
	_, err = e.RegisterPayment(ctx, payInput(o.ID, 100))
	require.NoError(t, err)
	reloaded, err = store.Order(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.FullyPaid)
	assert.Equal(t, ledger.StatusPaid, reloaded.Status)
	assert.True(t, reloaded.Balance.IsZero())
}

func TestRegisterPayment_SingleModeClampsExcess(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	in := openBalanceInput(100)
	in.Mode = ledger.ModeSingle
	o := createOrder(t, e, in)

	_, err := e.RegisterPayment(ctx, payInput(o.ID, 150))
	require.NoError(t, err, "single mode does not hard-reject excess")

	reloaded, err := store.Order(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Balance.IsZero(), "balance floors at zero, never negative")
	assert.Equal(t, ledger.StatusPaid, reloaded.Status)
}

func TestRegisterPayment_InstallmentProgression(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	o := createOrder(t, e, installmentInput(300, 3, date(2024, time.January, 15)))

	p1, err := e.RegisterPayment(ctx, payInput(o.ID, 100))
	require.NoError(t, err)
	assert.Equal(t, 1, p1.InstallmentIndex)

	reloaded, err := store.Order(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.InstallmentsPaid)
	require.NotNil(t, reloaded.NextDueDate)
	assert.Equal(t, date(2024, time.February, 15), *reloaded.NextDueDate)

	p2, err := e.RegisterPayment(ctx, payInput(o.ID, 100))
	require.NoError(t, err)
	assert.Equal(t, 2, p2.InstallmentIndex)

	reloaded, err = store.Order(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.InstallmentsPaid)
	require.NotNil(t, reloaded.NextDueDate)
	assert.Equal(t, date(2024, time.March, 15), *reloaded.NextDueDate)

	p3, err := e.RegisterPayment(ctx, payInput(o.ID, 100))
	require.NoError(t, err)
	assert.Equal(t, 3, p3.InstallmentIndex)

	reloaded, err = store.Order(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.InstallmentsPaid)
	assert.Equal(t, 0, reloaded.InstallmentsRemaining)
	assert.Nil(t, reloaded.NextDueDate)
	assert.Equal(t, ledger.StatusPaid, reloaded.Status)
}

func TestRegisterPayment_UnconfirmedLeavesAggregateUntouched(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	o := createOrder(t, e, openBalanceInput(100))

	in := payInput(o.ID, 40)
	in.Confirmed = false
	p, err := e.RegisterPayment(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 0, p.InstallmentIndex)

	reloaded, err := store.Order(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.AmountPaid.IsZero())
	assert.True(t, reloaded.Balance.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, ledger.StatusPending, reloaded.Status)

	// No payment_recorded entry for an unconfirmed payment.
	history, err := store.History(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ledger.HistoryStatusChange, history[0].Kind)
}

func TestRegisterPayment_SnapshotsOrderTerms(t *testing.T) {
	e, _ := newTestEngine(t)
	o := createOrder(t, e, installmentInput(300, 3, date(2024, time.January, 15)))

	p, err := e.RegisterPayment(context.Background(), payInput(o.ID, 100))
	require.NoError(t, err)

	assert.Equal(t, o.ClientID, p.ClientID)
	assert.Equal(t, ledger.ModeInstallment, p.Mode)
	assert.Equal(t, 3, p.PlannedInstallments)
	assert.True(t, p.InstallmentAmount.Equal(decimal.NewFromInt(100)))
}

func TestRegisterPayment_SameOrderSerializes(t *testing.T) {
	// Two concurrent confirmed payments against one order must both land
	// and the final aggregate must see both.
	e, store := newTestEngine(t)
	ctx := context.Background()
	o := createOrder(t, e, openBalanceInput(100))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.RegisterPayment(ctx, payInput(o.ID, 30))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	reloaded, err := store.Order(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.AmountPaid.Equal(decimal.NewFromInt(60)))
	assert.True(t, reloaded.Balance.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, ledger.StatusPartiallyPaid, reloaded.Status)
}

// =============================================================================
// EDIT PAYMENT
// =============================================================================

func TestEditPayment_TriggersFullRebuild(t *testing.T) {
	// GIVEN: total=100 with confirmed payments of 20 and 50
	// WHEN: The 50 is corrected to 80
	// THEN: Balance goes from 30 to 0 and the order flips to paid

	e, store := newTestEngine(t)
	ctx := context.Background()
	o := createOrder(t, e, openBalanceInput(100))

	_, err := e.RegisterPayment(ctx, payInput(o.ID, 20))
	require.NoError(t, err)
	p, err := e.RegisterPayment(ctx, payInput(o.ID, 50))
	require.NoError(t, err)

	amount := decimal.NewFromInt(80)
	edited, err := e.EditPayment(ctx, p.ID, ledger.PaymentChanges{Amount: &amount}, "admin-2")
	require.NoError(t, err)
	assert.True(t, edited.Amount.Equal(amount))

	reloaded, err := store.Order(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Balance.IsZero())
	assert.Equal(t, ledger.StatusPaid, reloaded.Status)
	assert.True(t, reloaded.AmountPaid.Equal(decimal.NewFromInt(100)))

	history, err := store.History(ctx, o.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, ledger.HistoryPaymentEdited, last.Kind)
	assert.Equal(t, "payment edited: from $50 to $80", last.Detail)
	assert.Equal(t, "admin-2", last.Actor)
}

func TestEditPayment_UnconfirmRemovesAmountFromAggregate(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	o := createOrder(t, e, openBalanceInput(100))

	p, err := e.RegisterPayment(ctx, payInput(o.ID, 100))
	require.NoError(t, err)

	confirmedFlag := false
	_, err = e.EditPayment(ctx, p.ID, ledger.PaymentChanges{Confirmed: &confirmedFlag}, "admin-1")
	require.NoError(t, err)

	reloaded, err := store.Order(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.AmountPaid.IsZero())
	assert.Equal(t, ledger.StatusPending, reloaded.Status)
	assert.False(t, reloaded.FullyPaid)
}

func TestEditPayment_ConfirmingAppliesAmount(t *testing.T) {
	// A deferred payment confirmed later must start counting; this is
	// exactly the delta incremental patching would get wrong.
	e, store := newTestEngine(t)
	ctx := context.Background()
	o := createOrder(t, e, openBalanceInput(100))

	in := payInput(o.ID, 60)
	in.Confirmed = false
	p, err := e.RegisterPayment(ctx, in)
	require.NoError(t, err)

	confirmedFlag := true
	_, err = e.EditPayment(ctx, p.ID, ledger.PaymentChanges{Confirmed: &confirmedFlag}, "admin-1")
	require.NoError(t, err)

	reloaded, err := store.Order(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.AmountPaid.Equal(decimal.NewFromInt(60)))
	assert.Equal(t, ledger.StatusPartiallyPaid, reloaded.Status)
}

func TestEditPayment_NotFound(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.EditPayment(context.Background(), "missing", ledger.PaymentChanges{}, "admin-1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// DELETE PAYMENT
// =============================================================================

func TestDeletePayment_RebuildsOrder(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	o := createOrder(t, e, installmentInput(300, 3, date(2024, time.January, 15)))

	_, err := e.RegisterPayment(ctx, payInput(o.ID, 100))
	require.NoError(t, err)
	p2, err := e.RegisterPayment(ctx, payInput(o.ID, 100))
	require.NoError(t, err)

	require.NoError(t, e.DeletePayment(ctx, p2.ID, "admin-1"))

	reloaded, err := store.Order(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.AmountPaid.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 1, reloaded.InstallmentsPaid)
	assert.Equal(t, 2, reloaded.InstallmentsRemaining)
	require.NotNil(t, reloaded.NextDueDate)
	assert.Equal(t, date(2024, time.February, 15), *reloaded.NextDueDate)

	_, err = store.Payment(ctx, p2.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound, "deletion is physical")

	history, err := store.History(ctx, o.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, ledger.HistoryPaymentDeleted, last.Kind)
	assert.Equal(t, "payment deleted for $100", last.Detail)
}

// =============================================================================
// DELETE ORDER
// =============================================================================

func TestDeleteOrder_Guard(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	// Pending order, no payments: delete succeeds.
	clean := createOrder(t, e, openBalanceInput(100))
	require.NoError(t, e.DeleteOrder(ctx, clean.ID, "admin-1"))
	_, err := store.Order(ctx, clean.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	// Any payment record at all blocks deletion, even unconfirmed.
	withDraft := createOrder(t, e, openBalanceInput(100))
	in := payInput(withDraft.ID, 10)
	in.Confirmed = false
	_, err = e.RegisterPayment(ctx, in)
	require.NoError(t, err)
	err = e.DeleteOrder(ctx, withDraft.ID, "admin-1")
	assert.ErrorIs(t, err, ledger.ErrPreconditionFailed)

	// Confirmed payments block deletion too.
	withPaid := createOrder(t, e, openBalanceInput(100))
	_, err = e.RegisterPayment(ctx, payInput(withPaid.ID, 50))
	require.NoError(t, err)
	err = e.DeleteOrder(ctx, withPaid.ID, "admin-1")
	assert.ErrorIs(t, err, ledger.ErrPreconditionFailed)
}

// =============================================================================
// NOTES
// =============================================================================

func TestAppendNote_NoFinancialEffect(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	o := createOrder(t, e, openBalanceInput(100))

	require.NoError(t, e.AppendNote(ctx, o.ID, "client asked for pickup on Friday", "admin-1"))

	reloaded, err := store.Order(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.AmountPaid.IsZero())
	assert.Equal(t, ledger.StatusPending, reloaded.Status)

	history, err := store.History(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ledger.HistoryNote, history[1].Kind)
	assert.Equal(t, "client asked for pickup on Friday", history[1].Detail)
}

// =============================================================================
// PROPERTY: INVARIANTS ACROSS MIXED OPERATION SEQUENCES
// =============================================================================

func TestInvariants_HoldAfterEveryOperation(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	o := createOrder(t, e, openBalanceInput(200))

	check := func() {
		t.Helper()
		reloaded, err := store.Order(ctx, o.ID)
		require.NoError(t, err)
		payments, err := store.PaymentsByOrder(ctx, o.ID)
		require.NoError(t, err)

		sum := decimal.Zero
		for _, p := range payments {
			if p.Confirmed {
				sum = sum.Add(p.Amount)
			}
		}
		assert.True(t, reloaded.AmountPaid.Equal(sum),
			"amount_paid %s != confirmed sum %s", reloaded.AmountPaid, sum)

		wantBalance := reloaded.Total.Sub(sum)
		if wantBalance.IsNegative() {
			wantBalance = decimal.Zero
		}
		assert.True(t, reloaded.Balance.Equal(wantBalance))
		assert.Equal(t, wantBalance.IsZero(), reloaded.FullyPaid)
	}

	p1, err := e.RegisterPayment(ctx, payInput(o.ID, 80))
	require.NoError(t, err)
	check()

	p2, err := e.RegisterPayment(ctx, payInput(o.ID, 40))
	require.NoError(t, err)
	check()

	amount := decimal.NewFromInt(120)
	_, err = e.EditPayment(ctx, p1.ID, ledger.PaymentChanges{Amount: &amount}, "admin-1")
	require.NoError(t, err)
	check()

	require.NoError(t, e.DeletePayment(ctx, p2.ID, "admin-1"))
	check()

	require.NoError(t, e.DeletePayment(ctx, p1.ID, "admin-1"))
	check()
}
