/*
history.go - Audit trail entries

PURPOSE:
  Builders for the history entries the engine appends whenever an order's
  state changes. Detail strings name the operation and the financial delta
  so intent can be reconstructed during review.
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

func orderCreatedEntry(now time.Time, actor string) HistoryEntry {
	return HistoryEntry{
		At:     now,
		Kind:   HistoryStatusChange,
		Detail: "order created, pending",
		Actor:  actor,
	}
}

func paymentRecordedEntry(now time.Time, amount decimal.Decimal, actor string) HistoryEntry {
	return HistoryEntry{
		At:     now,
		Kind:   HistoryPaymentRecord,
		Detail: fmt.Sprintf("payment recorded for $%s", amount),
		Actor:  actor,
	}
}

func paymentEditedEntry(now time.Time, from, to decimal.Decimal, actor string) HistoryEntry {
	return HistoryEntry{
		At:     now,
		Kind:   HistoryPaymentEdited,
		Detail: fmt.Sprintf("payment edited: from $%s to $%s", from, to),
		Actor:  actor,
	}
}

func paymentDeletedEntry(now time.Time, amount decimal.Decimal, actor string) HistoryEntry {
	return HistoryEntry{
		At:     now,
		Kind:   HistoryPaymentDeleted,
		Detail: fmt.Sprintf("payment deleted for $%s", amount),
		Actor:  actor,
	}
}

func noteEntry(now time.Time, text, actor string) HistoryEntry {
	return HistoryEntry{
		At:     now,
		Kind:   HistoryNote,
		Detail: text,
		Actor:  actor,
	}
}
