/*
sequence.go - Order code issuance

PURPOSE:
  Formats the human-readable order code from the shared sequence counter.
  The counter itself is a single row behind Tx.NextSequence, updated with
  an atomic read-increment-write inside the order-creation transaction, so
  codes are globally unique and monotonically increasing in issuance order.
  The counter is a single point of serialization for order creation; an
  accepted bottleneck at the expected creation rate.
*/
package ledger

import "fmt"

// DefaultCodePrefix is the order code prefix used unless the engine is
// configured otherwise.
const DefaultCodePrefix = "OTK"

// orderCounter is the name of the shared order sequence counter.
const orderCounter = "orders"

// FormatCode renders a sequence value as a display code: prefix, dash,
// value zero-padded to 6 digits ("OTK-000123").
func FormatCode(prefix string, n int64) string {
	return fmt.Sprintf("%s-%06d", prefix, n)
}
