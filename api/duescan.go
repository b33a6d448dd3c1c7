/*
duescan.go - Scheduled installment due-date sweep

PURPOSE:
  Periodically scans for installment orders whose next due date is near or
  already past and logs a digest for the operator. The sweep is read-only:
  due dates advance through the engine when installments are paid, never
  from here.

DESIGN:
  - robfig/cron drives the schedule (default: daily at 08:00)
  - Horizon controls how far ahead the sweep looks (default: 7 days)
  - A manual trigger endpoint runs the same sweep on demand

USAGE:
  scanner := NewDueScanner(store)
  scanner.Start()
  // ... later
  scanner.Stop()

SEE ALSO:
  - handlers.go: UpcomingDues endpoint (same query, on-demand)
*/
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/otk/order-ledger/ledger"
)

const defaultDueSchedule = "0 8 * * *"

// DueScanner runs the periodic due-date sweep.
type DueScanner struct {
	Store    ledger.Reader
	Schedule string // cron expression
	Horizon  int    // days ahead to include

	cron *cron.Cron
}

// NewDueScanner creates a scanner with the default schedule and horizon.
func NewDueScanner(store ledger.Reader) *DueScanner {
	return &DueScanner{
		Store:    store,
		Schedule: defaultDueSchedule,
		Horizon:  7,
	}
}

// Start registers the cron job and begins the schedule.
func (s *DueScanner) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.Schedule, func() { s.Run(context.Background()) }); err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("Due scanner started (schedule %q, horizon %d days)", s.Schedule, s.Horizon)
	return nil
}

// Stop halts the schedule. A sweep already in flight finishes.
func (s *DueScanner) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Run performs one sweep and logs the digest.
func (s *DueScanner) Run(ctx context.Context) {
	now := time.Now().UTC()
	orders, err := s.Store.OrdersDueBy(ctx, now.AddDate(0, 0, s.Horizon))
	if err != nil {
		log.Printf("Due scan failed: %v", err)
		return
	}
	if len(orders) == 0 {
		log.Printf("Due scan: no installments due within %d days", s.Horizon)
		return
	}

	today := now.Truncate(24 * time.Hour)
	overdue := 0
	for _, o := range orders {
		state := "due"
		if o.NextDueDate.Before(today) {
			state = "OVERDUE"
			overdue++
		}
		log.Printf("Due scan: order %s (%s) installment %d/%d %s %s, balance $%s",
			o.Code, o.ClientID, o.InstallmentsPaid+1, o.InstallmentCount,
			state, o.NextDueDate.Format(dateLayout), o.Balance)
	}
	log.Printf("Due scan: %d order(s) due within %d days, %d overdue",
		len(orders), s.Horizon, overdue)
}

// Trigger runs one sweep immediately in response to an HTTP request.
func (s *DueScanner) Trigger(w http.ResponseWriter, r *http.Request) {
	s.Run(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}
