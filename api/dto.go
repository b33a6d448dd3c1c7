/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY & DATES:
  Amounts travel as decimal strings ("150.50"), never floats. Due dates
  and fulfillment dates use "2006-01-02"; timestamps use RFC3339.

VALIDATION:
  Request types carry validator/v10 struct tags; handlers run the shared
  validator before touching the engine.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/otk/order-ledger/ledger"
)

const dateLayout = "2006-01-02"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateClientRequest is the request to create a client.
type CreateClientRequest struct {
	Name  string `json:"name" validate:"required"`
	Phone string `json:"phone"`
	Email string `json:"email" validate:"omitempty,email"`
	Notes string `json:"notes"`
}

// UpdateClientRequest is the request to update a client's display fields.
type UpdateClientRequest struct {
	Name  string `json:"name" validate:"required"`
	Phone string `json:"phone"`
	Email string `json:"email" validate:"omitempty,email"`
	Notes string `json:"notes"`
}

// CreateOrderRequest is the request to create an order.
type CreateOrderRequest struct {
	ClientID         string `json:"client_id" validate:"required"`
	Description      string `json:"description" validate:"required"`
	Total            string `json:"total" validate:"required"`
	Mode             string `json:"mode" validate:"required,oneof=single installment open_balance"`
	InstallmentCount int    `json:"installment_count,omitempty"`
	FirstDueDate     string `json:"first_due_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Preorder         bool   `json:"preorder,omitempty"`
	FulfillmentDate  string `json:"fulfillment_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Actor            string `json:"actor" validate:"required"`
}

// RegisterPaymentRequest is the request to record a payment.
type RegisterPaymentRequest struct {
	OrderID   string `json:"order_id" validate:"required"`
	Amount    string `json:"amount" validate:"required"`
	Medium    string `json:"medium"`
	Confirmed bool   `json:"confirmed"`
	Note      string `json:"note"`
	Actor     string `json:"actor" validate:"required"`
}

// EditPaymentRequest carries corrections to a payment. Absent fields are
// left unchanged.
type EditPaymentRequest struct {
	Amount    *string `json:"amount,omitempty"`
	Medium    *string `json:"medium,omitempty"`
	Confirmed *bool   `json:"confirmed,omitempty"`
	Note      *string `json:"note,omitempty"`
	Actor     string  `json:"actor" validate:"required"`
}

// AddNoteRequest appends a free-text note to an order's history.
type AddNoteRequest struct {
	Text  string `json:"text" validate:"required"`
	Actor string `json:"actor" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ClientDTO represents a client in API responses.
type ClientDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	Notes     string `json:"notes,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// OrderDTO represents an order with its derived financial state.
type OrderDTO struct {
	ID          string `json:"id"`
	Number      int64  `json:"number"`
	Code        string `json:"code"`
	ClientID    string `json:"client_id"`
	Description string `json:"description"`
	Total       string `json:"total"`
	Mode        string `json:"mode"`

	InstallmentCount  int    `json:"installment_count,omitempty"`
	InstallmentAmount string `json:"installment_amount,omitempty"`
	FirstDueDate      string `json:"first_due_date,omitempty"`
	NextDueDate       string `json:"next_due_date,omitempty"`

	Preorder        bool   `json:"preorder,omitempty"`
	FulfillmentDate string `json:"fulfillment_date,omitempty"`

	AmountPaid            string `json:"amount_paid"`
	Balance               string `json:"balance"`
	FullyPaid             bool   `json:"fully_paid"`
	Status                string `json:"status"`
	InstallmentsPaid      int    `json:"installments_paid,omitempty"`
	InstallmentsRemaining int    `json:"installments_remaining,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// PaymentDTO represents a payment in API responses.
type PaymentDTO struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	ClientID string `json:"client_id"`
	Mode     string `json:"mode"`

	Amount              string `json:"amount"`
	InstallmentIndex    int    `json:"installment_index,omitempty"`
	PlannedInstallments int    `json:"planned_installments,omitempty"`
	InstallmentAmount   string `json:"installment_amount,omitempty"`

	Medium     string `json:"medium,omitempty"`
	Confirmed  bool   `json:"confirmed"`
	Note       string `json:"note,omitempty"`
	RecordedBy string `json:"recorded_by,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// HistoryEntryDTO represents one audit trail entry.
type HistoryEntryDTO struct {
	Seq    int64  `json:"seq"`
	At     string `json:"at"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
	Actor  string `json:"actor,omitempty"`
}

// OrderDetailResponse bundles an order with its payments and history.
type OrderDetailResponse struct {
	Order    OrderDTO          `json:"order"`
	Payments []PaymentDTO      `json:"payments"`
	History  []HistoryEntryDTO `json:"history"`
}

// ClientSummaryDTO aggregates a client's orders for the overview screen.
type ClientSummaryDTO struct {
	ClientID      string `json:"client_id"`
	TotalOrders   int    `json:"total_orders"`
	PaidOrders    int    `json:"paid_orders"`
	PendingOrders int    `json:"pending_orders"`
	TotalBilled   string `json:"total_billed"`
	TotalPaid     string `json:"total_paid"`
	TotalOwed     string `json:"total_owed"`
}

// DueOrderDTO is one row of the upcoming-dues report.
type DueOrderDTO struct {
	Order       OrderDTO `json:"order"`
	NextDueDate string   `json:"next_due_date"`
	Overdue     bool     `json:"overdue"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toClientDTO(c ledger.Client) ClientDTO {
	return ClientDTO{
		ID:        string(c.ID),
		Name:      c.Name,
		Phone:     c.Phone,
		Email:     c.Email,
		Notes:     c.Notes,
		Active:    c.Active,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.Format(time.RFC3339),
	}
}

func toOrderDTO(o ledger.Order) OrderDTO {
	dto := OrderDTO{
		ID:          string(o.ID),
		Number:      o.Number,
		Code:        o.Code,
		ClientID:    string(o.ClientID),
		Description: o.Description,
		Total:       o.Total.String(),
		Mode:        string(o.Mode),

		InstallmentCount: o.InstallmentCount,
		Preorder:         o.Preorder,

		AmountPaid:            o.AmountPaid.String(),
		Balance:               o.Balance.String(),
		FullyPaid:             o.FullyPaid,
		Status:                string(o.Status),
		InstallmentsPaid:      o.InstallmentsPaid,
		InstallmentsRemaining: o.InstallmentsRemaining,

		CreatedAt: o.CreatedAt.Format(time.RFC3339),
		UpdatedAt: o.UpdatedAt.Format(time.RFC3339),
	}
	if o.Mode == ledger.ModeInstallment {
		dto.InstallmentAmount = o.InstallmentAmount.String()
	}
	if o.FirstDueDate != nil {
		dto.FirstDueDate = o.FirstDueDate.Format(dateLayout)
	}
	if o.NextDueDate != nil {
		dto.NextDueDate = o.NextDueDate.Format(dateLayout)
	}
	if o.FulfillmentDate != nil {
		dto.FulfillmentDate = o.FulfillmentDate.Format(dateLayout)
	}
	return dto
}

func toPaymentDTO(p ledger.Payment) PaymentDTO {
	dto := PaymentDTO{
		ID:       string(p.ID),
		OrderID:  string(p.OrderID),
		ClientID: string(p.ClientID),
		Mode:     string(p.Mode),

		Amount:              p.Amount.String(),
		InstallmentIndex:    p.InstallmentIndex,
		PlannedInstallments: p.PlannedInstallments,

		Medium:     p.Medium,
		Confirmed:  p.Confirmed,
		Note:       p.Note,
		RecordedBy: p.RecordedBy,
		CreatedAt:  p.CreatedAt.Format(time.RFC3339),
	}
	if p.Mode == ledger.ModeInstallment {
		dto.InstallmentAmount = p.InstallmentAmount.String()
	}
	return dto
}

func toHistoryDTO(e ledger.HistoryEntry) HistoryEntryDTO {
	return HistoryEntryDTO{
		Seq:    e.Seq,
		At:     e.At.Format(time.RFC3339),
		Kind:   string(e.Kind),
		Detail: e.Detail,
		Actor:  e.Actor,
	}
}
