/*
handlers.go - HTTP API handlers for the order/payment ledger

PURPOSE:
  Exposes the ledger engine via REST. Handles HTTP request/response, JSON
  serialization and input validation, and delegates every state change to
  the engine's transactional operations.

ENDPOINTS:
  Clients:
    GET    /api/clients                 List clients (?active=true)
    POST   /api/clients                 Create client
    GET    /api/clients/{id}            Get client
    PUT    /api/clients/{id}            Update client
    POST   /api/clients/{id}/deactivate Deactivate client
    GET    /api/clients/{id}/summary    Order totals for one client

  Orders:
    GET    /api/orders                  List orders (?client_id=)
    POST   /api/orders                  Create order
    GET    /api/orders/{id}             Order + payments + history
    DELETE /api/orders/{id}             Guarded delete
    POST   /api/orders/{id}/notes       Append note history entry

  Payments:
    GET    /api/payments                List payments (?order_id= | ?client_id=)
    POST   /api/payments                Register payment
    PUT    /api/payments/{id}           Edit payment (full rebuild)
    DELETE /api/payments/{id}           Delete payment (full rebuild)

  Reports:
    GET    /api/reports/upcoming-dues   Installment orders due soon (?days=)
    POST   /api/reports/due-scan        Run the due sweep immediately

ERROR HANDLING:
  Engine errors map to HTTP status via the ledger taxonomy:
  - 400: validation errors, malformed input
  - 404: order/payment/client not found
  - 412: precondition failed (guarded order delete)
  - 503: transient conflict, retry the whole operation
  - 500: storage and internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/otk/order-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    ledgerStore
	Engine   *ledger.Engine
	validate *validator.Validate
}

// ledgerStore is everything the handlers need from the storage layer.
type ledgerStore interface {
	ledger.Store
	ledger.ClientStore
}

// NewHandler creates a new handler over the given store.
func NewHandler(store ledgerStore) *Handler {
	return &Handler{
		Store:    store,
		Engine:   ledger.NewEngine(store),
		validate: validator.New(),
	}
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

// ListClients returns all clients, optionally only active ones.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	onlyActive := r.URL.Query().Get("active") == "true"

	clients, err := h.Store.Clients(r.Context(), onlyActive)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list clients", err)
		return
	}

	dtos := make([]ClientDTO, len(clients))
	for i, c := range clients {
		dtos[i] = toClientDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateClient stores a new client record.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if !h.decode(w, r, &req) {
		return
	}

	now := time.Now().UTC()
	c := &ledger.Client{
		ID:        ledger.NewClientID(),
		Name:      req.Name,
		Phone:     req.Phone,
		Email:     req.Email,
		Notes:     req.Notes,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.Store.InsertClient(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create client", err)
		return
	}
	writeJSON(w, http.StatusCreated, toClientDTO(*c))
}

// GetClient returns a single client.
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id := ledger.ClientID(chi.URLParam(r, "id"))

	c, err := h.Store.Client(r.Context(), id)
	if err != nil {
		writeError(w, httpStatus(err), "Failed to get client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*c))
}

// UpdateClient updates a client's display fields.
func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	id := ledger.ClientID(chi.URLParam(r, "id"))

	var req UpdateClientRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.Store.Client(r.Context(), id)
	if err != nil {
		writeError(w, httpStatus(err), "Failed to get client", err)
		return
	}

	c.Name = req.Name
	c.Phone = req.Phone
	c.Email = req.Email
	c.Notes = req.Notes
	c.UpdatedAt = time.Now().UTC()
	if err := h.Store.UpdateClient(r.Context(), c); err != nil {
		writeError(w, httpStatus(err), "Failed to update client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*c))
}

// DeactivateClient soft-deactivates a client. Their orders and payments
// remain intact.
func (h *Handler) DeactivateClient(w http.ResponseWriter, r *http.Request) {
	id := ledger.ClientID(chi.URLParam(r, "id"))

	c, err := h.Store.Client(r.Context(), id)
	if err != nil {
		writeError(w, httpStatus(err), "Failed to get client", err)
		return
	}

	c.Active = false
	c.UpdatedAt = time.Now().UTC()
	if err := h.Store.UpdateClient(r.Context(), c); err != nil {
		writeError(w, httpStatus(err), "Failed to deactivate client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*c))
}

// GetClientSummary aggregates one client's orders for the overview screen.
func (h *Handler) GetClientSummary(w http.ResponseWriter, r *http.Request) {
	id := ledger.ClientID(chi.URLParam(r, "id"))

	if _, err := h.Store.Client(r.Context(), id); err != nil {
		writeError(w, httpStatus(err), "Failed to get client", err)
		return
	}
	orders, err := h.Store.OrdersByClient(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list orders", err)
		return
	}

	summary := ClientSummaryDTO{ClientID: string(id), TotalOrders: len(orders)}
	billed, paid := decimal.Zero, decimal.Zero
	for _, o := range orders {
		billed = billed.Add(o.Total)
		paid = paid.Add(o.AmountPaid)
		if o.FullyPaid {
			summary.PaidOrders++
		} else {
			summary.PendingOrders++
		}
	}
	summary.TotalBilled = billed.String()
	summary.TotalPaid = paid.String()
	summary.TotalOwed = billed.Sub(paid).String()

	writeJSON(w, http.StatusOK, summary)
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// ListOrders returns all orders, or one client's with ?client_id=.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	var (
		orders []ledger.Order
		err    error
	)
	if clientID := r.URL.Query().Get("client_id"); clientID != "" {
		orders, err = h.Store.OrdersByClient(r.Context(), ledger.ClientID(clientID))
	} else {
		orders, err = h.Store.Orders(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list orders", err)
		return
	}

	dtos := make([]OrderDTO, len(orders))
	for i, o := range orders {
		dtos[i] = toOrderDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateOrder creates a new order through the engine.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	total, err := decimal.NewFromString(req.Total)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid total", err)
		return
	}

	in := ledger.CreateOrderInput{
		ClientID:         ledger.ClientID(req.ClientID),
		Description:      req.Description,
		Total:            total,
		Mode:             ledger.PaymentMode(req.Mode),
		InstallmentCount: req.InstallmentCount,
		Preorder:         req.Preorder,
		Actor:            req.Actor,
	}
	if in.FirstDueDate, err = parseDate(req.FirstDueDate); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid first due date", err)
		return
	}
	if in.FulfillmentDate, err = parseDate(req.FulfillmentDate); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid fulfillment date", err)
		return
	}

	o, err := h.Engine.CreateOrder(r.Context(), in)
	if err != nil {
		writeError(w, httpStatus(err), "Failed to create order", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderDTO(*o))
}

// GetOrder returns an order with its payments and audit history.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := ledger.OrderID(chi.URLParam(r, "id"))

	o, err := h.Store.Order(r.Context(), id)
	if err != nil {
		writeError(w, httpStatus(err), "Failed to get order", err)
		return
	}
	payments, err := h.Store.PaymentsByOrder(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}
	history, err := h.Store.History(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load history", err)
		return
	}

	resp := OrderDetailResponse{
		Order:    toOrderDTO(*o),
		Payments: make([]PaymentDTO, len(payments)),
		History:  make([]HistoryEntryDTO, len(history)),
	}
	for i, p := range payments {
		resp.Payments[i] = toPaymentDTO(p)
	}
	for i, e := range history {
		resp.History[i] = toHistoryDTO(e)
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteOrder removes a pending, payment-free order.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id := ledger.OrderID(chi.URLParam(r, "id"))
	actor := r.URL.Query().Get("actor")

	if err := h.Engine.DeleteOrder(r.Context(), id, actor); err != nil {
		writeError(w, httpStatus(err), "Failed to delete order", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddOrderNote appends a free-text history entry.
func (h *Handler) AddOrderNote(w http.ResponseWriter, r *http.Request) {
	id := ledger.OrderID(chi.URLParam(r, "id"))

	var req AddNoteRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.Engine.AppendNote(r.Context(), id, req.Text, req.Actor); err != nil {
		writeError(w, httpStatus(err), "Failed to add note", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListPayments returns payments, filtered by ?order_id= or ?client_id=.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	var (
		payments []ledger.Payment
		err      error
	)
	switch {
	case r.URL.Query().Get("order_id") != "":
		payments, err = h.Store.PaymentsByOrder(r.Context(), ledger.OrderID(r.URL.Query().Get("order_id")))
	case r.URL.Query().Get("client_id") != "":
		payments, err = h.Store.PaymentsByClient(r.Context(), ledger.ClientID(r.URL.Query().Get("client_id")))
	default:
		payments, err = h.Store.Payments(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}

	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RegisterPayment records a payment against an order.
func (h *Handler) RegisterPayment(w http.ResponseWriter, r *http.Request) {
	var req RegisterPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	p, err := h.Engine.RegisterPayment(r.Context(), ledger.RegisterPaymentInput{
		OrderID:   ledger.OrderID(req.OrderID),
		Amount:    amount,
		Medium:    req.Medium,
		Confirmed: req.Confirmed,
		Note:      req.Note,
		Actor:     req.Actor,
	})
	if err != nil {
		writeError(w, httpStatus(err), "Failed to register payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(*p))
}

// EditPayment corrects a payment and rebuilds the owning order.
func (h *Handler) EditPayment(w http.ResponseWriter, r *http.Request) {
	id := ledger.PaymentID(chi.URLParam(r, "id"))

	var req EditPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	var changes ledger.PaymentChanges
	if req.Amount != nil {
		amount, err := decimal.NewFromString(*req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid amount", err)
			return
		}
		changes.Amount = &amount
	}
	changes.Medium = req.Medium
	changes.Confirmed = req.Confirmed
	changes.Note = req.Note

	p, err := h.Engine.EditPayment(r.Context(), id, changes, req.Actor)
	if err != nil {
		writeError(w, httpStatus(err), "Failed to edit payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// DeletePayment removes a payment and rebuilds the owning order.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id := ledger.PaymentID(chi.URLParam(r, "id"))
	actor := r.URL.Query().Get("actor")

	if err := h.Engine.DeletePayment(r.Context(), id, actor); err != nil {
		writeError(w, httpStatus(err), "Failed to delete payment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// UpcomingDues lists installment orders due within ?days= (default 7) or
// already overdue.
func (h *Handler) UpcomingDues(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid days parameter", err)
			return
		}
		days = n
	}

	now := time.Now().UTC()
	orders, err := h.Store.OrdersDueBy(r.Context(), now.AddDate(0, 0, days))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query dues", err)
		return
	}

	today := now.Truncate(24 * time.Hour)
	dtos := make([]DueOrderDTO, len(orders))
	for i, o := range orders {
		dtos[i] = DueOrderDTO{
			Order:       toOrderDTO(o),
			NextDueDate: o.NextDueDate.Format(dateLayout),
			Overdue:     o.NextDueDate.Before(today),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

// decode parses and validates a JSON request body. Writes the error
// response itself and returns false when the body is unusable.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

// httpStatus maps engine errors to HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, ledger.ErrTransientConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	writeJSON(w, status, map[string]string{
		"error":  message,
		"detail": detail,
	})
}
