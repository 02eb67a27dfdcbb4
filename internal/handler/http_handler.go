package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pesio-ai/be-workflow-engine/internal/errors"
	"github.com/pesio-ai/be-workflow-engine/internal/logger"
	"github.com/pesio-ai/be-workflow-engine/internal/repository"
	"github.com/pesio-ai/be-workflow-engine/internal/service"
	"github.com/pesio-ai/be-workflow-engine/internal/workflow"
)

// Actor headers. Identity is taken as given; authentication happens upstream.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	approvals *service.ApprovalService
	orders    *service.OrderService
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(approvals *service.ApprovalService, orders *service.OrderService, log *logger.Logger) *HTTPHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPHandler{
		approvals: approvals,
		orders:    orders,
		log:       log.Component("http"),
	}
}

// Register mounts the API routes on r.
func (h *HTTPHandler) Register(r chi.Router) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/categories", h.ListCategories)
		r.Get("/approvals/queue", h.ApprovalQueue)

		r.Route("/expenses", func(r chi.Router) {
			r.Post("/", h.SubmitExpense)
			r.Get("/summary", h.ExpenseSummary)
			r.Get("/{id}", h.GetExpense)
			r.Post("/{id}/decisions", h.DecideStep)
			r.Get("/{id}/history", h.ExpenseHistory)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/", h.ListOrders)
			r.Get("/{id}", h.GetOrder)
			r.Delete("/{id}", h.DeleteOrder)
			r.Post("/{id}/cancel", h.CancelOrder)
			r.Post("/{id}/picks", h.RecordPicks)
			r.Post("/{id}/lines", h.AddLine)
			r.Patch("/{id}/lines/{lineID}", h.UpdateLine)
			r.Delete("/{id}/lines/{lineID}", h.RemoveLine)
			r.Put("/{id}/lines/{lineID}/picked", h.SetPicked)
			r.Post("/{id}/lines/{lineID}/pick-remaining", h.PickRemaining)
		})
	})
}

// Routes returns a router with every route registered.
func (h *HTTPHandler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

// Health handles liveness checks
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ── Request bodies ────────────────────────────────────────────────────────────

type expenseItemBody struct {
	Category    string `json:"category" validate:"required"`
	Amount      int64  `json:"amount" validate:"gte=0"`
	Description string `json:"description" validate:"max=500"`
	HasReceipt  bool   `json:"has_receipt"`
}

type submitExpenseBody struct {
	Purpose string            `json:"purpose" validate:"max=500"`
	Items   []expenseItemBody `json:"items" validate:"required,min=1,dive"`
}

type decisionBody struct {
	Level    int    `json:"level" validate:"gte=0"`
	Decision string `json:"decision" validate:"required,oneof=approved rejected"`
	Comment  string `json:"comment" validate:"max=500"`
}

type orderLineBody struct {
	SKU        string `json:"sku" validate:"required"`
	Name       string `json:"name"`
	OrderedQty int    `json:"ordered_qty" validate:"gt=0"`
	Remark     string `json:"remark" validate:"max=500"`
}

type createOrderBody struct {
	CustomerID string          `json:"customer_id" validate:"required"`
	StoreID    string          `json:"store_id" validate:"required"`
	PickupDate string          `json:"pickup_date"`
	Remark     string          `json:"remark" validate:"max=500"`
	Lines      []orderLineBody `json:"lines" validate:"required,min=1,dive"`
}

type pickBody struct {
	LineID string `json:"line_id" validate:"required"`
	Delta  int    `json:"delta"`
}

type recordPicksBody struct {
	Picks []pickBody `json:"picks" validate:"required,min=1,dive"`
}

type setPickedBody struct {
	Picked *int `json:"picked" validate:"required"`
}

type updateLineBody struct {
	OrderedQty *int `json:"ordered_qty" validate:"required"`
}

// ── Response views ────────────────────────────────────────────────────────────

type requestView struct {
	*workflow.ApprovalRequest
	Status       workflow.RequestStatus `json:"status"`
	CurrentLevel int                    `json:"current_level"`
}

func newRequestView(r *workflow.ApprovalRequest) requestView {
	return requestView{
		ApprovalRequest: r,
		Status:          r.Status(),
		CurrentLevel:    workflow.CurrentLevel(r.Steps),
	}
}

type lineView struct {
	workflow.OrderLine
	Status    workflow.LineStatus `json:"status"`
	Remaining int                 `json:"remaining"`
}

type orderView struct {
	*workflow.Order
	Status workflow.OrderStatus `json:"status"`
	Lines  []lineView           `json:"lines"`
}

func newOrderView(o *workflow.Order) orderView {
	lines := make([]lineView, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = lineView{OrderLine: l, Status: l.Status(), Remaining: l.Remaining()}
	}
	return orderView{Order: o, Status: o.Status(), Lines: lines}
}

type listResponse struct {
	Data   any   `json:"data"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit,omitempty"`
	Offset int   `json:"offset,omitempty"`
}

// ── Expenses ──────────────────────────────────────────────────────────────────

// SubmitExpense handles expense submission
func (h *HTTPHandler) SubmitExpense(w http.ResponseWriter, r *http.Request) {
	var body submitExpenseBody
	if !h.decode(w, r, &body) {
		return
	}

	items := make([]workflow.ExpenseItem, len(body.Items))
	for i, it := range body.Items {
		items[i] = workflow.ExpenseItem{
			Category:    it.Category,
			Amount:      it.Amount,
			Description: it.Description,
			HasReceipt:  it.HasReceipt,
		}
	}

	req, err := h.approvals.Submit(r.Context(), service.SubmitExpenseRequest{
		SubmittedBy: r.Header.Get(HeaderUserID),
		Purpose:     body.Purpose,
		Items:       items,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, newRequestView(req))
}

// GetExpense returns one request with its trail
func (h *HTTPHandler) GetExpense(w http.ResponseWriter, r *http.Request) {
	req, err := h.approvals.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newRequestView(req))
}

// DecideStep records an approve or reject decision
func (h *HTTPHandler) DecideStep(w http.ResponseWriter, r *http.Request) {
	var body decisionBody
	if !h.decode(w, r, &body) {
		return
	}

	req, err := h.approvals.Decide(r.Context(), service.DecideRequest{
		RequestID: chi.URLParam(r, "id"),
		Level:     body.Level,
		ActorID:   r.Header.Get(HeaderUserID),
		ActorRole: r.Header.Get(HeaderUserRole),
		Decision:  body.Decision,
		Comment:   body.Comment,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newRequestView(req))
}

// ExpenseHistory returns the audit trail of a request
func (h *HTTPHandler) ExpenseHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.approvals.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, listResponse{Data: entries, Total: int64(len(entries))})
}

// ExpenseSummary returns request counts per status
func (h *HTTPHandler) ExpenseSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.approvals.Summary(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sum)
}

// ApprovalQueue lists requests the caller's role can act on. The role comes
// from the role query parameter, falling back to the X-User-Role header.
func (h *HTTPHandler) ApprovalQueue(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role == "" {
		role = r.Header.Get(HeaderUserRole)
	}
	if role == "" {
		h.writeError(w, r, errors.InvalidInput("role", "role is required"))
		return
	}

	reqs, err := h.approvals.Queue(r.Context(), role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]requestView, len(reqs))
	for i, req := range reqs {
		views[i] = newRequestView(req)
	}
	h.writeJSON(w, http.StatusOK, listResponse{Data: views, Total: int64(len(views))})
}

// ListCategories returns the category table
func (h *HTTPHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	rules, err := h.approvals.Categories(r.URL.Query().Get("bucket"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, listResponse{Data: rules, Total: int64(len(rules))})
}

// ── Orders ────────────────────────────────────────────────────────────────────

// CreateOrder handles order creation
func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var body createOrderBody
	if !h.decode(w, r, &body) {
		return
	}

	lines := make([]service.OrderLineRequest, len(body.Lines))
	for i, l := range body.Lines {
		lines[i] = service.OrderLineRequest{SKU: l.SKU, Name: l.Name, OrderedQty: l.OrderedQty, Remark: l.Remark}
	}

	order, err := h.orders.Create(r.Context(), service.CreateOrderRequest{
		CustomerID: body.CustomerID,
		StoreID:    body.StoreID,
		PickupDate: body.PickupDate,
		Remark:     body.Remark,
		CreatedBy:  r.Header.Get(HeaderUserID),
		Lines:      lines,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, newOrderView(order))
}

// GetOrder returns one order with its lines
func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newOrderView(order))
}

// ListOrders lists orders with optional filters
func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offset, err := queryInt(q.Get("offset"), "offset")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	filter := repository.OrderFilter{
		Status:     q.Get("status"),
		CustomerID: q.Get("customer_id"),
		StoreID:    q.Get("store_id"),
		Limit:      limit,
		Offset:     offset,
	}
	orders, total, err := h.orders.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	views := make([]orderView, len(orders))
	for i, o := range orders {
		views[i] = newOrderView(o)
	}
	h.writeJSON(w, http.StatusOK, listResponse{Data: views, Total: total, Limit: limit, Offset: offset})
}

// RecordPicks applies a batch of picks to one order
func (h *HTTPHandler) RecordPicks(w http.ResponseWriter, r *http.Request) {
	var body recordPicksBody
	if !h.decode(w, r, &body) {
		return
	}

	picks := make([]workflow.Pick, len(body.Picks))
	for i, p := range body.Picks {
		picks[i] = workflow.Pick{LineID: p.LineID, Delta: p.Delta}
	}

	order, err := h.orders.RecordPicks(r.Context(), chi.URLParam(r, "id"), picks, r.Header.Get(HeaderUserID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newOrderView(order))
}

// SetPicked sets the absolute picked quantity of a line
func (h *HTTPHandler) SetPicked(w http.ResponseWriter, r *http.Request) {
	var body setPickedBody
	if !h.decode(w, r, &body) {
		return
	}

	order, err := h.orders.SetPicked(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "lineID"), *body.Picked, r.Header.Get(HeaderUserID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newOrderView(order))
}

// PickRemaining fills a line
func (h *HTTPHandler) PickRemaining(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.PickRemaining(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "lineID"), r.Header.Get(HeaderUserID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newOrderView(order))
}

// CancelOrder cancels an order with no recorded picks
func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Cancel(r.Context(), chi.URLParam(r, "id"), r.Header.Get(HeaderUserID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newOrderView(order))
}

// DeleteOrder deletes an order with no recorded picks
func (h *HTTPHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.Delete(r.Context(), chi.URLParam(r, "id"), r.Header.Get(HeaderUserID)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddLine adds a line to a pending order
func (h *HTTPHandler) AddLine(w http.ResponseWriter, r *http.Request) {
	var body orderLineBody
	if !h.decode(w, r, &body) {
		return
	}

	order, err := h.orders.AddLine(r.Context(), chi.URLParam(r, "id"), service.OrderLineRequest{
		SKU:        body.SKU,
		Name:       body.Name,
		OrderedQty: body.OrderedQty,
		Remark:     body.Remark,
	}, r.Header.Get(HeaderUserID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, newOrderView(order))
}

// UpdateLine changes the ordered quantity of an unpicked line
func (h *HTTPHandler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	var body updateLineBody
	if !h.decode(w, r, &body) {
		return
	}

	order, err := h.orders.UpdateLineQty(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "lineID"), *body.OrderedQty, r.Header.Get(HeaderUserID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newOrderView(order))
}

// RemoveLine removes an unpicked line
func (h *HTTPHandler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.RemoveLine(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "lineID"), r.Header.Get(HeaderUserID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newOrderView(order))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, body any) bool {
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return false
	}
	if err := validateBody(body); err != nil {
		h.writeError(w, r, err)
		return false
	}
	return true
}

func queryInt(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.InvalidInput(field, field+" must be a non-negative integer")
	}
	return n, nil
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	resp := errorResponse{Code: errors.ErrCodeInternal, Message: "internal server error"}

	var appErr *errors.Error
	if errors.As(err, &appErr) && status != http.StatusInternalServerError {
		resp = errorResponse{Code: appErr.Code, Message: appErr.Message, Field: appErr.Field}
	}

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
	} else {
		h.log.Debug().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request rejected")
	}
	h.writeJSON(w, status, resp)
}
