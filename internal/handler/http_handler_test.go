package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-workflow-engine/internal/logger"
)

type apiClient struct {
	t      *testing.T
	server *httptest.Server
}

func newAPIClient(t *testing.T) *apiClient {
	t.Helper()
	approvals, orders := newServices(t)
	h := NewHTTPHandler(approvals, orders, logger.Nop())
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return &apiClient{t: t, server: srv}
}

// do sends body as JSON (raw strings are sent verbatim) and decodes the
// response into a generic map.
func (c *apiClient) do(method, path, userID, role string, body any) (int, map[string]any) {
	c.t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.server.URL+path, reader)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
	}
	if role != "" {
		req.Header.Set(HeaderUserRole, role)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func (c *apiClient) submit(category string, amount int64) map[string]any {
	c.t.Helper()
	status, body := c.do(http.MethodPost, "/api/v1/expenses", "emp-1", "employee", map[string]any{
		"purpose": "team expenses",
		"items":   []map[string]any{{"category": category, "amount": amount, "has_receipt": true}},
	})
	require.Equal(c.t, http.StatusCreated, status, body)
	return body
}

func (c *apiClient) createOrder() map[string]any {
	c.t.Helper()
	status, body := c.do(http.MethodPost, "/api/v1/orders", "clerk-1", "", map[string]any{
		"customer_id": "CUST-1",
		"store_id":    "STORE-1",
		"pickup_date": "2025-03-20",
		"lines": []map[string]any{
			{"sku": "SKU-A", "name": "Rice", "ordered_qty": 5},
			{"sku": "SKU-B", "name": "Oil", "ordered_qty": 2},
		},
	})
	require.Equal(c.t, http.StatusCreated, status, body)
	return body
}

func lineIDs(t *testing.T, order map[string]any) []string {
	t.Helper()
	lines, ok := order["lines"].([]any)
	require.True(t, ok)
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.(map[string]any)["id"].(string)
	}
	return ids
}

func TestHealth(t *testing.T) {
	c := newAPIClient(t)
	status, body := c.do(http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
}

func TestSubmitAndApproveExpense(t *testing.T) {
	c := newAPIClient(t)

	created := c.submit("5503101", 20000)
	id := created["id"].(string)
	assert.Equal(t, "pending", created["status"])
	assert.Equal(t, float64(1), created["current_level"])
	assert.Len(t, created["steps"], 1)

	status, body := c.do(http.MethodGet, "/api/v1/expenses/"+id, "", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, body["id"])

	status, body = c.do(http.MethodPost, "/api/v1/expenses/"+id+"/decisions", "mgr-1", "manager", map[string]any{
		"decision": "approved",
		"comment":  "ok",
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "approved", body["status"])
	assert.Equal(t, float64(0), body["current_level"])

	status, body = c.do(http.MethodPost, "/api/v1/expenses/"+id+"/decisions", "mgr-1", "manager", map[string]any{
		"decision": "approved",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "CONFLICT", body["code"])

	status, body = c.do(http.MethodGet, "/api/v1/expenses/"+id+"/history", "", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), body["total"])
}

func TestSubmitExpenseErrors(t *testing.T) {
	c := newAPIClient(t)

	tests := []struct {
		name   string
		user   string
		body   any
		status int
		code   string
		field  string
	}{
		{"malformed json", "emp-1", `{"items":`, http.StatusBadRequest, "INVALID_INPUT", "body"},
		{"no items", "emp-1", map[string]any{"purpose": "x"}, http.StatusBadRequest, "INVALID_INPUT", "items"},
		{"item without category", "emp-1", map[string]any{"items": []map[string]any{{"amount": 10}}}, http.StatusBadRequest, "INVALID_INPUT", "items[0].category"},
		{"unknown category", "emp-1", map[string]any{"items": []map[string]any{{"category": "0000000", "amount": 10}}}, http.StatusNotFound, "NOT_FOUND", ""},
		{"total overflows", "emp-1", `{"items":[{"category":"6105501","amount":9223372036854775807},{"category":"6105501","amount":1}]}`, http.StatusBadRequest, "INVALID_INPUT", ""},
		{"no submitter", "", map[string]any{"items": []map[string]any{{"category": "5503101", "amount": 10}}}, http.StatusBadRequest, "INVALID_INPUT", "submitted_by"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := c.do(http.MethodPost, "/api/v1/expenses", tt.user, "", tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body["code"])
			if tt.field != "" {
				assert.Equal(t, tt.field, body["field"])
			}
		})
	}
}

func TestDecideStepErrors(t *testing.T) {
	c := newAPIClient(t)
	id := c.submit("6105501", 90000)["id"].(string)

	tests := []struct {
		name   string
		role   string
		body   map[string]any
		status int
	}{
		{"invalid decision", "supervisor", map[string]any{"decision": "maybe"}, http.StatusBadRequest},
		{"role not on trail", "hr_lead", map[string]any{"decision": "approved"}, http.StatusForbidden},
		{"not yet actionable", "finance_lead", map[string]any{"decision": "approved"}, http.StatusConflict},
		{"wrong role for level", "finance_lead", map[string]any{"decision": "approved", "level": 1}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := c.do(http.MethodPost, "/api/v1/expenses/"+id+"/decisions", "user-1", tt.role, tt.body)
			assert.Equal(t, tt.status, status, body)
		})
	}

	status, _ := c.do(http.MethodPost, "/api/v1/expenses/EXP-missing/decisions", "user-1", "supervisor", map[string]any{"decision": "approved"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestApprovalQueue(t *testing.T) {
	c := newAPIClient(t)
	c.submit("6105501", 90000)
	c.submit("5503101", 1000)

	status, body := c.do(http.MethodGet, "/api/v1/approvals/queue", "", "manager", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), body["total"])

	status, body = c.do(http.MethodGet, "/api/v1/approvals/queue?role=finance_lead", "", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["total"])

	status, body = c.do(http.MethodGet, "/api/v1/approvals/queue", "", "employee", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["total"])
	assert.Equal(t, []any{}, body["data"])

	status, _ = c.do(http.MethodGet, "/api/v1/approvals/queue", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestExpenseSummary(t *testing.T) {
	c := newAPIClient(t)
	approved := c.submit("5503101", 1000)["id"].(string)
	c.submit("6105501", 90000)

	status, _ := c.do(http.MethodPost, "/api/v1/expenses/"+approved+"/decisions", "mgr-1", "supervisor", map[string]any{"decision": "approved"})
	require.Equal(t, http.StatusOK, status)

	status, body := c.do(http.MethodGet, "/api/v1/expenses/summary", "", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["pending"])
	assert.Equal(t, float64(1), body["approved"])
	assert.Equal(t, float64(1), body["in_progress"])
	assert.Equal(t, float64(2), body["total"])
}

func TestListCategories(t *testing.T) {
	c := newAPIClient(t)

	status, body := c.do(http.MethodGet, "/api/v1/categories", "", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(3), body["total"])

	status, body = c.do(http.MethodGet, "/api/v1/categories?bucket=selling", "", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, float64(1), body["total"])
	first := body["data"].([]any)[0].(map[string]any)
	assert.Equal(t, "6105501", first["code"])
	assert.Equal(t, "finance_lead", first["mandatory_approver"])

	status, body = c.do(http.MethodGet, "/api/v1/categories?bucket=bogus", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bucket", body["field"])
}

func TestOrderPickupFlow(t *testing.T) {
	c := newAPIClient(t)
	order := c.createOrder()
	id := order["id"].(string)
	lines := lineIDs(t, order)
	assert.Equal(t, "pending", order["status"])

	status, body := c.do(http.MethodPost, "/api/v1/orders/"+id+"/picks", "picker-1", "", map[string]any{
		"picks": []map[string]any{{"line_id": lines[0], "delta": 3}},
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "processing", body["status"])
	first := body["lines"].([]any)[0].(map[string]any)
	assert.Equal(t, float64(3), first["picked_qty"])
	assert.Equal(t, float64(2), first["remaining"])
	assert.Equal(t, "partial", first["status"])

	status, body = c.do(http.MethodPost, "/api/v1/orders/"+id+"/picks", "picker-1", "", map[string]any{
		"picks": []map[string]any{{"line_id": lines[0], "delta": 1}, {"line_id": lines[1], "delta": 9}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "UNPROCESSABLE", body["code"])

	status, body = c.do(http.MethodPut, "/api/v1/orders/"+id+"/lines/"+lines[0]+"/picked", "picker-1", "", map[string]any{"picked": 5})
	require.Equal(t, http.StatusOK, status, body)

	status, body = c.do(http.MethodPut, "/api/v1/orders/"+id+"/lines/"+lines[0]+"/picked", "picker-1", "", map[string]any{"picked": 4})
	assert.Equal(t, http.StatusUnprocessableEntity, status, body)

	status, body = c.do(http.MethodPost, "/api/v1/orders/"+id+"/lines/"+lines[1]+"/pick-remaining", "picker-1", "", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "completed", body["status"])

	status, _ = c.do(http.MethodPost, "/api/v1/orders/"+id+"/cancel", "clerk-1", "", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = c.do(http.MethodDelete, "/api/v1/orders/"+id, "clerk-1", "", nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestOrderEditCancelDelete(t *testing.T) {
	c := newAPIClient(t)
	order := c.createOrder()
	id := order["id"].(string)
	lines := lineIDs(t, order)

	status, body := c.do(http.MethodPost, "/api/v1/orders/"+id+"/lines", "clerk-1", "", map[string]any{"sku": "SKU-C", "ordered_qty": 1})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Len(t, body["lines"], 3)

	status, body = c.do(http.MethodPatch, "/api/v1/orders/"+id+"/lines/"+lines[1], "clerk-1", "", map[string]any{"ordered_qty": 4})
	require.Equal(t, http.StatusOK, status, body)

	status, body = c.do(http.MethodPatch, "/api/v1/orders/"+id+"/lines/"+lines[1], "clerk-1", "", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "ordered_qty", body["field"])

	status, body = c.do(http.MethodDelete, "/api/v1/orders/"+id+"/lines/"+lines[0], "clerk-1", "", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Len(t, body["lines"], 2)

	status, body = c.do(http.MethodPost, "/api/v1/orders/"+id+"/cancel", "clerk-1", "", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "cancelled", body["status"])

	status, _ = c.do(http.MethodPost, "/api/v1/orders/"+id+"/lines", "clerk-1", "", map[string]any{"sku": "SKU-D", "ordered_qty": 1})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = c.do(http.MethodDelete, "/api/v1/orders/"+id, "clerk-1", "", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = c.do(http.MethodGet, "/api/v1/orders/"+id, "", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestListOrders(t *testing.T) {
	c := newAPIClient(t)
	first := c.createOrder()
	c.createOrder()

	lines := lineIDs(t, first)
	status, _ := c.do(http.MethodPost, "/api/v1/orders/"+first["id"].(string)+"/picks", "picker-1", "", map[string]any{
		"picks": []map[string]any{{"line_id": lines[0], "delta": 1}},
	})
	require.Equal(t, http.StatusOK, status)

	status, body := c.do(http.MethodGet, "/api/v1/orders?customer_id=CUST-1", "", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), body["total"])

	status, body = c.do(http.MethodGet, "/api/v1/orders?status=processing", "", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["total"])

	status, body = c.do(http.MethodGet, "/api/v1/orders?status=shipped", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "status", body["field"])

	status, _ = c.do(http.MethodGet, "/api/v1/orders?limit=abc", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}
