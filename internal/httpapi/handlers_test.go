package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"khata/backend/internal/domain"
	"khata/backend/internal/service"
	"khata/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, service.Options{})
	auth := NewAuthManager(context.Background(), "test-secret-key-0123456789abcdef", time.Hour, repo)

	return New(svc, auth, "*")
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, h http.Handler, username, password string) string {
	t.Helper()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp domain.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

func creditSale(phone string, qty int) map[string]any {
	return map[string]any{
		"sale_type":      domain.SaleTypeNormal,
		"customer_name":  "Ramesh",
		"customer_phone": phone,
		"payment_mode":   domain.PaymentModeCredit,
		"items": []map[string]any{
			{"item_id": "itm_rice_5kg", "quantity": qty},
		},
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api.Handler(), http.MethodGet, "/healthz", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/auth/login", "",
		domain.LoginRequest{Username: "admin", Password: "admin123"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[domain.LoginResponse](t, rec)
	assert.Equal(t, domain.RoleAdmin, resp.Role)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/auth/login", "",
		domain.LoginRequest{Username: "admin", Password: "nope"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()

	assert.Equal(t, http.StatusUnauthorized, doJSON(t, h, http.MethodGet, "/api/v1/items", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, doJSON(t, h, http.MethodGet, "/api/v1/items", "not-a-jwt", nil).Code)
}

func TestCashierCannotUseAdminRoutes(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	token := login(t, h, "cashier", "cashier123")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/items", token, map[string]any{
		"name": "Salt 1kg", "cost_price": 20, "margin_percent": 10, "quantity": 5,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/reports/daily", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminCreatesItemWithDerivedPrice(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	token := login(t, h, "admin", "admin123")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/items", token, map[string]any{
		"name": "Salt 1kg", "cost_price": 100, "margin_percent": 20, "quantity": 5,
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	item := decodeBody[domain.Item](t, rec)
	assert.Equal(t, "120.00", item.SellingPrice.StringFixed(2))
	assert.Equal(t, 5, item.Quantity)
}

func TestCreditSaleThenPaymentFlow(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	token := login(t, h, "cashier", "cashier123")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/sales", token, creditSale("9800000001", 1))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	settled := decodeBody[domain.SettleResponse](t, rec)
	assert.True(t, settled.DueAmount.Equal(decimal.RequireFromString("280")), settled.DueAmount.String())
	require.NotEmpty(t, settled.CustomerID)
	require.NotEmpty(t, settled.LedgerEntryID)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/customers/"+settled.CustomerID+"/balance", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decodeBody[domain.BalanceResponse](t, rec)
	assert.Equal(t, "280.00", balance.Balance.StringFixed(2))
	assert.Equal(t, int64(1), balance.Seq)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/customers/"+settled.CustomerID+"/payments", token, map[string]any{"amount": 100})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	payment := decodeBody[domain.PaymentResponse](t, rec)
	assert.Equal(t, "180.00", payment.NewBalance.StringFixed(2))
	assert.Equal(t, int64(2), payment.Entry.Seq)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/customers/"+settled.CustomerID+"/ledger", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	statement := decodeBody[domain.CustomerStatement](t, rec)
	require.Len(t, statement.Entries, 2)
	assert.Equal(t, domain.EntryTypeCredit, statement.Entries[0].EntryType)
	assert.Equal(t, domain.EntryTypeDebit, statement.Entries[1].EntryType)
	assert.Equal(t, "180.00", statement.Balance.StringFixed(2))

	rec = doJSON(t, h, http.MethodGet, "/api/v1/credit/outstanding", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	outstanding := decodeBody[[]domain.CustomerBalance](t, rec)
	require.Len(t, outstanding, 1)
	assert.Equal(t, settled.CustomerID, outstanding[0].CustomerID)
}

func TestSettleInsufficientStockReturnsConflict(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	token := login(t, h, "cashier", "cashier123")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/sales", token, creditSale("9800000002", 41))

	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "itm_rice_5kg", body["item_id"])
	assert.EqualValues(t, 41, body["requested"])
	assert.EqualValues(t, 40, body["available"])

	rec = doJSON(t, h, http.MethodGet, "/api/v1/items/itm_rice_5kg", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 40, decodeBody[domain.Item](t, rec).Quantity)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/customers/search?q=9800000002", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]domain.Customer](t, rec))
}

func TestSettleValidationReportsField(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	token := login(t, h, "cashier", "cashier123")

	cases := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{
			name:  "zero quantity",
			body:  creditSale("9800000003", 0),
			field: "items[0].quantity",
		},
		{
			name: "missing phone for normal sale",
			body: map[string]any{
				"sale_type": domain.SaleTypeNormal,
				"items":     []map[string]any{{"item_id": "itm_soap", "quantity": 1}},
			},
			field: "customer_phone",
		},
		{
			name: "discount above hundred",
			body: map[string]any{
				"sale_type":      domain.SaleTypeNormal,
				"customer_phone": "9800000003",
				"items":          []map[string]any{{"item_id": "itm_soap", "quantity": 1, "discount_percent": 150}},
			},
			field: "items[0].discount_percent",
		},
		{
			name: "unknown payment mode",
			body: map[string]any{
				"sale_type":      domain.SaleTypeNormal,
				"customer_phone": "9800000003",
				"payment_mode":   "barter",
				"items":          []map[string]any{{"item_id": "itm_soap", "quantity": 1}},
			},
			field: "payment_mode",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/v1/sales", token, tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			body := decodeBody[map[string]any](t, rec)
			assert.Equal(t, tc.field, body["field"])
		})
	}
}

func TestPreviewDoesNotTouchStock(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	token := login(t, h, "cashier", "cashier123")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/sales/preview", token, map[string]any{
		"sale_type":      domain.SaleTypeNormal,
		"customer_phone": "9800000004",
		"items": []map[string]any{
			{"item_id": "itm_rice_5kg", "quantity": 2, "discount_percent": 10},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decodeBody[domain.SalePreview](t, rec)
	assert.Equal(t, "504.00", preview.RoundedFinalAmount.StringFixed(2))

	rec = doJSON(t, h, http.MethodGet, "/api/v1/items/itm_rice_5kg", token, nil)
	assert.Equal(t, 40, decodeBody[domain.Item](t, rec).Quantity)
}

func TestPaymentRejectsNonPositiveAmount(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	token := login(t, h, "cashier", "cashier123")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/sales", token, creditSale("9800000005", 1))
	require.Equal(t, http.StatusCreated, rec.Code)
	customerID := decodeBody[domain.SettleResponse](t, rec).CustomerID

	for _, amount := range []any{0, -5} {
		rec = doJSON(t, h, http.MethodPost, "/api/v1/customers/"+customerID+"/payments", token, map[string]any{"amount": amount})
		require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		assert.Equal(t, "amount", decodeBody[map[string]any](t, rec)["field"])
	}
}

func TestUnknownCustomerReturnsNotFound(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	token := login(t, h, "cashier", "cashier123")

	assert.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodGet, "/api/v1/customers/cus_missing/balance", token, nil).Code)
	assert.Equal(t, http.StatusNotFound,
		doJSON(t, h, http.MethodPost, "/api/v1/customers/cus_missing/payments", token, map[string]any{"amount": 10}).Code)
}

func TestDailyReportCSV(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	cashier := login(t, h, "cashier", "cashier123")
	admin := login(t, h, "admin", "admin123")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/sales", cashier, creditSale("9800000006", 1))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/reports/daily?format=csv", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))
	body := rec.Body.String()
	assert.Contains(t, body, "summary,bills,1")
	assert.Contains(t, body, "summary,due_created,280.00")
}

func TestAdminCreatesCashierWhoCanLogin(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	admin := login(t, h, "admin", "admin123")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/users/cashiers", admin,
		domain.CashierCreateRequest{Username: "counter2", Password: "secret99"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	token := login(t, h, "counter2", "secret99")
	rec = doJSON(t, h, http.MethodGet, "/api/v1/items", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/users/cashiers", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.CashierUser](t, rec), 2)
}

func TestSupplierCreateIsIdempotentByPhone(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	admin := login(t, h, "admin", "admin123")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/suppliers", admin, map[string]any{"phone": "9811122233"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decodeBody[domain.Supplier](t, rec)
	assert.Equal(t, "Unknown", created.Name)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/suppliers", admin, map[string]any{"name": "Agro Traders", "phone": "9811122233"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, created.ID, decodeBody[domain.Supplier](t, rec).ID)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/suppliers/search?phone=1122", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	found := decodeBody[[]domain.Supplier](t, rec)
	require.Len(t, found, 1)
	assert.Equal(t, created.ID, found[0].ID)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/suppliers/search?phone=98", admin, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "phone", decodeBody[map[string]any](t, rec)["field"])

	rec = doJSON(t, h, http.MethodPost, "/api/v1/suppliers", admin, map[string]any{"name": "No Phone"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "phone", decodeBody[map[string]any](t, rec)["field"])

	cashier := login(t, h, "cashier", "cashier123")
	assert.Equal(t, http.StatusForbidden,
		doJSON(t, h, http.MethodGet, "/api/v1/suppliers/search?phone=1122", cashier, nil).Code)
}

func TestSalesExportCSV(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	cashier := login(t, h, "cashier", "cashier123")
	admin := login(t, h, "admin", "admin123")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/sales", cashier, creditSale("9800000007", 2))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	settled := decodeBody[domain.SettleResponse](t, rec)

	assert.Equal(t, http.StatusForbidden, doJSON(t, h, http.MethodGet, "/api/v1/sales/export", cashier, nil).Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/sales/export", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "sales.csv")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "bill_id,total_amount,total_discount,final_amount,due_amount,payment_mode,sale_type,date", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], settled.SaleID+",560.00,0.00,560.00,560.00,credit,normal,"), lines[1])

	rec = doJSON(t, h, http.MethodGet, "/api/v1/sales/export?from=yesterday", admin, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
