package httpapi

import (
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"khata/backend/internal/domain"
	"khata/backend/internal/store"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.ListItems(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) handleSearchItems(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 20, 100)
	items, err := a.service.SearchItems(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	threshold := parsePositiveLimit(r.URL.Query().Get("threshold"), 0, 0)
	items, err := a.service.LowStockItems(r.Context(), threshold)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := a.service.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req domain.ItemCreateRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	item, err := a.service.CreateItem(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (a *API) handleRecordPurchase(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	resp, err := a.service.RecordPurchase(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleSearchSuppliers(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 5, 50)
	suppliers, err := a.service.SearchSuppliers(r.Context(), r.URL.Query().Get("phone"), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, suppliers)
}

func (a *API) handleCreateSupplier(w http.ResponseWriter, r *http.Request) {
	var req domain.SupplierCreateRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	supplier, err := a.service.CreateSupplier(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, supplier)
}

func (a *API) handlePreviewSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	preview, err := a.service.PreviewSale(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (a *API) handleSettleSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	resp, err := a.service.SettleSale(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	filter, err := saleFilterFromQuery(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	sales, err := a.service.ListSales(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

func (a *API) handleExportSales(w http.ResponseWriter, r *http.Request) {
	filter, err := saleFilterFromQuery(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	sales, err := a.service.ListSales(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="sales.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := writeSalesCSV(w, sales); err != nil {
		log.Warn().Err(err).Str("component", "httpapi").Msg("failed to write sales csv")
	}
}

func writeSalesCSV(w io.Writer, sales []domain.Sale) error {
	cw := csv.NewWriter(w)
	rows := make([][]string, 0, len(sales)+1)
	rows = append(rows, []string{"bill_id", "total_amount", "total_discount", "final_amount", "due_amount", "payment_mode", "sale_type", "date"})
	for _, sale := range sales {
		rows = append(rows, []string{
			sale.ID,
			sale.TotalAmount.StringFixed(2),
			sale.TotalDiscount.StringFixed(2),
			sale.RoundedFinalAmount.StringFixed(2),
			sale.DueAmount.StringFixed(2),
			sale.PaymentMode,
			sale.SaleType,
			sale.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return cw.WriteAll(rows)
}

func saleFilterFromQuery(r *http.Request) (domain.SaleFilter, error) {
	query := r.URL.Query()
	filter := domain.SaleFilter{
		CustomerID: strings.TrimSpace(query.Get("customer_id")),
		Limit:      parsePositiveLimit(query.Get("limit"), 100, 500),
	}
	var err error
	if filter.From, err = parseQueryTime("from", query.Get("from")); err != nil {
		return domain.SaleFilter{}, err
	}
	if filter.To, err = parseQueryTime("to", query.Get("to")); err != nil {
		return domain.SaleFilter{}, err
	}
	return filter, nil
}

// parseQueryTime accepts RFC3339 or YYYY-MM-DD (midnight UTC); empty is nil.
func parseQueryTime(field, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, time.UTC)
	if err != nil {
		return nil, store.Invalid(field, "must be YYYY-MM-DD or RFC3339")
	}
	return &t, nil
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleSearchCustomers(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 20, 100)
	customers, err := a.service.SearchCustomers(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customers)
}

func (a *API) handleCustomerBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := a.service.GetCustomerBalance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (a *API) handleCustomerLedger(w http.ResponseWriter, r *http.Request) {
	statement, err := a.service.CustomerStatement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statement)
}

func (a *API) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	resp, err := a.service.RecordPayment(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleOutstandingCredit(w http.ResponseWriter, r *http.Request) {
	balances, err := a.service.OutstandingCredit(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

func (a *API) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.DailyReport(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "csv") {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="daily-report-`+report.Date+`.csv"`)
		w.WriteHeader(http.StatusOK)
		if err := writeDailyReportCSV(w, report); err != nil {
			log.Warn().Err(err).Str("component", "httpapi").Msg("failed to write csv report")
		}
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeDailyReportCSV(w io.Writer, report domain.DailyReport) error {
	cw := csv.NewWriter(w)
	rows := [][]string{
		{"section", "key", "value"},
		{"summary", "date", report.Date},
		{"summary", "bills", strconv.FormatInt(report.Bills, 10)},
		{"summary", "sales_amount", report.SalesAmount.StringFixed(2)},
		{"summary", "total_discount", report.TotalDiscount.StringFixed(2)},
		{"summary", "due_created", report.DueCreated.StringFixed(2)},
	}
	for _, b := range report.ByPaymentMode {
		rows = append(rows,
			[]string{"payment_mode", b.Key + "_bills", strconv.FormatInt(b.Bills, 10)},
			[]string{"payment_mode", b.Key + "_total", b.TotalAmount.StringFixed(2)})
	}
	for _, b := range report.BySaleType {
		rows = append(rows,
			[]string{"sale_type", b.Key + "_bills", strconv.FormatInt(b.Bills, 10)},
			[]string{"sale_type", b.Key + "_total", b.TotalAmount.StringFixed(2)})
	}
	return cw.WriteAll(rows)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 200, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), r.URL.Query().Get("date"), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.auth.ListCashiers(r.Context()))
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cashier)
}
