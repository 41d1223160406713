package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"khata/backend/internal/domain"
	"khata/backend/internal/ledger"
	"khata/backend/internal/pricing"
	"khata/backend/internal/stock"
	"khata/backend/internal/store"
)

// stage tracks how far a settlement got. A sale only becomes visible once it
// reaches stageSettled; every earlier failure is rolled back.
type stage string

const (
	stageDraft        stage = "draft"
	stagePriced       stage = "priced"
	stageStockApplied stage = "stock_applied"
	stageSettled      stage = "settled"
)

// saleInput is a validated SaleRequest.
type saleInput struct {
	saleType    string
	paymentMode string
	amountPaid  *decimal.Decimal
	createdAt   time.Time
	customer    domain.Customer
	lines       []domain.SaleLineRequest
}

func (s *Service) validateSale(req domain.SaleRequest, forSettle bool) (saleInput, error) {
	in := saleInput{
		saleType:    strings.ToLower(strings.TrimSpace(req.SaleType)),
		paymentMode: strings.ToLower(strings.TrimSpace(req.PaymentMode)),
		amountPaid:  req.AmountPaid,
		customer: domain.Customer{
			Name:    strings.TrimSpace(req.CustomerName),
			Phone:   strings.TrimSpace(req.CustomerPhone),
			Address: strings.TrimSpace(req.CustomerAddress),
		},
		lines: req.Items,
	}

	switch in.saleType {
	case domain.SaleTypeNormal, domain.SaleTypeManual, domain.SaleTypeRandom:
	default:
		return saleInput{}, store.Invalid("sale_type", "must be one of normal, manual, random")
	}
	if len(in.lines) == 0 {
		return saleInput{}, store.Invalid("items", "at least one line is required")
	}
	for i, line := range in.lines {
		if strings.TrimSpace(line.ItemID) == "" {
			return saleInput{}, store.Invalid(fmt.Sprintf("items[%d].item_id", i), "required")
		}
		if line.Quantity < 1 {
			return saleInput{}, store.Invalid(fmt.Sprintf("items[%d].quantity", i), "must be greater than zero")
		}
		if in.saleType != domain.SaleTypeNormal {
			if line.Price == nil {
				return saleInput{}, store.Invalid(fmt.Sprintf("items[%d].price", i), "required for "+in.saleType+" sales")
			}
			if line.Price.IsNegative() {
				return saleInput{}, store.Invalid(fmt.Sprintf("items[%d].price", i), "must not be negative")
			}
		}
	}
	if !forSettle {
		return in, nil
	}

	if in.paymentMode == "" {
		in.paymentMode = domain.PaymentModeCash
	}
	switch in.paymentMode {
	case domain.PaymentModeCash, domain.PaymentModeOnline, domain.PaymentModeCredit:
	default:
		return saleInput{}, store.Invalid("payment_mode", "must be one of cash, online, credit")
	}
	if in.amountPaid != nil && in.amountPaid.IsNegative() {
		return saleInput{}, store.Invalid("amount_paid", "must not be negative")
	}
	if in.saleType != domain.SaleTypeRandom && in.customer.Phone == "" {
		return saleInput{}, store.Invalid("customer_phone", "required for "+in.saleType+" sales")
	}

	in.createdAt = s.now()
	if in.saleType == domain.SaleTypeManual && strings.TrimSpace(req.ManualDate) != "" {
		backdated, err := parseManualDate(req.ManualDate)
		if err != nil {
			return saleInput{}, err
		}
		if backdated.After(in.createdAt) {
			return saleInput{}, store.Invalid("manual_date", "must not be in the future")
		}
		in.createdAt = backdated
	}
	return in, nil
}

func parseManualDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, raw, time.UTC); err == nil {
		return t, nil
	}
	return time.Time{}, store.Invalid("manual_date", "must be YYYY-MM-DD or RFC3339")
}

// unitPrice is the single pricing policy shared by preview and settle: normal
// sales charge the catalog price, manual and random sales the supplied one.
func unitPrice(saleType string, item domain.Item, line domain.SaleLineRequest) decimal.Decimal {
	if saleType == domain.SaleTypeNormal || line.Price == nil {
		return item.SellingPrice
	}
	return *line.Price
}

func priceLines(in saleInput, items map[string]domain.Item) ([]pricing.Line, error) {
	priced := make([]pricing.Line, 0, len(in.lines))
	for i, line := range in.lines {
		item, ok := items[line.ItemID]
		if !ok {
			return nil, store.NotFound("item", line.ItemID)
		}
		p, err := pricing.PriceLine(unitPrice(in.saleType, item, line), line.Quantity, line.DiscountPercent)
		if err != nil {
			var verr *store.ValidationError
			if errors.As(err, &verr) {
				return nil, store.Invalid(fmt.Sprintf("items[%d].%s", i, verr.Field), verr.Reason)
			}
			return nil, err
		}
		priced = append(priced, p)
	}
	return priced, nil
}

func uniqueItemIDs(lines []domain.SaleLineRequest) []string {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ItemID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// PreviewSale prices a request exactly like SettleSale would, without
// touching stock or persisting anything.
func (s *Service) PreviewSale(ctx context.Context, req domain.SaleRequest) (domain.SalePreview, error) {
	in, err := s.validateSale(req, false)
	if err != nil {
		return domain.SalePreview{}, err
	}

	items, err := s.repo.GetItemsByIDs(ctx, uniqueItemIDs(in.lines))
	if err != nil {
		return domain.SalePreview{}, err
	}
	priced, err := priceLines(in, items)
	if err != nil {
		return domain.SalePreview{}, err
	}

	demand := make(map[string]int, len(items))
	for _, line := range in.lines {
		demand[line.ItemID] += line.Quantity
	}
	for _, id := range uniqueItemIDs(in.lines) {
		if available := items[id].Quantity; available < demand[id] {
			return domain.SalePreview{}, &store.InsufficientStockError{ItemID: id, Requested: demand[id], Available: available}
		}
	}

	bill := pricing.Summarize(priced)
	preview := domain.SalePreview{
		Lines:              make([]domain.PreviewLine, 0, len(priced)),
		TotalAmount:        bill.TotalAmount,
		TotalDiscount:      bill.TotalDiscount,
		FinalAmount:        bill.FinalAmount,
		RoundedFinalAmount: bill.RoundedFinalAmount,
	}
	for i, p := range priced {
		line := in.lines[i]
		preview.Lines = append(preview.Lines, domain.PreviewLine{
			ItemID:          line.ItemID,
			ItemName:        items[line.ItemID].Name,
			Quantity:        p.Quantity,
			Price:           p.Price,
			DiscountPercent: p.DiscountPercent,
			LineTotal:       p.LineTotal,
			Discount:        p.Discount,
			FinalPrice:      p.FinalPrice,
		})
	}
	return preview, nil
}

// paymentSplit decides amount_paid and due_amount from the rounded total.
// Credit sales pay nothing up front. Cash and online sales without an
// explicit amount are paid in full.
func paymentSplit(paymentMode string, rounded decimal.Decimal, amountPaid *decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if paymentMode == domain.PaymentModeCredit {
		return decimal.Zero, rounded
	}
	paid := rounded
	if amountPaid != nil {
		paid = pricing.Round(*amountPaid)
	}
	due := rounded.Sub(paid)
	if due.IsNegative() {
		due = decimal.Zero
	}
	return paid, due
}

// SettleSale records a sale all-or-nothing: customer resolution, stock
// decrements, the sale row and its ledger credit commit together or not at all.
func (s *Service) SettleSale(ctx context.Context, req domain.SaleRequest) (domain.SettleResponse, error) {
	current := stageDraft
	in, err := s.validateSale(req, true)
	if err != nil {
		s.logRejected(req, current, err)
		return domain.SettleResponse{}, err
	}

	var sale *domain.Sale
	var entry *domain.CreditLedgerEntry
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		customerID := ""
		if in.saleType != domain.SaleTypeRandom {
			customer, err := tx.ResolveOrCreateCustomer(ctx, in.customer)
			if err != nil {
				return err
			}
			customerID = customer.ID
		}

		// Lock in a stable order so concurrent sales over the same items
		// cannot deadlock.
		items := make(map[string]domain.Item, len(in.lines))
		for _, id := range uniqueItemIDs(in.lines) {
			item, err := tx.LockItem(ctx, id)
			if err != nil {
				return err
			}
			items[id] = *item
		}

		priced, err := priceLines(in, items)
		if err != nil {
			return err
		}
		current = stagePriced

		for _, line := range in.lines {
			if _, err := stock.Decrease(ctx, tx, line.ItemID, line.Quantity); err != nil {
				return err
			}
		}
		current = stageStockApplied

		bill := pricing.Summarize(priced)
		paid, due := paymentSplit(in.paymentMode, bill.RoundedFinalAmount, in.amountPaid)

		lines := make([]domain.SaleLine, 0, len(priced))
		for i, p := range priced {
			lines = append(lines, domain.SaleLine{
				ItemID:          in.lines[i].ItemID,
				ItemName:        items[in.lines[i].ItemID].Name,
				Quantity:        p.Quantity,
				Price:           p.Price,
				DiscountPercent: p.DiscountPercent,
				LineTotal:       p.LineTotal,
				Discount:        p.Discount,
				FinalPrice:      p.FinalPrice,
			})
		}

		sale, err = tx.CreateSale(ctx, domain.Sale{
			CustomerID:         customerID,
			SaleType:           in.saleType,
			PaymentMode:        in.paymentMode,
			TotalAmount:        bill.TotalAmount,
			TotalDiscount:      bill.TotalDiscount,
			FinalAmount:        bill.FinalAmount,
			RoundedFinalAmount: bill.RoundedFinalAmount,
			AmountPaid:         paid,
			DueAmount:          due,
			CreatedAt:          in.createdAt,
			RecordedAt:         s.now(),
			Lines:              lines,
		})
		if err != nil {
			return err
		}

		if due.IsPositive() {
			if customerID == "" {
				log.Warn().Str("component", "service").Str("sale_id", sale.ID).
					Str("due_amount", due.StringFixed(2)).
					Msg("due on a random sale is not tracked in the credit ledger")
				return nil
			}
			entry, err = ledger.AppendCredit(ctx, tx, customerID, due,
				ledger.Reference{Type: domain.ReferenceTypeSale, ID: sale.ID}, s.now())
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logRejected(req, current, err)
		return domain.SettleResponse{}, err
	}
	current = stageSettled

	resp := domain.SettleResponse{
		SaleID:             sale.ID,
		SaleType:           sale.SaleType,
		CustomerID:         sale.CustomerID,
		PaymentMode:        sale.PaymentMode,
		FinalAmount:        sale.FinalAmount,
		RoundedFinalAmount: sale.RoundedFinalAmount,
		AmountPaid:         sale.AmountPaid,
		DueAmount:          sale.DueAmount,
		CreatedAt:          sale.CreatedAt.Format(time.RFC3339),
	}
	if entry != nil {
		resp.LedgerEntryID = entry.ID
		s.refreshBalance(ctx, entry)
	}

	log.Info().Str("component", "service").Str("stage", string(current)).
		Str("sale_id", sale.ID).Str("sale_type", sale.SaleType).Str("payment_mode", sale.PaymentMode).
		Str("rounded_final_amount", sale.RoundedFinalAmount.StringFixed(2)).
		Str("due_amount", sale.DueAmount.StringFixed(2)).
		Msg("sale settled")
	s.logAudit(ctx, "sale_settle", "sale", sale.ID,
		fmt.Sprintf("type=%s,mode=%s,total=%s,due=%s,lines=%d",
			sale.SaleType, sale.PaymentMode, sale.RoundedFinalAmount.StringFixed(2), sale.DueAmount.StringFixed(2), len(sale.Lines)))
	return resp, nil
}

func (s *Service) logRejected(req domain.SaleRequest, at stage, err error) {
	log.Warn().Err(err).Str("component", "service").
		Str("stage", "rejected").Str("rejected_after", string(at)).
		Str("sale_type", req.SaleType).Int("lines", len(req.Items)).
		Msg("sale rejected")
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, store.Invalid("to", "must be after from")
	}
	return s.repo.ListSales(ctx, filter)
}

func (s *Service) DailyReport(ctx context.Context, date string) (domain.DailyReport, error) {
	from, err := s.parseDay(date)
	if err != nil {
		return domain.DailyReport{}, err
	}
	report, err := s.repo.GetDailyReport(ctx, from, from.Add(24*time.Hour))
	if err != nil {
		return domain.DailyReport{}, err
	}
	report.Date = from.Format(time.DateOnly)
	return report, nil
}
