package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"khata/backend/internal/domain"
	"khata/backend/internal/store"
	"khata/backend/internal/xid"
)

type tx struct {
	q queryer
}

func (t *tx) LockItem(ctx context.Context, id string) (*domain.Item, error) {
	item, err := scanItem(t.q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("item", id)
		}
		return nil, err
	}
	return &item, nil
}

func (t *tx) SetItemQuantity(ctx context.Context, id string, qty int) error {
	if qty < 0 {
		var available int
		err := t.q.QueryRowContext(ctx, `SELECT quantity FROM items WHERE id = $1`, id).Scan(&available)
		if errors.Is(err, sql.ErrNoRows) {
			return store.NotFound("item", id)
		}
		if err != nil {
			return err
		}
		return &store.InsufficientStockError{ItemID: id, Requested: available - qty, Available: available}
	}

	res, err := t.q.ExecContext(ctx, `
		UPDATE items
		SET quantity = $2, updated_at = now()
		WHERE id = $1
	`, id, qty)
	if err != nil {
		if isCheckViolation(err, "items_quantity_non_negative") {
			return fmt.Errorf("%w: item %s quantity %d rejected by check constraint", store.ErrInsufficientStock, id, qty)
		}
		return err
	}
	return requireAffected(res, "item", id)
}

func (t *tx) UpdateItemPricing(ctx context.Context, id string, costPrice, marginPercent, sellingPrice decimal.Decimal) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE items
		SET cost_price = $2, margin_percent = $3, selling_price = $4, updated_at = now()
		WHERE id = $1
	`, id, costPrice, marginPercent, sellingPrice)
	if err != nil {
		return err
	}
	return requireAffected(res, "item", id)
}

// ResolveOrCreateCustomer is one upsert on the unique phone column, so two
// concurrent first sales for the same phone converge on one row.
func (t *tx) ResolveOrCreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	phone := strings.TrimSpace(customer.Phone)
	if phone == "" {
		return nil, store.Invalid("customer_phone", "required")
	}

	resolved, err := scanCustomer(t.q.QueryRowContext(ctx, `
		INSERT INTO customers (id, name, phone, address, created_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (phone) DO UPDATE
		SET address = CASE WHEN customers.address = '' THEN EXCLUDED.address ELSE customers.address END
		RETURNING `+customerColumns,
		xid.New("cus"), strings.TrimSpace(customer.Name), phone, strings.TrimSpace(customer.Address)))
	if err != nil {
		return nil, err
	}
	return &resolved, nil
}

func (t *tx) LockCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	customer, err := scanCustomer(t.q.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("customer", id)
		}
		return nil, err
	}
	return &customer, nil
}

func (t *tx) ResolveOrCreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	phone := strings.TrimSpace(supplier.Phone)
	if phone == "" {
		return nil, store.Invalid("supplier_phone", "required")
	}

	var resolved domain.Supplier
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO suppliers (id, name, phone, created_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (phone) DO UPDATE SET phone = EXCLUDED.phone
		RETURNING id, name, phone, created_at
	`, xid.New("sup"), strings.TrimSpace(supplier.Name), phone).Scan(&resolved.ID, &resolved.Name, &resolved.Phone, &resolved.CreatedAt)
	if err != nil {
		return nil, err
	}
	resolved.CreatedAt = resolved.CreatedAt.UTC()
	return &resolved, nil
}

func (t *tx) LastLedgerEntry(ctx context.Context, customerID string) (*domain.CreditLedgerEntry, error) {
	if err := customerExists(ctx, t.q, customerID); err != nil {
		return nil, err
	}
	return lastLedgerEntry(ctx, t.q, customerID)
}

func (t *tx) InsertLedgerEntry(ctx context.Context, entry domain.CreditLedgerEntry) (*domain.CreditLedgerEntry, error) {
	if !entry.Amount.IsPositive() {
		return nil, store.Invalid("amount", "must be greater than zero")
	}
	if entry.ID == "" {
		entry.ID = xid.New("led")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := t.q.ExecContext(ctx, `
		INSERT INTO credit_ledger (
			id, customer_id, seq, entry_type, amount, balance_after, reference_type, reference_id, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.CustomerID, entry.Seq, entry.EntryType, entry.Amount, entry.BalanceAfter,
		entry.ReferenceType, entry.ReferenceID, entry.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &store.InvariantViolationError{
				CustomerID: entry.CustomerID,
				Seq:        entry.Seq,
				Detail:     "seq already taken",
			}
		}
		return nil, err
	}
	return &entry, nil
}

func (t *tx) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Lines) == 0 {
		return nil, store.Invalid("items", "at least one line is required")
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.RecordedAt.IsZero() {
		sale.RecordedAt = time.Now().UTC()
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = sale.RecordedAt
	}

	_, err := t.q.ExecContext(ctx, `
		INSERT INTO sales (
			id, customer_id, sale_type, payment_mode, total_amount, total_discount, final_amount,
			rounded_final_amount, amount_paid, due_amount, created_at, recorded_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, sale.ID, nullString(sale.CustomerID), sale.SaleType, sale.PaymentMode, sale.TotalAmount, sale.TotalDiscount,
		sale.FinalAmount, sale.RoundedFinalAmount, sale.AmountPaid, sale.DueAmount, sale.CreatedAt, sale.RecordedAt)
	if err != nil {
		return nil, err
	}

	lines := make([]domain.SaleLine, len(sale.Lines))
	copy(lines, sale.Lines)
	for i := range lines {
		if lines[i].ID == "" {
			lines[i].ID = xid.New("sln")
		}
		lines[i].SaleID = sale.ID
		if _, err := t.q.ExecContext(ctx, `
			INSERT INTO sale_lines (
				id, sale_id, line_no, item_id, item_name, quantity, price, discount_percent,
				line_total, discount, final_price
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, lines[i].ID, sale.ID, i+1, lines[i].ItemID, lines[i].ItemName, lines[i].Quantity, lines[i].Price,
			lines[i].DiscountPercent, lines[i].LineTotal, lines[i].Discount, lines[i].FinalPrice); err != nil {
			return nil, err
		}
	}
	sale.Lines = lines
	return &sale, nil
}

func (t *tx) CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	if purchase.Quantity < 1 {
		return nil, store.Invalid("quantity", "must be greater than zero")
	}
	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}

	_, err := t.q.ExecContext(ctx, `
		INSERT INTO purchases (id, item_id, supplier_id, quantity, cost_price, margin_percent, selling_price, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, purchase.ID, purchase.ItemID, nullString(purchase.SupplierID), purchase.Quantity, purchase.CostPrice,
		purchase.MarginPercent, purchase.SellingPrice, purchase.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

func requireAffected(res sql.Result, entity string, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.NotFound(entity, id)
	}
	return nil
}
