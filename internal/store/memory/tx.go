package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"khata/backend/internal/domain"
	"khata/backend/internal/store"
	"khata/backend/internal/xid"
)

// tx stages every write and applies it to the Store only on commit. It runs
// while the Store write lock is held, so it reads the Store maps directly.
type tx struct {
	s         *Store
	items     map[string]domain.Item
	customers map[string]domain.Customer
	suppliers map[string]domain.Supplier
	ledger    map[string][]domain.CreditLedgerEntry
	sales     []domain.Sale
	purchases []domain.Purchase
}

func newTx(s *Store) *tx {
	return &tx{
		s:         s,
		items:     make(map[string]domain.Item),
		customers: make(map[string]domain.Customer),
		suppliers: make(map[string]domain.Supplier),
		ledger:    make(map[string][]domain.CreditLedgerEntry),
	}
}

func (t *tx) commit() {
	for id, item := range t.items {
		t.s.items[id] = item
	}
	for id, customer := range t.customers {
		t.s.customers[id] = customer
		t.s.customerByPhone[customer.Phone] = id
	}
	for id, supplier := range t.suppliers {
		t.s.suppliers[id] = supplier
		t.s.supplierByPhone[supplier.Phone] = id
	}
	for customerID, entries := range t.ledger {
		t.s.ledger[customerID] = append(t.s.ledger[customerID], entries...)
	}
	for _, sale := range t.sales {
		t.s.sales[sale.ID] = sale
	}
	t.s.purchases = append(t.s.purchases, t.purchases...)
}

func (t *tx) item(id string) (domain.Item, error) {
	if item, ok := t.items[id]; ok {
		return item, nil
	}
	if item, ok := t.s.items[id]; ok {
		return item, nil
	}
	return domain.Item{}, store.NotFound("item", id)
}

func (t *tx) LockItem(_ context.Context, id string) (*domain.Item, error) {
	item, err := t.item(id)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (t *tx) SetItemQuantity(_ context.Context, id string, qty int) error {
	item, err := t.item(id)
	if err != nil {
		return err
	}
	if qty < 0 {
		return &store.InsufficientStockError{ItemID: id, Requested: item.Quantity - qty, Available: item.Quantity}
	}
	item.Quantity = qty
	item.UpdatedAt = time.Now().UTC()
	t.items[id] = item
	return nil
}

func (t *tx) UpdateItemPricing(_ context.Context, id string, costPrice, marginPercent, sellingPrice decimal.Decimal) error {
	item, err := t.item(id)
	if err != nil {
		return err
	}
	item.CostPrice = costPrice
	item.MarginPercent = marginPercent
	item.SellingPrice = sellingPrice
	item.UpdatedAt = time.Now().UTC()
	t.items[id] = item
	return nil
}

func (t *tx) customerByPhone(phone string) (domain.Customer, bool) {
	for _, customer := range t.customers {
		if customer.Phone == phone {
			return customer, true
		}
	}
	if id, ok := t.s.customerByPhone[phone]; ok {
		return t.s.customers[id], true
	}
	return domain.Customer{}, false
}

func (t *tx) ResolveOrCreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	phone := strings.TrimSpace(customer.Phone)
	if phone == "" {
		return nil, store.Invalid("customer_phone", "required")
	}
	address := strings.TrimSpace(customer.Address)

	if existing, ok := t.customerByPhone(phone); ok {
		if existing.Address == "" && address != "" {
			existing.Address = address
			t.customers[existing.ID] = existing
		}
		return &existing, nil
	}

	created := domain.Customer{
		ID:        xid.New("cus"),
		Name:      strings.TrimSpace(customer.Name),
		Phone:     phone,
		Address:   address,
		CreatedAt: time.Now().UTC(),
	}
	t.customers[created.ID] = created
	return &created, nil
}

func (t *tx) LockCustomer(_ context.Context, id string) (*domain.Customer, error) {
	if customer, ok := t.customers[id]; ok {
		return &customer, nil
	}
	if customer, ok := t.s.customers[id]; ok {
		return &customer, nil
	}
	return nil, store.NotFound("customer", id)
}

func (t *tx) ResolveOrCreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	phone := strings.TrimSpace(supplier.Phone)
	if phone == "" {
		return nil, store.Invalid("supplier_phone", "required")
	}
	for _, staged := range t.suppliers {
		if staged.Phone == phone {
			return &staged, nil
		}
	}
	if id, ok := t.s.supplierByPhone[phone]; ok {
		existing := t.s.suppliers[id]
		return &existing, nil
	}

	created := domain.Supplier{
		ID:        xid.New("sup"),
		Name:      strings.TrimSpace(supplier.Name),
		Phone:     phone,
		CreatedAt: time.Now().UTC(),
	}
	t.suppliers[created.ID] = created
	return &created, nil
}

func (t *tx) LastLedgerEntry(ctx context.Context, customerID string) (*domain.CreditLedgerEntry, error) {
	if _, err := t.LockCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	if staged := t.ledger[customerID]; len(staged) > 0 {
		last := staged[len(staged)-1]
		return &last, nil
	}
	if committed := t.s.ledger[customerID]; len(committed) > 0 {
		last := committed[len(committed)-1]
		return &last, nil
	}
	return nil, nil
}

// InsertLedgerEntry enforces the same (customer_id, seq) uniqueness the
// postgres schema does.
func (t *tx) InsertLedgerEntry(ctx context.Context, entry domain.CreditLedgerEntry) (*domain.CreditLedgerEntry, error) {
	if !entry.Amount.IsPositive() {
		return nil, store.Invalid("amount", "must be greater than zero")
	}
	last, err := t.LastLedgerEntry(ctx, entry.CustomerID)
	if err != nil {
		return nil, err
	}
	next := int64(1)
	if last != nil {
		next = last.Seq + 1
	}
	if entry.Seq != next {
		return nil, &store.InvariantViolationError{
			CustomerID: entry.CustomerID,
			Seq:        entry.Seq,
			Detail:     fmt.Sprintf("duplicate or out-of-order seq, next is %d", next),
		}
	}
	if entry.ID == "" {
		entry.ID = xid.New("led")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	t.ledger[entry.CustomerID] = append(t.ledger[entry.CustomerID], entry)
	return &entry, nil
}

func (t *tx) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
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
	for i := range sale.Lines {
		if sale.Lines[i].ID == "" {
			sale.Lines[i].ID = xid.New("sln")
		}
		sale.Lines[i].SaleID = sale.ID
	}
	t.sales = append(t.sales, *cloneSale(sale))
	return cloneSale(sale), nil
}

func (t *tx) CreatePurchase(_ context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	if purchase.Quantity < 1 {
		return nil, store.Invalid("quantity", "must be greater than zero")
	}
	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}
	t.purchases = append(t.purchases, purchase)
	created := purchase
	return &created, nil
}
