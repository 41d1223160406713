package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"khata/backend/internal/domain"
	"khata/backend/internal/pricing"
	"khata/backend/internal/store"
	"khata/backend/internal/xid"
)

// Store keeps everything in maps behind one mutex. WithinTx holds the write
// lock for the whole transaction, so transactions are fully serialized.
type Store struct {
	mu              sync.RWMutex
	items           map[string]domain.Item
	customers       map[string]domain.Customer
	customerByPhone map[string]string
	suppliers       map[string]domain.Supplier
	supplierByPhone map[string]string
	sales           map[string]domain.Sale
	purchases       []domain.Purchase
	ledger          map[string][]domain.CreditLedgerEntry
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		items:           make(map[string]domain.Item),
		customers:       make(map[string]domain.Customer),
		customerByPhone: make(map[string]string),
		suppliers:       make(map[string]domain.Supplier),
		supplierByPhone: make(map[string]string),
		sales:           make(map[string]domain.Sale),
		purchases:       make([]domain.Purchase, 0, 32),
		ledger:          make(map[string][]domain.CreditLedgerEntry),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD.
// If unset, dev defaults are used with a warning. The postgres store never
// uses these.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("component", "memory-store").Str("username", u.username).Msg("failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with demo items and the seed users.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	for _, seed := range []struct {
		id, name, category string
		cost, margin       string
		qty                int
	}{
		{"itm_rice_5kg", "Rice 5kg", "grocery", "250", "12", 40},
		{"itm_atta_10kg", "Wheat Flour 10kg", "grocery", "380", "10", 25},
		{"itm_dal_1kg", "Toor Dal 1kg", "grocery", "120", "15", 60},
		{"itm_oil_1l", "Mustard Oil 1L", "grocery", "145", "14", 48},
		{"itm_sugar_1kg", "Sugar 1kg", "grocery", "42", "12", 80},
		{"itm_tea_250g", "Tea 250g", "beverage", "110", "25", 30},
		{"itm_soap", "Bath Soap", "household", "28", "30", 100},
		{"itm_detergent_1kg", "Detergent 1kg", "household", "95", "22", 20},
	} {
		cost := decimal.RequireFromString(seed.cost)
		margin := decimal.RequireFromString(seed.margin)
		sellingPrice, err := pricing.DeriveSellingPrice(cost, margin)
		if err != nil {
			panic("seed item " + seed.id + ": " + err.Error())
		}
		s.items[seed.id] = domain.Item{
			ID:            seed.id,
			Name:          seed.name,
			Category:      seed.category,
			CostPrice:     cost,
			MarginPercent: margin,
			SellingPrice:  sellingPrice,
			Quantity:      seed.qty,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}
	return s
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := newTx(s)
	if err := fn(t); err != nil {
		return err
	}
	t.commit()
	return nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(item.Name) == "" {
		return nil, store.Invalid("name", "required")
	}
	if item.Quantity < 0 {
		return nil, store.Invalid("quantity", "must not be negative")
	}
	if item.ID == "" {
		item.ID = xid.New("itm")
	}
	if _, exists := s.items[item.ID]; exists {
		return nil, store.Invalid("id", "already exists")
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	s.items[item.ID] = item
	created := item
	return &created, nil
}

func (s *Store) GetItem(_ context.Context, id string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[id]
	if !exists {
		return nil, store.NotFound("item", id)
	}
	return &item, nil
}

func (s *Store) GetItemsByIDs(_ context.Context, ids []string) (map[string]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Item, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			result[id] = item
		}
	}
	return result, nil
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	sortItems(items)
	return items, nil
}

func (s *Store) SearchItems(_ context.Context, query string, limit int) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	items := make([]domain.Item, 0, 16)
	for _, item := range s.items {
		if item.Quantity <= 0 {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(item.Name), needle) {
			continue
		}
		items = append(items, item)
	}
	sortItems(items)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) ListLowStockItems(_ context.Context, threshold int) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, 16)
	for _, item := range s.items {
		if item.Quantity <= threshold {
			items = append(items, item)
		}
	}
	slices.SortFunc(items, func(a, b domain.Item) int {
		if a.Quantity != b.Quantity {
			return a.Quantity - b.Quantity
		}
		return strings.Compare(a.Name, b.Name)
	})
	return items, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, store.NotFound("customer", id)
	}
	return &customer, nil
}

func (s *Store) SearchCustomers(_ context.Context, query string, limit int) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	result := make([]domain.Customer, 0, 16)
	for _, customer := range s.customers {
		if needle != "" &&
			!strings.Contains(strings.ToLower(customer.Name), needle) &&
			!strings.Contains(customer.Phone, needle) {
			continue
		}
		result = append(result, customer)
	}
	slices.SortFunc(result, func(a, b domain.Customer) int {
		if a.Name == b.Name {
			return strings.Compare(a.Phone, b.Phone)
		}
		return strings.Compare(a.Name, b.Name)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.sales[id]
	if !exists {
		return nil, store.NotFound("sale", id)
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 32)
	for _, sale := range s.sales {
		if filter.CustomerID != "" && sale.CustomerID != filter.CustomerID {
			continue
		}
		if filter.From != nil && sale.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !sale.CreatedAt.Before(*filter.To) {
			continue
		}
		result = append(result, *cloneSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) SearchSuppliers(_ context.Context, phone string, limit int) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.TrimSpace(phone)
	result := make([]domain.Supplier, 0, 8)
	for _, supplier := range s.suppliers {
		if strings.Contains(supplier.Phone, needle) {
			result = append(result, supplier)
		}
	}
	slices.SortFunc(result, func(a, b domain.Supplier) int {
		return strings.Compare(a.Phone, b.Phone)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) LastLedgerEntry(_ context.Context, customerID string) (*domain.CreditLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.customers[customerID]; !exists {
		return nil, store.NotFound("customer", customerID)
	}
	entries := s.ledger[customerID]
	if len(entries) == 0 {
		return nil, nil
	}
	last := entries[len(entries)-1]
	return &last, nil
}

func (s *Store) ListLedgerEntries(_ context.Context, customerID string) ([]domain.CreditLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.customers[customerID]; !exists {
		return nil, store.NotFound("customer", customerID)
	}
	return slices.Clone(s.ledger[customerID]), nil
}

func (s *Store) ListOutstandingBalances(_ context.Context) ([]domain.CustomerBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CustomerBalance, 0, 16)
	for customerID, entries := range s.ledger {
		if len(entries) == 0 {
			continue
		}
		last := entries[len(entries)-1]
		if !last.BalanceAfter.IsPositive() {
			continue
		}
		customer := s.customers[customerID]
		result = append(result, domain.CustomerBalance{
			CustomerID: customerID,
			Name:       customer.Name,
			Phone:      customer.Phone,
			Balance:    last.BalanceAfter,
			LastSeq:    last.Seq,
		})
	}
	slices.SortFunc(result, func(a, b domain.CustomerBalance) int {
		if cmp := b.Balance.Cmp(a.Balance); cmp != 0 {
			return cmp
		}
		return strings.Compare(a.CustomerID, b.CustomerID)
	})
	return result, nil
}

func (s *Store) GetDailyReport(_ context.Context, from time.Time, to time.Time) (domain.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.DailyReport{
		ByPaymentMode: make([]domain.DailyReportBreakdown, 0, 4),
		BySaleType:    make([]domain.DailyReportBreakdown, 0, 3),
	}
	byMode := map[string]*domain.DailyReportBreakdown{}
	byType := map[string]*domain.DailyReportBreakdown{}

	for _, sale := range s.sales {
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		report.Bills++
		report.SalesAmount = report.SalesAmount.Add(sale.RoundedFinalAmount)
		report.TotalDiscount = report.TotalDiscount.Add(sale.TotalDiscount)
		report.DueCreated = report.DueCreated.Add(sale.DueAmount)

		addBreakdown(byMode, sale.PaymentMode, sale.RoundedFinalAmount)
		addBreakdown(byType, sale.SaleType, sale.RoundedFinalAmount)
	}

	for _, entry := range byMode {
		report.ByPaymentMode = append(report.ByPaymentMode, *entry)
	}
	for _, entry := range byType {
		report.BySaleType = append(report.BySaleType, *entry)
	}
	sortBreakdown(report.ByPaymentMode)
	sortBreakdown(report.BySaleType)
	return report, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.Invalid("username", "username and password are required")
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.Invalid("username", "already exists")
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.Invalid("password", "required")
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.NotFound("user", username)
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func addBreakdown(into map[string]*domain.DailyReportBreakdown, key string, amount decimal.Decimal) {
	entry := into[key]
	if entry == nil {
		entry = &domain.DailyReportBreakdown{Key: key}
		into[key] = entry
	}
	entry.Bills++
	entry.TotalAmount = entry.TotalAmount.Add(amount)
}

func sortBreakdown(entries []domain.DailyReportBreakdown) {
	slices.SortFunc(entries, func(a, b domain.DailyReportBreakdown) int {
		return strings.Compare(a.Key, b.Key)
	})
}

func sortItems(items []domain.Item) {
	slices.SortFunc(items, func(a, b domain.Item) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
}

func cloneSale(src domain.Sale) *domain.Sale {
	dup := src
	dup.Lines = slices.Clone(src.Lines)
	return &dup
}
