package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"khata/backend/internal/domain"
)

// Repository is the persistence boundary. Mutations that must be atomic go
// through WithinTx; everything else is a plain read.
type Repository interface {
	// WithinTx runs fn in one transaction. It commits when fn returns nil and
	// rolls back on any error or panic. fn must only use the Tx it is given.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	GetItem(ctx context.Context, id string) (*domain.Item, error)
	GetItemsByIDs(ctx context.Context, ids []string) (map[string]domain.Item, error)
	ListItems(ctx context.Context) ([]domain.Item, error)
	SearchItems(ctx context.Context, query string, limit int) ([]domain.Item, error)
	ListLowStockItems(ctx context.Context, threshold int) ([]domain.Item, error)

	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	SearchCustomers(ctx context.Context, query string, limit int) ([]domain.Customer, error)
	SearchSuppliers(ctx context.Context, phone string, limit int) ([]domain.Supplier, error)

	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)

	LastLedgerEntry(ctx context.Context, customerID string) (*domain.CreditLedgerEntry, error)
	ListLedgerEntries(ctx context.Context, customerID string) ([]domain.CreditLedgerEntry, error)
	ListOutstandingBalances(ctx context.Context) ([]domain.CustomerBalance, error)

	GetDailyReport(ctx context.Context, from time.Time, to time.Time) (domain.DailyReport, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Tx is a scoped unit of work. Lock* methods hold their row until the
// transaction ends, which is what serializes concurrent sales on an item and
// concurrent ledger appends for a customer.
type Tx interface {
	LockItem(ctx context.Context, id string) (*domain.Item, error)
	SetItemQuantity(ctx context.Context, id string, qty int) error
	UpdateItemPricing(ctx context.Context, id string, costPrice, marginPercent, sellingPrice decimal.Decimal) error

	ResolveOrCreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	LockCustomer(ctx context.Context, id string) (*domain.Customer, error)
	ResolveOrCreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)

	LastLedgerEntry(ctx context.Context, customerID string) (*domain.CreditLedgerEntry, error)
	InsertLedgerEntry(ctx context.Context, entry domain.CreditLedgerEntry) (*domain.CreditLedgerEntry, error)

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error)
}
