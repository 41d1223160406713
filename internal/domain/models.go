package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Item struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Category      string          `json:"category,omitempty"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	MarginPercent decimal.Decimal `json:"margin_percent"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	Quantity      int             `json:"quantity"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type ItemCreateRequest struct {
	Name          string          `json:"name" validate:"required"`
	Category      string          `json:"category"`
	CostPrice     decimal.Decimal `json:"cost_price" validate:"min=0"`
	MarginPercent decimal.Decimal `json:"margin_percent" validate:"min=0"`
	Quantity      int             `json:"quantity" validate:"min=0"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone" validate:"required"`
}

type Purchase struct {
	ID            string          `json:"id"`
	ItemID        string          `json:"item_id"`
	SupplierID    string          `json:"supplier_id,omitempty"`
	Quantity      int             `json:"quantity"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	MarginPercent decimal.Decimal `json:"margin_percent"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	CreatedAt     time.Time       `json:"created_at"`
}

type PurchaseRequest struct {
	ItemID        string          `json:"item_id" validate:"required"`
	Quantity      int             `json:"quantity" validate:"required,min=1"`
	CostPrice     decimal.Decimal `json:"cost_price" validate:"min=0"`
	MarginPercent decimal.Decimal `json:"margin_percent" validate:"min=0"`
	SupplierName  string          `json:"supplier_name"`
	SupplierPhone string          `json:"supplier_phone"`
}

type PurchaseResponse struct {
	Purchase Purchase `json:"purchase"`
	Item     Item     `json:"item"`
}

type SaleLine struct {
	ID              string          `json:"id"`
	SaleID          string          `json:"sale_id"`
	ItemID          string          `json:"item_id"`
	ItemName        string          `json:"item_name"`
	Quantity        int             `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	LineTotal       decimal.Decimal `json:"line_total"`
	Discount        decimal.Decimal `json:"discount"`
	FinalPrice      decimal.Decimal `json:"final_price"`
}

// Sale is immutable once settled. AmountPaid and DueAmount are the only
// columns a later repayment model would be allowed to touch.
type Sale struct {
	ID                 string          `json:"id"`
	CustomerID         string          `json:"customer_id,omitempty"`
	SaleType           string          `json:"sale_type"`
	PaymentMode        string          `json:"payment_mode"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	TotalDiscount      decimal.Decimal `json:"total_discount"`
	FinalAmount        decimal.Decimal `json:"final_amount"`
	RoundedFinalAmount decimal.Decimal `json:"rounded_final_amount"`
	AmountPaid         decimal.Decimal `json:"amount_paid"`
	DueAmount          decimal.Decimal `json:"due_amount"`
	CreatedAt          time.Time       `json:"created_at"`
	RecordedAt         time.Time       `json:"recorded_at"`
	Lines              []SaleLine      `json:"lines"`
}

type SaleLineRequest struct {
	ItemID          string           `json:"item_id" validate:"required"`
	Quantity        int              `json:"quantity" validate:"required,min=1"`
	DiscountPercent decimal.Decimal  `json:"discount_percent" validate:"min=0,max=100"`
	Price           *decimal.Decimal `json:"price,omitempty"`
}

type SaleRequest struct {
	SaleType        string            `json:"sale_type" validate:"required"`
	CustomerName    string            `json:"customer_name,omitempty"`
	CustomerPhone   string            `json:"customer_phone,omitempty"`
	CustomerAddress string            `json:"customer_address,omitempty"`
	PaymentMode     string            `json:"payment_mode"`
	AmountPaid      *decimal.Decimal  `json:"amount_paid,omitempty"`
	ManualDate      string            `json:"manual_date,omitempty"`
	Items           []SaleLineRequest `json:"items" validate:"required,min=1,dive"`
}

type PreviewLine struct {
	ItemID          string          `json:"item_id"`
	ItemName        string          `json:"item_name"`
	Quantity        int             `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	LineTotal       decimal.Decimal `json:"line_total"`
	Discount        decimal.Decimal `json:"discount"`
	FinalPrice      decimal.Decimal `json:"final_price"`
}

type SalePreview struct {
	Lines              []PreviewLine   `json:"lines"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	TotalDiscount      decimal.Decimal `json:"total_discount"`
	FinalAmount        decimal.Decimal `json:"final_amount"`
	RoundedFinalAmount decimal.Decimal `json:"rounded_final_amount"`
}

type SettleResponse struct {
	SaleID             string          `json:"sale_id"`
	SaleType           string          `json:"sale_type"`
	CustomerID         string          `json:"customer_id,omitempty"`
	PaymentMode        string          `json:"payment_mode"`
	FinalAmount        decimal.Decimal `json:"final_amount"`
	RoundedFinalAmount decimal.Decimal `json:"rounded_final_amount"`
	AmountPaid         decimal.Decimal `json:"amount_paid"`
	DueAmount          decimal.Decimal `json:"due_amount"`
	LedgerEntryID      string          `json:"ledger_entry_id,omitempty"`
	CreatedAt          string          `json:"created_at"`
}

type SaleFilter struct {
	CustomerID string
	From       *time.Time
	To         *time.Time
	Limit      int
}

type CreditLedgerEntry struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customer_id"`
	Seq           int64           `json:"seq"`
	EntryType     string          `json:"entry_type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type PaymentRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required,gt=0"`
}

type PaymentResponse struct {
	CustomerID string            `json:"customer_id"`
	NewBalance decimal.Decimal   `json:"new_balance"`
	Entry      CreditLedgerEntry `json:"entry"`
}

// BalanceResponse carries the ledger seq the balance was read at; zero means
// the customer has no entries yet.
type BalanceResponse struct {
	CustomerID string          `json:"customer_id"`
	Balance    decimal.Decimal `json:"balance"`
	Seq        int64           `json:"seq"`
}

type CustomerStatement struct {
	Customer Customer            `json:"customer"`
	Entries  []CreditLedgerEntry `json:"entries"`
	Balance  decimal.Decimal     `json:"balance"`
}

type CustomerBalance struct {
	CustomerID string          `json:"customer_id"`
	Name       string          `json:"name"`
	Phone      string          `json:"phone"`
	Balance    decimal.Decimal `json:"balance"`
	LastSeq    int64           `json:"last_seq"`
}

type DailyReportBreakdown struct {
	Key         string          `json:"key"`
	Bills       int64           `json:"bills"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type DailyReport struct {
	Date          string                 `json:"date"`
	Bills         int64                  `json:"bills"`
	SalesAmount   decimal.Decimal        `json:"sales_amount"`
	TotalDiscount decimal.Decimal        `json:"total_discount"`
	DueCreated    decimal.Decimal        `json:"due_created"`
	ByPaymentMode []DailyReportBreakdown `json:"by_payment_mode"`
	BySaleType    []DailyReportBreakdown `json:"by_sale_type"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username" validate:"required,min=4"`
	Password string `json:"password" validate:"required,min=6"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	SaleTypeNormal = "normal"
	SaleTypeManual = "manual"
	SaleTypeRandom = "random"
)

const (
	PaymentModeCash   = "cash"
	PaymentModeOnline = "online"
	PaymentModeCredit = "credit"
	// PaymentModePaid is terminal: a credit sale whose due reached zero.
	PaymentModePaid = "paid"
)

const (
	EntryTypeCredit = "credit"
	EntryTypeDebit  = "debit"
)

const (
	ReferenceTypeSale    = "sale"
	ReferenceTypePayment = "payment"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
