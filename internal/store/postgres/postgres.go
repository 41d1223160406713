package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"khata/backend/internal/domain"
	"khata/backend/internal/store"
	"khata/backend/internal/xid"
)

//go:embed schema.sql
var schema string

// queryer is satisfied by both *sql.DB and *sql.Tx so reads can be shared.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// WithinTx runs fn in a READ COMMITTED transaction. Row locks taken through
// the Tx give the per-item and per-customer serialization; the deferred
// rollback covers both error returns and panics.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&tx{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

const itemColumns = `id, name, category, cost_price, margin_percent, selling_price, quantity, created_at, updated_at`

func scanItem(row rowScanner) (domain.Item, error) {
	var item domain.Item
	err := row.Scan(&item.ID, &item.Name, &item.Category, &item.CostPrice, &item.MarginPercent,
		&item.SellingPrice, &item.Quantity, &item.CreatedAt, &item.UpdatedAt)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, err
}

func queryItems(ctx context.Context, q queryer, query string, args ...any) ([]domain.Item, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 32)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if strings.TrimSpace(item.Name) == "" {
		return nil, store.Invalid("name", "required")
	}
	if item.Quantity < 0 {
		return nil, store.Invalid("quantity", "must not be negative")
	}
	if item.ID == "" {
		item.ID = xid.New("itm")
	}

	created, err := scanItem(s.db.QueryRowContext(ctx, `
		INSERT INTO items (id, name, category, cost_price, margin_percent, selling_price, quantity, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
		RETURNING `+itemColumns,
		item.ID, item.Name, item.Category, item.CostPrice, item.MarginPercent, item.SellingPrice, item.Quantity))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.Invalid("id", "already exists")
		}
		return nil, err
	}
	return &created, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("item", id)
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetItemsByIDs(ctx context.Context, ids []string) (map[string]domain.Item, error) {
	result := make(map[string]domain.Item, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	items, err := queryItems(ctx, s.db, `SELECT `+itemColumns+` FROM items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		result[item.ID] = item
	}
	return result, nil
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	return queryItems(ctx, s.db, `SELECT `+itemColumns+` FROM items ORDER BY category, name`)
}

func (s *Store) SearchItems(ctx context.Context, query string, limit int) ([]domain.Item, error) {
	if limit < 1 {
		limit = 50
	}
	return queryItems(ctx, s.db, `
		SELECT `+itemColumns+`
		FROM items
		WHERE quantity > 0 AND lower(name) LIKE '%' || lower($1) || '%'
		ORDER BY category, name
		LIMIT $2
	`, strings.TrimSpace(query), limit)
}

func (s *Store) ListLowStockItems(ctx context.Context, threshold int) ([]domain.Item, error) {
	return queryItems(ctx, s.db, `
		SELECT `+itemColumns+`
		FROM items
		WHERE quantity <= $1
		ORDER BY quantity, name
	`, threshold)
}

const customerColumns = `id, name, phone, address, created_at`

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var customer domain.Customer
	err := row.Scan(&customer.ID, &customer.Name, &customer.Phone, &customer.Address, &customer.CreatedAt)
	customer.CreatedAt = customer.CreatedAt.UTC()
	return customer, err
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	customer, err := scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("customer", id)
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) SearchCustomers(ctx context.Context, query string, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE lower(name) LIKE '%' || lower($1) || '%' OR phone LIKE '%' || $1 || '%'
		ORDER BY name, phone
		LIMIT $2
	`, strings.TrimSpace(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, limit)
	for rows.Next() {
		customer, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) SearchSuppliers(ctx context.Context, phone string, limit int) ([]domain.Supplier, error) {
	if limit < 1 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, created_at
		FROM suppliers
		WHERE phone LIKE '%' || $1 || '%'
		ORDER BY phone
		LIMIT $2
	`, strings.TrimSpace(phone), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, limit)
	for rows.Next() {
		var supplier domain.Supplier
		if err := rows.Scan(&supplier.ID, &supplier.Name, &supplier.Phone, &supplier.CreatedAt); err != nil {
			return nil, err
		}
		supplier.CreatedAt = supplier.CreatedAt.UTC()
		suppliers = append(suppliers, supplier)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

const saleColumns = `id, customer_id, sale_type, payment_mode, total_amount, total_discount, final_amount,
	rounded_final_amount, amount_paid, due_amount, created_at, recorded_at`

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	var customerID sql.NullString
	err := row.Scan(&sale.ID, &customerID, &sale.SaleType, &sale.PaymentMode, &sale.TotalAmount,
		&sale.TotalDiscount, &sale.FinalAmount, &sale.RoundedFinalAmount, &sale.AmountPaid, &sale.DueAmount,
		&sale.CreatedAt, &sale.RecordedAt)
	sale.CustomerID = customerID.String
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.RecordedAt = sale.RecordedAt.UTC()
	return sale, err
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("sale", id)
		}
		return nil, err
	}
	lines, err := s.saleLines(ctx, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Lines = lines[sale.ID]
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		clauses = append(clauses, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM sales
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d
	`, saleColumns, where, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	_ = rows.Close()

	lines, err := s.saleLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Lines = lines[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) saleLines(ctx context.Context, saleIDs []string) (map[string][]domain.SaleLine, error) {
	result := make(map[string][]domain.SaleLine, len(saleIDs))
	if len(saleIDs) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, item_id, item_name, quantity, price, discount_percent, line_total, discount, final_price
		FROM sale_lines
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ID, &line.SaleID, &line.ItemID, &line.ItemName, &line.Quantity, &line.Price,
			&line.DiscountPercent, &line.LineTotal, &line.Discount, &line.FinalPrice); err != nil {
			return nil, err
		}
		result[line.SaleID] = append(result[line.SaleID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

const ledgerColumns = `id, customer_id, seq, entry_type, amount, balance_after, reference_type, reference_id, created_at`

func scanLedgerEntry(row rowScanner) (domain.CreditLedgerEntry, error) {
	var entry domain.CreditLedgerEntry
	err := row.Scan(&entry.ID, &entry.CustomerID, &entry.Seq, &entry.EntryType, &entry.Amount,
		&entry.BalanceAfter, &entry.ReferenceType, &entry.ReferenceID, &entry.CreatedAt)
	entry.CreatedAt = entry.CreatedAt.UTC()
	return entry, err
}

func lastLedgerEntry(ctx context.Context, q queryer, customerID string) (*domain.CreditLedgerEntry, error) {
	entry, err := scanLedgerEntry(q.QueryRowContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM credit_ledger
		WHERE customer_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, customerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func customerExists(ctx context.Context, q queryer, customerID string) error {
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`, customerID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.NotFound("customer", customerID)
	}
	return nil
}

func (s *Store) LastLedgerEntry(ctx context.Context, customerID string) (*domain.CreditLedgerEntry, error) {
	if err := customerExists(ctx, s.db, customerID); err != nil {
		return nil, err
	}
	return lastLedgerEntry(ctx, s.db, customerID)
}

func (s *Store) ListLedgerEntries(ctx context.Context, customerID string) ([]domain.CreditLedgerEntry, error) {
	if err := customerExists(ctx, s.db, customerID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM credit_ledger
		WHERE customer_id = $1
		ORDER BY seq ASC
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.CreditLedgerEntry, 0, 32)
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) ListOutstandingBalances(ctx context.Context) ([]domain.CustomerBalance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.phone, l.balance_after, l.seq
		FROM customers c
		JOIN LATERAL (
			SELECT balance_after, seq
			FROM credit_ledger
			WHERE customer_id = c.id
			ORDER BY seq DESC
			LIMIT 1
		) l ON true
		WHERE l.balance_after > 0
		ORDER BY l.balance_after DESC, c.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.CustomerBalance, 0, 32)
	for rows.Next() {
		var balance domain.CustomerBalance
		if err := rows.Scan(&balance.CustomerID, &balance.Name, &balance.Phone, &balance.Balance, &balance.LastSeq); err != nil {
			return nil, err
		}
		result = append(result, balance)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetDailyReport(ctx context.Context, from time.Time, to time.Time) (domain.DailyReport, error) {
	report := domain.DailyReport{
		ByPaymentMode: make([]domain.DailyReportBreakdown, 0, 4),
		BySaleType:    make([]domain.DailyReportBreakdown, 0, 3),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(rounded_final_amount), 0),
			COALESCE(SUM(total_discount), 0),
			COALESCE(SUM(due_amount), 0)
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
	`, from, to).Scan(&report.Bills, &report.SalesAmount, &report.TotalDiscount, &report.DueCreated)
	if err != nil {
		return domain.DailyReport{}, err
	}

	report.ByPaymentMode, err = s.reportBreakdown(ctx, "payment_mode", from, to)
	if err != nil {
		return domain.DailyReport{}, err
	}
	report.BySaleType, err = s.reportBreakdown(ctx, "sale_type", from, to)
	if err != nil {
		return domain.DailyReport{}, err
	}
	return report, nil
}

// reportBreakdown groups by one of two fixed column names, never user input.
func (s *Store) reportBreakdown(ctx context.Context, column string, from time.Time, to time.Time) ([]domain.DailyReportBreakdown, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %[1]s, COUNT(*), COALESCE(SUM(rounded_final_amount), 0)
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY %[1]s
		ORDER BY %[1]s
	`, column), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.DailyReportBreakdown, 0, 4)
	for rows.Next() {
		var entry domain.DailyReportBreakdown
		if err := rows.Scan(&entry.Key, &entry.Bills, &entry.TotalAmount); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.Invalid("username", "username and password are required")
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, true, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.Invalid("username", "already exists")
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.Invalid("password", "required")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.NotFound("user", username)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isCheckViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514" && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	return false
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
