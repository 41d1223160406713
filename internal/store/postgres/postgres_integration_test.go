package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"khata/backend/internal/domain"
	"khata/backend/internal/ledger"
	"khata/backend/internal/stock"
	"khata/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("KHATA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set KHATA_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestInsufficientStockRollsBackEverything(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	stamp := time.Now().UnixNano()
	itemID := fmt.Sprintf("itm_it_%d", stamp)
	phone := fmt.Sprintf("it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE phone = $1`, phone)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, itemID)
	})

	_, err := s.CreateItem(ctx, domain.Item{ID: itemID, Name: "Integration Item", Quantity: 3,
		CostPrice: decimal.NewFromInt(10), MarginPercent: decimal.NewFromInt(20), SellingPrice: decimal.NewFromInt(12)})
	require.NoError(t, err)

	err = s.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.ResolveOrCreateCustomer(ctx, domain.Customer{Name: "IT", Phone: phone}); err != nil {
			return err
		}
		_, err := stock.Decrease(ctx, tx, itemID, 5)
		return err
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	item, err := s.GetItem(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, 3, item.Quantity)

	customers, err := s.SearchCustomers(ctx, phone, 5)
	require.NoError(t, err)
	assert.Empty(t, customers)
}

func TestSetItemQuantityNegativeReportsAvailableStock(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	itemID := fmt.Sprintf("itm_neg_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, itemID)
	})

	_, err := s.CreateItem(ctx, domain.Item{ID: itemID, Name: "Negative Item", Quantity: 5,
		CostPrice: decimal.NewFromInt(10), MarginPercent: decimal.NewFromInt(20), SellingPrice: decimal.NewFromInt(12)})
	require.NoError(t, err)

	err = s.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockItem(ctx, itemID); err != nil {
			return err
		}
		return tx.SetItemQuantity(ctx, itemID, -3)
	})
	var stockErr *store.InsufficientStockError
	require.True(t, errors.As(err, &stockErr), "got %v", err)
	assert.Equal(t, itemID, stockErr.ItemID)
	assert.Equal(t, 8, stockErr.Requested)
	assert.Equal(t, 5, stockErr.Available)

	err = s.WithinTx(ctx, func(tx store.Tx) error {
		return tx.SetItemQuantity(ctx, "itm_missing_neg", -1)
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSearchSuppliersMatchesPhoneSubstring(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	phone := fmt.Sprintf("77%d", time.Now().UnixNano()%1_000_000_000)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM suppliers WHERE phone = $1`, phone)
	})

	var created *domain.Supplier
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		created, err = tx.ResolveOrCreateSupplier(ctx, domain.Supplier{Name: "Agro", Phone: phone})
		return err
	})
	require.NoError(t, err)

	found, err := s.SearchSuppliers(ctx, phone[2:], 5)
	require.NoError(t, err)
	ids := make([]string, 0, len(found))
	for _, supplier := range found {
		ids = append(ids, supplier.ID)
	}
	assert.Contains(t, ids, created.ID)
}

func TestConcurrentLedgerAppendsAreSerialized(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	phone := fmt.Sprintf("it-ledger-%d", time.Now().UnixNano())

	var customerID string
	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		c, err := tx.ResolveOrCreateCustomer(ctx, domain.Customer{Name: "Ledger IT", Phone: phone})
		if err != nil {
			return err
		}
		customerID = c.ID
		return nil
	}))
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM credit_ledger WHERE customer_id = $1`, customerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, customerID)
	})

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.WithinTx(ctx, func(tx store.Tx) error {
				_, err := ledger.AppendCredit(ctx, tx, customerID, decimal.RequireFromString("2.50"),
					ledger.Reference{Type: domain.ReferenceTypeSale, ID: "it"}, time.Now())
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	entries, err := s.ListLedgerEntries(ctx, customerID)
	require.NoError(t, err)
	require.Len(t, entries, workers)
	require.NoError(t, ledger.VerifyChain(customerID, entries))
	assert.True(t, ledger.Sum(entries).Equal(decimal.RequireFromString("40.00")))
}
