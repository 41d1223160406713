// Package ledger owns the per-customer append-only credit ledger. A customer's
// balance is the balance_after of their highest-seq entry, or zero when they
// have none. Credits raise the balance, debits lower it, and the result may go
// negative when a customer pays more than they owe.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"khata/backend/internal/domain"
	"khata/backend/internal/store"
	"khata/backend/internal/xid"
)

type Reference struct {
	Type string
	ID   string
}

// CurrentBalance reads the latest balance inside tx. It does not lock; use
// the Append functions for read-modify-write.
func CurrentBalance(ctx context.Context, tx store.Tx, customerID string) (decimal.Decimal, int64, error) {
	last, err := tx.LastLedgerEntry(ctx, customerID)
	if err != nil {
		return decimal.Zero, 0, err
	}
	if last == nil {
		return decimal.Zero, 0, nil
	}
	return last.BalanceAfter, last.Seq, nil
}

// AppendCredit records money the customer now owes.
func AppendCredit(ctx context.Context, tx store.Tx, customerID string, amount decimal.Decimal, ref Reference, at time.Time) (*domain.CreditLedgerEntry, error) {
	return appendEntry(ctx, tx, customerID, domain.EntryTypeCredit, amount, ref, at)
}

// AppendDebit records a repayment.
func AppendDebit(ctx context.Context, tx store.Tx, customerID string, amount decimal.Decimal, ref Reference, at time.Time) (*domain.CreditLedgerEntry, error) {
	return appendEntry(ctx, tx, customerID, domain.EntryTypeDebit, amount, ref, at)
}

func appendEntry(ctx context.Context, tx store.Tx, customerID string, entryType string, amount decimal.Decimal, ref Reference, at time.Time) (*domain.CreditLedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, store.Invalid("amount", "must be greater than zero")
	}
	// The customer row lock serializes appends; without it two writers could
	// both read seq n and race on n+1.
	if _, err := tx.LockCustomer(ctx, customerID); err != nil {
		return nil, err
	}

	balance, seq, err := CurrentBalance(ctx, tx, customerID)
	if err != nil {
		return nil, err
	}

	entry := domain.CreditLedgerEntry{
		ID:            xid.New("led"),
		CustomerID:    customerID,
		Seq:           seq + 1,
		EntryType:     entryType,
		Amount:        amount,
		BalanceAfter:  balance.Add(signed(entryType, amount)),
		ReferenceType: ref.Type,
		ReferenceID:   ref.ID,
		CreatedAt:     at.UTC(),
	}
	return tx.InsertLedgerEntry(ctx, entry)
}

func signed(entryType string, amount decimal.Decimal) decimal.Decimal {
	if entryType == domain.EntryTypeDebit {
		return amount.Neg()
	}
	return amount
}

// Sum recomputes a balance from scratch as credits minus debits.
func Sum(entries []domain.CreditLedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, entry := range entries {
		total = total.Add(signed(entry.EntryType, entry.Amount))
	}
	return total
}

// VerifyChain checks that entries, in seq order, start at 1 with no gaps and
// that every balance_after equals the previous balance plus the signed amount.
func VerifyChain(customerID string, entries []domain.CreditLedgerEntry) error {
	balance := decimal.Zero
	for i, entry := range entries {
		want := int64(i + 1)
		if entry.Seq != want {
			return &store.InvariantViolationError{
				CustomerID: customerID,
				Seq:        entry.Seq,
				Detail:     fmt.Sprintf("expected seq %d", want),
			}
		}
		if entry.EntryType != domain.EntryTypeCredit && entry.EntryType != domain.EntryTypeDebit {
			return &store.InvariantViolationError{
				CustomerID: customerID,
				Seq:        entry.Seq,
				Detail:     fmt.Sprintf("unknown entry type %q", entry.EntryType),
			}
		}
		balance = balance.Add(signed(entry.EntryType, entry.Amount))
		if !balance.Equal(entry.BalanceAfter) {
			return &store.InvariantViolationError{
				CustomerID: customerID,
				Seq:        entry.Seq,
				Detail:     fmt.Sprintf("balance_after %s, recomputed %s", entry.BalanceAfter, balance),
			}
		}
	}
	return nil
}
