// Package stock applies quantity changes to items inside a caller's
// transaction. Callers lock items through the same Tx before touching them.
package stock

import (
	"context"

	"khata/backend/internal/store"
)

// Decrease removes qty units from an item. The item row is locked for the
// rest of the transaction; on shortage nothing is written.
func Decrease(ctx context.Context, tx store.Tx, itemID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, store.Invalid("quantity", "must be greater than zero")
	}
	item, err := tx.LockItem(ctx, itemID)
	if err != nil {
		return 0, err
	}
	if item.Quantity < qty {
		return item.Quantity, &store.InsufficientStockError{
			ItemID:    itemID,
			Requested: qty,
			Available: item.Quantity,
		}
	}
	remaining := item.Quantity - qty
	if err := tx.SetItemQuantity(ctx, itemID, remaining); err != nil {
		return 0, err
	}
	return remaining, nil
}

func Increase(ctx context.Context, tx store.Tx, itemID string, qty int) (int, error) {
	if qty < 0 {
		return 0, store.Invalid("quantity", "must not be negative")
	}
	item, err := tx.LockItem(ctx, itemID)
	if err != nil {
		return 0, err
	}
	updated := item.Quantity + qty
	if err := tx.SetItemQuantity(ctx, itemID, updated); err != nil {
		return 0, err
	}
	return updated, nil
}
