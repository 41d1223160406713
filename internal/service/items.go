package service

import (
	"context"
	"fmt"
	"strings"

	"khata/backend/internal/domain"
	"khata/backend/internal/pricing"
	"khata/backend/internal/stock"
	"khata/backend/internal/store"
)

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	return s.repo.ListItems(ctx)
}

func (s *Service) GetItem(ctx context.Context, id string) (domain.Item, error) {
	item, err := s.repo.GetItem(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Item{}, err
	}
	return *item, nil
}

// SearchItems matches in-stock items by name.
func (s *Service) SearchItems(ctx context.Context, query string, limit int) ([]domain.Item, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.repo.SearchItems(ctx, query, limit)
}

// LowStockItems lists items at or below threshold; a non-positive threshold
// falls back to the configured default.
func (s *Service) LowStockItems(ctx context.Context, threshold int) ([]domain.Item, error) {
	if threshold <= 0 {
		threshold = s.opts.LowStockThreshold
	}
	return s.repo.ListLowStockItems(ctx, threshold)
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Item{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" {
		return domain.Item{}, store.Invalid("name", "required")
	}
	if req.Quantity < 0 {
		return domain.Item{}, store.Invalid("quantity", "must not be negative")
	}
	sellingPrice, err := pricing.DeriveSellingPrice(req.CostPrice, req.MarginPercent)
	if err != nil {
		return domain.Item{}, err
	}

	created, err := s.repo.CreateItem(ctx, domain.Item{
		Name:          req.Name,
		Category:      req.Category,
		CostPrice:     req.CostPrice,
		MarginPercent: req.MarginPercent,
		SellingPrice:  sellingPrice,
		Quantity:      req.Quantity,
	})
	if err != nil {
		return domain.Item{}, err
	}

	s.logAudit(ctx, "item_create", "item", created.ID,
		fmt.Sprintf("name=%s,selling_price=%s,quantity=%d", created.Name, created.SellingPrice.StringFixed(2), created.Quantity))
	return *created, nil
}

// RecordPurchase reprices the item from the new cost and margin and adds the
// purchased quantity, all in one transaction.
func (s *Service) RecordPurchase(ctx context.Context, req domain.PurchaseRequest) (domain.PurchaseResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.PurchaseResponse{}, err
	}

	req.ItemID = strings.TrimSpace(req.ItemID)
	if req.ItemID == "" {
		return domain.PurchaseResponse{}, store.Invalid("item_id", "required")
	}
	if req.Quantity < 1 {
		return domain.PurchaseResponse{}, store.Invalid("quantity", "must be greater than zero")
	}
	sellingPrice, err := pricing.DeriveSellingPrice(req.CostPrice, req.MarginPercent)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	var resp domain.PurchaseResponse
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		item, err := tx.LockItem(ctx, req.ItemID)
		if err != nil {
			return err
		}
		if err := tx.UpdateItemPricing(ctx, item.ID, req.CostPrice, req.MarginPercent, sellingPrice); err != nil {
			return err
		}
		quantity, err := stock.Increase(ctx, tx, item.ID, req.Quantity)
		if err != nil {
			return err
		}

		purchase := domain.Purchase{
			ItemID:        item.ID,
			Quantity:      req.Quantity,
			CostPrice:     req.CostPrice,
			MarginPercent: req.MarginPercent,
			SellingPrice:  sellingPrice,
			CreatedAt:     s.now(),
		}
		if phone := strings.TrimSpace(req.SupplierPhone); phone != "" {
			supplier, err := tx.ResolveOrCreateSupplier(ctx, domain.Supplier{Name: req.SupplierName, Phone: phone})
			if err != nil {
				return err
			}
			purchase.SupplierID = supplier.ID
		}
		created, err := tx.CreatePurchase(ctx, purchase)
		if err != nil {
			return err
		}

		item.CostPrice = req.CostPrice
		item.MarginPercent = req.MarginPercent
		item.SellingPrice = sellingPrice
		item.Quantity = quantity
		resp = domain.PurchaseResponse{Purchase: *created, Item: *item}
		return nil
	})
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	s.logAudit(ctx, "purchase_record", "item", resp.Item.ID,
		fmt.Sprintf("purchase=%s,quantity=%d,cost_price=%s,selling_price=%s",
			resp.Purchase.ID, resp.Purchase.Quantity, resp.Purchase.CostPrice.String(), sellingPrice.StringFixed(2)))
	return resp, nil
}
