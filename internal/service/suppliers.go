package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"khata/backend/internal/domain"
	"khata/backend/internal/store"
)

const unknownSupplierName = "Unknown"

// SearchSuppliers matches suppliers whose phone contains the given digits.
func (s *Service) SearchSuppliers(ctx context.Context, phone string, limit int) ([]domain.Supplier, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	phone = strings.TrimSpace(phone)
	if len(phone) < 3 {
		return nil, store.Invalid("phone", "must be at least 3 characters")
	}
	if limit < 1 || limit > 50 {
		limit = 5
	}
	return s.repo.SearchSuppliers(ctx, phone, limit)
}

// CreateSupplier returns the supplier already registered under the phone, or
// registers a new one. A blank name is stored as "Unknown".
func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Supplier{}, err
	}
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return domain.Supplier{}, store.Invalid("phone", "required")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = unknownSupplierName
	}

	var supplier *domain.Supplier
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		supplier, err = tx.ResolveOrCreateSupplier(ctx, domain.Supplier{Name: name, Phone: phone})
		return err
	})
	if err != nil {
		return domain.Supplier{}, err
	}

	log.Info().Str("component", "service").Str("supplier_id", supplier.ID).Msg("supplier resolved")
	s.logAudit(ctx, "supplier_resolve", "supplier", supplier.ID, "phone="+supplier.Phone)
	return *supplier, nil
}
