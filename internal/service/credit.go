package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"khata/backend/internal/domain"
	"khata/backend/internal/ledger"
	"khata/backend/internal/store"
	"khata/backend/internal/xid"
)

// RecordPayment lowers a customer's aggregate balance. It is not tied to any
// sale and may take the balance below zero, which is kept as credit in the
// customer's favour.
func (s *Service) RecordPayment(ctx context.Context, customerID string, req domain.PaymentRequest) (domain.PaymentResponse, error) {
	customerID = strings.TrimSpace(customerID)
	if !req.Amount.IsPositive() {
		return domain.PaymentResponse{}, store.Invalid("amount", "must be greater than zero")
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return domain.PaymentResponse{}, store.Invalid("amount", "must have at most 2 decimal places")
	}

	var entry *domain.CreditLedgerEntry
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		entry, err = ledger.AppendDebit(ctx, tx, customerID, req.Amount,
			ledger.Reference{Type: domain.ReferenceTypePayment, ID: xid.New("pay")}, s.now())
		return err
	})
	if err != nil {
		return domain.PaymentResponse{}, err
	}
	s.refreshBalance(ctx, entry)

	log.Info().Str("component", "service").Str("customer_id", customerID).
		Str("amount", entry.Amount.StringFixed(2)).Str("balance_after", entry.BalanceAfter.StringFixed(2)).
		Int64("seq", entry.Seq).Msg("payment recorded")
	s.logAudit(ctx, "payment_record", "customer", customerID,
		fmt.Sprintf("amount=%s,balance_after=%s,seq=%d", entry.Amount.StringFixed(2), entry.BalanceAfter.StringFixed(2), entry.Seq))

	return domain.PaymentResponse{
		CustomerID: customerID,
		NewBalance: entry.BalanceAfter,
		Entry:      *entry,
	}, nil
}

// GetCustomerBalance reads through the balance cache.
func (s *Service) GetCustomerBalance(ctx context.Context, customerID string) (domain.BalanceResponse, error) {
	customerID = strings.TrimSpace(customerID)

	if cached, hit, err := s.balances.Get(ctx, customerID); err != nil {
		log.Warn().Err(err).Str("component", "cache").Str("customer_id", customerID).Msg("balance cache read failed")
	} else if hit {
		return *cached, nil
	}

	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return domain.BalanceResponse{}, err
	}
	last, err := s.repo.LastLedgerEntry(ctx, customerID)
	if err != nil {
		return domain.BalanceResponse{}, err
	}

	resp := domain.BalanceResponse{CustomerID: customerID, Balance: decimal.Zero}
	if last != nil {
		resp.Balance = last.BalanceAfter
		resp.Seq = last.Seq
	}
	if err := s.balances.Set(ctx, &resp, s.opts.BalanceCacheTTL); err != nil {
		log.Warn().Err(err).Str("component", "cache").Str("customer_id", customerID).Msg("balance cache write failed")
	}
	return resp, nil
}

// refreshBalance writes a committed entry's balance through to the cache.
// If the write fails the entry is dropped so the next read goes to the ledger.
func (s *Service) refreshBalance(ctx context.Context, entry *domain.CreditLedgerEntry) {
	value := domain.BalanceResponse{CustomerID: entry.CustomerID, Balance: entry.BalanceAfter, Seq: entry.Seq}
	err := s.balances.Set(ctx, &value, s.opts.BalanceCacheTTL)
	if err == nil {
		return
	}
	log.Warn().Err(err).Str("component", "cache").Str("customer_id", entry.CustomerID).Msg("balance cache write-through failed")
	if err := s.balances.Invalidate(ctx, entry.CustomerID); err != nil {
		log.Warn().Err(err).Str("component", "cache").Str("customer_id", entry.CustomerID).Msg("balance cache invalidation failed")
	}
}

// CustomerStatement returns the full ledger and checks it two ways: the
// balance chain entry by entry, and an independent sum of all deltas.
func (s *Service) CustomerStatement(ctx context.Context, customerID string) (domain.CustomerStatement, error) {
	customerID = strings.TrimSpace(customerID)
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.CustomerStatement{}, err
	}
	entries, err := s.repo.ListLedgerEntries(ctx, customerID)
	if err != nil {
		return domain.CustomerStatement{}, err
	}

	if err := ledger.VerifyChain(customerID, entries); err != nil {
		log.Error().Err(err).Str("component", "service").Str("customer_id", customerID).Msg("ledger chain broken")
		return domain.CustomerStatement{}, err
	}
	balance := decimal.Zero
	if len(entries) > 0 {
		balance = entries[len(entries)-1].BalanceAfter
	}
	if sum := ledger.Sum(entries); !sum.Equal(balance) {
		err := &store.InvariantViolationError{
			CustomerID: customerID,
			Seq:        int64(len(entries)),
			Detail:     fmt.Sprintf("balance %s does not match sum of entries %s", balance, sum),
		}
		log.Error().Err(err).Str("component", "service").Msg("ledger sum mismatch")
		return domain.CustomerStatement{}, err
	}

	return domain.CustomerStatement{
		Customer: *customer,
		Entries:  entries,
		Balance:  balance,
	}, nil
}

func (s *Service) SearchCustomers(ctx context.Context, query string, limit int) ([]domain.Customer, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.repo.SearchCustomers(ctx, query, limit)
}

// OutstandingCredit lists customers who currently owe money, largest first.
func (s *Service) OutstandingCredit(ctx context.Context) ([]domain.CustomerBalance, error) {
	return s.repo.ListOutstandingBalances(ctx)
}
