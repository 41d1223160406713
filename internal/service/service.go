package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"khata/backend/internal/cache"
	"khata/backend/internal/domain"
	"khata/backend/internal/store"
	"khata/backend/internal/xid"
)

// ErrForbidden is returned when the actor in the context lacks the role an
// operation needs.
var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	BalanceCacheTTL   time.Duration
	LowStockThreshold int
	// Now is overridable for tests.
	Now func() time.Time
}

type Service struct {
	repo     store.Repository
	balances cache.BalanceCache
	opts     Options
}

func New(repo store.Repository, balances cache.BalanceCache, opts Options) *Service {
	if balances == nil {
		balances = cache.NoopBalanceCache{}
	}
	if opts.BalanceCacheTTL <= 0 {
		opts.BalanceCacheTTL = 5 * time.Minute
	}
	if opts.LowStockThreshold <= 0 {
		opts.LowStockThreshold = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		repo:     repo,
		balances: balances,
		opts:     opts,
	}
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC()
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	from, err := s.parseDay(date)
	if err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 200
	}
	return s.repo.ListAuditLogs(ctx, from, from.Add(24*time.Hour), limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		log.Warn().Err(err).Str("component", "audit").
			Str("action", action).Str("entity_type", entityType).Str("entity_id", entityID).
			Msg("failed to write audit log")
	}
}

// parseDay accepts YYYY-MM-DD and returns midnight UTC; empty means today.
func (s *Service) parseDay(date string) (time.Time, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		now := s.now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	day, err := time.ParseInLocation(time.DateOnly, date, time.UTC)
	if err != nil {
		return time.Time{}, store.Invalid("date", "must be YYYY-MM-DD")
	}
	return day, nil
}
