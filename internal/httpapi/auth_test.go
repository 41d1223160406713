package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"khata/backend/internal/domain"
	"khata/backend/internal/store"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

const testSecret = "test-secret-key-0123456789abcdef"

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	users := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager(context.Background(), testSecret, time.Hour, users)
	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	stored, err := users.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.NotEqual(t, "admin123", stored[0].Password)
	assert.True(t, strings.HasPrefix(stored[0].Password, "$2"), stored[0].Password)
	assert.GreaterOrEqual(t, users.updates, 1)
}

func TestLoginTokenCarriesRole(t *testing.T) {
	users := &userStoreStub{}
	manager := NewAuthManager(context.Background(), testSecret, time.Hour, users)

	_, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "Counter1", Password: "pass1234"})
	require.NoError(t, err)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "counter1", Password: "pass1234"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCashier, resp.Role)

	actor, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{Username: "counter1", Role: domain.RoleCashier}, actor)
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	hash, err := hashPassword("pass1234")
	require.NoError(t, err)
	users := &userStoreStub{
		users: map[string]domain.UserAccount{
			"olduser": {Username: "olduser", Password: hash, Role: domain.RoleCashier, Active: false},
		},
	}
	manager := NewAuthManager(context.Background(), testSecret, time.Hour, users)

	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "olduser", Password: "pass1234"})
	assert.True(t, errors.Is(err, errInactiveAccount))

	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "olduser", Password: "wrong"})
	assert.True(t, errors.Is(err, errInvalidCredentials))
}

func TestParseTokenRejectsForeignSecretAndIssuer(t *testing.T) {
	manager := NewAuthManager(context.Background(), testSecret, time.Hour, nil)
	other := NewAuthManager(context.Background(), "another-secret-key-0123456789abc", time.Hour, nil)

	token, err := other.sign("admin", domain.RoleAdmin, time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = manager.ParseToken(token)
	assert.Error(t, err)

	claims := khataClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "admin",
			Issuer:    "someone-else",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: domain.RoleAdmin,
	}
	forged, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = manager.ParseToken(forged)
	assert.Error(t, err)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	manager := NewAuthManager(context.Background(), testSecret, time.Hour, nil)

	token, err := manager.sign("admin", domain.RoleAdmin, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = manager.ParseToken(token)
	assert.Error(t, err)
}

func TestCreateCashierValidation(t *testing.T) {
	users := &userStoreStub{}
	manager := NewAuthManager(context.Background(), testSecret, time.Hour, users)

	_, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "abc", Password: "pass1234"})
	var verr *store.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "username", verr.Field)

	_, err = manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "counter9", Password: "123"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "password", verr.Field)

	_, err = manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "counter9", Password: "pass1234"})
	require.NoError(t, err)
	_, err = manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "counter9", Password: "pass1234"})
	require.ErrorAs(t, err, &verr)

	stored := users.users["counter9"]
	assert.True(t, strings.HasPrefix(stored.Password, "$2"), "cashier password must be stored hashed")
}
