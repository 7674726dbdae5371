package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/fishmarket/go/internal/models"
)

// PostgresAccounts reads account status from the users table.
type PostgresAccounts struct {
	pool *pgxpool.Pool
}

// NewPostgresAccounts creates an account lookup over pool.
func NewPostgresAccounts(pool *pgxpool.Pool) *PostgresAccounts {
	return &PostgresAccounts{pool: pool}
}

func (p *PostgresAccounts) LookupAccount(ctx context.Context, userID uuid.UUID) (models.Account, error) {
	account := models.Account{ID: userID}
	err := p.pool.QueryRow(ctx, "SELECT is_active FROM users WHERE id = $1", userID).Scan(&account.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// MemoryAccounts is an in-memory AccountLookup.
type MemoryAccounts struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]bool
	// AllowUnknown treats unknown users as active.
	AllowUnknown bool
}

// NewMemoryAccounts creates an empty account set.
func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{accounts: make(map[uuid.UUID]bool)}
}

// Set records whether userID is active.
func (m *MemoryAccounts) Set(userID uuid.UUID, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[userID] = active
}

func (m *MemoryAccounts) LookupAccount(ctx context.Context, userID uuid.UUID) (models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active, ok := m.accounts[userID]
	if !ok {
		if m.AllowUnknown {
			return models.Account{ID: userID, Active: true}, nil
		}
		return models.Account{}, ErrAccountNotFound
	}
	return models.Account{ID: userID, Active: active}, nil
}
