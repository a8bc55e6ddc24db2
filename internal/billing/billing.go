// Package billing charges organizations message credits per delivered
// notification.
package billing

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"studyroom/internal/apperr"
	"studyroom/internal/store"
)

// Default per-message price and provider cost, used when no pricing row
// is active for the channel.
const (
	DefaultPrice = 100
	DefaultCost  = 12
)

var ErrInsufficientCredits = apperr.Conflict("insufficient message credits")

// Charge is the outcome of a successful deduction.
type Charge struct {
	Price   int
	Cost    int
	Balance int
}

// Ledger deducts credits for one message and returns them when the
// provider rejects it.
type Ledger interface {
	Charge(ctx context.Context, orgID, channel, description string) (Charge, error)
	Refund(ctx context.Context, orgID string, c Charge, description string) error
}

var (
	_ Ledger = (*Repository)(nil)
	_ Ledger = Free{}
	_ Ledger = (*MemoryLedger)(nil)
)

// Repository is the Postgres ledger.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Charge atomically deducts the channel price from the organization's
// balance and records the transaction. A balance below the price yields
// ErrInsufficientCredits and leaves the balance untouched.
func (r *Repository) Charge(ctx context.Context, orgID, channel, description string) (Charge, error) {
	var c Charge
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		c.Price, c.Cost = DefaultPrice, DefaultCost
		err := tx.QueryRowContext(ctx, `
			SELECT price, cost FROM message_pricing
			WHERE message_type = $1 AND is_active
		`, channel).Scan(&c.Price, &c.Cost)
		if err != nil && !store.IsNotFound(err) {
			return apperr.Persistence("load message pricing", err)
		}

		err = tx.QueryRowContext(ctx, `
			UPDATE organizations
			SET credit_balance = credit_balance - $2
			WHERE id = $1 AND credit_balance >= $2
			RETURNING credit_balance
		`, orgID, c.Price).Scan(&c.Balance)
		if err != nil {
			if store.IsNotFound(err) {
				return ErrInsufficientCredits
			}
			return apperr.Persistence("deduct credits", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO credit_transactions (id, org_id, amount, balance_after, description)
			VALUES ($1, $2, $3, $4, $5)
		`, uuid.NewString(), orgID, -c.Price, c.Balance, description)
		if err != nil {
			return apperr.Persistence("record credit transaction", err)
		}
		return nil
	})
	if err != nil {
		return Charge{}, err
	}
	return c, nil
}

// Refund credits back a previous charge.
func (r *Repository) Refund(ctx context.Context, orgID string, c Charge, description string) error {
	if c.Price == 0 {
		return nil
	}
	return store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var balance int
		err := tx.QueryRowContext(ctx, `
			UPDATE organizations SET credit_balance = credit_balance + $2
			WHERE id = $1
			RETURNING credit_balance
		`, orgID, c.Price).Scan(&balance)
		if err != nil {
			return apperr.Persistence("refund credits", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO credit_transactions (id, org_id, amount, balance_after, description)
			VALUES ($1, $2, $3, $4, $5)
		`, uuid.NewString(), orgID, c.Price, balance, description)
		if err != nil {
			return apperr.Persistence("record credit transaction", err)
		}
		return nil
	})
}

// Free is the ledger used when billing is disabled.
type Free struct{}

func (Free) Charge(context.Context, string, string, string) (Charge, error) {
	return Charge{}, nil
}

func (Free) Refund(context.Context, string, Charge, string) error { return nil }

// MemoryLedger keeps balances in memory.
type MemoryLedger struct {
	mu       sync.Mutex
	Price    int
	Cost     int
	balances map[string]int
	History  []string
}

func NewMemoryLedger(price, cost int) *MemoryLedger {
	return &MemoryLedger{Price: price, Cost: cost, balances: map[string]int{}}
}

func (m *MemoryLedger) SetBalance(orgID string, amount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[orgID] = amount
}

func (m *MemoryLedger) Balance(orgID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[orgID]
}

func (m *MemoryLedger) Charge(_ context.Context, orgID, channel, description string) (Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[orgID] < m.Price {
		return Charge{}, ErrInsufficientCredits
	}
	m.balances[orgID] -= m.Price
	m.History = append(m.History, fmt.Sprintf("%s:%s", channel, description))
	return Charge{Price: m.Price, Cost: m.Cost, Balance: m.balances[orgID]}, nil
}

func (m *MemoryLedger) Refund(_ context.Context, orgID string, c Charge, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[orgID] += c.Price
	m.History = append(m.History, "refund:"+description)
	return nil
}
