package aggregation

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"token-rollup/internal/domain"
	"token-rollup/internal/idhash"
	"token-rollup/internal/storage"
)

// Ledger maintains per-(account, token) running balances.
type Ledger struct {
	balances storage.BalanceStore
}

// NewLedger creates a ledger over the given balance store.
func NewLedger(balances storage.BalanceStore) *Ledger {
	return &Ledger{balances: balances}
}

// Position is an open balance being mutated by one event.
// It remembers whether the balance was strictly positive when opened.
type Position struct {
	balance     *domain.AccountBalance
	hadPositive bool
}

// Open loads the balance of account for token, creating it with amount 0 if missing.
func (l *Ledger) Open(ctx context.Context, account, token string) (*Position, error) {
	id := idhash.BalanceKey(account, token)

	bal, err := l.balances.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		bal = &domain.AccountBalance{
			ID:      id,
			Account: account,
			Token:   token,
			Amount:  decimal.Zero,
		}
	} else if err != nil {
		return nil, err
	}

	return &Position{balance: bal, hadPositive: bal.IsPositive()}, nil
}

// Commit persists the position's balance.
func (l *Ledger) Commit(ctx context.Context, p *Position) error {
	return l.balances.Upsert(ctx, p.balance)
}

// ApplyDelta adds a signed delta to the balance and stamps the block height.
func (p *Position) ApplyDelta(delta decimal.Decimal, blockNumber uint64) {
	p.balance.Amount = p.balance.Amount.Add(delta)
	p.balance.BlockNumber = blockNumber
}

// Touch stamps the block height without changing the amount.
func (p *Position) Touch(blockNumber uint64) {
	p.balance.BlockNumber = blockNumber
}

// HadPositiveBalance reports whether the balance was strictly positive before mutation.
func (p *Position) HadPositiveBalance() bool {
	return p.hadPositive
}

// IsPositive reports whether the balance is currently strictly positive.
func (p *Position) IsPositive() bool {
	return p.balance.IsPositive()
}

// Balance returns the underlying balance record.
func (p *Position) Balance() *domain.AccountBalance {
	return p.balance
}
