package treasury

import (
	"context"
	"errors"
	"math"
	"sync"
)

var (
	ErrInsufficientFunds = errors.New("treasury: insufficient funds")
	ErrInvalidAmount     = errors.New("treasury: amount must be positive")
	ErrBalanceOverflow   = errors.New("treasury: balance overflow")
)

// Treasury is the external value-custody primitive: it moves value into
// the ledger's custody atomically with a call, and pushes value back out
// to an identity with a synchronous success/failure result. It is trusted
// to never silently fail.
type Treasury interface {
	// Collect pulls amount from the payer's external balance into custody.
	Collect(ctx context.Context, from string, amount int64) error
	// Payout pushes amount from custody to the recipient's external balance.
	Payout(ctx context.Context, to string, amount int64) error
}

// MemoryTreasury keeps external account balances in memory. It backs the
// development server and the test suites; a production deployment swaps
// in a gateway to a real payment rail behind the same interface.
type MemoryTreasury struct {
	mu       sync.Mutex
	accounts map[string]int64
	custody  int64
}

func NewMemoryTreasury() *MemoryTreasury {
	return &MemoryTreasury{accounts: make(map[string]int64)}
}

// Fund credits an external account directly, outside any ledger flow.
func (t *MemoryTreasury) Fund(account string, amount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accounts[account] += amount
}

// Balance reports an external account's balance outside the ledger.
func (t *MemoryTreasury) Balance(account string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accounts[account]
}

// Custody reports the total value currently held on behalf of the ledger.
func (t *MemoryTreasury) Custody() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.custody
}

func (t *MemoryTreasury) Collect(_ context.Context, from string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.accounts[from] < amount {
		return ErrInsufficientFunds
	}
	if t.custody > math.MaxInt64-amount {
		return ErrBalanceOverflow
	}
	t.accounts[from] -= amount
	t.custody += amount
	return nil
}

func (t *MemoryTreasury) Payout(_ context.Context, to string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.custody < amount {
		return ErrInsufficientFunds
	}
	if t.accounts[to] > math.MaxInt64-amount {
		return ErrBalanceOverflow
	}
	t.custody -= amount
	t.accounts[to] += amount
	return nil
}
