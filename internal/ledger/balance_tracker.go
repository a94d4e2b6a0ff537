package ledger

import (
	"fmt"

	"BasketLedger/internal/addr"
)

// BalanceTracker maintains in-memory account balances derived from journal
// postings. External settlement accounts go negative as value flows into the
// system; everything else must stay non-negative.
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single posting to balances.
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch validates and applies all postings in a batch.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}
	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}
	return nil
}

// GetBalance returns the current balance for an account.
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// VaultBalance returns a basket vault's journalled holding of one asset.
func (bt *BalanceTracker) VaultBalance(basketRef, asset addr.Address) int64 {
	return bt.GetBalance(VaultAccount(basketRef, asset))
}

// RecipientPayout returns the cumulative fee shares paid to a recipient for
// one basket.
func (bt *BalanceTracker) RecipientPayout(recipient, basketRef addr.Address) int64 {
	return bt.GetBalance(FeeRecipientAccount(recipient, basketRef))
}

// ComputeGlobalBalance sums balances per asset across all accounts; every
// total must be zero since each posting is a balanced transfer.
func (bt *BalanceTracker) ComputeGlobalBalance() map[addr.Address]int64 {
	totals := make(map[addr.Address]int64)
	for key, balance := range bt.balances {
		totals[key.Asset] += balance
	}
	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0.
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	if balance := bt.balances[key]; balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.Path(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances.
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
