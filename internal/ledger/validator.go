package ledger

import (
	"fmt"

	"BasketLedger/internal/addr"
)

// InvariantValidator checks journal invariants after batches apply.
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{tracker: tracker}
}

// ValidateBatchBalance verifies a batch is well-formed before it applies.
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateVaultNonNegative checks a basket never owes an asset.
func (v *InvariantValidator) ValidateVaultNonNegative(basketRef, asset addr.Address) error {
	return v.tracker.ValidateNonNegative(VaultAccount(basketRef, asset))
}

// ValidateGlobalBalance verifies the journal is zero-sum per asset.
func (v *InvariantValidator) ValidateGlobalBalance() error {
	for asset, total := range v.tracker.ComputeGlobalBalance() {
		if total != 0 {
			return fmt.Errorf("global balance for %s is non-zero: %d", asset, total)
		}
	}
	return nil
}
