package basket

import (
	"errors"

	"BasketLedger/internal/addr"
)

// Capacity bounds for the fixed-size collections. Records are provisioned at
// a fixed size, so these are hard caps rather than tuning knobs.
const (
	// MaxBasketAssets bounds the number of distinct assets in one basket.
	MaxBasketAssets = 100

	// MaxPendingAssets bounds a user's pending mint/redeem entries.
	MaxPendingAssets = 110

	// MaxRebalanceAssets bounds the detail entries of one rebalance.
	MaxRebalanceAssets = 30

	// MaxFeeRecipients bounds the fee recipient table.
	MaxFeeRecipients = 64
)

var (
	ErrCapacityExceeded  = errors.New("collection capacity exceeded")
	ErrDuplicateAsset    = errors.New("asset already present")
	ErrAssetNotFound     = errors.New("asset not in basket")
	ErrAmountOutstanding = errors.New("asset amount not fully unwound")
	ErrZeroAsset         = errors.New("zero asset reference")
)

// TokenAmount is one (asset reference, amount) slot. A zero asset reference
// marks a free slot.
type TokenAmount struct {
	Asset  addr.Address
	Amount uint64
}

// PendingAmounts is one slot of a user's pending basket: amounts parked for
// minting and amounts owed back from redeeming.
type PendingAmounts struct {
	Asset        addr.Address
	ForMinting   uint64
	ForRedeeming uint64
}

func (p PendingAmounts) isEmpty() bool {
	return p.ForMinting == 0 && p.ForRedeeming == 0
}
