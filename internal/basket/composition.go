package basket

import (
	"fmt"

	"BasketLedger/internal/addr"
	fpmath "BasketLedger/internal/math"
)

// Composition is the fixed-capacity ordered collection of a basket's
// holdings. Asset references are unique within the array; amount mutations
// are checked so no slot can underflow or overflow.
type Composition struct {
	slots [MaxBasketAssets]TokenAmount
}

func NewComposition() *Composition {
	return &Composition{}
}

// Clone returns a deep copy used by the engine's stage-then-commit path.
func (c *Composition) Clone() *Composition {
	dup := *c
	return &dup
}

func (c *Composition) find(asset addr.Address) *TokenAmount {
	for i := range c.slots {
		if c.slots[i].Asset == asset {
			return &c.slots[i]
		}
	}
	return nil
}

// Add credits amount to the asset's slot, claiming a free slot for a new
// asset. Returns true when the asset entered the basket for the first time.
func (c *Composition) Add(asset addr.Address, amount uint64) (bool, error) {
	if asset.IsZero() {
		return false, ErrZeroAsset
	}

	if slot := c.find(asset); slot != nil {
		next, err := fpmath.AddU64(slot.Amount, amount)
		if err != nil {
			return false, fmt.Errorf("credit %s: %w", asset, err)
		}
		slot.Amount = next
		return false, nil
	}

	for i := range c.slots {
		if c.slots[i].Asset.IsZero() {
			c.slots[i] = TokenAmount{Asset: asset, Amount: amount}
			return true, nil
		}
	}
	return false, ErrCapacityExceeded
}

// Sub debits amount from the asset's slot with checked subtraction.
func (c *Composition) Sub(asset addr.Address, amount uint64) error {
	slot := c.find(asset)
	if slot == nil {
		return fmt.Errorf("debit %s: %w", asset, ErrAssetNotFound)
	}

	next, err := fpmath.SubU64(slot.Amount, amount)
	if err != nil {
		return fmt.Errorf("debit %s: %w", asset, err)
	}
	slot.Amount = next
	return nil
}

// Remove reclaims the asset's slot. The committed amount must already be
// fully unwound; a live amount is never silently discarded.
func (c *Composition) Remove(asset addr.Address) error {
	slot := c.find(asset)
	if slot == nil {
		return ErrAssetNotFound
	}
	if slot.Amount != 0 {
		return ErrAmountOutstanding
	}
	*slot = TokenAmount{}
	return nil
}

// Amount returns the committed amount for the asset, or ErrAssetNotFound.
func (c *Composition) Amount(asset addr.Address) (uint64, error) {
	if slot := c.find(asset); slot != nil {
		return slot.Amount, nil
	}
	return 0, ErrAssetNotFound
}

// AmountOrZero is Amount for callers where absence means an empty balance,
// e.g. the buy side of an auction that introduces a new asset.
func (c *Composition) AmountOrZero(asset addr.Address) uint64 {
	if slot := c.find(asset); slot != nil {
		return slot.Amount
	}
	return 0
}

// Contains reports whether the asset occupies a slot.
func (c *Composition) Contains(asset addr.Address) bool {
	return c.find(asset) != nil
}

// Assets returns the occupied slots in array order.
func (c *Composition) Assets() []TokenAmount {
	out := make([]TokenAmount, 0)
	for i := range c.slots {
		if !c.slots[i].Asset.IsZero() {
			out = append(out, c.slots[i])
		}
	}
	return out
}

// Len returns the number of occupied slots.
func (c *Composition) Len() int {
	n := 0
	for i := range c.slots {
		if !c.slots[i].Asset.IsZero() {
			n++
		}
	}
	return n
}
