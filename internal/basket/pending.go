package basket

import (
	"fmt"

	"BasketLedger/internal/addr"
	fpmath "BasketLedger/internal/math"
)

// PendingBasket tracks one user's parked amounts against one basket: deposits
// staged for minting and pro-rata amounts owed back from redeeming. Slots are
// reclaimed as soon as both sides reach zero.
type PendingBasket struct {
	User   addr.Address
	Basket addr.Address

	slots [MaxPendingAssets]PendingAmounts
}

func NewPendingBasket(user, basket addr.Address) *PendingBasket {
	return &PendingBasket{User: user, Basket: basket}
}

func (p *PendingBasket) Clone() *PendingBasket {
	dup := *p
	return &dup
}

func (p *PendingBasket) find(asset addr.Address) *PendingAmounts {
	for i := range p.slots {
		if p.slots[i].Asset == asset {
			return &p.slots[i]
		}
	}
	return nil
}

func (p *PendingBasket) claim(asset addr.Address) (*PendingAmounts, error) {
	if slot := p.find(asset); slot != nil {
		return slot, nil
	}
	for i := range p.slots {
		if p.slots[i].Asset.IsZero() {
			p.slots[i] = PendingAmounts{Asset: asset}
			return &p.slots[i], nil
		}
	}
	return nil, ErrCapacityExceeded
}

// release reclaims the slot when nothing is parked on either side.
func (p *PendingBasket) release(slot *PendingAmounts) {
	if slot.isEmpty() {
		*slot = PendingAmounts{}
	}
}

// AddForMinting parks amount of asset towards a future mint.
func (p *PendingBasket) AddForMinting(asset addr.Address, amount uint64) error {
	if asset.IsZero() {
		return ErrZeroAsset
	}
	slot, err := p.claim(asset)
	if err != nil {
		return err
	}
	next, err := fpmath.AddU64(slot.ForMinting, amount)
	if err != nil {
		return fmt.Errorf("pending mint %s: %w", asset, err)
	}
	slot.ForMinting = next
	return nil
}

// TakeForMinting withdraws amount from the minting side, returning it to the
// user before any mint consumed it.
func (p *PendingBasket) TakeForMinting(asset addr.Address, amount uint64) error {
	slot := p.find(asset)
	if slot == nil {
		return fmt.Errorf("pending mint %s: %w", asset, ErrAssetNotFound)
	}
	next, err := fpmath.SubU64(slot.ForMinting, amount)
	if err != nil {
		return fmt.Errorf("pending mint %s: %w", asset, err)
	}
	slot.ForMinting = next
	p.release(slot)
	return nil
}

// AddForRedeeming credits amount of asset owed back to the user.
func (p *PendingBasket) AddForRedeeming(asset addr.Address, amount uint64) error {
	if asset.IsZero() {
		return ErrZeroAsset
	}
	slot, err := p.claim(asset)
	if err != nil {
		return err
	}
	next, err := fpmath.AddU64(slot.ForRedeeming, amount)
	if err != nil {
		return fmt.Errorf("pending redeem %s: %w", asset, err)
	}
	slot.ForRedeeming = next
	return nil
}

// TakeForRedeeming pays out amount from the redeeming side to the user.
func (p *PendingBasket) TakeForRedeeming(asset addr.Address, amount uint64) error {
	slot := p.find(asset)
	if slot == nil {
		return fmt.Errorf("pending redeem %s: %w", asset, ErrAssetNotFound)
	}
	next, err := fpmath.SubU64(slot.ForRedeeming, amount)
	if err != nil {
		return fmt.Errorf("pending redeem %s: %w", asset, err)
	}
	slot.ForRedeeming = next
	p.release(slot)
	return nil
}

// ForMinting returns the amount staged for minting, zero when absent.
func (p *PendingBasket) ForMinting(asset addr.Address) uint64 {
	if slot := p.find(asset); slot != nil {
		return slot.ForMinting
	}
	return 0
}

// ForRedeeming returns the amount owed back, zero when absent.
func (p *PendingBasket) ForRedeeming(asset addr.Address) uint64 {
	if slot := p.find(asset); slot != nil {
		return slot.ForRedeeming
	}
	return 0
}

// Entries returns the occupied slots in array order.
func (p *PendingBasket) Entries() []PendingAmounts {
	out := make([]PendingAmounts, 0)
	for i := range p.slots {
		if !p.slots[i].Asset.IsZero() {
			out = append(out, p.slots[i])
		}
	}
	return out
}

// IsEmpty reports whether no slot holds any amount.
func (p *PendingBasket) IsEmpty() bool {
	for i := range p.slots {
		if !p.slots[i].Asset.IsZero() {
			return false
		}
	}
	return true
}
