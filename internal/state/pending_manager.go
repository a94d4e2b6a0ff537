package state

import (
	"BasketLedger/internal/addr"
	"BasketLedger/internal/basket"
)

// PendingKey identifies one user's pending basket.
type PendingKey struct {
	User   addr.Address
	Basket addr.Address
}

// PendingManager manages per-(user, basket) pending records.
type PendingManager struct {
	pending map[PendingKey]*basket.PendingBasket
}

func NewPendingManager() *PendingManager {
	return &PendingManager{
		pending: make(map[PendingKey]*basket.PendingBasket),
	}
}

// Get returns the pending record, or nil.
func (pm *PendingManager) Get(user, basketRef addr.Address) *basket.PendingBasket {
	return pm.pending[PendingKey{User: user, Basket: basketRef}]
}

// GetOrCreate returns the pending record, creating an empty one if needed.
func (pm *PendingManager) GetOrCreate(user, basketRef addr.Address) *basket.PendingBasket {
	key := PendingKey{User: user, Basket: basketRef}
	p := pm.pending[key]
	if p == nil {
		p = basket.NewPendingBasket(user, basketRef)
		pm.pending[key] = p
	}
	return p
}

// Set directly stores a pending record (commit path and snapshot restore).
func (pm *PendingManager) Set(p *basket.PendingBasket) {
	key := PendingKey{User: p.User, Basket: p.Basket}
	if p.IsEmpty() {
		delete(pm.pending, key)
		return
	}
	pm.pending[key] = p
}

// All returns every pending record (for snapshot creation and hashing).
func (pm *PendingManager) All() []*basket.PendingBasket {
	result := make([]*basket.PendingBasket, 0, len(pm.pending))
	for _, p := range pm.pending {
		result = append(result, p)
	}
	return result
}
