package core

import (
	"fmt"

	"BasketLedger/internal/addr"
	"BasketLedger/internal/basket"
	"BasketLedger/internal/event"
	"BasketLedger/internal/state"
)

// txn stages every record an operation touches as a deep copy. Handlers
// mutate only staged copies; commit writes them back in one step. A handler
// error anywhere simply drops the txn, so no partial mutation is ever
// observable.
type txn struct {
	engine *Engine

	baskets       map[addr.Address]*state.Basket
	rebalances    map[addr.Address]*state.Rebalance
	auctions      map[addr.Address]*state.Auction
	pendings      map[state.PendingKey]*basket.PendingBasket
	distributions map[state.DistributionKey]*state.FeeDistribution

	droppedRebalances   []addr.Address
	reclaimedDistIndice []state.DistributionKey

	notes []event.Notification
}

func newTxn(e *Engine) *txn {
	return &txn{
		engine:        e,
		baskets:       make(map[addr.Address]*state.Basket),
		rebalances:    make(map[addr.Address]*state.Rebalance),
		auctions:      make(map[addr.Address]*state.Auction),
		pendings:      make(map[state.PendingKey]*basket.PendingBasket),
		distributions: make(map[state.DistributionKey]*state.FeeDistribution),
	}
}

// basket stages the basket record, cloning committed state on first touch.
func (t *txn) basket(ref addr.Address) (*state.Basket, error) {
	if staged, ok := t.baskets[ref]; ok {
		return staged, nil
	}
	committed := t.engine.baskets.Get(ref)
	if committed == nil {
		return nil, fmt.Errorf("basket %s: %w", ref, state.ErrBasketNotFound)
	}
	staged := committed.Clone()
	t.baskets[ref] = staged
	return staged, nil
}

// stageBasket registers a freshly created basket record.
func (t *txn) stageBasket(b *state.Basket) {
	t.baskets[b.Address] = b
}

// rebalance stages the active rebalance of a basket.
func (t *txn) rebalance(basketRef addr.Address) (*state.Rebalance, error) {
	if staged, ok := t.rebalances[basketRef]; ok {
		return staged, nil
	}
	committed := t.engine.rebalances.Get(basketRef)
	if committed == nil {
		return nil, fmt.Errorf("basket %s: %w", basketRef, state.ErrRebalanceNotFound)
	}
	staged := committed.Clone()
	t.rebalances[basketRef] = staged
	return staged, nil
}

func (t *txn) stageRebalance(r *state.Rebalance) {
	t.rebalances[r.Basket] = r
}

// dropRebalance removes the basket's active rebalance at commit.
func (t *txn) dropRebalance(basketRef addr.Address) {
	delete(t.rebalances, basketRef)
	t.droppedRebalances = append(t.droppedRebalances, basketRef)
}

// auction stages an auction record.
func (t *txn) auction(id addr.Address) (*state.Auction, error) {
	if staged, ok := t.auctions[id]; ok {
		return staged, nil
	}
	committed := t.engine.auctions.Get(id)
	if committed == nil {
		return nil, fmt.Errorf("auction %s: %w", id, state.ErrAuctionNotFound)
	}
	staged := committed.Clone()
	t.auctions[id] = staged
	return staged, nil
}

func (t *txn) stageAuction(a *state.Auction) {
	t.auctions[a.Address] = a
}

// pending stages a user's pending basket, creating an empty one if absent.
func (t *txn) pending(user, basketRef addr.Address) *basket.PendingBasket {
	key := state.PendingKey{User: user, Basket: basketRef}
	if staged, ok := t.pendings[key]; ok {
		return staged
	}
	committed := t.engine.pendings.Get(user, basketRef)
	var staged *basket.PendingBasket
	if committed == nil {
		staged = basket.NewPendingBasket(user, basketRef)
	} else {
		staged = committed.Clone()
	}
	t.pendings[key] = staged
	return staged
}

// distribution stages an open fee distribution record.
func (t *txn) distribution(basketRef addr.Address, index uint64) (*state.FeeDistribution, error) {
	key := state.DistributionKey{Basket: basketRef, Index: index}
	if staged, ok := t.distributions[key]; ok {
		return staged, nil
	}
	committed := t.engine.distributions.Get(basketRef, index)
	if committed == nil {
		return nil, fmt.Errorf("basket %s index %d: %w", basketRef, index, state.ErrDistributionNotFound)
	}
	staged := committed.Clone()
	t.distributions[key] = staged
	return staged, nil
}

func (t *txn) stageDistribution(fd *state.FeeDistribution) {
	t.distributions[state.DistributionKey{Basket: fd.Basket, Index: fd.Index}] = fd
}

// reclaimDistribution removes a fully distributed record at commit.
func (t *txn) reclaimDistribution(basketRef addr.Address, index uint64) {
	key := state.DistributionKey{Basket: basketRef, Index: index}
	delete(t.distributions, key)
	t.reclaimedDistIndice = append(t.reclaimedDistIndice, key)
}

// note queues a notification for emission after commit.
func (t *txn) note(n event.Notification) {
	t.notes = append(t.notes, n)
}

// commit writes every staged record back to the managers. Nothing in here
// can fail; all validation happened while staging.
func (t *txn) commit() {
	for _, b := range t.baskets {
		t.engine.baskets.Set(b)
	}
	for _, r := range t.rebalances {
		t.engine.rebalances.Set(r)
	}
	for _, ref := range t.droppedRebalances {
		t.engine.rebalances.Close(ref)
	}
	for _, a := range t.auctions {
		t.engine.auctions.Set(a)
	}
	for _, p := range t.pendings {
		t.engine.pendings.Set(p)
	}
	for _, fd := range t.distributions {
		t.engine.distributions.Set(fd)
	}
	for _, key := range t.reclaimedDistIndice {
		t.engine.distributions.Reclaim(key.Basket, key.Index)
	}
}
