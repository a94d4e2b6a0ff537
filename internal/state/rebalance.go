package state

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"BasketLedger/internal/addr"
	"BasketLedger/internal/basket"
)

// Rebalance window bounds (seconds).
const (
	MaxLauncherWindow uint64 = 604_800
	MaxRebalanceTTL   uint64 = 2_419_200
)

var (
	// MaxRebalanceLimit caps basket-per-share limits at 1e9 units (D18).
	MaxRebalanceLimit = uint256.MustFromDecimal("1000000000000000000000000000")

	// MaxPriceRatio caps how far High may sit above Low within one detail.
	MaxPriceRatio = uint256.NewInt(1_000_000_000)
)

// Rebalance is the singleton in-flight rebalance record of one basket.
// Details accumulate append-only until AllDetailsAdded flips true, which
// fixes the auction windows.
type Rebalance struct {
	Basket addr.Address
	Nonce  uint64

	StartedAt       time.Time
	RestrictedUntil time.Time
	AvailableUntil  time.Time
	AllDetailsAdded bool

	// Window lengths in seconds, fixed at open, applied when details
	// complete.
	LauncherWindow uint64
	TTL            uint64

	Details []basket.RebalanceDetail
}

func (r *Rebalance) Clone() *Rebalance {
	dup := *r
	dup.Details = make([]basket.RebalanceDetail, len(r.Details))
	for i := range r.Details {
		dup.Details[i] = basket.CloneDetail(r.Details[i])
	}
	return &dup
}

// Detail returns the entry for an asset, or nil.
func (r *Rebalance) Detail(asset addr.Address) *basket.RebalanceDetail {
	for i := range r.Details {
		if r.Details[i].Asset == asset {
			return &r.Details[i]
		}
	}
	return nil
}

// ValidateDetail checks one rebalance entry: prices 0 < Low <= High within a
// bounded ratio, limits Low <= Spot <= High <= MaxRebalanceLimit.
func ValidateDetail(d basket.RebalanceDetail) error {
	if d.Asset.IsZero() {
		return fmt.Errorf("detail: %w", basket.ErrZeroAsset)
	}

	p := d.Prices
	if p.Low == nil || p.High == nil || p.Low.IsZero() {
		return fmt.Errorf("asset %s: zero price bound: %w", d.Asset, ErrInvalidPrices)
	}
	if p.High.Lt(p.Low) {
		return fmt.Errorf("asset %s: inverted price bounds: %w", d.Asset, ErrInvalidPrices)
	}
	maxHigh, overflow := new(uint256.Int).MulOverflow(p.Low, MaxPriceRatio)
	if overflow || p.High.Gt(maxHigh) {
		return fmt.Errorf("asset %s: price range too wide: %w", d.Asset, ErrInvalidPrices)
	}

	l := d.Limits
	if l.Spot == nil || l.Low == nil || l.High == nil {
		return fmt.Errorf("asset %s: missing limit: %w", d.Asset, ErrInvalidLimits)
	}
	if l.Spot.Lt(l.Low) || l.High.Lt(l.Spot) {
		return fmt.Errorf("asset %s: limits out of order: %w", d.Asset, ErrInvalidLimits)
	}
	if l.High.Gt(MaxRebalanceLimit) {
		return fmt.Errorf("asset %s: limit above maximum: %w", d.Asset, ErrInvalidLimits)
	}
	return nil
}

// AddDetails appends validated entries under a matching nonce. When allAdded
// is set the windows are computed from now and further calls are rejected.
func (r *Rebalance) AddDetails(nonce uint64, entries []basket.RebalanceDetail, allAdded bool, now time.Time) error {
	if nonce != r.Nonce {
		return fmt.Errorf("nonce %d, active %d: %w", nonce, r.Nonce, ErrRebalanceNonce)
	}
	if r.AllDetailsAdded {
		return fmt.Errorf("rebalance %d: %w", r.Nonce, ErrDetailsSealed)
	}
	if len(r.Details)+len(entries) > basket.MaxRebalanceAssets {
		return fmt.Errorf("rebalance %d: %w", r.Nonce, basket.ErrCapacityExceeded)
	}

	for _, entry := range entries {
		if err := ValidateDetail(entry); err != nil {
			return err
		}
		if r.Detail(entry.Asset) != nil {
			return fmt.Errorf("asset %s: %w", entry.Asset, ErrDuplicateEntry)
		}
		r.Details = append(r.Details, basket.CloneDetail(entry))
	}

	if allAdded {
		r.AllDetailsAdded = true
		r.RestrictedUntil = now.Add(time.Duration(r.LauncherWindow) * time.Second)
		r.AvailableUntil = now.Add(time.Duration(r.TTL) * time.Second)
	}
	return nil
}

// RebalanceManager manages the one active rebalance per basket.
type RebalanceManager struct {
	rebalances map[addr.Address]*Rebalance
}

func NewRebalanceManager() *RebalanceManager {
	return &RebalanceManager{
		rebalances: make(map[addr.Address]*Rebalance),
	}
}

// Get returns the active rebalance for a basket, or nil.
func (rm *RebalanceManager) Get(basketRef addr.Address) *Rebalance {
	return rm.rebalances[basketRef]
}

// Open starts a new rebalance, superseding any prior one: the nonce
// increments and the details list starts empty.
func (rm *RebalanceManager) Open(basketRef addr.Address, launcherWindow, ttl uint64, now time.Time) (*Rebalance, error) {
	if launcherWindow > MaxLauncherWindow {
		return nil, fmt.Errorf("launcher window %d > %d: %w", launcherWindow, MaxLauncherWindow, ErrInvalidLimits)
	}
	if ttl > MaxRebalanceTTL || ttl < launcherWindow {
		return nil, fmt.Errorf("ttl %d outside [%d, %d]: %w", ttl, launcherWindow, MaxRebalanceTTL, ErrInvalidLimits)
	}

	var nonce uint64 = 1
	if prev := rm.rebalances[basketRef]; prev != nil {
		nonce = prev.Nonce + 1
	}

	r := &Rebalance{
		Basket:         basketRef,
		Nonce:          nonce,
		StartedAt:      now,
		LauncherWindow: launcherWindow,
		TTL:            ttl,
	}
	rm.rebalances[basketRef] = r
	return r, nil
}

// Set directly stores a rebalance record (commit path and snapshot restore).
func (rm *RebalanceManager) Set(r *Rebalance) {
	rm.rebalances[r.Basket] = r
}

// Close drops the active rebalance, used when a basket is killed.
func (rm *RebalanceManager) Close(basketRef addr.Address) {
	delete(rm.rebalances, basketRef)
}

// All returns every active rebalance (for snapshot creation and hashing).
func (rm *RebalanceManager) All() []*Rebalance {
	result := make([]*Rebalance, 0, len(rm.rebalances))
	for _, r := range rm.rebalances {
		result = append(result, r)
	}
	return result
}
