package state

import (
	"fmt"
	"time"

	"BasketLedger/internal/addr"
	"BasketLedger/internal/basket"
	fpmath "BasketLedger/internal/math"
)

// FeeRecipient is one slot of the recipient table: a recipient and its
// portion in bps over math.FeeDenominator. A zero recipient marks a free slot.
type FeeRecipient struct {
	Recipient addr.Address
	Portion   uint64
}

// RecipientTable is the fixed-capacity fee recipient table of one basket.
// Portions across occupied slots sum to at most math.FeeDenominator.
type RecipientTable struct {
	slots [basket.MaxFeeRecipients]FeeRecipient
}

func NewRecipientTable() *RecipientTable {
	return &RecipientTable{}
}

func (rt *RecipientTable) Clone() *RecipientTable {
	dup := *rt
	return &dup
}

// TotalPortion sums the portions of occupied slots.
func (rt *RecipientTable) TotalPortion() uint64 {
	var total uint64
	for i := range rt.slots {
		if !rt.slots[i].Recipient.IsZero() {
			total += rt.slots[i].Portion
		}
	}
	return total
}

// Add inserts a recipient. Duplicates, zero portions, and any insert pushing
// the portion sum past the denominator are rejected.
func (rt *RecipientTable) Add(recipient addr.Address, portion uint64) error {
	if recipient.IsZero() {
		return fmt.Errorf("fee recipient: %w", basket.ErrZeroAsset)
	}
	if portion == 0 || portion > fpmath.FeeDenominator {
		return fmt.Errorf("portion %d: %w", portion, ErrInvalidPortions)
	}
	for i := range rt.slots {
		if rt.slots[i].Recipient == recipient {
			return fmt.Errorf("recipient %s: %w", recipient, ErrDuplicateEntry)
		}
	}
	if rt.TotalPortion()+portion > fpmath.FeeDenominator {
		return fmt.Errorf("portions sum past %d: %w", fpmath.FeeDenominator, ErrInvalidPortions)
	}

	for i := range rt.slots {
		if rt.slots[i].Recipient.IsZero() {
			rt.slots[i] = FeeRecipient{Recipient: recipient, Portion: portion}
			return nil
		}
	}
	return fmt.Errorf("recipient table: %w", basket.ErrCapacityExceeded)
}

// Remove reclaims a recipient's slot.
func (rt *RecipientTable) Remove(recipient addr.Address) error {
	for i := range rt.slots {
		if rt.slots[i].Recipient == recipient {
			rt.slots[i] = FeeRecipient{}
			return nil
		}
	}
	return fmt.Errorf("recipient %s: %w", recipient, basket.ErrAssetNotFound)
}

// Entries returns the occupied slots in array order.
func (rt *RecipientTable) Entries() []FeeRecipient {
	out := make([]FeeRecipient, 0)
	for i := range rt.slots {
		if !rt.slots[i].Recipient.IsZero() {
			out = append(out, rt.slots[i])
		}
	}
	return out
}

// AccrueFee computes the fee accrued over elapsed time. The per-second rate
// is the greater of the flat floor and the proportional rate
// supply*numerator/denominator; the floor is never bypassed by a smaller
// proportional result, and the two are never added. Overflow anywhere aborts
// with no partial result.
func AccrueFee(supply uint64, elapsed time.Duration, numerator, floor uint64) (uint64, error) {
	seconds := uint64(elapsed / time.Second)
	if seconds == 0 {
		return 0, nil
	}

	proportional, err := fpmath.MulDivU64(supply, numerator, fpmath.FeeDenominator, fpmath.RoundFloor)
	if err != nil {
		return 0, fmt.Errorf("proportional rate: %w", err)
	}

	rate := proportional
	if floor > rate {
		rate = floor
	}

	accrued, err := fpmath.MulU64(rate, seconds)
	if err != nil {
		return 0, fmt.Errorf("accrue over %ds: %w", seconds, err)
	}
	return accrued, nil
}

// SplitAccrued divides an accrued fee into the protocol share and the
// recipient share. The protocol share rounds up so the protocol cut is never
// eroded by truncation; the recipient share is the exact remainder.
func SplitAccrued(accrued, protocolBps uint64) (protocol, recipients uint64, err error) {
	protocol, err = fpmath.MulDivU64(accrued, protocolBps, fpmath.FeeDenominator, fpmath.RoundCeil)
	if err != nil {
		return 0, 0, fmt.Errorf("protocol share: %w", err)
	}
	if protocol > accrued {
		protocol = accrued
	}
	return protocol, accrued - protocol, nil
}

// FeeDistribution snapshots the recipient table at distribution time. Each
// crank pays recipients their bps portion of Amount and zeroes the slot; the
// record is fully distributed when every slot is zero.
type FeeDistribution struct {
	Basket addr.Address
	Index  uint64

	// Amount is the recipient share being distributed, in basket token units.
	Amount uint64

	Recipients []FeeRecipient
}

func (fd *FeeDistribution) Clone() *FeeDistribution {
	dup := *fd
	dup.Recipients = make([]FeeRecipient, len(fd.Recipients))
	copy(dup.Recipients, fd.Recipients)
	return &dup
}

// Pay computes and zeroes one recipient's slice of the distribution. Paying
// an already-zeroed or absent recipient returns ErrDuplicateEntry so cranks
// cannot double-pay.
func (fd *FeeDistribution) Pay(recipient addr.Address) (uint64, error) {
	for i := range fd.Recipients {
		if fd.Recipients[i].Recipient != recipient {
			continue
		}
		if fd.Recipients[i].Portion == 0 {
			return 0, fmt.Errorf("recipient %s already paid: %w", recipient, ErrDuplicateEntry)
		}
		cut, err := fpmath.MulDivU64(fd.Amount, fd.Recipients[i].Portion, fpmath.FeeDenominator, fpmath.RoundFloor)
		if err != nil {
			return 0, fmt.Errorf("recipient cut: %w", err)
		}
		fd.Recipients[i].Portion = 0
		return cut, nil
	}
	return 0, fmt.Errorf("recipient %s: %w", recipient, basket.ErrAssetNotFound)
}

// FullyDistributed reports whether every slot has been paid.
func (fd *FeeDistribution) FullyDistributed() bool {
	for i := range fd.Recipients {
		if fd.Recipients[i].Portion != 0 {
			return false
		}
	}
	return true
}

// DistributionKey identifies one distribution record.
type DistributionKey struct {
	Basket addr.Address
	Index  uint64
}

// FeeDistributionManager manages open distribution records.
type FeeDistributionManager struct {
	distributions map[DistributionKey]*FeeDistribution
}

func NewFeeDistributionManager() *FeeDistributionManager {
	return &FeeDistributionManager{
		distributions: make(map[DistributionKey]*FeeDistribution),
	}
}

func (fm *FeeDistributionManager) Get(basketRef addr.Address, index uint64) *FeeDistribution {
	return fm.distributions[DistributionKey{Basket: basketRef, Index: index}]
}

func (fm *FeeDistributionManager) Set(fd *FeeDistribution) {
	fm.distributions[DistributionKey{Basket: fd.Basket, Index: fd.Index}] = fd
}

// Reclaim removes a fully distributed record.
func (fm *FeeDistributionManager) Reclaim(basketRef addr.Address, index uint64) {
	delete(fm.distributions, DistributionKey{Basket: basketRef, Index: index})
}

// All returns every open distribution (for snapshot creation and hashing).
func (fm *FeeDistributionManager) All() []*FeeDistribution {
	result := make([]*FeeDistribution, 0, len(fm.distributions))
	for _, fd := range fm.distributions {
		result = append(result, fd)
	}
	return result
}
