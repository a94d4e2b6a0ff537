package state

import (
	"fmt"
	"time"

	"BasketLedger/internal/addr"
	"BasketLedger/internal/basket"
	fpmath "BasketLedger/internal/math"
)

// BasketStatus is the lifecycle state of a basket ledger record
type BasketStatus int32

const (
	StatusInitializing BasketStatus = iota
	StatusInitialized
	StatusKilled
	StatusMigrating
)

func (s BasketStatus) String() string {
	switch s {
	case StatusInitializing:
		return "Initializing"
	case StatusInitialized:
		return "Initialized"
	case StatusKilled:
		return "Killed"
	case StatusMigrating:
		return "Migrating"
	default:
		return "Unknown"
	}
}

// Fee schedule and window bounds. Numerators are bps over
// math.FeeDenominator.
const (
	// MaxValueFeeNumerator caps the annualizable value fee at 10%.
	MaxValueFeeNumerator uint64 = 1_000

	// MaxMintFeeNumerator caps the mint fee at 5%.
	MaxMintFeeNumerator uint64 = 500

	// MinAuctionLength / MaxAuctionLength bound auction duration (seconds).
	MinAuctionLength uint64 = 60
	MaxAuctionLength uint64 = 604_800

	// MaxMandateLength bounds the human-readable mandate.
	MaxMandateLength = 512
)

// Basket is the root per-basket ledger record.
type Basket struct {
	Address addr.Address
	Status  BasketStatus

	// TokenReference is the basket token this record backs.
	TokenReference addr.Address

	// Supply is the outstanding basket token amount.
	Supply uint64

	// Fee schedule: numerators over math.FeeDenominator; FeeFloor is a flat
	// per-second minimum in basket token units.
	ValueFeeNumerator uint64
	MintFeeNumerator  uint64
	FeeFloor          uint64

	// Accrued, not yet distributed fee shares in basket token units.
	PendingProtocolFee  uint64
	PendingRecipientFee uint64

	// DistributionIndex counts completed fee distributions; the next
	// DistributeFees call must present index+1.
	DistributionIndex uint64

	// AuctionLength is the duration of auctions opened under this basket.
	AuctionLength uint64

	// LastPoke is the timestamp fees have been accrued through.
	LastPoke time.Time

	Mandate string

	Composition *basket.Composition
	Recipients  *RecipientTable
}

func (b *Basket) Clone() *Basket {
	dup := *b
	dup.Composition = b.Composition.Clone()
	dup.Recipients = b.Recipients.Clone()
	return &dup
}

// IsMutable reports whether fee-bearing and composition mutations may run.
func (b *Basket) IsMutable() bool {
	return b.Status == StatusInitializing || b.Status == StatusInitialized
}

// ValidateFeeSchedule checks the fee numerators and auction length against
// their bounds.
func ValidateFeeSchedule(valueFee, mintFee, auctionLength uint64) error {
	if valueFee > MaxValueFeeNumerator {
		return fmt.Errorf("value fee %d > %d: %w", valueFee, MaxValueFeeNumerator, ErrInvalidFee)
	}
	if mintFee > MaxMintFeeNumerator {
		return fmt.Errorf("mint fee %d > %d: %w", mintFee, MaxMintFeeNumerator, ErrInvalidFee)
	}
	if auctionLength < MinAuctionLength || auctionLength > MaxAuctionLength {
		return fmt.Errorf("auction length %d outside [%d, %d]: %w",
			auctionLength, MinAuctionLength, MaxAuctionLength, ErrInvalidAuctionLen)
	}
	return nil
}

// BasketManager manages basket ledger records
type BasketManager struct {
	baskets map[addr.Address]*Basket
}

func NewBasketManager() *BasketManager {
	return &BasketManager{
		baskets: make(map[addr.Address]*Basket),
	}
}

// Get returns the basket record or nil.
func (bm *BasketManager) Get(address addr.Address) *Basket {
	return bm.baskets[address]
}

// Create provisions a new basket record in Initializing status.
func (bm *BasketManager) Create(
	address addr.Address,
	tokenRef addr.Address,
	valueFee, mintFee, feeFloor, auctionLength uint64,
	mandate string,
	now time.Time,
) (*Basket, error) {
	if bm.baskets[address] != nil {
		return nil, fmt.Errorf("basket %s: %w", address, ErrDuplicateEntry)
	}
	if err := ValidateFeeSchedule(valueFee, mintFee, auctionLength); err != nil {
		return nil, err
	}
	if len(mandate) > MaxMandateLength {
		return nil, fmt.Errorf("mandate length %d > %d: %w", len(mandate), MaxMandateLength, ErrInvalidFee)
	}

	b := &Basket{
		Address:           address,
		Status:            StatusInitializing,
		TokenReference:    tokenRef,
		ValueFeeNumerator: valueFee,
		MintFeeNumerator:  mintFee,
		FeeFloor:          feeFloor,
		AuctionLength:     auctionLength,
		LastPoke:          now,
		Mandate:           mandate,
		Composition:       basket.NewComposition(),
		Recipients:        NewRecipientTable(),
	}
	bm.baskets[address] = b
	return b, nil
}

// MintSupply credits supply with checked addition.
func (b *Basket) MintSupply(amount uint64) error {
	next, err := fpmath.AddU64(b.Supply, amount)
	if err != nil {
		return fmt.Errorf("mint supply: %w", err)
	}
	b.Supply = next
	return nil
}

// BurnSupply debits supply with checked subtraction.
func (b *Basket) BurnSupply(amount uint64) error {
	next, err := fpmath.SubU64(b.Supply, amount)
	if err != nil {
		return fmt.Errorf("burn supply: %w", err)
	}
	b.Supply = next
	return nil
}

// Set directly stores a basket record (commit path and snapshot restore).
func (bm *BasketManager) Set(b *Basket) {
	bm.baskets[b.Address] = b
}

// All returns every basket record (for snapshot creation and hashing).
func (bm *BasketManager) All() []*Basket {
	result := make([]*Basket, 0, len(bm.baskets))
	for _, b := range bm.baskets {
		result = append(result, b)
	}
	return result
}
