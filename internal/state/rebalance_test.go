package state

import (
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"BasketLedger/internal/addr"
	"BasketLedger/internal/basket"
	fpmath "BasketLedger/internal/math"
)

func testDetail(label string) basket.RebalanceDetail {
	return basket.RebalanceDetail{
		Asset: addr.New(label),
		Limits: basket.RebalanceLimits{
			Spot: new(uint256.Int).Set(fpmath.D18),
			Low:  new(uint256.Int).Div(fpmath.D18, uint256.NewInt(2)),
			High: new(uint256.Int).Mul(fpmath.D18, uint256.NewInt(2)),
		},
		Prices: basket.PriceRange{
			Low:  uint256.NewInt(500_000),
			High: uint256.NewInt(1_000_000),
		},
	}
}

func TestRebalanceManager_NonceIncrements(t *testing.T) {
	rm := NewRebalanceManager()
	basketRef := addr.New("basket-1")
	now := time.Unix(10_000, 0)

	r1, err := rm.Open(basketRef, 600, 3_600, now)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if r1.Nonce != 1 {
		t.Errorf("first nonce: got %d, want 1", r1.Nonce)
	}

	if err := r1.AddDetails(1, []basket.RebalanceDetail{testDetail("a")}, true, now); err != nil {
		t.Fatalf("AddDetails failed: %v", err)
	}

	r2, err := rm.Open(basketRef, 600, 3_600, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	if r2.Nonce != 2 {
		t.Errorf("second nonce: got %d, want 2", r2.Nonce)
	}
	if len(r2.Details) != 0 || r2.AllDetailsAdded {
		t.Error("new rebalance did not start clean")
	}
}

func TestRebalance_DetailsAppendOnly(t *testing.T) {
	rm := NewRebalanceManager()
	now := time.Unix(10_000, 0)
	r, err := rm.Open(addr.New("basket-1"), 600, 3_600, now)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := r.AddDetails(1, []basket.RebalanceDetail{testDetail("a")}, false, now); err != nil {
		t.Fatalf("first batch failed: %v", err)
	}
	if err := r.AddDetails(1, []basket.RebalanceDetail{testDetail("b")}, false, now); err != nil {
		t.Fatalf("second batch failed: %v", err)
	}
	if len(r.Details) != 2 {
		t.Errorf("details: got %d entries, want 2 (calls append, not replace)", len(r.Details))
	}

	if err := r.AddDetails(1, []basket.RebalanceDetail{testDetail("a")}, false, now); !errors.Is(err, ErrDuplicateEntry) {
		t.Errorf("expected ErrDuplicateEntry, got %v", err)
	}

	if err := r.AddDetails(2, []basket.RebalanceDetail{testDetail("c")}, false, now); !errors.Is(err, ErrRebalanceNonce) {
		t.Errorf("expected ErrRebalanceNonce, got %v", err)
	}
}

func TestRebalance_SealOnAllAdded(t *testing.T) {
	rm := NewRebalanceManager()
	now := time.Unix(10_000, 0)
	r, err := rm.Open(addr.New("basket-1"), 600, 3_600, now)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	sealTime := now.Add(30 * time.Second)
	if err := r.AddDetails(1, []basket.RebalanceDetail{testDetail("a")}, true, sealTime); err != nil {
		t.Fatalf("sealing batch failed: %v", err)
	}

	if !r.RestrictedUntil.Equal(sealTime.Add(600 * time.Second)) {
		t.Errorf("restricted_until: got %v, want seal+600s", r.RestrictedUntil)
	}
	if !r.AvailableUntil.Equal(sealTime.Add(3_600 * time.Second)) {
		t.Errorf("available_until: got %v, want seal+3600s", r.AvailableUntil)
	}

	err = r.AddDetails(1, []basket.RebalanceDetail{testDetail("b")}, false, sealTime)
	if !errors.Is(err, ErrDetailsSealed) {
		t.Errorf("expected ErrDetailsSealed, got %v", err)
	}
}

func TestValidateDetail_Bounds(t *testing.T) {
	inverted := testDetail("a")
	inverted.Prices.Low, inverted.Prices.High = inverted.Prices.High, inverted.Prices.Low
	if err := ValidateDetail(inverted); !errors.Is(err, ErrInvalidPrices) {
		t.Errorf("inverted prices: expected ErrInvalidPrices, got %v", err)
	}

	zeroPrice := testDetail("b")
	zeroPrice.Prices.Low = uint256.NewInt(0)
	if err := ValidateDetail(zeroPrice); !errors.Is(err, ErrInvalidPrices) {
		t.Errorf("zero price: expected ErrInvalidPrices, got %v", err)
	}

	wideRange := testDetail("c")
	wideRange.Prices.Low = uint256.NewInt(1)
	wideRange.Prices.High = new(uint256.Int).Mul(MaxPriceRatio, uint256.NewInt(2))
	if err := ValidateDetail(wideRange); !errors.Is(err, ErrInvalidPrices) {
		t.Errorf("wide range: expected ErrInvalidPrices, got %v", err)
	}

	badLimits := testDetail("d")
	badLimits.Limits.Spot = new(uint256.Int).Mul(badLimits.Limits.High, uint256.NewInt(2))
	if err := ValidateDetail(badLimits); !errors.Is(err, ErrInvalidLimits) {
		t.Errorf("spot above high: expected ErrInvalidLimits, got %v", err)
	}

	tooBig := testDetail("e")
	tooBig.Limits.High = new(uint256.Int).Mul(MaxRebalanceLimit, uint256.NewInt(2))
	tooBig.Limits.Spot = tooBig.Limits.High
	if err := ValidateDetail(tooBig); !errors.Is(err, ErrInvalidLimits) {
		t.Errorf("limit above max: expected ErrInvalidLimits, got %v", err)
	}

	if err := ValidateDetail(testDetail("f")); err != nil {
		t.Errorf("valid detail rejected: %v", err)
	}
}

func TestRebalance_CapacityBound(t *testing.T) {
	rm := NewRebalanceManager()
	now := time.Unix(10_000, 0)
	r, err := rm.Open(addr.New("basket-1"), 600, 3_600, now)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	entries := make([]basket.RebalanceDetail, basket.MaxRebalanceAssets+1)
	for i := range entries {
		entries[i] = testDetail(string(rune('a' + i)))
	}
	if err := r.AddDetails(1, entries, false, now); !errors.Is(err, basket.ErrCapacityExceeded) {
		t.Errorf("expected ErrCapacityExceeded, got %v", err)
	}
}
