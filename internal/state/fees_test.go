package state

import (
	"errors"
	"math"
	"testing"
	"time"

	"BasketLedger/internal/addr"
	fpmath "BasketLedger/internal/math"
)

func TestAccrueFee_Proportional(t *testing.T) {
	// supply=1_000_000, numerator=100 bps, floor=0, 60s elapsed:
	// per-second rate 10_000, accrued 600_000.
	accrued, err := AccrueFee(1_000_000, 60*time.Second, 100, 0)
	if err != nil {
		t.Fatalf("AccrueFee failed: %v", err)
	}
	if accrued != 600_000 {
		t.Errorf("accrued: got %d, want 600_000", accrued)
	}
}

func TestAccrueFee_Deterministic(t *testing.T) {
	a, err1 := AccrueFee(1_000_000, 60*time.Second, 100, 0)
	b, err2 := AccrueFee(1_000_000, 60*time.Second, 100, 0)
	if err1 != nil || err2 != nil {
		t.Fatalf("AccrueFee failed: %v / %v", err1, err2)
	}
	if a != b {
		t.Errorf("accrual not deterministic: %d vs %d", a, b)
	}
}

func TestAccrueFee_FloorWins(t *testing.T) {
	// Proportional rate floor(10*100/10_000) = 0; flat floor 7 must not be
	// bypassed. The two rates are never added.
	accrued, err := AccrueFee(10, 30*time.Second, 100, 7)
	if err != nil {
		t.Fatalf("AccrueFee failed: %v", err)
	}
	if accrued != 210 {
		t.Errorf("accrued: got %d, want 210 (floor rate only)", accrued)
	}
}

func TestAccrueFee_ProportionalWinsOverFloor(t *testing.T) {
	// Proportional 10_000/s against floor 7/s: max applies, not the sum.
	accrued, err := AccrueFee(1_000_000, 1*time.Second, 100, 7)
	if err != nil {
		t.Fatalf("AccrueFee failed: %v", err)
	}
	if accrued != 10_000 {
		t.Errorf("accrued: got %d, want 10_000", accrued)
	}
}

func TestAccrueFee_ZeroElapsed(t *testing.T) {
	accrued, err := AccrueFee(1_000_000, 0, 100, 5)
	if err != nil || accrued != 0 {
		t.Errorf("got (%d, %v), want (0, nil)", accrued, err)
	}
}

func TestAccrueFee_Overflow(t *testing.T) {
	_, err := AccrueFee(^uint64(0), time.Duration(math.MaxInt64), fpmath.FeeDenominator, 0)
	if err == nil {
		t.Error("expected overflow error")
	}
}

func TestSplitAccrued_ProtocolRoundsUp(t *testing.T) {
	protocol, recipients, err := SplitAccrued(1001, 5_000)
	if err != nil {
		t.Fatalf("SplitAccrued failed: %v", err)
	}
	if protocol != 501 || recipients != 500 {
		t.Errorf("got (%d, %d), want (501, 500)", protocol, recipients)
	}
	if protocol+recipients != 1001 {
		t.Error("split does not conserve the accrued amount")
	}
}

func TestRecipientTable_PortionBound(t *testing.T) {
	rt := NewRecipientTable()

	if err := rt.Add(addr.New("r1"), 6_000); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := rt.Add(addr.New("r2"), 4_000); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := rt.Add(addr.New("r3"), 1); !errors.Is(err, ErrInvalidPortions) {
		t.Errorf("expected ErrInvalidPortions, got %v", err)
	}

	if err := rt.Remove(addr.New("r2")); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := rt.Add(addr.New("r3"), 4_000); err != nil {
		t.Errorf("Add after Remove failed: %v", err)
	}
}

func TestRecipientTable_Duplicate(t *testing.T) {
	rt := NewRecipientTable()
	r := addr.New("r1")
	if err := rt.Add(r, 100); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := rt.Add(r, 100); !errors.Is(err, ErrDuplicateEntry) {
		t.Errorf("expected ErrDuplicateEntry, got %v", err)
	}
}

func TestFeeDistribution_Crank(t *testing.T) {
	r1 := addr.New("r1")
	r2 := addr.New("r2")
	fd := &FeeDistribution{
		Basket: addr.New("basket-1"),
		Index:  1,
		Amount: 10_000,
		Recipients: []FeeRecipient{
			{Recipient: r1, Portion: 2_500},
			{Recipient: r2, Portion: 7_500},
		},
	}

	cut, err := fd.Pay(r1)
	if err != nil || cut != 2_500 {
		t.Errorf("Pay r1: got (%d, %v), want (2_500, nil)", cut, err)
	}
	if fd.FullyDistributed() {
		t.Error("distribution reported complete with a slot unpaid")
	}

	// A paid slot cannot be paid twice.
	if _, err := fd.Pay(r1); !errors.Is(err, ErrDuplicateEntry) {
		t.Errorf("expected ErrDuplicateEntry, got %v", err)
	}

	cut, err = fd.Pay(r2)
	if err != nil || cut != 7_500 {
		t.Errorf("Pay r2: got (%d, %v), want (7_500, nil)", cut, err)
	}
	if !fd.FullyDistributed() {
		t.Error("distribution not complete after all slots paid")
	}
}
