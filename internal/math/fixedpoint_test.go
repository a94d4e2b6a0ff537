package math

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestAddU64_Overflow(t *testing.T) {
	if _, err := AddU64(^uint64(0), 1); err != ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	sum, err := AddU64(40, 2)
	if err != nil || sum != 42 {
		t.Errorf("got (%d, %v), want (42, nil)", sum, err)
	}
}

func TestSubU64_Underflow(t *testing.T) {
	if _, err := SubU64(1, 2); err != ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	diff, err := SubU64(2, 2)
	if err != nil || diff != 0 {
		t.Errorf("got (%d, %v), want (0, nil)", diff, err)
	}
}

func TestMulDivU64_Rounding(t *testing.T) {
	floor, err := MulDivU64(10, 10, 3, RoundFloor)
	if err != nil || floor != 33 {
		t.Errorf("floor: got (%d, %v), want (33, nil)", floor, err)
	}

	ceil, err := MulDivU64(10, 10, 3, RoundCeil)
	if err != nil || ceil != 34 {
		t.Errorf("ceil: got (%d, %v), want (34, nil)", ceil, err)
	}
}

func TestMulDiv_DivByZero(t *testing.T) {
	_, err := MulDiv(uint256.NewInt(1), uint256.NewInt(1), uint256.NewInt(0), RoundFloor)
	if err != ErrDivByZero {
		t.Errorf("expected ErrDivByZero, got %v", err)
	}
}

func TestMulDivU64_ResultTooLarge(t *testing.T) {
	_, err := MulDivU64(^uint64(0), ^uint64(0), 1, RoundFloor)
	if err != ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestLerp_Boundaries(t *testing.T) {
	start := uint256.NewInt(1_000_000)
	end := uint256.NewInt(500_000)

	at0, err := Lerp(start, end, 0, 100)
	if err != nil || !at0.Eq(start) {
		t.Errorf("t=0: got (%v, %v), want start", at0, err)
	}

	atSpan, err := Lerp(start, end, 100, 100)
	if err != nil || !atSpan.Eq(end) {
		t.Errorf("t=span: got (%v, %v), want end", atSpan, err)
	}

	past, err := Lerp(start, end, 250, 100)
	if err != nil || !past.Eq(end) {
		t.Errorf("t>span: got (%v, %v), want end clamp", past, err)
	}
}

func TestLerp_Midpoint(t *testing.T) {
	mid, err := Lerp(uint256.NewInt(1_000_000), uint256.NewInt(500_000), 50, 100)
	if err != nil {
		t.Fatalf("Lerp failed: %v", err)
	}
	if mid.Uint64() != 750_000 {
		t.Errorf("midpoint: got %d, want 750_000", mid.Uint64())
	}
}

func TestLerp_MonotoneNonIncreasing(t *testing.T) {
	start := uint256.NewInt(982_451_653)
	end := uint256.NewInt(104_729)

	prev := new(uint256.Int).Set(start)
	for elapsed := uint64(0); elapsed <= 1000; elapsed++ {
		p, err := Lerp(start, end, elapsed, 1000)
		if err != nil {
			t.Fatalf("Lerp(%d) failed: %v", elapsed, err)
		}
		if p.Gt(prev) {
			t.Fatalf("price increased at t=%d: %v > %v", elapsed, p, prev)
		}
		if p.Gt(start) || p.Lt(end) {
			t.Fatalf("price out of bounds at t=%d: %v", elapsed, p)
		}
		prev = p
	}
}
