package adapters

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"BasketLedger/internal/addr"
)

func TestNewRegistry_RejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(
		Adapter{Name: "venue-a", Quoter: Unavailable{}, Trader: Unavailable{}},
		Adapter{Name: "venue-a", Quoter: Unavailable{}, Trader: Unavailable{}},
	)
	if err == nil {
		t.Error("duplicate adapter name accepted")
	}

	if _, err := NewRegistry(Adapter{Name: ""}); err == nil {
		t.Error("empty adapter name accepted")
	}
}

func TestRegistry_Lookup(t *testing.T) {
	r, err := NewRegistry(
		Adapter{Name: "venue-a", Quoter: FixedQuoter{Price: uint256.NewInt(42)}, Trader: Unavailable{}},
	)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	a, ok := r.Get("venue-a")
	if !ok {
		t.Fatal("configured adapter not found")
	}
	price, err := a.Quoter.Quote(addr.New("s"), addr.New("b"), 1)
	if err != nil || price.Uint64() != 42 {
		t.Errorf("Quote: got (%v, %v), want 42", price, err)
	}

	if _, ok := r.Get("venue-b"); ok {
		t.Error("unconfigured adapter found")
	}
}

func TestUnavailable_TypedError(t *testing.T) {
	var u Unavailable
	if _, err := u.Quote(addr.New("s"), addr.New("b"), 1); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Quote: expected ErrUnavailable, got %v", err)
	}
	if _, err := u.Trade(addr.New("s"), addr.New("b"), 1); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Trade: expected ErrUnavailable, got %v", err)
	}
}
