package basket

import (
	"errors"
	"fmt"
	"testing"

	"BasketLedger/internal/addr"
)

func TestComposition_AddAndLookup(t *testing.T) {
	c := NewComposition()
	asset := addr.New("asset-usdc")

	first, err := c.Add(asset, 500)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !first {
		t.Error("expected first appearance")
	}

	first, err = c.Add(asset, 250)
	if err != nil {
		t.Fatalf("second Add failed: %v", err)
	}
	if first {
		t.Error("second Add must not report first appearance")
	}

	got, err := c.Amount(asset)
	if err != nil || got != 750 {
		t.Errorf("Amount: got (%d, %v), want (750, nil)", got, err)
	}
	if c.Len() != 1 {
		t.Errorf("Len: got %d, want 1", c.Len())
	}
}

func TestComposition_ZeroAssetRejected(t *testing.T) {
	c := NewComposition()
	if _, err := c.Add(addr.Zero, 1); !errors.Is(err, ErrZeroAsset) {
		t.Errorf("expected ErrZeroAsset, got %v", err)
	}
}

func TestComposition_CapacityExceeded(t *testing.T) {
	c := NewComposition()
	for i := 0; i < MaxBasketAssets; i++ {
		if _, err := c.Add(addr.New(fmt.Sprintf("asset-%d", i)), 1); err != nil {
			t.Fatalf("Add %d failed: %v", i, err)
		}
	}
	if _, err := c.Add(addr.New("one-too-many"), 1); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("expected ErrCapacityExceeded, got %v", err)
	}

	// A full composition still credits existing assets.
	if _, err := c.Add(addr.New("asset-0"), 1); err != nil {
		t.Errorf("credit to existing asset failed: %v", err)
	}
}

func TestComposition_SubUnderflow(t *testing.T) {
	c := NewComposition()
	asset := addr.New("asset-weth")
	if _, err := c.Add(asset, 10); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := c.Sub(asset, 11); err == nil {
		t.Error("expected underflow error")
	}
	if got, _ := c.Amount(asset); got != 10 {
		t.Errorf("failed Sub mutated amount: got %d, want 10", got)
	}

	if err := c.Sub(addr.New("absent"), 1); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("expected ErrAssetNotFound, got %v", err)
	}
}

func TestComposition_RemoveRequiresZeroAmount(t *testing.T) {
	c := NewComposition()
	asset := addr.New("asset-wbtc")
	if _, err := c.Add(asset, 5); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := c.Remove(asset); !errors.Is(err, ErrAmountOutstanding) {
		t.Errorf("expected ErrAmountOutstanding, got %v", err)
	}

	if err := c.Sub(asset, 5); err != nil {
		t.Fatalf("Sub failed: %v", err)
	}
	if err := c.Remove(asset); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if c.Contains(asset) {
		t.Error("removed asset still present")
	}
	if c.Len() != 0 {
		t.Errorf("Len after remove: got %d, want 0", c.Len())
	}

	// The reclaimed slot is reusable.
	if _, err := c.Add(addr.New("replacement"), 1); err != nil {
		t.Errorf("reuse of reclaimed slot failed: %v", err)
	}
}

func TestComposition_CloneIsolation(t *testing.T) {
	c := NewComposition()
	asset := addr.New("asset-sol")
	if _, err := c.Add(asset, 100); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	dup := c.Clone()
	if _, err := dup.Add(asset, 900); err != nil {
		t.Fatalf("Add on clone failed: %v", err)
	}

	if got, _ := c.Amount(asset); got != 100 {
		t.Errorf("clone mutation leaked into original: got %d, want 100", got)
	}
	if got, _ := dup.Amount(asset); got != 1000 {
		t.Errorf("clone amount: got %d, want 1000", got)
	}
}

func TestPendingBasket_MintingRoundTrip(t *testing.T) {
	p := NewPendingBasket(addr.New("user-1"), addr.New("basket-1"))
	asset := addr.New("asset-usdc")

	if err := p.AddForMinting(asset, 300); err != nil {
		t.Fatalf("AddForMinting failed: %v", err)
	}
	if err := p.TakeForMinting(asset, 100); err != nil {
		t.Fatalf("TakeForMinting failed: %v", err)
	}
	if got := p.ForMinting(asset); got != 200 {
		t.Errorf("ForMinting: got %d, want 200", got)
	}

	if err := p.TakeForMinting(asset, 201); err == nil {
		t.Error("expected underflow error")
	}

	if err := p.TakeForMinting(asset, 200); err != nil {
		t.Fatalf("final TakeForMinting failed: %v", err)
	}
	if !p.IsEmpty() {
		t.Error("slot not reclaimed after draining")
	}
}

func TestPendingBasket_RedeemSideIndependent(t *testing.T) {
	p := NewPendingBasket(addr.New("user-2"), addr.New("basket-1"))
	asset := addr.New("asset-weth")

	if err := p.AddForMinting(asset, 50); err != nil {
		t.Fatalf("AddForMinting failed: %v", err)
	}
	if err := p.AddForRedeeming(asset, 70); err != nil {
		t.Fatalf("AddForRedeeming failed: %v", err)
	}

	// Draining one side must not reclaim a slot the other side still uses.
	if err := p.TakeForRedeeming(asset, 70); err != nil {
		t.Fatalf("TakeForRedeeming failed: %v", err)
	}
	if got := p.ForMinting(asset); got != 50 {
		t.Errorf("ForMinting after redeem drain: got %d, want 50", got)
	}
	if p.IsEmpty() {
		t.Error("slot reclaimed while minting side non-empty")
	}
}

func TestPendingBasket_Capacity(t *testing.T) {
	p := NewPendingBasket(addr.New("user-3"), addr.New("basket-1"))
	for i := 0; i < MaxPendingAssets; i++ {
		if err := p.AddForMinting(addr.New(fmt.Sprintf("asset-%d", i)), 1); err != nil {
			t.Fatalf("AddForMinting %d failed: %v", i, err)
		}
	}
	if err := p.AddForMinting(addr.New("one-too-many"), 1); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("expected ErrCapacityExceeded, got %v", err)
	}
}
