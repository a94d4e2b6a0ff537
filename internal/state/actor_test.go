package state

import (
	"errors"
	"testing"

	"BasketLedger/internal/addr"
)

func TestRole_Bitmask(t *testing.T) {
	var r Role
	r |= RoleOwner
	r |= RoleAuctionLauncher

	if !r.Has(RoleOwner) || !r.Has(RoleAuctionLauncher) {
		t.Error("granted roles not reported")
	}
	if r.Has(RoleRebalanceManager) {
		t.Error("ungranted role reported")
	}

	r &^= RoleOwner
	if r.Has(RoleOwner) {
		t.Error("revoked role still reported")
	}
	if !r.Has(RoleAuctionLauncher) {
		t.Error("revoke cleared an unrelated bit")
	}
}

func TestActorRegistry_GrantIdempotent(t *testing.T) {
	reg := NewActorRegistry(addr.New("engine"))
	authority := addr.New("alice")
	basketRef := addr.New("basket-1")

	first, err := reg.Grant(authority, basketRef, RoleOwner)
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	second, err := reg.Grant(authority, basketRef, RoleOwner)
	if err != nil {
		t.Fatalf("repeated Grant failed: %v", err)
	}
	if first != second {
		t.Error("repeated grant created a second record")
	}
	if !reg.HasRole(authority, basketRef, RoleOwner) {
		t.Error("granted role not reported")
	}
}

func TestActorRegistry_RolesScopedPerBasket(t *testing.T) {
	reg := NewActorRegistry(addr.New("engine"))
	authority := addr.New("alice")

	if _, err := reg.Grant(authority, addr.New("basket-1"), RoleOwner); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if reg.HasRole(authority, addr.New("basket-2"), RoleOwner) {
		t.Error("role leaked across baskets")
	}
}

func TestActorRegistry_BumpMismatch(t *testing.T) {
	engine := addr.New("engine")
	reg := NewActorRegistry(engine)
	authority := addr.New("mallory")
	basketRef := addr.New("basket-1")

	address, bump := ActorAddress(engine, authority, basketRef)
	reg.Restore(&Actor{
		Address:   address,
		Bump:      bump - 1,
		Authority: authority,
		Basket:    basketRef,
	})

	if _, err := reg.Grant(authority, basketRef, RoleOwner); !errors.Is(err, ErrBumpMismatch) {
		t.Errorf("expected ErrBumpMismatch, got %v", err)
	}
}

func TestActorRegistry_RevokeAndClose(t *testing.T) {
	reg := NewActorRegistry(addr.New("engine"))
	authority := addr.New("bob")
	basketRef := addr.New("basket-1")

	if _, err := reg.Grant(authority, basketRef, RoleOwner|RoleRebalanceManager); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	if err := reg.Revoke(authority, basketRef, RoleOwner, false); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if reg.HasRole(authority, basketRef, RoleOwner) {
		t.Error("revoked role still reported")
	}
	if !reg.HasRole(authority, basketRef, RoleRebalanceManager) {
		t.Error("revoke cleared an unrelated role")
	}

	if err := reg.Revoke(authority, basketRef, RoleRebalanceManager, true); err != nil {
		t.Fatalf("closing Revoke failed: %v", err)
	}
	if reg.Get(authority, basketRef) != nil {
		t.Error("closed record still present")
	}

	// A record zeroed on close cannot resurrect stale bits on re-grant.
	if _, err := reg.Grant(authority, basketRef, RoleAuctionLauncher); err != nil {
		t.Fatalf("re-Grant failed: %v", err)
	}
	if reg.HasRole(authority, basketRef, RoleOwner) || reg.HasRole(authority, basketRef, RoleRebalanceManager) {
		t.Error("stale roles resurrected after close and re-grant")
	}
}

func TestActorRegistry_RevokeAbsent(t *testing.T) {
	reg := NewActorRegistry(addr.New("engine"))
	err := reg.Revoke(addr.New("nobody"), addr.New("basket-1"), RoleOwner, false)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}
