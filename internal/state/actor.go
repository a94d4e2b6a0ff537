package state

import (
	"fmt"

	"BasketLedger/internal/addr"
)

// Role is the per-basket authorization bitmask. Bits combine; a single
// authority can hold any subset.
type Role uint8

const (
	RoleOwner            Role = 1 << 0
	RoleRebalanceManager Role = 1 << 1
	RoleAuctionLauncher  Role = 1 << 2
)

func (r Role) Has(role Role) bool {
	return r&role != 0
}

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "Owner"
	case RoleRebalanceManager:
		return "RebalanceManager"
	case RoleAuctionLauncher:
		return "AuctionLauncher"
	default:
		return fmt.Sprintf("Role(0b%03b)", uint8(r))
	}
}

// Actor is the authorization record for one (authority, basket) pair. It
// lives at the address derived from those two references, so a second create
// attempt lands on the same record instead of minting a duplicate.
type Actor struct {
	Address   addr.Address
	Bump      uint8
	Authority addr.Address
	Basket    addr.Address
	Roles     Role
}

func (a *Actor) Clone() *Actor {
	dup := *a
	return &dup
}

const actorSeed = "actor"

// ActorAddress derives the singleton actor record address for an
// (authority, basket) pair under the engine identity.
func ActorAddress(engine, authority, basket addr.Address) (addr.Address, uint8) {
	return addr.Derive(engine, []byte(actorSeed), authority.Bytes(), basket.Bytes())
}

// ActorRegistry manages actor records keyed by derived address.
type ActorRegistry struct {
	engine addr.Address
	actors map[addr.Address]*Actor
}

func NewActorRegistry(engine addr.Address) *ActorRegistry {
	return &ActorRegistry{
		engine: engine,
		actors: make(map[addr.Address]*Actor),
	}
}

// Get returns the actor record for (authority, basket), or nil.
func (ar *ActorRegistry) Get(authority, basket addr.Address) *Actor {
	address, _ := ActorAddress(ar.engine, authority, basket)
	return ar.actors[address]
}

// HasRole reports whether the authority holds the role on the basket. An
// absent record holds no roles.
func (ar *ActorRegistry) HasRole(authority, basket addr.Address, role Role) bool {
	actor := ar.Get(authority, basket)
	return actor != nil && actor.Roles.Has(role)
}

// Grant adds the role bit, creating the record if needed. An existing record
// must carry the bump of the derived address; a mismatch means the record was
// not created through this derivation and is rejected outright.
func (ar *ActorRegistry) Grant(authority, basket addr.Address, role Role) (*Actor, error) {
	address, bump := ActorAddress(ar.engine, authority, basket)

	actor := ar.actors[address]
	if actor == nil {
		actor = &Actor{
			Address:   address,
			Bump:      bump,
			Authority: authority,
			Basket:    basket,
		}
		ar.actors[address] = actor
	} else if actor.Bump != bump {
		return nil, fmt.Errorf("actor %s: %w", address, ErrBumpMismatch)
	}

	actor.Roles |= role
	return actor, nil
}

// Revoke clears the role bit. With close set, the whole record is zeroed and
// removed so a later re-grant starts from a fresh record rather than
// resurrecting stale bits.
func (ar *ActorRegistry) Revoke(authority, basket addr.Address, role Role, close bool) error {
	address, _ := ActorAddress(ar.engine, authority, basket)

	actor := ar.actors[address]
	if actor == nil {
		return fmt.Errorf("actor %s: %w", address, ErrUnauthorized)
	}

	if close {
		actor.Authority = addr.Zero
		actor.Basket = addr.Zero
		actor.Roles = 0
		delete(ar.actors, address)
		return nil
	}

	actor.Roles &^= role
	return nil
}

// Restore directly sets an actor record (used for snapshot restore).
func (ar *ActorRegistry) Restore(actor *Actor) {
	ar.actors[actor.Address] = actor
}

// All returns every actor record (for snapshot creation and hashing).
func (ar *ActorRegistry) All() []*Actor {
	result := make([]*Actor, 0, len(ar.actors))
	for _, actor := range ar.actors {
		result = append(result, actor)
	}
	return result
}
