// Package adapters holds the external venue integrations the engine can
// quote and route trades through. The registry is built explicitly at
// startup; there is no global registration side effect.
package adapters

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"BasketLedger/internal/addr"
)

// ErrUnavailable is returned by adapters that have no live integration
// behind a capability.
var ErrUnavailable = errors.New("adapter capability unavailable")

// Quoter prices a sell/buy pair, D18 buy-per-sell.
type Quoter interface {
	Quote(sell, buy addr.Address, sellAmount uint64) (*uint256.Int, error)
}

// Trader routes a trade through an external venue, returning the bought
// amount.
type Trader interface {
	Trade(sell, buy addr.Address, sellAmount uint64) (uint64, error)
}

// Adapter is one named venue integration.
type Adapter struct {
	Name   string
	Quoter Quoter
	Trader Trader
}

// Registry holds the configured adapters by name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from an explicit adapter list. Duplicate
// names are a configuration error.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if a.Name == "" {
			return nil, errors.New("adapter with empty name")
		}
		if _, dup := r.adapters[a.Name]; dup {
			return nil, fmt.Errorf("duplicate adapter %q", a.Name)
		}
		r.adapters[a.Name] = a
	}
	return r, nil
}

// Get returns the named adapter.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the configured adapter names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// Unavailable is the placeholder integration: every capability reports
// ErrUnavailable. Deployments wire it for venues that are configured but not
// yet connected.
type Unavailable struct{}

func (Unavailable) Quote(_, _ addr.Address, _ uint64) (*uint256.Int, error) {
	return nil, ErrUnavailable
}

func (Unavailable) Trade(_, _ addr.Address, _ uint64) (uint64, error) {
	return 0, ErrUnavailable
}

// FixedQuoter quotes every pair at one fixed D18 price; used in tests and
// dry-run deployments.
type FixedQuoter struct {
	Price *uint256.Int
}

func (f FixedQuoter) Quote(_, _ addr.Address, _ uint64) (*uint256.Int, error) {
	return new(uint256.Int).Set(f.Price), nil
}
