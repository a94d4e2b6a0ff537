package classify

import (
	"BasketLedger/internal/addr"
)

// Registry holds the known asset descriptions. Assets never registered are
// treated as plain representations with no extensions, which the allow lists
// accept.
type Registry struct {
	descriptions map[addr.Address]AssetDescription
}

func NewRegistry() *Registry {
	return &Registry{
		descriptions: make(map[addr.Address]AssetDescription),
	}
}

// Register records an asset's description, replacing any prior one.
func (r *Registry) Register(asset addr.Address, desc AssetDescription) {
	r.descriptions[asset] = desc
}

// Check validates the asset's recorded description against the allow lists.
func (r *Registry) Check(asset addr.Address) error {
	return Supported(r.descriptions[asset])
}
