package basket

import (
	"github.com/holiman/uint256"

	"BasketLedger/internal/addr"
)

// PriceRange bounds the Dutch-auction curve for one asset pair leg. Prices
// are D18 values: buy-token units per sell-token unit scaled by 1e18.
type PriceRange struct {
	Low  *uint256.Int
	High *uint256.Int
}

// RebalanceLimits is the basket-per-share target band for one asset, in D18
// units of asset per basket token. Spot is the current target; auctions trade
// the surplus above (sell side) or the deficit below (buy side) the limit.
type RebalanceLimits struct {
	Spot *uint256.Int
	Low  *uint256.Int
	High *uint256.Int
}

// RebalanceDetail is one asset's entry in a rebalance: its target band and
// the price range auctions against it must honor.
type RebalanceDetail struct {
	Asset  addr.Address
	Limits RebalanceLimits
	Prices PriceRange
}

// CloneDetail deep-copies a detail so staged state never aliases committed
// uint256 values.
func CloneDetail(d RebalanceDetail) RebalanceDetail {
	return RebalanceDetail{
		Asset: d.Asset,
		Limits: RebalanceLimits{
			Spot: new(uint256.Int).Set(d.Limits.Spot),
			Low:  new(uint256.Int).Set(d.Limits.Low),
			High: new(uint256.Int).Set(d.Limits.High),
		},
		Prices: PriceRange{
			Low:  new(uint256.Int).Set(d.Prices.Low),
			High: new(uint256.Int).Set(d.Prices.High),
		},
	}
}
