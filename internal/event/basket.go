package event

import (
	"BasketLedger/internal/addr"
)

// BasketCreated announces a new basket ledger record.
type BasketCreated struct {
	Basket         addr.Address `json:"basket"`
	TokenReference addr.Address `json:"token_reference"`
}

func (n *BasketCreated) NoteType() NoteType      { return NoteTypeBasketCreated }
func (n *BasketCreated) BasketRef() addr.Address { return n.Basket }

// BasketKilled announces the terminal transition of a basket.
type BasketKilled struct {
	Basket addr.Address `json:"basket"`
}

func (n *BasketKilled) NoteType() NoteType      { return NoteTypeBasketKilled }
func (n *BasketKilled) BasketRef() addr.Address { return n.Basket }

// AssetAdded announces an asset's first appearance in a basket.
type AssetAdded struct {
	Basket addr.Address `json:"basket"`
	Asset  addr.Address `json:"asset"`
}

func (n *AssetAdded) NoteType() NoteType      { return NoteTypeAssetAdded }
func (n *AssetAdded) BasketRef() addr.Address { return n.Basket }

// AssetRemoved announces an asset's slot being reclaimed.
type AssetRemoved struct {
	Basket addr.Address `json:"basket"`
	Asset  addr.Address `json:"asset"`
}

func (n *AssetRemoved) NoteType() NoteType      { return NoteTypeAssetRemoved }
func (n *AssetRemoved) BasketRef() addr.Address { return n.Basket }

// ValueFeeSet announces a new value fee numerator (bps over 10_000).
type ValueFeeSet struct {
	Basket    addr.Address `json:"basket"`
	Numerator uint64       `json:"numerator"`
}

func (n *ValueFeeSet) NoteType() NoteType      { return NoteTypeValueFeeSet }
func (n *ValueFeeSet) BasketRef() addr.Address { return n.Basket }

// MintFeeSet announces a new mint fee numerator (bps over 10_000).
type MintFeeSet struct {
	Basket    addr.Address `json:"basket"`
	Numerator uint64       `json:"numerator"`
}

func (n *MintFeeSet) NoteType() NoteType      { return NoteTypeMintFeeSet }
func (n *MintFeeSet) BasketRef() addr.Address { return n.Basket }

// AuctionLengthSet announces a new auction duration in seconds.
type AuctionLengthSet struct {
	Basket addr.Address `json:"basket"`
	Length uint64       `json:"length"`
}

func (n *AuctionLengthSet) NoteType() NoteType      { return NoteTypeAuctionLengthSet }
func (n *AuctionLengthSet) BasketRef() addr.Address { return n.Basket }

// MandateSet announces a new human-readable basket mandate.
type MandateSet struct {
	Basket  addr.Address `json:"basket"`
	Mandate string       `json:"mandate"`
}

func (n *MandateSet) NoteType() NoteType      { return NoteTypeMandateSet }
func (n *MandateSet) BasketRef() addr.Address { return n.Basket }

// FeeRecipientSet announces one recipient entering the fee table.
type FeeRecipientSet struct {
	Basket    addr.Address `json:"basket"`
	Recipient addr.Address `json:"recipient"`
	Portion   uint64       `json:"portion"`
}

func (n *FeeRecipientSet) NoteType() NoteType      { return NoteTypeFeeRecipientSet }
func (n *FeeRecipientSet) BasketRef() addr.Address { return n.Basket }
