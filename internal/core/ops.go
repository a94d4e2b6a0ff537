package core

import (
	"time"

	"github.com/google/uuid"

	"BasketLedger/internal/addr"
	"BasketLedger/internal/basket"
	"BasketLedger/internal/extcall"
	"BasketLedger/internal/state"
)

// OpType discriminator for engine operations
type OpType int32

const (
	OpUnknown OpType = iota
	OpCreateBasket
	OpFinalizeBasket
	OpKillBasket
	OpSetValueFee
	OpSetMintFee
	OpSetAuctionLength
	OpSetMandate
	OpAddFeeRecipient
	OpRemoveFeeRecipient
	OpGrantRole
	OpRevokeRole
	OpAddAsset
	OpRemoveAsset
	OpAddToPending
	OpRemoveFromPending
	OpMint
	OpRedeem
	OpOpenRebalance
	OpAddRebalanceDetails
	OpOpenAuction
	OpBid
	OpCloseAuction
	OpPoke
	OpDistributeFees
	OpCrankDistribution
)

func (ot OpType) String() string {
	switch ot {
	case OpCreateBasket:
		return "CreateBasket"
	case OpFinalizeBasket:
		return "FinalizeBasket"
	case OpKillBasket:
		return "KillBasket"
	case OpSetValueFee:
		return "SetValueFee"
	case OpSetMintFee:
		return "SetMintFee"
	case OpSetAuctionLength:
		return "SetAuctionLength"
	case OpSetMandate:
		return "SetMandate"
	case OpAddFeeRecipient:
		return "AddFeeRecipient"
	case OpRemoveFeeRecipient:
		return "RemoveFeeRecipient"
	case OpGrantRole:
		return "GrantRole"
	case OpRevokeRole:
		return "RevokeRole"
	case OpAddAsset:
		return "AddAsset"
	case OpRemoveAsset:
		return "RemoveAsset"
	case OpAddToPending:
		return "AddToPending"
	case OpRemoveFromPending:
		return "RemoveFromPending"
	case OpMint:
		return "Mint"
	case OpRedeem:
		return "Redeem"
	case OpOpenRebalance:
		return "OpenRebalance"
	case OpAddRebalanceDetails:
		return "AddRebalanceDetails"
	case OpOpenAuction:
		return "OpenAuction"
	case OpBid:
		return "Bid"
	case OpCloseAuction:
		return "CloseAuction"
	case OpPoke:
		return "Poke"
	case OpDistributeFees:
		return "DistributeFees"
	case OpCrankDistribution:
		return "CrankDistribution"
	default:
		return "Unknown"
	}
}

// OpHeader is the common prefix of every operation. Timestamps are versioned
// inputs; the engine never reads the wall clock.
type OpHeader struct {
	OperationID uuid.UUID
	Caller      addr.Address
	Basket      addr.Address
	Timestamp   time.Time
}

// Operation is the interface every engine operation implements
type Operation interface {
	// Header returns the common operation fields
	Header() OpHeader

	// OpType returns the discriminator
	OpType() OpType
}

type CreateBasket struct {
	OpHeader
	TokenReference addr.Address
	ValueFee       uint64
	MintFee        uint64
	FeeFloor       uint64
	AuctionLength  uint64
	Mandate        string
}

func (o *CreateBasket) Header() OpHeader { return o.OpHeader }
func (o *CreateBasket) OpType() OpType   { return OpCreateBasket }

type FinalizeBasket struct {
	OpHeader
}

func (o *FinalizeBasket) Header() OpHeader { return o.OpHeader }
func (o *FinalizeBasket) OpType() OpType   { return OpFinalizeBasket }

type KillBasket struct {
	OpHeader
}

func (o *KillBasket) Header() OpHeader { return o.OpHeader }
func (o *KillBasket) OpType() OpType   { return OpKillBasket }

type SetValueFee struct {
	OpHeader
	Numerator uint64
}

func (o *SetValueFee) Header() OpHeader { return o.OpHeader }
func (o *SetValueFee) OpType() OpType   { return OpSetValueFee }

type SetMintFee struct {
	OpHeader
	Numerator uint64
}

func (o *SetMintFee) Header() OpHeader { return o.OpHeader }
func (o *SetMintFee) OpType() OpType   { return OpSetMintFee }

type SetAuctionLength struct {
	OpHeader
	Length uint64
}

func (o *SetAuctionLength) Header() OpHeader { return o.OpHeader }
func (o *SetAuctionLength) OpType() OpType   { return OpSetAuctionLength }

type SetMandate struct {
	OpHeader
	Mandate string
}

func (o *SetMandate) Header() OpHeader { return o.OpHeader }
func (o *SetMandate) OpType() OpType   { return OpSetMandate }

type AddFeeRecipient struct {
	OpHeader
	Recipient addr.Address
	Portion   uint64
}

func (o *AddFeeRecipient) Header() OpHeader { return o.OpHeader }
func (o *AddFeeRecipient) OpType() OpType   { return OpAddFeeRecipient }

type RemoveFeeRecipient struct {
	OpHeader
	Recipient addr.Address
}

func (o *RemoveFeeRecipient) Header() OpHeader { return o.OpHeader }
func (o *RemoveFeeRecipient) OpType() OpType   { return OpRemoveFeeRecipient }

type GrantRole struct {
	OpHeader
	Authority addr.Address
	Role      state.Role
}

func (o *GrantRole) Header() OpHeader { return o.OpHeader }
func (o *GrantRole) OpType() OpType   { return OpGrantRole }

type RevokeRole struct {
	OpHeader
	Authority addr.Address
	Role      state.Role

	// Close zeroes and removes the whole actor record.
	Close bool
}

func (o *RevokeRole) Header() OpHeader { return o.OpHeader }
func (o *RevokeRole) OpType() OpType   { return OpRevokeRole }

type AddAsset struct {
	OpHeader
	Asset  addr.Address
	Amount uint64
}

func (o *AddAsset) Header() OpHeader { return o.OpHeader }
func (o *AddAsset) OpType() OpType   { return OpAddAsset }

type RemoveAsset struct {
	OpHeader
	Asset addr.Address
}

func (o *RemoveAsset) Header() OpHeader { return o.OpHeader }
func (o *RemoveAsset) OpType() OpType   { return OpRemoveAsset }

type AddToPending struct {
	OpHeader
	Amounts []basket.TokenAmount
}

func (o *AddToPending) Header() OpHeader { return o.OpHeader }
func (o *AddToPending) OpType() OpType   { return OpAddToPending }

type RemoveFromPending struct {
	OpHeader
	Amounts []basket.TokenAmount

	// Redeem withdraws from the redeeming side of the pending basket
	// instead of the minting side.
	Redeem bool
}

func (o *RemoveFromPending) Header() OpHeader { return o.OpHeader }
func (o *RemoveFromPending) OpType() OpType   { return OpRemoveFromPending }

type Mint struct {
	OpHeader
	Shares uint64
}

func (o *Mint) Header() OpHeader { return o.OpHeader }
func (o *Mint) OpType() OpType   { return OpMint }

type Redeem struct {
	OpHeader
	Shares uint64
}

func (o *Redeem) Header() OpHeader { return o.OpHeader }
func (o *Redeem) OpType() OpType   { return OpRedeem }

type OpenRebalance struct {
	OpHeader

	// Window lengths in seconds, applied when details complete.
	LauncherWindow uint64
	TTL            uint64
}

func (o *OpenRebalance) Header() OpHeader { return o.OpHeader }
func (o *OpenRebalance) OpType() OpType   { return OpOpenRebalance }

type AddRebalanceDetails struct {
	OpHeader
	Nonce    uint64
	Entries  []basket.RebalanceDetail
	AllAdded bool
}

func (o *AddRebalanceDetails) Header() OpHeader { return o.OpHeader }
func (o *AddRebalanceDetails) OpType() OpType   { return OpAddRebalanceDetails }

type OpenAuction struct {
	OpHeader
	Nonce uint64
	Sell  addr.Address
	Buy   addr.Address

	// Prices optionally narrows the curve inside the range derived from the
	// rebalance details.
	Prices *basket.PriceRange
}

func (o *OpenAuction) Header() OpHeader { return o.OpHeader }
func (o *OpenAuction) OpType() OpType   { return OpOpenAuction }

type Bid struct {
	OpHeader
	Auction      addr.Address
	SellAmount   uint64
	MaxBuyAmount uint64

	// Callback optionally settles the buy side through an external program
	// inside the same operation.
	Callback *extcall.Call
}

func (o *Bid) Header() OpHeader { return o.OpHeader }
func (o *Bid) OpType() OpType   { return OpBid }

type CloseAuction struct {
	OpHeader
	Auction addr.Address
}

func (o *CloseAuction) Header() OpHeader { return o.OpHeader }
func (o *CloseAuction) OpType() OpType   { return OpCloseAuction }

type Poke struct {
	OpHeader
}

func (o *Poke) Header() OpHeader { return o.OpHeader }
func (o *Poke) OpType() OpType   { return OpPoke }

type DistributeFees struct {
	OpHeader
	Index uint64
}

func (o *DistributeFees) Header() OpHeader { return o.OpHeader }
func (o *DistributeFees) OpType() OpType   { return OpDistributeFees }

type CrankDistribution struct {
	OpHeader
	Index      uint64
	Recipients []addr.Address
}

func (o *CrankDistribution) Header() OpHeader { return o.OpHeader }
func (o *CrankDistribution) OpType() OpType   { return OpCrankDistribution }
