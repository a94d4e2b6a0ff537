package event

import (
	"time"

	"BasketLedger/internal/addr"
)

// NoteType discriminator for notification payloads
type NoteType int32

const (
	NoteTypeUnknown NoteType = iota
	NoteTypeBasketCreated
	NoteTypeBasketKilled
	NoteTypeAssetAdded
	NoteTypeAssetRemoved
	NoteTypeValueFeeSet
	NoteTypeMintFeeSet
	NoteTypeAuctionLengthSet
	NoteTypeMandateSet
	NoteTypeFeeRecipientSet
	NoteTypeValueFeePaid
	NoteTypeProtocolFeePaid
	NoteTypeRebalanceStarted
	NoteTypeAuctionOpened
	NoteTypeAuctionBid
	NoteTypeAuctionClosed
)

// Envelope wraps every notification in the log
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Operation that produced this notification (idempotency key)
	OperationID string

	// Notification type discriminator
	Type NoteType

	// Basket the notification belongs to
	Basket addr.Address

	// Engine timestamp of the producing operation
	Timestamp time.Time

	// JSON-encoded notification-specific data
	Payload []byte

	// SHA-256 of state AFTER applying the producing operation
	StateHash [32]byte

	// Previous notification's state hash (chain integrity)
	PrevHash [32]byte
}

// Notification is the interface all notification payloads implement
type Notification interface {
	// NoteType returns the discriminator
	NoteType() NoteType

	// BasketRef returns the basket this notification belongs to
	BasketRef() addr.Address
}

func (nt NoteType) String() string {
	switch nt {
	case NoteTypeBasketCreated:
		return "BasketCreated"
	case NoteTypeBasketKilled:
		return "BasketKilled"
	case NoteTypeAssetAdded:
		return "AssetAdded"
	case NoteTypeAssetRemoved:
		return "AssetRemoved"
	case NoteTypeValueFeeSet:
		return "ValueFeeSet"
	case NoteTypeMintFeeSet:
		return "MintFeeSet"
	case NoteTypeAuctionLengthSet:
		return "AuctionLengthSet"
	case NoteTypeMandateSet:
		return "MandateSet"
	case NoteTypeFeeRecipientSet:
		return "FeeRecipientSet"
	case NoteTypeValueFeePaid:
		return "ValueFeePaid"
	case NoteTypeProtocolFeePaid:
		return "ProtocolFeePaid"
	case NoteTypeRebalanceStarted:
		return "RebalanceStarted"
	case NoteTypeAuctionOpened:
		return "AuctionOpened"
	case NoteTypeAuctionBid:
		return "AuctionBid"
	case NoteTypeAuctionClosed:
		return "AuctionClosed"
	default:
		return "Unknown"
	}
}
