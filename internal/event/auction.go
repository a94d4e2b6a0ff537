package event

import (
	"time"

	"github.com/holiman/uint256"

	"BasketLedger/internal/addr"
)

// AuctionOpened announces a Dutch auction. Prices are D18.
type AuctionOpened struct {
	Basket     addr.Address `json:"basket"`
	AuctionID  addr.Address `json:"auction_id"`
	Nonce      uint64       `json:"nonce"`
	Sell       addr.Address `json:"sell"`
	Buy        addr.Address `json:"buy"`
	StartPrice *uint256.Int `json:"start_price"`
	EndPrice   *uint256.Int `json:"end_price"`
	Start      time.Time    `json:"start"`
	End        time.Time    `json:"end"`
}

func (n *AuctionOpened) NoteType() NoteType      { return NoteTypeAuctionOpened }
func (n *AuctionOpened) BasketRef() addr.Address { return n.Basket }

// AuctionBid announces a filled bid at the curve price.
type AuctionBid struct {
	Basket       addr.Address `json:"basket"`
	AuctionID    addr.Address `json:"auction_id"`
	Sell         addr.Address `json:"sell"`
	Buy          addr.Address `json:"buy"`
	SellAmount   uint64       `json:"sell_amount"`
	BoughtAmount uint64       `json:"bought_amount"`
}

func (n *AuctionBid) NoteType() NoteType      { return NoteTypeAuctionBid }
func (n *AuctionBid) BasketRef() addr.Address { return n.Basket }

// AuctionClosed announces an auction ending, whether by explicit close, limit
// exhaustion, or a close issued after natural expiry.
type AuctionClosed struct {
	Basket    addr.Address `json:"basket"`
	AuctionID addr.Address `json:"auction_id"`
}

func (n *AuctionClosed) NoteType() NoteType      { return NoteTypeAuctionClosed }
func (n *AuctionClosed) BasketRef() addr.Address { return n.Basket }
