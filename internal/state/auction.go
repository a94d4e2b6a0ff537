package state

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"BasketLedger/internal/addr"
	fpmath "BasketLedger/internal/math"
)

// AuctionStatus is derived from the auction's time window, never stored.
type AuctionStatus int32

const (
	AuctionApproved AuctionStatus = iota
	AuctionOpen
	AuctionClosed
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionApproved:
		return "Approved"
	case AuctionOpen:
		return "Open"
	case AuctionClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Auction is one Dutch auction selling surplus of one asset for deficit of
// another under a rebalance nonce. The price declines linearly from
// StartPrice at Start to EndPrice at End; both are D18 buy-per-sell rates.
type Auction struct {
	Address addr.Address
	Basket  addr.Address
	Nonce   uint64

	Sell addr.Address
	Buy  addr.Address

	StartPrice *uint256.Int
	EndPrice   *uint256.Int

	Start time.Time
	End   time.Time

	// Limits captured from the rebalance details at open time, D18 basket
	// units per share. Selling stops at SellLimit; buying stops at BuyLimit.
	SellLimit *uint256.Int
	BuyLimit  *uint256.Int
}

func (a *Auction) Clone() *Auction {
	dup := *a
	dup.StartPrice = new(uint256.Int).Set(a.StartPrice)
	dup.EndPrice = new(uint256.Int).Set(a.EndPrice)
	dup.SellLimit = new(uint256.Int).Set(a.SellLimit)
	dup.BuyLimit = new(uint256.Int).Set(a.BuyLimit)
	return &dup
}

// Status derives the lifecycle state from the time window.
func (a *Auction) Status(now time.Time) AuctionStatus {
	if now.Before(a.Start) {
		return AuctionApproved
	}
	if !now.Before(a.End) {
		return AuctionClosed
	}
	return AuctionOpen
}

// Price returns the curve price at now. Before Start the auction is not
// biddable; at or past End the price clamps to EndPrice.
func (a *Auction) Price(now time.Time) (*uint256.Int, error) {
	if now.Before(a.Start) {
		return nil, fmt.Errorf("auction %s not started: %w", a.Address, ErrAuctionNotOpen)
	}
	elapsed := uint64(now.Sub(a.Start) / time.Second)
	span := uint64(a.End.Sub(a.Start) / time.Second)
	return fpmath.Lerp(a.StartPrice, a.EndPrice, elapsed, span)
}

// ForceClose ends the auction one unit before now, stopping further bids and
// freezing the historical end price at the curve value just before closure.
// Closing an auction already past its end changes nothing.
func (a *Auction) ForceClose(now time.Time) {
	if now.Before(a.End) {
		a.End = now.Add(-time.Second)
	}
}

const auctionSeed = "auction"

// AuctionAddress derives the singleton auction address for a
// (basket, nonce, sell, buy) tuple. Two attempts to open the same pair under
// the same nonce collide on this address.
func AuctionAddress(engine, basketRef addr.Address, nonce uint64, sell, buy addr.Address) (addr.Address, uint8) {
	var nonceSeed [8]byte
	binary.BigEndian.PutUint64(nonceSeed[:], nonce)
	return addr.Derive(engine, []byte(auctionSeed), basketRef.Bytes(), nonceSeed[:], sell.Bytes(), buy.Bytes())
}

// SellAvailable computes the sell-side surplus above the sell limit:
// balance − ceil(limit·supply/D18). Zero when the balance already sits at or
// under the limit.
func SellAvailable(balance, supply uint64, limit *uint256.Int) (uint64, error) {
	target, err := fpmath.MulDiv(limit, fpmath.U256FromU64(supply), fpmath.D18, fpmath.RoundCeil)
	if err != nil {
		return 0, fmt.Errorf("sell target: %w", err)
	}
	if !target.IsUint64() || target.Uint64() >= balance {
		return 0, nil
	}
	return balance - target.Uint64(), nil
}

// BuyAvailable computes the buy-side deficit below the buy limit:
// floor(limit·supply/D18) − balance. Zero when the balance already meets the
// limit.
func BuyAvailable(balance, supply uint64, limit *uint256.Int) (uint64, error) {
	target, err := fpmath.MulDiv(limit, fpmath.U256FromU64(supply), fpmath.D18, fpmath.RoundFloor)
	if err != nil {
		return 0, fmt.Errorf("buy target: %w", err)
	}
	if !target.IsUint64() {
		return 0, fmt.Errorf("buy target: %w", fpmath.ErrOverflow)
	}
	if target.Uint64() <= balance {
		return 0, nil
	}
	return target.Uint64() - balance, nil
}

// BoughtAmount converts a sell amount to the buy amount at a D18 price,
// rounding in the basket's favor.
func BoughtAmount(sellAmount uint64, price *uint256.Int) (uint64, error) {
	bought, err := fpmath.MulDiv(fpmath.U256FromU64(sellAmount), price, fpmath.D18, fpmath.RoundFloor)
	if err != nil {
		return 0, err
	}
	if !bought.IsUint64() {
		return 0, fpmath.ErrOverflow
	}
	return bought.Uint64(), nil
}

// AuctionManager manages live auctions and the per-pair collision records.
type AuctionManager struct {
	engine   addr.Address
	auctions map[addr.Address]*Auction
}

func NewAuctionManager(engine addr.Address) *AuctionManager {
	return &AuctionManager{
		engine:   engine,
		auctions: make(map[addr.Address]*Auction),
	}
}

// Get returns an auction by id, or nil.
func (am *AuctionManager) Get(id addr.Address) *Auction {
	return am.auctions[id]
}

// Open registers a new auction at its derived address. A live auction for
// the same (basket, nonce, sell, buy) pair is a collision.
func (am *AuctionManager) Open(a *Auction, now time.Time) error {
	id, _ := AuctionAddress(am.engine, a.Basket, a.Nonce, a.Sell, a.Buy)
	if prior := am.auctions[id]; prior != nil && prior.Status(now) != AuctionClosed {
		return fmt.Errorf("pair %s/%s: %w", a.Sell, a.Buy, ErrAuctionCollision)
	}
	a.Address = id
	am.auctions[id] = a
	return nil
}

// Set directly stores an auction (commit path and snapshot restore).
func (am *AuctionManager) Set(a *Auction) {
	am.auctions[a.Address] = a
}

// All returns every auction record (for snapshot creation and hashing).
func (am *AuctionManager) All() []*Auction {
	result := make([]*Auction, 0, len(am.auctions))
	for _, a := range am.auctions {
		result = append(result, a)
	}
	return result
}
