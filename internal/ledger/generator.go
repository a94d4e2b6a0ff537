package ledger

import (
	"fmt"

	"github.com/google/uuid"

	"BasketLedger/internal/event"
)

// Generator derives balanced journal batches from committed notifications.
// Only notifications that move value produce postings; lifecycle and
// configuration notifications generate nothing.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Generate returns the batch for a notification, or nil when it carries no
// value movement.
func (g *Generator) Generate(env *event.Envelope, note event.Notification) (*Batch, error) {
	switch n := note.(type) {
	case *event.AuctionBid:
		return g.auctionBid(env, n)
	case *event.ProtocolFeePaid:
		return g.protocolFeePaid(env, n)
	case *event.ValueFeePaid:
		return g.valueFeePaid(env, n)
	default:
		return nil, nil
	}
}

// auctionBid posts both legs of a settled bid: the sell asset leaves the
// basket vault to the settlement boundary, the buy asset enters from it.
func (g *Generator) auctionBid(env *event.Envelope, n *event.AuctionBid) (*Batch, error) {
	if n.SellAmount == 0 || n.BoughtAmount == 0 {
		return nil, fmt.Errorf("bid on %s has zero leg", n.AuctionID)
	}
	batch := g.newBatch(env)

	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		Sequence:      env.Sequence,
		DebitAccount:  SettlementAccount(n.Sell),
		CreditAccount: VaultAccount(n.Basket, n.Sell),
		JournalType:   JournalTypeAuctionSell,
		Amount:        int64(n.SellAmount),
		Timestamp:     env.Timestamp.UnixMicro(),
	})
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		Sequence:      env.Sequence,
		DebitAccount:  VaultAccount(n.Basket, n.Buy),
		CreditAccount: SettlementAccount(n.Buy),
		JournalType:   JournalTypeAuctionBuy,
		Amount:        int64(n.BoughtAmount),
		Timestamp:     env.Timestamp.UnixMicro(),
	})
	return batch, nil
}

// protocolFeePaid posts the protocol share leaving the basket's accrual
// account.
func (g *Generator) protocolFeePaid(env *event.Envelope, n *event.ProtocolFeePaid) (*Batch, error) {
	if n.Amount == 0 {
		return nil, nil
	}
	batch := g.newBatch(env)
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		Sequence:      env.Sequence,
		DebitAccount:  ProtocolFeeAccount(n.Recipient, n.Basket),
		CreditAccount: FeeAccruedAccount(n.Basket),
		JournalType:   JournalTypeProtocolFee,
		Amount:        int64(n.Amount),
		Timestamp:     env.Timestamp.UnixMicro(),
	})
	return batch, nil
}

// valueFeePaid posts one cranked recipient payout.
func (g *Generator) valueFeePaid(env *event.Envelope, n *event.ValueFeePaid) (*Batch, error) {
	if n.Amount == 0 {
		return nil, nil
	}
	batch := g.newBatch(env)
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		Sequence:      env.Sequence,
		DebitAccount:  FeeRecipientAccount(n.Recipient, n.Basket),
		CreditAccount: FeeAccruedAccount(n.Basket),
		JournalType:   JournalTypeRecipientFee,
		Amount:        int64(n.Amount),
		Timestamp:     env.Timestamp.UnixMicro(),
	})
	return batch, nil
}

func (g *Generator) newBatch(env *event.Envelope) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		Sequence:  env.Sequence,
		Timestamp: env.Timestamp.UnixMicro(),
	}
}
