package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType classifies the movement behind a journal entry.
type JournalType int32

const (
	JournalTypeAuctionSell JournalType = iota
	JournalTypeAuctionBuy
	JournalTypeProtocolFee
	JournalTypeRecipientFee
)

// Journal is one double-entry posting: a single positive amount moves from
// the credit account to the debit account, so every entry balances by
// construction.
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	Sequence      int64
	DebitAccount  AccountKey
	CreditAccount AccountKey
	JournalType   JournalType
	Amount        int64
	Timestamp     int64
}

// Batch groups the postings of one notification.
type Batch struct {
	BatchID   uuid.UUID
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate checks the batch is well-formed: non-empty, positive amounts,
// consistent batch ids, no self-transfers.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}
	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}
	return nil
}
