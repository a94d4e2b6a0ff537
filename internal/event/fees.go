package event

import (
	"BasketLedger/internal/addr"
)

// ValueFeePaid announces one recipient's share of a fee distribution being
// paid out, in basket token units.
type ValueFeePaid struct {
	Basket    addr.Address `json:"basket"`
	Recipient addr.Address `json:"recipient"`
	Amount    uint64       `json:"amount"`
	Index     uint64       `json:"index"`
}

func (n *ValueFeePaid) NoteType() NoteType      { return NoteTypeValueFeePaid }
func (n *ValueFeePaid) BasketRef() addr.Address { return n.Basket }

// ProtocolFeePaid announces the protocol share of accrued fees being paid to
// the fee-configuration recipient.
type ProtocolFeePaid struct {
	Basket    addr.Address `json:"basket"`
	Recipient addr.Address `json:"recipient"`
	Amount    uint64       `json:"amount"`
}

func (n *ProtocolFeePaid) NoteType() NoteType      { return NoteTypeProtocolFeePaid }
func (n *ProtocolFeePaid) BasketRef() addr.Address { return n.Basket }
