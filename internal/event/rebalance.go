package event

import (
	"time"

	"BasketLedger/internal/addr"
	"BasketLedger/internal/basket"
)

// RebalanceStarted announces a rebalance whose details are complete and whose
// auction windows are set. Emitted exactly once per rebalance, when the last
// detail batch arrives.
type RebalanceStarted struct {
	Basket          addr.Address             `json:"basket"`
	Nonce           uint64                   `json:"nonce"`
	StartedAt       time.Time                `json:"started_at"`
	RestrictedUntil time.Time                `json:"restricted_until"`
	AvailableUntil  time.Time                `json:"available_until"`
	Details         []basket.RebalanceDetail `json:"details"`
}

func (n *RebalanceStarted) NoteType() NoteType      { return NoteTypeRebalanceStarted }
func (n *RebalanceStarted) BasketRef() addr.Address { return n.Basket }
