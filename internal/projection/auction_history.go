package projection

import (
	"sync"
	"time"
)

// AuctionHistoryEntry is one auction lifecycle notification, kept in memory
// for the query surface.
type AuctionHistoryEntry struct {
	Sequence  int64
	Basket    string
	AuctionID string
	NoteType  string
	Payload   []byte
	Timestamp time.Time
}

// AuctionHistory maintains a queryable in-memory tail of auction activity.
// The durable copy lives in projections.auction_history; this exists so the
// query service answers recent-activity reads without a round trip.
type AuctionHistory struct {
	mu      sync.RWMutex
	entries []AuctionHistoryEntry
	max     int
}

func NewAuctionHistory(max int) *AuctionHistory {
	if max <= 0 {
		max = 4096
	}
	return &AuctionHistory{max: max}
}

// Record appends an auction notification, dropping the oldest entries past
// the cap. Non-auction notifications are ignored.
func (h *AuctionHistory) Record(output Output) {
	if !isAuctionNote(output.NoteType) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, AuctionHistoryEntry{
		Sequence:  output.Sequence,
		Basket:    output.Basket,
		AuctionID: output.AuctionID,
		NoteType:  output.NoteType,
		Payload:   output.Payload,
		Timestamp: output.Timestamp,
	})
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
}

// QueryByBasket returns the most recent auction entries for a basket, newest
// first.
func (h *AuctionHistory) QueryByBasket(basket string, limit int) []AuctionHistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]AuctionHistoryEntry, 0, limit)
	for i := len(h.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if h.entries[i].Basket == basket {
			result = append(result, h.entries[i])
		}
	}
	return result
}

// QueryByAuction returns all retained entries for one auction, oldest first.
func (h *AuctionHistory) QueryByAuction(auctionID string) []AuctionHistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var result []AuctionHistoryEntry
	for _, e := range h.entries {
		if e.AuctionID == auctionID {
			result = append(result, e)
		}
	}
	return result
}
