package query

import (
	"encoding/json"
	"time"
)

// NoteHistoryEntry is one notification from the log, for API consumption.
// Hashes are hex so callers can verify the chain without byte handling.
type NoteHistoryEntry struct {
	Sequence    int64           `json:"sequence"`
	NoteType    string          `json:"note_type"`
	OperationID string          `json:"operation_id"`
	Basket      string          `json:"basket"`
	Payload     json.RawMessage `json:"payload"`
	StateHash   string          `json:"state_hash"`
	PrevHash    string          `json:"prev_hash"`
	Timestamp   time.Time       `json:"timestamp"`
}

// JournalHistoryEntry is one journal posting for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Asset         string `json:"asset"`
	Amount        int64  `json:"amount"`
	Kind          int32  `json:"kind"`
	Timestamp     int64  `json:"timestamp"`
}

// AuctionActivityEntry is one auction lifecycle notification, served from the
// in-memory tail.
type AuctionActivityEntry struct {
	Sequence  int64           `json:"sequence"`
	Basket    string          `json:"basket"`
	AuctionID string          `json:"auction_id"`
	NoteType  string          `json:"note_type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset is an asset whose journal postings no longer sum to zero.
type UnbalancedAsset struct {
	Asset     string `json:"asset"`
	Imbalance int64  `json:"imbalance"`
}
