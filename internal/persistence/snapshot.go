package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"BasketLedger/internal/addr"
	"BasketLedger/internal/basket"
	"BasketLedger/internal/state"
)

// SnapshotManager stores and loads point-in-time state snapshots. On warm
// restart the latest verified snapshot is loaded and the notification log is
// replayed from snapshot.sequence+1.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serializable in-memory state. Addresses are hex
// strings, uint256 values decimal strings.
type SnapshotData struct {
	Sequence        int64              `json:"sequence"`
	StateHash       []byte             `json:"state_hash"`
	Baskets         []BasketSnap       `json:"baskets"`
	Actors          []ActorSnap        `json:"actors"`
	Rebalances      []RebalanceSnap    `json:"rebalances"`
	Auctions        []AuctionSnap      `json:"auctions"`
	Pendings        []PendingSnap      `json:"pendings"`
	Distributions   []DistributionSnap `json:"distributions"`
	IdempotencyKeys []string           `json:"idempotency_keys"`
	CreatedAt       time.Time          `json:"created_at"`
}

type BasketSnap struct {
	Address             addr.Address     `json:"address"`
	Status              int32            `json:"status"`
	TokenReference      addr.Address     `json:"token_reference"`
	Supply              uint64           `json:"supply"`
	ValueFeeNumerator   uint64           `json:"value_fee_numerator"`
	MintFeeNumerator    uint64           `json:"mint_fee_numerator"`
	FeeFloor            uint64           `json:"fee_floor"`
	PendingProtocolFee  uint64           `json:"pending_protocol_fee"`
	PendingRecipientFee uint64           `json:"pending_recipient_fee"`
	DistributionIndex   uint64           `json:"distribution_index"`
	AuctionLength       uint64           `json:"auction_length"`
	LastPoke            time.Time        `json:"last_poke"`
	Mandate             string           `json:"mandate"`
	Composition         []AmountSnap     `json:"composition"`
	Recipients          []RecipientSnap  `json:"recipients"`
}

type AmountSnap struct {
	Asset  addr.Address `json:"asset"`
	Amount uint64       `json:"amount"`
}

type RecipientSnap struct {
	Recipient addr.Address `json:"recipient"`
	Portion   uint64       `json:"portion"`
}

type ActorSnap struct {
	Address   addr.Address `json:"address"`
	Bump      uint8        `json:"bump"`
	Authority addr.Address `json:"authority"`
	Basket    addr.Address `json:"basket"`
	Roles     uint8        `json:"roles"`
}

type RebalanceSnap struct {
	Basket          addr.Address `json:"basket"`
	Nonce           uint64       `json:"nonce"`
	StartedAt       time.Time    `json:"started_at"`
	RestrictedUntil time.Time    `json:"restricted_until"`
	AvailableUntil  time.Time    `json:"available_until"`
	AllDetailsAdded bool         `json:"all_details_added"`
	LauncherWindow  uint64       `json:"launcher_window"`
	TTL             uint64       `json:"ttl"`
	Details         []DetailSnap `json:"details"`
}

type DetailSnap struct {
	Asset      addr.Address `json:"asset"`
	LimitSpot  string       `json:"limit_spot"`
	LimitLow   string       `json:"limit_low"`
	LimitHigh  string       `json:"limit_high"`
	PriceLow   string       `json:"price_low"`
	PriceHigh  string       `json:"price_high"`
}

type AuctionSnap struct {
	Address    addr.Address `json:"address"`
	Basket     addr.Address `json:"basket"`
	Nonce      uint64       `json:"nonce"`
	Sell       addr.Address `json:"sell"`
	Buy        addr.Address `json:"buy"`
	StartPrice string       `json:"start_price"`
	EndPrice   string       `json:"end_price"`
	Start      time.Time    `json:"start"`
	End        time.Time    `json:"end"`
	SellLimit  string       `json:"sell_limit"`
	BuyLimit   string       `json:"buy_limit"`
}

type PendingSnap struct {
	User    addr.Address      `json:"user"`
	Basket  addr.Address      `json:"basket"`
	Entries []PendingSnapSlot `json:"entries"`
}

type PendingSnapSlot struct {
	Asset        addr.Address `json:"asset"`
	ForMinting   uint64       `json:"for_minting"`
	ForRedeeming uint64       `json:"for_redeeming"`
}

type DistributionSnap struct {
	Basket     addr.Address    `json:"basket"`
	Index      uint64          `json:"index"`
	Amount     uint64          `json:"amount"`
	Recipients []RecipientSnap `json:"recipients"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot. Snapshots are taken periodically and
// verified by replaying notifications from the snapshot sequence forward.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO basket_log.snapshots
			(snapshot_id, sequence, data, state_hash, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $5
	`, uuid.New(), snap.Sequence, data, snap.StateHash, len(data), snap.CreatedAt)

	return err
}

// LoadLatestSnapshot returns the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM basket_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified flags a snapshot after a successful replay check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE basket_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadNotesFrom pages notifications from a sequence for replay.
func (sm *SnapshotManager) LoadNotesFrom(ctx context.Context, fromSequence int64, limit int) ([]NoteRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, note_type, operation_id, basket, payload,
		       state_hash, prev_hash, timestamp
		FROM basket_log.notifications
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []NoteRow
	for rows.Next() {
		var n NoteRow
		if err := rows.Scan(
			&n.Sequence, &n.NoteType, &n.OperationID, &n.Basket,
			&n.Payload, &n.StateHash, &n.PrevHash, &n.Timestamp,
		); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// GetLatestSequence returns the highest persisted sequence, 0 when empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM basket_log.notifications
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// --- state <-> snapshot conversion ---

func SnapBasket(b *state.Basket) BasketSnap {
	snap := BasketSnap{
		Address:             b.Address,
		Status:              int32(b.Status),
		TokenReference:      b.TokenReference,
		Supply:              b.Supply,
		ValueFeeNumerator:   b.ValueFeeNumerator,
		MintFeeNumerator:    b.MintFeeNumerator,
		FeeFloor:            b.FeeFloor,
		PendingProtocolFee:  b.PendingProtocolFee,
		PendingRecipientFee: b.PendingRecipientFee,
		DistributionIndex:   b.DistributionIndex,
		AuctionLength:       b.AuctionLength,
		LastPoke:            b.LastPoke,
		Mandate:             b.Mandate,
	}
	for _, slot := range b.Composition.Assets() {
		snap.Composition = append(snap.Composition, AmountSnap{Asset: slot.Asset, Amount: slot.Amount})
	}
	for _, r := range b.Recipients.Entries() {
		snap.Recipients = append(snap.Recipients, RecipientSnap{Recipient: r.Recipient, Portion: r.Portion})
	}
	return snap
}

func (s BasketSnap) Restore() (*state.Basket, error) {
	b := &state.Basket{
		Address:             s.Address,
		Status:              state.BasketStatus(s.Status),
		TokenReference:      s.TokenReference,
		Supply:              s.Supply,
		ValueFeeNumerator:   s.ValueFeeNumerator,
		MintFeeNumerator:    s.MintFeeNumerator,
		FeeFloor:            s.FeeFloor,
		PendingProtocolFee:  s.PendingProtocolFee,
		PendingRecipientFee: s.PendingRecipientFee,
		DistributionIndex:   s.DistributionIndex,
		AuctionLength:       s.AuctionLength,
		LastPoke:            s.LastPoke,
		Mandate:             s.Mandate,
		Composition:         basket.NewComposition(),
		Recipients:          state.NewRecipientTable(),
	}
	for _, slot := range s.Composition {
		if _, err := b.Composition.Add(slot.Asset, slot.Amount); err != nil {
			return nil, fmt.Errorf("restore composition: %w", err)
		}
	}
	for _, r := range s.Recipients {
		if err := b.Recipients.Add(r.Recipient, r.Portion); err != nil {
			return nil, fmt.Errorf("restore recipients: %w", err)
		}
	}
	return b, nil
}

func SnapActor(a *state.Actor) ActorSnap {
	return ActorSnap{
		Address:   a.Address,
		Bump:      a.Bump,
		Authority: a.Authority,
		Basket:    a.Basket,
		Roles:     uint8(a.Roles),
	}
}

func (s ActorSnap) Restore() *state.Actor {
	return &state.Actor{
		Address:   s.Address,
		Bump:      s.Bump,
		Authority: s.Authority,
		Basket:    s.Basket,
		Roles:     state.Role(s.Roles),
	}
}

func SnapRebalance(r *state.Rebalance) RebalanceSnap {
	snap := RebalanceSnap{
		Basket:          r.Basket,
		Nonce:           r.Nonce,
		StartedAt:       r.StartedAt,
		RestrictedUntil: r.RestrictedUntil,
		AvailableUntil:  r.AvailableUntil,
		AllDetailsAdded: r.AllDetailsAdded,
		LauncherWindow:  r.LauncherWindow,
		TTL:             r.TTL,
	}
	for _, d := range r.Details {
		snap.Details = append(snap.Details, DetailSnap{
			Asset:     d.Asset,
			LimitSpot: d.Limits.Spot.Dec(),
			LimitLow:  d.Limits.Low.Dec(),
			LimitHigh: d.Limits.High.Dec(),
			PriceLow:  d.Prices.Low.Dec(),
			PriceHigh: d.Prices.High.Dec(),
		})
	}
	return snap
}

func (s RebalanceSnap) Restore() (*state.Rebalance, error) {
	r := &state.Rebalance{
		Basket:          s.Basket,
		Nonce:           s.Nonce,
		StartedAt:       s.StartedAt,
		RestrictedUntil: s.RestrictedUntil,
		AvailableUntil:  s.AvailableUntil,
		AllDetailsAdded: s.AllDetailsAdded,
		LauncherWindow:  s.LauncherWindow,
		TTL:             s.TTL,
	}
	for _, d := range s.Details {
		detail := basket.RebalanceDetail{Asset: d.Asset}
		var err error
		if detail.Limits.Spot, err = uint256.FromDecimal(d.LimitSpot); err != nil {
			return nil, fmt.Errorf("restore limit spot: %w", err)
		}
		if detail.Limits.Low, err = uint256.FromDecimal(d.LimitLow); err != nil {
			return nil, fmt.Errorf("restore limit low: %w", err)
		}
		if detail.Limits.High, err = uint256.FromDecimal(d.LimitHigh); err != nil {
			return nil, fmt.Errorf("restore limit high: %w", err)
		}
		if detail.Prices.Low, err = uint256.FromDecimal(d.PriceLow); err != nil {
			return nil, fmt.Errorf("restore price low: %w", err)
		}
		if detail.Prices.High, err = uint256.FromDecimal(d.PriceHigh); err != nil {
			return nil, fmt.Errorf("restore price high: %w", err)
		}
		r.Details = append(r.Details, detail)
	}
	return r, nil
}

func SnapAuction(a *state.Auction) AuctionSnap {
	return AuctionSnap{
		Address:    a.Address,
		Basket:     a.Basket,
		Nonce:      a.Nonce,
		Sell:       a.Sell,
		Buy:        a.Buy,
		StartPrice: a.StartPrice.Dec(),
		EndPrice:   a.EndPrice.Dec(),
		Start:      a.Start,
		End:        a.End,
		SellLimit:  a.SellLimit.Dec(),
		BuyLimit:   a.BuyLimit.Dec(),
	}
}

func (s AuctionSnap) Restore() (*state.Auction, error) {
	a := &state.Auction{
		Address: s.Address,
		Basket:  s.Basket,
		Nonce:   s.Nonce,
		Sell:    s.Sell,
		Buy:     s.Buy,
		Start:   s.Start,
		End:     s.End,
	}
	var err error
	if a.StartPrice, err = uint256.FromDecimal(s.StartPrice); err != nil {
		return nil, fmt.Errorf("restore start price: %w", err)
	}
	if a.EndPrice, err = uint256.FromDecimal(s.EndPrice); err != nil {
		return nil, fmt.Errorf("restore end price: %w", err)
	}
	if a.SellLimit, err = uint256.FromDecimal(s.SellLimit); err != nil {
		return nil, fmt.Errorf("restore sell limit: %w", err)
	}
	if a.BuyLimit, err = uint256.FromDecimal(s.BuyLimit); err != nil {
		return nil, fmt.Errorf("restore buy limit: %w", err)
	}
	return a, nil
}

func SnapPending(p *basket.PendingBasket) PendingSnap {
	snap := PendingSnap{User: p.User, Basket: p.Basket}
	for _, e := range p.Entries() {
		snap.Entries = append(snap.Entries, PendingSnapSlot{
			Asset:        e.Asset,
			ForMinting:   e.ForMinting,
			ForRedeeming: e.ForRedeeming,
		})
	}
	return snap
}

func (s PendingSnap) Restore() (*basket.PendingBasket, error) {
	p := basket.NewPendingBasket(s.User, s.Basket)
	for _, e := range s.Entries {
		if e.ForMinting > 0 {
			if err := p.AddForMinting(e.Asset, e.ForMinting); err != nil {
				return nil, fmt.Errorf("restore pending mint: %w", err)
			}
		}
		if e.ForRedeeming > 0 {
			if err := p.AddForRedeeming(e.Asset, e.ForRedeeming); err != nil {
				return nil, fmt.Errorf("restore pending redeem: %w", err)
			}
		}
	}
	return p, nil
}

func SnapDistribution(fd *state.FeeDistribution) DistributionSnap {
	snap := DistributionSnap{Basket: fd.Basket, Index: fd.Index, Amount: fd.Amount}
	for _, r := range fd.Recipients {
		snap.Recipients = append(snap.Recipients, RecipientSnap{Recipient: r.Recipient, Portion: r.Portion})
	}
	return snap
}

func (s DistributionSnap) Restore() *state.FeeDistribution {
	fd := &state.FeeDistribution{Basket: s.Basket, Index: s.Index, Amount: s.Amount}
	for _, r := range s.Recipients {
		fd.Recipients = append(fd.Recipients, state.FeeRecipient{Recipient: r.Recipient, Portion: r.Portion})
	}
	return fd
}
