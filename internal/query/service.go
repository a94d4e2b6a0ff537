package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"BasketLedger/internal/addr"
	"BasketLedger/internal/observability"
	"BasketLedger/internal/projection"
)

// QueryService provides read-only access to the notification log, the
// journal, and projection tables. All responses carry as_of_sequence so a
// caller knows the freshness of what it read.
type QueryService struct {
	db      *sql.DB
	history *projection.AuctionHistory
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, history *projection.AuctionHistory, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, history: history, metrics: metrics}
}

// GetNotifications returns notifications for a basket, newest first, with
// cursor-based pagination on sequence.
func (qs *QueryService) GetNotifications(
	ctx context.Context,
	basketRef addr.Address,
	limit int,
	beforeSequence *int64,
) ([]NoteHistoryEntry, error) {
	const endpoint = "notifications"
	defer qs.observe(endpoint)()

	query := `
		SELECT sequence, note_type, operation_id, basket, payload, state_hash, prev_hash, timestamp
		FROM basket_log.notifications
		WHERE basket = $1
	`
	args := []interface{}{basketRef.String()}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, qs.fail(endpoint, err)
	}
	defer rows.Close()

	var entries []NoteHistoryEntry
	for rows.Next() {
		var e NoteHistoryEntry
		var stateHash, prevHash []byte
		if err := rows.Scan(
			&e.Sequence, &e.NoteType, &e.OperationID, &e.Basket,
			&e.Payload, &stateHash, &prevHash, &e.Timestamp,
		); err != nil {
			return nil, qs.fail(endpoint, err)
		}
		e.StateHash = hex.EncodeToString(stateHash)
		e.PrevHash = hex.EncodeToString(prevHash)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, qs.fail(endpoint, err)
	}
	return entries, nil
}

// GetJournalHistory returns journal postings touching an account prefix,
// newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	accountPrefix string,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	const endpoint = "journal_history"
	defer qs.observe(endpoint)()

	pattern := accountPrefix + "%"
	query := `
		SELECT journal_id, batch_id, sequence, debit_account, credit_account,
		       asset, amount, kind, timestamp
		FROM basket_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{pattern}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, qs.fail(endpoint, err)
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.Sequence, &e.DebitAccount,
			&e.CreditAccount, &e.Asset, &e.Amount, &e.Kind, &e.Timestamp,
		); err != nil {
			return nil, qs.fail(endpoint, err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, qs.fail(endpoint, err)
	}
	return entries, nil
}

// GetAuctionActivity returns recent auction notifications for a basket from
// the in-memory tail, falling back to the projection table when the tail has
// nothing.
func (qs *QueryService) GetAuctionActivity(
	ctx context.Context,
	basketRef addr.Address,
	limit int,
) ([]AuctionActivityEntry, error) {
	const endpoint = "auction_activity"
	defer qs.observe(endpoint)()

	if qs.history != nil {
		if tail := qs.history.QueryByBasket(basketRef.String(), limit); len(tail) > 0 {
			entries := make([]AuctionActivityEntry, 0, len(tail))
			for _, e := range tail {
				entries = append(entries, AuctionActivityEntry{
					Sequence:  e.Sequence,
					Basket:    e.Basket,
					AuctionID: e.AuctionID,
					NoteType:  e.NoteType,
					Payload:   e.Payload,
					Timestamp: e.Timestamp,
				})
			}
			return entries, nil
		}
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, basket, auction_id, note_type, payload, timestamp
		FROM projections.auction_history
		WHERE basket = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, basketRef.String(), limit)
	if err != nil {
		return nil, qs.fail(endpoint, err)
	}
	defer rows.Close()

	var entries []AuctionActivityEntry
	for rows.Next() {
		var e AuctionActivityEntry
		if err := rows.Scan(&e.Sequence, &e.Basket, &e.AuctionID, &e.NoteType, &e.Payload, &e.Timestamp); err != nil {
			return nil, qs.fail(endpoint, err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, qs.fail(endpoint, err)
	}
	return entries, nil
}

// VerifyIntegrity checks hash chain continuity and the zero-sum journal
// invariant. Admin API.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	const endpoint = "verify_integrity"
	defer qs.observe(endpoint)()

	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT n1.sequence
		FROM basket_log.notifications n1
		LEFT JOIN basket_log.notifications n2 ON n2.sequence = n1.sequence - 1
		WHERE n2.sequence IS NOT NULL AND n1.prev_hash != n2.state_hash
		ORDER BY n1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, qs.fail(endpoint, err)
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, qs.fail(endpoint, err)
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, qs.fail(endpoint, err)
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset, SUM(balance) AS total
		FROM projections.balances
		GROUP BY asset
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, qs.fail(endpoint, err)
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var asset string
		var total int64
		if err := balanceRows.Scan(&asset, &total); err != nil {
			return nil, qs.fail(endpoint, err)
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			Asset:     asset,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, qs.fail(endpoint, err)
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

// observe records request count and latency for one endpoint; the returned
// func runs at method exit.
func (qs *QueryService) observe(endpoint string) func() {
	start := time.Now()
	return func() {
		if qs.metrics == nil {
			return
		}
		qs.metrics.QueryRequests.WithLabelValues(endpoint, "ok").Inc()
		qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func (qs *QueryService) fail(endpoint string, err error) error {
	if qs.metrics != nil {
		qs.metrics.QueryErrors.WithLabelValues(endpoint, "internal").Inc()
	}
	return err
}
