package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Output mirrors the data projection workers need. The orchestrator bridges
// from core output to this, so projections never import the engine.
type Output struct {
	Sequence  int64
	NoteType  string
	Basket    string
	AuctionID string
	Payload   []byte
	Journals  []JournalEntry
	Timestamp time.Time
}

// JournalEntry is a simplified posting for projection consumption.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	Asset         string
	Amount        int64
	Kind          int32
}

// Worker updates projection tables from committed notifications. The feed is
// non-blocking with drop; a projection that falls behind is rebuilt from the
// notification log.
type Worker struct {
	db        *sql.DB
	inputChan <-chan Output
	history   *AuctionHistory
	lastSeq   int64
	log       zerolog.Logger
}

func NewWorker(db *sql.DB, inputChan <-chan Output, history *AuctionHistory, log zerolog.Logger) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		history:   history,
		log:       log.With().Str("component", "projection_worker").Logger(),
	}
}

// Run starts the projection worker loop.
func (pw *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if pw.history != nil {
				pw.history.Record(output)
			}

			if pw.db != nil {
				if err := pw.processOutput(ctx, output); err != nil {
					// Continue: projections are eventually consistent and
					// rebuildable from the log.
					pw.log.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
				}
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *Worker) processOutput(ctx context.Context, output Output) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.Journals {
		if err := pw.updateBalance(ctx, tx, output.Sequence, j); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if isAuctionNote(output.NoteType) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.auction_history (sequence, basket, auction_id, note_type, payload, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (sequence) DO NOTHING
		`, output.Sequence, output.Basket, output.AuctionID, output.NoteType, output.Payload, output.Timestamp); err != nil {
			return fmt.Errorf("auction history: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *Worker) updateBalance(ctx context.Context, tx *sql.Tx, seq int64, j JournalEntry) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, j.DebitAccount, j.Asset, j.Amount, seq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path, asset)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, j.CreditAccount, j.Asset, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

func isAuctionNote(noteType string) bool {
	switch noteType {
	case "AuctionOpened", "AuctionBid", "AuctionClosed":
		return true
	}
	return false
}

// Rebuild truncates all projection tables and rebuilds them from the
// notification log and journal.
func Rebuild(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.auction_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		SELECT debit_account, asset, SUM(amount), MAX(sequence)
		FROM basket_log.journal
		GROUP BY debit_account, asset
	`); err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		SELECT credit_account, asset, -SUM(amount), MAX(sequence)
		FROM basket_log.journal
		GROUP BY credit_account, asset
		ON CONFLICT (account_path, asset) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`); err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.auction_history (sequence, basket, auction_id, note_type, payload, timestamp)
		SELECT sequence, basket, COALESCE(payload->>'auction_id', ''), note_type, payload, timestamp
		FROM basket_log.notifications
		WHERE note_type IN ('AuctionOpened', 'AuctionBid', 'AuctionClosed')
		ON CONFLICT (sequence) DO NOTHING
	`); err != nil {
		return fmt.Errorf("rebuild auction history: %w", err)
	}

	log.Info().Msg("projection rebuild complete")
	return nil
}
