package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// NotificationLogWriter batch-inserts notifications and journal entries into
// Postgres. Multi-row INSERT with ON CONFLICT DO NOTHING keeps replays
// idempotent; switch to pgx CopyFrom if insert throughput ever becomes the
// bottleneck.
type NotificationLogWriter struct {
	db *sql.DB
}

// NoteRow is a row in basket_log.notifications.
type NoteRow struct {
	Sequence    int64
	NoteType    string
	OperationID string
	Basket      string
	Payload     []byte
	StateHash   []byte
	PrevHash    []byte
	Timestamp   time.Time
}

// JournalRow is a row in basket_log.journal: one double-entry posting
// derived from a notification.
type JournalRow struct {
	JournalID     string
	BatchID       string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Asset         string
	Amount        int64
	Kind          int32
	Timestamp     int64
}

func NewNotificationLogWriter(db *sql.DB) *NotificationLogWriter {
	return &NotificationLogWriter{db: db}
}

// WriteNoteBatch inserts a batch of notifications inside the given tx.
func (w *NotificationLogWriter) WriteNoteBatch(ctx context.Context, tx *sql.Tx, notes []NoteRow) error {
	if len(notes) == 0 {
		return nil
	}

	query := `INSERT INTO basket_log.notifications
		(sequence, note_type, operation_id, basket, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(notes))
	args := make([]interface{}, 0, len(notes)*8)

	for i, n := range notes {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			n.Sequence, n.NoteType, n.OperationID, n.Basket,
			n.Payload, n.StateHash, n.PrevHash, n.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch inserts a batch of journal postings inside the given tx.
func (w *NotificationLogWriter) WriteJournalBatch(ctx context.Context, tx *sql.Tx, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO basket_log.journal
		(journal_id, batch_id, sequence, debit_account, credit_account, asset, amount, kind, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*9)

	for i, j := range journals {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.Asset, j.Amount,
			j.Kind, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
