package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"BasketLedger/internal/observability"
)

// Output mirrors core.Output after journal generation to avoid an import
// cycle. The orchestrator (cmd/basketledger) bridges core outputs into this.
type Output struct {
	NoteRow     NoteRow
	JournalRows []JournalRow
}

// Worker drains the persist channel and batch-writes to Postgres. The core
// uses blocking sends on this channel, so when the worker falls behind the
// core stalls instead of losing notifications.
type Worker struct {
	writer       *NotificationLogWriter
	db           *sql.DB
	inputChan    <-chan Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		writer:       NewNotificationLogWriter(db),
		db:           db,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run batches incoming outputs and flushes when the batch fills or the flush
// timeout expires. Blocks until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	noteBatch := make([]NoteRow, 0, w.batchSize)
	journalBatch := make([]JournalRow, 0, w.batchSize*2)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(noteBatch) > 0 {
				if err := w.flush(context.Background(), noteBatch, journalBatch); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				if len(noteBatch) > 0 {
					if err := w.flush(context.Background(), noteBatch, journalBatch); err != nil {
						w.log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			noteBatch = append(noteBatch, output.NoteRow)
			journalBatch = append(journalBatch, output.JournalRows...)

			if len(noteBatch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, noteBatch, journalBatch); err != nil {
					w.log.Error().Err(err).Msg("batch flush failed after retries")
				}
				noteBatch = noteBatch[:0]
				journalBatch = journalBatch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(noteBatch) > 0 {
				if err := w.flushWithRetry(ctx, noteBatch, journalBatch); err != nil {
					w.log.Error().Err(err).Msg("timeout flush failed after retries")
				}
				noteBatch = noteBatch[:0]
				journalBatch = journalBatch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never drops a
// batch: it retries until the write succeeds or the context is cancelled, and
// attempts one final flush on shutdown.
func (w *Worker) flushWithRetry(ctx context.Context, notes []NoteRow, journals []JournalRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("notifications", len(notes)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), notes, journals); err != nil {
					return fmt.Errorf("final flush on shutdown: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
		}

		err := w.flush(ctx, notes, journals)
		if err == nil {
			if attempt > 0 {
				w.log.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}

		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (w *Worker) flush(ctx context.Context, notes []NoteRow, journals []JournalRow) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteNoteBatch(ctx, tx, notes); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_notifications").Inc()
		}
		return err
	}
	if err := w.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_journal").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(notes)))
		w.metrics.PersistNotesWritten.Add(float64(len(notes)))
		if len(notes) > 0 {
			w.metrics.PersistLastSequence.Set(float64(notes[len(notes)-1].Sequence))
		}
	}
	return nil
}
