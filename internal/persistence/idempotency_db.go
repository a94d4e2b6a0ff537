package persistence

import (
	"context"
	"database/sql"
	"time"
)

// PostgresIdempotencyChecker is the cold tier of operation deduplication,
// backed by the notification log.
type PostgresIdempotencyChecker struct {
	db *sql.DB
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{db: db}
}

// IsDuplicate checks whether an operation already produced notifications.
func (pic *PostgresIdempotencyChecker) IsDuplicate(opType string, operationID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM basket_log.notifications
		WHERE operation_id = $1
		LIMIT 1
	`, operationID).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentOperationKeys returns the operation ids behind the most recent
// notifications, used to warm the LRU on restart.
func (pic *PostgresIdempotencyChecker) RecentOperationKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := pic.db.QueryContext(ctx, `
		SELECT DISTINCT operation_id
		FROM basket_log.notifications
		ORDER BY operation_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var opID string
		if err := rows.Scan(&opID); err != nil {
			return nil, err
		}
		keys = append(keys, opID)
	}
	return keys, rows.Err()
}
