package persistence

import (
	"MarginLedger/internal/core"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var _ core.CommandLog = (*PostgresCommandLog)(nil)

// PostgresCommandLog is the durable tier of command deduplication, backed by
// margin.processed_commands.
type PostgresCommandLog struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresCommandLog(db *sql.DB) *PostgresCommandLog {
	return &PostgresCommandLog{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// IsDuplicate checks if the command id was already recorded for kind.
func (l *PostgresCommandLog) IsDuplicate(ctx context.Context, kind, commandID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var exists int
	err := l.db.QueryRowContext(ctx, `
		SELECT 1
		FROM margin.processed_commands
		WHERE kind = $1 AND command_id = $2
		LIMIT 1`,
		kind, commandID,
	).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Record marks the command as processed. Recording twice is a no-op.
func (l *PostgresCommandLog) Record(ctx context.Context, kind, commandID string) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO margin.processed_commands (kind, command_id)
		VALUES ($1, $2)
		ON CONFLICT (kind, command_id) DO NOTHING`,
		kind, commandID,
	)
	if err != nil {
		return fmt.Errorf("insert processed command: %w", err)
	}
	return nil
}

// RecentKeys returns up to limit composite keys (kind:command_id), oldest
// first, for warming the in-memory tier after a restart.
func (l *PostgresCommandLog) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT kind || ':' || command_id
		FROM (
			SELECT kind, command_id, processed_at
			FROM margin.processed_commands
			ORDER BY processed_at DESC
			LIMIT $1
		) recent
		ORDER BY processed_at ASC`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select recent commands: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0, limit)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
